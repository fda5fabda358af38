// Package auth satisfies the optional access-key gate that guards the system
// under test.
//
// The gate is not a tested feature: absence of the gate is a normal outcome
// (the session is already authenticated), presence of a gate that cannot be
// satisfied is fatal to the run.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/petroverify/internal/browser"
	"github.com/roach88/petroverify/internal/failure"
	"github.com/roach88/petroverify/internal/poll"
)

// Outcome is the result of a successful Authenticate call.
type Outcome string

const (
	// Authenticated means the gate was present and the credential was
	// accepted.
	Authenticated Outcome = "AUTHENTICATED"

	// NoGatePresent means no gate appeared within the probe timeout.
	NoGatePresent Outcome = "NO_GATE_PRESENT"
)

// GateConfig describes how to recognise and satisfy the gate.
type GateConfig struct {
	// EntryPath is loaded before probing. Empty probes the current page.
	EntryPath string `yaml:"entry_path" json:"entry_path"`

	// PromptText is the visible text that marks the gate.
	PromptText string `yaml:"prompt_text" json:"prompt_text"`

	InputLocator  browser.Locator `yaml:"input" json:"input"`
	SubmitLocator browser.Locator `yaml:"submit" json:"submit"`

	// PostAuthMarker must be visible once authenticated. Zero means the
	// disappearance of the gate is enough.
	PostAuthMarker browser.Locator `yaml:"post_auth_marker,omitempty" json:"post_auth_marker,omitempty"`

	// ProbeTimeout bounds the search for the gate.
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`

	// PollInterval is the delay between page snapshots.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// DefaultGate returns the markers of the access-key challenge.
func DefaultGate() GateConfig {
	return GateConfig{
		EntryPath:     "/",
		PromptText:    "Access Key",
		InputLocator:  browser.CSS(`input[type="password"]`),
		SubmitLocator: browser.Text("Authenticate"),
		ProbeTimeout:  3 * time.Second,
		PollInterval:  100 * time.Millisecond,
	}
}

// AuthenticationError reports a gate that could not be satisfied.
type AuthenticationError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

// Unwrap returns the underlying cause.
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// FailureKind implements failure.Kinded.
func (e *AuthenticationError) FailureKind() failure.Kind {
	return failure.AuthenticationFailure
}

// Authenticator detects and satisfies the gate on a page.
type Authenticator struct {
	gate   GateConfig
	logger *slog.Logger
}

// New creates an Authenticator. Zero fields of gate take DefaultGate values.
func New(gate GateConfig, logger *slog.Logger) *Authenticator {
	def := DefaultGate()
	if gate.PromptText == "" {
		gate.PromptText = def.PromptText
	}
	if gate.InputLocator.IsZero() {
		gate.InputLocator = def.InputLocator
	}
	if gate.SubmitLocator.IsZero() {
		gate.SubmitLocator = def.SubmitLocator
	}
	if gate.ProbeTimeout <= 0 {
		gate.ProbeTimeout = def.ProbeTimeout
	}
	if gate.PollInterval <= 0 {
		gate.PollInterval = def.PollInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Authenticator{gate: gate, logger: logger}
}

// Gate returns the effective gate configuration.
func (a *Authenticator) Gate() GateConfig {
	return a.gate
}

// Authenticate submits credential through the gate if one is shown.
//
// The gate is searched for at most ProbeTimeout; not finding it returns
// NoGatePresent. Once submitted, the gate must disappear (and the post-auth
// marker appear) within timeout, otherwise an *AuthenticationError is
// returned.
func (a *Authenticator) Authenticate(ctx context.Context, page browser.Page, credential string, timeout time.Duration) (Outcome, error) {
	if a.gate.EntryPath != "" {
		if err := page.Navigate(ctx, a.gate.EntryPath); err != nil {
			return "", &AuthenticationError{Reason: "entry page could not be loaded", Err: err}
		}
	}

	// 1. Short bounded probe for the gate
	_, err := poll.Until(ctx, poll.Fixed(a.gate.PollInterval, a.gate.ProbeTimeout), func(ctx context.Context) (bool, error) {
		return a.gatePresent(ctx, page)
	})
	if err != nil {
		if poll.IsTimeout(err) {
			a.logger.Debug("no access gate", "probe_timeout", a.gate.ProbeTimeout)
			return NoGatePresent, nil
		}
		return "", &AuthenticationError{Reason: "gate probe aborted", Err: err}
	}

	// 2. Submit the credential
	a.logger.Info("access gate detected, submitting credential")
	if err := page.Fill(ctx, a.gate.InputLocator, credential); err != nil {
		return "", &AuthenticationError{Reason: "credential input unusable", Err: err}
	}
	if err := page.Click(ctx, a.gate.SubmitLocator); err != nil {
		return "", &AuthenticationError{Reason: "submit control unusable", Err: err}
	}

	// 3. Wait for the post-auth state
	if timeout <= 0 {
		timeout = a.gate.ProbeTimeout
	}
	_, err = poll.Until(ctx, poll.Fixed(a.gate.PollInterval, timeout), func(ctx context.Context) (bool, error) {
		return a.authenticated(ctx, page)
	})
	if err != nil {
		return "", &AuthenticationError{Reason: fmt.Sprintf("post-authentication state not reached within %s", timeout), Err: err}
	}
	a.logger.Info("authenticated")
	return Authenticated, nil
}

var errNoGate = errors.New("gate not shown")

func (a *Authenticator) gatePresent(ctx context.Context, page browser.Page) (bool, error) {
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	present, err := a.shown(snap)
	if err != nil {
		return false, poll.Stop(err)
	}
	if !present {
		return false, errNoGate
	}
	return true, nil
}

func (a *Authenticator) authenticated(ctx context.Context, page browser.Page) (bool, error) {
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	present, err := a.shown(snap)
	if err != nil {
		return false, poll.Stop(err)
	}
	if present {
		return false, errors.New("gate still shown")
	}
	if !a.gate.PostAuthMarker.IsZero() {
		n, err := snap.CountVisible(a.gate.PostAuthMarker)
		if err != nil {
			return false, poll.Stop(err)
		}
		if n == 0 {
			return false, fmt.Errorf("marker %s not visible", a.gate.PostAuthMarker)
		}
	}
	return true, nil
}

// shown reports whether the prompt text and the credential input are both
// visible.
func (a *Authenticator) shown(snap *browser.Snapshot) (bool, error) {
	prompt, err := snap.CountVisible(browser.Text(a.gate.PromptText))
	if err != nil {
		return false, err
	}
	if prompt == 0 {
		return false, nil
	}
	input, err := snap.CountVisible(a.gate.InputLocator)
	if err != nil {
		return false, err
	}
	return input > 0, nil
}
