// Package readiness waits for the system under test to answer HTTP requests
// before any scenario is allowed to run.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/petroverify/internal/poll"
)

// DefaultInterval is used when Probe is called with a non-positive interval.
const DefaultInterval = time.Second

// Result is the outcome of one Probe call.
//
// A target that never became ready is reported with Ready=false; it is an
// expected outcome, not an error.
type Result struct {
	URL              string        `json:"url"`
	Ready            bool          `json:"ready"`
	Attempts         int           `json:"attempts"`
	ConnectionErrors int           `json:"connection_errors"`
	HTTPErrors       int           `json:"http_errors"`
	LastStatus       int           `json:"last_status,omitempty"`
	LastError        string        `json:"last_error,omitempty"`
	Elapsed          time.Duration `json:"elapsed"`
}

// Detail summarizes the result for logs and CLI output.
func (r Result) Detail() string {
	elapsed := r.Elapsed.Round(time.Millisecond)
	if r.Ready {
		return fmt.Sprintf("%s ready after %d attempt(s) in %s", r.URL, r.Attempts, elapsed)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s not ready after %d attempt(s) in %s", r.URL, r.Attempts, elapsed)
	fmt.Fprintf(&b, " (%d connection error(s), %d HTTP error(s))", r.ConnectionErrors, r.HTTPErrors)
	switch {
	case r.LastError != "":
		fmt.Fprintf(&b, "; last error: %s", r.LastError)
	case r.LastStatus != 0:
		fmt.Fprintf(&b, "; last status: %d", r.LastStatus)
	}
	return b.String()
}

// statusError marks a response that arrived but was not 2xx.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

// Prober polls a health URL.
type Prober struct {
	client *http.Client
	logger *slog.Logger
}

// NewProber creates a prober. A nil client uses a fresh http.Client; a nil
// logger discards output.
func NewProber(client *http.Client, logger *slog.Logger) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Prober{client: client, logger: logger}
}

// Probe issues GET requests to url every interval until one answers 2xx or
// maxAttempts intervals have elapsed.
//
// The deadline is interval*maxAttempts from the first attempt. Probe returns
// as soon as a request succeeds, and otherwise returns at the deadline without
// probing again. Each request is itself bounded by interval.
func (p *Prober) Probe(ctx context.Context, url string, interval time.Duration, maxAttempts int) Result {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	res := Result{URL: url}
	start := time.Now()
	policy := poll.Policy{Interval: interval, Timeout: interval * time.Duration(maxAttempts)}

	_, err := poll.Until(ctx, policy, func(ctx context.Context) (int, error) {
		res.Attempts++
		status, err := p.get(ctx, url, interval)

		var se *statusError
		switch {
		case err == nil:
			res.LastStatus = status
			return status, nil
		case errors.As(err, &se):
			res.HTTPErrors++
			res.LastStatus = se.status
			res.LastError = ""
		default:
			res.ConnectionErrors++
			res.LastError = err.Error()
		}
		p.logger.Debug("target not ready", "url", url, "attempt", res.Attempts, "error", err)
		return status, err
	})
	res.Elapsed = time.Since(start)

	if err == nil {
		res.Ready = true
		p.logger.Info("target ready", "url", url, "attempts", res.Attempts, "elapsed", res.Elapsed)
		return res
	}
	if !poll.IsTimeout(err) {
		// cancelled by the caller
		res.LastError = err.Error()
	}
	p.logger.Warn("target not ready", "detail", res.Detail())
	return res
}

func (p *Prober) get(ctx context.Context, url string, limit time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, poll.Stop(fmt.Errorf("invalid probe url: %w", err))
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &statusError{status: resp.StatusCode}
	}
	return resp.StatusCode, nil
}
