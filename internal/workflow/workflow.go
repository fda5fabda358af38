// Package workflow models the remediation workflow of the control center:
// an open alert is drafted into a workflow, simulated to obtain an impact
// analysis and finally committed.
//
// The four states only move forward, one at a time:
//
//	OPEN -> DRAFT -> SIMULATED -> COMMITTED
//
// Any other transition fails with an *InvalidTransitionError and leaves the
// instance unchanged. COMMITTED is terminal. Every transition appends an
// AuditEntry to the instance's append-only audit log.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/roach88/petroverify/internal/failure"
)

// State is a workflow state.
type State string

const (
	Open      State = "OPEN"
	Draft     State = "DRAFT"
	Simulated State = "SIMULATED"
	Committed State = "COMMITTED"
)

// Trigger names a transition.
type Trigger string

const (
	TriggerDraft    Trigger = "draft"
	TriggerSimulate Trigger = "simulate"
	TriggerCommit   Trigger = "commit"
)

// Audit actions recorded by the transitions.
const (
	ActionCreate   = "CREATE_WORKFLOW"
	ActionSimulate = "SIMULATE_WORKFLOW"
	ActionCommit   = "COMMIT_WORKFLOW"
)

// Alert is the control-center alert a workflow remediates.
type Alert struct {
	ID       string `json:"id" yaml:"id"`
	AssetID  string `json:"asset_id,omitempty" yaml:"asset_id,omitempty"`
	Title    string `json:"title,omitempty" yaml:"title,omitempty"`
	Severity string `json:"severity,omitempty" yaml:"severity,omitempty"`
	Status   string `json:"status" yaml:"status"`
}

// IsOpen reports whether the alert can be remediated. The control center
// lists unresolved alerts as ACTIVE; both spellings are accepted.
func (a Alert) IsOpen() bool {
	switch strings.ToUpper(a.Status) {
	case "OPEN", "ACTIVE":
		return true
	}
	return false
}

// Impact is the result of simulating a workflow.
type Impact struct {
	Summary        string   `json:"summary"`
	AffectedAssets []string `json:"affected_assets,omitempty"`
	RiskDelta      float64  `json:"risk_delta,omitempty"`
}

// InvalidTransitionError is returned when a trigger is not permitted in the
// current state or its precondition does not hold.
type InvalidTransitionError struct {
	WorkflowID string
	From       State
	Trigger    Trigger
	Reason     string
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	var b strings.Builder
	b.WriteString("invalid transition: cannot ")
	b.WriteString(string(e.Trigger))
	if e.WorkflowID != "" {
		fmt.Fprintf(&b, " workflow %s", e.WorkflowID)
	}
	fmt.Fprintf(&b, " from %s", e.From)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

// FailureKind implements failure.Kinded.
func (e *InvalidTransitionError) FailureKind() failure.Kind {
	return failure.InvalidTransition
}

// IsInvalidTransition reports whether err is an *InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}

// Option configures an Instance.
type Option func(*Instance)

// WithClock sets the clock stamping audit entries.
func WithClock(now func() time.Time) Option {
	return func(i *Instance) { i.now = now }
}

// WithLogger sets the logger transitions are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Instance) { i.logger = logger }
}

// Instance is one workflow bound to one alert. It is safe for concurrent use.
type Instance struct {
	mu     sync.Mutex
	alert  Alert
	id     string
	impact *Impact
	audit  *AuditLog
	sm     *stateless.StateMachine
	now    func() time.Time
	logger *slog.Logger
}

// New creates a workflow instance in OPEN bound to alert.
func New(alert Alert, opts ...Option) *Instance {
	i := &Instance{
		alert: alert,
		audit: &AuditLog{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	i.sm = i.machine()
	return i
}

// machine wires the transition table. Entry actions run with i.mu held.
func (i *Instance) machine() *stateless.StateMachine {
	sm := stateless.NewStateMachine(Open)

	sm.Configure(Open).
		Permit(TriggerDraft, Draft, i.alertOpen)

	sm.Configure(Draft).
		OnEntryFrom(TriggerDraft, func(_ context.Context, args ...any) error {
			i.id = args[0].(string)
			i.record(ActionCreate, args[1].(string), fmt.Sprintf("workflow %s drafted for alert %s", i.id, i.alert.ID))
			return nil
		}).
		Permit(TriggerSimulate, Simulated)

	sm.Configure(Simulated).
		OnEntryFrom(TriggerSimulate, func(_ context.Context, args ...any) error {
			impact := args[0].(Impact)
			i.impact = &impact
			i.record(ActionSimulate, args[1].(string), impact.Summary)
			return nil
		}).
		Permit(TriggerCommit, Committed, i.impactPresent)

	sm.Configure(Committed).
		OnEntryFrom(TriggerCommit, func(_ context.Context, args ...any) error {
			i.record(ActionCommit, args[0].(string), fmt.Sprintf("workflow %s committed", i.id))
			return nil
		})

	sm.OnUnhandledTrigger(func(_ context.Context, state stateless.State, trigger stateless.Trigger, unmetGuards []string) error {
		e := &InvalidTransitionError{WorkflowID: i.id, From: state.(State), Trigger: trigger.(Trigger), Reason: "not permitted"}
		if len(unmetGuards) > 0 {
			switch e.Trigger {
			case TriggerDraft:
				e.Reason = fmt.Sprintf("alert %s is %s, not open", i.alert.ID, i.alert.Status)
			case TriggerCommit:
				e.Reason = "no impact analysis"
			}
		}
		return e
	})

	sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		i.logger.Debug("workflow transition", "workflow", i.id, "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
	})
	return sm
}

func (i *Instance) alertOpen(context.Context, ...any) bool {
	return i.alert.IsOpen()
}

func (i *Instance) impactPresent(context.Context, ...any) bool {
	return i.impact != nil
}

func (i *Instance) record(action, actor, summary string) {
	i.audit.Append(AuditEntry{
		WorkflowID: i.id,
		Action:     action,
		Actor:      actor,
		Timestamp:  i.now(),
		Summary:    summary,
	})
}

// Draft moves OPEN to DRAFT. id is the workflow identifier assigned by the
// control center.
func (i *Instance) Draft(ctx context.Context, id, actor string) error {
	if id == "" {
		return errors.New("workflow id is required")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sm.FireCtx(ctx, TriggerDraft, id, actor)
}

// Simulate moves DRAFT to SIMULATED and stores the impact analysis.
func (i *Instance) Simulate(ctx context.Context, impact Impact, actor string) error {
	if strings.TrimSpace(impact.Summary) == "" {
		return errors.New("impact summary is required")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sm.FireCtx(ctx, TriggerSimulate, impact, actor)
}

// Commit moves SIMULATED to COMMITTED and records exactly one
// COMMIT_WORKFLOW audit entry. The instance accepts no triggers afterwards.
func (i *Instance) Commit(ctx context.Context, actor string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sm.FireCtx(ctx, TriggerCommit, actor)
}

// State returns the current state.
func (i *Instance) State() State {
	return i.sm.MustState().(State)
}

// ID returns the workflow identifier, empty until drafted.
func (i *Instance) ID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.id
}

// Alert returns the alert the workflow is bound to.
func (i *Instance) Alert() Alert {
	return i.alert
}

// Impact returns the impact analysis once simulated.
func (i *Instance) Impact() (Impact, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.impact == nil {
		return Impact{}, false
	}
	return *i.impact, true
}

// Audit returns a copy of the audit log.
func (i *Instance) Audit() []AuditEntry {
	return i.audit.Entries()
}

// Permitted lists the triggers accepted in the current state.
func (i *Instance) Permitted(ctx context.Context) []Trigger {
	i.mu.Lock()
	defer i.mu.Unlock()
	ts, err := i.sm.PermittedTriggersCtx(ctx)
	if err != nil {
		return nil
	}
	out := make([]Trigger, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.(Trigger))
	}
	return out
}

// Graph renders the transition table in DOT format.
func Graph() string {
	return New(Alert{Status: "OPEN"}).sm.ToGraph()
}
