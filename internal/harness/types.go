package harness

import (
	"sync/atomic"
	"time"

	"github.com/roach88/petroverify/internal/diagnostics"
	"github.com/roach88/petroverify/internal/failure"
)

// Trace event types.
const (
	TraceAction  = "action"
	TraceObserve = "observe"
	TraceAssert  = "assert"
	TraceExtract = "extract"
)

// TraceEvent records one thing the executor did.
//
// Seq comes from a logical clock that restarts for every run, so traces of
// identical runs are byte-identical and can be compared against golden files.
type TraceEvent struct {
	Type    string `json:"type"`
	Step    int    `json:"step"`
	Attempt int    `json:"attempt,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Pass    *bool  `json:"pass,omitempty"`
	Seq     int64  `json:"seq"`
}

// StepResult summarizes one executed step.
type StepResult struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message,omitempty"`
}

// Result is the outcome of one scenario run (the ScenarioResult).
type Result struct {
	RunID      string `json:"run_id"`
	ScenarioID string `json:"scenario_id"`

	// Passed is true only when every step passed.
	Passed bool `json:"passed"`

	// FailedStepIndex is set when a step failed. Steps after it never ran.
	// It stays nil when the run failed without a step failing: an invalid
	// scenario, a session that could not be opened, or a cancellation
	// between steps.
	FailedStepIndex *int         `json:"failed_step_index,omitempty"`
	Kind            failure.Kind `json:"kind,omitempty"`
	Message         string       `json:"message,omitempty"`

	// Diagnostics is captured for the failing step before Run returns.
	Diagnostics *diagnostics.Bundle `json:"diagnostics,omitempty"`

	Steps []StepResult   `json:"steps"`
	Trace []TraceEvent   `json:"trace"`
	Vars  map[string]any `json:"vars,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewResult creates a result that passes until a step fails.
func NewResult(runID, scenarioID string) *Result {
	return &Result{
		RunID:      runID,
		ScenarioID: scenarioID,
		Passed:     true,
		Steps:      []StepResult{},
		Trace:      []TraceEvent{},
	}
}

// Fail marks the result failed at step.
func (r *Result) Fail(step int, kind failure.Kind, msg string) {
	r.Passed = false
	r.FailedStepIndex = &step
	r.Kind = kind
	r.Message = msg
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Attempts is the total number of assertion evaluations in the run.
func (r *Result) Attempts() int {
	n := 0
	for _, s := range r.Steps {
		n += s.Attempts
	}
	return n
}

// seqClock is the logical clock stamping trace events.
type seqClock struct {
	seq atomic.Int64
}

func (c *seqClock) next() int64 {
	return c.seq.Add(1)
}

// tracer appends trace events to a result.
type tracer struct {
	result *Result
	clock  seqClock
}

func (t *tracer) add(typ string, step, attempt int, detail string, pass *bool) {
	t.result.Trace = append(t.result.Trace, TraceEvent{
		Type:    typ,
		Step:    step,
		Attempt: attempt,
		Detail:  detail,
		Pass:    pass,
		Seq:     t.clock.next(),
	})
}

func boolPtr(b bool) *bool {
	return &b
}
