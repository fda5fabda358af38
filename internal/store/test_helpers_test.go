package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/petroverify/internal/failure"
	"github.com/roach88/petroverify/internal/harness"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// createTestStore opens a fresh ledger in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// passedResult builds a two-step passing run starting offset seconds
// after epoch.
func passedResult(runID, scenarioID string, offset int) *harness.Result {
	r := harness.NewResult(runID, scenarioID)
	r.StartedAt = epoch.Add(time.Duration(offset) * time.Second)
	r.FinishedAt = r.StartedAt.Add(1500 * time.Millisecond)
	r.Steps = []harness.StepResult{
		{Index: 0, Name: "list alerts", Passed: true, Attempts: 1, Duration: 200 * time.Millisecond},
		{Index: 1, Name: "audit trail shows commit", Passed: true, Attempts: 3, Duration: time.Second},
	}
	pass := true
	r.Trace = []harness.TraceEvent{
		{Type: "step_start", Step: 0, Seq: 1},
		{Type: "attempt", Step: 0, Attempt: 1, Pass: &pass, Seq: 2},
	}
	r.Vars = map[string]any{"alert_id": "alert-1"}
	return r
}

// failedResult builds a run that failed at step 1.
func failedResult(runID, scenarioID string, offset int) *harness.Result {
	r := passedResult(runID, scenarioID, offset)
	r.Steps[1].Passed = false
	r.Steps[1].Message = "assertion failed: status == 200 (after 3 attempt(s))"
	r.Fail(1, failure.AssertionFailure, r.Steps[1].Message)
	return r
}
