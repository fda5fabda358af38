package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/petroverify/internal/failure"
)

// TraceSnapshot is the run-independent part of a result: everything except
// run IDs, wall-clock times and diagnostics paths.
type TraceSnapshot struct {
	ScenarioID      string       `json:"scenario_id"`
	Passed          bool         `json:"passed"`
	FailedStepIndex *int         `json:"failed_step_index,omitempty"`
	Kind            failure.Kind `json:"kind,omitempty"`
	Trace           []TraceEvent `json:"trace"`
}

// Snapshot extracts the comparable part of r.
func Snapshot(r *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioID:      r.ScenarioID,
		Passed:          r.Passed,
		FailedStepIndex: r.FailedStepIndex,
		Kind:            r.Kind,
		Trace:           r.Trace,
	}
}

// MarshalTrace renders the snapshot of r as indented JSON.
func MarshalTrace(r *Result) ([]byte, error) {
	data, err := json.MarshalIndent(Snapshot(r), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// AssertGolden compares the result's trace against
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/... -update
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	data, err := MarshalTrace(result)
	if err != nil {
		t.Fatalf("marshal trace: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
