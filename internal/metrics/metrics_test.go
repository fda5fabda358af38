package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/petroverify/internal/failure"
	"github.com/roach88/petroverify/internal/harness"
	"github.com/roach88/petroverify/internal/readiness"
)

func result(id string, passed bool, attempts ...int) *harness.Result {
	r := harness.NewResult("run-"+id, id)
	r.StartedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.FinishedAt = r.StartedAt.Add(2 * time.Second)
	for i, n := range attempts {
		r.Steps = append(r.Steps, harness.StepResult{Index: i, Passed: true, Attempts: n})
	}
	if !passed {
		r.Fail(len(attempts)-1, failure.AssertionFailure, "assertion failed")
	}
	return r
}

func TestObserveResult(t *testing.T) {
	rec := New()

	rec.ObserveResult(result("risk-watchlist-feed", true, 1, 1, 1, 4))
	rec.ObserveResult(result("gis-basin-layer", false, 1, 2))
	rec.ObserveResult(result("gis-basin-layer", true, 1))

	assert.Equal(t, 2.0, promtest.ToFloat64(rec.Scenarios.WithLabelValues(ResultPassed)))
	assert.Equal(t, 1.0, promtest.ToFloat64(rec.Scenarios.WithLabelValues(ResultFailed)))
	assert.Equal(t, 1.0, promtest.ToFloat64(rec.Failures.WithLabelValues(string(failure.AssertionFailure))))
	assert.Equal(t, 7.0, promtest.ToFloat64(rec.StepAttempts.WithLabelValues("risk-watchlist-feed")))
	assert.Equal(t, 4.0, promtest.ToFloat64(rec.StepAttempts.WithLabelValues("gis-basin-layer")))
	assert.Equal(t, 2, promtest.CollectAndCount(rec.ScenarioDuration))
}

func TestObserveReadiness(t *testing.T) {
	rec := New()

	rec.ObserveReadiness(readiness.Result{Ready: true, Attempts: 4})
	assert.Equal(t, 4.0, promtest.ToFloat64(rec.ReadinessAttempts))
	assert.Equal(t, 1.0, promtest.ToFloat64(rec.ReadinessReady))

	rec.ObserveReadiness(readiness.Result{Ready: false, Attempts: 60})
	assert.Equal(t, 0.0, promtest.ToFloat64(rec.ReadinessReady))
}

func TestWriteTextfile(t *testing.T) {
	rec := New()
	rec.ObserveResult(result("control-center-remediation", true, 1, 3))

	path := filepath.Join(t.TempDir(), "petroverify.prom")
	require.NoError(t, rec.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `petroverify_scenarios_total{result="passed"} 1`)
	assert.Contains(t, out, `petroverify_step_attempts_total{scenario="control-center-remediation"} 4`)
	assert.Contains(t, out, "petroverify_scenario_duration_seconds_bucket")
}

func TestWriteTextfile_BadDir(t *testing.T) {
	rec := New()
	err := rec.WriteTextfile(filepath.Join(t.TempDir(), "missing", "m.prom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write metrics file")
}
