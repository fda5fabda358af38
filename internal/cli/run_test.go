package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/petroverify/internal/suite"
	"github.com/roach88/petroverify/internal/sutfake"
)

func runArgs(t *testing.T, extra ...string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	db := filepath.Join(dir, "ledger.db")
	args := append([]string{"run", "--db", db, "--output", filepath.Join(dir, "out")}, extra...)
	return db, args
}

func TestRun_FakePasses(t *testing.T) {
	_, args := runArgs(t, "--fake", "gis-basin-layer", "control-center-smoke")

	res := execute(t, fastReadiness, args...)
	require.NoError(t, res.err, res.stdout)
	assert.Contains(t, res.stdout, "✓ gis-basin-layer")
	assert.Contains(t, res.stdout, "✓ control-center-smoke")
	assert.Contains(t, res.stdout, "2 passed, 0 failed, 0 skipped")
}

func TestRun_JSONReportAndLedger(t *testing.T) {
	db, args := runArgs(t, "--fake", "--tag", "gis", "--format", "json")

	res := execute(t, fastReadiness, args...)
	require.NoError(t, res.err, res.stdout)

	status, data, _ := envelope(t, res.stdout)
	assert.Equal(t, "ok", status)
	var rep suite.Report
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, 2, rep.Passed)
	assert.True(t, rep.Readiness.Ready)

	res = execute(t, nil, "report", "--db", db, "--format", "json")
	require.NoError(t, res.err, res.stdout)
	_, data, _ = envelope(t, res.stdout)
	var br BatchReport
	require.NoError(t, json.Unmarshal(data, &br))
	assert.Equal(t, rep.BatchID, br.BatchID)
	assert.Len(t, br.Runs, 2)
	assert.Equal(t, 2, br.Passed)
}

func TestRun_ScenarioFailureExitsOne(t *testing.T) {
	srv := startFakeServer(t, sutfake.Options{WarningScore: 55})
	db, args := runArgs(t, "--base-url", srv.URL, "risk-assessment-oracle")

	res := execute(t, fastReadiness, args...)
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.stdout, "✗ risk-assessment-oracle: step 0 create assessment [ASSERTION_FAILURE]")
	assert.Contains(t, res.stdout, "FAILED [E303]: 1 of 1 scenario(s) failed")

	res = execute(t, nil, "report", "--db", db, "--failed")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "ASSERTION_FAILURE at step 0")
	assert.Contains(t, res.stdout, "0 passed, 1 failed")
}

func TestRun_NotReadyExitsOne(t *testing.T) {
	srv := startFakeServer(t, sutfake.Options{})
	url := srv.URL
	srv.Close()
	_, args := runArgs(t, "--base-url", url, "--format", "json", "gis-*")

	res := execute(t, fastReadiness, args...)
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))

	status, data, cliErr := envelope(t, res.stdout)
	assert.Equal(t, "failed", status)
	require.NotNil(t, cliErr)
	assert.Equal(t, ErrCodeReadiness, cliErr.Code)
	var rep suite.Report
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, []string{"gis-basin-layer", "gis-module-smoke"}, rep.Skipped)
}

func TestRun_UnknownScenario(t *testing.T) {
	_, args := runArgs(t, "--fake", "no-such-scenario")

	res := execute(t, fastReadiness, args...)
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stdout, "Error [E102]")
	assert.Contains(t, res.stdout, `no scenario matches "no-such-scenario"`)
}

func TestRun_BadDriverFlag(t *testing.T) {
	_, args := runArgs(t, "--driver", "safari")

	res := execute(t, fastReadiness, args...)
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stdout, "Error [E202]")
}

func TestRun_NoStore(t *testing.T) {
	db, args := runArgs(t, "--fake", "--no-store", "gis-basin-layer")

	res := execute(t, fastReadiness, args...)
	require.NoError(t, res.err, res.stdout)
	_, err := os.Stat(db)
	assert.True(t, os.IsNotExist(err))
}

func TestRun_MetricsFile(t *testing.T) {
	metricsPath := filepath.Join(t.TempDir(), "petroverify.prom")
	_, args := runArgs(t, "--fake", "--metrics-file", metricsPath, "gis-basin-layer")

	res := execute(t, fastReadiness, args...)
	require.NoError(t, res.err, res.stdout)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `petroverify_scenarios_total{result="passed"} 1`)
}

func TestRun_WrongAccessKey(t *testing.T) {
	srv := startFakeServer(t, sutfake.Options{AccessKey: sutfake.DefaultAccessKey})
	env := map[string]string{
		"PETROVERIFY_READINESS_INTERVAL": "10ms",
		"PETROVERIFY_READINESS_ATTEMPTS": "3",
		"PETROVERIFY_STEP_TIMEOUT":       "300ms",
		"PETROVERIFY_ACCESS_KEY":         "wrong",
	}
	_, args := runArgs(t, "--base-url", srv.URL, "control-center-smoke", "risk-module-smoke")

	res := execute(t, env, args...)
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.stdout, "✗ control-center-smoke: setup [AUTHENTICATION_FAILURE]")
	assert.Contains(t, res.stdout, "- risk-module-smoke (skipped)")
	assert.Contains(t, res.stdout, "FAILED [E302]")
}
