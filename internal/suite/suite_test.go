package suite

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/petroverify/internal/config"
	"github.com/roach88/petroverify/internal/diagnostics"
	"github.com/roach88/petroverify/internal/failure"
	"github.com/roach88/petroverify/internal/harness"
	"github.com/roach88/petroverify/internal/metrics"
	"github.com/roach88/petroverify/internal/scenarios"
	"github.com/roach88/petroverify/internal/store"
	"github.com/roach88/petroverify/internal/sutfake"
	"github.com/roach88/petroverify/internal/testutil"
)

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.AccessKey = sutfake.DefaultAccessKey
	cfg.Readiness.Interval = 10 * time.Millisecond
	cfg.Readiness.MaxAttempts = 5
	cfg.StepTimeout = 5 * time.Second
	cfg.OutputDir = t.TempDir()
	return cfg
}

func startFake(t *testing.T, opts sutfake.Options) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(sutfake.New(opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func pick(t *testing.T, c *scenarios.Catalog, ids ...string) []*harness.Scenario {
	t.Helper()
	out, err := c.Select(ids, nil)
	require.NoError(t, err)
	return out
}

func newRunner(cfg config.Config, st *store.Store, rec *metrics.Recorder) *Runner {
	clock := testutil.NewDeterministicClock()
	return New(Options{
		Config:  cfg,
		IDs:     testutil.NewSequentialIDs("id"),
		Now:     clock.Now,
		Store:   st,
		Metrics: rec,
	})
}

func TestRun_BuiltinCatalogPasses(t *testing.T) {
	srv := startFake(t, sutfake.Options{AccessKey: sutfake.DefaultAccessKey, WarmupRequests: 2, FeedLag: 1, AuditLag: 1})
	st := openStore(t)
	rec := metrics.New()
	c := scenarios.Builtin(scenarios.DefaultOracles(), "qa-bot")

	rep, err := newRunner(testConfig(t, srv.URL), st, rec).Run(context.Background(), c.All())
	require.NoError(t, err)

	for _, res := range rep.Results {
		assert.True(t, res.Passed, "%s: %s", res.ScenarioID, res.Message)
	}
	assert.True(t, rep.OK())
	assert.Equal(t, 12, rep.Total)
	assert.Equal(t, 12, rep.Passed)
	assert.True(t, rep.Readiness.Ready)
	assert.Equal(t, 3, rep.Readiness.Attempts)

	runs, err := st.ListRuns(context.Background(), store.Filter{BatchID: rep.BatchID})
	require.NoError(t, err)
	assert.Len(t, runs, 12)

	assert.Equal(t, 12.0, promtest.ToFloat64(rec.Scenarios.WithLabelValues(metrics.ResultPassed)))
	assert.Equal(t, 3.0, promtest.ToFloat64(rec.ReadinessAttempts))
}

func TestRun_NotReadySkipsEverything(t *testing.T) {
	srv := startFake(t, sutfake.Options{WarmupRequests: 100})
	st := openStore(t)
	c := scenarios.Builtin(scenarios.DefaultOracles(), "qa-bot")
	selected := pick(t, c, "gis-*")

	rep, err := newRunner(testConfig(t, srv.URL), st, nil).Run(context.Background(), selected)
	require.NoError(t, err)

	assert.False(t, rep.OK())
	assert.Equal(t, failure.ReadinessTimeout, rep.Kind)
	assert.Contains(t, rep.Message, "not ready after")
	assert.Empty(t, rep.Results)
	assert.Equal(t, []string{"gis-basin-layer", "gis-module-smoke"}, rep.Skipped)

	runs, err := st.ListRuns(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun_WrongAccessKeyStopsBatch(t *testing.T) {
	srv := startFake(t, sutfake.Options{AccessKey: sutfake.DefaultAccessKey})
	cfg := testConfig(t, srv.URL)
	cfg.AccessKey = "not-the-key"
	cfg.StepTimeout = 300 * time.Millisecond
	c := scenarios.Builtin(scenarios.DefaultOracles(), "qa-bot")
	selected := pick(t, c, "gis-basin-layer", "control-center-smoke", "risk-module-smoke")

	rep, err := newRunner(cfg, nil, nil).Run(context.Background(), selected)
	require.NoError(t, err)

	require.Len(t, rep.Results, 2)
	assert.True(t, rep.Results[0].Passed)

	authFail := rep.Results[1]
	assert.False(t, authFail.Passed)
	assert.Nil(t, authFail.FailedStepIndex)
	assert.Equal(t, failure.AuthenticationFailure, authFail.Kind)
	assert.Empty(t, authFail.Steps)

	assert.Equal(t, failure.AuthenticationFailure, rep.Kind)
	assert.Equal(t, []string{"risk-module-smoke"}, rep.Skipped)
}

func TestRun_AuthFailureCapturesDiagnostics(t *testing.T) {
	srv := startFake(t, sutfake.Options{AccessKey: sutfake.DefaultAccessKey})
	st := openStore(t)
	cfg := testConfig(t, srv.URL)
	cfg.AccessKey = "not-the-key"
	cfg.StepTimeout = 300 * time.Millisecond
	c := scenarios.Builtin(scenarios.DefaultOracles(), "qa-bot")

	rep, err := newRunner(cfg, st, nil).Run(context.Background(), pick(t, c, "control-center-smoke"))
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)

	res := rep.Results[0]
	assert.Equal(t, failure.AuthenticationFailure, res.Kind)
	assert.Nil(t, res.FailedStepIndex)
	require.NotNil(t, res.Diagnostics)
	assert.Equal(t, diagnostics.SetupStep, res.Diagnostics.StepIndex)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "control-center-smoke-setup.html"), res.Diagnostics.ScreenshotRef)
	require.NotEmpty(t, res.Diagnostics.ConsoleEvents)
	assert.Contains(t, res.Diagnostics.ConsoleEvents[0].Text, "401")

	dump, err := os.ReadFile(res.Diagnostics.ScreenshotRef)
	require.NoError(t, err)
	assert.Contains(t, string(dump), "Access Key", "captured while the gate was still shown")

	got, err := st.ReadRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.NotNil(t, got.Diagnostics)
	assert.Equal(t, diagnostics.SetupStep, got.Diagnostics.StepIndex)
}

func TestRun_FailureRecordsDiagnostics(t *testing.T) {
	srv := startFake(t, sutfake.Options{WarningScore: 55})
	st := openStore(t)
	c := scenarios.Builtin(scenarios.DefaultOracles(), "qa-bot")

	rep, err := newRunner(testConfig(t, srv.URL), st, nil).Run(context.Background(), pick(t, c, "risk-assessment-oracle"))
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, 1, rep.Failed)
	assert.Empty(t, rep.Kind)

	res := rep.Results[0]
	require.NotNil(t, res.FailedStepIndex)
	assert.Equal(t, 0, *res.FailedStepIndex)

	got, err := st.ReadRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, failure.AssertionFailure, got.Kind)
	require.NotNil(t, got.Diagnostics)
	assert.Equal(t, "risk-assessment-oracle", got.Diagnostics.ScenarioID)
}

func TestRun_CancelledContext(t *testing.T) {
	srv := startFake(t, sutfake.Options{})
	c := scenarios.Builtin(scenarios.DefaultOracles(), "qa-bot")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := newRunner(testConfig(t, srv.URL), nil, nil).Run(ctx, pick(t, c, "gis-basin-layer"))
	require.NoError(t, err)

	assert.False(t, rep.OK())
	assert.Empty(t, rep.Results)
	assert.Equal(t, []string{"gis-basin-layer"}, rep.Skipped)
}
