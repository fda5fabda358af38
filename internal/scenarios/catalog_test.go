package scenarios

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/petroverify/internal/api"
	"github.com/roach88/petroverify/internal/auth"
	"github.com/roach88/petroverify/internal/browser/htmlpage"
	"github.com/roach88/petroverify/internal/failure"
	"github.com/roach88/petroverify/internal/harness"
	"github.com/roach88/petroverify/internal/session"
	"github.com/roach88/petroverify/internal/sutfake"
	"github.com/roach88/petroverify/internal/testutil"
)

func newSession(t *testing.T, opts sutfake.Options, ui bool) *session.Session {
	t.Helper()
	srv := httptest.NewServer(sutfake.New(opts).Handler())
	t.Cleanup(srv.Close)

	client, err := api.NewClient(api.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	if !ui {
		s := session.New("api", client, nil)
		t.Cleanup(func() { s.Close() })
		return s
	}

	page, err := htmlpage.New(htmlpage.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = auth.New(auth.DefaultGate(), nil).Authenticate(context.Background(), page, opts.AccessKey, 5*time.Second)
	require.NoError(t, err)
	s := session.New("ui", client, page)
	t.Cleanup(func() { s.Close() })
	return s
}

func run(t *testing.T, sc *harness.Scenario, opts sutfake.Options) *harness.Result {
	t.Helper()
	clock := testutil.NewDeterministicClock()
	exec := harness.NewExecutor(harness.Options{
		IDs:            testutil.NewSequentialIDs("run"),
		Now:            clock.Now,
		DefaultTimeout: 10 * time.Second,
	})
	return exec.Run(context.Background(), sc, newSession(t, opts, sc.UI), nil)
}

func TestBuiltin_AllPassAgainstFake(t *testing.T) {
	c := Builtin(DefaultOracles(), "qa-bot")
	require.Len(t, c.All(), 12)

	for _, sc := range c.All() {
		t.Run(sc.ID, func(t *testing.T) {
			res := run(t, sc, sutfake.Options{AccessKey: sutfake.DefaultAccessKey, FeedLag: 2, AuditLag: 1})
			assert.True(t, res.Passed, "step %v: %s", res.FailedStepIndex, res.Message)
		})
	}
}

func TestAssessmentOracle_DetectsScoreDrift(t *testing.T) {
	res := run(t, AssessmentScenario(DefaultOracles()), sutfake.Options{WarningScore: 55})

	require.False(t, res.Passed)
	require.NotNil(t, res.FailedStepIndex)
	assert.Equal(t, 0, *res.FailedStepIndex)
	assert.Equal(t, failure.AssertionFailure, res.Kind)
	assert.Contains(t, res.Message, "data.score == 60")
}

func TestWatchlistFeed_ExtractsJurisdictionByCode(t *testing.T) {
	res := run(t, WatchlistFeed(), sutfake.Options{})

	require.True(t, res.Passed, res.Message)
	assert.Equal(t, "j-us-tx", res.Vars["jurisdiction_id"])
	assert.Equal(t, "wl-1", res.Vars["watchlist_id"])
	assert.Equal(t, "reg-1", res.Vars["regulation_id"])
}

func TestControlCenterCoreAPI_ExtractsWell(t *testing.T) {
	res := run(t, ControlCenterCoreAPI(), sutfake.Options{})

	require.True(t, res.Passed, res.Message)
	assert.Equal(t, "well-101", res.Vars["asset_id"])
}

func TestOracles(t *testing.T) {
	o := DefaultOracles()
	assert.Equal(t, 60, o.Assessment.ExpectedScore)
	assert.Equal(t, "WARNING", o.Assessment.Status)
	assert.Equal(t, []string{"US-TX"}, o.Jurisdictions.RequiredCodes)

	_, err := ParseOracles([]byte("assessment: {asset_id: a, status: WARNING, expected_scor: 60}\n"))
	assert.ErrorContains(t, err, "failed to parse YAML")

	_, err = ParseOracles([]byte("assessment: {asset_id: a, status: WARNING, expected_score: 160}\n"))
	assert.ErrorContains(t, err, "out of range")

	_, err = LoadOracles("testdata/missing.yaml")
	assert.ErrorContains(t, err, "failed to read oracle file")
}

func TestCatalog_Select(t *testing.T) {
	c := Builtin(DefaultOracles(), "qa-bot")

	tests := []struct {
		name string
		ids  []string
		tags []string
		want []string
		err  string
	}{
		{name: "by id", ids: []string{"gis-basin-layer"}, want: []string{"gis-basin-layer"}},
		{name: "glob", ids: []string{"risk-*"}, tags: []string{"api"}, want: []string{
			"risk-regulation-versioning", "risk-watchlist-feed", "risk-assessment-oracle",
		}},
		{name: "api only", ids: []string{"control-center-*"}, tags: []string{"api"}, want: []string{
			"control-center-core-api", "control-center-remediation", "control-center-commit-requires-simulation",
		}},
		{name: "tags only", tags: []string{"ui", "control-center"}, want: []string{
			"control-center-remediation-ui", "control-center-smoke",
		}},
		{name: "unknown id", ids: []string{"nope"}, err: `no scenario matches "nope"`},
		{name: "bad pattern", ids: []string{"["}, err: "invalid scenario pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Select(tt.ids, tt.tags)
			if tt.err != "" {
				assert.ErrorContains(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			var ids []string
			for _, sc := range got {
				ids = append(ids, sc.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestCatalog_AddDir(t *testing.T) {
	c := Builtin(DefaultOracles(), "qa-bot")
	require.NoError(t, c.AddDir("testdata/extra"))

	sc, ok := c.Get("gis-layers-listed")
	require.True(t, ok)
	assert.Equal(t, "testdata/extra/gis-layers.yaml", c.Source(sc.ID))
	assert.Equal(t, builtinSource, c.Source("gis-basin-layer"))

	res := run(t, sc, sutfake.Options{})
	assert.True(t, res.Passed, res.Message)

	err := c.AddDir("testdata/clash")
	var dup *harness.DuplicateScenarioError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "gis-basin-layer", dup.ID)
	assert.Equal(t, builtinSource, dup.First)
}

func TestCatalog_Tags(t *testing.T) {
	c := Builtin(DefaultOracles(), "qa-bot")
	assert.Equal(t, []string{"api", "control-center", "gis", "risk", "smoke", "ui", "workflow"}, c.Tags())
}
