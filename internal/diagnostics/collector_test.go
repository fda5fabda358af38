package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/petroverify/internal/browser"
	"github.com/roach88/petroverify/internal/browser/browsertest"
)

var fixedNow = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestCollector_CaptureSplitsEventsAndWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	page := browsertest.New("<html><body><h1>GIS &amp; Asset Intelligence</h1></body></html>")
	c := NewCollector(Options{ScenarioID: "gis-module-smoke", OutputDir: dir, Bus: page.Events(), Page: page, Now: fixedNow})
	defer c.Close()

	bus := page.Events()
	bus.Publish(browser.Event{Kind: browser.EventConsole, Level: "warning", Text: "deprecated"})
	bus.Publish(browser.Event{Kind: browser.EventPageError, Text: "ReferenceError: map is not defined"})
	bus.Publish(browser.Event{Kind: browser.EventRequestFailed, Text: "net::ERR_FAILED", URL: "http://sut/tiles/1.png"})

	b, err := c.Capture(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, "gis-module-smoke", b.ScenarioID)
	assert.Equal(t, 2, b.StepIndex)
	assert.Len(t, b.ConsoleEvents, 1)
	assert.Len(t, b.PageErrors, 1)
	assert.Len(t, b.NetworkFailures, 1)
	assert.Equal(t, filepath.Join(dir, "gis-module-smoke-step-2.html"), b.ScreenshotRef)
	assert.Equal(t, filepath.Join(dir, "gis-module-smoke-step-2.events.json"), b.EventLogRef)
	assert.Equal(t, fixedNow(), b.CapturedAt)

	data, err := os.ReadFile(b.EventLogRef)
	require.NoError(t, err)
	var logged map[string]any
	require.NoError(t, json.Unmarshal(data, &logged))
	assert.Equal(t, "gis-module-smoke", logged["scenario_id"])
	assert.Len(t, logged["page_errors"], 1)
	assert.FileExists(t, b.ScreenshotRef)
}

func TestCollector_AtMostOneBundlePerStep(t *testing.T) {
	page := browsertest.New("<html></html>")
	c := NewCollector(Options{ScenarioID: "s", OutputDir: t.TempDir(), Bus: page.Events(), Page: page})
	defer c.Close()

	first, err := c.Capture(context.Background(), 0)
	require.NoError(t, err)
	page.Events().Publish(browser.Event{Kind: browser.EventPageError, Text: "late"})
	second, err := c.Capture(context.Background(), 0)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Empty(t, second.PageErrors)
	assert.Len(t, c.Bundles(), 1)
}

func TestCollector_ScreenshotFailureStillReturnsBundle(t *testing.T) {
	page := browsertest.New("<html></html>")
	page.ScreenshotErr = errors.New("tab crashed")
	c := NewCollector(Options{ScenarioID: "s", OutputDir: t.TempDir(), Bus: page.Events(), Page: page})
	defer c.Close()

	b, err := c.Capture(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tab crashed")
	require.NotNil(t, b)
	assert.Empty(t, b.ScreenshotRef)
	assert.NotEmpty(t, b.EventLogRef)
}

func TestCollector_InMemoryWithoutPage(t *testing.T) {
	bus := browser.NewEventBus()
	c := NewCollector(Options{ScenarioID: "api-only", Bus: bus})

	bus.Publish(browser.Event{Kind: browser.EventRequestFailed, Text: "connection refused"})
	b, err := c.Capture(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, b.NetworkFailures, 1)
	assert.Empty(t, b.ScreenshotRef)
	assert.Empty(t, b.EventLogRef)

	c.Close()
	c.Close()
	assert.Equal(t, 0, bus.Active())
	bus.Publish(browser.Event{Kind: browser.EventConsole, Text: "after close"})
	assert.Len(t, c.Events(), 1)
}

func TestCollector_DropsOldestBeyondLimit(t *testing.T) {
	bus := browser.NewEventBus()
	c := NewCollector(Options{ScenarioID: "s", Bus: bus, MaxEvents: 2})
	defer c.Close()

	for _, txt := range []string{"a", "b", "c"} {
		bus.Publish(browser.Event{Kind: browser.EventConsole, Text: txt})
	}
	evs := c.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, "b", evs[0].Text)

	b, err := c.Capture(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Dropped)
}

func TestName(t *testing.T) {
	assert.Equal(t, "risk-watchlist-feed-step-3", Name("risk-watchlist-feed", 3))
	assert.Equal(t, "a-b-step-0", Name("a/b", 0))
	assert.Equal(t, "scenario-step-1", Name("", 1))
	assert.Equal(t, "control-center-smoke-setup", Name("control-center-smoke", SetupStep))
}
