// Package diagnostics buffers the events of a driven session and turns them
// into an evidence bundle when a step fails.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/roach88/petroverify/internal/browser"
)

// DefaultMaxEvents bounds the event buffer; older events are dropped first.
const DefaultMaxEvents = 1000

// SetupStep is the step index of a bundle captured while the session was
// being opened, before any step ran.
const SetupStep = -1

// Bundle is the evidence captured for one failing step.
type Bundle struct {
	ScenarioID      string          `json:"scenario_id"`
	StepIndex       int             `json:"step_index"`
	ConsoleEvents   []browser.Event `json:"console_events"`
	PageErrors      []browser.Event `json:"page_errors"`
	NetworkFailures []browser.Event `json:"network_failures"`
	ScreenshotRef   string          `json:"screenshot_ref,omitempty"`
	EventLogRef     string          `json:"event_log_ref,omitempty"`
	Dropped         int             `json:"dropped,omitempty"`
	CapturedAt      time.Time       `json:"captured_at"`
}

// Options configures a Collector.
type Options struct {
	ScenarioID string

	// OutputDir receives event logs and screenshots. Empty keeps bundles in
	// memory only.
	OutputDir string

	// Bus is the session event bus to observe.
	Bus *browser.EventBus

	// Page takes screenshots; nil for API-only sessions.
	Page browser.Page

	Logger    *slog.Logger
	MaxEvents int
	Now       func() time.Time
}

// Collector observes one session for the lifetime of one scenario run.
type Collector struct {
	scenarioID string
	outDir     string
	page       browser.Page
	logger     *slog.Logger
	limit      int
	now        func() time.Time

	mu       sync.Mutex
	sub      *browser.Subscription
	events   []browser.Event
	dropped  int
	bundles  map[int]*Bundle
	captures sync.Mutex
}

// NewCollector subscribes to opts.Bus immediately.
func NewCollector(opts Options) *Collector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	limit := opts.MaxEvents
	if limit <= 0 {
		limit = DefaultMaxEvents
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Collector{
		scenarioID: opts.ScenarioID,
		outDir:     opts.OutputDir,
		page:       opts.Page,
		logger:     logger,
		limit:      limit,
		now:        now,
		bundles:    make(map[int]*Bundle),
	}
	if opts.Bus != nil {
		c.sub = opts.Bus.Subscribe(c.record, browser.EventConsole, browser.EventPageError, browser.EventRequestFailed)
	}
	return c
}

func (c *Collector) record(ev browser.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) >= c.limit {
		c.events = c.events[1:]
		c.dropped++
	}
	c.events = append(c.events, ev)
}

// Events returns a copy of the buffered events.
func (c *Collector) Events() []browser.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]browser.Event(nil), c.events...)
}

// Capture snapshots the buffered events and a screenshot for the failing
// step. A second call for the same step returns the first bundle. The
// returned bundle is never nil; err reports artifacts that could not be
// written.
func (c *Collector) Capture(ctx context.Context, step int) (*Bundle, error) {
	c.captures.Lock()
	defer c.captures.Unlock()

	c.mu.Lock()
	if b, ok := c.bundles[step]; ok {
		c.mu.Unlock()
		return b, nil
	}
	events := append([]browser.Event(nil), c.events...)
	dropped := c.dropped
	c.mu.Unlock()

	b := &Bundle{
		ScenarioID:      c.scenarioID,
		StepIndex:       step,
		ConsoleEvents:   []browser.Event{},
		PageErrors:      []browser.Event{},
		NetworkFailures: []browser.Event{},
		Dropped:         dropped,
		CapturedAt:      c.now(),
	}
	for _, ev := range events {
		switch ev.Kind {
		case browser.EventConsole:
			b.ConsoleEvents = append(b.ConsoleEvents, ev)
		case browser.EventPageError:
			b.PageErrors = append(b.PageErrors, ev)
		case browser.EventRequestFailed:
			b.NetworkFailures = append(b.NetworkFailures, ev)
		}
	}

	var errs []error
	if c.outDir != "" {
		if err := os.MkdirAll(c.outDir, 0755); err != nil {
			errs = append(errs, fmt.Errorf("create output dir: %w", err))
		} else {
			stem := filepath.Join(c.outDir, Name(c.scenarioID, step))
			if c.page != nil {
				ref, err := c.page.Screenshot(ctx, stem)
				if err != nil {
					errs = append(errs, fmt.Errorf("screenshot: %w", err))
				} else {
					b.ScreenshotRef = ref
				}
			}
			if err := writeJSON(stem+".events.json", b); err != nil {
				errs = append(errs, fmt.Errorf("event log: %w", err))
			} else {
				b.EventLogRef = stem + ".events.json"
			}
		}
	}

	c.mu.Lock()
	c.bundles[step] = b
	c.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		c.logger.Warn("diagnostics incomplete", "scenario", c.scenarioID, "step", step, "error", err)
	} else {
		c.logger.Debug("diagnostics captured", "scenario", c.scenarioID, "step", step,
			"console", len(b.ConsoleEvents), "page_errors", len(b.PageErrors), "network", len(b.NetworkFailures))
	}
	return b, err
}

// Bundles returns the captured bundles ordered by step.
func (c *Collector) Bundles() []*Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Bundle, 0, len(c.bundles))
	for _, b := range c.bundles {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out
}

// Close releases the event subscription. It is safe to call more than once.
func (c *Collector) Close() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	sub.Release()
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Name is the deterministic artifact stem for a scenario step.
func Name(scenarioID string, step int) string {
	id := unsafeChars.ReplaceAllString(scenarioID, "-")
	if id == "" {
		id = "scenario"
	}
	if step == SetupStep {
		return id + "-setup"
	}
	return fmt.Sprintf("%s-step-%d", id, step)
}

func writeJSON(path string, b *Bundle) error {
	// the event log itself does not reference its own path
	data, err := json.MarshalIndent(struct {
		ScenarioID      string          `json:"scenario_id"`
		StepIndex       int             `json:"step_index"`
		ConsoleEvents   []browser.Event `json:"console_events"`
		PageErrors      []browser.Event `json:"page_errors"`
		NetworkFailures []browser.Event `json:"network_failures"`
		ScreenshotRef   string          `json:"screenshot_ref,omitempty"`
		Dropped         int             `json:"dropped,omitempty"`
		CapturedAt      time.Time       `json:"captured_at"`
	}{b.ScenarioID, b.StepIndex, b.ConsoleEvents, b.PageErrors, b.NetworkFailures, b.ScreenshotRef, b.Dropped, b.CapturedAt}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
