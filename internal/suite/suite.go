// Package suite runs a selection of scenarios against a live target: it
// waits for readiness, opens and authenticates one session per scenario,
// and records every result in the run ledger and the metrics.
package suite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/petroverify/internal/api"
	"github.com/roach88/petroverify/internal/auth"
	"github.com/roach88/petroverify/internal/browser"
	"github.com/roach88/petroverify/internal/browser/chrome"
	"github.com/roach88/petroverify/internal/browser/htmlpage"
	"github.com/roach88/petroverify/internal/config"
	"github.com/roach88/petroverify/internal/diagnostics"
	"github.com/roach88/petroverify/internal/failure"
	"github.com/roach88/petroverify/internal/harness"
	"github.com/roach88/petroverify/internal/metrics"
	"github.com/roach88/petroverify/internal/readiness"
	"github.com/roach88/petroverify/internal/session"
	"github.com/roach88/petroverify/internal/store"
)

// captureTimeout bounds the diagnostics capture of a failed session setup.
const captureTimeout = 10 * time.Second

// PageFactory opens a browser page for one session.
type PageFactory func(ctx context.Context) (browser.Page, error)

// Options configures a Runner.
type Options struct {
	Config config.Config
	Logger *slog.Logger

	// IDs mints batch and run ids. Defaults to UUIDv7.
	IDs harness.IDGenerator
	Now func() time.Time

	// HTTPClient serves the probe, the API client and the static driver.
	HTTPClient *http.Client

	// NewPage overrides the page driver selected by Config.Driver.
	NewPage PageFactory

	// Store and Metrics are optional sinks.
	Store   *store.Store
	Metrics *metrics.Recorder
}

// Report is the outcome of one batch.
type Report struct {
	BatchID   string            `json:"batch_id"`
	Readiness readiness.Result  `json:"readiness"`
	Results   []*harness.Result `json:"results"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Total     int               `json:"total"`

	// Message is set when the batch stopped before running every scenario.
	// Kind classifies the stop unless the caller cancelled.
	Kind    failure.Kind `json:"kind,omitempty"`
	Message string       `json:"message,omitempty"`

	// Skipped lists scenarios that never ran.
	Skipped []string `json:"skipped,omitempty"`
}

// OK reports whether every scenario ran and passed.
func (r *Report) OK() bool {
	return r.Kind == "" && r.Failed == 0 && len(r.Skipped) == 0
}

// Runner runs batches. It is not safe for concurrent use; scenarios within
// a batch run one after another.
type Runner struct {
	cfg     config.Config
	logger  *slog.Logger
	ids     harness.IDGenerator
	now     func() time.Time
	client  *http.Client
	newPage PageFactory
	store   *store.Store
	metrics *metrics.Recorder
	exec    *harness.Executor
	auth    *auth.Authenticator
}

// New creates a Runner.
func New(opts Options) *Runner {
	r := &Runner{
		cfg:     opts.Config,
		logger:  opts.Logger,
		ids:     opts.IDs,
		now:     opts.Now,
		client:  opts.HTTPClient,
		newPage: opts.NewPage,
		store:   opts.Store,
		metrics: opts.Metrics,
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.ids == nil {
		r.ids = harness.UUIDv7Generator{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.client == nil {
		r.client = &http.Client{}
	}
	if r.newPage == nil {
		r.newPage = r.defaultPage
	}
	retry := r.cfg.Retry
	r.exec = harness.NewExecutor(harness.Options{
		Logger:         r.logger,
		IDs:            r.ids,
		Now:            r.now,
		DefaultTimeout: r.cfg.StepTimeout,
		DefaultRetry:   &retry,
	})
	r.auth = auth.New(r.cfg.Gate, r.logger)
	return r
}

// Run probes the target, then runs scenarios in order. An error is
// returned only when a result could not be recorded; scenario failures are
// in the report.
func (r *Runner) Run(ctx context.Context, scenarios []*harness.Scenario) (*Report, error) {
	rep := &Report{
		BatchID: r.ids.Generate(),
		Results: []*harness.Result{},
		Total:   len(scenarios),
	}
	logger := r.logger.With("batch_id", rep.BatchID)

	rep.Readiness = readiness.NewProber(r.client, logger).
		Probe(ctx, r.cfg.HealthURL(), r.cfg.Readiness.Interval, r.cfg.Readiness.MaxAttempts)
	if r.metrics != nil {
		r.metrics.ObserveReadiness(rep.Readiness)
	}
	if !rep.Readiness.Ready {
		rep.Kind = failure.ReadinessTimeout
		rep.Message = rep.Readiness.Detail()
		rep.Skipped = ids(scenarios)
		logger.Error("target not ready", "url", rep.Readiness.URL, "attempts", rep.Readiness.Attempts)
		return rep, nil
	}

	for i, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			rep.Message = fmt.Sprintf("batch cancelled: %v", err)
			rep.Skipped = ids(scenarios[i:])
			return rep, nil
		}

		res := r.runOne(ctx, sc, logger)
		rep.Results = append(rep.Results, res)
		if res.Passed {
			rep.Passed++
		} else {
			rep.Failed++
		}

		if r.metrics != nil {
			r.metrics.ObserveResult(res)
		}
		if r.store != nil {
			if err := r.store.WriteResult(ctx, rep.BatchID, res); err != nil {
				return rep, fmt.Errorf("record %s: %w", sc.ID, err)
			}
		}

		if res.Kind == failure.AuthenticationFailure {
			rep.Kind = res.Kind
			rep.Message = res.Message
			rep.Skipped = ids(scenarios[i+1:])
			logger.Error("authentication failed, stopping batch", "scenario", sc.ID)
			break
		}
	}
	return rep, nil
}

func (r *Runner) runOne(ctx context.Context, sc *harness.Scenario, logger *slog.Logger) *harness.Result {
	startedAt := r.now()

	client, err := api.NewClient(api.Options{
		BaseURL:    r.cfg.BaseURL,
		Modules:    r.cfg.Modules,
		HTTPClient: r.client,
		Logger:     r.logger,
	})
	if err != nil {
		return r.setupFailed(ctx, sc, startedAt, &harness.ActionError{Action: "open api client", Err: err}, nil, logger)
	}

	var page browser.Page
	if sc.UI {
		page, err = r.newPage(ctx)
		if err != nil {
			return r.setupFailed(ctx, sc, startedAt, &harness.ActionError{Action: "open page", Err: err}, nil, logger)
		}
	}

	sess := session.New(sc.ID, client, page)
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Debug("session close", "scenario", sc.ID, "error", err)
		}
	}()

	// The collector watches the page from before the gate so a refused key
	// still leaves a bundle. It is released before the session closes.
	coll := diagnostics.NewCollector(diagnostics.Options{
		ScenarioID: sc.ID,
		OutputDir:  r.cfg.OutputDir,
		Bus:        sess.Events(),
		Page:       page,
		Logger:     logger,
		Now:        r.now,
	})
	defer coll.Close()

	if page != nil {
		if err := r.authenticate(ctx, sc, page); err != nil {
			return r.setupFailed(ctx, sc, startedAt, err, coll, logger)
		}
	}

	return r.exec.Run(ctx, sc, sess, coll)
}

// authenticate passes the access gate on page.
func (r *Runner) authenticate(ctx context.Context, sc *harness.Scenario, page browser.Page) error {
	outcome, err := r.auth.Authenticate(ctx, page, r.cfg.AccessKey, r.cfg.StepTimeout)
	if err != nil {
		var ae *auth.AuthenticationError
		if !errors.As(err, &ae) {
			err = &auth.AuthenticationError{Reason: "gate", Err: err}
		}
		return err
	}
	r.logger.Debug("session ready", "scenario", sc.ID, "gate", outcome)
	return nil
}

// setupFailed is the result of a scenario whose session could not be
// opened. No step ran, so the result has no step index; the diagnostics,
// when a collector exists, are filed under diagnostics.SetupStep.
func (r *Runner) setupFailed(ctx context.Context, sc *harness.Scenario, startedAt time.Time, err error, coll *diagnostics.Collector, logger *slog.Logger) *harness.Result {
	res := harness.NewResult(r.ids.Generate(), sc.ID)
	res.StartedAt = startedAt
	res.Passed = false
	res.Kind = failure.KindOf(err)
	res.Message = err.Error()
	logger.Warn("session setup failed", "scenario", sc.ID, "kind", res.Kind, "error", err)

	if coll != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
		defer cancel()
		b, cerr := coll.Capture(cctx, diagnostics.SetupStep)
		if cerr != nil {
			logger.Warn("diagnostics incomplete", "scenario", sc.ID, "error", cerr)
		}
		res.Diagnostics = b
	}
	res.FinishedAt = r.now()
	return res
}

func (r *Runner) defaultPage(ctx context.Context) (browser.Page, error) {
	switch r.cfg.Driver {
	case config.DriverChrome:
		headless := r.cfg.Headless
		return chrome.New(ctx, chrome.Options{
			BaseURL:  r.cfg.BaseURL,
			Headless: &headless,
			Logger:   r.logger,
		})
	default:
		return htmlpage.New(htmlpage.Options{
			BaseURL: r.cfg.BaseURL,
			Client:  r.pageClient(),
			Logger:  r.logger,
		})
	}
}

// pageClient gives each static page its own cookie jar while sharing the
// transport.
func (r *Runner) pageClient() *http.Client {
	return &http.Client{Transport: r.client.Transport, Timeout: r.client.Timeout}
}

func ids(scenarios []*harness.Scenario) []string {
	out := make([]string, 0, len(scenarios))
	for _, sc := range scenarios {
		out = append(out, sc.ID)
	}
	return out
}
