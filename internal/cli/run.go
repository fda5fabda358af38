package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/petroverify/internal/config"
	"github.com/roach88/petroverify/internal/failure"
	"github.com/roach88/petroverify/internal/harness"
	"github.com/roach88/petroverify/internal/metrics"
	"github.com/roach88/petroverify/internal/store"
	"github.com/roach88/petroverify/internal/suite"
	"github.com/roach88/petroverify/internal/sutfake"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Tags        []string
	BaseURL     string
	Driver      string
	Database    string
	NoStore     bool
	OutputDir   string
	MetricsFile string

	// Fake serves the built-in fake application and runs against it.
	Fake bool

	// IDs overrides batch and run id generation (for testing).
	IDs harness.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [scenario-id...]",
		Short: "Run verification scenarios",
		Long: `Wait for the target to become ready, then run the selected scenarios.

Scenario ids may be glob patterns. With no ids every scenario runs;
--tag narrows the selection to scenarios carrying every given tag.

Exit codes:
  0 - All scenarios passed
  1 - A scenario failed, the target never became ready, or the access
      gate refused the key
  2 - Command error (bad config, unknown scenario, ledger error)

Examples:
  petroverify run
  petroverify run 'risk-*' --tag api
  petroverify run --fake --format json
  petroverify run --config staging.cue --driver chrome`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Tags, "tag", "t", nil, "only scenarios with every tag")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "override base_url")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "override driver (html|chrome)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "override database path")
	cmd.Flags().BoolVar(&opts.NoStore, "no-store", false, "do not record results in the ledger")
	cmd.Flags().StringVarP(&opts.OutputDir, "output", "o", "", "override output_dir for diagnostics")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	cmd.Flags().BoolVar(&opts.Fake, "fake", false, "run against the built-in fake application")

	return cmd
}

func runScenarios(opts *RunOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions, f)
	if err != nil {
		return err
	}
	applyRunFlags(&cfg, opts)
	if err := cfg.Validate(); err != nil {
		return f.fail(ExitCommandError, config.ErrCodeInvalid, "invalid flags", err)
	}

	catalog, err := loadCatalog(cfg, f)
	if err != nil {
		return err
	}
	selected, err := catalog.Select(args, opts.Tags)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeSelection, "invalid selection", err)
	}
	if len(selected) == 0 {
		return f.fail(ExitCommandError, ErrCodeSelection, "no scenario matches the selection", nil)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Fake {
		fake, err := startFake(sutfake.Options{AccessKey: cfg.AccessKey, Logger: logger}, "127.0.0.1:0", logger)
		if err != nil {
			return f.fail(ExitCommandError, ErrCodeGeneric, "failed to start fake", err)
		}
		defer fake.Close()
		cfg.BaseURL = fake.URL
		f.VerboseLog("fake application on %s", fake.URL)
	}

	var st *store.Store
	if !opts.NoStore {
		st, err = store.Open(cfg.Database)
		if err != nil {
			return f.fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("error closing database", "error", err)
			}
		}()
	}
	rec := metrics.New()

	runner := suite.New(suite.Options{
		Config:  cfg,
		Logger:  logger,
		IDs:     opts.IDs,
		Store:   st,
		Metrics: rec,
	})
	rep, err := runner.Run(ctx, selected)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to record results", err)
	}

	if cfg.MetricsFile != "" {
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("metrics not written", "path", cfg.MetricsFile, "error", err)
		}
	}

	return outputReport(f, rep)
}

func applyRunFlags(cfg *config.Config, opts *RunOptions) {
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Driver != "" {
		cfg.Driver = opts.Driver
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.OutputDir != "" {
		cfg.OutputDir = opts.OutputDir
	}
	if opts.MetricsFile != "" {
		cfg.MetricsFile = opts.MetricsFile
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// outputReport prints the batch and maps its outcome to an exit code.
func outputReport(f *OutputFormatter, rep *suite.Report) error {
	code, message := reportOutcome(rep)

	if f.JSON() {
		if code == "" {
			if err := f.Success(rep); err != nil {
				return err
			}
			return nil
		}
		if err := f.Failed(rep, code, message); err != nil {
			return err
		}
		return NewExitError(ExitFailure, message)
	}

	w := f.Writer
	if rep.Readiness.Ready {
		f.VerboseLog("%s", rep.Readiness.Detail())
	}
	for _, res := range rep.Results {
		writeResultLine(w, res)
	}
	for _, id := range rep.Skipped {
		fmt.Fprintf(w, "- %s (skipped)\n", id)
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d skipped (batch %s)\n", rep.Passed, rep.Failed, len(rep.Skipped), rep.BatchID)

	if code == "" {
		return nil
	}
	_ = f.Failed(nil, code, message)
	return NewExitError(ExitFailure, message)
}

func reportOutcome(rep *suite.Report) (code, message string) {
	switch {
	case rep.Kind == failure.ReadinessTimeout:
		return ErrCodeReadiness, rep.Message
	case rep.Kind == failure.AuthenticationFailure:
		return ErrCodeAuthentication, rep.Message
	case rep.Failed > 0:
		return ErrCodeScenarioFailed, fmt.Sprintf("%d of %d scenario(s) failed", rep.Failed, rep.Total)
	case len(rep.Skipped) > 0:
		return ErrCodeGeneric, rep.Message
	}
	return "", ""
}

func writeResultLine(w io.Writer, res *harness.Result) {
	if res.Passed {
		fmt.Fprintf(w, "✓ %s (%d step(s), %d attempt(s), %s)\n", res.ScenarioID, len(res.Steps), res.Attempts(), res.Duration())
		return
	}
	where := "setup"
	if res.FailedStepIndex != nil {
		where = fmt.Sprintf("step %d", *res.FailedStepIndex)
		if i := *res.FailedStepIndex; i < len(res.Steps) {
			where += " " + res.Steps[i].Name
		}
	}
	fmt.Fprintf(w, "✗ %s: %s [%s]\n", res.ScenarioID, where, res.Kind)
	fmt.Fprintf(w, "  %s\n", res.Message)
	if d := res.Diagnostics; d != nil {
		if d.ScreenshotRef != "" {
			fmt.Fprintf(w, "  screenshot: %s\n", d.ScreenshotRef)
		}
		if d.EventLogRef != "" {
			fmt.Fprintf(w, "  events: %s\n", d.EventLogRef)
		}
	}
}
