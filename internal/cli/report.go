package cli

import (
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/petroverify/internal/diagnostics"
	"github.com/roach88/petroverify/internal/harness"
	"github.com/roach88/petroverify/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	Batch    string
	All      bool
	Run      string
	Scenario string
	Failed   bool
	Limit    int
}

// BatchReport is the JSON form of a run listing.
type BatchReport struct {
	BatchID string             `json:"batch_id,omitempty"`
	Runs    []store.RunSummary `json:"runs"`
	Passed  int                `json:"passed"`
	Failed  int                `json:"failed"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show recorded results from the run ledger",
		Long: `Read results back from the run ledger. By default the most recent batch
is listed; --run shows one run in full with its steps and diagnostics.

Examples:
  petroverify report
  petroverify report --all --scenario risk-watchlist-feed --limit 20
  petroverify report --failed --format json
  petroverify report --run 01925d2e-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "override database path")
	cmd.Flags().StringVar(&opts.Batch, "batch", "", "batch id (default: latest)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "list runs from every batch")
	cmd.Flags().StringVar(&opts.Run, "run", "", "show one run in full")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "only runs of this scenario")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "only failed runs")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "keep the n most recent runs")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions, f)
	if err != nil {
		return err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()
	ctx := commandContext(cmd)

	if opts.Run != "" {
		res, err := st.ReadRun(ctx, opts.Run)
		if errors.Is(err, store.ErrNotFound) {
			return f.fail(ExitCommandError, ErrCodeNotFound, "unknown run", err)
		}
		if err != nil {
			return f.fail(ExitCommandError, ErrCodeStore, "failed to read run", err)
		}
		if f.JSON() {
			return f.Success(res)
		}
		return writeRunDetail(f, res)
	}

	filter := store.Filter{
		BatchID:    opts.Batch,
		ScenarioID: opts.Scenario,
		FailedOnly: opts.Failed,
		Limit:      opts.Limit,
	}
	if filter.BatchID == "" && !opts.All {
		latest, err := st.LatestBatch(ctx)
		if errors.Is(err, store.ErrNotFound) {
			if f.JSON() {
				return f.Success(BatchReport{Runs: []store.RunSummary{}})
			}
			fmt.Fprintln(f.Writer, "No runs recorded.")
			return nil
		}
		if err != nil {
			return f.fail(ExitCommandError, ErrCodeStore, "failed to find latest batch", err)
		}
		filter.BatchID = latest
	}

	runs, err := st.ListRuns(ctx, filter)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to list runs", err)
	}
	rep := BatchReport{BatchID: filter.BatchID, Runs: runs}
	for _, r := range runs {
		if r.Passed {
			rep.Passed++
		} else {
			rep.Failed++
		}
	}

	if f.JSON() {
		return f.Success(rep)
	}

	if rep.BatchID != "" {
		fmt.Fprintf(f.Writer, "batch %s\n\n", rep.BatchID)
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESULT\tSCENARIO\tRUN\tSTARTED\tDURATION\tATTEMPTS\tFAILURE")
	for _, r := range runs {
		mark, why := "✓", ""
		if !r.Passed {
			mark = "✗"
			why = string(r.Kind)
			if r.FailedStepIndex != nil {
				why = fmt.Sprintf("%s at step %d", r.Kind, *r.FailedStepIndex)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n", mark, r.ScenarioID, r.RunID,
			r.StartedAt.Format("2006-01-02 15:04:05"), r.Duration(), r.Attempts, why)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(f.Writer, "\n%d passed, %d failed\n", rep.Passed, rep.Failed)
	return nil
}

func writeRunDetail(f *OutputFormatter, res *harness.Result) error {
	w := f.Writer
	status := "passed"
	if !res.Passed {
		status = "failed"
	}
	fmt.Fprintf(w, "run %s\nscenario %s: %s in %s\n", res.RunID, res.ScenarioID, status, res.Duration())
	if !res.Passed {
		fmt.Fprintf(w, "failure: [%s] %s\n", res.Kind, res.Message)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tNAME\tRESULT\tATTEMPTS\tDURATION")
	for _, s := range res.Steps {
		mark := "✓"
		if !s.Passed {
			mark = "✗"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", s.Index, s.Name, mark, s.Attempts, s.Duration)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if d := res.Diagnostics; d != nil {
		where := fmt.Sprintf("step %d", d.StepIndex)
		if d.StepIndex == diagnostics.SetupStep {
			where = "setup"
		}
		fmt.Fprintf(w, "\ndiagnostics for %s: %d console, %d page error(s), %d network failure(s)\n",
			where, len(d.ConsoleEvents), len(d.PageErrors), len(d.NetworkFailures))
		if d.ScreenshotRef != "" {
			fmt.Fprintf(w, "  screenshot: %s\n", d.ScreenshotRef)
		}
		if d.EventLogRef != "" {
			fmt.Fprintf(w, "  events: %s\n", d.EventLogRef)
		}
	}
	if len(res.Vars) > 0 && f.Verbose {
		fmt.Fprintln(w, "\nvars:")
		for _, k := range sortedKeys(res.Vars) {
			fmt.Fprintf(w, "  %s = %v\n", k, res.Vars[k])
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
