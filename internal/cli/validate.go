package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/petroverify/internal/harness"
	"github.com/roach88/petroverify/internal/scenarios"
)

// ValidationError is one problem in one scenario file.
type ValidationError struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Files     int               `json:"files"`
	Scenarios []string          `json:"scenarios"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Check the config and scenario files without running them",
		Long: `Load the configuration and every YAML scenario under the given files or
directories (default: scenario_dir) and report every problem found.
Scenario ids must not clash with each other or with built-in scenarios.

Exit codes:
  0 - Everything valid
  1 - One or more scenario files are invalid
  2 - The config could not be loaded

Examples:
  petroverify validate ./scenarios
  petroverify validate --config staging.cue`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	cfg, err := loadConfig(opts, f)
	if err != nil {
		return err
	}

	oracles := scenarios.DefaultOracles()
	if cfg.OracleFile != "" {
		if oracles, err = scenarios.LoadOracles(cfg.OracleFile); err != nil {
			return f.fail(ExitCommandError, ErrCodeScenarioLoad, "failed to load oracles", err)
		}
	}
	builtin := scenarios.Builtin(oracles, cfg.Actor)

	paths := args
	if len(paths) == 0 && cfg.ScenarioDir != "" {
		paths = []string{cfg.ScenarioDir}
	}

	files, err := scenarioFiles(paths)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeNotFound, "failed to find scenarios", err)
	}

	result := ValidationResult{Files: len(files), Scenarios: []string{}}
	seen := make(map[string]string)
	for _, p := range files {
		f.VerboseLog("Validating %s", p)
		sc, err := harness.LoadScenario(p)
		if err != nil {
			result.Errors = append(result.Errors, ValidationError{File: p, Code: ErrCodeScenarioLoad, Message: err.Error()})
			continue
		}
		if _, ok := builtin.Get(sc.ID); ok {
			dup := &harness.DuplicateScenarioError{ID: sc.ID, First: builtin.Source(sc.ID), Again: p}
			result.Errors = append(result.Errors, ValidationError{File: p, Code: ErrCodeSelection, Message: dup.Error()})
			continue
		}
		if first, ok := seen[sc.ID]; ok {
			dup := &harness.DuplicateScenarioError{ID: sc.ID, First: first, Again: p}
			result.Errors = append(result.Errors, ValidationError{File: p, Code: ErrCodeSelection, Message: dup.Error()})
			continue
		}
		seen[sc.ID] = p
		result.Scenarios = append(result.Scenarios, sc.ID)
	}
	result.Valid = len(result.Errors) == 0

	if result.Valid {
		if f.JSON() {
			return f.Success(result)
		}
		fmt.Fprintf(f.Writer, "✓ Config valid, %d scenario file(s) valid\n", result.Files)
		return nil
	}

	if f.JSON() {
		_ = f.Failed(result, result.Errors[0].Code, result.Errors[0].Message)
	} else {
		fmt.Fprintln(f.Writer, "✗ Validation failed")
		fmt.Fprintln(f.Writer)
		for _, e := range result.Errors {
			fmt.Fprintf(f.Writer, "%s\n  %s: %s\n\n", e.File, e.Code, e.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}

// scenarioFiles expands directories to the scenario files directly inside
// them. Plain files are taken as given.
func scenarioFiles(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, filepath.Clean(p))
			continue
		}
		found, err := harness.Discover(p)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}
