// Package cli implements the petroverify command line.
package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/petroverify/internal/config"
	"github.com/roach88/petroverify/internal/scenarios"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	EnvFile    string

	// LookupEnv replaces os.LookupEnv in tests.
	LookupEnv func(string) (string, bool)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "petroverify",
		Short: "End-to-end verification for the PetroVerify platform",
		Long: `Drive the PetroVerify platform through its API and pages and check
that risk, GIS and control-center behavior holds up.

Scenarios run one after another, each in its own session. Results go to a
SQLite run ledger that the report command reads back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file (.yaml, .yml or .cue)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file (default .env when present)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewProbeCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewServeFakeCommand(opts))
	cmd.AddCommand(NewGraphCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// newLogger logs to stderr; --verbose lowers the level to Debug.
func newLogger(opts *RootOptions, cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// loadConfig loads the configuration named by the global flags, writing
// any error in the configured format.
func loadConfig(opts *RootOptions, f *OutputFormatter) (config.Config, error) {
	cfg, err := config.Load(config.Sources{
		File:      opts.ConfigFile,
		EnvFile:   opts.EnvFile,
		LookupEnv: opts.LookupEnv,
	})
	if err != nil {
		code := ErrCodeGeneric
		var le *config.LoadError
		if errors.As(err, &le) {
			code = le.Code
		}
		_ = f.Error(code, err.Error(), nil)
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	f.VerboseLog("config: base_url=%s driver=%s database=%s", cfg.BaseURL, cfg.Driver, cfg.Database)
	return cfg, nil
}

// loadCatalog builds the built-in catalog plus the configured scenario
// directory.
func loadCatalog(cfg config.Config, f *OutputFormatter) (*scenarios.Catalog, error) {
	oracles := scenarios.DefaultOracles()
	if cfg.OracleFile != "" {
		o, err := scenarios.LoadOracles(cfg.OracleFile)
		if err != nil {
			return nil, f.fail(ExitCommandError, ErrCodeScenarioLoad, "failed to load oracles", err)
		}
		oracles = o
	}

	c := scenarios.Builtin(oracles, cfg.Actor)
	if cfg.ScenarioDir != "" {
		if err := c.AddDir(cfg.ScenarioDir); err != nil {
			return nil, f.fail(ExitCommandError, ErrCodeScenarioLoad, "failed to load scenarios", err)
		}
	}
	return c, nil
}
