package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/roach88/petroverify/internal/readiness"
)

// ProbeOptions holds flags for the probe command.
type ProbeOptions struct {
	*RootOptions
	BaseURL string
}

// NewProbeCommand creates the probe command.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProbeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Wait for the target to become ready",
		Long: `Poll the health endpoint until it answers 2xx or the configured
attempts run out. Exits 1 when the target never became ready.

Example:
  petroverify probe --base-url http://localhost:3000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "override base_url")

	return cmd
}

func runProbe(opts *ProbeOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions, f)
	if err != nil {
		return err
	}
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	res := readiness.NewProber(&http.Client{}, logger).
		Probe(commandContext(cmd), cfg.HealthURL(), cfg.Readiness.Interval, cfg.Readiness.MaxAttempts)

	if res.Ready {
		if f.JSON() {
			return f.Success(res)
		}
		fmt.Fprintf(f.Writer, "✓ %s\n", res.Detail())
		return nil
	}
	if f.JSON() {
		_ = f.Failed(res, ErrCodeReadiness, res.Detail())
	} else {
		fmt.Fprintf(f.Writer, "✗ %s\n", res.Detail())
	}
	return NewExitError(ExitFailure, "target not ready")
}
