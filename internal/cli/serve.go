package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/petroverify/internal/sutfake"
)

// ServeFakeOptions holds flags for the serve-fake command.
type ServeFakeOptions struct {
	*RootOptions
	Addr string
	Fake sutfake.Options
}

// NewServeFakeCommand creates the serve-fake command.
func NewServeFakeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeFakeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve-fake",
		Short: "Serve the built-in fake application",
		Long: `Serve an in-memory imitation of the PetroVerify platform: the risk, GIS
and control-center APIs plus the gated pages. Useful for trying scenarios
without a deployment.

The lag flags make eventually consistent reads visible, so retry policies
can be exercised.

Examples:
  petroverify serve-fake --addr 127.0.0.1:3000
  petroverify serve-fake --access-key PetroV0 --feed-lag 2 --audit-lag 1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveFake(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:3000", "listen address")
	cmd.Flags().StringVar(&opts.Fake.AccessKey, "access-key", "", "gate the pages with this key")
	cmd.Flags().IntVar(&opts.Fake.WarmupRequests, "warmup", 0, "answer the first n API requests with 503")
	cmd.Flags().IntVar(&opts.Fake.FeedLag, "feed-lag", 0, "hide feed updates from the next n reads")
	cmd.Flags().IntVar(&opts.Fake.AuditLag, "audit-lag", 0, "hide commits from the next n audit reads")
	cmd.Flags().IntVar(&opts.Fake.WarningScore, "warning-score", 0, "score of a WARNING assessment (default 60)")
	cmd.Flags().BoolVar(&opts.Fake.AllowCommitFromDraft, "allow-commit-from-draft", false, "commit workflows that were never simulated")

	return cmd
}

func serveFake(opts *ServeFakeOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd)

	fake := opts.Fake
	fake.Logger = logger
	srv, err := startFake(fake, opts.Addr, logger)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "failed to start fake", err)
	}
	defer srv.Close()

	if f.JSON() {
		if err := f.Success(map[string]string{"url": srv.URL}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(f.Writer, "fake application listening on %s\n", srv.URL)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-srv.done:
		if err != nil {
			return f.fail(ExitCommandError, ErrCodeGeneric, "fake stopped", err)
		}
	}
	return nil
}

// fakeServer is a running fake application.
type fakeServer struct {
	URL    string
	srv    *http.Server
	done   chan error
	logger *slog.Logger
}

func startFake(opts sutfake.Options, addr string, logger *slog.Logger) (*fakeServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	fs := &fakeServer{
		URL:    "http://" + ln.Addr().String(),
		srv:    &http.Server{Handler: sutfake.New(opts).Handler(), ReadHeaderTimeout: 10 * time.Second},
		done:   make(chan error, 1),
		logger: logger,
	}
	go func() {
		err := fs.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		fs.done <- err
	}()
	return fs, nil
}

// Close shuts the server down, waiting briefly for in-flight requests.
func (s *fakeServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("fake shutdown", "error", err)
	}
}
