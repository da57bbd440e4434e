package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/roach88/agentbus/internal/httpapi"
	"github.com/roach88/agentbus/internal/telemetry"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Host string
	Port int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the bus over HTTP",
		Long: `Serve the bus over HTTP.

The server opens the configured SQLite database (creating it if needed) and
exposes every bus operation under /v1, plus /healthz and /metrics. Other
machines reach it with --url or AGENTBUS_URL. Authentication is expected in
front of the server.

Example:
  agentbus serve
  agentbus serve --host 0.0.0.0 --port 9000 --db /tmp/bus.db --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "listen port (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	c := opts.Config
	if opts.Host != "" {
		c.Server.Host = opts.Host
	}
	if opts.Port != 0 {
		c.Server.Port = opts.Port
	}
	if err := c.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	telemetry.Initialize(c.Prometheus.Enabled)

	eng, st, err := openEngine(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeStore(st)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info().
		Str("db", c.DB).
		Str("host", eng.HostName()).
		Dur("session_timeout", eng.SessionTimeout()).
		Msg("Bus starting")
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", c.Addr())

	srv := httpapi.NewServer(c.Addr(), eng, log.Logger)
	if err := srv.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	log.Info().Msg("Bus stopped gracefully")
	return nil
}
