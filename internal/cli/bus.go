package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/roach88/agentbus/internal/engine"
	"github.com/roach88/agentbus/internal/httpapi"
	"github.com/roach88/agentbus/internal/notify"
	"github.com/roach88/agentbus/internal/store"
)

// openBus returns the backend for a command and a func that releases it.
func openBus(opts *RootOptions) (httpapi.Bus, func(), error) {
	if opts.Bus != nil {
		return opts.Bus, func() {}, nil
	}

	if opts.URL != "" {
		log.Debug().Str("url", opts.URL).Msg("Using remote bus")
		return httpapi.NewClient(opts.URL), func() {}, nil
	}

	eng, st, err := openEngine(opts)
	if err != nil {
		return nil, nil, err
	}
	return eng, func() { closeStore(st) }, nil
}

// openEngine opens the configured database and builds an engine over it.
func openEngine(opts *RootOptions) (*engine.Engine, *store.Store, error) {
	c := opts.Config

	if err := c.EnsureDBDir(); err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to prepare database directory", err)
	}

	log.Debug().Str("path", c.DB).Msg("Opening database")
	st, err := store.Open(c.DB)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	logger := log.Logger
	eng := engine.New(st,
		engine.WithLogger(logger),
		engine.WithHostName(c.Engine.HostName),
		engine.WithSessionTimeout(c.Engine.SessionTimeout.Duration),
		engine.WithNotifier(notify.FromConfig(c.Notify.Enabled, c.Notify.Command, c.Notify.Icon, c.Notify.Sound, logger)),
	)
	return eng, st, nil
}

func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing database")
	}
}

// formatter returns the output formatter for a command.
func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}
