package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/agentbus/internal/config"
	"github.com/roach88/agentbus/internal/httpapi"
)

// EnvURL points the CLI at a remote bus instead of the local database.
const EnvURL = "AGENTBUS_URL"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	DB         string
	URL        string

	// Config is loaded in PersistentPreRunE.
	Config *config.Configuration

	// Bus overrides the backend (for testing). When nil, commands use URL
	// if set, otherwise the local database.
	Bus httpapi.Bus
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the agentbus CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentbus",
		Short: "agentbus - a shared event bus for coding agents",
		Long: `A session registry and event log shared by agent sessions on one or more machines.

Sessions register, publish events to channels (all, session:<id>, repo:<name>,
machine:<name>) and poll the log with a cursor. State lives in one SQLite file,
so any number of processes can use the bus at once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return loadConfig(opts, cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", config.DefaultPath(), "path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.URL, "url", os.Getenv(EnvURL), "bus server URL; empty uses the database directly")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewUnregisterCommand(opts))
	cmd.AddCommand(NewSessionsCommand(opts))
	cmd.AddCommand(NewChannelsCommand(opts))
	cmd.AddCommand(NewPublishCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewNotifyCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))

	return cmd
}

// loadConfig reads the config file, applies flag overrides and configures
// logging.
func loadConfig(opts *RootOptions, cmd *cobra.Command) error {
	c, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.DB != "" {
		c.DB = opts.DB
	}
	if opts.Verbose {
		c.Logging.Verbose = true
	}
	if err := c.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	setupLogging(cmd.ErrOrStderr(), c.Logging)
	opts.Config = c
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
