package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/agentbus/internal/engine"
)

// RegisterOptions holds flags for the register command.
type RegisterOptions struct {
	*RootOptions
	Name     string
	ClientID string
	Repo     string
	PID      int
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a session",
		Long: `Register a session for the current directory.

With --client-id, registering again from the same machine resumes the same
session and returns its saved cursor. With --pid, the session is removed as
soon as that process exits.

Example:
  agentbus register --name auth-refactor --client-id $SESSION_ID --pid $PPID`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "session name (default: directory name)")
	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "client identifier for deduplication")
	cmd.Flags().StringVar(&opts.Repo, "repo", "", "repo name (default: derived from the directory)")
	cmd.Flags().IntVar(&opts.PID, "pid", 0, "process to watch for liveness")

	return cmd
}

func runRegister(opts *RegisterOptions, cmd *cobra.Command) error {
	cwd, err := os.Getwd()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to get working directory", err)
	}
	name := opts.Name
	if name == "" {
		name = filepath.Base(cwd)
	}
	var token string
	if opts.PID > 0 {
		token = strconv.Itoa(opts.PID)
	}

	bus, done, err := openBus(opts.RootOptions)
	if err != nil {
		return err
	}
	defer done()

	res, err := bus.Register(cmd.Context(), engine.RegisterRequest{
		Name:          name,
		Cwd:           cwd,
		Repo:          opts.Repo,
		ClientID:      opts.ClientID,
		LivenessToken: token,
	})
	if err != nil {
		return busError("register failed", err)
	}

	return formatter(opts.RootOptions, cmd).Success(res, func(w io.Writer) {
		verb := "Registered"
		if res.Resumed {
			verb = "Resumed"
		}
		fmt.Fprintf(w, "%s as: %s\n", verb, res.DisplayID)
		if res.SessionID != res.DisplayID {
			fmt.Fprintf(w, "Session ID: %s\n", res.SessionID)
		}
		fmt.Fprintf(w, "Repo: %s, machine: %s\n", res.Repo, res.Machine)
		if res.Cursor != nil {
			fmt.Fprintf(w, "Cursor: %d\n", *res.Cursor)
		}
		fmt.Fprintf(w, "Active sessions: %d\n", res.ActiveSessions)
	})
}

// UnregisterOptions holds flags for the unregister command.
type UnregisterOptions struct {
	*RootOptions
	SessionID string
	ClientID  string
}

// NewUnregisterCommand creates the unregister command.
func NewUnregisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UnregisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "unregister",
		Short: "Unregister a session",
		Long: `Unregister a session by id, or by client id on this machine.

Example:
  agentbus unregister --session-id brave-tiger
  agentbus unregister --client-id $SESSION_ID`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnregister(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SessionID, "session-id", "", "session ID")
	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "client ID (looked up on this machine)")

	return cmd
}

func runUnregister(opts *UnregisterOptions, cmd *cobra.Command) error {
	if opts.SessionID == "" && opts.ClientID == "" {
		return NewExitError(ExitCommandError, "must provide --session-id or --client-id")
	}

	bus, done, err := openBus(opts.RootOptions)
	if err != nil {
		return err
	}
	defer done()

	res, err := bus.Unregister(cmd.Context(), engine.UnregisterRequest{
		SessionID: opts.SessionID,
		ClientID:  opts.ClientID,
	})
	if err != nil {
		return busError("unregister failed", err)
	}

	return formatter(opts.RootOptions, cmd).Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "Unregistered %s (%s)\n", res.DisplayID, res.Name)
		fmt.Fprintf(w, "Active sessions: %d\n", res.ActiveSessions)
	})
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List active sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, done, err := openBus(opts)
			if err != nil {
				return err
			}
			defer done()

			sessions, err := bus.ListSessions(cmd.Context())
			if err != nil {
				return busError("list sessions failed", err)
			}

			return formatter(opts, cmd).Success(sessions, func(w io.Writer) {
				writeSessions(w, sessions)
			})
		},
	}
}

func writeSessions(w io.Writer, sessions []engine.SessionInfo) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No active sessions")
		return
	}

	fmt.Fprintf(w, "Active sessions (%d):\n\n", len(sessions))
	for _, s := range sessions {
		fmt.Fprintf(w, "  %s  %s\n", s.DisplayID, s.Name)
		fmt.Fprintf(w, "    repo: %s, machine: %s\n", s.Repo, s.Machine)
		if s.ClientID != "" {
			fmt.Fprintf(w, "    client_id: %s\n", s.ClientID)
		}
		fmt.Fprintf(w, "    age: %ds\n", int(s.Age.Seconds()))
		if s.SessionID != s.DisplayID {
			id := s.SessionID
			if len(id) > 16 {
				id = id[:8] + "…"
			}
			fmt.Fprintf(w, "    session_id: %s\n", id)
		}
		if len(s.SubscribedChannels) > 0 {
			fmt.Fprintf(w, "    channels: %s\n", strings.Join(s.SubscribedChannels, ", "))
		}
		fmt.Fprintln(w)
	}
}

// NewChannelsCommand creates the channels command.
func NewChannelsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List active channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, done, err := openBus(opts)
			if err != nil {
				return err
			}
			defer done()

			chans, err := bus.ListChannels(cmd.Context())
			if err != nil {
				return busError("list channels failed", err)
			}

			return formatter(opts, cmd).Success(chans, func(w io.Writer) {
				if len(chans) == 0 {
					fmt.Fprintln(w, "No active channels")
					return
				}
				fmt.Fprintf(w, "Active channels (%d):\n\n", len(chans))
				for _, ch := range chans {
					plural := "s"
					if ch.Subscribers == 1 {
						plural = ""
					}
					fmt.Fprintf(w, "  %s  (%d subscriber%s)\n", ch.Channel, ch.Subscribers, plural)
				}
				fmt.Fprintln(w)
			})
		},
	}
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired sessions now",
		Long: `Remove sessions whose process has exited or whose heartbeat timed out.

Every other command already does this first; sweep is for maintenance.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, done, err := openBus(opts)
			if err != nil {
				return err
			}
			defer done()

			res, err := bus.Sweep(cmd.Context())
			if err != nil {
				return busError("sweep failed", err)
			}

			return formatter(opts, cmd).Success(res, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %d session(s)\n", len(res.Removed))
				for _, id := range res.Removed {
					fmt.Fprintf(w, "  %s\n", id)
				}
			})
		},
	}
}
