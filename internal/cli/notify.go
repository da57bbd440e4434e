package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/agentbus/internal/engine"
)

// NotifyOptions holds flags for the notify command.
type NotifyOptions struct {
	*RootOptions
	Title   string
	Message string
	Sound   bool
}

// NewNotifyCommand creates the notify command.
func NewNotifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NotifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a desktop notification",
		Long: `Send a desktop notification through the bus's notifier.

Exits 1 if the notification could not be delivered.

Example:
  agentbus notify --title "Build" --message "green" --sound`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Title, "title", "", "notification title (required)")
	cmd.Flags().StringVar(&opts.Message, "message", "", "notification message (required)")
	cmd.Flags().BoolVar(&opts.Sound, "sound", false, "play sound")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}

func runNotify(opts *NotifyOptions, cmd *cobra.Command) error {
	bus, done, err := openBus(opts.RootOptions)
	if err != nil {
		return err
	}
	defer done()

	res, err := bus.Notify(cmd.Context(), engine.NotifyRequest{
		Title:   opts.Title,
		Message: opts.Message,
		Sound:   opts.Sound,
	})
	if err != nil {
		return busError("notify failed", err)
	}
	if !res.Success {
		return NewExitError(ExitFailure, "notification failed")
	}

	return formatter(opts.RootOptions, cmd).Success(res, func(w io.Writer) {
		fmt.Fprintln(w, "Notification sent")
	})
}
