package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/agentbus/internal/engine"
)

// PublishOptions holds flags for the publish command.
type PublishOptions struct {
	*RootOptions
	Type      string
	Payload   string
	Channel   string
	SessionID string
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event",
		Long: `Publish an event to a channel.

Channels: all (default), session:<id> (direct message, notifies the
recipient), repo:<name>, machine:<name>.

Example:
  agentbus publish --type task_completed --payload "auth done" --channel repo:api
  agentbus publish --type help_needed --payload "review?" --channel session:brave-tiger`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "event type (required)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "event payload (required)")
	cmd.Flags().StringVar(&opts.Channel, "channel", "all", "target channel")
	cmd.Flags().StringVar(&opts.SessionID, "session-id", "", "your session ID")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("payload")

	return cmd
}

func runPublish(opts *PublishOptions, cmd *cobra.Command) error {
	bus, done, err := openBus(opts.RootOptions)
	if err != nil {
		return err
	}
	defer done()

	res, err := bus.Publish(cmd.Context(), engine.PublishRequest{
		EventType: opts.Type,
		Payload:   opts.Payload,
		SessionID: opts.SessionID,
		Channel:   opts.Channel,
	})
	if err != nil {
		return busError("publish failed", err)
	}

	return formatter(opts.RootOptions, cmd).Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "Published event %d (%s) to %s\n", res.EventID, res.EventType, res.Channel)
		if strings.HasPrefix(res.Channel, "session:") && !res.Notification.ShouldFire {
			fmt.Fprintf(w, "Warning: no active session for %s; nobody was notified\n", res.Channel)
		}
	})
}

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Cursor    string
	SessionID string
	Limit     int
	Order     string
	Channel   string
	Resume    bool
	Include   string
	Exclude   string
	JSON      bool
	Timeout   time.Duration
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Get recent events",
		Long: `Get events from the log.

Without --cursor the newest events are returned newest first. To follow the
log, pass the printed next_cursor back with --order asc, or use --resume with
--session-id to continue from the session's saved position.

Example:
  agentbus events --limit 10
  agentbus events --session-id brave-tiger --resume --order asc --json
  agentbus events --channel repo:api --exclude session_registered,session_unregistered`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "cursor from a previous call")
	cmd.Flags().StringVar(&opts.SessionID, "session-id", "", "your session ID (for cursor tracking)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events to return")
	cmd.Flags().StringVar(&opts.Order, "order", engine.OrderDesc, "ordering: desc (newest first) or asc")
	cmd.Flags().StringVar(&opts.Channel, "channel", "", "filter to a channel (plus all)")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "resume from the saved cursor (requires --session-id)")
	cmd.Flags().StringVar(&opts.Include, "include", "", "comma-separated event types to include")
	cmd.Flags().StringVar(&opts.Exclude, "exclude", "", "comma-separated event types to exclude")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print events and next_cursor as a JSON object")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")

	return cmd
}

// eventsOutput is the --json shape.
type eventsOutput struct {
	Events     []engine.Event `json:"events"`
	NextCursor *int64         `json:"next_cursor"`
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	if opts.Resume && opts.SessionID == "" {
		return NewExitError(ExitCommandError, "--resume requires --session-id")
	}

	req := engine.GetEventsRequest{
		SessionID:  opts.SessionID,
		Limit:      opts.Limit,
		Order:      opts.Order,
		Channel:    opts.Channel,
		Resume:     opts.Resume,
		EventTypes: splitList(opts.Include),
	}
	if opts.Cursor != "" {
		c, err := strconv.ParseInt(opts.Cursor, 10, 64)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid --cursor %q", opts.Cursor), err)
		}
		req.Cursor = &c
	}

	bus, done, err := openBus(opts.RootOptions)
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	res, err := bus.GetEvents(ctx, req)
	if err != nil {
		return busError("get events failed", err)
	}

	// Exclusion is applied after the query; the cursor still covers the
	// excluded events.
	events := excludeTypes(res.Events, splitList(opts.Exclude))
	out := eventsOutput{Events: events, NextCursor: res.NextCursor}

	if opts.JSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
	}

	return formatter(opts.RootOptions, cmd).Success(out, func(w io.Writer) {
		if len(events) == 0 {
			fmt.Fprintln(w, "No events")
			return
		}
		for _, e := range events {
			from := e.PublisherSessionID
			if from == "" {
				from = "anonymous"
			}
			fmt.Fprintf(w, "[%d] %s (%s)\n", e.ID, e.EventType, e.Channel)
			fmt.Fprintf(w, "    %s\n", e.Payload)
			fmt.Fprintf(w, "    from: %s at %s\n", from, e.CreatedAt.Format(time.RFC3339))
			fmt.Fprintln(w)
		}
		if res.NextCursor != nil {
			fmt.Fprintf(w, "next_cursor: %d\n", *res.NextCursor)
		}
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func excludeTypes(events []engine.Event, exclude []string) []engine.Event {
	if len(exclude) == 0 {
		return events
	}
	skip := make(map[string]bool, len(exclude))
	for _, t := range exclude {
		skip[t] = true
	}

	out := make([]engine.Event, 0, len(events))
	for _, e := range events {
		if !skip[e.EventType] {
			out = append(out, e)
		}
	}
	return out
}
