package engine

import (
	"context"
	"strings"
	"time"

	"github.com/roach88/agentbus/internal/store"
	"github.com/roach88/agentbus/internal/telemetry"
)

// previewRunes is how much of a payload a notification body shows.
const previewRunes = 50

// Notification is what the engine asks a Notifier to show.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound bool   `json:"sound,omitempty"`

	// ShouldFire is false when there is nobody to notify.
	ShouldFire bool `json:"should_fire"`

	// TargetSessionID is the addressed session for direct messages.
	TargetSessionID string `json:"target_session_id,omitempty"`
}

// Notifier delivers notifications to the user. Delivery failures are
// logged by the engine and never fail the operation that triggered them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Decide computes the notification for a direct message.
//
// target is the addressed session, nil if it does not exist (expired or
// mistyped), in which case nothing should fire. sender is the publishing
// session, nil for anonymous publishes.
func Decide(target, sender *store.Session, payload string) Notification {
	if target == nil {
		return Notification{}
	}

	from := "anonymous"
	if sender != nil {
		from = sender.Name
	}

	return Notification{
		Title:           "📨 " + target.Name + " • " + target.Repo,
		Body:            "From: " + from + "\n" + preview(payload),
		ShouldFire:      true,
		TargetSessionID: target.SessionID,
	}
}

// preview truncates s to previewRunes runes, marking the cut with "...".
func preview(s string) string {
	n := 0
	for i := range s {
		if n == previewRunes {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

// deliver hands a fired decision to the notifier after commit.
func (e *Engine) deliver(ctx context.Context, n Notification) {
	if !n.ShouldFire || e.notifier == nil {
		telemetry.NotificationsTotal.With("skipped").Inc()
		return
	}

	if err := e.notifier.Notify(ctx, n); err != nil {
		telemetry.NotificationsTotal.With("failed").Inc()
		e.logger.Warn().
			Err(err).
			Str("target", n.TargetSessionID).
			Msg("Notification delivery failed; event was published")
		return
	}
	telemetry.NotificationsTotal.With("sent").Inc()
}

// NotifyRequest is the input to Notify.
type NotifyRequest struct {
	Title   string
	Message string
	Sound   bool
}

// NotifyResult is the output of Notify.
type NotifyResult struct {
	Success bool   `json:"success"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notify sends an explicit notification to the user through the configured
// Notifier. Delivery failure is reported in Success, not as an error.
func (e *Engine) Notify(ctx context.Context, req NotifyRequest) (res NotifyResult, err error) {
	const op = "notify"
	defer func(start time.Time) { e.record(op, start, err) }(time.Now())

	if strings.TrimSpace(req.Title) == "" {
		return NotifyResult{}, invalidArgument(op, "title is required")
	}

	res = NotifyResult{Title: req.Title, Message: req.Message}
	if e.notifier == nil {
		e.logger.Debug().Str("title", req.Title).Msg("No notifier configured")
		return res, nil
	}

	err = e.notifier.Notify(ctx, Notification{
		Title:      req.Title,
		Body:       req.Message,
		Sound:      req.Sound,
		ShouldFire: true,
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("title", req.Title).Msg("Notification delivery failed")
		return res, nil
	}

	res.Success = true
	return res, nil
}
