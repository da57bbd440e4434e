package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/roach88/agentbus/internal/channel"
	"github.com/roach88/agentbus/internal/store"
	"github.com/roach88/agentbus/internal/telemetry"
)

// Event is one entry of the log as returned to callers.
type Event struct {
	ID                 int64     `json:"id"`
	EventType          string    `json:"event_type"`
	Payload            string    `json:"payload"`
	Channel            string    `json:"channel"`
	PublisherSessionID string    `json:"session_id"`
	CreatedAt          time.Time `json:"timestamp"`
}

func toEvent(e store.Event) Event {
	return Event{
		ID:                 e.ID,
		EventType:          e.EventType,
		Payload:            e.Payload,
		Channel:            e.Channel,
		PublisherSessionID: e.PublisherSessionID,
		CreatedAt:          e.CreatedAt,
	}
}

// PublishRequest is the input to Publish.
type PublishRequest struct {
	// EventType is a short tag such as "task_completed". Required.
	EventType string

	// Payload is opaque text of at most MaxPayloadBytes.
	Payload string

	// SessionID attributes the event and refreshes that session's
	// heartbeat. Optional.
	SessionID string

	// Channel defaults to "all". "session:<id>" is a direct message.
	Channel string
}

// PublishResult is the output of Publish.
type PublishResult struct {
	EventID   int64  `json:"event_id"`
	EventType string `json:"event_type"`
	Payload   string `json:"payload"`
	Channel   string `json:"channel"`

	// Notification is the decision for direct messages. ShouldFire is
	// false for every other channel.
	Notification Notification `json:"notification"`
}

// Publish appends an event to the log.
//
// It always stores the event, whether or not anyone is subscribed to the
// channel. For a direct message the notification decision is made inside
// the transaction and delivered after commit.
func (e *Engine) Publish(ctx context.Context, req PublishRequest) (res PublishResult, err error) {
	const op = "publish"
	defer func(start time.Time) { e.record(op, start, err) }(time.Now())

	req.EventType = strings.TrimSpace(req.EventType)
	if req.EventType == "" {
		return PublishResult{}, invalidArgument(op, "event_type is required")
	}
	if len(req.Payload) > MaxPayloadBytes {
		return PublishResult{}, invalidArgument(op, "payload is %d bytes, limit is %d", len(req.Payload), MaxPayloadBytes)
	}
	ch, err := channel.Parse(req.Channel)
	if err != nil {
		return PublishResult{}, &Error{Code: ErrCodeInvalidArgument, Op: op, Message: "bad channel", Err: err}
	}

	err = e.update(ctx, op, func(tx *store.Tx) error {
		now := e.clock.Now()

		if err := e.heartbeat(ctx, tx, op, req.SessionID, now); err != nil {
			return err
		}

		if _, err := e.sweep(ctx, tx, now); err != nil {
			return err
		}

		ev, err := tx.InsertEvent(ctx, store.Event{
			EventType:          req.EventType,
			Payload:            req.Payload,
			Channel:            ch.String(),
			PublisherSessionID: req.SessionID,
			CreatedAt:          now,
		})
		if err != nil {
			return err
		}

		res = PublishResult{
			EventID:   ev.ID,
			EventType: ev.EventType,
			Payload:   ev.Payload,
			Channel:   ev.Channel,
		}

		if ch.IsDirect() {
			res.Notification, err = e.decide(ctx, tx, ch.Value, req.SessionID, req.Payload)
		}
		return err
	})
	if err != nil {
		return PublishResult{}, err
	}

	telemetry.EventsPublishedTotal.With(ch.Kind.String()).Inc()
	e.logger.Debug().
		Int64("event_id", res.EventID).
		Str("event_type", res.EventType).
		Str("channel", res.Channel).
		Str("session_id", req.SessionID).
		Msg("Event published")

	if ch.IsDirect() && !res.Notification.ShouldFire {
		e.logger.Warn().
			Str("target", ch.Value).
			Msg("Direct message target not found; event stored without notification")
	}
	e.deliver(ctx, res.Notification)

	return res, nil
}

// decide loads the target and sender of a direct message and computes
// the notification.
func (e *Engine) decide(ctx context.Context, tx *store.Tx, targetID, senderID, payload string) (Notification, error) {
	target, err := lookupSession(ctx, tx, targetID)
	if err != nil {
		return Notification{}, err
	}

	var sender *store.Session
	if senderID != "" {
		sender, err = lookupSession(ctx, tx, senderID)
		if err != nil {
			return Notification{}, err
		}
		if sender == nil {
			e.logger.Debug().Str("session_id", senderID).Msg("Sender not registered; notifying as anonymous")
		}
	}

	return Decide(target, sender, payload), nil
}

// lookupSession returns nil, nil when the session does not exist.
func lookupSession(ctx context.Context, tx *store.Tx, id string) (*store.Session, error) {
	s, err := tx.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Sort orders for GetEvents.
const (
	OrderDesc = "desc"
	OrderAsc  = "asc"
)

// GetEventsRequest is the input to GetEvents.
type GetEventsRequest struct {
	// Cursor restricts to events with id > *Cursor. Nil means no lower
	// bound: the newest Limit events with desc, the oldest with asc.
	Cursor *int64

	// Limit defaults to DefaultLimit when zero and is capped at MaxLimit.
	// Negative values are rejected.
	Limit int

	// SessionID refreshes that session's heartbeat and, when the result is
	// non-empty, advances its persisted cursor. Optional.
	SessionID string

	// Channel narrows the result to that channel plus "all". Optional.
	Channel string

	// Order is OrderDesc (default) or OrderAsc.
	Order string

	// EventTypes keeps only these exact types. Optional.
	EventTypes []string

	// Resume makes a nil Cursor default to the session's persisted cursor.
	Resume bool
}

// GetEventsResult is the output of GetEvents.
type GetEventsResult struct {
	Events []Event `json:"events"`

	// NextCursor is the highest id in Events, or the effective cursor when
	// Events is empty. Pass it back as Cursor with OrderAsc to continue.
	// With SessionID set, the session's persisted cursor becomes
	// max(persisted, NextCursor), so a read from a lower explicit cursor
	// never moves it back.
	NextCursor *int64 `json:"next_cursor"`
}

// GetEvents reads a page of the log.
//
// Heartbeat, sweep, cursor lookup, read and cursor persistence share one
// immediate transaction, so two overlapping polls by the same session
// cannot both act on a stale cursor.
func (e *Engine) GetEvents(ctx context.Context, req GetEventsRequest) (res GetEventsResult, err error) {
	const op = "get_events"
	defer func(start time.Time) { e.record(op, start, err) }(time.Now())

	q, err := buildQuery(op, req)
	if err != nil {
		return GetEventsResult{}, err
	}

	err = e.update(ctx, op, func(tx *store.Tx) error {
		now := e.clock.Now()

		if err := e.heartbeat(ctx, tx, op, req.SessionID, now); err != nil {
			return err
		}

		if _, err := e.sweep(ctx, tx, now); err != nil {
			return err
		}

		if req.Resume && req.SessionID != "" && q.AfterID == nil {
			s, err := lookupSession(ctx, tx, req.SessionID)
			if err != nil {
				return err
			}
			if s != nil {
				q.AfterID = s.Cursor
			}
		}

		rows, err := tx.QueryEvents(ctx, q)
		if err != nil {
			return err
		}

		res.Events = make([]Event, len(rows))
		res.NextCursor = q.AfterID
		for i, r := range rows {
			res.Events[i] = toEvent(r)
			if res.NextCursor == nil || r.ID > *res.NextCursor {
				id := r.ID
				res.NextCursor = &id
			}
		}

		if req.SessionID != "" && len(rows) > 0 {
			if _, err := tx.AdvanceCursor(ctx, req.SessionID, *res.NextCursor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return GetEventsResult{}, err
	}

	telemetry.EventsDeliveredTotal.Add(float64(len(res.Events)))
	return res, nil
}

// buildQuery validates a request and converts it to a store query.
// Nothing is written before this succeeds.
func buildQuery(op string, req GetEventsRequest) (store.EventQuery, error) {
	q := store.EventQuery{Limit: req.Limit}

	switch {
	case req.Limit < 0:
		return q, invalidArgument(op, "limit must be positive, got %d", req.Limit)
	case req.Limit == 0:
		q.Limit = DefaultLimit
	case req.Limit > MaxLimit:
		q.Limit = MaxLimit
	}

	switch req.Order {
	case "", OrderDesc:
		q.Descending = true
	case OrderAsc:
	default:
		return q, invalidArgument(op, "order must be %q or %q, got %q", OrderAsc, OrderDesc, req.Order)
	}

	if req.Channel != "" {
		ch, err := channel.Parse(req.Channel)
		if err != nil {
			return q, &Error{Code: ErrCodeInvalidArgument, Op: op, Message: "bad channel", Err: err}
		}
		q.Channels = []string{channel.All.String()}
		if ch != channel.All {
			q.Channels = append(q.Channels, ch.String())
		}
	}

	for _, t := range req.EventTypes {
		if t = strings.TrimSpace(t); t != "" {
			q.EventTypes = append(q.EventTypes, t)
		}
	}

	if req.Cursor != nil {
		c := *req.Cursor
		q.AfterID = &c
	}

	return q, nil
}

// heartbeat refreshes last_heartbeat for sessionID when one is given. An
// unknown session is not an error: the operation proceeds anonymously.
func (e *Engine) heartbeat(ctx context.Context, tx *store.Tx, op, sessionID string, now time.Time) error {
	if sessionID == "" {
		return nil
	}
	ok, err := tx.Heartbeat(ctx, sessionID, now)
	if err != nil {
		return err
	}
	if !ok {
		e.logger.Debug().
			Str("op", op).
			Str("session_id", sessionID).
			Msg("Heartbeat for unknown session")
	}
	return nil
}
