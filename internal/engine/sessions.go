package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/agentbus/internal/channel"
	"github.com/roach88/agentbus/internal/store"
	"github.com/roach88/agentbus/internal/telemetry"
)

// SessionInfo describes an active session.
type SessionInfo struct {
	SessionID       string    `json:"session_id"`
	DisplayID       string    `json:"display_id"`
	Name            string    `json:"name"`
	Machine         string    `json:"machine"`
	Cwd             string    `json:"cwd"`
	Repo            string    `json:"repo"`
	ClientID        string    `json:"client_id,omitempty"`
	LivenessToken   string    `json:"liveness_token,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat"`
	Cursor          *int64    `json:"cursor"`

	// SubscribedChannels is derived from the session's attributes at the
	// time of the call. It is informational: any session may read any event.
	SubscribedChannels []string `json:"subscribed_channels"`

	// Age is the time since the session was created.
	Age time.Duration `json:"-"`
}

// ListSessions returns active sessions, most recent heartbeat first, after
// sweeping expired ones.
//
// Returns an empty slice (not nil) if there are no sessions.
func (e *Engine) ListSessions(ctx context.Context) (out []SessionInfo, err error) {
	const op = "list_sessions"
	defer func(start time.Time) { e.record(op, start, err) }(time.Now())

	var now time.Time
	var rows []store.Session
	err = e.update(ctx, op, func(tx *store.Tx) error {
		now = e.clock.Now()
		if _, err := e.sweep(ctx, tx, now); err != nil {
			return err
		}
		var err error
		rows, err = tx.ListSessions(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out = make([]SessionInfo, 0, len(rows))
	for _, s := range rows {
		out = append(out, toSessionInfo(s, now))
	}
	telemetry.ActiveSessions.Set(float64(len(out)))
	return out, nil
}

func toSessionInfo(s store.Session, now time.Time) SessionInfo {
	age := now.Sub(s.CreatedAt)
	if age < 0 {
		age = 0
	}
	return SessionInfo{
		SessionID:          s.SessionID,
		DisplayID:          s.DisplayID,
		Name:               s.Name,
		Machine:            s.Machine,
		Cwd:                s.Cwd,
		Repo:               s.Repo,
		ClientID:           s.ClientID,
		LivenessToken:      s.LivenessToken,
		CreatedAt:          s.CreatedAt,
		LastHeartbeatAt:    s.LastHeartbeatAt,
		Cursor:             s.Cursor,
		SubscribedChannels: channel.Strings(channel.ForSession(attrsOf(s))),
		Age:                age,
	}
}

func attrsOf(s store.Session) channel.Attrs {
	return channel.Attrs{SessionID: s.SessionID, Repo: s.Repo, Machine: s.Machine}
}

// UnregisterRequest is the input to Unregister. SessionID takes precedence;
// otherwise ClientID is looked up under Machine.
type UnregisterRequest struct {
	SessionID string
	ClientID  string

	// Machine scopes ClientID. Defaults to the engine's host name.
	Machine string
}

// UnregisterResult is the output of Unregister.
type UnregisterResult struct {
	SessionID      string `json:"session_id"`
	DisplayID      string `json:"display_id"`
	Name           string `json:"name"`
	ActiveSessions int    `json:"active_sessions"`
}

// Unregister removes a session and publishes a session_unregistered event.
//
// Unregistering an absent session changes nothing and returns a NotFound
// error, so repeated calls are harmless. It never refreshes a heartbeat and
// never deletes events.
func (e *Engine) Unregister(ctx context.Context, req UnregisterRequest) (res UnregisterResult, err error) {
	const op = "unregister"
	defer func(start time.Time) { e.record(op, start, err) }(time.Now())

	req.SessionID = strings.TrimSpace(req.SessionID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.SessionID == "" && req.ClientID == "" {
		return UnregisterResult{}, invalidArgument(op, "session_id or client_id is required")
	}
	if req.Machine == "" {
		req.Machine = e.hostName
	}

	err = e.update(ctx, op, func(tx *store.Tx) error {
		target, err := e.lookupTarget(ctx, tx, op, req)
		if err != nil {
			return err
		}

		if _, err := tx.DeleteSession(ctx, target.SessionID); err != nil {
			return err
		}

		_, err = tx.InsertEvent(ctx, store.Event{
			EventType:          EventSessionUnregistered,
			Payload:            fmt.Sprintf("%s ended on %s", target.Name, target.Machine),
			Channel:            channel.All.String(),
			PublisherSessionID: target.SessionID,
			CreatedAt:          e.clock.Now(),
		})
		if err != nil {
			return err
		}

		count, err := tx.CountSessions(ctx)
		if err != nil {
			return err
		}

		res = UnregisterResult{
			SessionID:      target.SessionID,
			DisplayID:      target.DisplayID,
			Name:           target.Name,
			ActiveSessions: count,
		}
		return nil
	})
	if err != nil {
		if IsNotFound(err) {
			e.logger.Debug().
				Str("session_id", req.SessionID).
				Str("client_id", req.ClientID).
				Msg("Unregister target not found")
		}
		return UnregisterResult{}, err
	}

	telemetry.SessionsUnregisteredTotal.Inc()
	telemetry.EventsPublishedTotal.With(channel.KindAll.String()).Inc()
	e.logger.Info().
		Str("session_id", res.SessionID).
		Str("name", res.Name).
		Msg("Session unregistered")

	return res, nil
}

func (e *Engine) lookupTarget(ctx context.Context, tx *store.Tx, op string, req UnregisterRequest) (store.Session, error) {
	var target store.Session
	var err error
	if req.SessionID != "" {
		target, err = tx.GetSession(ctx, req.SessionID)
	} else {
		target, err = tx.FindSessionByClient(ctx, req.Machine, req.ClientID)
	}

	if errors.Is(err, store.ErrNotFound) {
		if req.SessionID != "" {
			return store.Session{}, notFound(op, "session %q not found", req.SessionID)
		}
		return store.Session{}, notFound(op, "no session for client %q on %s", req.ClientID, req.Machine)
	}
	return target, err
}
