package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/roach88/agentbus/internal/channel"
	"github.com/roach88/agentbus/internal/store"
	"github.com/roach88/agentbus/internal/telemetry"
)

// RegisterRequest is the input to Register.
type RegisterRequest struct {
	// Name is a short label for the session (branch, task). Required.
	Name string

	// Machine defaults to the engine's host name.
	Machine string

	// Cwd defaults to $PWD, then the process working directory.
	Cwd string

	// Repo overrides the repo derived from Cwd.
	Repo string

	// ClientID, together with Machine, identifies the same logical session
	// across restarts. Optional.
	ClientID string

	// LivenessToken is the caller's PID, checked for local sessions only.
	// Optional.
	LivenessToken string
}

// RegisterResult is the output of Register.
type RegisterResult struct {
	SessionID string `json:"session_id"`
	DisplayID string `json:"display_id"`
	Name      string `json:"name"`
	Machine   string `json:"machine"`
	Cwd       string `json:"cwd"`
	Repo      string `json:"repo"`

	// Cursor is where the session should start polling: the persisted
	// cursor on resume (or the log head when none was persisted), and the
	// session's own registration event for new sessions, which is also
	// persisted as the new session's cursor. Nil only when the log is empty
	// on resume.
	Cursor *int64 `json:"cursor"`

	// Resumed is true when an existing session was picked up by its
	// (machine, client_id) key.
	Resumed bool `json:"resumed"`

	// ActiveSessions counts sessions after this registration.
	ActiveSessions int `json:"active_sessions"`
}

// Register creates a session or resumes the one registered under the same
// (machine, client_id).
//
// The dedup lookup and the insert run in one immediate transaction. If a
// process on another connection still wins the race the UNIQUE index
// rejects the insert, and the call is retried once, which then resumes.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (res RegisterResult, err error) {
	const op = "register"
	defer func(start time.Time) { e.record(op, start, err) }(time.Now())

	req.Name = sanitize(req.Name)
	if strings.TrimSpace(req.Name) == "" {
		return RegisterResult{}, invalidArgument(op, "name is required")
	}
	if req.Machine == "" {
		req.Machine = e.hostName
	}
	if req.Cwd == "" {
		req.Cwd = defaultCwd()
	}
	if req.Repo == "" {
		req.Repo = DeriveRepo(req.Cwd)
	} else {
		req.Repo = sanitize(req.Repo)
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.LivenessToken = strings.TrimSpace(req.LivenessToken)

	for attempt := 0; attempt < 2; attempt++ {
		res, err = e.register(ctx, req)
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		e.logger.Debug().
			Str("machine", req.Machine).
			Str("client_id", req.ClientID).
			Int("attempt", attempt+1).
			Msg("Registration lost dedup race")
	}
	if err != nil {
		return RegisterResult{}, fromStore(op, err)
	}

	outcome := "resumed"
	if !res.Resumed {
		outcome = "created"
		telemetry.EventsPublishedTotal.With(channel.KindAll.String()).Inc()
	}
	telemetry.SessionsRegisteredTotal.With(outcome).Inc()
	e.logger.Info().
		Str("session_id", res.SessionID).
		Str("display_id", res.DisplayID).
		Str("name", res.Name).
		Bool("resumed", res.Resumed).
		Msg("Session registered")

	return res, nil
}

func (e *Engine) register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	res := RegisterResult{
		Name:    req.Name,
		Machine: req.Machine,
		Cwd:     req.Cwd,
		Repo:    req.Repo,
	}

	err := e.store.Update(ctx, func(tx *store.Tx) error {
		now := e.clock.Now()

		if _, err := e.sweepExcept(ctx, tx, now, req.Machine, req.ClientID); err != nil {
			return err
		}

		if req.ClientID != "" {
			existing, err := tx.FindSessionByClient(ctx, req.Machine, req.ClientID)
			switch {
			case err == nil:
				return e.resume(ctx, tx, existing, req, now, &res)
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		return e.create(ctx, tx, req, now, &res)
	})
	return res, err
}

func (e *Engine) resume(ctx context.Context, tx *store.Tx, existing store.Session, req RegisterRequest, now time.Time, res *RegisterResult) error {
	err := tx.ResumeSession(ctx, store.Session{
		SessionID:       existing.SessionID,
		Name:            req.Name,
		Cwd:             req.Cwd,
		Repo:            req.Repo,
		LivenessToken:   req.LivenessToken,
		LastHeartbeatAt: now,
	})
	if err != nil {
		return err
	}

	cursor := existing.Cursor
	if cursor == nil {
		cursor, err = tx.MaxEventID(ctx)
		if err != nil {
			return err
		}
	}

	count, err := tx.CountSessions(ctx)
	if err != nil {
		return err
	}

	res.SessionID = existing.SessionID
	res.DisplayID = existing.DisplayID
	res.Cursor = cursor
	res.Resumed = true
	res.ActiveSessions = count
	return nil
}

func (e *Engine) create(ctx context.Context, tx *store.Tx, req RegisterRequest, now time.Time, res *RegisterResult) error {
	sessionID, err := e.newSessionID(ctx, tx, req.ClientID)
	if err != nil {
		return err
	}

	displayID, err := e.newDisplayID(ctx, tx)
	if err != nil {
		return err
	}

	ev, err := tx.InsertEvent(ctx, store.Event{
		EventType:          EventSessionRegistered,
		Payload:            fmt.Sprintf("%s started on %s in %s", req.Name, req.Machine, req.Cwd),
		Channel:            channel.All.String(),
		PublisherSessionID: sessionID,
		CreatedAt:          now,
	})
	if err != nil {
		return err
	}

	// The session starts polling after its own registration event.
	err = tx.InsertSession(ctx, store.Session{
		SessionID:       sessionID,
		DisplayID:       displayID,
		Name:            req.Name,
		Machine:         req.Machine,
		Cwd:             req.Cwd,
		Repo:            req.Repo,
		ClientID:        req.ClientID,
		LivenessToken:   req.LivenessToken,
		CreatedAt:       now,
		LastHeartbeatAt: now,
		Cursor:          &ev.ID,
	})
	if err != nil {
		return err
	}

	count, err := tx.CountSessions(ctx)
	if err != nil {
		return err
	}

	res.SessionID = sessionID
	res.DisplayID = displayID
	res.Cursor = &ev.ID
	res.ActiveSessions = count
	return nil
}

// newSessionID uses the client id as the session id unless another
// session (necessarily on another machine) already holds that id.
func (e *Engine) newSessionID(ctx context.Context, tx *store.Tx, clientID string) (string, error) {
	if clientID == "" {
		return e.ids.Generate(), nil
	}
	taken, err := tx.SessionExists(ctx, clientID)
	if err != nil {
		return "", err
	}
	if taken {
		return e.ids.Generate(), nil
	}
	return clientID, nil
}

// newDisplayID draws word pairs until one is unused by an active session.
// After maxDisplayIDAttempts draws it appends the smallest free numeric
// suffix to the last draw.
func (e *Engine) newDisplayID(ctx context.Context, tx *store.Tx) (string, error) {
	var candidate string
	for i := 0; i < maxDisplayIDAttempts; i++ {
		candidate = e.displayIDs.Generate()
		used, err := tx.DisplayIDInUse(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
	}

	for n := 2; ; n++ {
		suffixed := fmt.Sprintf("%s-%d", candidate, n)
		used, err := tx.DisplayIDInUse(ctx, suffixed)
		if err != nil {
			return "", err
		}
		if !used {
			return suffixed, nil
		}
	}
}

func defaultCwd() string {
	if pwd := os.Getenv("PWD"); pwd != "" {
		return pwd
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return ""
}
