package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/agentbus/internal/store"
	"github.com/roach88/agentbus/internal/telemetry"
)

// sweep removes expired sessions inside the caller's transaction and
// returns their ids.
//
// Local sessions whose liveness token names a dead process go first,
// regardless of heartbeat. Then every session idle longer than the timeout
// is removed. Events are never touched.
func (e *Engine) sweep(ctx context.Context, tx *store.Tx, now time.Time) ([]string, error) {
	return e.sweepExcept(ctx, tx, now, "", "")
}

// sweepExcept is sweep with the session registered under (machine,
// clientID) exempt from the liveness check. Register uses it so a client
// restarted under a new PID finds and resumes its old session; that
// session still expires by timeout.
func (e *Engine) sweepExcept(ctx context.Context, tx *store.Tx, now time.Time, machine, clientID string) ([]string, error) {
	sessions, err := tx.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	var removed []string
	for _, s := range sessions {
		if s.Machine != e.hostName || s.LivenessToken == "" {
			continue
		}
		if clientID != "" && s.Machine == machine && s.ClientID == clientID {
			continue
		}
		if e.liveness.Alive(ctx, s.LivenessToken) {
			continue
		}

		deleted, err := tx.DeleteSession(ctx, s.SessionID)
		if err != nil {
			return nil, fmt.Errorf("sweep: %w", err)
		}
		if deleted {
			removed = append(removed, s.SessionID)
			telemetry.SessionsExpiredTotal.With("dead_process").Inc()
			e.logger.Info().
				Str("session_id", s.SessionID).
				Str("name", s.Name).
				Str("liveness_token", s.LivenessToken).
				Msg("Removed session: process no longer running")
		}
	}

	stale, err := tx.DeleteStaleSessions(ctx, now.Add(-e.sessionTimeout))
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	for _, id := range stale {
		telemetry.SessionsExpiredTotal.With("timeout").Inc()
		e.logger.Info().
			Str("session_id", id).
			Dur("timeout", e.sessionTimeout).
			Msg("Removed session: heartbeat timed out")
	}

	return append(removed, stale...), nil
}

// SweepResult reports the sessions an explicit sweep removed.
type SweepResult struct {
	Removed []string `json:"removed"`
}

// Sweep runs the expiry sweep on its own. Every listing and query already
// sweeps first; this exists for maintenance commands.
func (e *Engine) Sweep(ctx context.Context) (res SweepResult, err error) {
	const op = "sweep"
	defer func(start time.Time) { e.record(op, start, err) }(time.Now())

	err = e.update(ctx, op, func(tx *store.Tx) error {
		removed, err := e.sweep(ctx, tx, e.clock.Now())
		res.Removed = removed
		return err
	})
	if err != nil {
		return SweepResult{}, err
	}
	if res.Removed == nil {
		res.Removed = []string{}
	}
	return res, nil
}
