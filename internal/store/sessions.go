package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

const sessionColumns = `session_id, display_id, name, machine, cwd, repo, client_id,
	liveness_token, created_at, last_heartbeat_at, cursor`

// InsertSession inserts a new session row.
// Returns ErrConflict if the session_id or the (machine, client_id) pair is
// already taken.
func (t *Tx) InsertSession(ctx context.Context, s Session) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.SessionID,
		s.DisplayID,
		s.Name,
		s.Machine,
		s.Cwd,
		s.Repo,
		nullString(s.ClientID),
		nullString(s.LivenessToken),
		toMillis(s.CreatedAt),
		toMillis(s.LastHeartbeatAt),
		nullInt64(s.Cursor),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert session %s: %w", s.SessionID, ErrConflict)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// ResumeSession overwrites the mutable attributes of an existing session:
// name, cwd, repo, liveness token and heartbeat. Identity, display id,
// creation time and cursor are left alone.
func (t *Tx) ResumeSession(ctx context.Context, s Session) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sessions
		SET name = ?, cwd = ?, repo = ?, liveness_token = ?, last_heartbeat_at = ?
		WHERE session_id = ?
	`,
		s.Name,
		s.Cwd,
		s.Repo,
		nullString(s.LivenessToken),
		toMillis(s.LastHeartbeatAt),
		s.SessionID,
	)
	if err != nil {
		return fmt.Errorf("resume session: %w", err)
	}
	return expectOneRow(res, "resume session")
}

// GetSession retrieves a session by id.
// Returns ErrNotFound if no such session exists.
func (t *Tx) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE session_id = ?
	`, sessionID)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return s, err
}

// FindSessionByClient retrieves the session registered under the dedup key
// (machine, client_id). Returns ErrNotFound if none exists.
func (t *Tx) FindSessionByClient(ctx context.Context, machine, clientID string) (Session, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE machine = ? AND client_id = ?
	`, machine, clientID)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session for client %s on %s: %w", clientID, machine, ErrNotFound)
	}
	return s, err
}

// SessionExists reports whether a row with this session_id exists.
func (t *Tx) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE session_id = ?
	`, sessionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return n > 0, nil
}

// DisplayIDInUse reports whether an active session already carries displayID.
func (t *Tx) DisplayIDInUse(ctx context.Context, displayID string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE display_id = ?
	`, displayID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check display id: %w", err)
	}
	return n > 0, nil
}

// DeleteSession removes a session row. Events are never touched.
// Returns false if the session did not exist.
func (t *Tx) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return affected(res, "delete session")
}

// Heartbeat sets last_heartbeat_at for a session.
// Returns false if the session does not exist.
func (t *Tx) Heartbeat(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sessions SET last_heartbeat_at = ? WHERE session_id = ?
	`, toMillis(at), sessionID)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	return affected(res, "heartbeat")
}

// AdvanceCursor raises a session's persisted cursor to eventID.
// The cursor never moves backwards: a smaller eventID leaves it unchanged.
// Returns false if the session does not exist.
func (t *Tx) AdvanceCursor(ctx context.Context, sessionID string, eventID int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sessions
		SET cursor = CASE WHEN cursor IS NULL OR cursor < ? THEN ? ELSE cursor END
		WHERE session_id = ?
	`, eventID, eventID, sessionID)
	if err != nil {
		return false, fmt.Errorf("advance cursor: %w", err)
	}
	return affected(res, "advance cursor")
}

// ListSessions returns every session, most recently active first.
// Ties are broken by session_id so the order is deterministic.
//
// Returns an empty slice (not nil) if there are no sessions.
func (t *Tx) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		ORDER BY last_heartbeat_at DESC, session_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// DeleteStaleSessions removes every session whose heartbeat is older than
// cutoff and returns the removed session ids in id order.
func (t *Tx) DeleteStaleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		DELETE FROM sessions
		WHERE last_heartbeat_at < ?
		RETURNING session_id
	`, toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("delete stale sessions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale session: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale sessions: %w", err)
	}

	sort.Strings(ids)
	return ids, nil
}

// CountSessions returns the number of active sessions.
func (t *Tx) CountSessions(ctx context.Context) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession scans a row selected with sessionColumns.
func scanSession(row rowScanner) (Session, error) {
	var s Session
	var clientID, livenessToken sql.NullString
	var createdAt, heartbeatAt int64
	var cursor sql.NullInt64

	err := row.Scan(
		&s.SessionID, &s.DisplayID, &s.Name, &s.Machine, &s.Cwd, &s.Repo,
		&clientID, &livenessToken, &createdAt, &heartbeatAt, &cursor,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}

	s.ClientID = clientID.String
	s.LivenessToken = livenessToken.String
	s.CreatedAt = fromMillis(createdAt)
	s.LastHeartbeatAt = fromMillis(heartbeatAt)
	if cursor.Valid {
		v := cursor.Int64
		s.Cursor = &v
	}
	return s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func affected(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n > 0, nil
}

func expectOneRow(res sql.Result, op string) error {
	ok, err := affected(res, op)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
