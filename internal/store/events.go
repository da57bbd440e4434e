package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
)

// dialect builds parameterised SQLite statements for the dynamic event query.
var dialect = goqu.Dialect("sqlite3")

// InsertEvent appends an event to the log and returns it with the id the
// database assigned. The caller's ID field is ignored.
func (t *Tx) InsertEvent(ctx context.Context, e Event) (Event, error) {
	if e.Channel == "" {
		e.Channel = "all"
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO events (event_type, payload, channel, publisher_session_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		e.EventType,
		e.Payload,
		e.Channel,
		nullString(e.PublisherSessionID),
		toMillis(e.CreatedAt),
	)
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("insert event: last insert id: %w", err)
	}

	e.ID = id
	e.CreatedAt = fromMillis(toMillis(e.CreatedAt))
	return e, nil
}

// QueryEvents returns a page of events matching q, ordered by id.
//
// Returns an empty slice (not nil) if nothing matches.
func (t *Tx) QueryEvents(ctx context.Context, q EventQuery) ([]Event, error) {
	if q.Limit <= 0 {
		return nil, fmt.Errorf("query events: limit must be positive, got %d", q.Limit)
	}

	ds := dialect.From("events").Prepared(true).Select(
		"id", "event_type", "payload", "channel", "publisher_session_id", "created_at",
	)
	if q.AfterID != nil {
		ds = ds.Where(goqu.C("id").Gt(*q.AfterID))
	}
	if len(q.Channels) > 0 {
		ds = ds.Where(goqu.C("channel").In(q.Channels))
	}
	if len(q.EventTypes) > 0 {
		ds = ds.Where(goqu.C("event_type").In(q.EventTypes))
	}
	if q.Descending {
		ds = ds.Order(goqu.C("id").Desc())
	} else {
		ds = ds.Order(goqu.C("id").Asc())
	}
	ds = ds.Limit(uint(q.Limit))

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("query events: build: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// MaxEventID returns the id of the newest event, or nil if the log is empty.
func (t *Tx) MaxEventID(ctx context.Context) (*int64, error) {
	var id sql.NullInt64
	if err := t.tx.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return nil, fmt.Errorf("max event id: %w", err)
	}
	if !id.Valid {
		return nil, nil
	}
	v := id.Int64
	return &v, nil
}

// scanEvent scans one events row.
func scanEvent(row rowScanner) (Event, error) {
	var e Event
	var publisher sql.NullString
	var createdAt int64

	if err := row.Scan(&e.ID, &e.EventType, &e.Payload, &e.Channel, &publisher, &createdAt); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}

	e.PublisherSessionID = publisher.String
	e.CreatedAt = fromMillis(createdAt)
	return e, nil
}
