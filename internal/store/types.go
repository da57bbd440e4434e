package store

import "time"

// Session is one row of the sessions table.
//
// Empty ClientID and LivenessToken are stored as NULL. Cursor is nil until
// the session polls with cursor tracking.
type Session struct {
	SessionID       string
	DisplayID       string
	Name            string
	Machine         string
	Cwd             string
	Repo            string
	ClientID        string
	LivenessToken   string
	CreatedAt       time.Time
	LastHeartbeatAt time.Time
	Cursor          *int64
}

// Event is one row of the events table. Events are immutable once written.
type Event struct {
	ID                 int64
	EventType          string
	Payload            string
	Channel            string
	PublisherSessionID string
	CreatedAt          time.Time
}

// EventQuery selects a page of events.
type EventQuery struct {
	// AfterID restricts to events with id > *AfterID. Nil means no lower bound.
	AfterID *int64

	// Channels restricts to events tagged with any of these channels.
	// Empty means every channel.
	Channels []string

	// EventTypes restricts to these exact event types. Empty means every type.
	EventTypes []string

	// Descending orders newest first; otherwise oldest first.
	Descending bool

	// Limit caps the number of rows. Must be positive.
	Limit int
}

// toMillis converts a time to the INTEGER column representation.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// fromMillis converts an INTEGER column back to a UTC time.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
