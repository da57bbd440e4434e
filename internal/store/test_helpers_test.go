package store

import (
	"path/filepath"
	"testing"
	"time"
)

// testEpoch is a fixed wall-clock origin so stored timestamps are predictable.
var testEpoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession creates a session with minimal required fields.
func createTestSession(id, machine, clientID string, heartbeat time.Time) Session {
	return Session{
		SessionID:       id,
		DisplayID:       "display-" + id,
		Name:            "name-" + id,
		Machine:         machine,
		Cwd:             "/work/proj",
		Repo:            "proj",
		ClientID:        clientID,
		CreatedAt:       heartbeat,
		LastHeartbeatAt: heartbeat,
	}
}

// createTestEvent creates an event with minimal required fields.
func createTestEvent(eventType, channel string) Event {
	return Event{
		EventType: eventType,
		Payload:   "payload-" + eventType,
		Channel:   channel,
		CreatedAt: testEpoch,
	}
}
