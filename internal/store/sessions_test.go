package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInsertSession_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cursor := int64(7)
	want := createTestSession("s-1", "box", "client-1", testEpoch)
	want.LivenessToken = "4242"
	want.Cursor = &cursor

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.InsertSession(ctx, want)
	})
	if err != nil {
		t.Fatalf("InsertSession() failed: %v", err)
	}

	var got Session
	err = s.Update(ctx, func(tx *Tx) error {
		var err error
		got, err = tx.GetSession(ctx, "s-1")
		return err
	})
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}

	if got.SessionID != want.SessionID {
		t.Errorf("session_id = %q, want %q", got.SessionID, want.SessionID)
	}
	if got.DisplayID != want.DisplayID {
		t.Errorf("display_id = %q, want %q", got.DisplayID, want.DisplayID)
	}
	if got.ClientID != "client-1" {
		t.Errorf("client_id = %q, want %q", got.ClientID, "client-1")
	}
	if got.LivenessToken != "4242" {
		t.Errorf("liveness_token = %q, want %q", got.LivenessToken, "4242")
	}
	if !got.LastHeartbeatAt.Equal(testEpoch) {
		t.Errorf("last_heartbeat_at = %v, want %v", got.LastHeartbeatAt, testEpoch)
	}
	if got.Cursor == nil || *got.Cursor != 7 {
		t.Errorf("cursor = %v, want 7", got.Cursor)
	}
}

func TestInsertSession_NullableColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.InsertSession(ctx, createTestSession("s-1", "box", "", testEpoch))
	})
	if err != nil {
		t.Fatalf("InsertSession() failed: %v", err)
	}

	var clientIsNull, cursorIsNull bool
	err = s.db.QueryRow(`
		SELECT client_id IS NULL, cursor IS NULL FROM sessions WHERE session_id = ?
	`, "s-1").Scan(&clientIsNull, &cursorIsNull)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if !clientIsNull {
		t.Error("empty client_id should be stored as NULL")
	}
	if !cursorIsNull {
		t.Error("nil cursor should be stored as NULL")
	}
}

func TestInsertSession_DuplicateIDConflicts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.InsertSession(ctx, createTestSession("s-1", "box", "", testEpoch))
	})
	if err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	err = s.Update(ctx, func(tx *Tx) error {
		return tx.InsertSession(ctx, createTestSession("s-1", "other", "", testEpoch))
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("second insert error = %v, want ErrConflict", err)
	}
}

func TestInsertSession_DedupKeyConflicts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.InsertSession(ctx, createTestSession("s-1", "box", "client-1", testEpoch))
	})
	if err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	err = s.Update(ctx, func(tx *Tx) error {
		return tx.InsertSession(ctx, createTestSession("s-2", "box", "client-1", testEpoch))
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate (machine, client_id) error = %v, want ErrConflict", err)
	}

	// Same client id on another machine is a different key.
	err = s.Update(ctx, func(tx *Tx) error {
		return tx.InsertSession(ctx, createTestSession("s-3", "laptop", "client-1", testEpoch))
	})
	if err != nil {
		t.Errorf("same client on other machine failed: %v", err)
	}

	// Sessions without a client id never collide with each other.
	err = s.Update(ctx, func(tx *Tx) error {
		if err := tx.InsertSession(ctx, createTestSession("s-4", "box", "", testEpoch)); err != nil {
			return err
		}
		return tx.InsertSession(ctx, createTestSession("s-5", "box", "", testEpoch))
	})
	if err != nil {
		t.Errorf("anonymous sessions failed: %v", err)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		_, err := tx.GetSession(ctx, "missing")
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession() error = %v, want ErrNotFound", err)
	}
}

func TestFindSessionByClient(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.InsertSession(ctx, createTestSession("s-1", "box", "client-1", testEpoch))
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	err = s.Update(ctx, func(tx *Tx) error {
		got, err := tx.FindSessionByClient(ctx, "box", "client-1")
		if err != nil {
			return err
		}
		if got.SessionID != "s-1" {
			t.Errorf("found session %q, want s-1", got.SessionID)
		}

		_, err = tx.FindSessionByClient(ctx, "laptop", "client-1")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("lookup on other machine error = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("FindSessionByClient() failed: %v", err)
	}
}

func TestResumeSession_KeepsIdentityAndCursor(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cursor := int64(12)
	orig := createTestSession("s-1", "box", "client-1", testEpoch)
	orig.Cursor = &cursor

	later := testEpoch.Add(time.Hour)
	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.InsertSession(ctx, orig); err != nil {
			return err
		}
		return tx.ResumeSession(ctx, Session{
			SessionID:       "s-1",
			DisplayID:       "ignored",
			Name:            "renamed",
			Cwd:             "/elsewhere",
			Repo:            "elsewhere",
			LivenessToken:   "99",
			LastHeartbeatAt: later,
		})
	})
	if err != nil {
		t.Fatalf("ResumeSession() failed: %v", err)
	}

	var got Session
	err = s.Update(ctx, func(tx *Tx) error {
		var err error
		got, err = tx.GetSession(ctx, "s-1")
		return err
	})
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}

	if got.Name != "renamed" || got.Cwd != "/elsewhere" || got.Repo != "elsewhere" {
		t.Errorf("mutable fields not updated: %+v", got)
	}
	if got.LivenessToken != "99" {
		t.Errorf("liveness_token = %q, want 99", got.LivenessToken)
	}
	if got.DisplayID != orig.DisplayID {
		t.Errorf("display_id changed to %q", got.DisplayID)
	}
	if !got.CreatedAt.Equal(testEpoch) {
		t.Errorf("created_at changed to %v", got.CreatedAt)
	}
	if !got.LastHeartbeatAt.Equal(later) {
		t.Errorf("last_heartbeat_at = %v, want %v", got.LastHeartbeatAt, later)
	}
	if got.Cursor == nil || *got.Cursor != 12 {
		t.Errorf("cursor = %v, want 12", got.Cursor)
	}
}

func TestResumeSession_Missing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.ResumeSession(ctx, createTestSession("ghost", "box", "", testEpoch))
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ResumeSession() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteSession(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.InsertSession(ctx, createTestSession("s-1", "box", "", testEpoch)); err != nil {
			return err
		}

		deleted, err := tx.DeleteSession(ctx, "s-1")
		if err != nil {
			return err
		}
		if !deleted {
			t.Error("DeleteSession() = false for existing session")
		}

		deleted, err = tx.DeleteSession(ctx, "s-1")
		if err != nil {
			return err
		}
		if deleted {
			t.Error("DeleteSession() = true for already-deleted session")
		}

		exists, err := tx.SessionExists(ctx, "s-1")
		if err != nil {
			return err
		}
		if exists {
			t.Error("session still exists after delete")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
}

func TestDeleteSession_LeavesEvents(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.InsertSession(ctx, createTestSession("s-1", "box", "", testEpoch)); err != nil {
			return err
		}
		e := createTestEvent("note", "all")
		e.PublisherSessionID = "s-1"
		if _, err := tx.InsertEvent(ctx, e); err != nil {
			return err
		}
		_, err := tx.DeleteSession(ctx, "s-1")
		return err
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	var publisher string
	if err := s.db.QueryRow("SELECT publisher_session_id FROM events").Scan(&publisher); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if publisher != "s-1" {
		t.Errorf("publisher_session_id = %q, want s-1", publisher)
	}
}

func TestHeartbeat(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	later := testEpoch.Add(5 * time.Minute)

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.InsertSession(ctx, createTestSession("s-1", "box", "", testEpoch)); err != nil {
			return err
		}

		ok, err := tx.Heartbeat(ctx, "s-1", later)
		if err != nil {
			return err
		}
		if !ok {
			t.Error("Heartbeat() = false for existing session")
		}

		ok, err = tx.Heartbeat(ctx, "ghost", later)
		if err != nil {
			return err
		}
		if ok {
			t.Error("Heartbeat() = true for missing session")
		}

		got, err := tx.GetSession(ctx, "s-1")
		if err != nil {
			return err
		}
		if !got.LastHeartbeatAt.Equal(later) {
			t.Errorf("last_heartbeat_at = %v, want %v", got.LastHeartbeatAt, later)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
}

func TestAdvanceCursor_NeverMovesBackwards(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	steps := []struct {
		eventID int64
		want    int64
	}{
		{5, 5},
		{9, 9},
		{3, 9},
		{9, 9},
		{10, 10},
	}

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.InsertSession(ctx, createTestSession("s-1", "box", "", testEpoch))
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	for _, step := range steps {
		err := s.Update(ctx, func(tx *Tx) error {
			ok, err := tx.AdvanceCursor(ctx, "s-1", step.eventID)
			if err != nil {
				return err
			}
			if !ok {
				t.Errorf("AdvanceCursor(%d) = false", step.eventID)
			}
			got, err := tx.GetSession(ctx, "s-1")
			if err != nil {
				return err
			}
			if got.Cursor == nil || *got.Cursor != step.want {
				t.Errorf("after AdvanceCursor(%d) cursor = %v, want %d", step.eventID, got.Cursor, step.want)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Update() failed: %v", err)
		}
	}
}

func TestAdvanceCursor_MissingSession(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		ok, err := tx.AdvanceCursor(ctx, "ghost", 1)
		if ok {
			t.Error("AdvanceCursor() = true for missing session")
		}
		return err
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
}

func TestListSessions_OrderedByHeartbeat(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		for _, sess := range []Session{
			createTestSession("a", "box", "", testEpoch),
			createTestSession("c", "box", "", testEpoch.Add(2*time.Minute)),
			createTestSession("b", "box", "", testEpoch.Add(2*time.Minute)),
			createTestSession("d", "box", "", testEpoch.Add(time.Minute)),
		} {
			if err := tx.InsertSession(ctx, sess); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	var got []Session
	err = s.Update(ctx, func(tx *Tx) error {
		var err error
		got, err = tx.ListSessions(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("ListSessions() failed: %v", err)
	}

	want := []string{"b", "c", "d", "a"}
	if len(got) != len(want) {
		t.Fatalf("got %d sessions, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].SessionID != id {
			t.Errorf("sessions[%d] = %q, want %q", i, got[i].SessionID, id)
		}
	}
}

func TestListSessions_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		got, err := tx.ListSessions(ctx)
		if err != nil {
			return err
		}
		if got == nil {
			t.Error("ListSessions() returned nil, want empty slice")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
}

func TestDeleteStaleSessions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	cutoff := testEpoch.Add(time.Hour)

	err := s.Update(ctx, func(tx *Tx) error {
		for _, sess := range []Session{
			createTestSession("old-b", "box", "", testEpoch),
			createTestSession("old-a", "box", "", testEpoch.Add(30*time.Minute)),
			createTestSession("edge", "box", "", cutoff),
			createTestSession("fresh", "box", "", cutoff.Add(time.Minute)),
		} {
			if err := tx.InsertSession(ctx, sess); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	var removed []string
	var remaining int
	err = s.Update(ctx, func(tx *Tx) error {
		var err error
		removed, err = tx.DeleteStaleSessions(ctx, cutoff)
		if err != nil {
			return err
		}
		remaining, err = tx.CountSessions(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("DeleteStaleSessions() failed: %v", err)
	}

	if len(removed) != 2 || removed[0] != "old-a" || removed[1] != "old-b" {
		t.Errorf("removed = %v, want [old-a old-b]", removed)
	}
	if remaining != 2 {
		t.Errorf("remaining sessions = %d, want 2", remaining)
	}
}

func TestDisplayIDInUse(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		sess := createTestSession("s-1", "box", "", testEpoch)
		sess.DisplayID = "brave-otter"
		if err := tx.InsertSession(ctx, sess); err != nil {
			return err
		}

		used, err := tx.DisplayIDInUse(ctx, "brave-otter")
		if err != nil {
			return err
		}
		if !used {
			t.Error("DisplayIDInUse(brave-otter) = false")
		}

		used, err = tx.DisplayIDInUse(ctx, "quiet-lynx")
		if err != nil {
			return err
		}
		if used {
			t.Error("DisplayIDInUse(quiet-lynx) = true")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
}

// Two handles on one file behave like two processes. Every racer runs the
// find-or-insert sequence; exactly one row may exist afterwards.
func TestUpdate_ConcurrentFindOrInsertAcrossHandles(t *testing.T) {
	path := t.TempDir() + "/shared.db"

	var handles []*Store
	for i := 0; i < 2; i++ {
		h, err := Open(path)
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		t.Cleanup(func() { h.Close() })
		handles = append(handles, h)
	}

	ctx := context.Background()
	const racers = 8

	var wg sync.WaitGroup
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := handles[i%len(handles)]
			errs <- h.Update(ctx, func(tx *Tx) error {
				_, err := tx.FindSessionByClient(ctx, "box", "client-1")
				if err == nil {
					return nil
				}
				if !errors.Is(err, ErrNotFound) {
					return err
				}
				id := "s-" + string(rune('a'+i))
				return tx.InsertSession(ctx, createTestSession(id, "box", "client-1", testEpoch))
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("racer failed: %v", err)
		}
	}

	var count int
	if err := handles[0].db.QueryRow(
		"SELECT COUNT(*) FROM sessions WHERE machine = ? AND client_id = ?", "box", "client-1",
	).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("sessions for dedup key = %d, want 1", count)
	}
}
