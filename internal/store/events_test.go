package store

import (
	"context"
	"testing"
)

// seedEvents inserts events in order and returns their assigned ids.
func seedEvents(t *testing.T, s *Store, events ...Event) []int64 {
	t.Helper()
	ctx := context.Background()

	var ids []int64
	err := s.Update(ctx, func(tx *Tx) error {
		for _, e := range events {
			stored, err := tx.InsertEvent(ctx, e)
			if err != nil {
				return err
			}
			ids = append(ids, stored.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed events failed: %v", err)
	}
	return ids
}

func queryEvents(t *testing.T, s *Store, q EventQuery) []Event {
	t.Helper()
	ctx := context.Background()

	var got []Event
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		got, err = tx.QueryEvents(ctx, q)
		return err
	})
	if err != nil {
		t.Fatalf("QueryEvents() failed: %v", err)
	}
	return got
}

func eventIDs(events []Event) []int64 {
	ids := make([]int64, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestInsertEvent_IDsStrictlyIncrease(t *testing.T) {
	s := createTestStore(t)

	ids := seedEvents(t, s,
		createTestEvent("a", "all"),
		createTestEvent("b", "all"),
		createTestEvent("c", "all"),
	)

	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("id[%d] = %d, not greater than id[%d] = %d", i, ids[i], i-1, ids[i-1])
		}
	}
}

func TestInsertEvent_DefaultsChannel(t *testing.T) {
	s := createTestStore(t)

	e := createTestEvent("a", "")
	seedEvents(t, s, e)

	got := queryEvents(t, s, EventQuery{Limit: 10})
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Channel != "all" {
		t.Errorf("channel = %q, want all", got[0].Channel)
	}
}

func TestInsertEvent_RoundTripsFields(t *testing.T) {
	s := createTestStore(t)

	e := createTestEvent("task_completed", "repo:proj")
	e.PublisherSessionID = "s-1"
	e.Payload = "héllo\nworld"
	seedEvents(t, s, e)

	got := queryEvents(t, s, EventQuery{Limit: 10})
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].EventType != "task_completed" {
		t.Errorf("event_type = %q", got[0].EventType)
	}
	if got[0].Payload != "héllo\nworld" {
		t.Errorf("payload = %q", got[0].Payload)
	}
	if got[0].PublisherSessionID != "s-1" {
		t.Errorf("publisher = %q", got[0].PublisherSessionID)
	}
	if !got[0].CreatedAt.Equal(testEpoch) {
		t.Errorf("created_at = %v, want %v", got[0].CreatedAt, testEpoch)
	}
}

func TestQueryEvents_AfterID(t *testing.T) {
	s := createTestStore(t)

	ids := seedEvents(t, s,
		createTestEvent("a", "all"),
		createTestEvent("b", "all"),
		createTestEvent("c", "all"),
	)

	got := queryEvents(t, s, EventQuery{AfterID: &ids[0], Limit: 10})
	if want := ids[1:]; !equalIDs(eventIDs(got), want) {
		t.Errorf("ids = %v, want %v", eventIDs(got), want)
	}

	got = queryEvents(t, s, EventQuery{AfterID: &ids[2], Limit: 10})
	if len(got) != 0 {
		t.Errorf("got %d events after newest id, want 0", len(got))
	}
	if got == nil {
		t.Error("QueryEvents() returned nil, want empty slice")
	}
}

func TestQueryEvents_Channels(t *testing.T) {
	s := createTestStore(t)

	ids := seedEvents(t, s,
		createTestEvent("a", "all"),
		createTestEvent("b", "repo:proj"),
		createTestEvent("c", "session:s-1"),
		createTestEvent("d", "repo:other"),
	)

	got := queryEvents(t, s, EventQuery{Channels: []string{"all", "repo:proj"}, Limit: 10})
	if want := []int64{ids[0], ids[1]}; !equalIDs(eventIDs(got), want) {
		t.Errorf("ids = %v, want %v", eventIDs(got), want)
	}
}

func TestQueryEvents_EventTypes(t *testing.T) {
	s := createTestStore(t)

	ids := seedEvents(t, s,
		createTestEvent("note", "all"),
		createTestEvent("task_completed", "all"),
		createTestEvent("note", "all"),
	)

	got := queryEvents(t, s, EventQuery{EventTypes: []string{"note"}, Limit: 10})
	if want := []int64{ids[0], ids[2]}; !equalIDs(eventIDs(got), want) {
		t.Errorf("ids = %v, want %v", eventIDs(got), want)
	}
}

func TestQueryEvents_DescendingWithLimit(t *testing.T) {
	s := createTestStore(t)

	ids := seedEvents(t, s,
		createTestEvent("a", "all"),
		createTestEvent("b", "all"),
		createTestEvent("c", "all"),
		createTestEvent("d", "all"),
	)

	got := queryEvents(t, s, EventQuery{Descending: true, Limit: 2})
	if want := []int64{ids[3], ids[2]}; !equalIDs(eventIDs(got), want) {
		t.Errorf("ids = %v, want %v", eventIDs(got), want)
	}

	got = queryEvents(t, s, EventQuery{AfterID: &ids[0], Descending: true, Limit: 10})
	if want := []int64{ids[3], ids[2], ids[1]}; !equalIDs(eventIDs(got), want) {
		t.Errorf("ids = %v, want %v", eventIDs(got), want)
	}
}

func TestQueryEvents_AscendingWithLimit(t *testing.T) {
	s := createTestStore(t)

	ids := seedEvents(t, s,
		createTestEvent("a", "all"),
		createTestEvent("b", "all"),
		createTestEvent("c", "all"),
	)

	got := queryEvents(t, s, EventQuery{Limit: 2})
	if want := ids[:2]; !equalIDs(eventIDs(got), want) {
		t.Errorf("ids = %v, want %v", eventIDs(got), want)
	}
}

func TestQueryEvents_RejectsNonPositiveLimit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		_, err := tx.QueryEvents(ctx, EventQuery{Limit: 0})
		return err
	})
	if err == nil {
		t.Error("expected error for zero limit, got nil")
	}
}

func TestMaxEventID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		head, err := tx.MaxEventID(ctx)
		if err != nil {
			return err
		}
		if head != nil {
			t.Errorf("MaxEventID() on empty log = %d, want nil", *head)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	ids := seedEvents(t, s, createTestEvent("a", "all"), createTestEvent("b", "all"))

	err = s.Update(ctx, func(tx *Tx) error {
		head, err := tx.MaxEventID(ctx)
		if err != nil {
			return err
		}
		if head == nil || *head != ids[1] {
			t.Errorf("MaxEventID() = %v, want %d", head, ids[1])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
}
