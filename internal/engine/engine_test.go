package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/agentbus/internal/store"
	"github.com/roach88/agentbus/internal/testutil"
)

const testHost = "box"

// fakeLiveness reports every token alive until it is killed.
type fakeLiveness struct {
	mu   sync.Mutex
	dead map[string]bool
}

func newFakeLiveness() *fakeLiveness {
	return &fakeLiveness{dead: make(map[string]bool)}
}

func (f *fakeLiveness) Alive(_ context.Context, token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead[token]
}

func (f *fakeLiveness) kill(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead[token] = true
}

// recordingNotifier keeps every notification it is asked to deliver.
type recordingNotifier struct {
	mu  sync.Mutex
	got []Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingNotifier) delivered() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.got...)
}

type testEnv struct {
	eng      *Engine
	store    *store.Store
	path     string
	clock    *testutil.ManualClock
	live     *fakeLiveness
	notifier *recordingNotifier
}

func setupTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

// newTestEnv builds an engine with deterministic ids and time, host "box".
// Extra options are applied last and may override the defaults.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	s, path := setupTestStore(t)

	env := &testEnv{
		store:    s,
		path:     path,
		clock:    testutil.NewManualClock(time.Time{}),
		live:     newFakeLiveness(),
		notifier: &recordingNotifier{},
	}

	base := []Option{
		WithClock(env.clock),
		WithHostName(testHost),
		WithIDGenerator(testutil.NewSequenceGenerator("uuid")),
		WithDisplayIDGenerator(testutil.NewSequenceGenerator("display")),
		WithLivenessChecker(env.live),
		WithNotifier(env.notifier),
	}
	env.eng = New(s, append(base, opts...)...)
	return env
}

func (env *testEnv) register(t *testing.T, req RegisterRequest) RegisterResult {
	t.Helper()
	if req.Cwd == "" {
		req.Cwd = "/src/proj"
	}
	res, err := env.eng.Register(context.Background(), req)
	require.NoError(t, err)
	return res
}

func (env *testEnv) publish(t *testing.T, req PublishRequest) PublishResult {
	t.Helper()
	res, err := env.eng.Publish(context.Background(), req)
	require.NoError(t, err)
	return res
}

func (env *testEnv) getEvents(t *testing.T, req GetEventsRequest) GetEventsResult {
	t.Helper()
	res, err := env.eng.GetEvents(context.Background(), req)
	require.NoError(t, err)
	return res
}

func (env *testEnv) sessionIDs(t *testing.T) []string {
	t.Helper()
	sessions, err := env.eng.ListSessions(context.Background())
	require.NoError(t, err)
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.SessionID
	}
	return ids
}

func (env *testEnv) eventCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, env.store.DB().QueryRow("SELECT COUNT(*) FROM events").Scan(&n))
	return n
}

func ids(events []Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func ptr(v int64) *int64 { return &v }

func TestNew_Defaults(t *testing.T) {
	s, _ := setupTestStore(t)
	eng := New(s)

	assert.Equal(t, DefaultSessionTimeout, eng.SessionTimeout())
	assert.NotEmpty(t, eng.HostName())
	assert.IsType(t, SystemClock{}, eng.clock)
	assert.IsType(t, UUIDGenerator{}, eng.ids)
	assert.IsType(t, WordPairGenerator{}, eng.displayIDs)
	assert.Nil(t, eng.notifier)
}

func TestNew_OptionsIgnoreZeroValues(t *testing.T) {
	s, _ := setupTestStore(t)
	eng := New(s, WithHostName(""), WithSessionTimeout(0), WithSessionTimeout(-time.Hour))

	assert.NotEmpty(t, eng.HostName())
	assert.Equal(t, DefaultSessionTimeout, eng.SessionTimeout())
}

func TestNew_WithSessionTimeout(t *testing.T) {
	s, _ := setupTestStore(t)
	eng := New(s, WithSessionTimeout(10*time.Minute))
	assert.Equal(t, 10*time.Minute, eng.SessionTimeout())
}

func TestEngine_StorageUnavailable(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Close())

	_, err := env.eng.ListSessions(context.Background())
	require.Error(t, err)
	assert.True(t, IsStorageUnavailable(err), "got %v", err)

	_, err = env.eng.Publish(context.Background(), PublishRequest{EventType: "x"})
	assert.True(t, IsStorageUnavailable(err), "got %v", err)

	var ee *Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "publish", ee.Op)
}

// Two engines over one file behave like two processes.
func TestEngine_SharedStoreAcrossHandles(t *testing.T) {
	env := newTestEnv(t)

	other, err := store.Open(env.path)
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	eng2 := New(other,
		WithClock(env.clock),
		WithHostName(testHost),
		WithLivenessChecker(env.live),
		WithDisplayIDGenerator(testutil.NewSequenceGenerator("other")),
	)

	a := env.register(t, RegisterRequest{Name: "a", ClientID: "a"})

	res, err := eng2.Publish(context.Background(), PublishRequest{EventType: "hello", SessionID: "b-less"})
	require.NoError(t, err)

	got := env.getEvents(t, GetEventsRequest{Cursor: a.Cursor, Order: OrderAsc})
	require.Len(t, got.Events, 1)
	assert.Equal(t, res.EventID, got.Events[0].ID)

	sessions, err := eng2.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "a", sessions[0].SessionID)
}
