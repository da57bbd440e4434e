package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/agentbus/internal/engine"
	"github.com/roach88/agentbus/internal/store"
	"github.com/roach88/agentbus/internal/testutil"
)

const (
	defaultHost = "local"
	defaultCwd  = "/src/scenario"
)

// Harness executes the steps of one scenario.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.ManualClock
	live   *liveness

	// cursors tracks where each session reads next: the cursor handed out
	// at registration, then the next_cursor of its last read.
	cursors map[string]*int64
}

// liveness reports every token alive until the scenario kills it.
type liveness struct {
	mu   sync.Mutex
	dead map[string]bool
}

func (l *liveness) Alive(_ context.Context, token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.dead[token]
}

func (l *liveness) kill(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dead[token] = true
}

// discardNotifier accepts every notification. Whether one fires is visible
// in the publish result.
type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, engine.Notification) error { return nil }

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a manual clock and
// sequential ids ("session-N", "display-N"), so identical scenarios produce
// identical traces.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	host := scenario.Host
	if host == "" {
		host = defaultHost
	}

	h := &Harness{
		store:   st,
		clock:   testutil.NewManualClock(time.Time{}),
		live:    &liveness{dead: make(map[string]bool)},
		cursors: make(map[string]*int64),
	}

	opts := []engine.Option{
		engine.WithClock(h.clock),
		engine.WithHostName(host),
		engine.WithIDGenerator(testutil.NewSequenceGenerator("session")),
		engine.WithDisplayIDGenerator(testutil.NewSequenceGenerator("display")),
		engine.WithLivenessChecker(h.live),
		engine.WithNotifier(discardNotifier{}),
		engine.WithLogger(zerolog.Nop()),
	}
	if scenario.SessionTimeout != "" {
		d, err := time.ParseDuration(scenario.SessionTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid session_timeout: %w", err)
		}
		opts = append(opts, engine.WithSessionTimeout(d))
	}
	h.engine = engine.New(st, opts...)

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		result.AddTrace(ev)

		for _, msg := range checkExpect(step.Expect, ev) {
			result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, step.Op, msg))
		}
	}

	actx := &AssertionContext{Store: st, Engine: h.engine, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// execute runs one step. Engine errors are recorded in the trace; only
// harness failures are returned.
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	ev := TraceEvent{Op: step.Op, Session: step.Session}

	var err error
	switch step.Op {
	case OpRegister:
		err = h.register(ctx, step, &ev)
	case OpPublish:
		err = h.publish(ctx, step, &ev)
	case OpGetEvents:
		err = h.getEvents(ctx, step, &ev)
	case OpUnregister:
		var res engine.UnregisterResult
		res, err = h.engine.Unregister(ctx, engine.UnregisterRequest{
			SessionID: step.Session,
			ClientID:  step.ClientID,
			Machine:   step.Machine,
		})
		if err == nil {
			delete(h.cursors, res.SessionID)
			ev.SessionID = res.SessionID
			ev.ActiveSessions = &res.ActiveSessions
		}
	case OpListSessions:
		var sessions []engine.SessionInfo
		sessions, err = h.engine.ListSessions(ctx)
		ev.Sessions = make([]string, 0, len(sessions))
		for _, s := range sessions {
			ev.Sessions = append(ev.Sessions, s.SessionID)
		}
	case OpListChannels:
		var chans []engine.ChannelInfo
		chans, err = h.engine.ListChannels(ctx)
		for _, c := range chans {
			ev.Channels = append(ev.Channels, fmt.Sprintf("%s=%d", c.Channel, c.Subscribers))
		}
	case OpSweep:
		var res engine.SweepResult
		res, err = h.engine.Sweep(ctx)
		ev.Sessions = res.Removed
	case OpAdvance:
		d, perr := time.ParseDuration(step.Duration)
		if perr != nil {
			return ev, perr
		}
		h.clock.Advance(d)
	case OpKill:
		h.live.kill(step.PID)
	default:
		return ev, fmt.Errorf("unknown op %q", step.Op)
	}

	if err != nil {
		code := engine.CodeOf(err)
		if code == "" {
			return ev, err
		}
		ev.Error = string(code)
	}
	return ev, nil
}

func (h *Harness) register(ctx context.Context, step Step, ev *TraceEvent) error {
	cwd := step.Cwd
	if cwd == "" {
		cwd = defaultCwd
	}

	res, err := h.engine.Register(ctx, engine.RegisterRequest{
		Name:          step.Name,
		Machine:       step.Machine,
		Cwd:           cwd,
		Repo:          step.Repo,
		ClientID:      step.ClientID,
		LivenessToken: step.PID,
	})
	if err != nil {
		return err
	}

	h.cursors[res.SessionID] = res.Cursor
	ev.SessionID = res.SessionID
	ev.DisplayID = res.DisplayID
	ev.Resumed = res.Resumed
	ev.Cursor = res.Cursor
	ev.ActiveSessions = &res.ActiveSessions
	return nil
}

func (h *Harness) publish(ctx context.Context, step Step, ev *TraceEvent) error {
	res, err := h.engine.Publish(ctx, engine.PublishRequest{
		EventType: step.Type,
		Payload:   step.Payload,
		SessionID: step.Session,
		Channel:   step.Channel,
	})
	if err != nil {
		return err
	}

	ev.EventID = res.EventID
	ev.EventType = res.EventType
	ev.Channel = res.Channel
	if strings.HasPrefix(res.Channel, "session:") {
		fired := res.Notification.ShouldFire
		ev.Notify = &fired
	}
	return nil
}

func (h *Harness) getEvents(ctx context.Context, step Step, ev *TraceEvent) error {
	req := engine.GetEventsRequest{
		Cursor:     step.Cursor,
		SessionID:  step.Session,
		Limit:      step.Limit,
		Order:      step.Order,
		Channel:    step.Channel,
		Resume:     step.Resume,
		EventTypes: step.Types,
	}
	if req.Cursor == nil && !req.Resume {
		req.Cursor = h.cursors[step.Session]
	}

	res, err := h.engine.GetEvents(ctx, req)
	if err != nil {
		return err
	}

	if _, ok := h.cursors[step.Session]; ok && len(res.Events) > 0 {
		h.cursors[step.Session] = res.NextCursor
	}
	ev.Channel = step.Channel
	ev.Events = make([]string, 0, len(res.Events))
	for _, e := range res.Events {
		ev.Events = append(ev.Events, fmt.Sprintf("%d:%s@%s", e.ID, e.EventType, e.Channel))
	}
	ev.NextCursor = res.NextCursor
	return nil
}

// checkExpect compares a traced step against its expect clause.
func checkExpect(exp *Expect, ev TraceEvent) []string {
	if exp == nil {
		if ev.Error != "" {
			return []string{fmt.Sprintf("unexpected error %s", ev.Error)}
		}
		return nil
	}

	var errs []string
	if exp.Error != ev.Error {
		errs = append(errs, fmt.Sprintf("expected error %q, got %q", exp.Error, ev.Error))
	}
	if exp.Resumed != nil && *exp.Resumed != ev.Resumed {
		errs = append(errs, fmt.Sprintf("expected resumed=%v", *exp.Resumed))
	}
	if exp.ActiveSessions != nil && (ev.ActiveSessions == nil || *exp.ActiveSessions != *ev.ActiveSessions) {
		errs = append(errs, fmt.Sprintf("expected %d active sessions, got %v", *exp.ActiveSessions, deref(ev.ActiveSessions)))
	}
	if exp.Notify != nil && (ev.Notify == nil || *exp.Notify != *ev.Notify) {
		errs = append(errs, fmt.Sprintf("expected notify=%v", *exp.Notify))
	}
	if exp.EventTypes != nil {
		got := make([]string, len(ev.Events))
		for i, e := range ev.Events {
			_, rest, _ := strings.Cut(e, ":")
			got[i], _, _ = strings.Cut(rest, "@")
		}
		if !slices.Equal(exp.EventTypes, got) {
			errs = append(errs, fmt.Sprintf("expected event types %v, got %v", exp.EventTypes, got))
		}
	}
	if exp.Count != nil && *exp.Count != len(ev.Events) {
		errs = append(errs, fmt.Sprintf("expected %d events, got %d", *exp.Count, len(ev.Events)))
	}
	if exp.NextCursor != nil && (ev.NextCursor == nil || *exp.NextCursor != *ev.NextCursor) {
		errs = append(errs, fmt.Sprintf("expected next_cursor %d, got %v", *exp.NextCursor, deref(ev.NextCursor)))
	}
	if exp.Sessions != nil && !slices.Equal(exp.Sessions, ev.Sessions) {
		errs = append(errs, fmt.Sprintf("expected sessions %v, got %v", exp.Sessions, ev.Sessions))
	}
	return errs
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
