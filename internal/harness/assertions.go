package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"

	"github.com/roach88/agentbus/internal/engine"
	"github.com/roach88/agentbus/internal/store"
)

var dialect = goqu.Dialect("sqlite3")

// AssertionContext provides access to the scenario's engine and store.
type AssertionContext struct {
	Store  *store.Store
	Engine *engine.Engine
	Ctx    context.Context
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Op, event.Session)
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertSessions:
			err = assertSessions(actx, a)
		case AssertEventCount:
			err = assertEventCount(actx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertTraceCount checks that the op appears exactly the specified number
// of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op == assertion.Op {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that ops appear in the specified order. They need
// not be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(assertion.Ops) && event.Op == assertion.Ops[next] {
			next++
		}
	}

	if next < len(assertion.Ops) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("ops in order: %v", assertion.Ops),
			Actual:   fmt.Sprintf("missing %s after position %d", assertion.Ops[next], next),
			Trace:    trace,
		}
	}
	return nil
}

// assertSessions lists sessions through the engine, so expired sessions are
// swept first, and compares ids in listing order.
func assertSessions(actx *AssertionContext, assertion Assertion) error {
	sessions, err := actx.Engine.ListSessions(actx.Ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	got := make([]string, len(sessions))
	for i, s := range sessions {
		got[i] = s.SessionID
	}
	want := assertion.Sessions
	if want == nil {
		want = []string{}
	}

	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     AssertSessions,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// assertEventCount counts stored events, optionally filtered by channel
// and event type. It reads the table directly and never sweeps.
func assertEventCount(actx *AssertionContext, assertion Assertion) error {
	ds := dialect.From("events").Select(goqu.COUNT("*"))
	if assertion.Channel != "" {
		ds = ds.Where(goqu.C("channel").Eq(assertion.Channel))
	}
	if assertion.EventType != "" {
		ds = ds.Where(goqu.C("event_type").Eq(assertion.EventType))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build event count query: %w", err)
	}

	var count int
	if err := actx.Store.DB().QueryRowContext(actx.Ctx, query, args...).Scan(&count); err != nil {
		return fmt.Errorf("count events: %w", err)
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d events%s", assertion.Count, describeFilter(assertion)),
			Actual:   fmt.Sprintf("%d events", count),
		}
	}
	return nil
}

func describeFilter(a Assertion) string {
	var parts []string
	if a.Channel != "" {
		parts = append(parts, "channel="+a.Channel)
	}
	if a.EventType != "" {
		parts = append(parts, "event_type="+a.EventType)
	}
	if len(parts) == 0 {
		return ""
	}
	return " where " + strings.Join(parts, " and ")
}
