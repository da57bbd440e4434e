package engine

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/agentbus/internal/liveness"
	"github.com/roach88/agentbus/internal/store"
	"github.com/roach88/agentbus/internal/telemetry"
)

// DefaultSessionTimeout is how long a session may go without a heartbeat
// before the sweep removes it. Local sessions whose process has died are
// removed sooner by the liveness check.
const DefaultSessionTimeout = 24 * time.Hour

const (
	// DefaultLimit is the page size used when GetEvents gets no limit.
	DefaultLimit = 50

	// MaxLimit caps the page size of GetEvents.
	MaxLimit = 1000

	// MaxPayloadBytes is the largest payload Publish accepts.
	MaxPayloadBytes = 64 << 10

	// maxDisplayIDAttempts bounds random display id draws before falling
	// back to a numeric suffix.
	maxDisplayIDAttempts = 10
)

// Lifecycle event types published by the engine itself.
const (
	EventSessionRegistered   = "session_registered"
	EventSessionUnregistered = "session_unregistered"
)

// LivenessChecker reports whether the local process behind a liveness token
// still runs. Implementations must answer true when they cannot tell.
type LivenessChecker interface {
	Alive(ctx context.Context, token string) bool
}

// Engine is the session registry and event log.
//
// It holds no registry state of its own: every operation reads and writes
// the shared store inside one transaction, so any number of processes can
// run an Engine over the same database file.
//
// Thread-safety: all methods are safe for concurrent use.
type Engine struct {
	store          *store.Store
	clock          Clock
	ids            IDGenerator
	displayIDs     IDGenerator
	liveness       LivenessChecker
	notifier       Notifier
	hostName       string
	sessionTimeout time.Duration
	logger         zerolog.Logger
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithClock sets the wall clock. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets the session id generator. Default: UUIDGenerator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithDisplayIDGenerator sets the display id generator.
// Default: WordPairGenerator.
func WithDisplayIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.displayIDs = g }
}

// WithLivenessChecker sets the process liveness check.
// Default: liveness.ProcessChecker.
func WithLivenessChecker(c LivenessChecker) Option {
	return func(e *Engine) { e.liveness = c }
}

// WithNotifier sets where direct-message notifications go.
// Default: none; decisions are computed but not delivered.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithHostName sets the local host name used for the default machine and
// for deciding which sessions are local. Default: os.Hostname().
func WithHostName(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.hostName = name
		}
	}
}

// WithSessionTimeout sets the inactivity threshold.
// Default: DefaultSessionTimeout. Non-positive values are ignored.
func WithSessionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sessionTimeout = d
		}
	}
}

// WithLogger sets the logger. Default: zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine over an opened store.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          s,
		clock:          SystemClock{},
		ids:            UUIDGenerator{},
		displayIDs:     WordPairGenerator{},
		liveness:       liveness.ProcessChecker{},
		hostName:       localHostName(),
		sessionTimeout: DefaultSessionTimeout,
		logger:         zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// HostName returns the host name the engine treats as local.
func (e *Engine) HostName() string {
	return e.hostName
}

// SessionTimeout returns the inactivity threshold in effect.
func (e *Engine) SessionTimeout() time.Duration {
	return e.sessionTimeout
}

// update runs fn in one immediate store transaction and classifies any
// failure as an engine Error.
func (e *Engine) update(ctx context.Context, op string, fn func(tx *store.Tx) error) error {
	return fromStore(op, e.store.Update(ctx, fn))
}

// record updates the operation metrics once a call returns.
func (e *Engine) record(op string, start time.Time, err error) {
	telemetry.OperationDurationSeconds.With(op).Observe(time.Since(start).Seconds())

	result := "ok"
	if err != nil {
		result = "error"
		if code := CodeOf(err); code != "" {
			result = string(code)
		}
	}
	telemetry.OperationsTotal.With(op, result).Inc()
}

func localHostName() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}
