package harness

// TraceEvent records one executed step and what the bus returned. Only the
// fields relevant to Op are set; time-dependent values are left out so
// traces are stable.
type TraceEvent struct {
	Seq     int    `json:"seq"`
	Op      string `json:"op"`
	Session string `json:"session,omitempty"`

	// Error is the engine error code when the step failed.
	Error string `json:"error,omitempty"`

	SessionID      string `json:"session_id,omitempty"`
	DisplayID      string `json:"display_id,omitempty"`
	Resumed        bool   `json:"resumed,omitempty"`
	Cursor         *int64 `json:"cursor,omitempty"`
	ActiveSessions *int   `json:"active_sessions,omitempty"`

	EventID   int64  `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Notify    *bool  `json:"notify,omitempty"`

	Events     []string `json:"events,omitempty"`
	NextCursor *int64   `json:"next_cursor,omitempty"`

	Sessions []string `json:"sessions,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event, assigning the next sequence number.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
