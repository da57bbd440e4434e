package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a sequence of bus operations and the checks run afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Host is the engine's local machine name. Defaults to "local".
	Host string `yaml:"host,omitempty"`

	// SessionTimeout overrides the heartbeat timeout, e.g. "1h".
	SessionTimeout string `yaml:"session_timeout,omitempty"`

	// Steps run in order against one engine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final store state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one bus operation. Which fields apply depends on Op.
type Step struct {
	Op string `yaml:"op"`

	// Session is the acting session id (publisher, reader or unregister
	// target).
	Session string `yaml:"session,omitempty"`

	// register
	ClientID string `yaml:"client_id,omitempty"`
	Name     string `yaml:"name,omitempty"`
	Repo     string `yaml:"repo,omitempty"`
	Machine  string `yaml:"machine,omitempty"`
	Cwd      string `yaml:"cwd,omitempty"`
	PID      string `yaml:"pid,omitempty"`

	// publish
	Type    string `yaml:"type,omitempty"`
	Payload string `yaml:"payload,omitempty"`

	// publish and get_events
	Channel string `yaml:"channel,omitempty"`

	// get_events
	Cursor *int64   `yaml:"cursor,omitempty"`
	Order  string   `yaml:"order,omitempty"`
	Limit  int      `yaml:"limit,omitempty"`
	Resume bool     `yaml:"resume,omitempty"`
	Types  []string `yaml:"types,omitempty"`

	// advance
	Duration string `yaml:"duration,omitempty"`

	// Expect validates the step's outcome. Nil means the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the outcome of one step. Only set fields are checked.
type Expect struct {
	// Error is the expected error code, e.g. INVALID_ARGUMENT.
	Error string `yaml:"error,omitempty"`

	// register
	Resumed        *bool `yaml:"resumed,omitempty"`
	ActiveSessions *int  `yaml:"active_sessions,omitempty"`

	// publish
	Notify *bool `yaml:"notify,omitempty"`

	// get_events
	EventTypes []string `yaml:"event_types,omitempty"`
	Count      *int     `yaml:"count,omitempty"`
	NextCursor *int64   `yaml:"next_cursor,omitempty"`

	// list_sessions, sweep
	Sessions []string `yaml:"sessions,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Op is used by trace_count.
	Op string `yaml:"op,omitempty"`

	// Ops is the expected order for trace_order.
	Ops []string `yaml:"ops,omitempty"`

	// Count is used by trace_count and event_count.
	Count int `yaml:"count"`

	// Sessions is the expected listing for sessions.
	Sessions []string `yaml:"sessions,omitempty"`

	// Channel and EventType filter event_count.
	Channel   string `yaml:"channel,omitempty"`
	EventType string `yaml:"event_type,omitempty"`
}

// Step operations.
const (
	OpRegister     = "register"
	OpPublish      = "publish"
	OpGetEvents    = "get_events"
	OpUnregister   = "unregister"
	OpListSessions = "list_sessions"
	OpListChannels = "list_channels"
	OpSweep        = "sweep"
	OpAdvance      = "advance"
	OpKill         = "kill"
)

// Assertion type constants.
const (
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
	AssertSessions   = "sessions"
	AssertEventCount = "event_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if s.SessionTimeout != "" {
		if d, err := time.ParseDuration(s.SessionTimeout); err != nil || d <= 0 {
			return fmt.Errorf("session_timeout %q must be a positive duration", s.SessionTimeout)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks the fields an operation cannot run without. Invalid
// bus arguments are left to the engine so scenarios can expect the error.
func validateStep(index int, st *Step) error {
	switch st.Op {
	case OpRegister, OpPublish, OpGetEvents, OpUnregister, OpListSessions, OpListChannels, OpSweep:
	case OpAdvance:
		if _, err := time.ParseDuration(st.Duration); err != nil {
			return fmt.Errorf("steps[%d]: advance needs a duration: %w", index, err)
		}
	case OpKill:
		if st.PID == "" {
			return fmt.Errorf("steps[%d]: pid is required for kill", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertSessions:
	case AssertEventCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
