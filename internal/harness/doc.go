// Package harness runs bus scenarios against a real engine.
//
// A scenario is a YAML file listing operations performed by one or more
// sessions against a fresh in-memory store. Time and ids are deterministic,
// so the trace a scenario produces can be compared against a golden file.
//
// # Scenario Format
//
//	name: repo_channel
//	description: "A repo announcement reaches peers in the same repo"
//	host: box
//	steps:
//	  - op: register
//	    client_id: a
//	    name: A
//	    repo: proj
//	    expect:
//	      resumed: false
//	  - op: publish
//	    session: a
//	    type: api_ready
//	    payload: "v2 is up"
//	    channel: repo:proj
//	  - op: get_events
//	    session: b
//	    channel: repo:proj
//	    order: asc
//	    expect:
//	      event_types: [api_ready]
//	assertions:
//	  - type: sessions
//	    sessions: [a, b]
//	  - type: event_count
//	    channel: repo:proj
//	    count: 1
//
// # Operations
//
//   - register: client_id, name, repo, machine, cwd, pid
//   - publish: session, type, payload, channel
//   - get_events: session, channel, cursor, order, limit, resume, types.
//     Without cursor or resume, a session reads from the cursor it was
//     handed at registration.
//   - unregister: session or client_id, machine
//   - list_sessions, list_channels, sweep
//   - advance: duration moves the clock forward
//   - kill: pid marks a liveness token dead
//
// # Assertion Types
//
//   - trace_count: op appears exactly count times in the trace
//   - trace_order: ops appear in the given order
//   - sessions: the active session ids, in listing order
//   - event_count: number of stored events, optionally by channel and type
//
// # Golden Files
//
// RunWithGolden stores traces in testdata/golden/{name}.golden. Regenerate
// them with:
//
//	go test ./internal/harness -update
package harness
