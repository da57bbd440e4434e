// Package engine implements the agent bus: a session registry and an
// append-only event log shared by independent processes.
//
// ARCHITECTURE:
//
// Stateless Engine:
// The registry is the sessions table. An Engine keeps no in-memory view of
// it; every call re-reads the store so several processes stay consistent
// over one SQLite file.
//
// Operation Flow:
// 1. Validate the request struct (InvalidArgument before any write)
// 2. Open one BEGIN IMMEDIATE transaction
// 3. Refresh the caller's heartbeat (publish, get_events)
// 4. Sweep expired sessions
// 5. Do the operation's reads and writes
// 6. Commit, then hand any notification decision to the Notifier
//
// CRITICAL PATTERNS:
//
// Ordering:
// Event ids come from the store's AUTOINCREMENT sequence. Wall-clock time
// is recorded for display and expiry only, never for ordering.
//
// Dedup and resume:
// (machine, client_id) identifies a logical session across restarts. The
// lookup and the insert share one transaction and a partial UNIQUE index
// backs them up; a lost race is retried once.
//
// Cursors:
// A cursor is the id of the last event seen. A session's persisted cursor
// only moves forward.
//
// Expiry:
// There is no background timer. Register, list, publish and get_events
// sweep inline: dead local processes first, then heartbeat timeout.
package engine
