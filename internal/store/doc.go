// Package store provides SQLite-backed durable storage for the agent bus.
//
// Two tables live in one database file shared by every process that talks
// to the bus:
//   - sessions: one row per active session (expiry and unregister delete rows)
//   - events: append-only coordination log
//
// # Critical Patterns
//
// Monotonic event ids
//   - events.id is INTEGER PRIMARY KEY AUTOINCREMENT, so ids are never reused
//     even after the highest row is removed by an administrative action
//   - Cursors are event ids; "id > cursor" is the only range predicate
//
// Atomic dedup
//   - UNIQUE(machine, client_id) WHERE client_id IS NOT NULL
//   - Every transaction is BEGIN IMMEDIATE (_txlock=immediate), so a
//     check-then-insert in one Update call cannot interleave with another
//     process doing the same
//
// Deterministic query results
//   - Event queries order by id; session listings by last_heartbeat_at DESC,
//     session_id ASC
//
// # Database Configuration
//
//   - WAL mode: concurrent readers during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: wait for the write lock up to 5 seconds
//
// Timestamps are stored as INTEGER unix milliseconds (UTC).
package store
