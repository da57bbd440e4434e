package engine

import "time"

// Clock supplies wall-clock time for heartbeats, expiry and event stamps.
//
// Ordering never depends on it: event ids come from the store's sequence.
// Tests substitute a manual clock to make expiry deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
