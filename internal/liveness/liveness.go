// Package liveness reports whether a local process is still running.
package liveness

import (
	"context"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessChecker checks PIDs against the local process table.
type ProcessChecker struct{}

// ParsePID interprets a liveness token as a process id.
// Returns false for anything that is not a positive decimal int32.
func ParsePID(token string) (int32, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, false
	}
	pid, err := strconv.ParseInt(token, 10, 32)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return int32(pid), true
}

// Alive reports whether the process named by token exists.
//
// Tokens that are not a PID, and lookups that fail, count as alive: the
// checker only ever proves death.
func (ProcessChecker) Alive(ctx context.Context, token string) bool {
	pid, ok := ParsePID(token)
	if !ok {
		return true
	}
	exists, err := process.PidExistsWithContext(ctx, pid)
	if err != nil {
		return true
	}
	return exists
}
