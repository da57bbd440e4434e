package engine

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const unknownRepo = "unknown"

var controlReplacer = strings.NewReplacer("\n", " ", "\t", " ", "\r", " ")

// sanitize replaces line and tab characters with spaces and NFC-normalizes
// the result, so names and repos compare equal regardless of how the
// caller's platform composed them.
func sanitize(s string) string {
	return norm.NFC.String(controlReplacer.Replace(s))
}

// DeriveRepo extracts a repo name from a working directory.
//
// A path inside a git worktree checkout ("/src/proj/.worktrees/feature")
// resolves to the directory holding .worktrees ("proj"). Otherwise the last
// path segment is used, and "unknown" when there is none.
func DeriveRepo(cwd string) string {
	parts := strings.Split(strings.TrimRight(filepath.ToSlash(cwd), "/"), "/")

	for i, p := range parts {
		if p == ".worktrees" && i > 0 && parts[i-1] != "" {
			return sanitize(parts[i-1])
		}
	}

	last := parts[len(parts)-1]
	if last == "" {
		return unknownRepo
	}
	return sanitize(last)
}
