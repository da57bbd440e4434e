// Package channel resolves broadcast scopes on the bus.
//
// A channel is parsed once at the boundary into a tagged value. Membership
// is always derived from a session's current attributes and never stored.
package channel

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies which variant a Channel holds.
type Kind int

const (
	KindAll Kind = iota
	KindSession
	KindRepo
	KindMachine
)

// String returns the wire prefix for the kind.
func (k Kind) String() string {
	switch k {
	case KindAll:
		return "all"
	case KindSession:
		return "session"
	case KindRepo:
		return "repo"
	case KindMachine:
		return "machine"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ErrInvalid is wrapped by every Parse failure.
var ErrInvalid = errors.New("invalid channel")

// Channel is one of All, Session(id), Repo(name) or Machine(name).
// The zero value is All.
type Channel struct {
	Kind  Kind
	Value string
}

// All matches every session.
var All = Channel{Kind: KindAll}

// Session returns the direct-message channel for a session id.
func Session(id string) Channel { return Channel{Kind: KindSession, Value: id} }

// Repo returns the channel for every session in a repo.
func Repo(name string) Channel { return Channel{Kind: KindRepo, Value: name} }

// Machine returns the channel for every session on a machine.
func Machine(name string) Channel { return Channel{Kind: KindMachine, Value: name} }

// Parse converts the wire form into a Channel.
//
// "" and "all" are All. "session:X", "repo:X" and "machine:X" need a
// non-empty X; the value may itself contain colons. Anything else is
// rejected with an error wrapping ErrInvalid.
func Parse(s string) (Channel, error) {
	if s == "" || s == "all" {
		return All, nil
	}

	prefix, value, ok := strings.Cut(s, ":")
	if !ok {
		return Channel{}, fmt.Errorf("%w %q: expected all, session:<id>, repo:<name> or machine:<name>", ErrInvalid, s)
	}

	var kind Kind
	switch prefix {
	case "session":
		kind = KindSession
	case "repo":
		kind = KindRepo
	case "machine":
		kind = KindMachine
	default:
		return Channel{}, fmt.Errorf("%w %q: unknown channel type %q", ErrInvalid, s, prefix)
	}

	if value == "" {
		return Channel{}, fmt.Errorf("%w %q: expected %s:<value>", ErrInvalid, s, prefix)
	}

	return Channel{Kind: kind, Value: value}, nil
}

// String returns the wire form accepted by Parse.
func (c Channel) String() string {
	if c.Kind == KindAll {
		return "all"
	}
	return c.Kind.String() + ":" + c.Value
}

// IsDirect reports whether c addresses a single session.
func (c Channel) IsDirect() bool {
	return c.Kind == KindSession
}

// Attrs are the session attributes membership is computed from.
type Attrs struct {
	SessionID string
	Repo      string
	Machine   string
}

// Matches reports whether a session with attrs belongs to c.
func (c Channel) Matches(a Attrs) bool {
	switch c.Kind {
	case KindAll:
		return true
	case KindSession:
		return a.SessionID == c.Value
	case KindRepo:
		return a.Repo == c.Value
	case KindMachine:
		return a.Machine == c.Value
	default:
		return false
	}
}

// ForSession returns the channels a session implicitly belongs to, in the
// order all, session, repo, machine. Variants with an empty value are
// omitted since they cannot be addressed.
func ForSession(a Attrs) []Channel {
	out := []Channel{All}
	if a.SessionID != "" {
		out = append(out, Session(a.SessionID))
	}
	if a.Repo != "" {
		out = append(out, Repo(a.Repo))
	}
	if a.Machine != "" {
		out = append(out, Machine(a.Machine))
	}
	return out
}

// Strings renders channels in their wire form.
func Strings(chs []Channel) []string {
	out := make([]string, len(chs))
	for i, c := range chs {
		out[i] = c.String()
	}
	return out
}

// Info is one row of a channel listing.
type Info struct {
	Channel     Channel
	Subscribers int
}

// Count returns every channel with at least one member among sessions,
// with its member count, sorted by wire form.
//
// Returns an empty slice (not nil) if sessions is empty.
func Count(sessions []Attrs) []Info {
	counts := make(map[Channel]int)
	for _, s := range sessions {
		for _, c := range ForSession(s) {
			counts[c]++
		}
	}

	out := make([]Info, 0, len(counts))
	for c, n := range counts {
		out = append(out, Info{Channel: c, Subscribers: n})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Channel.String() < out[j].Channel.String()
	})
	return out
}
