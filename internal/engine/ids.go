package engine

import (
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces identifiers. The engine uses one for session ids and
// another for display ids.
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator generates random (version 4) UUIDs for session ids.
//
// Uses github.com/google/uuid package for RFC 4122 compliant UUIDs.
//
// Thread-safety: UUIDGenerator is stateless and safe for concurrent use.
type UUIDGenerator struct{}

// Generate creates a new UUIDv4 and returns it as a hyphenated string.
//
// Format: "550e8400-e29b-41d4-a716-446655440000" (36 characters)
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// Word lists for display ids. 32 x 32 = 1024 combinations before the
// numeric suffix kicks in.
var (
	adjectives = []string{
		"brave", "calm", "clever", "eager", "fancy", "gentle", "happy", "jolly",
		"keen", "lively", "merry", "nice", "polite", "quick", "sharp", "swift",
		"tender", "upbeat", "vivid", "warm", "witty", "zesty", "bold", "bright",
		"crisp", "daring", "epic", "fresh", "grand", "humble", "jovial", "kind",
	}
	animals = []string{
		"badger", "cat", "dog", "eagle", "falcon", "gopher", "heron", "ibis",
		"jaguar", "koala", "lemur", "moose", "newt", "otter", "panda", "quail",
		"rabbit", "salmon", "tiger", "urchin", "viper", "walrus", "yak", "zebra",
		"bear", "crane", "duck", "fox", "goose", "hawk", "iguana", "jay",
	}
)

// WordPairGenerator generates display ids like "brave-tiger".
//
// Thread-safety: math/rand/v2 top-level functions are safe for concurrent use.
type WordPairGenerator struct{}

// Generate returns a random adjective-animal pair.
func (WordPairGenerator) Generate() string {
	return adjectives[rand.IntN(len(adjectives))] + "-" + animals[rand.IntN(len(animals))]
}

// FixedGenerator returns predetermined ids for testing.
//
// This enables deterministic test execution and golden trace comparison.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order.
//
// Example:
//
//	gen := NewFixedGenerator("brave-tiger", "calm-otter")
//	gen.Generate() // "brave-tiger"
//	gen.Generate() // "calm-otter"
//	gen.Generate() // panic: all tokens exhausted
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
//
// Panics if all tokens have been consumed. This is a fail-fast approach
// to catch test misconfiguration.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
