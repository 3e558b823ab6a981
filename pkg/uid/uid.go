// Package uid implements the §6 "uniqueid pool" log field: one random
// identifier generated per transaction, used by log consumers to
// correlate a request across frontend/backend log lines when no
// application-level request id header is present.
//
// Grounded on the docker-compose pack's use of github.com/google/uuid for
// object identifiers; the engine has no client/server correlation id of
// its own so it generates one the same way.
package uid

import "github.com/google/uuid"

// Generator mints unique ids. It exists as an interface so tests can
// supply deterministic values instead of random UUIDs.
type Generator interface {
	New() string
}

// UUIDGenerator is the default Generator, backed by google/uuid v4.
type UUIDGenerator struct{}

// New returns a random UUIDv4 string.
func (UUIDGenerator) New() string {
	return uuid.New().String()
}

// Pool hands out ids to Sessions, mirroring spec.md §6's "uniqueid pool"
// wording: a small facade over Generator so callers don't import
// google/uuid directly.
type Pool struct {
	gen Generator
}

// NewPool builds a Pool using the default UUIDGenerator.
func NewPool() *Pool {
	return &Pool{gen: UUIDGenerator{}}
}

// NewPoolWithGenerator builds a Pool over a custom Generator, for tests.
func NewPoolWithGenerator(gen Generator) *Pool {
	return &Pool{gen: gen}
}

// Next returns the next unique id.
func (p *Pool) Next() string {
	return p.gen.New()
}
