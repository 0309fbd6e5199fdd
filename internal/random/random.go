// Package random provides the injectable randomness used for soft caps,
// credential selection, and delays.
package random

import (
	"math/rand/v2"
	"sync"
)

// Source yields uniformly distributed integers in [0, n).
type Source interface {
	Int64N(n int64) int64
}

type globalSource struct{}

// New returns a Source backed by the runtime's shared generator.
func New() Source {
	return globalSource{}
}

func (globalSource) Int64N(n int64) int64 {
	return rand.Int64N(n)
}

// lockedSource is a seeded generator safe for concurrent use.
type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeeded returns a deterministic Source, mainly for tests.
func NewSeeded(seed uint64) Source {
	return &lockedSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *lockedSource) Int64N(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int64N(n)
}

// IntBetween draws an int in the inclusive range [lo, hi]. Swapped bounds are
// normalized and an empty range returns lo.
func IntBetween(src Source, lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi == lo {
		return lo
	}
	return lo + int(src.Int64N(int64(hi-lo+1)))
}

// Pick returns a uniformly chosen index in [0, n). n must be positive.
func Pick(src Source, n int) int {
	if n <= 1 {
		return 0
	}
	return int(src.Int64N(int64(n)))
}
