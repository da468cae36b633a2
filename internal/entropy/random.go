// Package entropy provides the random draws behind opponent accrual.
// Sessions run on a seeded PCG stream so a seed replays the same race;
// seed 0 pulls a fresh seed from crypto/rand.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	mrand "math/rand/v2"
	"sync"
)

// Source draws uniform integers in a half-open range.
type Source interface {
	Range(lo, hi int) int
}

// Rand is a seeded, goroutine-safe Source.
type Rand struct {
	seed uint64

	mu sync.Mutex
	r  *mrand.Rand
}

// New creates a Source from seed. A zero seed is replaced with one from crypto/rand.
func New(seed uint64) *Rand {
	if seed == 0 {
		seed = cryptoSeed()
		slog.Debug("drew random seed", "seed", seed)
	}
	return &Rand{
		seed: seed,
		r:    mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Seed returns the seed the stream was started from.
func (r *Rand) Seed() uint64 {
	return r.seed
}

// Range returns a uniform integer in [lo, hi). When hi <= lo it returns lo.
func (r *Rand) Range(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + r.r.IntN(hi-lo)
}

// Fixed is a Source that always returns the same draw. Useful in tests and
// for scripted opponents.
type Fixed int

// Range ignores the bounds and returns f.
func (f Fixed) Range(lo, hi int) int {
	return int(f)
}

// cryptoSeed generates a seed using crypto/rand.
func cryptoSeed() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen but any non-zero seed keeps the stream usable.
		return 0x5eed
	}
	seed := binary.LittleEndian.Uint64(buf[:])
	if seed == 0 {
		seed = 1
	}
	return seed
}
