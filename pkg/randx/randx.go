// Package randx provides the single injectable randomness source used by
// the simulation engine. Tests inject a fixed-seed generator; production
// seeds from the operating system's CSPRNG. The two are never mixed
// implicitly: every component takes a Source and a run's per-scenario
// generators are derived from explicit seeds.
package randx

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
)

// Source draws uniform variates and derives seeds for child generators.
// Implementations need not be safe for concurrent use; each worker owns
// its own Source.
type Source interface {
	// Float64 returns a uniform draw in [0,1).
	Float64() float64
	// Int63 returns a non-negative pseudo-random 63-bit integer,
	// used to seed per-scenario child generators.
	Int63() int64
}

// seeded wraps math/rand for deterministic, reproducible draws.
type seeded struct {
	rng *rand.Rand
}

// NewSeeded returns a deterministic Source. Identical seeds yield
// identical draw sequences.
func NewSeeded(seed int64) Source {
	return &seeded{rng: rand.New(rand.NewSource(seed))}
}

func (s *seeded) Float64() float64 { return s.rng.Float64() }
func (s *seeded) Int63() int64     { return s.rng.Int63() }

// locked is a mutex-guarded Source for the rare shared-generator case
// (the engine's master seed generator).
type locked struct {
	mu  sync.Mutex
	src Source
}

// NewLocked wraps a Source so it can be shared across goroutines.
func NewLocked(src Source) Source {
	return &locked{src: src}
}

func (l *locked) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.Float64()
}

func (l *locked) Int63() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.Int63()
}

// NewCryptoSeeded returns a Source seeded from crypto/rand. The draw
// stream itself is math/rand (statistical quality is what simulation
// needs); the seed is cryptographically strong so production runs are
// unpredictable across processes.
func NewCryptoSeeded() Source {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		// crypto/rand failing means the OS entropy pool is broken;
		// there is no sensible fallback seed.
		panic("randx: crypto/rand unavailable: " + err.Error())
	}
	seed := int64(binary.LittleEndian.Uint64(b[:]) &^ (1 << 63))
	return NewSeeded(seed)
}
