package reorder

// rng.go wraps the random number sources used for the randomized dispatch choice
// and for sampling execution times.

import (
	"math/rand/v2"

	"github.com/iti/rngstream"
)

// RandSource yields uniform samples on [0,1).  *rngstream.RngStream satisfies it
type RandSource interface {
	RandU01() float64
}

// NewStreamSource returns a named L'Ecuyer stream.  Streams are handed out in
// creation order from the package seed, so a run that creates the same streams
// in the same order sees the same numbers
func NewStreamSource(name string) RandSource {
	return rngstream.New(name)
}

// seededSource adapts a PCG generator to RandSource
type seededSource struct {
	rng *rand.Rand
}

// NewSeededSource returns a source whose sequence depends only on seed.
// Unlike named streams these can be created concurrently
func NewSeededSource(seed uint64) RandSource {
	return &seededSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (ss *seededSource) RandU01() float64 {
	return ss.rng.Float64()
}

// pickIndex chooses uniformly among n items
func pickIndex(rs RandSource, n int) int {
	idx := int(rs.RandU01() * float64(n))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// sourceFor returns the random source used for the object with the given name.
// A zero seed selects named streams
func sourceFor(seed uint64, name string, idx int) RandSource {
	if seed == 0 {
		return NewStreamSource(name)
	}
	return NewSeededSource(seed + uint64(idx)*0x2545f4914f6cdd1d)
}
