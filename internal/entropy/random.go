// Package entropy provides the seeded random stream owned by a single run,
// plus a crypto-backed source for picking fresh seeds.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"
)

// Stream is a deterministic pseudo-random sequence owned by exactly one run.
// It is not safe for concurrent use; runs never share a Stream.
type Stream struct {
	seed   int64
	stream uint64
	rng    *mrand.Rand
	draws  uint64
}

// NewStream creates the main stream of the run seeded with seed.
func NewStream(seed int64) *Stream {
	return newPCG(seed, 0)
}

// Derive returns the sub-system stream numbered stream for the run seeded
// with seed. The PCG state is keyed on the (seed, stream) pair, so a derived
// stream never replays the main stream of any other seed.
func Derive(seed int64, stream uint64) *Stream {
	return newPCG(seed, stream)
}

func newPCG(seed int64, stream uint64) *Stream {
	return &Stream{
		seed:   seed,
		stream: stream,
		rng:    mrand.New(mrand.NewPCG(uint64(seed), stream)),
	}
}

// Seed returns the run seed the stream was created from.
func (s *Stream) Seed() int64 { return s.seed }

// ID returns the sub-system stream number, 0 for the main stream.
func (s *Stream) ID() uint64 { return s.stream }

// Draws returns how many reads have been made from the stream.
func (s *Stream) Draws() uint64 { return s.draws }

// Float64 returns a value in [0, 1).
func (s *Stream) Float64() float64 {
	s.draws++
	return s.rng.Float64()
}

// NormFloat64 returns a standard normal variate.
func (s *Stream) NormFloat64() float64 {
	s.draws++
	return s.rng.NormFloat64()
}

// Normal returns a normal variate with the given mean and standard deviation.
func (s *Stream) Normal(mean, std float64) float64 {
	return mean + s.NormFloat64()*std
}

// Uniform returns a value in [lo, hi).
func (s *Stream) Uniform(lo, hi float64) float64 {
	return lo + s.Float64()*(hi-lo)
}

// Intn returns a value in [0, n). n must be positive.
func (s *Stream) Intn(n int) int {
	s.draws++
	return s.rng.IntN(n)
}

// Chance reports whether a draw falls below p.
func (s *Stream) Chance(p float64) bool {
	return s.Float64() < p
}

// Shuffle permutes n elements in place through swap.
func (s *Stream) Shuffle(n int, swap func(i, j int)) {
	s.draws++
	s.rng.Shuffle(n, swap)
}

// Perm returns a random permutation of [0, n).
func (s *Stream) Perm(n int) []int {
	s.draws++
	return s.rng.Perm(n)
}

// FreshSeed returns a new seed from crypto/rand, used when a run is
// configured without one. Falls back to a fixed seed if the system source
// fails, which should never happen.
func FreshSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	// Keep it positive so it prints and stores cleanly.
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}
