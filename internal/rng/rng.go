// Package rng derives reproducible random streams from a run seed.
package rng

import (
	"math/rand/v2"

	"covbench/ports"
)

// Streams hands out one independent PCG stream per (method, trial).
type Streams struct {
	seed int64
}

// New returns streams rooted at seed.
func New(seed int64) *Streams {
	return &Streams{seed: seed}
}

// Seed returns the root seed.
func (s *Streams) Seed() int64 { return s.seed }

// Stream creates a deterministic RNG stream for a method and trial. The same
// seed, method and trial always yield the same sequence.
func (s *Streams) Stream(method string, trial int) *rand.Rand {
	hi := uint64(s.seed) ^ uint64(hashString(method))<<32
	lo := uint64(trial)*0x9e3779b97f4a7c15 + uint64(hashString(method))
	return rand.New(rand.NewPCG(hi, lo))
}

// hashString creates a simple hash for deterministic seeding
func hashString(str string) uint32 {
	var hash uint32 = 5381
	for _, c := range str {
		hash = ((hash << 5) + hash) + uint32(c) // djb2 algorithm
	}
	return hash
}

var _ ports.RNGPort = (*Streams)(nil)
