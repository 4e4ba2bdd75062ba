package ports

import (
	"math/rand/v2"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// Stream creates a deterministic RNG for a named method and trial, so the same
	// run seed reproduces every stochastic fit.
	Stream(method string, trial int) *rand.Rand
}
