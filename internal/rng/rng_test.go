package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func draw(s *Streams, method string, trial int) []float64 {
	r := s.Stream(method, trial)
	out := make([]float64, 4)
	for i := range out {
		out[i] = r.Float64()
	}
	return out
}

func TestStream_Deterministic(t *testing.T) {
	a, b := New(42), New(42)
	assert.Equal(t, draw(a, "LinearCorex", 0), draw(b, "LinearCorex", 0))
	assert.Equal(t, int64(42), a.Seed())
}

func TestStream_Independent(t *testing.T) {
	s := New(42)
	assert.NotEqual(t, draw(s, "LinearCorex", 0), draw(s, "LinearCorex", 1))
	assert.NotEqual(t, draw(s, "LinearCorex", 0), draw(s, "TimeVaryingCorex", 0))
	assert.NotEqual(t, draw(s, "LinearCorex", 0), draw(New(7), "LinearCorex", 0))
}
