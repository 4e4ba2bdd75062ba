// Package covariance defines the per-bucket covariance sequence produced by a fit.
package covariance

import (
	"math"
	"strconv"

	"covbench/domain/core"

	"gonum.org/v1/gonum/mat"
)

// Set holds one V×V covariance matrix per bucket, in bucket order.
type Set []*mat.SymDense

// Validate checks the set matches a dataset with the given bucket count and V.
func (s Set) Validate(buckets, vars int) error {
	if len(s) != buckets {
		return core.NewBucketCountError("covariance set", buckets, len(s))
	}
	for i, c := range s {
		if c == nil {
			return core.NewShapeError("covariance "+strconv.Itoa(i), vars, vars, 0, 0)
		}
		if n := c.SymmetricDim(); n != vars {
			return core.NewShapeError("covariance "+strconv.Itoa(i), vars, vars, n, n)
		}
	}
	return nil
}

// Finite reports whether every entry of every matrix is finite.
func (s Set) Finite() bool {
	for _, c := range s {
		n := c.SymmetricDim()
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := c.At(i, j)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return false
				}
			}
		}
	}
	return true
}

// Diagonal builds a diagonal covariance from variances.
func Diagonal(variances []float64) *mat.SymDense {
	out := mat.NewSymDense(len(variances), nil)
	for i, v := range variances {
		out.SetSym(i, i, v)
	}
	return out
}
