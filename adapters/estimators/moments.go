// Package estimators implements the covariance estimator families on gonum.
//
// Every estimator treats its input sample matrix as read-only; all work happens
// on copies.
package estimators

import (
	"context"
	"math"

	"covbench/domain/core"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// centered returns a copy of x with column means removed.
func centered(x mat.Matrix) *mat.Dense {
	n, p := x.Dims()
	out := mat.DenseCopyOf(x)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, out)
		mean := stat.Mean(col, nil)
		for i := 0; i < n; i++ {
			out.Set(i, j, col[i]-mean)
		}
	}
	return out
}

// empiricalCovariance returns the maximum likelihood (ddof=0) covariance of x.
func empiricalCovariance(x mat.Matrix) *mat.SymDense {
	n, p := x.Dims()
	cov := mat.NewSymDense(p, nil)
	if n < 2 {
		// stat.CovarianceMatrix divides by n-1; a single row has zero spread.
		return cov
	}
	stat.CovarianceMatrix(cov, x, nil)
	cov.ScaleSym(float64(n-1)/float64(n), cov)
	return cov
}

// columnStats returns per-column mean and population standard deviation.
func columnStats(x mat.Matrix) (means, stds []float64) {
	n, p := x.Dims()
	means = make([]float64, p)
	stds = make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, x)
		means[j] = stat.Mean(col, nil)
		stds[j] = math.Sqrt(stat.PopVariance(col, nil))
	}
	return means, stds
}

// correlation converts a covariance into a correlation matrix. Zero-variance
// columns get unit diagonal and zero off-diagonal entries.
func correlation(cov *mat.SymDense) *mat.SymDense {
	p := cov.SymmetricDim()
	out := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			if i == j {
				out.SetSym(i, i, 1)
				continue
			}
			d := math.Sqrt(cov.At(i, i) * cov.At(j, j))
			if d > 0 {
				out.SetSym(i, j, cov.At(i, j)/d)
			}
		}
	}
	return out
}

// symmetrize returns (a + aᵀ)/2 as a SymDense.
func symmetrize(a mat.Matrix) *mat.SymDense {
	p, _ := a.Dims()
	out := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			out.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return out
}

// invertSPD inverts a symmetric positive definite matrix through its Cholesky
// factorisation.
func invertSPD(a mat.Symmetric) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, core.ErrNotPositiveDefinite
	}
	inv := mat.NewSymDense(a.SymmetricDim(), nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, core.ErrIllConditioned
	}
	return inv, nil
}

// allFinite reports whether every entry of m is finite.
func allFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// checkContext returns the context error, if any, for cancellable loops.
func checkContext(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

func softThreshold(x, t float64) float64 {
	switch {
	case x > t:
		return x - t
	case x < -t:
		return x + t
	}
	return 0
}
