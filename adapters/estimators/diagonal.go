package estimators

import (
	"context"
	"math/rand/v2"

	"covbench/domain/covariance"
	"covbench/domain/params"
	"covbench/ports"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Diagonal keeps only the per-variable sample variances.
type Diagonal struct{}

func (Diagonal) Fit(_ context.Context, x mat.Matrix, _ params.Config, _ *rand.Rand) (ports.FittedModel, error) {
	n, p := x.Dims()
	variances := make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, x)
		variances[j] = stat.PopVariance(col, nil)
	}
	return covarianceModel{cov: covariance.Diagonal(variances)}, nil
}
