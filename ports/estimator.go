package ports

import (
	"context"
	"math/rand/v2"

	"covbench/domain/dataset"
	"covbench/domain/params"

	"gonum.org/v1/gonum/mat"
)

// FittedModel is the result of a successful fit. Covariance may still fail for
// precision-native models whose precision matrix cannot be inverted.
type FittedModel interface {
	Covariance() (*mat.SymDense, error)
}

// Estimator fits one covariance model from a single N×V sample matrix. The
// sample matrix is read-only. Deterministic estimators ignore rng.
type Estimator interface {
	Fit(ctx context.Context, x mat.Matrix, cfg params.Config, rng *rand.Rand) (FittedModel, error)
}

// JointEstimator fits every bucket of a dataset at once and returns one model
// per bucket (or time slice), in order.
type JointEstimator interface {
	FitJoint(ctx context.Context, data dataset.Dataset, cfg params.Config, rng *rand.Rand) ([]FittedModel, error)
}
