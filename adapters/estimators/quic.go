package estimators

import (
	"context"
	"math/rand/v2"

	"covbench/domain/core"
	"covbench/domain/params"
	"covbench/ports"

	"gonum.org/v1/gonum/mat"
)

// QUIC solves the sparse inverse covariance problem with the L1 penalty on
// every entry of the precision matrix, diagonal included. Penalising the
// diagonal by lamb is the same as running the graphical lasso on S + lamb·I,
// so the fitted covariance satisfies W_ii = S_ii + lamb.
//
// Hyperparameters: lamb; optional tol (1e-6) and max_iter (100).
type QUIC struct{}

func (QUIC) Fit(ctx context.Context, x mat.Matrix, cfg params.Config, _ *rand.Rand) (ports.FittedModel, error) {
	lamb, err := cfg.Float("lamb")
	if err != nil {
		return nil, err
	}
	tol, err := cfg.FloatOr("tol", 1e-6)
	if err != nil {
		return nil, err
	}
	maxIter, err := cfg.IntOr("max_iter", 100)
	if err != nil {
		return nil, err
	}
	if lamb < 0 {
		return nil, core.NewParamTypeError("lamb", "non-negative float", lamb)
	}
	if maxIter < 1 {
		return nil, core.NewParamTypeError("max_iter", "positive int", maxIter)
	}

	emp := empiricalCovariance(centered(x))
	p := emp.SymmetricDim()
	for i := 0; i < p; i++ {
		emp.SetSym(i, i, emp.At(i, i)+lamb)
	}
	return graphicalLasso(ctx, emp, lamb, maxIter, tol)
}

var _ ports.Estimator = QUIC{}
