package estimators

import (
	"context"
	"fmt"
	"math/rand/v2"

	"covbench/domain/core"
	"covbench/domain/params"
	"covbench/ports"

	"gonum.org/v1/gonum/mat"
)

// PCA reconstructs a low-rank-plus-isotropic-noise covariance from the leading
// principal components (the probabilistic PCA covariance).
//
// Hyperparameters: n_components.
type PCA struct{}

func (PCA) Fit(_ context.Context, x mat.Matrix, cfg params.Config, _ *rand.Rand) (ports.FittedModel, error) {
	k, err := cfg.Int("n_components")
	if err != nil {
		return nil, err
	}
	n, p := x.Dims()
	rank := min(n, p)
	if k < 1 || k > rank {
		return nil, fmt.Errorf("%w: n_components=%d must be between 1 and min(n_samples, n_features)=%d",
			core.ErrInvalidComponents, k, rank)
	}

	xc := centered(x)
	var svd mat.SVD
	if ok := svd.Factorize(xc, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: SVD did not converge", core.ErrNotConverged)
	}
	sv := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	denom := float64(n - 1)
	if denom < 1 {
		denom = 1
	}
	explained := make([]float64, len(sv))
	for i, s := range sv {
		explained[i] = s * s / denom
	}

	noise := 0.0
	if k < rank {
		for _, e := range explained[k:rank] {
			noise += e
		}
		noise /= float64(rank - k)
	}

	cov := mat.NewSymDense(p, nil)
	for c := 0; c < k; c++ {
		w := explained[c] - noise
		if w <= 0 {
			continue
		}
		for i := 0; i < p; i++ {
			vi := v.At(i, c)
			for j := i; j < p; j++ {
				cov.SetSym(i, j, cov.At(i, j)+w*vi*v.At(j, c))
			}
		}
	}
	for i := 0; i < p; i++ {
		cov.SetSym(i, i, cov.At(i, i)+noise)
	}
	return covarianceModel{cov: cov}, nil
}
