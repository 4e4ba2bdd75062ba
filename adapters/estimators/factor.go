package estimators

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"covbench/domain/core"
	"covbench/domain/params"
	"covbench/ports"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const faSmall = 1e-12

// FactorAnalysis fits the linear Gaussian factor model x = Wᵀz + ε with
// diagonal noise ψ by the SVD-based iteration, giving covariance WᵀW + diag(ψ).
//
// Hyperparameters: n_components; optional max_iter (1000) and tol (1e-2).
type FactorAnalysis struct{}

func (FactorAnalysis) Fit(ctx context.Context, x mat.Matrix, cfg params.Config, _ *rand.Rand) (ports.FittedModel, error) {
	k, err := cfg.Int("n_components")
	if err != nil {
		return nil, err
	}
	maxIter, err := cfg.IntOr("max_iter", 1000)
	if err != nil {
		return nil, err
	}
	tol, err := cfg.FloatOr("tol", 1e-2)
	if err != nil {
		return nil, err
	}

	n, p := x.Dims()
	if k < 1 || k > p {
		return nil, fmt.Errorf("%w: n_components=%d must be between 1 and n_features=%d",
			core.ErrInvalidComponents, k, p)
	}

	xc := centered(x)
	variances := make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, xc)
		variances[j] = stat.PopVariance(col, nil)
	}

	psi := make([]float64, p)
	for j := range psi {
		psi[j] = 1
	}
	nsqrt := math.Sqrt(float64(n))
	llconst := float64(p)*math.Log(2*math.Pi) + float64(k)
	oldLL := math.Inf(-1)

	scaled := mat.NewDense(n, p, nil)
	w := mat.NewDense(1, p, nil)
	for iter := 0; iter < maxIter; iter++ {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}

		sqrtPsi := make([]float64, p)
		for j := range psi {
			sqrtPsi[j] = math.Sqrt(psi[j]) + faSmall
		}
		for i := 0; i < n; i++ {
			for j := 0; j < p; j++ {
				scaled.Set(i, j, xc.At(i, j)/(sqrtPsi[j]*nsqrt))
			}
		}

		var svd mat.SVD
		if ok := svd.Factorize(scaled, mat.SVDThin); !ok {
			return nil, fmt.Errorf("%w: SVD did not converge", core.ErrNotConverged)
		}
		sv := svd.Values(nil)
		var vt mat.Dense
		svd.VTo(&vt)

		kk := min(k, len(sv))
		unexplained := 0.0
		for _, s := range sv[kk:] {
			unexplained += s * s
		}

		w = mat.NewDense(kk, p, nil)
		logS := 0.0
		for c := 0; c < kk; c++ {
			s2 := sv[c] * sv[c]
			logS += math.Log(math.Max(s2, faSmall))
			scale := math.Sqrt(math.Max(s2-1, 0))
			for j := 0; j < p; j++ {
				w.Set(c, j, scale*vt.At(j, c)*sqrtPsi[j])
			}
		}

		logPsi := 0.0
		for _, v := range psi {
			logPsi += math.Log(v)
		}
		ll := -float64(n) / 2 * (llconst + logS + unexplained + logPsi)
		if math.IsNaN(ll) {
			return nil, fmt.Errorf("%w: factor analysis log-likelihood is NaN", core.ErrNumerical)
		}
		if ll-oldLL < tol {
			break
		}
		oldLL = ll

		for j := 0; j < p; j++ {
			s := 0.0
			for c := 0; c < kk; c++ {
				s += w.At(c, j) * w.At(c, j)
			}
			psi[j] = math.Max(variances[j]-s, faSmall)
		}
	}

	var wtw mat.SymDense
	wtw.SymOuterK(1, w.T())
	cov := mat.NewSymDense(p, nil)
	cov.CopySym(&wtw)
	for j := 0; j < p; j++ {
		cov.SetSym(j, j, cov.At(j, j)+psi[j])
	}
	if !allFinite(cov) {
		return nil, fmt.Errorf("%w: factor analysis produced non-finite covariance", core.ErrNumerical)
	}
	return covarianceModel{cov: cov}, nil
}
