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
)

// GraphLasso estimates a sparse precision matrix by L1-penalised maximum
// likelihood, solved with block coordinate descent over the columns of the
// covariance iterate.
//
// Hyperparameters: alpha, mode ("cd" or "lars"), max_iter, tol.
type GraphLasso struct{}

const (
	glassoEnetTol = 1e-4
	machineEps    = 2.220446049250313e-16
)

// glassoModel keeps both iterates; the covariance is read directly.
type glassoModel struct {
	cov       *mat.SymDense
	precision *mat.SymDense
}

func (m glassoModel) Covariance() (*mat.SymDense, error) { return m.cov, nil }

func (m glassoModel) Precision() *mat.SymDense { return m.precision }

func (GraphLasso) Fit(ctx context.Context, x mat.Matrix, cfg params.Config, _ *rand.Rand) (ports.FittedModel, error) {
	alpha, err := cfg.Float("alpha")
	if err != nil {
		return nil, err
	}
	mode, err := cfg.StrOr("mode", "cd")
	if err != nil {
		return nil, err
	}
	if mode != "cd" && mode != "lars" {
		return nil, core.NewParamTypeError("mode", `"cd" or "lars"`, mode)
	}
	maxIter, err := cfg.IntOr("max_iter", 100)
	if err != nil {
		return nil, err
	}
	tol, err := cfg.FloatOr("tol", 1e-4)
	if err != nil {
		return nil, err
	}
	if alpha < 0 {
		return nil, core.NewParamTypeError("alpha", "non-negative float", alpha)
	}

	emp := empiricalCovariance(centered(x))
	return graphicalLasso(ctx, emp, alpha, maxIter, tol)
}

func graphicalLasso(ctx context.Context, emp *mat.SymDense, alpha float64, maxIter int, tol float64) (ports.FittedModel, error) {
	p := emp.SymmetricDim()
	if alpha == 0 {
		prec, err := invertSPD(emp)
		if err != nil {
			return nil, fmt.Errorf("%w: empirical covariance is singular", core.ErrIllConditioned)
		}
		return glassoModel{cov: emp, precision: prec}, nil
	}

	cov := mat.NewSymDense(p, nil)
	cov.ScaleSym(0.95, emp)
	for i := 0; i < p; i++ {
		cov.SetSym(i, i, emp.At(i, i))
	}
	prec, err := invertSPD(cov)
	if err != nil {
		return nil, fmt.Errorf("%w: initial covariance is not invertible", core.ErrIllConditioned)
	}
	if p == 1 {
		return glassoModel{cov: cov, precision: prec}, nil
	}

	others := make([]int, p-1)
	sub := mat.NewSymDense(p-1, nil)
	row := make([]float64, p-1)
	coefs := make([]float64, p-1)
	for iter := 0; iter < maxIter; iter++ {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		for idx := 0; idx < p; idx++ {
			k := 0
			for j := 0; j < p; j++ {
				if j != idx {
					others[k] = j
					k++
				}
			}
			for a, ia := range others {
				row[a] = emp.At(idx, ia)
				for b := a; b < len(others); b++ {
					sub.SetSym(a, b, cov.At(ia, others[b]))
				}
			}

			pii := prec.At(idx, idx) + 1000*machineEps
			for a, ia := range others {
				coefs[a] = -prec.At(ia, idx) / pii
			}
			lassoGram(coefs, alpha, sub, row, maxIter, glassoEnetTol)

			dot := 0.0
			for a, ia := range others {
				dot += cov.At(ia, idx) * coefs[a]
			}
			diag := 1 / (cov.At(idx, idx) - dot)
			prec.SetSym(idx, idx, diag)
			for a, ia := range others {
				prec.SetSym(ia, idx, -diag*coefs[a])
			}

			for a, ia := range others {
				s := 0.0
				for b := range others {
					s += sub.At(a, b) * coefs[b]
				}
				cov.SetSym(idx, ia, s)
			}
		}

		if !allFinite(prec) {
			return nil, fmt.Errorf("%w: the system is too ill-conditioned for this solver", core.ErrIllConditioned)
		}
		if math.Abs(dualGap(emp, prec, alpha)) < tol {
			break
		}
		if iter > 0 {
			var chol mat.Cholesky
			if ok := chol.Factorize(prec); !ok {
				return nil, fmt.Errorf("%w: non-SPD precision iterate", core.ErrIllConditioned)
			}
		}
	}
	return glassoModel{cov: cov, precision: prec}, nil
}

// lassoGram minimises ½wᵀQw − qᵀw + alpha‖w‖₁ by cyclic coordinate descent,
// updating w in place.
func lassoGram(w []float64, alpha float64, q *mat.SymDense, target []float64, maxIter int, tol float64) {
	n := len(w)
	h := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			h[i] += q.At(i, j) * w[j]
		}
	}
	for iter := 0; iter < maxIter; iter++ {
		wMax, dwMax := 0.0, 0.0
		for ii := 0; ii < n; ii++ {
			qii := q.At(ii, ii)
			if qii == 0 {
				continue
			}
			old := w[ii]
			if old != 0 {
				for j := 0; j < n; j++ {
					h[j] -= old * q.At(ii, j)
				}
			}
			w[ii] = softThreshold(target[ii]-h[ii], alpha) / qii
			if w[ii] != 0 {
				for j := 0; j < n; j++ {
					h[j] += w[ii] * q.At(ii, j)
				}
			}
			dwMax = math.Max(dwMax, math.Abs(w[ii]-old))
			wMax = math.Max(wMax, math.Abs(w[ii]))
		}
		if wMax == 0 || dwMax/wMax < tol {
			return
		}
	}
}

// dualGap is the duality gap of the graphical lasso problem at precision.
func dualGap(emp, prec *mat.SymDense, alpha float64) float64 {
	p := emp.SymmetricDim()
	gap := -float64(p)
	offDiag := 0.0
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			gap += emp.At(i, j) * prec.At(i, j)
			if i != j {
				offDiag += math.Abs(prec.At(i, j))
			}
		}
	}
	return gap + alpha*offDiag
}

var _ ports.FittedModel = glassoModel{}
