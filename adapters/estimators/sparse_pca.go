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

const (
	sparsePCAInnerSteps = 20
	sparsePCAResidFloor = 1e-6
)

// SparsePCA finds components with an L1 penalty on their loadings. The
// centred data X is factored as U·V with unit-bounded columns of U and sparse
// rows of V, minimising ½‖X − UV‖² + alpha‖V‖₁ from an SVD start. The
// covariance is that of the ridge reconstruction of X from V plus the
// per-variable residual variance.
//
// Hyperparameters: n_components, alpha; optional ridge_alpha (0.01),
// tol (1e-6) and max_iter (500).
type SparsePCA struct{}

func (SparsePCA) Fit(ctx context.Context, x mat.Matrix, cfg params.Config, _ *rand.Rand) (ports.FittedModel, error) {
	k, err := cfg.Int("n_components")
	if err != nil {
		return nil, err
	}
	alpha, err := cfg.Float("alpha")
	if err != nil {
		return nil, err
	}
	ridge, err := cfg.FloatOr("ridge_alpha", 0.01)
	if err != nil {
		return nil, err
	}
	tol, err := cfg.FloatOr("tol", 1e-6)
	if err != nil {
		return nil, err
	}
	maxIter, err := cfg.IntOr("max_iter", 500)
	if err != nil {
		return nil, err
	}
	n, p := x.Dims()
	if rank := min(n, p); k < 1 || k > rank {
		return nil, fmt.Errorf("%w: n_components=%d must be between 1 and min(n_samples, n_features)=%d",
			core.ErrInvalidComponents, k, rank)
	}
	if alpha < 0 {
		return nil, core.NewParamTypeError("alpha", "non-negative float", alpha)
	}
	if ridge < 0 {
		return nil, core.NewParamTypeError("ridge_alpha", "non-negative float", ridge)
	}
	if maxIter < 1 {
		return nil, core.NewParamTypeError("max_iter", "positive int", maxIter)
	}

	xc := centered(x)
	u, v, err := sparsePCAInit(xc, k)
	if err != nil {
		return nil, err
	}
	var resid mat.Dense
	resid.Mul(u, v)
	resid.Sub(xc, &resid)

	prev := math.Inf(1)
	for iter := 0; iter < maxIter; iter++ {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		sparseCodeStep(xc, u, v, alpha)
		resid.Mul(u, v)
		resid.Sub(xc, &resid)
		dictionaryStep(u, v, &resid)

		fro := mat.Norm(&resid, 2)
		obj := 0.5*fro*fro + alpha*absSum(v)
		if !allFinite(v) {
			return nil, fmt.Errorf("%w: sparse components diverged", core.ErrNumerical)
		}
		if math.Abs(prev-obj) <= tol*math.Max(obj, machineEps) {
			break
		}
		prev = obj
	}
	return sparsePCAModel(xc, v, ridge)
}

// sparsePCAInit takes U from the leading left singular vectors and V as the
// matching scaled right singular vectors.
func sparsePCAInit(xc *mat.Dense, k int) (*mat.Dense, *mat.Dense, error) {
	_, p := xc.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(xc, mat.SVDThin); !ok {
		return nil, nil, fmt.Errorf("%w: SVD did not converge", core.ErrNotConverged)
	}
	sv := svd.Values(nil)
	var left, right mat.Dense
	svd.UTo(&left)
	svd.VTo(&right)

	n, _ := left.Dims()
	u := mat.NewDense(n, k, nil)
	u.Copy(left.Slice(0, n, 0, k))
	v := mat.NewDense(k, p, nil)
	for c := 0; c < k; c++ {
		for j := 0; j < p; j++ {
			v.Set(c, j, sv[c]*right.At(j, c))
		}
	}
	return u, v, nil
}

// sparseCodeStep runs proximal gradient steps on V for fixed U.
func sparseCodeStep(xc, u, v *mat.Dense, alpha float64) {
	k, p := v.Dims()
	var g, b, grad mat.Dense
	g.Mul(u.T(), u)
	b.Mul(u.T(), xc)
	// ‖UᵀU‖₂ is bounded by its trace.
	lip := 0.0
	for c := 0; c < k; c++ {
		lip += g.At(c, c)
	}
	if lip <= 0 {
		return
	}
	for step := 0; step < sparsePCAInnerSteps; step++ {
		grad.Mul(&g, v)
		grad.Sub(&grad, &b)
		for c := 0; c < k; c++ {
			for j := 0; j < p; j++ {
				v.Set(c, j, softThreshold(v.At(c, j)-grad.At(c, j)/lip, alpha/lip))
			}
		}
	}
}

// dictionaryStep updates the columns of U one at a time against the residual
// X − UV, keeping every column inside the unit ball. resid is updated in place.
func dictionaryStep(u, v, resid *mat.Dense) {
	n, k := u.Dims()
	_, p := v.Dims()
	col := make([]float64, n)
	for c := 0; c < k; c++ {
		vv := 0.0
		for j := 0; j < p; j++ {
			vv += v.At(c, j) * v.At(c, j)
		}
		if vv == 0 {
			continue
		}
		norm := 0.0
		for i := 0; i < n; i++ {
			s := 0.0
			for j := 0; j < p; j++ {
				s += resid.At(i, j) * v.At(c, j)
			}
			col[i] = u.At(i, c) + s/vv
			norm += col[i] * col[i]
		}
		scale := 1 / math.Max(math.Sqrt(norm), 1)
		for i := 0; i < n; i++ {
			next := col[i] * scale
			d := next - u.At(i, c)
			u.Set(i, c, next)
			if d == 0 {
				continue
			}
			for j := 0; j < p; j++ {
				resid.Set(i, j, resid.At(i, j)-d*v.At(c, j))
			}
		}
	}
}

func absSum(m mat.Matrix) float64 {
	r, c := m.Dims()
	s := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s += math.Abs(m.At(i, j))
		}
	}
	return s
}

// sparsePCAModel reconstructs X through ridge-regressed scores on V and adds
// the floored residual variance of each variable.
func sparsePCAModel(xc, v *mat.Dense, ridge float64) (ports.FittedModel, error) {
	n, p := xc.Dims()
	k, _ := v.Dims()

	var gram mat.Dense
	gram.Mul(v, v.T())
	for c := 0; c < k; c++ {
		gram.Set(c, c, gram.At(c, c)+ridge+1e-10)
	}
	gramInv, err := invertSPD(symmetrize(&gram))
	if err != nil {
		return nil, fmt.Errorf("sparse component gram matrix: %w", err)
	}
	var proj, scores, recon mat.Dense
	proj.Mul(xc, v.T())
	scores.Mul(&proj, gramInv)
	recon.Mul(&scores, v)

	cov := mat.NewSymDense(p, nil)
	cov.SymOuterK(1/float64(n), recon.T())
	for j := 0; j < p; j++ {
		resVar, dataVar := 0.0, 0.0
		for i := 0; i < n; i++ {
			r := xc.At(i, j) - recon.At(i, j)
			resVar += r * r
			dataVar += xc.At(i, j) * xc.At(i, j)
		}
		resVar /= float64(n)
		dataVar /= float64(n)
		floor := math.Max(sparsePCAResidFloor*dataVar, 1e-12)
		cov.SetSym(j, j, cov.At(j, j)+math.Max(resVar, floor))
	}
	if !allFinite(cov) {
		return nil, fmt.Errorf("%w: sparse PCA produced non-finite covariance", core.ErrNumerical)
	}
	return covarianceModel{cov: cov}, nil
}

var _ ports.Estimator = SparsePCA{}
