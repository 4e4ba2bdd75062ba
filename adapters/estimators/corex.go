package estimators

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"covbench/domain/core"
	"covbench/domain/dataset"
	"covbench/domain/params"
	"covbench/ports"

	"gonum.org/v1/gonum/mat"
)

const (
	corexPsiFloor = 1e-6
	corexAnneal   = 0.6
	corexSteps    = 6
)

// LinearCorex fits a linear latent factor model to the correlation matrix of a
// bucket by EM, starting from random loadings. With anneal the fit is warmed up
// on progressively less noisy versions of the correlation matrix.
//
// Hyperparameters: n_hidden, max_iter, anneal; optional tol (1e-5).
type LinearCorex struct{}

type corexOptions struct {
	hidden  int
	maxIter int
	anneal  bool
	tol     float64
}

func parseCorexOptions(cfg params.Config) (corexOptions, error) {
	var o corexOptions
	var err error
	if o.hidden, err = cfg.Int("n_hidden"); err != nil {
		return o, err
	}
	if o.maxIter, err = cfg.Int("max_iter"); err != nil {
		return o, err
	}
	if o.anneal, err = cfg.BoolOr("anneal", true); err != nil {
		return o, err
	}
	if o.tol, err = cfg.FloatOr("tol", 1e-5); err != nil {
		return o, err
	}
	if o.hidden < 1 {
		return o, fmt.Errorf("%w: n_hidden=%d must be positive", core.ErrInvalidComponents, o.hidden)
	}
	if o.maxIter < 1 {
		return o, core.NewParamTypeError("max_iter", "positive int", o.maxIter)
	}
	return o, nil
}

// schedule returns the annealing noise levels, ending with the noiseless fit.
func (o corexOptions) schedule() []float64 {
	if !o.anneal {
		return []float64{0}
	}
	eps := make([]float64, 0, corexSteps+1)
	for i := 1; i <= corexSteps; i++ {
		eps = append(eps, math.Pow(corexAnneal, float64(i)))
	}
	return append(eps, 0)
}

func (LinearCorex) Fit(ctx context.Context, x mat.Matrix, cfg params.Config, rng *rand.Rand) (ports.FittedModel, error) {
	opts, err := parseCorexOptions(cfg)
	if err != nil {
		return nil, err
	}
	_, p := x.Dims()
	b := newCorexBucket(x)
	f := newCorexFactors(p, opts.hidden, rng)
	if err := fitFactors(ctx, f, b, opts); err != nil {
		return nil, err
	}
	return b.model(f)
}

// fitFactors runs the annealing schedule of EM updates on f against bucket b.
func fitFactors(ctx context.Context, f *corexFactors, b corexBucket, opts corexOptions) error {
	for _, eps := range opts.schedule() {
		r := b.noisy(eps)
		for iter := 0; iter < opts.maxIter; iter++ {
			if err := checkContext(ctx); err != nil {
				return err
			}
			delta, err := f.emStep(r)
			if err != nil {
				return err
			}
			if delta < opts.tol {
				break
			}
		}
	}
	return nil
}

// PooledLinearCorex fits one LinearCorex model on all buckets stacked together
// and returns it for every bucket.
//
// Hyperparameters: as LinearCorex.
type PooledLinearCorex struct{}

func (PooledLinearCorex) FitJoint(ctx context.Context, data dataset.Dataset, cfg params.Config, rng *rand.Rand) ([]ports.FittedModel, error) {
	if data.Len() == 0 {
		return nil, core.ErrEmptyDataset
	}
	m, err := LinearCorex{}.Fit(ctx, data.Concat(), cfg, rng)
	if err != nil {
		return nil, err
	}
	models := make([]ports.FittedModel, data.Len())
	for t := range models {
		models[t] = m
	}
	return models, nil
}

// corexBucket holds the standardised view of one bucket.
type corexBucket struct {
	corr *mat.SymDense
	stds []float64
}

func newCorexBucket(x mat.Matrix) corexBucket {
	emp := empiricalCovariance(centered(x))
	_, stds := columnStats(x)
	return corexBucket{corr: correlation(emp), stds: stds}
}

// noisy returns (R + eps²I)/(1 + eps²).
func (b corexBucket) noisy(eps float64) *mat.SymDense {
	if eps == 0 {
		return b.corr
	}
	p := b.corr.SymmetricDim()
	e2 := eps * eps
	out := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := b.corr.At(i, j)
			if i == j {
				v += e2
			}
			out.SetSym(i, j, v/(1+e2))
		}
	}
	return out
}

// model normalises LLᵀ + diag(ψ) to unit diagonal and rescales it to
// covariance units.
func (b corexBucket) model(f *corexFactors) (ports.FittedModel, error) {
	p := len(b.stds)
	sigma := f.sigma()
	cov := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := sigma.At(i, j) / math.Sqrt(sigma.At(i, i)*sigma.At(j, j))
			cov.SetSym(i, j, v*b.stds[i]*b.stds[j])
		}
	}
	if !allFinite(cov) {
		return nil, fmt.Errorf("%w: latent factor model produced non-finite covariance", core.ErrNumerical)
	}
	return covarianceModel{cov: cov}, nil
}

// corexFactors is the state of one latent factor model: V×m loadings and the
// per-variable unique variances.
type corexFactors struct {
	loadings *mat.Dense
	psi      []float64
}

func newCorexFactors(p, hidden int, rng *rand.Rand) *corexFactors {
	l := mat.NewDense(p, hidden, nil)
	scale := 1 / math.Sqrt(float64(p))
	for i := 0; i < p; i++ {
		for j := 0; j < hidden; j++ {
			l.Set(i, j, rng.NormFloat64()*scale)
		}
	}
	f := &corexFactors{loadings: l, psi: make([]float64, p)}
	f.resetPsi()
	return f
}

func (f *corexFactors) clone() *corexFactors {
	return &corexFactors{
		loadings: mat.DenseCopyOf(f.loadings),
		psi:      append([]float64(nil), f.psi...),
	}
}

// resetPsi sets the unique variances so the model has unit diagonal.
func (f *corexFactors) resetPsi() {
	p, m := f.loadings.Dims()
	for i := 0; i < p; i++ {
		s := 0.0
		for j := 0; j < m; j++ {
			v := f.loadings.At(i, j)
			s += v * v
		}
		f.psi[i] = math.Max(1-s, corexPsiFloor)
	}
}

// sigma returns the model correlation LLᵀ + diag(ψ).
func (f *corexFactors) sigma() *mat.SymDense {
	p, _ := f.loadings.Dims()
	sigma := mat.NewSymDense(p, nil)
	sigma.SymOuterK(1, f.loadings)
	for i := 0; i < p; i++ {
		sigma.SetSym(i, i, sigma.At(i, i)+f.psi[i])
	}
	return sigma
}

// emStep performs one EM update against correlation matrix r and returns the
// largest absolute change in the loadings.
func (f *corexFactors) emStep(r *mat.SymDense) (float64, error) {
	p, m := f.loadings.Dims()

	sigmaInv, err := invertSPD(f.sigma())
	if err != nil {
		return 0, fmt.Errorf("latent factor model covariance: %w", err)
	}

	var beta, betaR, betaL, betaRBeta mat.Dense
	beta.Mul(f.loadings.T(), sigmaInv)
	betaR.Mul(&beta, r)
	betaL.Mul(&beta, f.loadings)
	betaRBeta.Mul(&betaR, beta.T())

	eyy := mat.NewDense(m, m, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			v := betaRBeta.At(i, j) - betaL.At(i, j)
			if i == j {
				v++
			}
			eyy.Set(i, j, v)
		}
	}
	eyyInv, err := invertSPD(symmetrize(eyy))
	if err != nil {
		return 0, fmt.Errorf("latent moment matrix: %w", err)
	}

	var next mat.Dense
	next.Mul(betaR.T(), eyyInv)

	delta := 0.0
	for i := 0; i < p; i++ {
		s := 0.0
		for j := 0; j < m; j++ {
			s += next.At(i, j) * betaR.At(j, i)
			delta = math.Max(delta, math.Abs(next.At(i, j)-f.loadings.At(i, j)))
		}
		f.psi[i] = math.Max(r.At(i, i)-s, corexPsiFloor)
	}
	f.loadings = &next
	if !allFinite(f.loadings) {
		return 0, fmt.Errorf("%w: latent factor loadings diverged", core.ErrNumerical)
	}
	return delta, nil
}
