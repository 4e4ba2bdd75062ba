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

// Temporal penalties on the difference of adjacent precision matrices.
const (
	PenaltyL1        = 1 // element-wise L1
	PenaltyGroupL2   = 2 // column-wise group lasso
	PenaltyLaplacian = 3 // squared Frobenius norm
)

// TimeVaryingGraphLasso estimates one sparse precision matrix per time slice of
// the concatenated training series with ADMM. Off-diagonal entries carry an L1
// penalty (lamb) and differences between adjacent slices carry the penalty
// selected by indexOfPenalty, weighted by beta.
//
// Hyperparameters: lamb, beta, indexOfPenalty; optional lengthOfSlice, max_iter
// (100), rho (1), eps_abs and eps_rel (1e-3). Without lengthOfSlice every bucket
// is one slice; with it the series must split into exactly one slice per bucket.
type TimeVaryingGraphLasso struct{}

type tvglOptions struct {
	sliceLen int
	lamb     float64
	beta     float64
	penalty  int
	maxIter  int
	rho      float64
	epsAbs   float64
	epsRel   float64
}

func parseTVGLOptions(cfg params.Config) (tvglOptions, error) {
	var o tvglOptions
	var err error
	if o.sliceLen, err = cfg.IntOr("lengthOfSlice", 0); err != nil {
		return o, err
	}
	if cfg.Has("lengthOfSlice") && o.sliceLen < 1 {
		return o, core.NewParamTypeError("lengthOfSlice", "positive int", o.sliceLen)
	}
	if o.lamb, err = cfg.Float("lamb"); err != nil {
		return o, err
	}
	if o.beta, err = cfg.Float("beta"); err != nil {
		return o, err
	}
	if o.penalty, err = cfg.Int("indexOfPenalty"); err != nil {
		return o, err
	}
	if o.maxIter, err = cfg.IntOr("max_iter", 100); err != nil {
		return o, err
	}
	if o.rho, err = cfg.FloatOr("rho", 1); err != nil {
		return o, err
	}
	if o.epsAbs, err = cfg.FloatOr("eps_abs", 1e-3); err != nil {
		return o, err
	}
	if o.epsRel, err = cfg.FloatOr("eps_rel", 1e-3); err != nil {
		return o, err
	}
	switch {
	case o.penalty < PenaltyL1 || o.penalty > PenaltyLaplacian:
		return o, fmt.Errorf("%w: indexOfPenalty=%d must be 1, 2 or 3", core.ErrParamType, o.penalty)
	case o.rho <= 0:
		return o, core.NewParamTypeError("rho", "positive float", o.rho)
	}
	return o, nil
}

func (TimeVaryingGraphLasso) FitJoint(ctx context.Context, data dataset.Dataset, cfg params.Config, _ *rand.Rand) ([]ports.FittedModel, error) {
	opts, err := parseTVGLOptions(cfg)
	if err != nil {
		return nil, err
	}
	emp, counts, err := tvglSlices(data, opts.sliceLen)
	if err != nil {
		return nil, err
	}

	thetas, err := tvglADMM(ctx, emp, counts, opts)
	if err != nil {
		return nil, err
	}
	models := make([]ports.FittedModel, len(thetas))
	for t, th := range thetas {
		models[t] = precisionModel{precision: th}
	}
	return models, nil
}

// tvglSlices returns the empirical covariance and row count of every time
// slice. sliceLen 0 cuts on bucket boundaries.
func tvglSlices(data dataset.Dataset, sliceLen int) ([]*mat.SymDense, []float64, error) {
	if data.Len() == 0 {
		return nil, nil, core.ErrEmptyDataset
	}
	emp := make([]*mat.SymDense, data.Len())
	counts := make([]float64, data.Len())
	if sliceLen == 0 {
		for t := range emp {
			emp[t] = empiricalCovariance(centered(data.Bucket(t)))
			counts[t] = float64(data.Samples(t))
		}
		return emp, counts, nil
	}

	series := data.Concat()
	rows, p := series.Dims()
	if rows%sliceLen != 0 || rows/sliceLen != data.Len() {
		return nil, nil, core.NewBucketCountError(
			fmt.Sprintf("series of %d rows cut into slices of %d", rows, sliceLen), data.Len(), rows/sliceLen)
	}
	for t := range emp {
		view := series.Slice(t*sliceLen, (t+1)*sliceLen, 0, p)
		emp[t] = empiricalCovariance(centered(view))
		counts[t] = float64(sliceLen)
	}
	return emp, counts, nil
}

// tvglState holds the ADMM iterates. z1/u1 couple slice t with t+1 from the
// left, z2/u2 from the right; z1[T-1] and z2[0] are unused.
type tvglState struct {
	theta, z0, z1, z2, u0, u1, u2 []*mat.SymDense
}

func newTVGLState(T, p int) *tvglState {
	mk := func(identity bool) []*mat.SymDense {
		out := make([]*mat.SymDense, T)
		for t := range out {
			out[t] = mat.NewSymDense(p, nil)
			if identity {
				for i := 0; i < p; i++ {
					out[t].SetSym(i, i, 1)
				}
			}
		}
		return out
	}
	return &tvglState{
		theta: mk(true), z0: mk(true), z1: mk(true), z2: mk(true),
		u0: mk(false), u1: mk(false), u2: mk(false),
	}
}

func tvglADMM(ctx context.Context, emp []*mat.SymDense, counts []float64, o tvglOptions) ([]*mat.SymDense, error) {
	T := len(emp)
	p := emp[0].SymmetricDim()
	s := newTVGLState(T, p)

	for iter := 0; iter < o.maxIter; iter++ {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}

		for t := 0; t < T; t++ {
			a := mat.NewSymDense(p, nil)
			subSym(a, s.z0[t], s.u0[t])
			terms := 1.0
			if t < T-1 {
				addDiff(a, s.z1[t], s.u1[t])
				terms++
			}
			if t > 0 {
				addDiff(a, s.z2[t], s.u2[t])
				terms++
			}
			a.ScaleSym(1/terms, a)
			th, err := thetaUpdate(a, emp[t], counts[t]/(o.rho*terms))
			if err != nil {
				return nil, fmt.Errorf("slice %d: %w", t, err)
			}
			s.theta[t] = th
		}

		prevZ0 := cloneAll(s.z0)
		prevZ1 := cloneAll(s.z1)
		prevZ2 := cloneAll(s.z2)

		for t := 0; t < T; t++ {
			z := mat.NewSymDense(p, nil)
			z.AddSym(s.theta[t], s.u0[t])
			for i := 0; i < p; i++ {
				for j := i + 1; j < p; j++ {
					z.SetSym(i, j, softThreshold(z.At(i, j), o.lamb/o.rho))
				}
			}
			s.z0[t] = z
		}
		for t := 0; t < T-1; t++ {
			a1 := mat.NewSymDense(p, nil)
			a1.AddSym(s.theta[t], s.u1[t])
			a2 := mat.NewSymDense(p, nil)
			a2.AddSym(s.theta[t+1], s.u2[t+1])
			d := mat.NewSymDense(p, nil)
			subSym(d, a2, a1)
			e := temporalProx(d, o.penalty, 2*o.beta/o.rho)

			sum := mat.NewSymDense(p, nil)
			sum.AddSym(a1, a2)
			z1 := mat.NewSymDense(p, nil)
			subSym(z1, sum, e)
			z1.ScaleSym(0.5, z1)
			z2 := mat.NewSymDense(p, nil)
			z2.AddSym(sum, e)
			z2.ScaleSym(0.5, z2)
			s.z1[t], s.z2[t+1] = z1, z2
		}

		for t := 0; t < T; t++ {
			addDiff(s.u0[t], s.theta[t], s.z0[t])
			if t < T-1 {
				addDiff(s.u1[t], s.theta[t], s.z1[t])
			}
			if t > 0 {
				addDiff(s.u2[t], s.theta[t], s.z2[t])
			}
		}

		if !allFiniteSet(s.theta) {
			return nil, fmt.Errorf("%w: ADMM iterates diverged", core.ErrIllConditioned)
		}
		if s.converged(prevZ0, prevZ1, prevZ2, o) {
			break
		}
	}
	return s.theta, nil
}

// thetaUpdate solves argmin −log det Θ + tr(SΘ) + (1/2η)‖Θ − A‖² in closed form
// from the eigendecomposition of A/η − S.
func thetaUpdate(a, emp *mat.SymDense, eta float64) (*mat.SymDense, error) {
	p := a.SymmetricDim()
	m := mat.NewSymDense(p, nil)
	m.ScaleSym(1/eta, a)
	subSym(m, m, emp)

	var es mat.EigenSym
	if ok := es.Factorize(m, true); !ok {
		return nil, fmt.Errorf("%w: eigendecomposition failed", core.ErrNotConverged)
	}
	d := es.Values(nil)
	var q mat.Dense
	es.VectorsTo(&q)

	for j, v := range d {
		d[j] = eta / 2 * (v + math.Sqrt(v*v+4/eta))
	}
	out := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := 0.0
			for k := 0; k < p; k++ {
				v += q.At(i, k) * d[k] * q.At(j, k)
			}
			out.SetSym(i, j, v)
		}
	}
	return out, nil
}

// temporalProx is the proximal operator of t·ψ for the chosen penalty.
func temporalProx(d *mat.SymDense, penalty int, t float64) *mat.SymDense {
	p := d.SymmetricDim()
	out := mat.NewSymDense(p, nil)
	switch penalty {
	case PenaltyL1:
		for i := 0; i < p; i++ {
			for j := i; j < p; j++ {
				out.SetSym(i, j, softThreshold(d.At(i, j), t))
			}
		}
	case PenaltyGroupL2:
		// Column shrinkage breaks symmetry; the result is symmetrised.
		shrunk := mat.NewDense(p, p, nil)
		col := make([]float64, p)
		for j := 0; j < p; j++ {
			mat.Col(col, j, d)
			norm := mat.Norm(mat.NewVecDense(p, col), 2)
			scale := 0.0
			if norm > 0 {
				scale = math.Max(0, 1-t/norm)
			}
			for i := 0; i < p; i++ {
				shrunk.Set(i, j, scale*col[i])
			}
		}
		out = symmetrize(shrunk)
	case PenaltyLaplacian:
		out.ScaleSym(1/(1+2*t), d)
	}
	return out
}

// converged applies the standard ADMM primal and dual residual tests.
func (s *tvglState) converged(prevZ0, prevZ1, prevZ2 []*mat.SymDense, o tvglOptions) bool {
	T := len(s.theta)
	p := s.theta[0].SymmetricDim()

	var primal, dual, thetaNorm, zNorm, uNorm float64
	pairs := func(theta, z, prev, u *mat.SymDense) {
		for i := 0; i < p; i++ {
			for j := 0; j < p; j++ {
				r := theta.At(i, j) - z.At(i, j)
				primal += r * r
				dz := z.At(i, j) - prev.At(i, j)
				dual += dz * dz
				thetaNorm += theta.At(i, j) * theta.At(i, j)
				zNorm += z.At(i, j) * z.At(i, j)
				uNorm += u.At(i, j) * u.At(i, j)
			}
		}
	}
	blocks := 0
	for t := 0; t < T; t++ {
		pairs(s.theta[t], s.z0[t], prevZ0[t], s.u0[t])
		blocks++
		if t < T-1 {
			pairs(s.theta[t], s.z1[t], prevZ1[t], s.u1[t])
			blocks++
		}
		if t > 0 {
			pairs(s.theta[t], s.z2[t], prevZ2[t], s.u2[t])
			blocks++
		}
	}
	dim := math.Sqrt(float64(blocks * p * p))
	epsPrimal := dim*o.epsAbs + o.epsRel*math.Max(math.Sqrt(thetaNorm), math.Sqrt(zNorm))
	epsDual := dim*o.epsAbs + o.epsRel*o.rho*math.Sqrt(uNorm)
	return math.Sqrt(primal) <= epsPrimal && o.rho*math.Sqrt(dual) <= epsDual
}

// subSym sets dst = a − b; dst may alias a or b.
func subSym(dst, a, b *mat.SymDense) {
	p := dst.SymmetricDim()
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			dst.SetSym(i, j, a.At(i, j)-b.At(i, j))
		}
	}
}

// addDiff sets dst += a − b.
func addDiff(dst, a, b *mat.SymDense) {
	p := dst.SymmetricDim()
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			dst.SetSym(i, j, dst.At(i, j)+a.At(i, j)-b.At(i, j))
		}
	}
}

func cloneAll(ms []*mat.SymDense) []*mat.SymDense {
	out := make([]*mat.SymDense, len(ms))
	for i, m := range ms {
		c := mat.NewSymDense(m.SymmetricDim(), nil)
		c.CopySym(m)
		out[i] = c
	}
	return out
}

func allFiniteSet(ms []*mat.SymDense) bool {
	for _, m := range ms {
		if !allFinite(m) {
			return false
		}
	}
	return true
}

var _ ports.JointEstimator = TimeVaryingGraphLasso{}
