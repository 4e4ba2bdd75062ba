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

// TimeVaryingCorex fits one latent factor model per bucket jointly. All
// buckets start from the same random loadings; after every EM sweep the
// loadings of adjacent buckets are pulled together, quadratically with l2 and
// by soft-thresholding their differences with l1.
//
// With gamma each bucket's moments are computed from the samples of every
// bucket, weighted by gamma^-|t-s|. With init the shared starting loadings are
// first fitted on the pooled data.
//
// Hyperparameters: n_hidden, max_iter, anneal, l1, l2; optional gamma (>= 1)
// and init (false). nt and nv default to the bucket and variable counts of the
// data and must match them when given.
type TimeVaryingCorex struct{}

func (TimeVaryingCorex) FitJoint(ctx context.Context, data dataset.Dataset, cfg params.Config, rng *rand.Rand) ([]ports.FittedModel, error) {
	opts, err := parseCorexOptions(cfg)
	if err != nil {
		return nil, err
	}
	nt, err := cfg.IntOr("nt", data.Len())
	if err != nil {
		return nil, err
	}
	nv, err := cfg.IntOr("nv", data.Vars())
	if err != nil {
		return nil, err
	}
	l1, err := cfg.FloatOr("l1", 0)
	if err != nil {
		return nil, err
	}
	l2, err := cfg.FloatOr("l2", 0)
	if err != nil {
		return nil, err
	}
	gamma, err := cfg.FloatOr("gamma", 0)
	if err != nil {
		return nil, err
	}
	pooledInit, err := cfg.BoolOr("init", false)
	if err != nil {
		return nil, err
	}
	if cfg.Has("gamma") && gamma < 1 {
		return nil, core.NewParamTypeError("gamma", "float >= 1", gamma)
	}
	if nt != data.Len() {
		return nil, core.NewBucketCountError("training data", nt, data.Len())
	}
	if nv != data.Vars() {
		return nil, fmt.Errorf("%w: nv=%d but data has %d variables", core.ErrShapeMismatch, nv, data.Vars())
	}
	if l1 < 0 || l2 < 0 {
		return nil, core.NewParamTypeError("l1/l2", "non-negative float", math.Min(l1, l2))
	}

	buckets := make([]corexBucket, nt)
	for t := range buckets {
		if gamma > 0 {
			buckets[t] = weightedCorexBucket(data, t, gamma)
		} else {
			buckets[t] = newCorexBucket(data.Bucket(t))
		}
	}
	shared := newCorexFactors(nv, opts.hidden, rng)
	if pooledInit {
		if err := fitFactors(ctx, shared, newCorexBucket(data.Concat()), opts); err != nil {
			return nil, fmt.Errorf("pooled initialisation: %w", err)
		}
	}
	factors := make([]*corexFactors, nt)
	for t := range factors {
		factors[t] = shared.clone()
	}

	for _, eps := range opts.schedule() {
		noisy := make([]*mat.SymDense, nt)
		for t := range buckets {
			noisy[t] = buckets[t].noisy(eps)
		}
		for iter := 0; iter < opts.maxIter; iter++ {
			if err := checkContext(ctx); err != nil {
				return nil, err
			}
			before := make([]*mat.Dense, nt)
			for t, f := range factors {
				before[t] = mat.DenseCopyOf(f.loadings)
				if _, err := f.emStep(noisy[t]); err != nil {
					return nil, fmt.Errorf("bucket %d: %w", t, err)
				}
			}
			smoothLoadings(factors, l1, l2)

			delta := 0.0
			for t, f := range factors {
				delta = math.Max(delta, maxAbsDiff(f.loadings, before[t]))
			}
			if delta < opts.tol {
				break
			}
		}
	}

	models := make([]ports.FittedModel, nt)
	for t, f := range factors {
		m, err := buckets[t].model(f)
		if err != nil {
			return nil, fmt.Errorf("bucket %d: %w", t, err)
		}
		models[t] = m
	}
	return models, nil
}

// weightedCorexBucket standardises bucket t using the samples of all buckets,
// each weighted by gamma^-|t-s| where s is the sample's bucket.
func weightedCorexBucket(data dataset.Dataset, t int, gamma float64) corexBucket {
	p := data.Vars()
	weights := make([]float64, data.Len())
	total := 0.0
	mean := make([]float64, p)
	for s := range weights {
		weights[s] = math.Pow(gamma, -math.Abs(float64(t-s)))
		x := data.Bucket(s)
		n, _ := x.Dims()
		for i := 0; i < n; i++ {
			total += weights[s]
			for j := 0; j < p; j++ {
				mean[j] += weights[s] * x.At(i, j)
			}
		}
	}
	for j := range mean {
		mean[j] /= total
	}

	cov := mat.NewSymDense(p, nil)
	d := make([]float64, p)
	for s, w := range weights {
		x := data.Bucket(s)
		n, _ := x.Dims()
		for i := 0; i < n; i++ {
			for j := 0; j < p; j++ {
				d[j] = x.At(i, j) - mean[j]
			}
			for j := 0; j < p; j++ {
				for k := j; k < p; k++ {
					cov.SetSym(j, k, cov.At(j, k)+w*d[j]*d[k])
				}
			}
		}
	}
	cov.ScaleSym(1/total, cov)

	stds := make([]float64, p)
	for j := range stds {
		stds[j] = math.Sqrt(cov.At(j, j))
	}
	return corexBucket{corr: correlation(cov), stds: stds}
}

// smoothLoadings moves each bucket's loadings toward the local mean over itself
// and its temporal neighbours. Updates are computed from a snapshot so bucket
// order does not matter.
func smoothLoadings(factors []*corexFactors, l1, l2 float64) {
	nt := len(factors)
	if nt < 2 || (l1 == 0 && l2 == 0) {
		return
	}
	snapshot := make([]*mat.Dense, nt)
	for t, f := range factors {
		snapshot[t] = mat.DenseCopyOf(f.loadings)
	}
	p, m := snapshot[0].Dims()
	for t, f := range factors {
		var nb []*mat.Dense
		if t > 0 {
			nb = append(nb, snapshot[t-1])
		}
		if t < nt-1 {
			nb = append(nb, snapshot[t+1])
		}
		k := float64(len(nb) + 1)
		for i := 0; i < p; i++ {
			for j := 0; j < m; j++ {
				v := snapshot[t].At(i, j)
				mean := v
				for _, n := range nb {
					mean += n.At(i, j)
				}
				mean /= k
				if l2 > 0 {
					v = (v + l2*k*mean) / (1 + l2*k)
				}
				if l1 > 0 {
					v = mean + softThreshold(v-mean, l1)
				}
				f.loadings.Set(i, j, v)
			}
		}
		f.resetPsi()
	}
}

func maxAbsDiff(a, b mat.Matrix) float64 {
	r, c := a.Dims()
	d := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d = math.Max(d, math.Abs(a.At(i, j)-b.At(i, j)))
		}
	}
	return d
}

var _ ports.JointEstimator = TimeVaryingCorex{}
