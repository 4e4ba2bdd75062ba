package estimators

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"covbench/domain/core"
	"covbench/domain/dataset"
	"covbench/domain/params"
	"covbench/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// factorSample draws n rows of a p-variable one-factor model with unit noise.
func factorSample(n, p int, seed uint64) *mat.Dense {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	x := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		z := rng.NormFloat64()
		for j := 0; j < p; j++ {
			x.Set(i, j, 1.5*z+rng.NormFloat64()+float64(j))
		}
	}
	return x
}

func fitCov(t *testing.T, est ports.Estimator, x mat.Matrix, cfg params.Config) *mat.SymDense {
	t.Helper()
	m, err := est.Fit(context.Background(), x, cfg, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	cov, err := m.Covariance()
	require.NoError(t, err)
	return cov
}

func requirePD(t *testing.T, cov mat.Symmetric) {
	t.Helper()
	var chol mat.Cholesky
	require.True(t, chol.Factorize(cov), "covariance is not positive definite")
}

func trace(m mat.Matrix) float64 {
	r, _ := m.Dims()
	s := 0.0
	for i := 0; i < r; i++ {
		s += m.At(i, i)
	}
	return s
}

func TestDiagonal_PopulationVariance(t *testing.T) {
	x := factorSample(40, 4, 1)
	cov := fitCov(t, Diagonal{}, x, params.Empty())

	col := make([]float64, 40)
	for i := 0; i < 4; i++ {
		mat.Col(col, i, x)
		assert.Equal(t, stat.PopVariance(col, nil), cov.At(i, i))
		for j := i + 1; j < 4; j++ {
			assert.Zero(t, cov.At(i, j))
		}
	}
}

func TestShrinkage_PreservesTrace(t *testing.T) {
	x := factorSample(30, 6, 2)
	emp := empiricalCovariance(centered(x))

	for name, est := range map[string]ports.Estimator{"ledoit-wolf": LedoitWolf{}, "oas": OAS{}} {
		t.Run(name, func(t *testing.T) {
			cov := fitCov(t, est, x, params.Empty())
			assert.InDelta(t, trace(emp), trace(cov), 1e-9)
			requirePD(t, cov)
			// Shrinkage pulls off-diagonal entries toward zero.
			for i := 0; i < 6; i++ {
				for j := i + 1; j < 6; j++ {
					assert.LessOrEqual(t, math.Abs(cov.At(i, j)), math.Abs(emp.At(i, j))+1e-12)
				}
			}
		})
	}
}

func TestLedoitWolf_SingleVariableIsEmpirical(t *testing.T) {
	x := factorSample(25, 1, 3)
	cov := fitCov(t, LedoitWolf{}, x, params.Empty())
	emp := empiricalCovariance(centered(x))
	assert.InDelta(t, emp.At(0, 0), cov.At(0, 0), 1e-12)
}

func TestPCA_FullRankIsSampleCovariance(t *testing.T) {
	x := factorSample(50, 5, 4)
	cov := fitCov(t, PCA{}, x, params.NewConfig(map[string]interface{}{"n_components": 5}))

	want := mat.NewSymDense(5, nil)
	stat.CovarianceMatrix(want, x, nil)
	assert.True(t, mat.EqualApprox(want, cov, 1e-9))
}

func TestPCA_InvalidComponents(t *testing.T) {
	x := factorSample(8, 5, 5)
	for _, k := range []int{0, 6, 32} {
		_, err := PCA{}.Fit(context.Background(), x, params.NewConfig(map[string]interface{}{"n_components": k}), nil)
		assert.ErrorIs(t, err, core.ErrInvalidComponents, "k=%d", k)
		assert.True(t, core.IsNumericalError(err))
	}
}

func TestPCA_LowRankIsPositiveDefinite(t *testing.T) {
	x := factorSample(60, 6, 6)
	cov := fitCov(t, PCA{}, x, params.NewConfig(map[string]interface{}{"n_components": 2}))
	requirePD(t, cov)
}

func TestFactorAnalysis(t *testing.T) {
	x := factorSample(80, 5, 7)
	cov := fitCov(t, FactorAnalysis{}, x, params.NewConfig(map[string]interface{}{"n_components": 1}))
	requirePD(t, cov)

	// The single factor should recover most of the shared variance.
	emp := empiricalCovariance(centered(x))
	assert.InDelta(t, emp.At(0, 1), cov.At(0, 1), 0.5)

	_, err := FactorAnalysis{}.Fit(context.Background(), x, params.NewConfig(map[string]interface{}{"n_components": 9}), nil)
	assert.ErrorIs(t, err, core.ErrInvalidComponents)
}

func TestFactorAnalysis_MissingComponents(t *testing.T) {
	_, err := FactorAnalysis{}.Fit(context.Background(), factorSample(10, 3, 8), params.Empty(), nil)
	assert.ErrorIs(t, err, core.ErrMissingParam)
}

func TestGraphLasso(t *testing.T) {
	x := factorSample(200, 4, 9)
	emp := empiricalCovariance(centered(x))

	t.Run("zero alpha is the empirical covariance", func(t *testing.T) {
		cov := fitCov(t, GraphLasso{}, x, params.NewConfig(map[string]interface{}{"alpha": 0.0, "mode": "cd"}))
		assert.True(t, mat.EqualApprox(emp, cov, 1e-12))
	})

	t.Run("large alpha leaves only the diagonal", func(t *testing.T) {
		cov := fitCov(t, GraphLasso{}, x, params.NewConfig(map[string]interface{}{"alpha": 100.0, "mode": "lars"}))
		for i := 0; i < 4; i++ {
			assert.InDelta(t, emp.At(i, i), cov.At(i, i), 1e-12)
			for j := i + 1; j < 4; j++ {
				assert.InDelta(t, 0, cov.At(i, j), 1e-12)
			}
		}
	})

	t.Run("moderate alpha keeps a positive definite precision", func(t *testing.T) {
		m, err := GraphLasso{}.Fit(context.Background(), x, params.NewConfig(map[string]interface{}{"alpha": 0.05}), nil)
		require.NoError(t, err)
		gm := m.(glassoModel)
		requirePD(t, gm.Precision())
		cov, err := m.Covariance()
		require.NoError(t, err)
		// Off-diagonal covariance stays within alpha of the empirical value.
		for i := 0; i < 4; i++ {
			for j := i + 1; j < 4; j++ {
				assert.LessOrEqual(t, math.Abs(cov.At(i, j)-emp.At(i, j)), 0.05+1e-2)
			}
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := GraphLasso{}.Fit(context.Background(), x, params.NewConfig(map[string]interface{}{"alpha": 0.1, "mode": "qp"}), nil)
		assert.ErrorIs(t, err, core.ErrParamType)
	})
}

func TestGraphLasso_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := GraphLasso{}.Fit(ctx, factorSample(50, 4, 10), params.NewConfig(map[string]interface{}{"alpha": 0.1}), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func corexConfig(extra map[string]interface{}) params.Config {
	values := map[string]interface{}{"n_hidden": 2, "max_iter": 50, "anneal": true}
	for k, v := range extra {
		values[k] = v
	}
	return params.NewConfig(values)
}

func TestLinearCorex_ReproducibleFromSeed(t *testing.T) {
	x := factorSample(60, 5, 11)
	fit := func(seed uint64) *mat.SymDense {
		m, err := LinearCorex{}.Fit(context.Background(), x, corexConfig(nil), rand.New(rand.NewPCG(seed, 7)))
		require.NoError(t, err)
		cov, err := m.Covariance()
		require.NoError(t, err)
		return cov
	}

	a, b := fit(3), fit(3)
	assert.True(t, mat.Equal(a, b))
	requirePD(t, a)

	// The model has unit correlation diagonal, so variances match the data.
	_, stds := columnStats(x)
	for i, s := range stds {
		assert.InDelta(t, s*s, a.At(i, i), 1e-9)
	}
}

func TestLinearCorex_InvalidHidden(t *testing.T) {
	_, err := LinearCorex{}.Fit(context.Background(), factorSample(20, 3, 12), corexConfig(map[string]interface{}{"n_hidden": 0}), rand.New(rand.NewPCG(1, 1)))
	assert.ErrorIs(t, err, core.ErrInvalidComponents)
}

func bucketed(t *testing.T, nt, n, p int) dataset.Dataset {
	t.Helper()
	buckets := make([]*mat.Dense, nt)
	for i := range buckets {
		buckets[i] = factorSample(n, p, uint64(100+i))
	}
	d, err := dataset.New(buckets)
	require.NoError(t, err)
	return d
}

func TestTimeVaryingCorex(t *testing.T) {
	data := bucketed(t, 3, 30, 4)
	cfg := corexConfig(map[string]interface{}{"nt": 3, "nv": 4, "l1": 0.0, "l2": 0.1})

	models, err := TimeVaryingCorex{}.FitJoint(context.Background(), data, cfg, rand.New(rand.NewPCG(5, 5)))
	require.NoError(t, err)
	require.Len(t, models, 3)
	for _, m := range models {
		cov, err := m.Covariance()
		require.NoError(t, err)
		requirePD(t, cov)
	}

	t.Run("l1 smoothing", func(t *testing.T) {
		models, err := TimeVaryingCorex{}.FitJoint(context.Background(), data, cfg.With("l1", 0.01).With("l2", 0.0), rand.New(rand.NewPCG(5, 5)))
		require.NoError(t, err)
		assert.Len(t, models, 3)
	})

	t.Run("bucket count mismatch", func(t *testing.T) {
		_, err := TimeVaryingCorex{}.FitJoint(context.Background(), data, cfg.With("nt", 4), rand.New(rand.NewPCG(5, 5)))
		assert.ErrorIs(t, err, core.ErrBucketCount)
	})

	t.Run("variable count mismatch", func(t *testing.T) {
		_, err := TimeVaryingCorex{}.FitJoint(context.Background(), data, cfg.With("nv", 5), rand.New(rand.NewPCG(5, 5)))
		assert.ErrorIs(t, err, core.ErrShapeMismatch)
	})
}

func TestSmoothLoadings_StrongL2PullsTogether(t *testing.T) {
	a := &corexFactors{loadings: mat.NewDense(1, 1, []float64{0}), psi: []float64{1}}
	b := &corexFactors{loadings: mat.NewDense(1, 1, []float64{1}), psi: []float64{1}}
	smoothLoadings([]*corexFactors{a, b}, 0, 1e6)
	assert.InDelta(t, 0.5, a.loadings.At(0, 0), 1e-5)
	assert.InDelta(t, 0.5, b.loadings.At(0, 0), 1e-5)

	a.loadings.Set(0, 0, 0)
	b.loadings.Set(0, 0, 0.5)
	smoothLoadings([]*corexFactors{a, b}, 1, 0)
	// Differences smaller than l1 collapse onto the local mean.
	assert.Equal(t, 0.25, a.loadings.At(0, 0))
	assert.Equal(t, 0.25, b.loadings.At(0, 0))
}

func tvglConfig(slice, penalty int) params.Config {
	return params.NewConfig(map[string]interface{}{
		"lengthOfSlice":  slice,
		"lamb":           0.03,
		"beta":           0.1,
		"indexOfPenalty": penalty,
		"max_iter":       100,
	})
}

func TestTimeVaryingGraphLasso(t *testing.T) {
	data := bucketed(t, 3, 40, 4)

	for _, penalty := range []int{PenaltyL1, PenaltyGroupL2, PenaltyLaplacian} {
		models, err := TimeVaryingGraphLasso{}.FitJoint(context.Background(), data, tvglConfig(40, penalty), nil)
		require.NoError(t, err, "penalty %d", penalty)
		require.Len(t, models, 3)
		for _, m := range models {
			requirePD(t, m.(precisionModel).Precision())
			cov, err := m.Covariance()
			require.NoError(t, err)
			requirePD(t, cov)
		}
	}
}

func TestTimeVaryingGraphLasso_Validation(t *testing.T) {
	data := bucketed(t, 3, 40, 4)

	_, err := TimeVaryingGraphLasso{}.FitJoint(context.Background(), data, tvglConfig(20, PenaltyL1), nil)
	assert.ErrorIs(t, err, core.ErrBucketCount)

	_, err = TimeVaryingGraphLasso{}.FitJoint(context.Background(), data, tvglConfig(40, 4), nil)
	assert.True(t, errors.Is(err, core.ErrParamType))
}

func TestTemporalProx(t *testing.T) {
	d := mat.NewSymDense(2, []float64{2, -0.5, -0.5, 1})

	l1 := temporalProx(d, PenaltyL1, 1)
	assert.Equal(t, 1.0, l1.At(0, 0))
	assert.Equal(t, 0.0, l1.At(0, 1))

	lap := temporalProx(d, PenaltyLaplacian, 0.5)
	assert.InDelta(t, 1.0, lap.At(0, 0), 1e-12)

	group := temporalProx(d, PenaltyGroupL2, 100)
	assert.True(t, mat.Equal(mat.NewSymDense(2, nil), group))
}

func TestLinearCorex_PositiveDefiniteAcrossSeeds(t *testing.T) {
	x := factorSample(60, 5, 11)
	cfg := corexConfig(map[string]interface{}{"max_iter": 100})
	_, stds := columnStats(x)
	for seed := uint64(0); seed < 50; seed++ {
		m, err := LinearCorex{}.Fit(context.Background(), x, cfg, rand.New(rand.NewPCG(seed, 7)))
		require.NoError(t, err, "seed %d", seed)
		cov, err := m.Covariance()
		require.NoError(t, err)
		requirePD(t, cov)
		for i, s := range stds {
			assert.InDelta(t, s*s, cov.At(i, i), 1e-9, "seed %d", seed)
		}
	}
}

func TestCorexModel_KeepsUniqueVariances(t *testing.T) {
	// Loadings above one would give LLᵀ an off-diagonal larger than its
	// unit-replaced diagonal; with ψ kept the result is still a correlation.
	f := &corexFactors{loadings: mat.NewDense(2, 1, []float64{1.2, 0.9}), psi: []float64{0.1, 0.4}}
	b := corexBucket{stds: []float64{2, 3}}
	m, err := b.model(f)
	require.NoError(t, err)
	cov, err := m.Covariance()
	require.NoError(t, err)
	requirePD(t, cov)
	assert.InDelta(t, 4, cov.At(0, 0), 1e-12)
	assert.InDelta(t, 9, cov.At(1, 1), 1e-12)
	assert.InDelta(t, 1.08/math.Sqrt(1.54*1.21)*6, cov.At(0, 1), 1e-12)
}

func TestTimeVaryingCorex_PositiveDefiniteAcrossSeeds(t *testing.T) {
	data := bucketed(t, 3, 60, 5)
	cfg := corexConfig(map[string]interface{}{"max_iter": 100, "l1": 0.0, "l2": 0.1})
	for seed := uint64(0); seed < 10; seed++ {
		models, err := TimeVaryingCorex{}.FitJoint(context.Background(), data, cfg, rand.New(rand.NewPCG(seed, 7)))
		require.NoError(t, err, "seed %d", seed)
		for _, m := range models {
			cov, err := m.Covariance()
			require.NoError(t, err)
			requirePD(t, cov)
		}
	}
}

func TestTimeVaryingCorex_WeightedSamples(t *testing.T) {
	data := bucketed(t, 3, 30, 4)
	cfg := corexConfig(map[string]interface{}{"l1": 0.0, "l2": 0.0, "gamma": 2.0})

	models, err := TimeVaryingCorex{}.FitJoint(context.Background(), data, cfg, rand.New(rand.NewPCG(5, 5)))
	require.NoError(t, err)
	require.Len(t, models, 3)
	for _, m := range models {
		cov, err := m.Covariance()
		require.NoError(t, err)
		requirePD(t, cov)
	}

	t.Run("pooled init", func(t *testing.T) {
		models, err := TimeVaryingCorex{}.FitJoint(context.Background(), data, cfg.With("init", true), rand.New(rand.NewPCG(5, 5)))
		require.NoError(t, err)
		assert.Len(t, models, 3)
	})

	t.Run("gamma below one", func(t *testing.T) {
		_, err := TimeVaryingCorex{}.FitJoint(context.Background(), data, cfg.With("gamma", 0.5), rand.New(rand.NewPCG(5, 5)))
		assert.ErrorIs(t, err, core.ErrParamType)
	})
}

func TestWeightedCorexBucket(t *testing.T) {
	data := bucketed(t, 3, 30, 4)

	// A huge gamma leaves only the bucket's own samples.
	own := weightedCorexBucket(data, 1, 1e12)
	plain := newCorexBucket(data.Bucket(1))
	assert.True(t, mat.EqualApprox(own.corr, plain.corr, 1e-8))
	assert.InDeltaSlice(t, plain.stds, own.stds, 1e-8)

	// gamma = 1 weights every sample equally.
	pooled := weightedCorexBucket(data, 0, 1)
	all := newCorexBucket(data.Concat())
	assert.True(t, mat.EqualApprox(pooled.corr, all.corr, 1e-10))
	assert.InDeltaSlice(t, all.stds, pooled.stds, 1e-10)
}

func TestPooledLinearCorex(t *testing.T) {
	data := bucketed(t, 3, 30, 4)
	models, err := PooledLinearCorex{}.FitJoint(context.Background(), data, corexConfig(nil), rand.New(rand.NewPCG(9, 9)))
	require.NoError(t, err)
	require.Len(t, models, 3)
	first, err := models[0].Covariance()
	require.NoError(t, err)
	requirePD(t, first)
	for _, m := range models[1:] {
		cov, err := m.Covariance()
		require.NoError(t, err)
		assert.True(t, mat.Equal(first, cov))
	}

	_, stds := columnStats(data.Concat())
	for i, s := range stds {
		assert.InDelta(t, s*s, first.At(i, i), 1e-9)
	}
}

func TestSparsePCA(t *testing.T) {
	x := factorSample(50, 6, 21)
	cfg := params.NewConfig(map[string]interface{}{"n_components": 2, "alpha": 0.5})

	cov := fitCov(t, SparsePCA{}, x, cfg)
	requirePD(t, cov)
	assert.True(t, mat.Equal(cov, fitCov(t, SparsePCA{}, x, cfg)), "deterministic")

	// Huge alpha zeroes every component, leaving the per-variable variances.
	diag := fitCov(t, SparsePCA{}, x, cfg.With("alpha", 1e9))
	emp := empiricalCovariance(centered(x))
	for i := 0; i < 6; i++ {
		assert.InDelta(t, emp.At(i, i), diag.At(i, i), 1e-9)
		for j := i + 1; j < 6; j++ {
			assert.Equal(t, 0.0, diag.At(i, j))
		}
	}

	t.Run("invalid components", func(t *testing.T) {
		_, err := SparsePCA{}.Fit(context.Background(), x, cfg.With("n_components", 7), nil)
		assert.ErrorIs(t, err, core.ErrInvalidComponents)
	})

	t.Run("missing alpha", func(t *testing.T) {
		_, err := SparsePCA{}.Fit(context.Background(), x, params.NewConfig(map[string]interface{}{"n_components": 2}), nil)
		assert.ErrorIs(t, err, core.ErrMissingParam)
	})
}

func TestQUIC_PenalisesDiagonal(t *testing.T) {
	x := factorSample(80, 4, 31)
	emp := empiricalCovariance(centered(x))

	m, err := QUIC{}.Fit(context.Background(), x, params.NewConfig(map[string]interface{}{"lamb": 0.2}), nil)
	require.NoError(t, err)
	cov, err := m.Covariance()
	require.NoError(t, err)
	requirePD(t, cov)
	requirePD(t, m.(glassoModel).Precision())
	for i := 0; i < 4; i++ {
		assert.InDelta(t, emp.At(i, i)+0.2, cov.At(i, i), 1e-9)
	}

	exact, err := QUIC{}.Fit(context.Background(), x, params.NewConfig(map[string]interface{}{"lamb": 0.0}), nil)
	require.NoError(t, err)
	c0, err := exact.Covariance()
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(emp, c0, 1e-12))

	_, err = QUIC{}.Fit(context.Background(), x, params.NewConfig(map[string]interface{}{"lamb": -1.0}), nil)
	assert.ErrorIs(t, err, core.ErrParamType)
}

func TestSubSym_Aliasing(t *testing.T) {
	a := mat.NewSymDense(2, []float64{3, 1, 1, 2})
	b := mat.NewSymDense(2, []float64{1, 0.5, 0.5, 1})
	subSym(a, a, b)
	assert.True(t, mat.Equal(mat.NewSymDense(2, []float64{2, 0.5, 0.5, 1}), a))
}

func unequalBuckets(t *testing.T, sizes ...int) dataset.Dataset {
	t.Helper()
	buckets := make([]*mat.Dense, len(sizes))
	for i, n := range sizes {
		buckets[i] = factorSample(n, 4, uint64(200+i))
	}
	d, err := dataset.New(buckets)
	require.NoError(t, err)
	return d
}

func TestTimeVaryingGraphLasso_UnequalBuckets(t *testing.T) {
	cfg := params.NewConfig(map[string]interface{}{
		"lamb": 0.03, "beta": 0.1, "indexOfPenalty": PenaltyL1, "max_iter": 100,
	})
	fit := func(d dataset.Dataset) []*mat.SymDense {
		models, err := TimeVaryingGraphLasso{}.FitJoint(context.Background(), d, cfg, nil)
		require.NoError(t, err)
		covs := make([]*mat.SymDense, len(models))
		for i, m := range models {
			covs[i], err = m.Covariance()
			require.NoError(t, err)
			requirePD(t, covs[i])
		}
		return covs
	}

	base := fit(unequalBuckets(t, 12, 20))
	require.Len(t, base, 2)

	// Rows 12..19 belong to the second bucket; scaling them must move its fit.
	scaled := unequalBuckets(t, 12, 20)
	second := scaled.Bucket(1).(*mat.Dense)
	for i := 0; i < 8; i++ {
		for j := 0; j < 4; j++ {
			second.Set(i, j, second.At(i, j)*1000)
		}
	}
	moved := fit(scaled)
	assert.Greater(t, trace(moved[1]), 100*trace(base[1]))

	assert.Len(t, fit(unequalBuckets(t, 20, 12)), 2)
}

func TestTimeVaryingGraphLasso_RejectsRemainder(t *testing.T) {
	data := bucketed(t, 3, 40, 4)
	_, err := TimeVaryingGraphLasso{}.FitJoint(context.Background(), data, tvglConfig(35, PenaltyL1), nil)
	assert.ErrorIs(t, err, core.ErrBucketCount)

	_, err = TimeVaryingGraphLasso{}.FitJoint(context.Background(), data, tvglConfig(0, PenaltyL1), nil)
	assert.ErrorIs(t, err, core.ErrParamType)
}
