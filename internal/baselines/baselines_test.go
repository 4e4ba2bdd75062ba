package baselines

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"covbench/domain/core"
	"covbench/domain/dataset"
	"covbench/domain/params"
	"covbench/internal"
	"covbench/internal/selection"
	"covbench/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
)

var quiet = internal.NewLogger(internal.LogLevelError)

func newBaseline(t *testing.T, kit *testkit.TestKit, kind Kind, deps ...func(*Deps)) Baseline {
	t.Helper()
	d := Deps{Scorer: kit.Scorer(), Streams: kit.RNGAdapter(), Logger: quiet}
	for _, f := range deps {
		f(&d)
	}
	b, err := New(kind, Options{}, d)
	require.NoError(t, err)
	return b
}

func TestDiagonal_EndToEnd(t *testing.T) {
	ctx := context.Background()
	kit := testkit.NewTestKit(42)
	syn, err := kit.Synthetic(2, 4, 16, 16, 100)
	require.NoError(t, err)
	b := newBaseline(t, kit, KindDiagonal)

	covs, err := b.Covariances(ctx, syn.Parts.Train, params.Empty(), 0)
	require.NoError(t, err)
	require.Len(t, covs, 2)
	col := make([]float64, 16)
	for bucket, cov := range covs {
		for i := 0; i < 4; i++ {
			mat.Col(col, i, syn.Parts.Train.Bucket(bucket))
			assert.Equal(t, stat.PopVariance(col, nil), cov.At(i, i))
			for j := i + 1; j < 4; j++ {
				assert.Zero(t, cov.At(i, j))
			}
		}
	}

	r, err := b.Evaluate(ctx, syn.Parts.Train, syn.Parts.Test, params.Empty(), 5, true)
	require.NoError(t, err)
	require.Len(t, r.Scores, 5)
	for _, s := range r.Scores {
		assert.Equal(t, r.Scores[0], s)
	}
	assert.Equal(t, 0.0, r.Std)
	assert.Equal(t, kit.Scorer().Score(syn.Parts.Test, covs), r.Mean)
}

func TestDeterministicBaselines_ReplicateScores(t *testing.T) {
	ctx := context.Background()
	kit := testkit.NewTestKit(3)
	syn, err := kit.Synthetic(2, 4, 30, 16, 40)
	require.NoError(t, err)

	cases := map[Kind]params.Config{
		KindLedoitWolf:     params.Empty(),
		KindOAS:            params.Empty(),
		KindPCA:            params.NewConfig(map[string]interface{}{"n_components": 2}),
		KindFactorAnalysis: params.NewConfig(map[string]interface{}{"n_components": 1}),
		KindGraphLasso:     params.NewConfig(map[string]interface{}{"alpha": 0.1, "mode": "cd", "max_iter": 100}),
		KindSparsePCA:      params.NewConfig(map[string]interface{}{"n_components": 2, "alpha": 0.1, "max_iter": 50}),
		KindQUIC:           params.NewConfig(map[string]interface{}{"lamb": 0.1}),
		KindBigQUIC:        params.NewConfig(map[string]interface{}{"lamb": 0.1, "tol": 1e-3}),
	}
	for kind, cfg := range cases {
		t.Run(string(kind), func(t *testing.T) {
			b := newBaseline(t, kit, kind)
			assert.False(t, b.Stochastic())
			r, err := b.Evaluate(ctx, syn.Parts.Train, syn.Parts.Test, cfg, 3, false)
			require.NoError(t, err)
			require.Len(t, r.Scores, 3)
			assert.True(t, r.Valid())
			assert.Equal(t, 0.0, r.Std)
			assert.Equal(t, r.Scores[0], r.Scores[2])
		})
	}
}

func TestGraphLasso_SelectsSmallestAlphaOnDenseData(t *testing.T) {
	ctx := context.Background()
	kit := testkit.NewTestKit(1)

	// Equicorrelated truth: every precision entry is non-zero.
	truth := mat.NewSymDense(4, nil)
	for i := 0; i < 4; i++ {
		for j := i; j < 4; j++ {
			v := 0.7
			if i == j {
				v = 1
			}
			truth.SetSym(i, j, v)
		}
	}
	normal, ok := distmv.NewNormal(make([]float64, 4), truth, rand.NewPCG(9, 9))
	require.True(t, ok)
	draw := func(n int) dataset.Dataset {
		x := mat.NewDense(n, 4, nil)
		for i := 0; i < n; i++ {
			x.SetRow(i, normal.Rand(nil))
		}
		d, err := dataset.New([]*mat.Dense{x})
		require.NoError(t, err)
		return d
	}
	train, val := draw(400), draw(400)

	b := newBaseline(t, kit, KindGraphLasso)
	grid := params.Grid{"alpha": []float64{0.01, 0.1, 1.0}, "mode": "lars", "max_iter": 100}
	require.NoError(t, b.ValidateGrid(grid))

	sel, err := b.Select(ctx, train, val, grid)
	require.NoError(t, err)
	alpha, err := sel.BestParams.Float("alpha")
	require.NoError(t, err)
	assert.Equal(t, 0.01, alpha)
	assert.Equal(t, 3, sel.Evaluated)
	assert.True(t, sel.Improved())
}

func TestPCA_InvalidComponentsNeverWin(t *testing.T) {
	ctx := context.Background()
	kit := testkit.NewTestKit(5)
	syn, err := kit.Synthetic(2, 4, 16, 16, 20)
	require.NoError(t, err)
	b := newBaseline(t, kit, KindPCA)

	r, err := b.Evaluate(ctx, syn.Parts.Train, syn.Parts.Val, params.NewConfig(map[string]interface{}{"n_components": 32}), 4, false)
	require.NoError(t, err, "PCA recovers numerical failures")
	assert.False(t, r.Valid())
	assert.Len(t, r.Scores, 4)

	sel, err := b.Select(ctx, syn.Parts.Train, syn.Parts.Val, params.Grid{"n_components": []int{32, 2}})
	require.NoError(t, err)
	k, err := sel.BestParams.Int("n_components")
	require.NoError(t, err)
	assert.Equal(t, 2, k)
}

func TestLinearCorex_StochasticAndPropagating(t *testing.T) {
	ctx := context.Background()
	kit := testkit.NewTestKit(11)
	syn, err := kit.Synthetic(2, 4, 16, 16, 30)
	require.NoError(t, err)
	cfg := params.NewConfig(map[string]interface{}{"n_hidden": 2, "max_iter": 50, "anneal": true})

	b := newBaseline(t, kit, KindLinearCorex)
	assert.True(t, b.Stochastic())
	assert.Equal(t, selection.FaultPropagate, b.Policy())

	r1, err := b.Evaluate(ctx, syn.Parts.Train, syn.Parts.Test, cfg, 3, false)
	require.NoError(t, err)
	require.Len(t, r1.Scores, 3)

	r2, err := newBaseline(t, testkit.NewTestKit(11), KindLinearCorex).Evaluate(ctx, syn.Parts.Train, syn.Parts.Test, cfg, 3, false)
	require.NoError(t, err)
	assert.Equal(t, r1.Scores, r2.Scores, "same seed reproduces every trial")

	_, err = b.Evaluate(ctx, syn.Parts.Train, syn.Parts.Test, cfg.With("n_hidden", 0), 3, false)
	assert.ErrorIs(t, err, core.ErrInvalidComponents)
}

func TestJointBaselines_MatchTestBuckets(t *testing.T) {
	ctx := context.Background()
	kit := testkit.NewTestKit(13)
	syn, err := kit.Synthetic(3, 4, 16, 16, 50)
	require.NoError(t, err)

	cases := map[Kind]params.Config{
		KindTimeVaryingCorex: params.NewConfig(map[string]interface{}{
			"nt": 3, "nv": 4, "n_hidden": 2, "max_iter": 30, "anneal": true, "l1": 0.0, "l2": 0.1,
		}),
		KindTimeVaryingGraphLasso: params.NewConfig(map[string]interface{}{
			"lamb": 0.03, "beta": 0.1, "indexOfPenalty": 1, "max_iter": 50,
		}),
		KindLinearCorexWholeData: params.NewConfig(map[string]interface{}{
			"n_hidden": 2, "max_iter": 30, "anneal": true,
		}),
		KindTimeVaryingCorexW: params.NewConfig(map[string]interface{}{
			"n_hidden": 2, "max_iter": 30, "anneal": true, "l1": 0.0, "l2": 0.1, "gamma": 1.5, "init": true,
		}),
	}
	for kind, cfg := range cases {
		t.Run(string(kind), func(t *testing.T) {
			b := newBaseline(t, kit, kind)
			covs, err := b.Covariances(ctx, syn.Parts.Train, cfg, 0)
			require.NoError(t, err)
			assert.Len(t, covs, syn.Parts.Test.Len())
			assert.NotEqual(t, syn.Parts.Train.TotalSamples(), len(covs))

			r, err := b.Evaluate(ctx, syn.Parts.Train, syn.Parts.Test, cfg, 2, false)
			require.NoError(t, err)
			assert.Len(t, r.Scores, 2)
			assert.True(t, r.Valid())
		})
	}
}

func TestLinearCorexWholeData_SharesOneCovariance(t *testing.T) {
	kit := testkit.NewTestKit(23)
	syn, err := kit.Synthetic(3, 4, 16, 16, 40)
	require.NoError(t, err)

	b := newBaseline(t, kit, KindLinearCorexWholeData)
	assert.True(t, b.Stochastic())
	covs, err := b.Covariances(context.Background(), syn.Parts.Train,
		params.NewConfig(map[string]interface{}{"n_hidden": 1, "max_iter": 30, "anneal": false}), 0)
	require.NoError(t, err)
	require.Len(t, covs, 3)
	assert.True(t, mat.Equal(covs[0], covs[1]))
	assert.True(t, mat.Equal(covs[0], covs[2]))
}

func TestGroundTruth(t *testing.T) {
	ctx := context.Background()
	kit := testkit.NewTestKit(17)
	syn, err := kit.Synthetic(2, 4, 16, 16, 50)
	require.NoError(t, err)

	_, err = New(KindGroundTruth, Options{}, Deps{Scorer: kit.Scorer(), Streams: kit.RNGAdapter()})
	assert.ErrorIs(t, err, core.ErrMissingParam)

	b := newBaseline(t, kit, KindGroundTruth, func(d *Deps) { d.Truth = syn.Truth })
	sel, err := b.Select(ctx, syn.Parts.Train, syn.Parts.Val, params.Grid{})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(sel.BestScore))
	assert.Equal(t, 0, sel.BestParams.Len())

	r, err := b.Evaluate(ctx, syn.Parts.Train, syn.Parts.Test, sel.BestParams, 3, true)
	require.NoError(t, err)
	assert.Equal(t, kit.Scorer().Score(syn.Parts.Test, syn.Truth), r.Mean)
	assert.Equal(t, 0.0, r.Std)
}

func TestNoHyperparameterBaselinesStillSelect(t *testing.T) {
	ctx := context.Background()
	kit := testkit.NewTestKit(19)
	syn, err := kit.Synthetic(2, 4, 16, 16, 20)
	require.NoError(t, err)

	sel, err := newBaseline(t, kit, KindOAS).Select(ctx, syn.Parts.Train, syn.Parts.Val, params.Grid{})
	require.NoError(t, err)
	assert.Equal(t, 1, sel.Evaluated)
	assert.True(t, sel.Improved())
}

func TestValidateGrid(t *testing.T) {
	kit := testkit.NewTestKit(1)
	gl := newBaseline(t, kit, KindGraphLasso)

	assert.ErrorIs(t, gl.ValidateGrid(params.Grid{"alpha": []float64{0.1}, "mode": "cd"}), core.ErrMissingParam)
	assert.ErrorIs(t, gl.ValidateGrid(params.Grid{"alpha": []float64{}, "mode": "cd", "max_iter": 100}), core.ErrEmptyCandidates)
	assert.NoError(t, gl.ValidateGrid(params.Grid{"alpha": []float64{0.1}, "mode": "cd", "max_iter": 100}))

	assert.Equal(t, []string{"n_components"}, RequiredKeys(KindPCA))
}

func TestRegistry(t *testing.T) {
	kit := testkit.NewTestKit(1)
	_, err := New("RobustPCA", Options{}, Deps{Scorer: kit.Scorer(), Streams: kit.RNGAdapter()})
	assert.ErrorIs(t, err, core.ErrUnknownMethod)

	_, err = ParseKind("quic")
	assert.ErrorIs(t, err, core.ErrUnknownMethod)
	for _, name := range []string{"OAS", "SparsePCA", "QUIC", "BigQUIC", "LinearCorexWholeData", "TimeVaryingCorexWeighted"} {
		k, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, Kind(name), k)
	}

	assert.Len(t, Kinds(), 15)
	assert.Equal(t, []string{"n_components", "alpha"}, RequiredKeys(KindSparsePCA))
	assert.Equal(t, []string{"lamb"}, RequiredKeys(KindBigQUIC))
	assert.Contains(t, RequiredKeys(KindTimeVaryingCorexW), "gamma")
	assert.Equal(t, selection.FaultRecover, DefaultPolicy(KindQUIC))
	assert.Equal(t, selection.FaultPropagate, DefaultPolicy(KindLinearCorexWholeData))
	assert.Equal(t, selection.FaultRecover, DefaultPolicy(KindGraphLasso))
	assert.Equal(t, selection.FaultPropagate, DefaultPolicy(KindTimeVaryingGraphLasso))

	propagate := selection.FaultPropagate
	b, err := New(KindPCA, Options{Name: "Principal components", Policy: &propagate}, Deps{Scorer: kit.Scorer(), Streams: kit.RNGAdapter(), Logger: quiet})
	require.NoError(t, err)
	assert.Equal(t, "Principal components", b.Name())
	assert.Equal(t, KindPCA, b.Kind())
	assert.Equal(t, selection.FaultPropagate, b.Policy())
}
