package selection

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"covbench/domain/core"
	"covbench/domain/params"
	apperrors "covbench/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	mu         sync.Mutex
	trials     int
	failed     int
	candidates int
}

func (m *recordingMetrics) ObserveTrial(_ string, _ time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trials++
	if !ok {
		m.failed++
	}
}
func (m *recordingMetrics) ObserveSelection(_ string, n int) { m.candidates += n }
func (m *recordingMetrics) MethodFailed(string)             {}
func (m *recordingMetrics) MethodCompleted(string)          {}

func scoresByName(scores map[string]float64) EvalFunc {
	return func(_ context.Context, cfg params.Config) (float64, error) {
		name, err := cfg.Str("name")
		if err != nil {
			return 0, err
		}
		return scores[name], nil
	}
}

func nameOf(t *testing.T, cfg params.Config) string {
	t.Helper()
	name, err := cfg.Str("name")
	require.NoError(t, err)
	return name
}

func TestSearch_StrictMinimumIgnoringNaN(t *testing.T) {
	grid := params.Grid{"name": []string{"a", "b", "c"}}
	sel, err := Runner{Method: "test"}.Search(context.Background(), grid,
		scoresByName(map[string]float64{"a": 5, "b": 2, "c": math.NaN()}))
	require.NoError(t, err)

	assert.Equal(t, 2.0, sel.BestScore)
	assert.Equal(t, "b", nameOf(t, sel.BestParams))
	assert.Equal(t, 3, sel.Evaluated)
	assert.True(t, sel.Improved())
}

func TestSearch_AllNaNFallsBackToFirst(t *testing.T) {
	grid := params.Grid{"name": []string{"a", "b"}}
	sel, err := Runner{}.Search(context.Background(), grid,
		scoresByName(map[string]float64{"a": math.NaN(), "b": math.NaN()}))
	require.NoError(t, err)

	assert.True(t, math.IsInf(sel.BestScore, 1))
	assert.Equal(t, "a", nameOf(t, sel.BestParams))
	assert.False(t, sel.Improved())
}

func TestSearch_TiesKeepEarlierCandidate(t *testing.T) {
	grid := params.Grid{"name": []string{"a", "b"}}
	sel, err := Runner{}.Search(context.Background(), grid,
		scoresByName(map[string]float64{"a": 1, "b": 1}))
	require.NoError(t, err)
	assert.Equal(t, "a", nameOf(t, sel.BestParams))
}

func TestSearch_EmptyCandidatesFailsBeforeEvaluating(t *testing.T) {
	called := false
	grid := params.Grid{"alpha": []float64{}, "mode": "cd"}
	_, err := Runner{}.Search(context.Background(), grid, func(context.Context, params.Config) (float64, error) {
		called = true
		return 0, nil
	})
	assert.ErrorIs(t, err, core.ErrEmptyCandidates)
	assert.False(t, called)
}

func TestSearch_EnumerationOrder(t *testing.T) {
	grid := params.Grid{
		"beta":     []interface{}{1, 2},
		"alpha":    []interface{}{"x", "y"},
		"max_iter": 100,
	}
	var seen []string
	metrics := &recordingMetrics{}
	_, err := Runner{Metrics: metrics}.Search(context.Background(), grid, func(_ context.Context, cfg params.Config) (float64, error) {
		n, err := cfg.Int("max_iter")
		require.NoError(t, err)
		assert.Equal(t, 100, n)
		seen = append(seen, cfg.String())
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"{alpha=x, beta=1, max_iter=100}",
		"{alpha=x, beta=2, max_iter=100}",
		"{alpha=y, beta=1, max_iter=100}",
		"{alpha=y, beta=2, max_iter=100}",
	}, seen)
	assert.Equal(t, 4, metrics.candidates)
}

func TestSearch_EvaluationErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	_, err := Runner{}.Search(context.Background(), params.Grid{"n": []int{1, 2}},
		func(context.Context, params.Config) (float64, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestRunTrials_DeterministicReplicates(t *testing.T) {
	calls := 0
	r, err := Runner{}.RunTrials(context.Background(), 5, false, func(context.Context, int) (float64, error) {
		calls++
		return 0.1 + 0.2, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	require.Len(t, r.Scores, 5)
	for _, s := range r.Scores {
		assert.Equal(t, math.Float64bits(0.1+0.2), math.Float64bits(s))
	}
	assert.Equal(t, 0.0, r.Std)
	assert.Equal(t, r.Scores[0], r.Mean)
	assert.Equal(t, r.Scores[0], r.Min)
}

func TestRunTrials_StochasticRefits(t *testing.T) {
	var trials []int
	r, err := Runner{}.RunTrials(context.Background(), 3, true, func(_ context.Context, i int) (float64, error) {
		trials = append(trials, i)
		return float64(i + 1), nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, trials)
	assert.Equal(t, []float64{1, 2, 3}, r.Scores)
	assert.InDelta(t, 2.0, r.Mean, 1e-12)
	assert.Equal(t, 1.0, r.Min)
}

func TestRunTrials_FaultPolicies(t *testing.T) {
	failSecond := func(_ context.Context, i int) (float64, error) {
		if i == 1 {
			return 0, core.ErrNotPositiveDefinite
		}
		return 1, nil
	}

	metrics := &recordingMetrics{}
	r, err := Runner{Policy: FaultRecover, Metrics: metrics}.RunTrials(context.Background(), 4, true, failSecond)
	require.NoError(t, err)
	require.Len(t, r.Scores, 4)
	assert.True(t, math.IsNaN(r.Mean))
	assert.True(t, math.IsNaN(r.Std))
	assert.True(t, math.IsNaN(r.Min))
	assert.Equal(t, 2, metrics.trials)
	assert.Equal(t, 1, metrics.failed)

	_, err = Runner{Method: "LinearCorex", Policy: FaultPropagate}.RunTrials(context.Background(), 4, true, failSecond)
	assert.ErrorIs(t, err, core.ErrNotPositiveDefinite)
	assert.Contains(t, err.Error(), "LinearCorex trial 1")
}

func TestRunTrials_NaNScoreIsNotAFailure(t *testing.T) {
	r, err := Runner{Policy: FaultPropagate}.RunTrials(context.Background(), 2, true, func(context.Context, int) (float64, error) {
		return math.NaN(), nil
	})
	require.NoError(t, err)
	assert.False(t, r.Valid())
}

func TestRunTrials_Timeout(t *testing.T) {
	hang := func(ctx context.Context, _ int) (float64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}

	r, err := Runner{Policy: FaultRecover, Timeout: 10 * time.Millisecond}.RunTrials(context.Background(), 2, true, hang)
	require.NoError(t, err)
	assert.False(t, r.Valid())

	_, err = Runner{Policy: FaultPropagate, Timeout: 10 * time.Millisecond}.RunTrials(context.Background(), 2, true, hang)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, apperrors.CodeTimeout, apperrors.Classify(err))
}

func TestRunTrials_ParentCancellationAlwaysReturned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Runner{Policy: FaultRecover}.RunTrials(ctx, 2, true, func(ctx context.Context, _ int) (float64, error) {
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunTrials_InvalidCount(t *testing.T) {
	_, err := Runner{}.RunTrials(context.Background(), 0, false, func(context.Context, int) (float64, error) { return 0, nil })
	assert.ErrorIs(t, err, core.ErrInvalidTrials)
}

func TestParseFaultPolicy(t *testing.T) {
	p, err := ParseFaultPolicy("Propagate")
	require.NoError(t, err)
	assert.Equal(t, FaultPropagate, p)

	var q FaultPolicy
	require.NoError(t, q.UnmarshalText([]byte("recover")))
	assert.Equal(t, FaultRecover, q)

	_, err = ParseFaultPolicy("retry")
	assert.ErrorIs(t, err, core.ErrParamType)
}
