package testkit

import (
	"context"
	"testing"

	"covbench/domain/core"
	"covbench/domain/run"
	"covbench/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNGLFGenerator_Shapes(t *testing.T) {
	cfg := DefaultNGLFConfig()
	cfg.Buckets, cfg.Vars, cfg.Hidden = 4, 6, 2
	cfg.TrainCnt, cfg.ValCnt, cfg.TestCnt = 5, 7, 9

	syn, err := NewNGLFGenerator(cfg).Generate()
	require.NoError(t, err)

	assert.Equal(t, 4, syn.Parts.Train.Len())
	assert.Equal(t, 5, syn.Parts.Train.Samples(0))
	assert.Equal(t, 7, syn.Parts.Val.Samples(3))
	assert.Equal(t, 9, syn.Parts.Test.Samples(2))
	assert.Equal(t, 6, syn.Parts.Test.Vars())
	require.NoError(t, syn.Truth.Validate(4, 6))

	// One regime for the first half, another for the second.
	assert.Same(t, syn.Truth[0], syn.Truth[1])
	assert.Same(t, syn.Truth[2], syn.Truth[3])
	assert.False(t, mat.Equal(syn.Truth[0], syn.Truth[2]))
}

func TestNGLFGenerator_NonOverlappingFactors(t *testing.T) {
	cfg := DefaultNGLFConfig()
	cfg.Buckets, cfg.Vars, cfg.Hidden = 1, 8, 4

	syn, err := NewNGLFGenerator(cfg).Generate()
	require.NoError(t, err)

	cov := syn.Truth[0]
	for i := 0; i < 8; i++ {
		partners := 0
		for j := 0; j < 8; j++ {
			if i != j && cov.At(i, j) != 0 {
				partners++
			}
		}
		// 8 variables over 4 factors: each variable shares its factor with one other.
		assert.Equal(t, 1, partners, "variable %d", i)
	}
}

func TestNGLFGenerator_Deterministic(t *testing.T) {
	cfg := DefaultNGLFConfig()
	cfg.Buckets, cfg.Vars = 2, 4
	a, err := NewNGLFGenerator(cfg).Generate()
	require.NoError(t, err)
	b, err := NewNGLFGenerator(cfg).Generate()
	require.NoError(t, err)
	assert.True(t, mat.Equal(a.Parts.Test.Bucket(1), b.Parts.Test.Bucket(1)))
}

func TestNGLFConfig_Validate(t *testing.T) {
	cfg := DefaultNGLFConfig()
	cfg.Hidden = cfg.Vars + 1
	_, err := NewNGLFGenerator(cfg).Generate()
	assert.Error(t, err)
}

func TestNGLFLoader_RemembersTruth(t *testing.T) {
	loader := &NGLFLoader{Hidden: 2}
	parts, err := loader.Load(context.Background(), ports.LoadRequest{
		Buckets: 3, Vars: 4, TrainCnt: 8, ValCnt: 8, TestCnt: 20, Seed: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, parts.Test.Len())
	assert.Len(t, loader.Truth(), 3)
}

func TestInMemoryResultsStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryResultsStore()

	rec := run.NewRecord(run.Manifest{RunID: core.NewRunID(), Experiment: "exp", StartedAt: core.Now()})
	require.NoError(t, store.Save(ctx, rec))
	rec.Put("Diagonal", run.MethodResult{Kind: "Diagonal"})
	require.NoError(t, store.Save(ctx, rec))

	saves := store.Saves()
	require.Len(t, saves, 2)
	assert.Empty(t, saves[0].Results)
	assert.Len(t, saves[1].Results, 1)

	got, err := store.GetRun(ctx, rec.Manifest.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Diagonal"}, got.Methods())

	_, err = store.GetRun(ctx, core.NewRunID())
	assert.True(t, core.IsNotFoundError(err))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
