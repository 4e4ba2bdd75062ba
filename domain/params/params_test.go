package params

import (
	"encoding/json"
	"testing"

	"covbench/domain/core"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrid_CandidatesSingleVaryingKey(t *testing.T) {
	g := Grid{"alpha": []float64{0.01, 0.1, 1.0}, "max_iter": 100, "mode": "lars"}

	cands, err := g.Candidates()
	require.NoError(t, err)
	require.Len(t, cands, 3)

	for i, want := range []float64{0.01, 0.1, 1.0} {
		alpha, err := cands[i].Float("alpha")
		require.NoError(t, err)
		assert.Equal(t, want, alpha)

		it, err := cands[i].Int("max_iter")
		require.NoError(t, err)
		assert.Equal(t, 100, it)

		mode, err := cands[i].Str("mode")
		require.NoError(t, err)
		assert.Equal(t, "lars", mode)
	}
}

func TestGrid_CandidatesCartesianOrder(t *testing.T) {
	g := Grid{"lamb": []interface{}{0.1, 0.3}, "beta": []interface{}{1.0, 2.0, 3.0}, "indexOfPenalty": 1}

	cands, err := g.Candidates()
	require.NoError(t, err)
	require.Len(t, cands, 6)
	assert.Equal(t, 6, g.Size())

	var got [][2]float64
	for _, c := range cands {
		b, _ := c.Float("beta")
		l, _ := c.Float("lamb")
		got = append(got, [2]float64{b, l})
	}
	want := [][2]float64{{1, 0.1}, {1, 0.3}, {2, 0.1}, {2, 0.3}, {3, 0.1}, {3, 0.3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("candidate order mismatch (-want +got):\n%s", diff)
	}
}

func TestGrid_NoListsYieldsOneCandidate(t *testing.T) {
	cands, err := Grid{}.Candidates()
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, 0, cands[0].Len())
}

func TestGrid_EmptyCandidateListRejected(t *testing.T) {
	_, err := Grid{"n_components": []int{}}.Candidates()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEmptyCandidates)
	assert.True(t, core.IsConfigurationError(err))
}

func TestConfig_WithDoesNotAlias(t *testing.T) {
	base := NewConfig(map[string]interface{}{"max_iter": 100})
	a := base.With("alpha", 0.1)
	b := base.With("alpha", 0.3)

	assert.False(t, base.Has("alpha"))
	av, _ := a.Float("alpha")
	bv, _ := b.Float("alpha")
	assert.Equal(t, 0.1, av)
	assert.Equal(t, 0.3, bv)
}

func TestConfig_TypedGetters(t *testing.T) {
	c := NewConfig(map[string]interface{}{"n": 8.0, "frac": 2.5, "flag": true, "s": "x"})

	n, err := c.Int("n")
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	_, err = c.Int("frac")
	assert.ErrorIs(t, err, core.ErrParamType)

	_, err = c.Int("missing")
	assert.ErrorIs(t, err, core.ErrMissingParam)

	def, err := c.IntOr("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, def)

	_, err = c.Bool("s")
	assert.ErrorIs(t, err, core.ErrParamType)
}

func TestConfig_JSONRoundTripKeepsValues(t *testing.T) {
	c := NewConfig(map[string]interface{}{"alpha": 0.1, "mode": "cd"})
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"alpha":0.1,"mode":"cd"}`, string(data))

	var back Config
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, c.Equal(back))
	assert.Equal(t, "{alpha=0.1, mode=cd}", back.String())
}

func TestGrid_AnyTypedSliceIsACandidateList(t *testing.T) {
	g := Grid{
		"n_components": []int64{8, 16},
		"alpha":        []float32{0.5},
		"max_iter":     [2]uint{50, 100},
		"mode":         "cd",
	}
	assert.Equal(t, []string{"alpha", "max_iter", "n_components"}, g.Varying())
	assert.Equal(t, 4, g.Size())

	cands, err := g.Candidates()
	require.NoError(t, err)
	require.Len(t, cands, 4)

	n, err := cands[3].Int("n_components")
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	it, err := cands[3].Int("max_iter")
	require.NoError(t, err)
	assert.Equal(t, 100, it)
	alpha, err := cands[3].Float("alpha")
	require.NoError(t, err)
	assert.Equal(t, 0.5, alpha)

	assert.ErrorIs(t, Grid{"alpha": []float32{}}.Validate(), core.ErrEmptyCandidates)
}

func TestConfig_GettersAcceptOtherNumericKinds(t *testing.T) {
	c := NewConfig(map[string]interface{}{"u": uint16(3), "f": float32(4), "h": float32(1.5), "i8": int8(-2)})

	u, err := c.Int("u")
	require.NoError(t, err)
	assert.Equal(t, 3, u)
	f, err := c.Int("f")
	require.NoError(t, err)
	assert.Equal(t, 4, f)
	_, err = c.Int("h")
	assert.ErrorIs(t, err, core.ErrParamType)

	x, err := c.Float("i8")
	require.NoError(t, err)
	assert.Equal(t, -2.0, x)
	x, err = c.Float("u")
	require.NoError(t, err)
	assert.Equal(t, 3.0, x)
}
