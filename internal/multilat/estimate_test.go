package multilat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon-locator/internal/bases"
	"beacon-locator/internal/sensor"
)

// referenceObs places a tag at (5,5) among the reference bases.
func referenceObs() []Observation {
	tag := bases.Point{X: 5, Y: 5}
	var obs []Observation
	for _, b := range bases.Reference().Bases() {
		obs = append(obs, Observation{
			Base:     b.Pos,
			Distance: math.Hypot(b.Pos.X-tag.X, b.Pos.Y-tag.Y),
		})
	}
	return obs
}

func permutations(obs []Observation) [][]Observation {
	if len(obs) <= 1 {
		return [][]Observation{append([]Observation(nil), obs...)}
	}
	var out [][]Observation
	for i := range obs {
		rest := make([]Observation, 0, len(obs)-1)
		rest = append(rest, obs[:i]...)
		rest = append(rest, obs[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]Observation{obs[i]}, p...))
		}
	}
	return out
}

func TestBoundingBoxPermutationInvariant(t *testing.T) {
	obs := referenceObs()
	want, err := BoundingBox(obs)
	require.NoError(t, err)

	perms := permutations(obs)
	require.Len(t, perms, 24)
	for _, p := range perms {
		got, err := BoundingBox(p)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestBoundingBoxEdges(t *testing.T) {
	box, err := BoundingBox([]Observation{
		{Base: bases.Point{X: 0, Y: 0}, Distance: 3},
		{Base: bases.Point{X: 4, Y: 1}, Distance: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, Box{Left: 2, Right: 3, Top: 3, Bottom: -1}, box)
	assert.False(t, box.Inverted())
}

func TestNoObservations(t *testing.T) {
	_, err := BoundingBox(nil)
	assert.ErrorIs(t, err, ErrNoObservations)
	_, err = MinMax(nil)
	assert.ErrorIs(t, err, ErrNoObservations)
	_, err = WeightedVertex(nil)
	assert.ErrorIs(t, err, ErrNoObservations)
}

func TestMinMaxCenter(t *testing.T) {
	e, err := MinMax([]Observation{
		{Base: bases.Point{X: 0, Y: 0}, Distance: 3},
		{Base: bases.Point{X: 4, Y: 1}, Distance: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, bases.Point{X: 2.5, Y: 1}, e.Pos)
	assert.Equal(t, Regular, e.Degenerate)
}

func TestMinMaxInvertedBoxKeepsMidpoint(t *testing.T) {
	e, err := MinMax([]Observation{
		{Base: bases.Point{X: 0, Y: 0}, Distance: 1},
		{Base: bases.Point{X: 10, Y: 0}, Distance: 1},
	})
	require.NoError(t, err)
	assert.True(t, e.Box.Inverted())
	assert.Equal(t, InvertedBox, e.Degenerate)
	assert.Equal(t, bases.Point{X: 5, Y: 0}, e.Pos)
}

func TestWeightedVertexInsideBox(t *testing.T) {
	e, err := WeightedVertex(referenceObs())
	require.NoError(t, err)
	require.Equal(t, Regular, e.Degenerate)

	assert.GreaterOrEqual(t, e.Pos.X, e.Box.Left)
	assert.LessOrEqual(t, e.Pos.X, e.Box.Right)
	assert.GreaterOrEqual(t, e.Pos.Y, e.Box.Bottom)
	assert.LessOrEqual(t, e.Pos.Y, e.Box.Top)
}

func TestWeightedVertexOrderIndependent(t *testing.T) {
	obs := referenceObs()
	want, err := WeightedVertex(obs)
	require.NoError(t, err)

	for _, p := range permutations(obs) {
		got, err := WeightedVertex(p)
		require.NoError(t, err)
		assert.InDelta(t, want.Pos.X, got.Pos.X, 1e-9)
		assert.InDelta(t, want.Pos.Y, got.Pos.Y, 1e-9)
	}
}

func TestWeightedVertexExactCorner(t *testing.T) {
	// (0,1) and (1,0) both fit exactly; (l,t) comes first.
	e, err := WeightedVertex([]Observation{
		{Base: bases.Point{X: 0, Y: 0}, Distance: 1},
		{Base: bases.Point{X: 1, Y: 1}, Distance: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, ExactCorner, e.Degenerate)
	assert.Equal(t, bases.Point{X: 0, Y: 1}, e.Pos)
}

func TestWeightedVertexSinglePointBox(t *testing.T) {
	e, err := WeightedVertex([]Observation{{Base: bases.Point{X: 2, Y: 3}, Distance: 0}})
	require.NoError(t, err)
	assert.Equal(t, ExactCorner, e.Degenerate)
	assert.Equal(t, bases.Point{X: 2, Y: 3}, e.Pos)
}

func TestWeightedVertexFallsBackOnUnusableWeights(t *testing.T) {
	// the infinite distance drives every corner weight to zero
	e, err := WeightedVertex([]Observation{
		{Base: bases.Point{X: 0, Y: 0}, Distance: 1},
		{Base: bases.Point{X: 5, Y: 5}, Distance: math.Inf(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, MidpointFallback, e.Degenerate)
	assert.Equal(t, bases.Point{X: 0, Y: 0}, e.Pos)
}

func TestInfiniteDistancesHaveNoPosition(t *testing.T) {
	var obs []Observation
	for _, b := range bases.Reference().Bases() {
		obs = append(obs, Observation{Base: b.Pos, Distance: sensor.RSSIToDistance(-1e6)})
	}
	require.True(t, math.IsInf(obs[0].Distance, 1))

	for name, estimate := range map[string]func([]Observation) (Estimate, error){
		"minmax":   MinMax,
		"weighted": WeightedVertex,
	} {
		t.Run(name, func(t *testing.T) {
			e, err := estimate(obs)
			assert.ErrorIs(t, err, ErrNonFinite)
			assert.Equal(t, NonFinite, e.Degenerate)
			assert.Equal(t, "non_finite", e.Degenerate.String())
		})
	}
}

// Expected values below come from the deployed min_max and extended_min_max
// routines run on the same inputs.

func TestWeightedVertexReferencePosition(t *testing.T) {
	e, err := WeightedVertex(referenceObs())
	require.NoError(t, err)

	assert.InDelta(t, 3.7358173890535458, e.Box.Left, 1e-12)
	assert.InDelta(t, 5.848092887663766, e.Box.Right, 1e-12)
	assert.InDelta(t, 6.13222592679135, e.Box.Top, 1e-12)
	assert.InDelta(t, 4.412907112336235, e.Box.Bottom, 1e-12)

	assert.InDelta(t, 5.052651702012668, e.Pos.X, 1e-9)
	assert.InDelta(t, 5.041931768329136, e.Pos.Y, 1e-9)
}

func TestEngineReferencePositions(t *testing.T) {
	means := map[int]float64{0: -66, 1: -74, 2: -70, 3: -78}

	minmax, err := NewEngine(bases.Reference(), MethodMinMax)
	require.NoError(t, err)
	e, err := minmax.Locate(means)
	require.NoError(t, err)
	assert.InDelta(t, 8.398360326387209, e.Box.Left, 1e-9)
	assert.InDelta(t, 2.6169789480644314, e.Box.Right, 1e-9)
	assert.InDelta(t, 2.078978948064431, e.Box.Top, 1e-9)
	assert.InDelta(t, 6.514232558594924, e.Box.Bottom, 1e-9)
	assert.InDelta(t, 5.5076696372258205, e.Pos.X, 1e-9)
	assert.InDelta(t, 4.296605753329677, e.Pos.Y, 1e-9)
	assert.Equal(t, InvertedBox, e.Degenerate)

	weighted, err := NewEngine(bases.Reference(), MethodWeighted)
	require.NoError(t, err)
	e, err = weighted.Locate(means)
	require.NoError(t, err)
	assert.InDelta(t, 5.509909121722869, e.Pos.X, 1e-9)
	assert.InDelta(t, 4.319322690182167, e.Pos.Y, 1e-9)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodMinMax, m)

	m, err = ParseMethod("weighted")
	require.NoError(t, err)
	assert.Equal(t, MethodWeighted, m)

	_, err = ParseMethod("trilateration")
	assert.Error(t, err)
}

func TestEngineLocate(t *testing.T) {
	reg := bases.Reference()
	engine, err := NewEngine(reg, MethodMinMax)
	require.NoError(t, err)

	means := map[int]float64{0: -65, 1: -70, 2: -68, 3: -72, 9: -40}
	obs := engine.Observations(means)
	require.Len(t, obs, 4, "unknown base 9 is skipped")
	p0, _ := reg.Lookup(0)
	assert.Equal(t, p0, obs[0].Base)
	assert.InDelta(t, sensor.RSSIToDistance(-65), obs[0].Distance, 1e-12)

	got, err := engine.Locate(means)
	require.NoError(t, err)
	want, err := MinMax(obs)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = engine.Locate(map[int]float64{7: -60})
	assert.ErrorIs(t, err, ErrNoObservations)
}

func TestEngineWeighted(t *testing.T) {
	engine, err := NewEngine(bases.Reference(), MethodWeighted)
	require.NoError(t, err)
	assert.Equal(t, MethodWeighted, engine.Method())

	means := map[int]float64{0: -65, 1: -70, 2: -68, 3: -72}
	got, err := engine.Locate(means)
	require.NoError(t, err)
	want, err := WeightedVertex(engine.Observations(means))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = NewEngine(nil, MethodMinMax)
	assert.Error(t, err)
	_, err = NewEngine(bases.Reference(), "nope")
	assert.Error(t, err)
}
