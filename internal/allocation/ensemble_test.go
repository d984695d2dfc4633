package allocation

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnsemble(t *testing.T, strategies []string, fraction float64) *BayesianEnsemble {
	t.Helper()
	config := DefaultEnsembleConfig()
	config.SelectionFraction = fraction
	config.Particle.Seed = 42
	config.Thompson.Seed = 42

	e, err := NewBayesianEnsemble(strategies, config, nil, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	return e
}

func TestNewBayesianEnsemble_Validation(t *testing.T) {
	config := DefaultEnsembleConfig()
	config.SelectionFraction = 0
	_, err := NewBayesianEnsemble([]string{"a"}, config, nil, nil, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	config.SelectionFraction = 1.5
	_, err = NewBayesianEnsemble([]string{"a"}, config, nil, nil, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	// Sub-component validation propagates
	config = DefaultEnsembleConfig()
	config.Particle.NumParticles = 0
	_, err = NewBayesianEnsemble([]string{"a"}, config, nil, nil, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	config = DefaultEnsembleConfig()
	config.Thompson.Decay = 0
	_, err = NewBayesianEnsemble([]string{"a"}, config, nil, nil, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBayesianEnsemble_AllocationBeforeFirstUpdate(t *testing.T) {
	e := newTestEnsemble(t, []string{"a", "b", "c", "d"}, 0.5)

	weights, selected := e.Allocation()
	assert.Len(t, selected, 2, "k = ceil(4 * 0.5)")

	// Selected strategies split the uniform prior, others are zeroed
	assertValidWeights(t, weights)
	active := make(map[string]bool)
	for _, s := range selected {
		active[s] = true
	}
	for name, w := range weights {
		if active[name] {
			assert.InDelta(t, 0.5, w, 1e-9)
		} else {
			assert.Equal(t, 0.0, w)
		}
	}
}

func TestBayesianEnsemble_SelectionCountCeil(t *testing.T) {
	// ceil(3 * 0.5) = 2
	e := newTestEnsemble(t, []string{"a", "b", "c"}, 0.5)
	_, selected := e.Allocation()
	assert.Len(t, selected, 2)

	// ceil(3 * 0.1) = 1: at least one strategy always active
	e = newTestEnsemble(t, []string{"a", "b", "c"}, 0.1)
	_, selected = e.Allocation()
	assert.Len(t, selected, 1)

	// fraction 1.0: everything active
	e = newTestEnsemble(t, []string{"a", "b", "c"}, 1.0)
	weights, selected := e.Allocation()
	assert.Len(t, selected, 3)
	assertValidWeights(t, weights)
}

func TestBayesianEnsemble_UpdateFeedsBothComponents(t *testing.T) {
	e := newTestEnsemble(t, []string{"a", "b"}, 1.0)

	state := e.Update(map[string]float64{"a": 0.05, "b": -0.05})
	assertValidWeights(t, state.StrategyWeights)
	require.NotNil(t, e.LastState())

	// Thompson saw the same observation: a rewarded, b punished
	statsA, _ := e.Selector().Stats("a")
	statsB, _ := e.Selector().Stats("b")
	assert.Greater(t, statsA.Successes, statsA.Failures)
	assert.Greater(t, statsB.Failures, statsB.Successes)
}

func TestBayesianEnsemble_ConvergesOnWinner(t *testing.T) {
	e := newTestEnsemble(t, []string{"winner", "loser_a", "loser_b"}, 0.5)

	for i := 0; i < 200; i++ {
		e.Update(map[string]float64{
			"winner":  0.02,
			"loser_a": -0.01,
			"loser_b": -0.01,
		})
	}

	weights, selected := e.Allocation()
	assert.Contains(t, selected, "winner")
	assertValidWeights(t, weights)
	assert.Greater(t, weights["winner"], 0.5)

	rankings := e.StrategyRankings()
	require.Len(t, rankings, 3)
	assert.Equal(t, "winner", rankings[0].Name)
}

func TestBayesianEnsemble_DeterministicUnderFixedSeed(t *testing.T) {
	strategies := []string{"a", "b", "c"}
	build := func() *BayesianEnsemble {
		config := DefaultEnsembleConfig()
		config.Particle.Seed = 42
		config.Thompson.Seed = 7
		e, err := NewBayesianEnsemble(strategies, config, nil, nil, nil, zerolog.Nop())
		require.NoError(t, err)
		return e
	}

	e1 := build()
	e2 := build()

	returns := []map[string]float64{
		{"a": 0.02, "b": -0.01, "c": 0.003},
		{"a": -0.015, "b": 0.012, "c": 0.0},
		{"a": 0.008, "b": 0.008, "c": -0.02},
		{"a": 0.0, "b": -0.005, "c": 0.01},
		{"a": 0.03, "b": -0.02, "c": 0.001},
	}
	for _, r := range returns {
		s1 := e1.Update(r)
		s2 := e2.Update(r)
		assert.Equal(t, s1.StrategyWeights, s2.StrategyWeights)
	}

	// Selector posteriors must match exactly: the update order is the
	// registration order, not map iteration order
	for _, s := range strategies {
		st1, ok1 := e1.Selector().Stats(s)
		st2, ok2 := e2.Selector().Stats(s)
		require.True(t, ok1)
		require.True(t, ok2)
		assert.Equal(t, st1, st2, "stats for %s", s)
	}
	assert.Equal(t, e1.Selector().Probabilities(), e2.Selector().Probabilities())
}

func TestBayesianEnsemble_RankingsBeforeFirstUpdate(t *testing.T) {
	e := newTestEnsemble(t, []string{"a", "b"}, 1.0)

	rankings := e.StrategyRankings()
	require.Len(t, rankings, 2)
	for _, r := range rankings {
		assert.InDelta(t, 0.5, r.Weight, 1e-12)
		assert.Equal(t, 0.5, r.Uncertainty)
	}
}

func TestBayesianEnsemble_AllocationAlwaysNormalized(t *testing.T) {
	e := newTestEnsemble(t, []string{"a", "b", "c", "d", "e"}, 0.4)

	for i := 0; i < 30; i++ {
		e.Update(map[string]float64{
			"a": 0.01, "b": -0.02, "c": 0.005, "d": 0.0, "e": -0.01,
		})

		weights, selected := e.Allocation()
		assert.Len(t, selected, 2) // ceil(5 * 0.4)
		assertValidWeights(t, weights)
	}
}
