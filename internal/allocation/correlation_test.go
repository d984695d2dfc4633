package allocation

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOnlineCorrelationMatrix_Validation(t *testing.T) {
	valid := DefaultCorrelationConfig()

	tests := []struct {
		name       string
		strategies []string
		mutate     func(*CorrelationConfig)
	}{
		{"empty strategies", nil, func(c *CorrelationConfig) {}},
		{"zero decay", []string{"a"}, func(c *CorrelationConfig) { c.Decay = 0 }},
		{"decay above one", []string{"a"}, func(c *CorrelationConfig) { c.Decay = 1.1 }},
		{"negative shrinkage", []string{"a"}, func(c *CorrelationConfig) { c.Shrinkage = -0.1 }},
		{"shrinkage above one", []string{"a"}, func(c *CorrelationConfig) { c.Shrinkage = 1.5 }},
		{"zero min samples", []string{"a"}, func(c *CorrelationConfig) { c.MinSamples = 0 }},
		{"zero epsilon", []string{"a"}, func(c *CorrelationConfig) { c.Epsilon = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			tt.mutate(&config)
			_, err := NewOnlineCorrelationMatrix(tt.strategies, config)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	m, err := NewOnlineCorrelationMatrix([]string{"a", "b"}, valid)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestOnlineCorrelationMatrix_IdentityBeforeMinSamples(t *testing.T) {
	config := DefaultCorrelationConfig()
	config.MinSamples = 10

	m, err := NewOnlineCorrelationMatrix([]string{"a", "b", "c"}, config)
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		m.Update(map[string]float64{"a": 0.01, "b": 0.01, "c": -0.01})
	}

	corr := m.CorrelationMatrix()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == j {
				assert.Equal(t, 1.0, corr[i][j])
			} else {
				assert.Equal(t, 0.0, corr[i][j])
			}
		}
	}
}

func TestOnlineCorrelationMatrix_DiagonalAndBounds(t *testing.T) {
	config := DefaultCorrelationConfig()
	config.MinSamples = 5

	m, err := NewOnlineCorrelationMatrix([]string{"a", "b"}, config)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		m.Update(map[string]float64{
			"a": rng.NormFloat64() * 0.02,
			"b": rng.NormFloat64() * 0.02,
		})
	}

	corr := m.CorrelationMatrix()
	for i := range corr {
		assert.Equal(t, 1.0, corr[i][i], "diagonal must be exactly 1.0")
		for j := range corr[i] {
			assert.GreaterOrEqual(t, corr[i][j], -1.0)
			assert.LessOrEqual(t, corr[i][j], 1.0)
			assert.False(t, math.IsNaN(corr[i][j]))
		}
	}
}

func TestOnlineCorrelationMatrix_ConvergesToTrueCorrelation(t *testing.T) {
	config := CorrelationConfig{
		Decay:      0.99,
		Shrinkage:  0, // no shrinkage: measure raw estimator
		MinSamples: 30,
		Epsilon:    1e-6,
	}

	m, err := NewOnlineCorrelationMatrix([]string{"a", "b"}, config)
	require.NoError(t, err)

	// Generate returns with true correlation 0.9
	rho := 0.9
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		x := rng.NormFloat64()
		y := rho*x + math.Sqrt(1-rho*rho)*rng.NormFloat64()
		m.Update(map[string]float64{"a": x * 0.01, "b": y * 0.01})
	}

	got := m.PairwiseCorrelation("a", "b")
	assert.InDelta(t, rho, got, 0.1)
}

func TestOnlineCorrelationMatrix_ShrinkagePullsTowardIdentity(t *testing.T) {
	run := func(shrinkage float64) float64 {
		config := DefaultCorrelationConfig()
		config.Shrinkage = shrinkage
		config.MinSamples = 10

		m, err := NewOnlineCorrelationMatrix([]string{"a", "b"}, config)
		require.NoError(t, err)

		rng := rand.New(rand.NewSource(11))
		for i := 0; i < 500; i++ {
			x := rng.NormFloat64()
			m.Update(map[string]float64{"a": x, "b": x + 0.1*rng.NormFloat64()})
		}
		return m.PairwiseCorrelation("a", "b")
	}

	raw := run(0)
	shrunk := run(0.5)
	assert.Less(t, shrunk, raw, "shrinkage must pull off-diagonal toward 0")
	assert.InDelta(t, raw*0.5, shrunk, 1e-9)
}

func TestOnlineCorrelationMatrix_ReadIsIdempotent(t *testing.T) {
	config := DefaultCorrelationConfig()
	config.MinSamples = 3

	m, err := NewOnlineCorrelationMatrix([]string{"a", "b"}, config)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		m.Update(map[string]float64{"a": rng.NormFloat64(), "b": rng.NormFloat64()})
	}

	first := m.CorrelationMatrix()
	second := m.CorrelationMatrix()
	assert.Equal(t, first, second, "reads must not mutate state")
	assert.Equal(t, 50, m.NSamples())
}

func TestOnlineCorrelationMatrix_MissingStrategyTreatedAsZero(t *testing.T) {
	config := DefaultCorrelationConfig()
	config.MinSamples = 1

	m, err := NewOnlineCorrelationMatrix([]string{"a", "b"}, config)
	require.NoError(t, err)

	// Only "a" reports: "b" is flat at 0.0, must not produce NaN
	for i := 0; i < 100; i++ {
		m.Update(map[string]float64{"a": float64(i%5) * 0.01})
	}

	corr := m.CorrelationMatrix()
	for i := range corr {
		for j := range corr[i] {
			assert.False(t, math.IsNaN(corr[i][j]))
		}
	}
}

func TestOnlineCorrelationMatrix_PairwiseEdgeCases(t *testing.T) {
	m, err := NewOnlineCorrelationMatrix([]string{"a", "b"}, DefaultCorrelationConfig())
	require.NoError(t, err)

	assert.Equal(t, 1.0, m.PairwiseCorrelation("a", "a"))
	assert.Equal(t, 0.0, m.PairwiseCorrelation("a", "unknown"))
	assert.Equal(t, 0.0, m.PairwiseCorrelation("x", "y"))
}

func TestOnlineCorrelationMatrix_Reset(t *testing.T) {
	config := DefaultCorrelationConfig()
	config.MinSamples = 2

	m, err := NewOnlineCorrelationMatrix([]string{"a", "b"}, config)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		m.Update(map[string]float64{"a": 0.01, "b": -0.01})
	}
	require.Equal(t, 10, m.NSamples())

	m.Reset()
	assert.Equal(t, 0, m.NSamples())

	corr := m.CorrelationMatrix()
	assert.Equal(t, 0.0, corr[0][1], "reset must return to identity")
}

func TestOnlineCorrelationMatrix_Metrics(t *testing.T) {
	m, err := NewOnlineCorrelationMatrix([]string{"a", "b"}, DefaultCorrelationConfig())
	require.NoError(t, err)

	// Equal weights: Herfindahl = 0.5, effective N = 2
	metrics := m.Metrics(map[string]float64{"a": 0.5, "b": 0.5})
	assert.InDelta(t, 0.5, metrics.HerfindahlIndex, 1e-12)
	assert.InDelta(t, 2.0, metrics.EffectiveNStrategies, 1e-12)

	// Fully concentrated: Herfindahl = 1, effective N = 1
	metrics = m.Metrics(map[string]float64{"a": 1.0, "b": 0.0})
	assert.InDelta(t, 1.0, metrics.HerfindahlIndex, 1e-12)
	assert.InDelta(t, 1.0, metrics.EffectiveNStrategies, 1e-12)

	// Nil weights: uniform assumption
	metrics = m.Metrics(nil)
	assert.InDelta(t, 0.5, metrics.HerfindahlIndex, 1e-12)
}

func TestCovariancePenalty_ExactValue(t *testing.T) {
	corr := [][]float64{
		{1.0, 0.8},
		{0.8, 1.0},
	}
	indices := map[string]int{"a": 0, "b": 1}
	weights := map[string]float64{"a": 0.5, "b": 0.5}

	// wᵀCw = 0.25 + 0.25 + 2*0.25*0.8 = 0.9, Σw² = 0.5 -> penalty = 0.4
	penalty := CovariancePenalty(weights, corr, indices)
	assert.InDelta(t, 0.4, penalty, 1e-12)
}

func TestCovariancePenalty_Properties(t *testing.T) {
	indices := map[string]int{"a": 0, "b": 1}

	// Uncorrelated strategies: zero penalty
	identity := identityMatrix(2)
	assert.InDelta(t, 0.0, CovariancePenalty(map[string]float64{"a": 0.5, "b": 0.5}, identity, indices), 1e-12)

	// Negatively correlated: negative penalty (natural hedge)
	hedge := [][]float64{{1.0, -0.6}, {-0.6, 1.0}}
	assert.Less(t, CovariancePenalty(map[string]float64{"a": 0.5, "b": 0.5}, hedge, indices), 0.0)

	// Fewer than two strategies: always zero
	assert.Equal(t, 0.0, CovariancePenalty(map[string]float64{"a": 1.0}, identityMatrix(1), map[string]int{"a": 0}))

	// Unnormalized weights renormalized internally
	scaled := CovariancePenalty(map[string]float64{"a": 5.0, "b": 5.0}, [][]float64{{1.0, 0.8}, {0.8, 1.0}}, indices)
	assert.InDelta(t, 0.4, scaled, 1e-12)
}

func TestOnlineStats_Welford(t *testing.T) {
	var s OnlineStats

	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	for _, v := range values {
		s.Update(v)
	}

	assert.Equal(t, 8, s.N)
	assert.InDelta(t, 5.0, s.Mean, 1e-12)
	assert.InDelta(t, 4.0, s.Var(), 1e-12) // population variance
	assert.InDelta(t, 2.0, s.Std(), 1e-12)

	var single OnlineStats
	single.Update(1.0)
	assert.Equal(t, 0.0, single.Var(), "variance undefined below 2 samples")
}
