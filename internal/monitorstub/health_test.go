package monitorstub

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestHealthMonitor_PerfectHealth(t *testing.T) {
	h := NewHealthMonitor(DefaultHealthConfig(), zerolog.Nop())
	h.SetEquity(100000)

	metrics := h.Metrics()
	assert.Equal(t, 100.0, metrics.Score)
	assert.True(t, metrics.ShouldTrade)
}

func TestHealthMonitor_LatencyPenalty(t *testing.T) {
	h := NewHealthMonitor(DefaultHealthConfig(), zerolog.Nop())
	h.SetEquity(100000)

	// First sample initializes the EWMA directly
	h.RecordLatency(200)
	metrics := h.Metrics()
	assert.Less(t, metrics.Score, 100.0)

	// Penalty is capped at 20 points
	h2 := NewHealthMonitor(DefaultHealthConfig(), zerolog.Nop())
	h2.SetEquity(100000)
	h2.RecordLatency(10000)
	assert.Equal(t, 80.0, h2.Metrics().Score)
}

func TestHealthMonitor_RejectionsDegradeScore(t *testing.T) {
	h := NewHealthMonitor(DefaultHealthConfig(), zerolog.Nop())
	h.SetEquity(100000)

	for i := 0; i < 50; i++ {
		h.RecordRejection()
	}

	metrics := h.Metrics()
	assert.Less(t, metrics.Score, 70.0, "sustained rejections must degrade health")

	// Fills pull the rejection rate back down
	for i := 0; i < 200; i++ {
		h.RecordFill(0)
	}
	assert.Greater(t, h.Metrics().Score, metrics.Score)
}

func TestHealthMonitor_DrawdownPenaltyAndHalt(t *testing.T) {
	h := NewHealthMonitor(DefaultHealthConfig(), zerolog.Nop())

	h.SetEquity(100000)
	assert.Equal(t, 0.0, h.DrawdownPct())

	h.SetEquity(95000)
	assert.InDelta(t, 5.0, h.DrawdownPct(), 1e-9)
	metrics := h.Metrics()
	assert.InDelta(t, 90.0, metrics.Score, 1e-9) // 5% dd * 2 = 10 points
	assert.True(t, metrics.ShouldTrade)

	// Past the halt threshold trading stops even with a decent score
	h.SetEquity(88000)
	metrics = h.Metrics()
	assert.False(t, metrics.ShouldTrade)
}

func TestHealthMonitor_SlippagePenalty(t *testing.T) {
	h := NewHealthMonitor(DefaultHealthConfig(), zerolog.Nop())
	h.SetEquity(100000)

	h.RecordFill(10) // 10bps average slippage -> 20 points
	assert.InDelta(t, 80.0, h.Metrics().Score, 1e-9)
}

func TestHealthMonitor_ScoreBounds(t *testing.T) {
	h := NewHealthMonitor(DefaultHealthConfig(), zerolog.Nop())
	h.SetEquity(100000)
	h.SetEquity(50000) // 50% drawdown
	h.RecordLatency(100000)
	h.RecordFill(500)
	for i := 0; i < 100; i++ {
		h.RecordRejection()
	}

	metrics := h.Metrics()
	assert.GreaterOrEqual(t, metrics.Score, 0.0)
	assert.LessOrEqual(t, metrics.Score, 100.0)
	assert.False(t, metrics.ShouldTrade)
}

func TestVarianceRatioDetector_NeutralWhenFlat(t *testing.T) {
	d := NewVarianceRatioDetector(DefaultVarianceConfig())

	// Constant returns: slow variance ~0 -> neutral ratio, unknown regime
	for i := 0; i < 100; i++ {
		d.Update(0.001)
	}
	assert.Equal(t, 1.0, d.VarianceRatio())

	analysis := d.Analyze()
	assert.Equal(t, "unknown", string(analysis.Regime))
}

func TestVarianceRatioDetector_VolatilitySpikeRaisesRatio(t *testing.T) {
	d := NewVarianceRatioDetector(DefaultVarianceConfig())

	// Calm period then a volatility burst: fast variance reacts first
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			d.Update(0.001)
		} else {
			d.Update(-0.001)
		}
	}
	calm := d.VarianceRatio()

	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			d.Update(0.05)
		} else {
			d.Update(-0.05)
		}
	}
	burst := d.VarianceRatio()

	assert.Greater(t, burst, calm)
	assert.Greater(t, burst, 1.0)
}

func TestVarianceRatioDetector_RegimeClassification(t *testing.T) {
	d := NewVarianceRatioDetector(DefaultVarianceConfig())

	// Long calm period, then burst: trending regime
	for i := 0; i < 300; i++ {
		if i%2 == 0 {
			d.Update(0.001)
		} else {
			d.Update(-0.001)
		}
	}
	for i := 0; i < 15; i++ {
		if i%2 == 0 {
			d.Update(0.08)
		} else {
			d.Update(-0.08)
		}
	}

	analysis := d.Analyze()
	assert.Equal(t, "trending", string(analysis.Regime))
	assert.Greater(t, analysis.Confidence, 0.0)
	assert.Greater(t, analysis.Alpha, 1.0)
	assert.Equal(t, 315, d.NSamples())
}
