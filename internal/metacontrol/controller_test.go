package metacontrol

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/maestro/internal/contracts"
)

// stubHealth is a fixed-score health monitor that counts forwarded calls.
type stubHealth struct {
	score       float64
	shouldTrade bool

	equity     float64
	latencies  int
	fills      int
	rejections int
}

func (s *stubHealth) SetEquity(equity float64)       { s.equity = equity }
func (s *stubHealth) RecordLatency(ms float64)       { s.latencies++ }
func (s *stubHealth) RecordFill(slippageBps float64) { s.fills++ }
func (s *stubHealth) RecordRejection()               { s.rejections++ }
func (s *stubHealth) Metrics() contracts.HealthMetrics {
	return contracts.HealthMetrics{Score: s.score, ShouldTrade: s.shouldTrade}
}

// stubRegime reports a fixed regime analysis.
type stubRegime struct {
	analysis contracts.RegimeAnalysis
	updates  int
}

func (s *stubRegime) Update(ret float64) { s.updates++ }
func (s *stubRegime) Analyze() contracts.RegimeAnalysis {
	return s.analysis
}

// captureSink records emitted audit events in memory.
type captureSink struct {
	events []contracts.AuditEvent
}

func (c *captureSink) Emit(event contracts.AuditEvent) {
	c.events = append(c.events, event)
}

func (c *captureSink) byParam(name string) []contracts.AuditEvent {
	var out []contracts.AuditEvent
	for _, e := range c.events {
		if e.ParamName == name {
			out = append(out, e)
		}
	}
	return out
}

func newTestController(t *testing.T, health contracts.HealthMonitor, regime contracts.RegimeDetector, audit contracts.AuditSink) *MetaController {
	t.Helper()
	m, err := NewMetaController(DefaultControllerConfig(), health, regime, audit, zerolog.Nop())
	require.NoError(t, err)
	return m
}

func TestNewMetaController_Validation(t *testing.T) {
	config := DefaultControllerConfig()
	config.TargetDrawdown = 0
	_, err := NewMetaController(config, nil, nil, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	config = DefaultControllerConfig()
	config.SympatheticThreshold = 80 // above ventral threshold 70
	_, err = NewMetaController(config, nil, nil, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	config = DefaultControllerConfig()
	config.HarmonyLookback = 0
	_, err = NewMetaController(config, nil, nil, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	config = DefaultControllerConfig()
	config.PID.IntegralLimit = 0 // sub-component validation propagates
	_, err = NewMetaController(config, nil, nil, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMetaController_NilCollaboratorDefaults(t *testing.T) {
	m := newTestController(t, nil, nil, nil)

	state := m.Update(UpdateInput{Return: 0.01, Equity: 100000, OrderFilled: true})

	// Default health score 50 lands in the sympathetic band
	assert.Equal(t, 50.0, state.HealthScore)
	assert.Equal(t, StateSympathetic, state.SystemState)
	assert.Equal(t, 0.0, state.RegimeConfidence)
	assert.Equal(t, 0.0, state.SpectralAlpha)

	assert.NotEmpty(t, state.StateID)
	assert.False(t, state.Timestamp.IsZero())
}

func TestMetaController_RiskMultiplierBounds(t *testing.T) {
	healths := []*stubHealth{
		{score: 95, shouldTrade: true},
		{score: 55, shouldTrade: true},
		{score: 10, shouldTrade: false},
	}

	for _, h := range healths {
		m := newTestController(t, h, nil, nil)
		equity := 100000.0
		for i := 0; i < 60; i++ {
			if i%3 == 0 {
				equity *= 0.99 // grind down into drawdown
			}
			state := m.Update(UpdateInput{Return: -0.01, Equity: equity, OrderFilled: true})
			assert.GreaterOrEqual(t, state.RiskMultiplier, 0.0)
			assert.LessOrEqual(t, state.RiskMultiplier, 1.0)
		}
	}
}

func TestMetaController_FullSizeWhenHealthy(t *testing.T) {
	h := &stubHealth{score: 90, shouldTrade: true}
	m := newTestController(t, h, nil, nil)

	// Flat equity, zero drawdown, no strategies -> consonant
	state := m.Update(UpdateInput{Return: 0.0, Equity: 100000, OrderFilled: true})
	assert.Equal(t, StateVentral, state.SystemState)
	assert.Equal(t, HarmonyConsonant, state.MarketHarmony)
	assert.Equal(t, 1.0, state.RiskMultiplier)
}

func TestMetaController_DorsalOnDeepDrawdown(t *testing.T) {
	// Perfect health cannot override the drawdown kill switch
	h := &stubHealth{score: 100, shouldTrade: true}
	m := newTestController(t, h, nil, nil)

	m.Update(UpdateInput{Return: 0.0, Equity: 100000, OrderFilled: true})

	// Target 5%, 2x = 10%: 12% drawdown forces DORSAL and zero risk
	state := m.Update(UpdateInput{Return: -0.12, Equity: 88000, OrderFilled: true})
	assert.Equal(t, StateDorsal, state.SystemState)
	assert.Equal(t, 0.0, state.RiskMultiplier)
}

func TestMetaController_StateBands(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  SystemState
	}{
		{"high health is ventral", 85, StateVentral},
		{"boundary ventral", 70, StateVentral},
		{"mid health is sympathetic", 55, StateSympathetic},
		{"boundary sympathetic", 40, StateSympathetic},
		{"low health is dorsal", 20, StateDorsal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &stubHealth{score: tt.score, shouldTrade: true}
			m := newTestController(t, h, nil, nil)
			state := m.Update(UpdateInput{Return: 0.0, Equity: 100000, OrderFilled: true})
			assert.Equal(t, tt.want, state.SystemState)
		})
	}
}

func TestMetaController_HealthForwarding(t *testing.T) {
	h := &stubHealth{score: 80, shouldTrade: true}
	m := newTestController(t, h, nil, nil)

	m.Update(UpdateInput{Return: 0.01, Equity: 100000, LatencyMs: 12, OrderFilled: true, SlippageBps: 3})
	assert.Equal(t, 100000.0, h.equity)
	assert.Equal(t, 1, h.latencies)
	assert.Equal(t, 1, h.fills)

	// Zero latency is not recorded; rejection path
	m.Update(UpdateInput{Return: 0.01, Equity: 100000, LatencyMs: 0, OrderFilled: false})
	assert.Equal(t, 1, h.latencies)
	assert.Equal(t, 1, h.rejections)
}

func TestMetaController_HarmonyClassification(t *testing.T) {
	h := &stubHealth{score: 90, shouldTrade: true}

	run := func(pnls []float64) MarketHarmony {
		m := newTestController(t, h, nil, nil)
		m.RegisterStrategy("momentum", nil, nil)
		for _, pnl := range pnls {
			m.RecordStrategyPnL("momentum", pnl)
		}
		state := m.Update(UpdateInput{Return: 0.0, Equity: 100000, OrderFilled: true})
		return state.MarketHarmony
	}

	// Positive recent PnL: consonant
	assert.Equal(t, HarmonyConsonant, run([]float64{50, 30, 20}))

	// Loss beyond 0.1% of equity (100): dissonant
	assert.Equal(t, HarmonyDissonant, run([]float64{-200, -100}))

	// Small loss within tolerance: resolving
	assert.Equal(t, HarmonyResolving, run([]float64{-30, -20}))

	// No recorded PnL yet: total 0 -> resolving
	assert.Equal(t, HarmonyResolving, run(nil))
}

func TestMetaController_HarmonyUsesLastTenObservations(t *testing.T) {
	h := &stubHealth{score: 90, shouldTrade: true}
	m := newTestController(t, h, nil, nil)
	m.RegisterStrategy("momentum", nil, nil)

	// Old catastrophic losses followed by 10 winning observations:
	// only the recent window counts
	m.RecordStrategyPnL("momentum", -10000)
	for i := 0; i < 10; i++ {
		m.RecordStrategyPnL("momentum", 10)
	}

	state := m.Update(UpdateInput{Return: 0.0, Equity: 100000, OrderFilled: true})
	assert.Equal(t, HarmonyConsonant, state.MarketHarmony)
}

func TestMetaController_StrategyWeights(t *testing.T) {
	h := &stubHealth{score: 90, shouldTrade: true}
	regime := &stubRegime{analysis: contracts.RegimeAnalysis{
		Regime: contracts.RegimeTrending, Confidence: 0.8, Alpha: 1.2,
	}}

	m := newTestController(t, h, regime, nil)
	m.RegisterStrategy("momentum", map[contracts.MarketRegime]float64{
		contracts.RegimeTrending:      1.0,
		contracts.RegimeNormal:        0.7,
		contracts.RegimeMeanReverting: 0.2,
	}, nil)
	m.RegisterStrategy("mean_rev", map[contracts.MarketRegime]float64{
		contracts.RegimeTrending:      0.2,
		contracts.RegimeNormal:        0.7,
		contracts.RegimeMeanReverting: 1.0,
	}, nil)

	state := m.Update(UpdateInput{Return: 0.01, Equity: 100000, OrderFilled: true})
	assert.Equal(t, 1, regime.updates)
	assert.Equal(t, 0.8, state.RegimeConfidence)

	// Trending regime: momentum gets the affinity edge, weights normalized
	var total float64
	for _, w := range state.StrategyWeights {
		total += w
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Greater(t, state.StrategyWeights["momentum"], state.StrategyWeights["mean_rev"])
	assert.InDelta(t, 1.0/1.2, state.StrategyWeights["momentum"], 1e-9)
}

func TestMetaController_UnknownRegimeFallsBackToNormal(t *testing.T) {
	h := &stubHealth{score: 90, shouldTrade: true}
	m := newTestController(t, h, nil, nil) // nil detector -> unknown regime

	m.RegisterStrategy("a", map[contracts.MarketRegime]float64{contracts.RegimeNormal: 0.8}, nil)
	m.RegisterStrategy("b", map[contracts.MarketRegime]float64{contracts.RegimeNormal: 0.4}, nil)

	state := m.Update(UpdateInput{Return: 0.0, Equity: 100000, OrderFilled: true})
	assert.InDelta(t, 0.8/1.2, state.StrategyWeights["a"], 1e-9)
	assert.InDelta(t, 0.4/1.2, state.StrategyWeights["b"], 1e-9)
}

func TestMetaController_WeightCallbackReceivesUpdates(t *testing.T) {
	h := &stubHealth{score: 90, shouldTrade: true}
	m := newTestController(t, h, nil, nil)

	var observed []float64
	m.RegisterStrategy("momentum", nil, func(w float64) {
		observed = append(observed, w)
	})

	state := m.Update(UpdateInput{Return: 0.0, Equity: 100000, OrderFilled: true})
	require.Len(t, observed, 1)
	assert.Equal(t, state.StrategyWeights["momentum"], observed[0])

	m.Update(UpdateInput{Return: 0.0, Equity: 100000, OrderFilled: true})
	assert.Len(t, observed, 2)
}

func TestMetaController_DorsalZeroesWeights(t *testing.T) {
	h := &stubHealth{score: 5, shouldTrade: false}
	m := newTestController(t, h, nil, nil)
	m.RegisterStrategy("momentum", nil, nil)

	state := m.Update(UpdateInput{Return: 0.0, Equity: 100000, OrderFilled: true})
	require.Equal(t, StateDorsal, state.SystemState)
	assert.Equal(t, 0.0, state.StrategyWeights["momentum"])
	assert.Equal(t, 0.0, state.RiskMultiplier)
}

func TestMetaController_AuditOnStateChange(t *testing.T) {
	h := &stubHealth{score: 90, shouldTrade: true}
	sink := &captureSink{}
	m := newTestController(t, h, nil, sink)

	m.Update(UpdateInput{Return: 0.0, Equity: 100000, OrderFilled: true})
	assert.Empty(t, sink.byParam("system_state"), "initial state is ventral, no transition")

	// Health collapse: VENTRAL -> DORSAL transition audited
	h.score = 10
	m.Update(UpdateInput{Return: 0.0, Equity: 100000, OrderFilled: true})

	events := sink.byParam("system_state")
	require.Len(t, events, 1)
	assert.Equal(t, contracts.EventParamChange, events[0].EventType)
	assert.Equal(t, "ventral", events[0].OldValue)
	assert.Equal(t, "dorsal", events[0].NewValue)
	assert.Equal(t, "meta_controller", events[0].Source)

	// Risk multiplier collapse is also audited
	assert.NotEmpty(t, sink.byParam("risk_multiplier"))

	// Unchanged state: no duplicate events
	m.Update(UpdateInput{Return: 0.0, Equity: 100000, OrderFilled: true})
	assert.Len(t, sink.byParam("system_state"), 1)
}

func TestMetaController_RecordPnLForUnknownStrategy(t *testing.T) {
	m := newTestController(t, nil, nil, nil)
	m.RecordStrategyPnL("ghost", 100) // must not panic or create entries

	state := m.Update(UpdateInput{Return: 0.0, Equity: 100000, OrderFilled: true})
	assert.Empty(t, state.StrategyWeights)
}

func TestMetaController_Reset(t *testing.T) {
	h := &stubHealth{score: 10, shouldTrade: false}
	m := newTestController(t, h, nil, nil)
	m.RegisterStrategy("momentum", nil, nil)
	m.RecordStrategyPnL("momentum", -500)

	m.Update(UpdateInput{Return: -0.1, Equity: 90000, OrderFilled: true})
	require.Equal(t, StateDorsal, m.State())

	m.Reset()
	assert.Equal(t, StateVentral, m.State())
	assert.Equal(t, HarmonyConsonant, m.Harmony())
	assert.Equal(t, 0.0, m.Drawdown())

	// Registered strategies survive reset, history does not
	h.score = 90
	state := m.Update(UpdateInput{Return: 0.0, Equity: 100000, OrderFilled: true})
	assert.Contains(t, state.StrategyWeights, "momentum")
	assert.Equal(t, HarmonyResolving, state.MarketHarmony, "pnl history cleared")
}
