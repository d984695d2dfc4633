package metacontrol

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wonny/maestro/internal/contracts"
)

// ErrInvalidConfig 생성자 파라미터 오류 (fail-fast, silent clamp 금지)
var ErrInvalidConfig = errors.New("invalid configuration")

// =============================================================================
// Meta Controller
// =============================================================================

// ControllerConfig 메타 컨트롤러 설정
type ControllerConfig struct {
	TargetDrawdown       float64   `json:"target_drawdown"`       // 목표 최대 낙폭. 2배 초과 시 DORSAL 강제
	VentralThreshold     float64   `json:"ventral_threshold"`     // VENTRAL 진입 건강 점수
	SympatheticThreshold float64   `json:"sympathetic_threshold"` // SYMPATHETIC 진입 건강 점수
	HarmonyLookback      int       `json:"harmony_lookback"`      // 하모니 계산용 PnL 이력 길이
	PID                  PIDConfig `json:"pid"`
}

// DefaultControllerConfig 기본 메타 컨트롤러 설정
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		TargetDrawdown:       0.05,
		VentralThreshold:     70,
		SympatheticThreshold: 40,
		HarmonyLookback:      50,
		PID:                  DefaultPIDConfig(),
	}
}

// UpdateInput 주기별 관측 입력
type UpdateInput struct {
	Return      float64 `json:"return"`       // 최근 수익률
	Equity      float64 `json:"equity"`       // 현재 자본
	LatencyMs   float64 `json:"latency_ms"`   // 주문/메시지 지연 (0이면 미기록)
	OrderFilled bool    `json:"order_filled"` // 마지막 주문 체결 여부
	SlippageBps float64 `json:"slippage_bps"` // 슬리피지 (bps)
}

// WeightCallback 전략 비중 변경 통지 (fire-and-forget)
type WeightCallback func(weight float64)

type strategyInfo struct {
	affinity      map[contracts.MarketRegime]float64
	currentWeight float64
	callback      WeightCallback
}

// MetaController 자기조절 메타 시스템
// ⭐ SSOT: 시스템 상태/리스크 승수/전략 가중은 여기서만 결정
//
// 결합:
// - 시스템 건강 모니터링 (polyvagal 상태)
// - 시장 레짐 감지 (주입된 detector)
// - 전략 가중 관리 (하모니)
// - 동적 리스크 제어 (PID)
//
// health, regime, audit은 생성 시 주입 (nil 허용):
// - health nil -> 건강 점수 50, 거래 허용으로 간주
// - regime nil -> unknown 레짐, confidence/alpha 0
// - audit nil -> 감사 이벤트 생략
type MetaController struct {
	config ControllerConfig
	log    zerolog.Logger

	health contracts.HealthMonitor
	regime contracts.RegimeDetector
	audit  contracts.AuditSink
	pid    *PIDDrawdownController

	strategies  map[string]*strategyInfo
	performance map[string][]float64

	currentState   SystemState
	currentHarmony MarketHarmony
	barsProcessed  int

	peakEquity    float64
	currentEquity float64

	prevRiskMultiplier float64
	hasPrevRisk        bool
	prevWeights        map[string]float64
}

// NewMetaController creates a meta controller with validation
func NewMetaController(
	config ControllerConfig,
	health contracts.HealthMonitor,
	regime contracts.RegimeDetector,
	audit contracts.AuditSink,
	log zerolog.Logger,
) (*MetaController, error) {
	if config.TargetDrawdown <= 0 {
		return nil, fmt.Errorf("%w: target_drawdown must be > 0, got %v", ErrInvalidConfig, config.TargetDrawdown)
	}
	if config.SympatheticThreshold >= config.VentralThreshold {
		return nil, fmt.Errorf("%w: sympathetic_threshold must be below ventral_threshold, got [%v, %v]",
			ErrInvalidConfig, config.SympatheticThreshold, config.VentralThreshold)
	}
	if config.HarmonyLookback < 1 {
		return nil, fmt.Errorf("%w: harmony_lookback must be >= 1, got %d", ErrInvalidConfig, config.HarmonyLookback)
	}

	pid, err := NewPIDDrawdownController(config.PID)
	if err != nil {
		return nil, err
	}

	return &MetaController{
		config:         config,
		log:            log.With().Str("component", "metacontrol").Logger(),
		health:         health,
		regime:         regime,
		audit:          audit,
		pid:            pid,
		strategies:     make(map[string]*strategyInfo),
		performance:    make(map[string][]float64),
		currentState:   StateVentral,
		currentHarmony: HarmonyConsonant,
		prevWeights:    make(map[string]float64),
	}, nil
}

// RegisterStrategy 관리 대상 전략 등록
// affinity: 레짐별 적합도 (nil이면 모든 레짐 0.7)
// callback: 비중 변경 시 호출 (nil 허용)
func (m *MetaController) RegisterStrategy(name string, affinity map[contracts.MarketRegime]float64, callback WeightCallback) {
	if affinity == nil {
		affinity = map[contracts.MarketRegime]float64{
			contracts.RegimeTrending:      0.7,
			contracts.RegimeNormal:        0.7,
			contracts.RegimeMeanReverting: 0.7,
		}
	}

	m.strategies[name] = &strategyInfo{affinity: affinity, currentWeight: 1.0, callback: callback}
	m.performance[name] = nil
	m.log.Info().Str("strategy", name).Msg("strategy registered")
}

// RecordStrategyPnL 하모니 계산용 전략 PnL 기록
// 미등록 전략은 무시
func (m *MetaController) RecordStrategyPnL(name string, pnl float64) {
	if _, ok := m.performance[name]; !ok {
		return
	}
	m.performance[name] = append(m.performance[name], pnl)
	if len(m.performance[name]) > m.config.HarmonyLookback {
		m.performance[name] = m.performance[name][len(m.performance[name])-m.config.HarmonyLookback:]
	}
}

// Update 주기별 메타 상태 갱신
//
// 1. 자본/낙폭 추적
// 2. 건강 모니터 전달 (있으면)
// 3. 레짐 감지기 전달 (있으면)
// 4. 시스템 상태 (polyvagal) / 하모니 판정
// 5. 전략 가중 + 리스크 승수 산출
//
// risk_multiplier = pid * state * harmony, 항상 [0, 1]
func (m *MetaController) Update(input UpdateInput) MetaState {
	m.barsProcessed++

	// 1. 낙폭 추적
	m.currentEquity = input.Equity
	if input.Equity > m.peakEquity {
		m.peakEquity = input.Equity
	}
	var drawdown float64
	if m.peakEquity > 0 {
		drawdown = (m.peakEquity - m.currentEquity) / m.peakEquity
	}

	// 2. 건강 모니터 전달
	healthMetrics := contracts.DefaultHealthMetrics()
	if m.health != nil {
		m.health.SetEquity(input.Equity)
		if input.LatencyMs > 0 {
			m.health.RecordLatency(input.LatencyMs)
		}
		if input.OrderFilled {
			m.health.RecordFill(input.SlippageBps)
		} else {
			m.health.RecordRejection()
		}
		healthMetrics = m.health.Metrics()
	}

	// 3. 레짐 감지기 전달
	regimeAnalysis := contracts.DefaultRegimeAnalysis()
	if m.regime != nil {
		m.regime.Update(input.Return)
		regimeAnalysis = m.regime.Analyze()
	}

	// 4. 시스템 상태 / 하모니
	prevState := m.currentState
	m.currentState = m.classifySystemState(healthMetrics.Score, drawdown)
	if m.audit != nil && m.currentState != prevState {
		m.audit.Emit(contracts.AuditEvent{
			EventType:     contracts.EventParamChange,
			Source:        "meta_controller",
			ParamName:     "system_state",
			OldValue:      string(prevState),
			NewValue:      string(m.currentState),
			TriggerReason: fmt.Sprintf("health_score=%.1f", healthMetrics.Score),
		})
	}

	prevHarmony := m.currentHarmony
	m.currentHarmony = m.classifyHarmony()
	if m.audit != nil && m.currentHarmony != prevHarmony {
		m.audit.Emit(contracts.AuditEvent{
			EventType:     contracts.EventParamChange,
			Source:        "meta_controller",
			ParamName:     "market_harmony",
			OldValue:      string(prevHarmony),
			NewValue:      string(m.currentHarmony),
			TriggerReason: fmt.Sprintf("regime=%s", regimeAnalysis.Regime),
		})
	}

	// 5. 전략 가중 + 리스크 승수
	strategyWeights := m.calculateStrategyWeights(regimeAnalysis.Regime, m.currentState, m.currentHarmony)

	pidMultiplier := m.pid.Update(drawdown)
	stateMultiplier := map[SystemState]float64{
		StateVentral:     1.0,
		StateSympathetic: 0.5,
		StateDorsal:      0.0,
	}[m.currentState]
	harmonyMultiplier := map[MarketHarmony]float64{
		HarmonyConsonant: 1.0,
		HarmonyResolving: 0.7,
		HarmonyDissonant: 0.3,
	}[m.currentHarmony]

	riskMultiplier := pidMultiplier * stateMultiplier * harmonyMultiplier
	if riskMultiplier < 0 {
		riskMultiplier = 0
	} else if riskMultiplier > 1 {
		riskMultiplier = 1
	}

	if m.audit != nil && m.hasPrevRisk && math.Abs(riskMultiplier-m.prevRiskMultiplier) > 0.01 {
		m.audit.Emit(contracts.AuditEvent{
			EventType:     contracts.EventParamChange,
			Source:        "meta_controller",
			ParamName:     "risk_multiplier",
			OldValue:      fmt.Sprintf("%.4f", m.prevRiskMultiplier),
			NewValue:      fmt.Sprintf("%.4f", riskMultiplier),
			TriggerReason: fmt.Sprintf("drawdown=%.2f%%", drawdown*100),
		})
	}
	m.prevRiskMultiplier = riskMultiplier
	m.hasPrevRisk = true

	for name, info := range m.strategies {
		info.currentWeight = strategyWeights[name]
		if info.callback != nil {
			info.callback(info.currentWeight)
		}
	}

	if m.audit != nil {
		for name, newWeight := range strategyWeights {
			if math.Abs(newWeight-m.prevWeights[name]) > 0.01 {
				m.audit.Emit(contracts.AuditEvent{
					EventType:     contracts.EventParamChange,
					Source:        "meta_controller",
					ParamName:     "strategy_weight." + name,
					OldValue:      fmt.Sprintf("%.4f", m.prevWeights[name]),
					NewValue:      fmt.Sprintf("%.4f", newWeight),
					TriggerReason: fmt.Sprintf("state=%s", m.currentState),
				})
			}
		}
	}
	m.prevWeights = make(map[string]float64, len(strategyWeights))
	for k, v := range strategyWeights {
		m.prevWeights[k] = v
	}

	return MetaState{
		StateID:          uuid.NewString(),
		Timestamp:        time.Now().UTC(),
		SystemState:      m.currentState,
		MarketHarmony:    m.currentHarmony,
		HealthScore:      healthMetrics.Score,
		DrawdownPct:      drawdown * 100,
		RegimeConfidence: regimeAnalysis.Confidence,
		SpectralAlpha:    regimeAnalysis.Alpha,
		RiskMultiplier:   riskMultiplier,
		StrategyWeights:  strategyWeights,
	}
}

// classifySystemState polyvagal 상태 판정 (현재 입력의 순수 함수)
// 낙폭이 목표의 2배를 넘으면 건강 점수와 무관하게 DORSAL
func (m *MetaController) classifySystemState(healthScore, drawdown float64) SystemState {
	if drawdown > m.config.TargetDrawdown*2 {
		return StateDorsal
	}
	if healthScore >= m.config.VentralThreshold {
		return StateVentral
	}
	if healthScore >= m.config.SympatheticThreshold {
		return StateSympathetic
	}
	return StateDorsal
}

// classifyHarmony 전략-시장 하모니 판정
// 전략별 최근 10개 PnL 합산:
// - 양수 -> CONSONANT
// - 자본의 0.1% 초과 손실 -> DISSONANT
// - 그 사이 -> RESOLVING
// 등록 전략이 없으면 CONSONANT
func (m *MetaController) classifyHarmony() MarketHarmony {
	if len(m.performance) == 0 {
		return HarmonyConsonant
	}

	var totalPnL float64
	for _, pnls := range m.performance {
		start := len(pnls) - 10
		if start < 0 {
			start = 0
		}
		for _, pnl := range pnls[start:] {
			totalPnL += pnl
		}
	}

	if totalPnL > 0 {
		return HarmonyConsonant
	}
	if totalPnL < -math.Abs(m.currentEquity*0.001) {
		return HarmonyDissonant
	}
	return HarmonyResolving
}

// calculateStrategyWeights 레짐 적합도 x 상태 x 하모니, 정규화
// unknown 레짐은 normal로 취급
func (m *MetaController) calculateStrategyWeights(
	regime contracts.MarketRegime,
	state SystemState,
	harmony MarketHarmony,
) map[string]float64 {
	if regime == contracts.RegimeUnknown {
		regime = contracts.RegimeNormal
	}

	stateMult := map[SystemState]float64{
		StateVentral:     1.0,
		StateSympathetic: 0.6,
		StateDorsal:      0.0,
	}[state]
	harmonyMult := map[MarketHarmony]float64{
		HarmonyConsonant: 1.0,
		HarmonyResolving: 0.8,
		HarmonyDissonant: 0.4,
	}[harmony]

	weights := make(map[string]float64, len(m.strategies))
	var total float64
	for name, info := range m.strategies {
		base, ok := info.affinity[regime]
		if !ok {
			base = 0.5
		}
		weights[name] = base * stateMult * harmonyMult
		total += weights[name]
	}

	if total > 0 {
		for name := range weights {
			weights[name] /= total
		}
	}

	return weights
}

// State 현재 시스템 상태
func (m *MetaController) State() SystemState {
	return m.currentState
}

// Harmony 현재 시장 하모니
func (m *MetaController) Harmony() MarketHarmony {
	return m.currentHarmony
}

// PID 내부 PID 제어기 (관측용)
func (m *MetaController) PID() *PIDDrawdownController {
	return m.pid
}

// Equity 마지막으로 관측한 자본
func (m *MetaController) Equity() float64 {
	return m.currentEquity
}

// Drawdown 현재 낙폭 (소수)
func (m *MetaController) Drawdown() float64 {
	if m.peakEquity <= 0 {
		return 0
	}
	return (m.peakEquity - m.currentEquity) / m.peakEquity
}

// Reset 컨트롤러 상태 초기화 (등록 전략은 유지, PnL 이력은 삭제)
func (m *MetaController) Reset() {
	m.currentState = StateVentral
	m.currentHarmony = HarmonyConsonant
	m.barsProcessed = 0
	m.peakEquity = 0
	m.currentEquity = 0
	m.hasPrevRisk = false
	m.prevRiskMultiplier = 0
	m.prevWeights = make(map[string]float64)
	m.pid.Reset()
	for name := range m.performance {
		m.performance[name] = nil
	}
	m.log.Info().Msg("meta controller reset")
}
