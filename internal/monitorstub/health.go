// Package monitorstub provides small in-process implementations of the
// health monitor and regime detector contracts, so the controller can run
// standalone without an external monitoring stack.
package monitorstub

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/wonny/maestro/internal/contracts"
)

// =============================================================================
// EWMA Health Monitor
// =============================================================================

// HealthConfig 건강 모니터 설정
type HealthConfig struct {
	LatencyThresholdMs float64 `json:"latency_threshold_ms"` // 이 지연 초과부터 감점
	DrawdownHaltPct    float64 `json:"drawdown_halt_pct"`    // 거래 중단 낙폭 (%)
	Alpha              float64 `json:"alpha"`                // EWMA 평활 계수
}

// DefaultHealthConfig 기본 건강 모니터 설정
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		LatencyThresholdMs: 100.0,
		DrawdownHaltPct:    10.0,
		Alpha:              0.05, // 유효 윈도우 ~40 샘플
	}
}

// HealthMonitor 거래 인프라 건강 모니터 (EWMA 기반)
//
// 시간 윈도우 대신 지수 가중 평균으로 지연/거부율/슬리피지를 추적한다.
// O(1) 메모리, O(1) 업데이트
type HealthMonitor struct {
	config HealthConfig
	log    zerolog.Logger

	latencyEWMA   float64
	latencyInit   bool
	slippageEWMA  float64
	slippageInit  bool
	rejectionEWMA float64 // 0=체결, 1=거부의 EWMA -> 거부율
	ordersSeen    int

	peakEquity    float64
	currentEquity float64
}

// NewHealthMonitor creates an EWMA health monitor
func NewHealthMonitor(config HealthConfig, log zerolog.Logger) *HealthMonitor {
	if config.Alpha <= 0 || config.Alpha > 1 {
		config.Alpha = DefaultHealthConfig().Alpha
	}
	return &HealthMonitor{
		config: config,
		log:    log.With().Str("component", "monitorstub.health").Logger(),
	}
}

// SetEquity 낙폭 계산용 현재 자본 갱신
func (h *HealthMonitor) SetEquity(equity float64) {
	h.currentEquity = equity
	if equity > h.peakEquity {
		h.peakEquity = equity
	}
}

// RecordLatency 주문/메시지 지연 기록 (ms)
func (h *HealthMonitor) RecordLatency(ms float64) {
	if !h.latencyInit {
		h.latencyEWMA = ms
		h.latencyInit = true
		return
	}
	h.latencyEWMA += h.config.Alpha * (ms - h.latencyEWMA)
}

// RecordFill 체결 기록 (슬리피지 bps)
func (h *HealthMonitor) RecordFill(slippageBps float64) {
	h.ordersSeen++
	if !h.slippageInit {
		h.slippageEWMA = slippageBps
		h.slippageInit = true
	} else {
		h.slippageEWMA += h.config.Alpha * (slippageBps - h.slippageEWMA)
	}
	h.rejectionEWMA += h.config.Alpha * (0 - h.rejectionEWMA)
}

// RecordRejection 주문 거부 기록
func (h *HealthMonitor) RecordRejection() {
	h.ordersSeen++
	h.rejectionEWMA += h.config.Alpha * (1 - h.rejectionEWMA)
	h.log.Warn().Float64("rejection_rate", h.rejectionEWMA).Msg("order rejection recorded")
}

// DrawdownPct 현재 낙폭 (%)
func (h *HealthMonitor) DrawdownPct() float64 {
	if h.peakEquity <= 0 {
		return 0
	}
	return (h.peakEquity - h.currentEquity) / h.peakEquity * 100
}

// Metrics 현재 건강 점수 산출
//
// 100점에서 시작해 감점:
// - 지연 임계 초과: 최대 20점
// - 거부율: rate * 50점
// - 평균 슬리피지: |bps| * 2점
// - 낙폭: 최대 30점
func (h *HealthMonitor) Metrics() contracts.HealthMetrics {
	score := 100.0

	if h.latencyEWMA > h.config.LatencyThresholdMs {
		score -= math.Min(20, (h.latencyEWMA-h.config.LatencyThresholdMs)/5)
	}
	score -= h.rejectionEWMA * 50
	score -= math.Abs(h.slippageEWMA) * 2
	score -= math.Min(30, h.DrawdownPct()*2)

	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}

	shouldTrade := score >= 40 && h.DrawdownPct() < h.config.DrawdownHaltPct

	return contracts.HealthMetrics{Score: score, ShouldTrade: shouldTrade}
}
