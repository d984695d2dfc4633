package metacontrol

import "time"

// =============================================================================
// Polyvagal System State / Market Harmony
// =============================================================================

// SystemState 자율신경계 은유 기반 시스템 상태
//
// - VENTRAL: 최적 상태, 전체 거래 허용
// - SYMPATHETIC: 스트레스 상태, 노출 축소
// - DORSAL: 위기 상태, 거래 최소화/중단
type SystemState string

const (
	StateVentral     SystemState = "ventral"
	StateSympathetic SystemState = "sympathetic"
	StateDorsal      SystemState = "dorsal"
)

// MarketHarmony 전략-시장 조화 상태 (음악 은유)
//
// - CONSONANT: 전략이 현재 레짐과 조화 (협화음)
// - RESOLVING: 새 조성을 찾는 중 (해결 진행)
// - DISSONANT: 전략이 시장과 충돌 (불협화음)
type MarketHarmony string

const (
	HarmonyConsonant MarketHarmony = "consonant"
	HarmonyResolving MarketHarmony = "resolving"
	HarmonyDissonant MarketHarmony = "dissonant"
)

// MetaState 메타 컨트롤러의 현재 상태 스냅샷 (update 출력)
type MetaState struct {
	StateID   string    `json:"state_id"` // 스냅샷 식별자 (감사 추적용)
	Timestamp time.Time `json:"timestamp"`

	SystemState   SystemState   `json:"system_state"`
	MarketHarmony MarketHarmony `json:"market_harmony"`

	// Health metrics
	HealthScore float64 `json:"health_score"` // 0-100
	DrawdownPct float64 `json:"drawdown_pct"` // 현재 낙폭 (%)

	// Regime metrics
	RegimeConfidence float64 `json:"regime_confidence"`
	SpectralAlpha    float64 `json:"spectral_alpha"`

	// Outputs
	RiskMultiplier  float64            `json:"risk_multiplier"`  // [0, 1]
	StrategyWeights map[string]float64 `json:"strategy_weights"` // 정규화된 전략 비중
}
