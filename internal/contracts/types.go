package contracts

import "time"

// =============================================================================
// Market Regime
// =============================================================================

// MarketRegime 시장 레짐 분류
type MarketRegime string

const (
	RegimeTrending      MarketRegime = "trending"       // 추세장
	RegimeNormal        MarketRegime = "normal"         // 보통
	RegimeMeanReverting MarketRegime = "mean_reverting" // 평균회귀장
	RegimeUnknown       MarketRegime = "unknown"        // 판별 불가 (샘플 부족 등)
)

// RegimeAnalysis 레짐 분석 결과
// 미구성(nil) 검출기의 기본값: {RegimeUnknown, 0, 0}
type RegimeAnalysis struct {
	Regime     MarketRegime `json:"regime"`
	Confidence float64      `json:"confidence"` // 0~1
	Alpha      float64      `json:"alpha"`      // 스펙트럼 기울기 (검출기 제공)
}

// DefaultRegimeAnalysis 미구성 검출기의 문서화된 기본값
func DefaultRegimeAnalysis() RegimeAnalysis {
	return RegimeAnalysis{Regime: RegimeUnknown, Confidence: 0, Alpha: 0}
}

// =============================================================================
// System Health
// =============================================================================

// HealthMetrics 시스템 헬스 메트릭
// 미구성(nil) 모니터의 기본값: {Score: 50, ShouldTrade: true}
type HealthMetrics struct {
	Score       float64 `json:"score"`        // 0~100
	ShouldTrade bool    `json:"should_trade"` // 거래 가능 여부
}

// DefaultHealthMetrics 미구성 모니터의 문서화된 기본값 (중립)
func DefaultHealthMetrics() HealthMetrics {
	return HealthMetrics{Score: 50, ShouldTrade: true}
}

// =============================================================================
// Audit Event
// =============================================================================

// AuditEventType 감사 이벤트 타입
type AuditEventType string

const (
	EventParamChange AuditEventType = "param_change" // 파라미터/상태 변경
	EventResample    AuditEventType = "resample"     // 파티클 리샘플링 발생
	EventDecayUpdate AuditEventType = "decay_update" // 적응형 망각 계수 갱신
)

// AuditEvent 감사 이벤트 (append-only 싱크로 전달)
// Sequence/EventID는 emitter가 채움
type AuditEvent struct {
	EventID       string         `json:"event_id"`
	Sequence      uint64         `json:"sequence"`
	EventType     AuditEventType `json:"event_type"`
	Source        string         `json:"source"`     // 예: "meta_controller"
	ParamName     string         `json:"param_name"` // 예: "risk_multiplier"
	OldValue      string         `json:"old_value"`
	NewValue      string         `json:"new_value"`
	TriggerReason string         `json:"trigger_reason"`
	Timestamp     time.Time      `json:"timestamp"`
}
