package allocation

// =============================================================================
// Adaptive Decay (Discounted Thompson Sampling)
// =============================================================================

// Adaptive decay 고정 파라미터 (신규 하이퍼파라미터 금지)
const (
	// DecayLow 변동성 확대 레짐의 최소 망각 계수 (빠른 적응)
	DecayLow = 0.95
	// DecayHigh 안정 레짐의 최대 망각 계수 (안정적 추정)
	DecayHigh = 0.99

	// 분산 비율 정규화 임계값 (fast/slow variance detector 기본값과 일치)
	varianceRatioLow  = 0.7
	varianceRatioHigh = 1.5
)

// AdaptiveDecayCalculator 변동성 기반 적응형 망각 계수 계산기
// 순수 함수: 내부 상태 없음
//
// decay = 0.99 - 0.04 * clip((variance_ratio - 0.7) / 0.8, 0, 1)
//
// variance_ratio < 0.7  -> 0.99 (안정: 천천히 잊음)
// variance_ratio > 1.5  -> 0.95 (변동: 빨리 잊음)
// 구간 내는 선형 보간. 단조 비증가
type AdaptiveDecayCalculator struct{}

// Calculate 분산 비율로부터 망각 계수 계산
// 반환값은 항상 [DecayLow, DecayHigh]
func (AdaptiveDecayCalculator) Calculate(varianceRatio float64) float64 {
	normalized := normalizedVolatility(varianceRatio)
	decay := DecayHigh - (DecayHigh-DecayLow)*normalized
	return clamp(decay, DecayLow, DecayHigh)
}

// normalizedVolatility 분산 비율을 [0,1]로 정규화
// 음수/0 입력은 0으로 처리
func normalizedVolatility(varianceRatio float64) float64 {
	if varianceRatio <= varianceRatioLow {
		return 0.0
	}
	if varianceRatio >= varianceRatioHigh {
		return 1.0
	}
	return (varianceRatio - varianceRatioLow) / (varianceRatioHigh - varianceRatioLow)
}
