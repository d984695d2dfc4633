package allocation

import "errors"

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidConfig 생성자 파라미터 오류 (fail-fast, silent clamp 금지)
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrUnknownStrategy 미등록 전략 참조
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// =============================================================================
// Particle Filter Types
// =============================================================================

// Particle 포트폴리오 가설 하나를 표현하는 파티클
// Weights는 항상 비음수이며 합이 1 (모든 변이/리샘플 후 불변식 유지)
type Particle struct {
	Weights   map[string]float64 `json:"weights"`
	LogWeight float64            `json:"log_weight"` // 상대 로그 우도 (리샘플 시 0으로 리셋)
	Fitness   float64            `json:"fitness"`    // 최근 성과
}

// NormalizeWeights 비중 합을 1로 정규화
func (p *Particle) NormalizeWeights() {
	var total float64
	for _, w := range p.Weights {
		if w < 0 {
			w = -w
		}
		total += w
	}
	if total > 0 {
		for k := range p.Weights {
			p.Weights[k] /= total
		}
	}
}

// PortfolioState 파티클 포트폴리오의 현재 상태 (update 출력)
type PortfolioState struct {
	StrategyWeights    map[string]float64 `json:"strategy_weights"`    // 합의 비중
	WeightUncertainty  map[string]float64 `json:"weight_uncertainty"`  // 전략별 불확실성 (가중 표준편차)
	EffectiveParticles float64            `json:"effective_particles"` // ESS = 1/Σw²
	Resampled          bool               `json:"resampled"`           // 리샘플링 발생 여부
	CorrelationMetrics *CorrelationMetrics `json:"correlation_metrics,omitempty"`
}

// CorrelationMetrics 포트폴리오 집중도/상관 메트릭 (관측용)
type CorrelationMetrics struct {
	HerfindahlIndex        float64 `json:"herfindahl_index"`         // Σw² (1/N=분산, 1=집중)
	EffectiveNStrategies   float64 `json:"effective_n_strategies"`   // 1/Herfindahl
	MaxPairwiseCorrelation float64 `json:"max_pairwise_correlation"` // 최악 쌍 상관 (절대값)
	AvgCorrelation         float64 `json:"avg_correlation"`          // 비대각 평균 상관
}

// StrategyRanking 전략 순위 항목 (비중 내림차순)
type StrategyRanking struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Uncertainty float64 `json:"uncertainty"`
}
