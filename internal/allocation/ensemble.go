package allocation

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/wonny/maestro/internal/contracts"
)

// =============================================================================
// Bayesian Ensemble (Particle + Thompson)
// =============================================================================

// EnsembleConfig 앙상블 설정
type EnsembleConfig struct {
	Particle          ParticleConfig `json:"particle"`
	Thompson          ThompsonConfig `json:"thompson"`
	SelectionFraction float64        `json:"selection_fraction"` // 활성화할 전략 비율 (0,1]
}

// DefaultEnsembleConfig 기본 앙상블 설정
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{
		Particle:          DefaultParticleConfig(),
		Thompson:          DefaultThompsonConfig(),
		SelectionFraction: 0.5,
	}
}

// BayesianEnsemble 파티클 필터 + Thompson Sampling 결합
// ⭐ SSOT: 전략 배분 최종 결정은 여기서만
//
// - 파티클 필터: 연속 비중 최적화
// - Thompson: 이산 전략 활성화 (상위 k개만 살림)
//
// Allocation()은 Thompson이 고른 전략 외의 비중을 0으로 만들고 재정규화
type BayesianEnsemble struct {
	strategies []string
	config     EnsembleConfig
	portfolio  *ParticlePortfolio
	selector   *ThompsonSelector
	log        zerolog.Logger

	lastState *PortfolioState
}

// NewBayesianEnsemble creates an ensemble with validation
// corr, varianceSource, audit는 nil 허용 (하위 컴포넌트로 전달)
func NewBayesianEnsemble(
	strategies []string,
	config EnsembleConfig,
	corr *OnlineCorrelationMatrix,
	varianceSource contracts.VarianceRatioSource,
	audit contracts.AuditSink,
	log zerolog.Logger,
) (*BayesianEnsemble, error) {
	if config.SelectionFraction <= 0 || config.SelectionFraction > 1 {
		return nil, fmt.Errorf("%w: selection_fraction must be in (0, 1], got %v", ErrInvalidConfig, config.SelectionFraction)
	}

	portfolio, err := NewParticlePortfolio(strategies, config.Particle, corr, audit, log)
	if err != nil {
		return nil, err
	}

	selector, err := NewThompsonSelector(strategies, config.Thompson, varianceSource, audit)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(strategies))
	copy(names, strategies)

	return &BayesianEnsemble{
		strategies: names,
		config:     config,
		portfolio:  portfolio,
		selector:   selector,
		log:        log.With().Str("component", "allocation.ensemble").Logger(),
	}, nil
}

// Allocation 현재 배분 조회
// 1. Thompson으로 상위 k = ceil(N * fraction)개 전략 선택
// 2. 파티클 합의 비중에서 비선택 전략을 0으로
// 3. 재정규화 (전부 0이면 그대로 반환)
func (e *BayesianEnsemble) Allocation() (map[string]float64, []string) {
	k := int(math.Ceil(float64(len(e.strategies)) * e.config.SelectionFraction))
	selected := e.selector.SelectTopK(k)

	weights := make(map[string]float64, len(e.strategies))
	if e.lastState != nil {
		for _, s := range e.strategies {
			weights[s] = e.lastState.StrategyWeights[s]
		}
	} else {
		uniform := 1.0 / float64(len(e.strategies))
		for _, s := range e.strategies {
			weights[s] = uniform
		}
	}

	active := make(map[string]bool, len(selected))
	for _, s := range selected {
		active[s] = true
	}

	var total float64
	for _, s := range e.strategies {
		if !active[s] {
			weights[s] = 0
		}
		total += weights[s]
	}
	if total > 0 {
		for s := range weights {
			weights[s] /= total
		}
	}

	return weights, selected
}

// Update 관측 수익률로 두 하위 컴포넌트 모두 갱신
// 선택기 갱신은 등록 순서로 순회 (맵 순회는 시드 고정 재현성을 깨뜨림)
func (e *BayesianEnsemble) Update(strategyReturns map[string]float64) PortfolioState {
	state := e.portfolio.Update(strategyReturns)
	e.lastState = &state

	for _, strat := range e.strategies {
		ret, ok := strategyReturns[strat]
		if !ok {
			continue
		}
		e.selector.UpdateContinuous(strat, ret)
	}

	return state
}

// StrategyRankings 비중 내림차순 전략 순위
// 업데이트 전에는 균등 비중 + 기본 불확실성 0.5
func (e *BayesianEnsemble) StrategyRankings() []StrategyRanking {
	rankings := make([]StrategyRanking, 0, len(e.strategies))

	if e.lastState == nil {
		uniform := 1.0 / float64(len(e.strategies))
		for _, s := range e.strategies {
			rankings = append(rankings, StrategyRanking{Name: s, Weight: uniform, Uncertainty: 0.5})
		}
		return rankings
	}

	for _, s := range e.strategies {
		rankings = append(rankings, StrategyRanking{
			Name:        s,
			Weight:      e.lastState.StrategyWeights[s],
			Uncertainty: e.lastState.WeightUncertainty[s],
		})
	}

	sort.SliceStable(rankings, func(i, j int) bool {
		return rankings[i].Weight > rankings[j].Weight
	})

	return rankings
}

// LastState 마지막 파티클 상태 (업데이트 전 nil)
func (e *BayesianEnsemble) LastState() *PortfolioState {
	return e.lastState
}

// Selector 하위 Thompson 선택기
func (e *BayesianEnsemble) Selector() *ThompsonSelector {
	return e.selector
}

// Portfolio 하위 파티클 포트폴리오
func (e *BayesianEnsemble) Portfolio() *ParticlePortfolio {
	return e.portfolio
}
