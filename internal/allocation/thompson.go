package allocation

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/wonny/maestro/internal/contracts"
)

// =============================================================================
// Thompson Sampling Strategy Selector
// =============================================================================

// StrategyStats Thompson Sampling용 Beta 분포 통계
// prior = (1, 1): 균등 사전분포
type StrategyStats struct {
	Successes float64 `json:"successes"`
	Failures  float64 `json:"failures"`
}

// Mean 기대 성공 확률
func (s *StrategyStats) Mean() float64 {
	return s.Successes / (s.Successes + s.Failures)
}

// ThompsonConfig Thompson 선택기 설정
type ThompsonConfig struct {
	Decay float64 `json:"decay"` // 고정 망각 계수 (0,1]. 적응형 사용 시 기준값
	Seed  int64   `json:"seed"`  // 재현성용 시드 (0=랜덤)
}

// DefaultThompsonConfig 기본 Thompson 설정
func DefaultThompsonConfig() ThompsonConfig {
	return ThompsonConfig{Decay: 0.99, Seed: 0}
}

// ThompsonSelector Thompson Sampling 기반 전략 선택기
// ⭐ SSOT: 이산 전략 선택은 여기서만
//
// 전략별 Beta(successes, failures) 사후분포에서 샘플링하여
// 탐색(exploration)과 활용(exploitation)을 자연스럽게 균형
//
// varianceSource가 주입되면 망각 계수를 변동성에 따라 매 업데이트마다
// AdaptiveDecayCalculator로 재계산 (DS-TS). nil이면 고정 계수 사용
type ThompsonSelector struct {
	strategies []string
	config     ThompsonConfig
	stats      map[string]*StrategyStats
	rng        *rand.Rand

	// Optional collaborators (생성 시 1회 주입, 런타임 교체 없음)
	varianceSource contracts.VarianceRatioSource
	audit          contracts.AuditSink

	decayCalc AdaptiveDecayCalculator
	lastDecay float64
}

// NewThompsonSelector creates a selector with validation
// varianceSource, audit는 nil 허용 (고정 decay / 감사 생략)
func NewThompsonSelector(
	strategies []string,
	config ThompsonConfig,
	varianceSource contracts.VarianceRatioSource,
	audit contracts.AuditSink,
) (*ThompsonSelector, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("%w: strategies cannot be empty", ErrInvalidConfig)
	}
	if config.Decay <= 0 || config.Decay > 1 {
		return nil, fmt.Errorf("%w: decay must be in (0, 1], got %v", ErrInvalidConfig, config.Decay)
	}

	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewSource(config.Seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	stats := make(map[string]*StrategyStats, len(strategies))
	for _, s := range strategies {
		stats[s] = &StrategyStats{Successes: 1, Failures: 1}
	}

	names := make([]string, len(strategies))
	copy(names, strategies)

	return &ThompsonSelector{
		strategies:     names,
		config:         config,
		stats:          stats,
		rng:            rng,
		varianceSource: varianceSource,
		audit:          audit,
		lastDecay:      config.Decay,
	}, nil
}

// Select 전략 하나 선택 (Beta 사후분포 샘플 argmax)
func (t *ThompsonSelector) Select() string {
	best := t.strategies[0]
	bestSample := math.Inf(-1)
	for _, s := range t.strategies {
		sample := t.sampleBeta(t.stats[s].Successes, t.stats[s].Failures)
		if sample > bestSample {
			bestSample = sample
			best = s
		}
	}
	return best
}

// SelectTopK 상위 k개 전략 선택
// k는 [0, N]으로 클리핑됨
func (t *ThompsonSelector) SelectTopK(k int) []string {
	if k <= 0 {
		return nil
	}
	if k > len(t.strategies) {
		k = len(t.strategies)
	}

	type scored struct {
		name   string
		sample float64
	}

	samples := make([]scored, 0, len(t.strategies))
	for _, s := range t.strategies {
		samples = append(samples, scored{
			name:   s,
			sample: t.sampleBeta(t.stats[s].Successes, t.stats[s].Failures),
		})
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].sample > samples[j].sample
	})

	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = samples[i].name
	}
	return out
}

// Update 이진 결과로 통계 갱신
// 순서 계약: 모든 전략 decay -> 대상 전략만 +1
func (t *ThompsonSelector) Update(strategy string, success bool) {
	st, ok := t.stats[strategy]
	if !ok {
		return
	}

	t.applyDecay(t.currentDecay())

	if success {
		st.Successes += 1
	} else {
		st.Failures += 1
	}
}

// UpdateContinuous 연속 수익률로 통계 갱신
// 순서 계약: 모든 전략 decay -> 대상 전략에 pseudo-count 가산
// pseudo-count = min(1, |return|*10), 부호로 성공/실패 결정
func (t *ThompsonSelector) UpdateContinuous(strategy string, returnValue float64) {
	st, ok := t.stats[strategy]
	if !ok {
		return
	}

	t.applyDecay(t.currentDecay())

	pseudo := math.Min(1.0, math.Abs(returnValue)*10)
	if returnValue >= 0 {
		st.Successes += pseudo
	} else {
		st.Failures += pseudo
	}
}

// Probabilities 전략별 성공 확률 추정치
func (t *ThompsonSelector) Probabilities() map[string]float64 {
	out := make(map[string]float64, len(t.strategies))
	for _, s := range t.strategies {
		out[s] = t.stats[s].Mean()
	}
	return out
}

// Stats 전략 통계 조회 (복사본)
func (t *ThompsonSelector) Stats(strategy string) (StrategyStats, bool) {
	st, ok := t.stats[strategy]
	if !ok {
		return StrategyStats{}, false
	}
	return *st, true
}

// Reset 모든 전략을 prior (1,1)로 복원
func (t *ThompsonSelector) Reset() {
	for _, s := range t.strategies {
		t.stats[s] = &StrategyStats{Successes: 1, Failures: 1}
	}
	t.lastDecay = t.config.Decay
}

// currentDecay 현재 망각 계수
// 적응형: 변동성 검출기에서 매번 재계산 + 변경 시 감사 이벤트 (fire-and-forget)
func (t *ThompsonSelector) currentDecay() float64 {
	if t.varianceSource == nil {
		return t.config.Decay
	}

	// 비율은 한 번만 읽음: 감사 사유와 적용된 계수가 항상 일치해야 함
	ratio := t.varianceSource.VarianceRatio()
	decay := t.decayCalc.Calculate(ratio)

	if t.audit != nil && decay != t.lastDecay {
		t.audit.Emit(contracts.AuditEvent{
			EventType:     contracts.EventDecayUpdate,
			Source:        "thompson_selector",
			ParamName:     "decay",
			OldValue:      strconv.FormatFloat(t.lastDecay, 'f', 4, 64),
			NewValue:      strconv.FormatFloat(decay, 'f', 4, 64),
			TriggerReason: fmt.Sprintf("variance_ratio=%.3f", ratio),
		})
	}
	t.lastDecay = decay

	return decay
}

// applyDecay 모든 전략의 (successes, failures)를 decay배로 감쇠
func (t *ThompsonSelector) applyDecay(decay float64) {
	for _, s := range t.strategies {
		t.stats[s].Successes *= decay
		t.stats[s].Failures *= decay
	}
}

// sampleBeta Beta(a, b) 샘플링 (감마 두 개의 비율)
func (t *ThompsonSelector) sampleBeta(a, b float64) float64 {
	x := sampleGamma(t.rng, a)
	y := sampleGamma(t.rng, b)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma Gamma(shape, 1) 샘플링 (Marsaglia-Tsang)
// shape < 1은 boost 변환: Ga(a) = Ga(a+1) * U^(1/a)
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / (3.0 * math.Sqrt(d))

	for {
		x := rng.NormFloat64()
		v := 1.0 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v

		u := rng.Float64()
		if u < 1.0-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}
