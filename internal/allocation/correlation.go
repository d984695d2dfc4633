package allocation

import (
	"fmt"
	"math"
)

// =============================================================================
// Online Statistics (Welford)
// =============================================================================

// OnlineStats 단일 전략 온라인 통계 (Welford 알고리즘)
// 진단용: 상관 추정 자체는 EMA 경로를 사용
type OnlineStats struct {
	Mean float64 // 누적 평균
	M2   float64 // 편차 제곱합 (Welford's M2)
	N    int     // 샘플 수
}

// Update 새 값 반영
// delta2는 갱신된 평균을 사용 — Welford 수치 안정성의 핵심
func (s *OnlineStats) Update(value float64) {
	s.N++
	delta := value - s.Mean
	s.Mean += delta / float64(s.N)
	delta2 := value - s.Mean
	s.M2 += delta * delta2
}

// Var 모분산 (샘플 2개 미만이면 0)
func (s *OnlineStats) Var() float64 {
	if s.N < 2 {
		return 0
	}
	return s.M2 / float64(s.N)
}

// Std 모표준편차
func (s *OnlineStats) Std() float64 {
	return math.Sqrt(s.Var())
}

// =============================================================================
// Online Correlation Matrix
// =============================================================================

// CorrelationConfig 상관 추적기 설정
type CorrelationConfig struct {
	Decay      float64 `json:"decay"`       // EMA decay (0,1]. 0.99=느린 적응, 0.9=빠른 적응
	Shrinkage  float64 `json:"shrinkage"`   // Ledoit-Wolf 수축 강도 [0,1]
	MinSamples int     `json:"min_samples"` // 이 샘플 수 미만이면 단위행렬 반환
	Epsilon    float64 `json:"epsilon"`     // 0 분산 보호용 정규화 상수
}

// DefaultCorrelationConfig 기본 상관 추적기 설정
func DefaultCorrelationConfig() CorrelationConfig {
	return CorrelationConfig{
		Decay:      0.99,
		Shrinkage:  0.1,
		MinSamples: 30,
		Epsilon:    1e-6,
	}
}

// OnlineCorrelationMatrix N x N 온라인 상관행렬 (EMA + Ledoit-Wolf 수축)
// ⭐ SSOT: 전략 간 상관 추정은 여기서만
// 상관행렬은 저장하지 않고 조회 시 ema_cov에서 유도함
type OnlineCorrelationMatrix struct {
	strategies []string
	config     CorrelationConfig

	indices  map[string]int // 전략명 -> 행렬 인덱스
	stats    []OnlineStats  // 전략별 Welford 통계 (진단용)
	emaMeans []float64
	emaCov   [][]float64
	nSamples int
}

// NewOnlineCorrelationMatrix creates a correlation tracker with validation
// 설정 오류는 생성 시점에 즉시 실패 (silent clamp 금지)
func NewOnlineCorrelationMatrix(strategies []string, config CorrelationConfig) (*OnlineCorrelationMatrix, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("%w: strategies cannot be empty", ErrInvalidConfig)
	}
	if config.Decay <= 0 || config.Decay > 1 {
		return nil, fmt.Errorf("%w: decay must be in (0, 1], got %v", ErrInvalidConfig, config.Decay)
	}
	if config.Shrinkage < 0 || config.Shrinkage > 1 {
		return nil, fmt.Errorf("%w: shrinkage must be in [0, 1], got %v", ErrInvalidConfig, config.Shrinkage)
	}
	if config.MinSamples < 1 {
		return nil, fmt.Errorf("%w: min_samples must be >= 1, got %d", ErrInvalidConfig, config.MinSamples)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("%w: epsilon must be > 0, got %v", ErrInvalidConfig, config.Epsilon)
	}

	n := len(strategies)
	indices := make(map[string]int, n)
	for i, s := range strategies {
		indices[s] = i
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}

	names := make([]string, n)
	copy(names, strategies)

	return &OnlineCorrelationMatrix{
		strategies: names,
		config:     config,
		indices:    indices,
		stats:      make([]OnlineStats, n),
		emaMeans:   make([]float64, n),
		emaCov:     cov,
		nSamples:   0,
	}, nil
}

// Update 새 전략 수익률 반영
// returns에 없는 전략은 0.0으로 처리 (부분 업데이트 허용)
// O(N^2)
func (m *OnlineCorrelationMatrix) Update(returns map[string]float64) {
	m.nSamples++

	n := len(m.strategies)
	ret := make([]float64, n)
	for i, s := range m.strategies {
		ret[i] = returns[s] // missing -> 0.0
	}

	// 전략별 Welford 통계 (진단용)
	for i := range m.stats {
		m.stats[i].Update(ret[i])
	}

	if m.nSamples == 1 {
		// 첫 샘플: 직접 초기화
		copy(m.emaMeans, ret)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				m.emaCov[i][j] = 0
			}
		}
		return
	}

	// EMA 갱신: new = decay*old + (1-decay)*current
	d := m.config.Decay
	for i := 0; i < n; i++ {
		m.emaMeans[i] = d*m.emaMeans[i] + (1-d)*ret[i]
	}

	dev := make([]float64, n)
	for i := 0; i < n; i++ {
		dev[i] = ret[i] - m.emaMeans[i]
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m.emaCov[i][j] = d*m.emaCov[i][j] + (1-d)*dev[i]*dev[j]
		}
	}
}

// CorrelationMatrix 현재 상관행렬 조회 (수축 적용)
// 샘플 부족 시 단위행렬 반환 (초기 노이즈 추정 보호)
// 대각은 정확히 1.0, 비대각은 [-1, 1]로 클리핑
func (m *OnlineCorrelationMatrix) CorrelationMatrix() [][]float64 {
	n := len(m.strategies)

	if m.nSamples < m.config.MinSamples {
		return identityMatrix(n)
	}

	// 분산 floor: 0/음수 분산(상수 수익률) 보호
	stds := make([]float64, n)
	for i := 0; i < n; i++ {
		stds[i] = math.Sqrt(math.Max(m.emaCov[i][i], m.config.Epsilon))
	}

	corr := make([][]float64, n)
	for i := 0; i < n; i++ {
		corr[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			denom := math.Max(stds[i]*stds[j], m.config.Epsilon)
			corr[i][j] = m.emaCov[i][j] / denom
		}
	}

	return m.applyShrinkage(corr)
}

// applyShrinkage Ledoit-Wolf 선형 수축: (1-λ)·corr + λ·I
// ε·I 정규화 후 대각을 1.0으로 강제하므로 대각에는 수축이 남지 않음
func (m *OnlineCorrelationMatrix) applyShrinkage(sample [][]float64) [][]float64 {
	n := len(sample)
	lam := m.config.Shrinkage

	shrunk := make([][]float64, n)
	for i := 0; i < n; i++ {
		shrunk[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				// 대각은 항상 정확히 1.0
				shrunk[i][j] = 1.0
				continue
			}
			// 비대각은 유효 범위로 클리핑
			shrunk[i][j] = clamp((1-lam)*sample[i][j], -1.0, 1.0)
		}
	}
	return shrunk
}

// PairwiseCorrelation 두 전략 간 상관 조회
// 미등록 전략이면 0.0, 동일 전략이면 1.0
func (m *OnlineCorrelationMatrix) PairwiseCorrelation(a, b string) float64 {
	i, okA := m.indices[a]
	j, okB := m.indices[b]
	if !okA || !okB {
		return 0.0
	}
	if i == j {
		return 1.0
	}
	return m.CorrelationMatrix()[i][j]
}

// NSamples 지금까지 처리한 샘플 수
func (m *OnlineCorrelationMatrix) NSamples() int {
	return m.nSamples
}

// StrategyIndices 전략명 -> 인덱스 매핑 (복사본)
func (m *OnlineCorrelationMatrix) StrategyIndices() map[string]int {
	out := make(map[string]int, len(m.indices))
	for k, v := range m.indices {
		out[k] = v
	}
	return out
}

// Stats 전략별 Welford 통계 조회 (진단용, 복사본)
func (m *OnlineCorrelationMatrix) Stats() []OnlineStats {
	out := make([]OnlineStats, len(m.stats))
	copy(out, m.stats)
	return out
}

// Reset 추적 상태 초기화
func (m *OnlineCorrelationMatrix) Reset() {
	n := len(m.strategies)
	m.stats = make([]OnlineStats, n)
	m.emaMeans = make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m.emaCov[i][j] = 0
		}
	}
	m.nSamples = 0
}

// Metrics 포트폴리오 집중도/상관 메트릭 (관측용)
// weights가 nil이면 균등 비중 가정
func (m *OnlineCorrelationMatrix) Metrics(weights map[string]float64) CorrelationMetrics {
	corr := m.CorrelationMatrix()
	n := len(m.strategies)

	// Herfindahl index: 비중 제곱합 (1/N=최대 분산, 1.0=단일 전략 집중)
	var herfindahl float64
	if weights == nil {
		herfindahl = 1.0 / float64(n)
	} else {
		var total float64
		vals := make([]float64, n)
		for i, s := range m.strategies {
			vals[i] = weights[s]
			total += vals[i]
		}
		if total > 0 {
			for _, w := range vals {
				nw := w / total
				herfindahl += nw * nw
			}
		} else {
			herfindahl = 1.0 / float64(n)
		}
	}

	effectiveN := float64(n)
	if herfindahl > 0 {
		effectiveN = 1.0 / herfindahl
	}

	// 비대각 상관 통계
	var maxCorr, sumCorr float64
	var count int
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			v := corr[i][j]
			if math.Abs(v) > maxCorr {
				maxCorr = math.Abs(v)
			}
			sumCorr += v
			count++
		}
	}

	avgCorr := 0.0
	if count > 0 {
		avgCorr = sumCorr / float64(count)
	}

	return CorrelationMetrics{
		HerfindahlIndex:        herfindahl,
		EffectiveNStrategies:   effectiveN,
		MaxPairwiseCorrelation: maxCorr,
		AvgCorrelation:         avgCorr,
	}
}

// =============================================================================
// Covariance Penalty
// =============================================================================

// CovariancePenalty 상관 기반 배분 페널티 계산
// penalty = wᵀCw − Σwᵢ² (자기상관 항 제외)
//   - 0: 완전 분산
//   - > 0: 양의 상관 전략 집중 (분산 악화)
//   - < 0: 음의 상관 전략 집중 (자연 헤지)
//
// weights는 내부에서 정규화됨. 전략 2개 미만이면 0
func CovariancePenalty(weights map[string]float64, corr [][]float64, indices map[string]int) float64 {
	n := len(indices)
	if n < 2 {
		return 0.0
	}

	w := make([]float64, n)
	var total float64
	for name, idx := range indices {
		w[idx] = weights[name]
		total += w[idx]
	}

	if total > 0 && math.Abs(total-1.0) > 1e-6 {
		for i := range w {
			w[i] /= total
		}
	}

	// wᵀCw
	var full float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			full += w[i] * corr[i][j] * w[j]
		}
	}

	// 대각 항 제거 (corr_ii = 1.0 이므로 Σwᵢ²)
	var diag float64
	for i := 0; i < n; i++ {
		diag += w[i] * w[i]
	}

	return full - diag
}

// identityMatrix n x n 단위행렬
func identityMatrix(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 1.0
	}
	return out
}

// clamp v를 [lo, hi] 범위로 제한
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
