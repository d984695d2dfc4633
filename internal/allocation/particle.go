package allocation

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/wonny/maestro/internal/contracts"
)

// =============================================================================
// Particle Filter Portfolio
// =============================================================================

// ParticleConfig 파티클 포트폴리오 설정
type ParticleConfig struct {
	NumParticles        int     `json:"num_particles"`        // 파티클 수 (많을수록 정밀)
	ResamplingThreshold float64 `json:"resampling_threshold"` // ESS/N 비율 임계값
	MutationStd         float64 `json:"mutation_std"`         // 변이 노이즈 표준편차
	PenaltyLambda       float64 `json:"penalty_lambda"`       // 상관 페널티 강도 (0=비활성)
	Seed                int64   `json:"seed"`                 // 재현성용 시드 (0=랜덤)
}

// DefaultParticleConfig 기본 파티클 설정
func DefaultParticleConfig() ParticleConfig {
	return ParticleConfig{
		NumParticles:        100,
		ResamplingThreshold: 0.5,
		MutationStd:         0.1,
		PenaltyLambda:       0,
		Seed:                0,
	}
}

// ParticlePortfolio 전략 비중 추정용 파티클 필터 (Sequential Monte Carlo)
// ⭐ SSOT: 연속 비중 최적화는 여기서만
//
// 각 파티클은 최적 비중에 대한 가설 하나. 관측 성과에 따라 우도가 갱신되고
// 퇴화(degeneracy) 시 체계적 리샘플링으로 집단을 재생성한다.
// 파티클 집단은 생성 시 1회 할당되며 이후 변이만 일어남 (메모리 고정)
//
// corr가 주입되고 PenaltyLambda > 0이면 상관 집중 배분에 페널티를 부과
type ParticlePortfolio struct {
	strategies []string
	config     ParticleConfig
	particles  []*Particle
	rng        *rand.Rand
	log        zerolog.Logger

	// Optional collaborators (생성 시 1회 주입)
	corr  *OnlineCorrelationMatrix
	audit contracts.AuditSink

	updates int
}

// NewParticlePortfolio creates a particle portfolio with validation
// corr, audit는 nil 허용
func NewParticlePortfolio(
	strategies []string,
	config ParticleConfig,
	corr *OnlineCorrelationMatrix,
	audit contracts.AuditSink,
	log zerolog.Logger,
) (*ParticlePortfolio, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("%w: strategies cannot be empty", ErrInvalidConfig)
	}
	if config.NumParticles < 1 {
		return nil, fmt.Errorf("%w: num_particles must be >= 1, got %d", ErrInvalidConfig, config.NumParticles)
	}
	if config.ResamplingThreshold <= 0 || config.ResamplingThreshold > 1 {
		return nil, fmt.Errorf("%w: resampling_threshold must be in (0, 1], got %v", ErrInvalidConfig, config.ResamplingThreshold)
	}
	if config.MutationStd < 0 {
		return nil, fmt.Errorf("%w: mutation_std must be >= 0, got %v", ErrInvalidConfig, config.MutationStd)
	}
	if config.PenaltyLambda < 0 {
		return nil, fmt.Errorf("%w: penalty_lambda must be >= 0, got %v", ErrInvalidConfig, config.PenaltyLambda)
	}

	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewSource(config.Seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	names := make([]string, len(strategies))
	copy(names, strategies)

	p := &ParticlePortfolio{
		strategies: names,
		config:     config,
		rng:        rng,
		log:        log.With().Str("component", "allocation.particle").Logger(),
		corr:       corr,
		audit:      audit,
	}

	// 파티클 집단 생성 (객체 수명 동안 크기 고정)
	p.particles = make([]*Particle, config.NumParticles)
	for i := range p.particles {
		weights := make(map[string]float64, len(names))
		for _, s := range names {
			weights[s] = rng.Float64()
		}
		particle := &Particle{Weights: weights}
		particle.NormalizeWeights()
		p.particles[i] = particle
	}

	return p, nil
}

// Update 관측 수익률로 파티클 집단 갱신
//
// 1. (옵션) 상관 추적기에 동일 수익률 공급
// 2. 파티클별 우도 누적: fitness = 포트폴리오 수익률 - λ·상관 페널티
// 3. 중요도 비중 정규화 (max-log 차감으로 오버플로 방지), ESS 계산
// 4. ESS/N < threshold이면 체계적 리샘플링 (퇴화 시 identity-copy fallback)
// 5. 무조건 변이 (리샘플링 여부와 무관, 매 주기)
// 6. 합의 비중 = 변이 후 파티클 비중의 가중 평균
func (p *ParticlePortfolio) Update(strategyReturns map[string]float64) PortfolioState {
	p.updates++
	n := len(p.particles)

	// 1. 상관 추적기 갱신
	var corrMatrix [][]float64
	var corrIndices map[string]int
	if p.corr != nil {
		p.corr.Update(strategyReturns)
		if p.config.PenaltyLambda > 0 {
			corrMatrix = p.corr.CorrelationMatrix()
			corrIndices = p.corr.StrategyIndices()
		}
	}

	// 2. 우도 갱신
	for _, particle := range p.particles {
		var portfolioReturn float64
		for _, s := range p.strategies {
			portfolioReturn += particle.Weights[s] * strategyReturns[s]
		}

		fitness := portfolioReturn
		if corrMatrix != nil {
			fitness -= p.config.PenaltyLambda * CovariancePenalty(particle.Weights, corrMatrix, corrIndices)
		}

		particle.Fitness = fitness
		particle.LogWeight += fitness
	}

	// 3. 중요도 비중 정규화 (max-log 차감)
	maxLog := math.Inf(-1)
	for _, particle := range p.particles {
		if particle.LogWeight > maxLog {
			maxLog = particle.LogWeight
		}
	}

	weights := make([]float64, n)
	var total float64
	for i, particle := range p.particles {
		particle.LogWeight -= maxLog
		weights[i] = math.Exp(particle.LogWeight)
		total += weights[i]
	}

	if total > 0 {
		for i := range weights {
			weights[i] /= total
		}
	}

	var ess float64
	if total > 0 {
		var sumSq float64
		for _, w := range weights {
			sumSq += w * w
		}
		if sumSq > 0 {
			ess = 1.0 / sumSq
		}
	}

	// 4. 퇴화 시 리샘플링
	resampled := false
	if ess/float64(n) < p.config.ResamplingThreshold {
		p.resample(weights, total)
		resampled = true

		if p.audit != nil {
			p.audit.Emit(contracts.AuditEvent{
				EventType:     contracts.EventResample,
				Source:        "particle_portfolio",
				ParamName:     "effective_particles",
				OldValue:      strconv.FormatFloat(ess, 'f', 2, 64),
				NewValue:      strconv.Itoa(n),
				TriggerReason: fmt.Sprintf("ess_ratio=%.3f < %.3f", ess/float64(n), p.config.ResamplingThreshold),
			})
		}
	}

	// 5. 무조건 변이 (탐색)
	p.mutate()

	// 6. 합의 비중 (리샘플링 직후에는 균등 1/N 가중)
	consensus := make(map[string]float64, len(p.strategies))
	uncertainty := make(map[string]float64, len(p.strategies))
	for _, s := range p.strategies {
		consensus[s] = 0
		uncertainty[s] = 0
	}

	uniform := 1.0 / float64(n)
	for i, particle := range p.particles {
		w := weights[i]
		if resampled {
			w = uniform
		}
		for _, s := range p.strategies {
			consensus[s] += w * particle.Weights[s]
		}
	}

	for i, particle := range p.particles {
		w := weights[i]
		if resampled {
			w = uniform
		}
		for _, s := range p.strategies {
			diff := particle.Weights[s] - consensus[s]
			uncertainty[s] += w * diff * diff
		}
	}
	for _, s := range p.strategies {
		uncertainty[s] = math.Sqrt(uncertainty[s])
	}

	state := PortfolioState{
		StrategyWeights:    consensus,
		WeightUncertainty:  uncertainty,
		EffectiveParticles: ess,
		Resampled:          resampled,
	}

	if p.corr != nil {
		metrics := p.corr.Metrics(consensus)
		state.CorrelationMetrics = &metrics
	}

	return state
}

// resample 체계적 리샘플링 (O(N))
// 오프셋 1회 추첨 후 N개의 층화 위치로 누적 비중 사다리를 한 번만 순회
// 비정상 비중(NaN/Inf/합<=0)이면 identity-copy fallback — 루프는 절대 막히지 않음
// 리샘플링 후 모든 log weight는 0으로 리셋
func (p *ParticlePortfolio) resample(weights []float64, total float64) {
	n := len(p.particles)

	degenerate := total <= 0 || math.IsNaN(total) || math.IsInf(total, 0)
	if !degenerate {
		for _, w := range weights {
			if math.IsNaN(w) || math.IsInf(w, 0) {
				degenerate = true
				break
			}
		}
	}

	if degenerate {
		// Fallback: 집단을 그대로 복제하고 우도만 리셋
		p.log.Warn().
			Float64("total_weight", total).
			Msg("degenerate importance weights, identity resample fallback")
		for _, particle := range p.particles {
			particle.LogWeight = 0
		}
		return
	}

	offset := p.rng.Float64()
	cumsum := make([]float64, n)
	var acc float64
	for i, w := range weights {
		acc += w
		cumsum[i] = acc
	}

	newParticles := make([]*Particle, 0, n)
	j := 0
	for i := 0; i < n; i++ {
		position := (offset + float64(i)) / float64(n)
		for j < n-1 && position >= cumsum[j] {
			j++
		}

		old := p.particles[j]
		cloned := make(map[string]float64, len(old.Weights))
		for k, v := range old.Weights {
			cloned[k] = v
		}
		newParticles = append(newParticles, &Particle{
			Weights:   cloned,
			LogWeight: 0,
			Fitness:   old.Fitness,
		})
	}

	p.particles = newParticles
}

// mutate 모든 파티클에 독립 가우시안 노이즈 적용 후 클램프/정규화
// 전 비중이 0으로 클램프되는 퇴화 시 균등 비중으로 복원 (합=1 불변식 유지)
func (p *ParticlePortfolio) mutate() {
	for _, particle := range p.particles {
		var total float64
		for _, s := range p.strategies {
			noise := p.rng.NormFloat64() * p.config.MutationStd
			w := particle.Weights[s] + noise
			if w < 0 {
				w = 0
			}
			particle.Weights[s] = w
			total += w
		}

		if total > 0 {
			for _, s := range p.strategies {
				particle.Weights[s] /= total
			}
		} else {
			uniform := 1.0 / float64(len(p.strategies))
			for _, s := range p.strategies {
				particle.Weights[s] = uniform
			}
		}
	}
}

// BestParticle 최고 fitness 파티클 조회 (복사본)
func (p *ParticlePortfolio) BestParticle() Particle {
	best := p.particles[0]
	for _, particle := range p.particles[1:] {
		if particle.Fitness > best.Fitness {
			best = particle
		}
	}

	cloned := make(map[string]float64, len(best.Weights))
	for k, v := range best.Weights {
		cloned[k] = v
	}
	return Particle{Weights: cloned, LogWeight: best.LogWeight, Fitness: best.Fitness}
}

// Strategies 전략 목록 (복사본)
func (p *ParticlePortfolio) Strategies() []string {
	out := make([]string, len(p.strategies))
	copy(out, p.strategies)
	return out
}

// NumParticles 파티클 수
func (p *ParticlePortfolio) NumParticles() int {
	return len(p.particles)
}

// CorrelationTracker 주입된 상관 추적기 (없으면 nil)
func (p *ParticlePortfolio) CorrelationTracker() *OnlineCorrelationMatrix {
	return p.corr
}
