package monitorstub

import (
	"math"

	"github.com/wonny/maestro/internal/contracts"
)

// =============================================================================
// Fast/Slow Variance Regime Detector
// =============================================================================

// recursiveVariance 지수 가중 온라인 분산 (O(1)/샘플)
type recursiveVariance struct {
	alpha       float64
	mean        float64
	variance    float64
	initialized bool
}

func (r *recursiveVariance) update(x float64) float64 {
	if !r.initialized {
		r.mean = x
		r.variance = 0
		r.initialized = true
		return 0
	}
	delta := x - r.mean
	r.mean += r.alpha * delta
	r.variance = (1 - r.alpha) * (r.variance + r.alpha*delta*delta)
	return r.variance
}

// VarianceConfig 분산 비율 감지기 설정
type VarianceConfig struct {
	FastPeriod      int     `json:"fast_period"`      // 빠른 분산 기간
	SlowPeriod      int     `json:"slow_period"`      // 느린 분산 기간
	TrendThreshold  float64 `json:"trend_threshold"`  // 이 비율 초과 -> trending
	RevertThreshold float64 `json:"revert_threshold"` // 이 비율 미만 -> mean_reverting
}

// DefaultVarianceConfig 기본 감지기 설정
func DefaultVarianceConfig() VarianceConfig {
	return VarianceConfig{
		FastPeriod:      10,
		SlowPeriod:      50,
		TrendThreshold:  1.5,
		RevertThreshold: 0.7,
	}
}

// VarianceRatioDetector 빠른/느린 분산 비율 기반 레짐 감지기
//
// - fast >> slow: 변동/추세 레짐
// - fast << slow: 평균 회귀 레짐
// - fast ~ slow: 정상
//
// FFT 없이 샘플당 O(1). VarianceRatioSource와 RegimeDetector 모두 구현
type VarianceRatioDetector struct {
	config  VarianceConfig
	fast    recursiveVariance
	slow    recursiveVariance
	samples int
}

// NewVarianceRatioDetector creates a fast/slow variance detector
func NewVarianceRatioDetector(config VarianceConfig) *VarianceRatioDetector {
	if config.FastPeriod < 1 {
		config.FastPeriod = DefaultVarianceConfig().FastPeriod
	}
	if config.SlowPeriod < 1 {
		config.SlowPeriod = DefaultVarianceConfig().SlowPeriod
	}
	return &VarianceRatioDetector{
		config: config,
		fast:   recursiveVariance{alpha: 2.0 / (float64(config.FastPeriod) + 1)},
		slow:   recursiveVariance{alpha: 2.0 / (float64(config.SlowPeriod) + 1)},
	}
}

// Update 새 수익률 반영
func (d *VarianceRatioDetector) Update(ret float64) {
	d.samples++
	d.fast.update(ret)
	d.slow.update(ret)
}

// VarianceRatio 빠른/느린 분산 비율
// 느린 분산이 사실상 0이면 중립값 1.0
func (d *VarianceRatioDetector) VarianceRatio() float64 {
	if d.slow.variance < 1e-10 {
		return 1.0
	}
	return d.fast.variance / d.slow.variance
}

// Analyze 현재 레짐 판정
// confidence는 비율이 중립(1.0)에서 멀수록 커짐, alpha는 비율 그 자체
func (d *VarianceRatioDetector) Analyze() contracts.RegimeAnalysis {
	if d.samples < 2 || d.slow.variance < 1e-10 {
		return contracts.DefaultRegimeAnalysis()
	}

	ratio := d.VarianceRatio()

	regime := contracts.RegimeNormal
	if ratio > d.config.TrendThreshold {
		regime = contracts.RegimeTrending
	} else if ratio < d.config.RevertThreshold {
		regime = contracts.RegimeMeanReverting
	}

	confidence := math.Min(1.0, math.Abs(ratio-1.0))

	return contracts.RegimeAnalysis{
		Regime:     regime,
		Confidence: confidence,
		Alpha:      ratio,
	}
}

// NSamples 처리한 샘플 수
func (d *VarianceRatioDetector) NSamples() int {
	return d.samples
}
