package metacontrol

import "fmt"

// =============================================================================
// PID Drawdown Controller
// =============================================================================

// PIDConfig PID 제어기 설정
type PIDConfig struct {
	TargetDrawdown float64 `json:"target_drawdown"` // 목표 최대 낙폭 (소수, 0.05 = 5%)
	Kp             float64 `json:"kp"`              // 비례 게인
	Ki             float64 `json:"ki"`              // 적분 게인
	Kd             float64 `json:"kd"`              // 미분 게인
	MinOutput      float64 `json:"min_output"`      // 최소 승수 (0 = 거래 중단)
	MaxOutput      float64 `json:"max_output"`      // 최대 승수
	IntegralLimit  float64 `json:"integral_limit"`  // anti-windup 적분 한계
}

// DefaultPIDConfig 기본 PID 설정
func DefaultPIDConfig() PIDConfig {
	return PIDConfig{
		TargetDrawdown: 0.05,
		Kp:             2.0,
		Ki:             0.1,
		Kd:             0.5,
		MinOutput:      0.0,
		MaxOutput:      1.0,
		IntegralLimit:  0.5,
	}
}

// PIDState PID 제어기 내부 상태 스냅샷 (관측용)
type PIDState struct {
	Error      float64 `json:"error"`      // 마지막 오차 (drawdown - target)
	Integral   float64 `json:"integral"`   // 누적 오차 (clamped)
	Derivative float64 `json:"derivative"` // 마지막 오차 변화율
	Output     float64 `json:"output"`     // 마지막 승수
	Steps      int     `json:"steps"`      // 업데이트 횟수
}

// PIDDrawdownController 낙폭 기반 포지션 크기 PID 제어기
// ⭐ SSOT: 낙폭 -> 리스크 승수 변환은 여기서만
//
// 낙폭이 목표를 넘으면 승수를 부드럽게 낮춘다.
// 적분 항은 IntegralLimit으로 클램프 (anti-windup)
// multiplier = clamp(1 / (1 + PID), min, max)
type PIDDrawdownController struct {
	config PIDConfig

	integral     float64
	prevError    float64
	hasPrevError bool
	steps        int
	lastState    PIDState
}

// NewPIDDrawdownController creates a controller with validation
func NewPIDDrawdownController(config PIDConfig) (*PIDDrawdownController, error) {
	if config.TargetDrawdown <= 0 {
		return nil, fmt.Errorf("%w: target_drawdown must be > 0, got %v", ErrInvalidConfig, config.TargetDrawdown)
	}
	if config.Kp < 0 || config.Ki < 0 || config.Kd < 0 {
		return nil, fmt.Errorf("%w: gains must be >= 0", ErrInvalidConfig)
	}
	if config.IntegralLimit <= 0 {
		return nil, fmt.Errorf("%w: integral_limit must be > 0, got %v", ErrInvalidConfig, config.IntegralLimit)
	}
	if config.MinOutput < 0 || config.MinOutput > config.MaxOutput {
		return nil, fmt.Errorf("%w: require 0 <= min_output <= max_output, got [%v, %v]",
			ErrInvalidConfig, config.MinOutput, config.MaxOutput)
	}

	return &PIDDrawdownController{config: config}, nil
}

// Update 현재 낙폭으로 제어기 갱신, 리스크 승수 반환 (dt=1)
// 첫 호출의 미분 항은 0 (이전 오차 없음)
func (c *PIDDrawdownController) Update(currentDrawdown float64) float64 {
	return c.UpdateDt(currentDrawdown, 1.0)
}

// UpdateDt 주기 간격 dt를 명시한 갱신
// integral += error*dt, derivative = (error - prev) / dt
func (c *PIDDrawdownController) UpdateDt(currentDrawdown, dt float64) float64 {
	if dt <= 0 {
		dt = 1.0
	}

	e := currentDrawdown - c.config.TargetDrawdown

	p := c.config.Kp * e

	c.integral += e * dt
	if c.integral > c.config.IntegralLimit {
		c.integral = c.config.IntegralLimit
	} else if c.integral < -c.config.IntegralLimit {
		c.integral = -c.config.IntegralLimit
	}
	i := c.config.Ki * c.integral

	var derivative float64
	if c.hasPrevError {
		derivative = (e - c.prevError) / dt
	}
	d := c.config.Kd * derivative

	c.prevError = e
	c.hasPrevError = true
	c.steps++

	// 오차 0 -> 승수 1.0, 오차 클수록 승수 하락
	pidOutput := p + i + d
	multiplier := 1.0 / (1.0 + pidOutput)
	if multiplier < c.config.MinOutput {
		multiplier = c.config.MinOutput
	} else if multiplier > c.config.MaxOutput {
		multiplier = c.config.MaxOutput
	}

	c.lastState = PIDState{
		Error:      e,
		Integral:   c.integral,
		Derivative: derivative,
		Output:     multiplier,
		Steps:      c.steps,
	}

	return multiplier
}

// State 마지막 업데이트의 내부 상태 조회
func (c *PIDDrawdownController) State() PIDState {
	return c.lastState
}

// Reset 제어기 상태 초기화
func (c *PIDDrawdownController) Reset() {
	c.integral = 0
	c.prevError = 0
	c.hasPrevError = false
	c.steps = 0
	c.lastState = PIDState{}
}

// =============================================================================
// Simple Drawdown Scaler
// =============================================================================

// SimpleDrawdownScaler 선형 낙폭 스케일러
// PID가 과한 경우를 위한 대안: 낙폭에 선형 비례해서 축소
type SimpleDrawdownScaler struct {
	startReduction float64
	fullStop       float64
}

// NewSimpleDrawdownScaler creates a linear scaler
// startReduction에서 축소 시작, fullStop에서 거래 완전 중단
func NewSimpleDrawdownScaler(startReduction, fullStop float64) (*SimpleDrawdownScaler, error) {
	if startReduction < 0 {
		return nil, fmt.Errorf("%w: start_reduction must be >= 0, got %v", ErrInvalidConfig, startReduction)
	}
	if startReduction >= fullStop {
		return nil, fmt.Errorf("%w: start_reduction must be less than full_stop, got [%v, %v]",
			ErrInvalidConfig, startReduction, fullStop)
	}
	return &SimpleDrawdownScaler{startReduction: startReduction, fullStop: fullStop}, nil
}

// Multiplier 현재 낙폭에 대한 리스크 승수 [0, 1]
func (s *SimpleDrawdownScaler) Multiplier(currentDrawdown float64) float64 {
	if currentDrawdown <= s.startReduction {
		return 1.0
	}
	if currentDrawdown >= s.fullStop {
		return 0.0
	}
	return 1.0 - (currentDrawdown-s.startReduction)/(s.fullStop-s.startReduction)
}
