package api

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wonny/maestro/internal/allocation"
	"github.com/wonny/maestro/internal/metacontrol"
)

// ErrNoUpdates 아직 주기 업데이트가 없음
var ErrNoUpdates = errors.New("no updates processed yet")

// =============================================================================
// Engine (ensemble + meta controller behind one mutex)
// =============================================================================

// StepInput 한 주기의 관측 입력
type StepInput struct {
	Returns     map[string]float64 `json:"returns"`      // 전략별 수익률 (필수)
	Equity      float64            `json:"equity"`       // 현재 자본 (필수, > 0)
	LatencyMs   float64            `json:"latency_ms"`   // 주문/메시지 지연
	OrderFilled *bool              `json:"order_filled"` // 생략 시 true
	SlippageBps float64            `json:"slippage_bps"`
	StrategyPnL map[string]float64 `json:"strategy_pnl"` // 생략 시 수익률로 대체
}

// StepResult 한 주기의 엔진 출력
type StepResult struct {
	Period           int                          `json:"period"`
	Portfolio        allocation.PortfolioState    `json:"portfolio"`
	Meta             metacontrol.MetaState        `json:"meta"`
	Allocation       map[string]float64           `json:"allocation"`        // Thompson 선택 반영 비중
	Selected         []string                     `json:"selected"`          // 활성 전략
	EffectiveWeights map[string]float64           `json:"effective_weights"` // allocation * risk_multiplier
	Rankings         []allocation.StrategyRanking `json:"rankings"`
}

// Engine 앙상블과 메타 컨트롤러를 하나의 주기 단위로 묶는 조정자
//
// 코어 컴포넌트는 내부 잠금이 없으므로 동시 호출 직렬화는 여기서 한다
// (transport 계층 뮤텍스). 단일 제어 고루틴 가정은 코어에 그대로 유지
type Engine struct {
	mu sync.Mutex

	ensemble   *allocation.BayesianEnsemble
	controller *metacontrol.MetaController

	periods    int
	lastResult *StepResult
}

// NewEngine creates the per-period coordinator
func NewEngine(ensemble *allocation.BayesianEnsemble, controller *metacontrol.MetaController) *Engine {
	return &Engine{ensemble: ensemble, controller: controller}
}

// Step 한 주기 처리
//
// 1. 앙상블 갱신 (파티클 + Thompson)
// 2. 전략 PnL 기록 (하모니 계산용)
// 3. 메타 컨트롤러 갱신 (합의 비중 기준 포트폴리오 수익률)
// 4. 배분 조회 + 리스크 승수 적용
func (e *Engine) Step(input StepInput) (*StepResult, error) {
	if len(input.Returns) == 0 {
		return nil, fmt.Errorf("returns cannot be empty")
	}
	if input.Equity <= 0 {
		return nil, fmt.Errorf("equity must be > 0, got %v", input.Equity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.periods++

	// 1. 앙상블 갱신
	portfolio := e.ensemble.Update(input.Returns)

	// 2. 전략 PnL (명시 입력이 없으면 수익률을 대리 지표로)
	pnls := input.StrategyPnL
	if pnls == nil {
		pnls = input.Returns
	}
	for name, pnl := range pnls {
		e.controller.RecordStrategyPnL(name, pnl)
	}

	// 3. 메타 컨트롤러 갱신
	var portfolioReturn float64
	for name, weight := range portfolio.StrategyWeights {
		portfolioReturn += weight * input.Returns[name]
	}

	filled := true
	if input.OrderFilled != nil {
		filled = *input.OrderFilled
	}

	meta := e.controller.Update(metacontrol.UpdateInput{
		Return:      portfolioReturn,
		Equity:      input.Equity,
		LatencyMs:   input.LatencyMs,
		OrderFilled: filled,
		SlippageBps: input.SlippageBps,
	})

	// 4. 배분 + 리스크 승수
	alloc, selected := e.ensemble.Allocation()

	effective := make(map[string]float64, len(alloc))
	for name, weight := range alloc {
		effective[name] = weight * meta.RiskMultiplier
	}

	result := &StepResult{
		Period:           e.periods,
		Portfolio:        portfolio,
		Meta:             meta,
		Allocation:       alloc,
		Selected:         selected,
		EffectiveWeights: effective,
		Rankings:         e.ensemble.StrategyRankings(),
	}
	e.lastResult = result

	return result, nil
}

// Last 마지막 주기 결과 (없으면 ErrNoUpdates)
func (e *Engine) Last() (*StepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastResult == nil {
		return nil, ErrNoUpdates
	}
	return e.lastResult, nil
}

// Allocation 현재 배분 조회 (업데이트 없이도 가능)
func (e *Engine) Allocation() (map[string]float64, []string, []allocation.StrategyRanking) {
	e.mu.Lock()
	defer e.mu.Unlock()
	weights, selected := e.ensemble.Allocation()
	return weights, selected, e.ensemble.StrategyRankings()
}

// Periods 처리한 주기 수
func (e *Engine) Periods() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.periods
}
