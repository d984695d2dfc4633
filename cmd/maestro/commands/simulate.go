package commands

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/wonny/maestro/internal/allocation"
	"github.com/wonny/maestro/internal/api"
	"github.com/wonny/maestro/internal/metacontrol"
	"github.com/wonny/maestro/internal/monitorstub"
	"github.com/wonny/maestro/pkg/config"
	"github.com/wonny/maestro/pkg/logger"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "합성 수익률로 엔진 시뮬레이션",
	Long: `합성 수익률을 생성해 엔진을 오프라인으로 돌려봅니다.

이 명령어는:
- 시드 고정 시 완전 재현 가능
- 전반부는 momentum 우위, 후반부는 mean_rev 우위 (레짐 전환)
- DB/Redis 없이 순수 인메모리로 동작

Example:
  go run ./cmd/maestro simulate
  go run ./cmd/maestro simulate --periods 500 --seed 42`,
	RunE: runSimulate,
}

var (
	simPeriods    int
	simSeed       int64
	simEquity     float64
	simStrategies string
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	// Flags
	simulateCmd.Flags().IntVar(&simPeriods, "periods", 250, "시뮬레이션 주기 수")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 42, "난수 시드 (0=시간 기반)")
	simulateCmd.Flags().Float64Var(&simEquity, "equity", 1_000_000, "시작 자본")
	simulateCmd.Flags().StringVar(&simStrategies, "strategies", "momentum,mean_rev,breakout", "전략 이름 (쉼표 구분)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Maestro Simulation ===")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg)

	strategies := parseStrategies(simStrategies)
	if len(strategies) == 0 {
		return fmt.Errorf("at least one strategy name is required")
	}
	if simPeriods < 1 {
		return fmt.Errorf("periods must be >= 1")
	}

	fmt.Printf("\n📊 Periods: %d | Seed: %d | Strategies: %v\n\n", simPeriods, simSeed, strategies)

	engine, err := buildSimEngine(cfg, strategies, log)
	if err != nil {
		return err
	}

	var rng *rand.Rand
	if simSeed != 0 {
		rng = rand.New(rand.NewSource(simSeed))
	} else {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	equity := simEquity
	peak := equity
	maxDrawdown := 0.0
	resamples := 0

	var last *api.StepResult
	for period := 0; period < simPeriods; period++ {
		returns := syntheticReturns(rng, strategies, period, simPeriods)

		result, err := engine.Step(api.StepInput{
			Returns: returns,
			Equity:  equity,
		})
		if err != nil {
			return fmt.Errorf("simulation step %d: %w", period+1, err)
		}
		last = result
		if result.Portfolio.Resampled {
			resamples++
		}

		// 유효 비중으로 실현 수익 계산 (리스크 승수 반영)
		var realized float64
		for name, w := range result.EffectiveWeights {
			realized += w * returns[name]
		}
		equity *= 1 + realized
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}

	printSimSummary(last, simEquity, equity, maxDrawdown, resamples)
	return nil
}

// buildSimEngine DB/Redis/감사 없이 인메모리 엔진 구성
func buildSimEngine(cfg *config.Config, strategies []string, log *logger.Logger) (*api.Engine, error) {
	health := monitorstub.NewHealthMonitor(monitorstub.DefaultHealthConfig(), log.Zerolog())
	regime := monitorstub.NewVarianceRatioDetector(monitorstub.DefaultVarianceConfig())

	corr, err := allocation.NewOnlineCorrelationMatrix(strategies, allocation.CorrelationConfig{
		Decay:      cfg.Allocation.CorrelationDecay,
		Shrinkage:  cfg.Allocation.Shrinkage,
		MinSamples: cfg.Allocation.MinSamples,
		Epsilon:    1e-6,
	})
	if err != nil {
		return nil, fmt.Errorf("create correlation tracker: %w", err)
	}

	ensembleConfig := allocation.DefaultEnsembleConfig()
	ensembleConfig.Particle.NumParticles = cfg.Allocation.NumParticles
	ensembleConfig.Particle.PenaltyLambda = cfg.Allocation.PenaltyLambda
	ensembleConfig.Particle.Seed = simSeed
	ensembleConfig.Thompson.Seed = simSeed
	ensembleConfig.SelectionFraction = cfg.Allocation.SelectionFraction

	ensemble, err := allocation.NewBayesianEnsemble(strategies, ensembleConfig, corr, regime, nil, log.Zerolog())
	if err != nil {
		return nil, fmt.Errorf("create ensemble: %w", err)
	}

	controllerConfig := metacontrol.DefaultControllerConfig()
	controllerConfig.TargetDrawdown = cfg.Control.TargetDrawdown
	controllerConfig.PID.TargetDrawdown = cfg.Control.TargetDrawdown

	controller, err := metacontrol.NewMetaController(controllerConfig, health, regime, nil, log.Zerolog())
	if err != nil {
		return nil, fmt.Errorf("create meta controller: %w", err)
	}
	for _, s := range strategies {
		controller.RegisterStrategy(s, nil, nil)
	}

	return api.NewEngine(ensemble, controller), nil
}

// syntheticReturns 전략별 합성 수익률 생성
// 전반부는 첫 번째 전략 우위, 후반부는 두 번째 전략 우위 (레짐 전환 재현)
func syntheticReturns(rng *rand.Rand, strategies []string, period, total int) map[string]float64 {
	firstHalf := period < total/2

	returns := make(map[string]float64, len(strategies))
	for i, name := range strategies {
		drift := -0.0002
		switch {
		case i == 0 && firstHalf:
			drift = 0.0008
		case i == 1 && !firstHalf:
			drift = 0.0008
		case i >= 2:
			drift = 0.0001
		}
		vol := 0.008 + 0.002*float64(i)
		returns[name] = drift + vol*rng.NormFloat64()
	}
	return returns
}

func printSimSummary(last *api.StepResult, startEquity, endEquity, maxDrawdown float64, resamples int) {
	fmt.Println("📈 Simulation Summary")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("%-22s %14.0f\n", "Start Equity:", startEquity)
	fmt.Printf("%-22s %14.0f\n", "End Equity:", endEquity)
	fmt.Printf("%-22s %13.2f%%\n", "Total Return:", (endEquity/startEquity-1)*100)
	fmt.Printf("%-22s %13.2f%%\n", "Max Drawdown:", maxDrawdown*100)
	fmt.Printf("%-22s %14d\n", "Resampling Events:", resamples)
	fmt.Println()

	fmt.Println("🎛  Final Meta State")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("%-22s %14s\n", "System State:", last.Meta.SystemState)
	fmt.Printf("%-22s %14s\n", "Market Harmony:", last.Meta.MarketHarmony)
	fmt.Printf("%-22s %14.2f\n", "Health Score:", last.Meta.HealthScore)
	fmt.Printf("%-22s %14.4f\n", "Risk Multiplier:", last.Meta.RiskMultiplier)
	fmt.Printf("%-22s %14.1f\n", "Effective Particles:", last.Portfolio.EffectiveParticles)
	fmt.Println()

	fmt.Println("⚖️  Final Allocation")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	for _, r := range last.Rankings {
		bar := allocationBar(r.Weight)
		fmt.Printf("%-12s %7.2f%%  ±%.3f  %s\n", r.Name, r.Weight*100, r.Uncertainty, bar)
	}
	fmt.Println()
}

// allocationBar 비중 시각화용 막대 (0-20칸)
func allocationBar(weight float64) string {
	n := int(math.Round(weight * 20))
	if n < 0 {
		n = 0
	}
	if n > 20 {
		n = 20
	}
	bar := ""
	for i := 0; i < n; i++ {
		bar += "█"
	}
	return bar
}
