package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/wonny/maestro/internal/allocation"
	"github.com/wonny/maestro/internal/api"
	"github.com/wonny/maestro/internal/audit"
	"github.com/wonny/maestro/internal/contracts"
	"github.com/wonny/maestro/internal/metacontrol"
	"github.com/wonny/maestro/internal/monitorstub"
	"github.com/wonny/maestro/pkg/config"
	"github.com/wonny/maestro/pkg/database"
	"github.com/wonny/maestro/pkg/logger"
	"github.com/wonny/maestro/pkg/redis"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "배분 엔진 데몬 시작",
	Long: `배분 엔진과 HTTP API 서버를 시작합니다.

이 명령어는:
- 파티클 필터 + Thompson Sampling 앙상블 초기화
- 메타 컨트롤러 (시스템 상태/하모니/PID) 초기화
- 감사 이벤트 이미터 시작 (DB 활성 시 Postgres 저장)
- HTTP API + WebSocket 상태 스트림 제공
- 주기적 상태 스냅샷 (cron)

Endpoints:
  GET  /healthz              - Health check
  POST /api/v1/update        - 한 주기 관측 입력 (수익률/자본)
  GET  /api/v1/state         - 마지막 주기 결과
  GET  /api/v1/allocation    - 현재 배분
  GET  /ws/state             - 실시간 상태 스트림

Example:
  go run ./cmd/maestro run
  go run ./cmd/maestro run --port 8099 --strategies momentum,mean_rev,breakout`,
	RunE: runDaemon,
}

var (
	runPort       string
	runStrategies string
)

func init() {
	rootCmd.AddCommand(runCmd)

	// Flags
	runCmd.Flags().StringVar(&runPort, "port", "", "API 서버 포트 (기본: PORT env)")
	runCmd.Flags().StringVar(&runStrategies, "strategies", "momentum,mean_rev,breakout", "전략 이름 (쉼표 구분)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Maestro Allocation Engine ===")

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Override port if flag is set
	if runPort != "" {
		cfg.Port = runPort
	}

	strategies := parseStrategies(runStrategies)
	if len(strategies) == 0 {
		return fmt.Errorf("at least one strategy name is required")
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	log.WithFields(map[string]interface{}{
		"port":       cfg.Port,
		"env":        cfg.Env,
		"strategies": strategies,
	}).Info("Initializing allocation engine")

	// 3. Connect to database (audit 저장소, 선택적)
	var db *database.DB
	var repo *audit.Repository
	if cfg.Database.Enabled {
		db, err = database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		repo = audit.NewRepository(db.Pool)
		log.Info("Connected to database")
	}

	// 4. Connect to redis (상태 스냅샷 캐시, 선택적)
	redisClient, err := redis.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()
	stateCache := redis.NewStateCache(redisClient, "maestro")

	// 5. Start audit emitter
	// DB가 있으면 로그 + DB 이중 기록, 없으면 로그만
	var auditSink contracts.AuditSink
	var emitter *audit.Emitter
	if cfg.Audit.Enabled {
		var sink audit.Sink = audit.NewLogSink(log)
		if repo != nil {
			sink = audit.NewMultiSink(sink, repo)
		}
		emitter = audit.NewEmitter(audit.Config{
			BufferSize:  cfg.Audit.BufferSize,
			BatchSize:   cfg.Audit.BatchSize,
			FlushPerSec: cfg.Audit.FlushPerSec,
		}, sink, log)
		defer emitter.Close()
		auditSink = emitter
	}

	// 6. Create monitors
	health := monitorstub.NewHealthMonitor(monitorstub.DefaultHealthConfig(), log.Zerolog())
	regime := monitorstub.NewVarianceRatioDetector(monitorstub.DefaultVarianceConfig())

	// 7. Create allocation ensemble
	corr, err := allocation.NewOnlineCorrelationMatrix(strategies, allocation.CorrelationConfig{
		Decay:      cfg.Allocation.CorrelationDecay,
		Shrinkage:  cfg.Allocation.Shrinkage,
		MinSamples: cfg.Allocation.MinSamples,
		Epsilon:    1e-6,
	})
	if err != nil {
		return fmt.Errorf("create correlation tracker: %w", err)
	}

	// 적응형 망각 사용 시에만 분산비 소스 주입
	var varianceSource contracts.VarianceRatioSource
	if cfg.Allocation.AdaptiveDecay {
		varianceSource = regime
	}

	ensemble, err := allocation.NewBayesianEnsemble(strategies, allocation.EnsembleConfig{
		Particle: allocation.ParticleConfig{
			NumParticles:        cfg.Allocation.NumParticles,
			ResamplingThreshold: cfg.Allocation.ResamplingThreshold,
			MutationStd:         cfg.Allocation.MutationStd,
			PenaltyLambda:       cfg.Allocation.PenaltyLambda,
			Seed:                cfg.Allocation.Seed,
		},
		Thompson: allocation.ThompsonConfig{
			Decay: cfg.Allocation.ThompsonDecay,
			Seed:  cfg.Allocation.Seed,
		},
		SelectionFraction: cfg.Allocation.SelectionFraction,
	}, corr, varianceSource, auditSink, log.Zerolog())
	if err != nil {
		return fmt.Errorf("create ensemble: %w", err)
	}

	// 8. Create meta controller
	controller, err := metacontrol.NewMetaController(metacontrol.ControllerConfig{
		TargetDrawdown:       cfg.Control.TargetDrawdown,
		VentralThreshold:     cfg.Control.VentralThreshold,
		SympatheticThreshold: cfg.Control.SympatheticThreshold,
		HarmonyLookback:      cfg.Control.HarmonyLookback,
		PID: metacontrol.PIDConfig{
			TargetDrawdown: cfg.Control.TargetDrawdown,
			Kp:             cfg.Control.Kp,
			Ki:             cfg.Control.Ki,
			Kd:             cfg.Control.Kd,
			IntegralLimit:  cfg.Control.IntegralLimit,
			MinOutput:      cfg.Control.MinOutput,
			MaxOutput:      cfg.Control.MaxOutput,
		},
	}, health, regime, auditSink, log.Zerolog())
	if err != nil {
		return fmt.Errorf("create meta controller: %w", err)
	}
	for _, s := range strategies {
		controller.RegisterStrategy(s, nil, nil)
	}

	// 9. Create engine + API surface
	engine := api.NewEngine(ensemble, controller)
	hub := api.NewHub(log)
	defer hub.Close()
	handler := api.NewHandler(engine, stateCache, hub, log)
	router := api.NewRouter(handler, hub, log)
	server := api.New(cfg, log, router)

	// 10. Schedule periodic state snapshots
	scheduler := cron.New(cron.WithSeconds())
	_, err = scheduler.AddFunc(cfg.Audit.SnapshotCron, func() {
		snapshotState(engine, controller, repo, stateCache, log)
	})
	if err != nil {
		return fmt.Errorf("schedule snapshot job: %w", err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	// 11. Start server with graceful shutdown
	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	log.Info("Allocation engine started successfully")
	fmt.Printf("\n✅ Server running on http://localhost:%s\n", cfg.Port)
	fmt.Println("\nAvailable endpoints:")
	fmt.Println("  GET  /healthz")
	fmt.Println("  POST /api/v1/update")
	fmt.Println("  GET  /api/v1/state")
	fmt.Println("  GET  /api/v1/allocation")
	fmt.Println("  GET  /ws/state")
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}

// snapshotState 현재 엔진 상태를 DB/redis에 기록
// 아직 주기가 없으면 조용히 건너뜀
func snapshotState(
	engine *api.Engine,
	controller *metacontrol.MetaController,
	repo *audit.Repository,
	cache *redis.StateCache,
	log *logger.Logger,
) {
	result, err := engine.Last()
	if err != nil {
		return
	}

	snapshot := audit.StateSnapshot{
		Timestamp:       time.Now(),
		SystemState:     string(result.Meta.SystemState),
		MarketHarmony:   string(result.Meta.MarketHarmony),
		RiskMultiplier:  result.Meta.RiskMultiplier,
		HealthScore:     result.Meta.HealthScore,
		DrawdownPct:     result.Meta.DrawdownPct,
		Equity:          controller.Equity(),
		StrategyWeights: result.EffectiveWeights,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if repo != nil {
		if err := repo.SaveSnapshot(ctx, snapshot); err != nil {
			log.WithError(err).Warn("Failed to persist state snapshot")
		}
	}
	if err := cache.SetLatest(ctx, "snapshot", snapshot, 0); err != nil {
		log.WithError(err).Warn("Failed to cache state snapshot")
	}
}

// parseStrategies 쉼표 구분 전략 목록 파싱 (공백/빈 항목 제거)
func parseStrategies(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		name := strings.TrimSpace(p)
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}
