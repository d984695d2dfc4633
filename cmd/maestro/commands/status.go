package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/maestro/internal/audit"
	"github.com/wonny/maestro/pkg/config"
	"github.com/wonny/maestro/pkg/database"
	"github.com/wonny/maestro/pkg/redis"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "엔진 최신 상태 조회",
	Long: `실행 중인 엔진의 최신 상태 스냅샷을 조회합니다.

조회 순서:
1. Redis 캐시 (run 데몬이 주기적으로 기록)
2. PostgreSQL 스냅샷 테이블 (DB 활성 시)

Example:
  go run ./cmd/maestro status`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Maestro Engine Status ===")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snapshot, source, err := fetchLatestSnapshot(ctx, cfg)
	if err != nil {
		return err
	}
	if snapshot == nil {
		fmt.Println("\n⚠️  No snapshot available (is the daemon running?)")
		return nil
	}

	printSnapshot(snapshot, source)
	return nil
}

// fetchLatestSnapshot Redis 우선, 실패 시 DB 폴백
func fetchLatestSnapshot(ctx context.Context, cfg *config.Config) (*audit.StateSnapshot, string, error) {
	// 1. Redis
	if cfg.Redis.Enabled {
		client, err := redis.New(cfg)
		if err != nil {
			return nil, "", fmt.Errorf("connect to redis: %w", err)
		}
		defer client.Close()

		cache := redis.NewStateCache(client, "maestro")
		var snapshot audit.StateSnapshot
		found, err := cache.GetLatest(ctx, "snapshot", &snapshot)
		if err != nil {
			return nil, "", fmt.Errorf("read redis snapshot: %w", err)
		}
		if found {
			return &snapshot, "redis", nil
		}
	}

	// 2. PostgreSQL
	if cfg.Database.Enabled {
		db, err := database.New(cfg)
		if err != nil {
			return nil, "", fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		repo := audit.NewRepository(db.Pool)
		snapshot, err := repo.GetLatestSnapshot(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("read db snapshot: %w", err)
		}
		if snapshot != nil {
			return snapshot, "postgres", nil
		}
	}

	return nil, "", nil
}

func printSnapshot(s *audit.StateSnapshot, source string) {
	fmt.Printf("\n📸 Latest Snapshot (source: %s)\n", source)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("%-18s %s\n", "Timestamp:", s.Timestamp.Format(time.RFC3339))
	fmt.Printf("%-18s %s\n", "System State:", s.SystemState)
	fmt.Printf("%-18s %s\n", "Market Harmony:", s.MarketHarmony)
	fmt.Printf("%-18s %.2f\n", "Health Score:", s.HealthScore)
	fmt.Printf("%-18s %.2f%%\n", "Drawdown:", s.DrawdownPct)
	fmt.Printf("%-18s %.4f\n", "Risk Multiplier:", s.RiskMultiplier)
	fmt.Printf("%-18s %.0f\n", "Equity:", s.Equity)
	fmt.Println()

	if len(s.StrategyWeights) > 0 {
		fmt.Println("⚖️  Effective Weights")
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		for name, w := range s.StrategyWeights {
			fmt.Printf("%-12s %7.2f%%\n", name, w*100)
		}
		fmt.Println()
	}
}
