package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/maestro/internal/audit"
	"github.com/wonny/maestro/pkg/config"
	"github.com/wonny/maestro/pkg/database"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "감사 이벤트 조회",
	Long: `파라미터 변경 감사 이력을 조회합니다.

이벤트 종류:
- param_change: 리스크 승수/전략 가중/상태 전이
- resample:     파티클 리샘플링
- decay_update: 적응형 망각 계수 변경

Example:
  go run ./cmd/maestro audit events
  go run ./cmd/maestro audit events --source meta_controller --limit 50
  go run ./cmd/maestro audit events --output json`,
}

var auditEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "최근 감사 이벤트 목록",
	RunE:  runAuditEvents,
}

var (
	// events 플래그
	auditSource string
	auditLimit  int
	auditOutput string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditEventsCmd)

	// Flags
	auditEventsCmd.Flags().StringVar(&auditSource, "source", "", "소스 필터 (예: meta_controller, particle_portfolio)")
	auditEventsCmd.Flags().IntVar(&auditLimit, "limit", 20, "최대 이벤트 수")
	auditEventsCmd.Flags().StringVar(&auditOutput, "output", "text", "출력 형식 (text, json)")
}

func runAuditEvents(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Maestro Audit Events ===")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("audit event history requires DB_ENABLED=true")
	}

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo := audit.NewRepository(db.Pool)
	events, err := repo.ListEvents(ctx, auditSource, auditLimit)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	if auditOutput == "json" {
		data, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal events: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(events) == 0 {
		fmt.Println("\n⚠️  No audit events recorded")
		return nil
	}

	fmt.Printf("\n%-6s %-20s %-14s %-20s %-24s %-10s %-10s\n",
		"SEQ", "TIME", "TYPE", "SOURCE", "PARAM", "OLD", "NEW")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	for _, e := range events {
		fmt.Printf("%-6d %-20s %-14s %-20s %-24s %-10s %-10s\n",
			e.Sequence,
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.EventType,
			e.Source,
			e.ParamName,
			e.OldValue,
			e.NewValue,
		)
	}
	fmt.Printf("\n%d event(s)\n", len(events))
	return nil
}
