package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/maestro/internal/contracts"
)

// =============================================================================
// Audit Repository (Postgres)
// =============================================================================

// StateSnapshot 주기적 상태 스냅샷 (cron 저장용)
type StateSnapshot struct {
	Timestamp       time.Time          `json:"timestamp"`
	SystemState     string             `json:"system_state"`
	MarketHarmony   string             `json:"market_harmony"`
	RiskMultiplier  float64            `json:"risk_multiplier"`
	HealthScore     float64            `json:"health_score"`
	DrawdownPct     float64            `json:"drawdown_pct"`
	Equity          float64            `json:"equity"`
	StrategyWeights map[string]float64 `json:"strategy_weights"`
}

// Repository handles audit data persistence
// ⭐ SSOT: 감사 데이터 저장/조회는 여기서만
//
// param_changes는 append-only: UPDATE/DELETE 없음
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new audit repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WriteEvents 이벤트 배치 저장 (Sink 구현)
func (r *Repository) WriteEvents(ctx context.Context, events []contracts.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO audit.param_changes (
			event_id, sequence, event_type, source, param_name,
			old_value, new_value, trigger_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, event := range events {
		batch.Queue(query,
			event.EventID, event.Sequence, string(event.EventType), event.Source,
			event.ParamName, event.OldValue, event.NewValue, event.TriggerReason,
			event.Timestamp,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}

	return nil
}

// ListEvents 최근 이벤트 조회 (시퀀스 내림차순)
// source가 비어 있으면 전체
func (r *Repository) ListEvents(ctx context.Context, source string, limit int) ([]contracts.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT event_id, sequence, event_type, source, param_name,
		       old_value, new_value, trigger_reason, created_at
		FROM audit.param_changes
	`
	args := []any{}
	if source != "" {
		query += ` WHERE source = $1`
		args = append(args, source)
	}
	query += fmt.Sprintf(` ORDER BY sequence DESC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []contracts.AuditEvent
	for rows.Next() {
		var event contracts.AuditEvent
		var eventType string
		if err := rows.Scan(
			&event.EventID, &event.Sequence, &eventType, &event.Source,
			&event.ParamName, &event.OldValue, &event.NewValue,
			&event.TriggerReason, &event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.EventType = contracts.AuditEventType(eventType)
		events = append(events, event)
	}

	return events, rows.Err()
}

// SaveSnapshot 주기적 상태 스냅샷 저장
func (r *Repository) SaveSnapshot(ctx context.Context, snapshot StateSnapshot) error {
	weightsJSON, err := json.Marshal(snapshot.StrategyWeights)
	if err != nil {
		return fmt.Errorf("failed to marshal strategy weights: %w", err)
	}

	query := `
		INSERT INTO audit.state_snapshots (
			created_at, system_state, market_harmony, risk_multiplier,
			health_score, drawdown_pct, equity, strategy_weights
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		snapshot.Timestamp, snapshot.SystemState, snapshot.MarketHarmony,
		snapshot.RiskMultiplier, snapshot.HealthScore, snapshot.DrawdownPct,
		snapshot.Equity, weightsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save state snapshot: %w", err)
	}

	return nil
}

// GetLatestSnapshot 가장 최근 스냅샷 조회
func (r *Repository) GetLatestSnapshot(ctx context.Context) (*StateSnapshot, error) {
	query := `
		SELECT created_at, system_state, market_harmony, risk_multiplier,
		       health_score, drawdown_pct, equity, strategy_weights
		FROM audit.state_snapshots
		ORDER BY created_at DESC
		LIMIT 1
	`

	var snapshot StateSnapshot
	var weightsJSON []byte
	err := r.pool.QueryRow(ctx, query).Scan(
		&snapshot.Timestamp, &snapshot.SystemState, &snapshot.MarketHarmony,
		&snapshot.RiskMultiplier, &snapshot.HealthScore, &snapshot.DrawdownPct,
		&snapshot.Equity, &weightsJSON,
	)
	if err == pgx.ErrNoRows {
		// No snapshot yet is not an error
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	if err := json.Unmarshal(weightsJSON, &snapshot.StrategyWeights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal strategy weights: %w", err)
	}

	return &snapshot, nil
}
