package audit

import (
	"context"

	"github.com/wonny/maestro/internal/contracts"
	"github.com/wonny/maestro/pkg/logger"
)

// LogSink 구조화 로그로만 기록하는 기본 싱크
// DB가 비활성화된 환경에서 사용
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a log-only sink
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.WithComponent("audit.sink")}
}

// WriteEvents 이벤트를 구조화 로그로 출력
func (s *LogSink) WriteEvents(_ context.Context, events []contracts.AuditEvent) error {
	zl := s.log.Zerolog()
	for _, event := range events {
		zl.Info().
			Str("event_id", event.EventID).
			Uint64("sequence", event.Sequence).
			Str("event_type", string(event.EventType)).
			Str("source", event.Source).
			Str("param_name", event.ParamName).
			Str("old_value", event.OldValue).
			Str("new_value", event.NewValue).
			Str("trigger_reason", event.TriggerReason).
			Msg("audit event")
	}
	return nil
}

// MultiSink 여러 싱크에 순차 기록 (예: 로그 + DB)
// 하나가 실패해도 나머지는 계속, 마지막 오류 반환
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// WriteEvents 모든 싱크에 기록
func (m *MultiSink) WriteEvents(ctx context.Context, events []contracts.AuditEvent) error {
	var lastErr error
	for _, sink := range m.sinks {
		if err := sink.WriteEvents(ctx, events); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
