// Package audit implements the append-only audit trail: every parameter
// change, resample, and decay update flows through a non-blocking emitter
// into a sink (structured log, Postgres, or both).
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wonny/maestro/internal/contracts"
	"github.com/wonny/maestro/pkg/logger"
)

// =============================================================================
// Audit Event Emitter
// =============================================================================

// Sink 감사 이벤트 배치 저장소
type Sink interface {
	WriteEvents(ctx context.Context, events []contracts.AuditEvent) error
}

// Config 이미터 설정
type Config struct {
	BufferSize  int     `json:"buffer_size"`   // 이벤트 버퍼 (가득 차면 드랍)
	BatchSize   int     `json:"batch_size"`    // 플러시당 최대 이벤트 수
	FlushPerSec float64 `json:"flush_per_sec"` // 초당 최대 플러시 횟수
}

// DefaultConfig 기본 이미터 설정
func DefaultConfig() Config {
	return Config{
		BufferSize:  1024,
		BatchSize:   64,
		FlushPerSec: 4,
	}
}

// Emitter 비동기 감사 이벤트 이미터
// ⭐ SSOT: 감사 이벤트 발행은 여기서만
//
// Emit은 절대 블로킹하지 않는다: 버퍼가 가득 차면 이벤트를 버리고
// 드랍 카운터만 올린다 (제어 루프가 감사 때문에 멈추면 안 됨).
// 시퀀스 번호는 단조 증가, EventID는 uuid
//
// 플러시는 rate limiter로 묶어서 sink 부하를 제한
type Emitter struct {
	config  Config
	sink    Sink
	log     *logger.Logger
	limiter *rate.Limiter

	ch       chan contracts.AuditEvent
	sequence atomic.Uint64
	dropped  atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewEmitter creates and starts an emitter
// sink가 nil이면 구조화 로그로만 기록 (LogSink)
func NewEmitter(config Config, sink Sink, log *logger.Logger) *Emitter {
	if config.BufferSize < 1 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.BatchSize < 1 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.FlushPerSec <= 0 {
		config.FlushPerSec = DefaultConfig().FlushPerSec
	}
	if sink == nil {
		sink = NewLogSink(log)
	}

	e := &Emitter{
		config:  config,
		sink:    sink,
		log:     log.WithComponent("audit.emitter"),
		limiter: rate.NewLimiter(rate.Limit(config.FlushPerSec), 1),
		ch:      make(chan contracts.AuditEvent, config.BufferSize),
	}

	e.wg.Add(1)
	go e.run()

	return e
}

// Emit 이벤트 발행 (non-blocking)
// EventID/Sequence/Timestamp가 비어 있으면 채워서 전달
func (e *Emitter) Emit(event contracts.AuditEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Sequence = e.sequence.Add(1)

	select {
	case e.ch <- event:
	default:
		// 버퍼 풀: 드랍 (제어 경로 보호)
		e.dropped.Add(1)
	}
}

// Dropped 버퍼 풀로 버려진 이벤트 수
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Sequence 마지막으로 부여한 시퀀스 번호
func (e *Emitter) Sequence() uint64 {
	return e.sequence.Load()
}

// Close 채널을 닫고 남은 이벤트를 모두 플러시한 뒤 반환
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.ch)
	e.mu.Unlock()

	e.wg.Wait()
}

func (e *Emitter) run() {
	defer e.wg.Done()

	batch := make([]contracts.AuditEvent, 0, e.config.BatchSize)
	for {
		event, ok := <-e.ch
		if !ok {
			e.flush(batch)
			return
		}
		batch = append(batch, event)

	drain:
		for len(batch) < e.config.BatchSize {
			select {
			case event, ok := <-e.ch:
				if !ok {
					e.flush(batch)
					return
				}
				batch = append(batch, event)
			default:
				break drain
			}
		}

		e.flush(batch)
		batch = batch[:0]
	}
}

func (e *Emitter) flush(batch []contracts.AuditEvent) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// sink 부하 제한. 타임아웃 시에도 기록은 시도
	_ = e.limiter.Wait(ctx)

	if err := e.sink.WriteEvents(ctx, batch); err != nil {
		e.log.WithError(err).Error("audit flush failed")
	}
}
