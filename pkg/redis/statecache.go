package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StateCache publishes the latest engine snapshots for monitoring consumers
// ⭐ SSOT: 모니터링용 상태 캐시 키는 여기서만 정의
// 코어 엔진은 이 캐시에 의존하지 않는다 (쓰기 실패는 호출자가 로깅만)
type StateCache struct {
	client *Client
	prefix string
}

// NewStateCache creates a new state cache helper
func NewStateCache(client *Client, prefix string) *StateCache {
	return &StateCache{
		client: client,
		prefix: prefix,
	}
}

// SetLatest stores a snapshot under the given kind with TTL
// kind 예: "meta_state", "portfolio_state", "metrics"
func (s *StateCache) SetLatest(ctx context.Context, kind string, value interface{}, ttl time.Duration) error {
	if !s.client.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state marshal failed: %w", err)
	}

	key := fmt.Sprintf("%s:latest:%s", s.prefix, kind)
	return s.client.Redis().Set(ctx, key, data, ttl).Err()
}

// GetLatest retrieves the latest snapshot of the given kind
// Returns (found, error); key 부재는 에러가 아님
func (s *StateCache) GetLatest(ctx context.Context, kind string, dest interface{}) (bool, error) {
	if !s.client.Enabled() {
		return false, nil
	}

	key := fmt.Sprintf("%s:latest:%s", s.prefix, kind)
	data, err := s.client.Redis().Get(ctx, key).Bytes()
	if err != nil {
		// Key not found is not an error
		return false, nil
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("state unmarshal failed: %w", err)
	}

	return true, nil
}
