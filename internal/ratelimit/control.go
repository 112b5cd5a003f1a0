package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"leadflow/internal/constants"
)

// EmergencyState is the global kill switch. Drain mode rejects new
// admissions but keeps dispatching already-queued items; halt mode
// stops dequeues as well. The state auto-expires with its TTL.
type EmergencyState struct {
	Mode      string    `json:"mode"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e EmergencyState) Active() bool {
	return e.Mode != ""
}

// ControlStore holds operator-set state shared across service
// instances: the emergency switch and pause flags.
type ControlStore interface {
	SetEmergency(ctx context.Context, state EmergencyState, ttl time.Duration) error
	GetEmergency(ctx context.Context) (EmergencyState, error)
	ClearEmergency(ctx context.Context) error

	// SetPaused with an empty tenantID pauses processing globally.
	SetPaused(ctx context.Context, tenantID string, paused bool) error
	IsPaused(ctx context.Context, tenantID string) (bool, error)
}

type RedisControlStore struct {
	client *redis.Client
}

func NewRedisControlStore(client *redis.Client) *RedisControlStore {
	return &RedisControlStore{client: client}
}

func emergencyKey() string {
	return constants.CacheKeyPrefixControl + "emergency"
}

func pauseKey(tenantID string) string {
	if tenantID == "" {
		return constants.CacheKeyPrefixControl + "pause:global"
	}
	return constants.CacheKeyPrefixControl + "pause:tenant:" + tenantID
}

func (s *RedisControlStore) SetEmergency(ctx context.Context, state EmergencyState, ttl time.Duration) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal emergency state: %w", err)
	}
	if err := s.client.Set(ctx, emergencyKey(), body, ttl).Err(); err != nil {
		return fmt.Errorf("redis Set failed: %w", err)
	}
	return nil
}

func (s *RedisControlStore) GetEmergency(ctx context.Context) (EmergencyState, error) {
	body, err := s.client.Get(ctx, emergencyKey()).Bytes()
	if err == redis.Nil {
		return EmergencyState{}, nil
	}
	if err != nil {
		return EmergencyState{}, fmt.Errorf("redis Get failed: %w", err)
	}

	var state EmergencyState
	if err := json.Unmarshal(body, &state); err != nil {
		return EmergencyState{}, fmt.Errorf("failed to unmarshal emergency state: %w", err)
	}
	return state, nil
}

func (s *RedisControlStore) ClearEmergency(ctx context.Context) error {
	if err := s.client.Del(ctx, emergencyKey()).Err(); err != nil {
		return fmt.Errorf("redis Del failed: %w", err)
	}
	return nil
}

func (s *RedisControlStore) SetPaused(ctx context.Context, tenantID string, paused bool) error {
	if !paused {
		if err := s.client.Del(ctx, pauseKey(tenantID)).Err(); err != nil {
			return fmt.Errorf("redis Del failed: %w", err)
		}
		return nil
	}
	if err := s.client.Set(ctx, pauseKey(tenantID), "1", 0).Err(); err != nil {
		return fmt.Errorf("redis Set failed: %w", err)
	}
	return nil
}

func (s *RedisControlStore) IsPaused(ctx context.Context, tenantID string) (bool, error) {
	n, err := s.client.Exists(ctx, pauseKey(tenantID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis Exists failed: %w", err)
	}
	return n > 0, nil
}
