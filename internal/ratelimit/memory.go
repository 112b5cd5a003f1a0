package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterStore is a process-local CounterStore for tests and
// single-node development mode. Expiry is enforced lazily on access.
type MemoryCounterStore struct {
	mu       sync.Mutex
	ints     map[string]int64
	floats   map[string]float64
	expiries map[string]time.Time
	now      func() time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		ints:     make(map[string]int64),
		floats:   make(map[string]float64),
		expiries: make(map[string]time.Time),
		now:      time.Now,
	}
}

// SetClock overrides the store's clock; tests use it to cross window
// boundaries without sleeping.
func (s *MemoryCounterStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryCounterStore) expireLocked(key string) {
	if exp, ok := s.expiries[key]; ok && !exp.After(s.now()) {
		delete(s.ints, key)
		delete(s.floats, key)
		delete(s.expiries, key)
	}
}

func (s *MemoryCounterStore) Incr(ctx context.Context, key string, delta int64, expireAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	s.ints[key] += delta
	if !expireAt.IsZero() {
		s.expiries[key] = expireAt
	}
	return s.ints[key], nil
}

func (s *MemoryCounterStore) IncrFloat(ctx context.Context, key string, delta float64, expireAt time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	s.floats[key] += delta
	if !expireAt.IsZero() {
		s.expiries[key] = expireAt
	}
	return s.floats[key], nil
}

func (s *MemoryCounterStore) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	return s.ints[key], nil
}

func (s *MemoryCounterStore) GetFloat(ctx context.Context, key string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	return s.floats[key], nil
}

// MemoryControlStore is a process-local ControlStore for tests.
type MemoryControlStore struct {
	mu        sync.Mutex
	emergency EmergencyState
	expiresAt time.Time
	paused    map[string]bool
	now       func() time.Time
}

func NewMemoryControlStore() *MemoryControlStore {
	return &MemoryControlStore{
		paused: make(map[string]bool),
		now:    time.Now,
	}
}

func (s *MemoryControlStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryControlStore) SetEmergency(ctx context.Context, state EmergencyState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.emergency = state
	s.expiresAt = s.now().Add(ttl)
	return nil
}

func (s *MemoryControlStore) GetEmergency(ctx context.Context) (EmergencyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emergency.Active() && !s.expiresAt.After(s.now()) {
		s.emergency = EmergencyState{}
	}
	return s.emergency, nil
}

func (s *MemoryControlStore) ClearEmergency(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.emergency = EmergencyState{}
	return nil
}

func (s *MemoryControlStore) SetPaused(ctx context.Context, tenantID string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if paused {
		s.paused[tenantID] = true
	} else {
		delete(s.paused, tenantID)
	}
	return nil
}

func (s *MemoryControlStore) IsPaused(ctx context.Context, tenantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.paused[tenantID], nil
}
