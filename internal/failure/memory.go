package failure

import (
	"context"
	"sort"
	"sync"
	"time"

	"leadflow/pkg/errors"
	"leadflow/pkg/models"
)

// MemoryDeadLetterStore mirrors the Mongo store for tests and
// single-node development mode.
type MemoryDeadLetterStore struct {
	mu      sync.Mutex
	records map[string]models.DeadLetterRecord
}

func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{records: make(map[string]models.DeadLetterRecord)}
}

func (s *MemoryDeadLetterStore) Insert(ctx context.Context, record models.DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return errors.ErrConflict.WithDetail("message", "dead-letter record already exists")
	}
	s.records[record.ID] = record
	return nil
}

func (s *MemoryDeadLetterStore) Get(ctx context.Context, id string) (models.DeadLetterRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return models.DeadLetterRecord{}, errors.ErrNotFound
	}
	return record, nil
}

func (s *MemoryDeadLetterStore) List(ctx context.Context, tenantID string, limit, offset int64) ([]models.DeadLetterRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []models.DeadLetterRecord
	for _, record := range s.records {
		if tenantID == "" || record.TenantID == tenantID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].EnteredAt.After(records[j].EnteredAt)
	})

	if offset >= int64(len(records)) {
		return nil, nil
	}
	records = records[offset:]
	if limit > 0 && limit < int64(len(records)) {
		records = records[:limit]
	}
	return records, nil
}

func (s *MemoryDeadLetterStore) Count(ctx context.Context, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, record := range s.records {
		if tenantID == "" || record.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryDeadLetterStore) Resolve(ctx context.Context, id, resolvedBy, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return errors.ErrNotFound
	}
	record.Resolved = true
	record.ResolvedBy = resolvedBy
	record.ResolvedAt = &at
	record.ResolveReason = reason
	s.records[id] = record
	return nil
}
