package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"leadflow/pkg/errors"
	"leadflow/pkg/models"
)

// MemoryRepository is an in-process Repository with the same transition
// semantics as the Postgres implementation. Used in tests and
// single-node development mode.
type MemoryRepository struct {
	mu    sync.Mutex
	items map[string]*models.QueueItem
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]*models.QueueItem)}
}

func (r *MemoryRepository) Insert(ctx context.Context, item *models.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[item.ID]; exists {
		return errors.ErrConflict.WithDetail("message", "queue item already exists")
	}
	clone := *item
	r.items[item.ID] = &clone
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	clone := *item
	return &clone, nil
}

func (r *MemoryRepository) ActiveTenants(ctx context.Context, class models.PriorityClass, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	for _, item := range r.items {
		if item.PriorityClass == class && item.State == models.StateQueued && !item.NotBefore.After(now) {
			seen[item.Lead.TenantID] = true
		}
	}

	tenants := make([]string, 0, len(seen))
	for tenant := range seen {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (r *MemoryRepository) ClaimOne(ctx context.Context, workerID, tenantID string, class models.PriorityClass, now time.Time) (*models.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest *models.QueueItem
	for _, item := range r.items {
		if item.Lead.TenantID != tenantID || item.PriorityClass != class {
			continue
		}
		if item.State != models.StateQueued || item.NotBefore.After(now) {
			continue
		}
		if oldest == nil || item.Lead.ReceivedAt.Before(oldest.Lead.ReceivedAt) {
			oldest = item
		}
	}

	if oldest == nil {
		return nil, nil
	}

	oldest.State = models.StateDispatched
	oldest.ClaimedBy = workerID
	clone := *oldest
	return &clone, nil
}

func (r *MemoryRepository) MarkAttempt(ctx context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok || item.State != models.StateDispatched {
		return 0, errors.ErrConflict.WithDetail("message", "item is not dispatched")
	}
	item.Attempt++
	return item.Attempt, nil
}

func (r *MemoryRepository) Ack(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return nil
	}
	if item.State == models.StateDispatched {
		item.State = models.StateCompleted
		item.ClaimedBy = ""
	}
	return nil
}

func (r *MemoryRepository) MarkRetrying(ctx context.Context, id string, record models.AttemptRecord, notBefore time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok || item.State != models.StateDispatched {
		return errors.ErrConflict.WithDetail("message", "item is not dispatched")
	}
	item.State = models.StateRetrying
	item.LastErrorKind = record.ErrorKind
	item.AttemptHistory = append(item.AttemptHistory, record)
	item.NotBefore = notBefore
	item.ClaimedBy = ""
	return nil
}

func (r *MemoryRepository) MarkDead(ctx context.Context, id string, record models.AttemptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok || item.State != models.StateDispatched {
		return errors.ErrConflict.WithDetail("message", "item is not dispatched")
	}
	item.State = models.StateDead
	item.LastErrorKind = record.ErrorKind
	item.AttemptHistory = append(item.AttemptHistory, record)
	item.ClaimedBy = ""
	return nil
}

func (r *MemoryRepository) Release(ctx context.Context, id string, notBefore time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok || item.State != models.StateDispatched {
		return errors.ErrConflict.WithDetail("message", "item is not dispatched")
	}
	item.State = models.StateQueued
	item.NotBefore = notBefore
	item.ClaimedBy = ""
	return nil
}

func (r *MemoryRepository) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok || item.State != models.StateQueued {
		return errors.ErrConflict.WithDetail("message", "item is not cancellable")
	}
	item.State = models.StateCancelled
	return nil
}

func (r *MemoryRepository) RequeueDue(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var moved int64
	for _, item := range r.items {
		if item.State == models.StateRetrying && !item.NotBefore.After(now) {
			item.State = models.StateQueued
			moved++
		}
	}
	return moved, nil
}

func (r *MemoryRepository) Depth(ctx context.Context) ([]DepthEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[string]map[models.PriorityClass]int64)
	for _, item := range r.items {
		if item.State != models.StateQueued && item.State != models.StateRetrying {
			continue
		}
		tenant := item.Lead.TenantID
		if counts[tenant] == nil {
			counts[tenant] = make(map[models.PriorityClass]int64)
		}
		counts[tenant][item.PriorityClass]++
	}

	var entries []DepthEntry
	for tenant, byClass := range counts {
		for class, count := range byClass {
			entries = append(entries, DepthEntry{TenantID: tenant, Class: class, Count: count})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TenantID != entries[j].TenantID {
			return entries[i].TenantID < entries[j].TenantID
		}
		return entries[i].Class < entries[j].Class
	})
	return entries, nil
}

func (r *MemoryRepository) ErrorStats(ctx context.Context) ([]ErrorStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[string]map[models.ErrorKind]int64)
	for _, item := range r.items {
		if item.LastErrorKind == "" {
			continue
		}
		if item.State != models.StateRetrying && item.State != models.StateDead {
			continue
		}
		tenant := item.Lead.TenantID
		if counts[tenant] == nil {
			counts[tenant] = make(map[models.ErrorKind]int64)
		}
		counts[tenant][item.LastErrorKind]++
	}

	var stats []ErrorStat
	for tenant, byKind := range counts {
		for kind, count := range byKind {
			stats = append(stats, ErrorStat{TenantID: tenant, ErrorKind: kind, Count: count})
		}
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].TenantID != stats[j].TenantID {
			return stats[i].TenantID < stats[j].TenantID
		}
		return stats[i].ErrorKind < stats[j].ErrorKind
	})
	return stats, nil
}
