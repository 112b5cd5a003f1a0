package queue

import (
	"context"
	"time"

	"leadflow/pkg/models"
)

type DepthEntry struct {
	TenantID string
	Class    models.PriorityClass
	Count    int64
}

type ErrorStat struct {
	TenantID  string
	ErrorKind models.ErrorKind
	Count     int64
}

// Repository owns QueueItem persistence and the atomic state
// transitions behind the queue's invariants. ClaimOne is the only
// path from queued to dispatched and must guarantee at-most-one
// claimant per item under concurrent callers.
type Repository interface {
	Insert(ctx context.Context, item *models.QueueItem) error
	Get(ctx context.Context, id string) (*models.QueueItem, error)

	// ActiveTenants lists tenants with at least one eligible queued
	// item in the class, ordered deterministically.
	ActiveTenants(ctx context.Context, class models.PriorityClass, now time.Time) ([]string, error)

	// ClaimOne atomically claims the oldest eligible item in the
	// tenant's lane. Returns nil when the lane has no eligible item.
	ClaimOne(ctx context.Context, workerID, tenantID string, class models.PriorityClass, now time.Time) (*models.QueueItem, error)

	// MarkAttempt increments the attempt counter of a dispatched item
	// and returns the new count.
	MarkAttempt(ctx context.Context, id string) (int, error)

	// Ack completes a dispatched item. Idempotent: acking an item that
	// already left the dispatched state is a no-op.
	Ack(ctx context.Context, id string) error

	MarkRetrying(ctx context.Context, id string, record models.AttemptRecord, notBefore time.Time) error
	MarkDead(ctx context.Context, id string, record models.AttemptRecord) error

	// Release returns a dispatched item to queued with a new
	// eligibility time and no attempt change. Used for dequeue-time
	// rate-limit deferral.
	Release(ctx context.Context, id string, notBefore time.Time) error

	// Cancel aborts an item that is still queued.
	Cancel(ctx context.Context, id string) error

	// RequeueDue re-admits retrying items whose backoff has elapsed and
	// returns how many were moved back to queued.
	RequeueDue(ctx context.Context, now time.Time) (int64, error)

	Depth(ctx context.Context) ([]DepthEntry, error)
	ErrorStats(ctx context.Context) ([]ErrorStat, error)
}
