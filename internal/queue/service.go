package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadflow/internal/failure"
	"leadflow/internal/logger"
	"leadflow/internal/ratelimit"
	"leadflow/pkg/errors"
	"leadflow/pkg/logging"
	"leadflow/pkg/metrics"
	"leadflow/pkg/models"
)

// Service owns the QueueItem lifecycle. The limiter is consulted at
// both admission points: enqueue violations reject the submission,
// dequeue violations defer the item without touching its attempt
// count.
type Service struct {
	repo        Repository
	limiter     *ratelimit.Limiter
	classifier  *failure.Classifier
	deadLetters failure.DeadLetterStore
	logger      logger.Logger
	now         func() time.Time
	newID       func() string

	// cursorMu guards per-class round-robin cursors for tenant
	// fairness within a priority class.
	cursorMu sync.Mutex
	cursor   map[models.PriorityClass]string
}

func NewService(repo Repository, limiter *ratelimit.Limiter, classifier *failure.Classifier, deadLetters failure.DeadLetterStore, log logger.Logger) *Service {
	return &Service{
		repo:        repo,
		limiter:     limiter,
		classifier:  classifier,
		deadLetters: deadLetters,
		logger:      log,
		now:         time.Now,
		newID:       uuid.NewString,
		cursor:      make(map[models.PriorityClass]string),
	}
}

// Enqueue admits an already-classified lead into its lane.
func (s *Service) Enqueue(ctx context.Context, event models.LeadEvent, class models.PriorityClass, delay time.Duration) (*models.QueueItem, error) {
	ctx = logging.WithLeadID(ctx, event.ID)
	ctx = logging.WithTenantID(ctx, event.TenantID)

	decision := s.limiter.CheckEnqueue(ctx, event.TenantID)
	if decision.Outcome != ratelimit.OutcomeAdmit {
		metrics.EnqueueTotal.WithLabelValues("rejected").Inc()
		s.logger.InfowCtx(ctx, "Enqueue rejected by rate limiter",
			"reason", decision.Reason,
		)
		if decision.Reason == "emergency_mode" {
			return nil, errors.ErrEmergencyMode
		}
		return nil, errors.ErrRateLimited.WithDetail("reason", decision.Reason)
	}

	now := s.now()
	item := &models.QueueItem{
		ID:             s.newID(),
		Lead:           event,
		PriorityClass:  class,
		NotBefore:      now.Add(delay),
		State:          models.StateQueued,
		AttemptHistory: []models.AttemptRecord{},
		EnqueuedAt:     now,
	}

	if err := s.repo.Insert(ctx, item); err != nil {
		metrics.EnqueueTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.EnqueueTotal.WithLabelValues("admitted").Inc()
	s.logger.InfowCtx(ctx, "Lead enqueued",
		"queue_item_id", item.ID,
		"priority_class", class.String(),
		"not_before", item.NotBefore,
	)
	return item, nil
}

// Dequeue claims the oldest eligible item from the highest-priority
// non-empty lane, round-robining across tenants within each class.
// Returns nil when no item is available.
func (s *Service) Dequeue(ctx context.Context, workerID string) (*models.QueueItem, error) {
	if s.limiter.HaltDispatch(ctx) {
		metrics.DequeueTotal.WithLabelValues("halted").Inc()
		return nil, nil
	}

	now := s.now()
	for _, class := range models.PriorityClasses {
		tenants, err := s.repo.ActiveTenants(ctx, class, now)
		if err != nil {
			return nil, err
		}
		if len(tenants) == 0 {
			continue
		}

		for _, tenant := range s.rotated(class, tenants) {
			item, err := s.repo.ClaimOne(ctx, workerID, tenant, class, now)
			if err != nil {
				return nil, err
			}
			if item == nil {
				continue
			}

			decision := s.limiter.CheckDispatch(ctx, tenant)
			if decision.Outcome != ratelimit.OutcomeAdmit {
				if err := s.repo.Release(ctx, item.ID, decision.RetryAfter); err != nil {
					return nil, err
				}
				metrics.DequeueTotal.WithLabelValues("deferred").Inc()
				s.logger.DebugwCtx(ctx, "Dispatch deferred by rate limiter",
					"queue_item_id", item.ID,
					"tenant_id", tenant,
					"reason", decision.Reason,
					"retry_after", decision.RetryAfter,
				)
				if decision.Reason == "emergency_halt" {
					return nil, nil
				}
				continue
			}

			s.advanceCursor(class, tenant)
			metrics.DequeueTotal.WithLabelValues("claimed").Inc()
			metrics.QueueWaitDuration.WithLabelValues(class.String()).
				Observe(float64(now.Sub(item.EnqueuedAt).Milliseconds()))
			return item, nil
		}
	}

	metrics.DequeueTotal.WithLabelValues("empty").Inc()
	return nil, nil
}

// rotated orders tenants so iteration starts just past the tenant
// served last in this class.
func (s *Service) rotated(class models.PriorityClass, tenants []string) []string {
	s.cursorMu.Lock()
	last := s.cursor[class]
	s.cursorMu.Unlock()

	if last == "" {
		return tenants
	}

	for i, tenant := range tenants {
		if tenant > last {
			rotated := make([]string, 0, len(tenants))
			rotated = append(rotated, tenants[i:]...)
			rotated = append(rotated, tenants[:i]...)
			return rotated
		}
	}
	return tenants
}

func (s *Service) advanceCursor(class models.PriorityClass, tenant string) {
	s.cursorMu.Lock()
	s.cursor[class] = tenant
	s.cursorMu.Unlock()
}

// MarkAttempt records that a dispatch command was actually emitted for
// the item and returns the new attempt count.
func (s *Service) MarkAttempt(ctx context.Context, id string) (int, error) {
	return s.repo.MarkAttempt(ctx, id)
}

// Ack completes a dispatched item. Idempotent.
func (s *Service) Ack(ctx context.Context, id string) error {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.State != models.StateDispatched {
		return nil
	}

	if err := s.repo.Ack(ctx, id); err != nil {
		return err
	}
	s.limiter.ReleaseInFlight(ctx, item.Lead.TenantID)

	s.logger.InfowCtx(ctx, "Queue item completed",
		"queue_item_id", id,
		"tenant_id", item.Lead.TenantID,
		"attempt", item.Attempt,
	)
	return nil
}

// Fail routes a dispatch failure through the error classifier and
// applies its decision: retry with backoff, or dead-letter.
func (s *Service) Fail(ctx context.Context, id string, kind models.ErrorKind) error {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.State != models.StateDispatched {
		return nil
	}

	s.limiter.ReleaseInFlight(ctx, item.Lead.TenantID)

	now := s.now()
	record := models.AttemptRecord{At: now, ErrorKind: kind}
	decision := s.classifier.ClassifyAndSchedule(item, kind)

	if decision.Escalate {
		metrics.EscalationsTotal.WithLabelValues(item.Lead.TenantID).Inc()
		s.logger.ErrorwCtx(ctx, "Repeated system error, escalating",
			"queue_item_id", id,
			"tenant_id", item.Lead.TenantID,
			"attempt", item.Attempt,
		)
	}

	if decision.Retry {
		notBefore := now.Add(decision.Delay)
		if err := s.repo.MarkRetrying(ctx, id, record, notBefore); err != nil {
			return err
		}
		metrics.RetryScheduledTotal.WithLabelValues(string(kind)).Inc()
		s.logger.InfowCtx(ctx, "Retry scheduled",
			"queue_item_id", id,
			"error_kind", kind,
			"attempt", item.Attempt,
			"not_before", notBefore,
		)
		return nil
	}

	if err := s.repo.MarkDead(ctx, id, record); err != nil {
		return err
	}

	deadRecord := models.DeadLetterRecord{
		ID:             s.newID(),
		QueueItemID:    item.ID,
		TenantID:       item.Lead.TenantID,
		LeadID:         item.Lead.ID,
		FinalErrorKind: kind,
		AttemptHistory: append(item.AttemptHistory, record),
		ManualReview:   decision.ManualReview,
		EnteredAt:      now,
	}
	if err := s.deadLetters.Insert(ctx, deadRecord); err != nil {
		return err
	}

	metrics.DeadLetterTotal.WithLabelValues(string(kind)).Inc()
	s.logger.WarnwCtx(ctx, "Queue item dead-lettered",
		"queue_item_id", id,
		"tenant_id", item.Lead.TenantID,
		"error_kind", kind,
		"attempts", item.Attempt,
		"manual_review", decision.ManualReview,
	)
	return nil
}

// Cancel aborts an item that has not been claimed yet.
func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.repo.Cancel(ctx, id)
}

// RequeueDue re-admits retrying items whose backoff elapsed.
func (s *Service) RequeueDue(ctx context.Context) (int64, error) {
	return s.repo.RequeueDue(ctx, s.now())
}

// Depth reports queue depth per tenant and class and refreshes the
// depth gauges.
func (s *Service) Depth(ctx context.Context) ([]DepthEntry, error) {
	entries, err := s.repo.Depth(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		metrics.QueueDepth.WithLabelValues(entry.TenantID, entry.Class.String()).Set(float64(entry.Count))
	}
	return entries, nil
}

func (s *Service) ErrorStats(ctx context.Context) ([]ErrorStat, error) {
	return s.repo.ErrorStats(ctx)
}
