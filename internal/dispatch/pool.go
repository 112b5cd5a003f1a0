package dispatch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"leadflow/internal/config"
	"leadflow/internal/logger"
	"leadflow/internal/queue"
	"leadflow/pkg/logging"
	"leadflow/pkg/models"
)

// Pool is the fixed-size worker pool pulling from the queue. Pool size
// is the primary concurrency control and is matched to downstream
// executor capacity.
type Pool struct {
	queue    *queue.Service
	executor Executor
	cfg      config.DispatchConfig
	logger   logger.Logger
	now      func() time.Time
}

func NewPool(q *queue.Service, executor Executor, cfg config.DispatchConfig, log logger.Logger) *Pool {
	return &Pool{
		queue:    q,
		executor: executor,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
}

// Run starts the workers and the retry sweeper and blocks until the
// context is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			return p.workerLoop(ctx, workerID)
		})
	}

	g.Go(func() error {
		return p.sweeperLoop(ctx)
	})

	p.logger.Infow("Dispatch pool started",
		"workers", p.cfg.Workers,
		"poll_interval", p.cfg.PollInterval,
	)
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, workerID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dispatched, err := p.DispatchOne(ctx, workerID)
		if err != nil {
			p.logger.ErrorwCtx(ctx, "Worker dispatch cycle failed",
				"worker_id", workerID,
				"error", err,
			)
		}
		if !dispatched {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.PollInterval):
			}
		}
	}
}

// DispatchOne performs one dequeue-and-dispatch cycle. Returns false
// when no eligible work was found. A dispatch that errors or times out
// is failed as Transient; the item is never left claimed.
func (p *Pool) DispatchOne(ctx context.Context, workerID string) (bool, error) {
	item, err := p.queue.Dequeue(ctx, workerID)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}

	ctx = logging.WithLeadID(ctx, item.Lead.ID)
	ctx = logging.WithTenantID(ctx, item.Lead.TenantID)

	attempt, err := p.queue.MarkAttempt(ctx, item.ID)
	if err != nil {
		return false, err
	}

	cmd := models.DispatchCommand{
		QueueItemID:   item.ID,
		TenantID:      item.Lead.TenantID,
		LeadID:        item.Lead.ID,
		Contact:       item.Lead.Contact,
		PriorityClass: item.PriorityClass,
		Attempt:       attempt,
		IssuedAt:      p.now(),
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, p.cfg.DispatchTimeout)
	defer cancel()

	if err := p.executor.Dispatch(dispatchCtx, cmd); err != nil {
		p.logger.WarnwCtx(ctx, "Dispatch emission failed",
			"queue_item_id", item.ID,
			"attempt", attempt,
			"error", err,
		)
		if failErr := p.queue.Fail(ctx, item.ID, models.ErrorKindTransient); failErr != nil {
			return true, failErr
		}
		return true, nil
	}

	p.logger.InfowCtx(ctx, "Dispatch command emitted",
		"queue_item_id", item.ID,
		"priority_class", item.PriorityClass.String(),
		"attempt", attempt,
	)
	return true, nil
}

// sweeperLoop re-admits retrying items whose backoff elapsed and
// refreshes the queue depth gauges.
func (p *Pool) sweeperLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			moved, err := p.queue.RequeueDue(ctx)
			if err != nil {
				p.logger.ErrorwCtx(ctx, "Retry sweep failed",
					"error", err,
				)
				continue
			}
			if moved > 0 {
				p.logger.DebugwCtx(ctx, "Re-admitted retrying items",
					"count", moved,
				)
			}
			if _, err := p.queue.Depth(ctx); err != nil {
				p.logger.ErrorwCtx(ctx, "Queue depth refresh failed",
					"error", err,
				)
			}
		}
	}
}
