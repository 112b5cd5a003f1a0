package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/config"
	"leadflow/internal/constants"
	"leadflow/internal/failure"
	"leadflow/internal/logger"
	"leadflow/internal/ratelimit"
	"leadflow/pkg/errors"
	"leadflow/pkg/models"
)

type testEnv struct {
	svc     *Service
	repo    *MemoryRepository
	control *ratelimit.MemoryControlStore
	dlq     *failure.MemoryDeadLetterStore
	clock   *time.Time
}

func newTestEnv(t *testing.T, rl config.RateLimitConfig, fc config.FailureConfig) *testEnv {
	t.Helper()

	repo := NewMemoryRepository()
	counters := ratelimit.NewMemoryCounterStore()
	control := ratelimit.NewMemoryControlStore()
	limiter := ratelimit.NewLimiter(rl, counters, control, logger.NopLogger())
	dlq := failure.NewMemoryDeadLetterStore()
	if fc.MaxAttempts == 0 {
		fc.MaxAttempts = 3
	}

	svc := NewService(repo, limiter, failure.NewClassifier(fc), dlq, logger.NopLogger())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	tick := func() time.Time { return *clock }
	svc.now = tick
	limiter.SetClock(tick)
	counters.SetClock(tick)
	control.SetClock(tick)

	return &testEnv{svc: svc, repo: repo, control: control, dlq: dlq, clock: clock}
}

func (e *testEnv) advance(d time.Duration) {
	*e.clock = e.clock.Add(d)
}

func (e *testEnv) lead(tenant string, urgency models.Urgency) models.LeadEvent {
	return models.LeadEvent{
		ID:           fmt.Sprintf("lead-%s-%d", tenant, e.clock.UnixNano()),
		TenantID:     tenant,
		Source:       models.SourceDirectAPI,
		Contact:      models.Contact{Phone: "+15550001111"},
		Urgency:      urgency,
		ConsentState: models.ConsentVerified,
		ReceivedAt:   *e.clock,
	}
}

func (e *testEnv) enqueue(t *testing.T, tenant string, class models.PriorityClass, delay time.Duration) *models.QueueItem {
	t.Helper()
	item, err := e.svc.Enqueue(context.Background(), e.lead(tenant, models.UrgencyHigh), class, delay)
	require.NoError(t, err)
	return item
}

func TestEnqueueDequeue_Roundtrip(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{}, config.FailureConfig{})
	ctx := context.Background()

	item := e.enqueue(t, "tenant-a", models.PriorityP1, 0)

	claimed, err := e.svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, item.ID, claimed.ID)
	assert.Equal(t, models.StateDispatched, claimed.State)
	assert.Equal(t, "worker-1", claimed.ClaimedBy)
}

func TestDequeue_AtMostOneClaimUnderConcurrency(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{}, config.FailureConfig{})
	ctx := context.Background()

	const items = 20
	for i := 0; i < items; i++ {
		e.advance(time.Millisecond)
		e.enqueue(t, "tenant-a", models.PriorityP1, 0)
	}

	var mu sync.Mutex
	claims := make(map[string]string)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				item, err := e.svc.Dequeue(ctx, fmt.Sprintf("worker-%d", worker))
				require.NoError(t, err)
				if item == nil {
					return
				}
				mu.Lock()
				_, dup := claims[item.ID]
				claims[item.ID] = item.ClaimedBy
				mu.Unlock()
				assert.False(t, dup, "item %s claimed twice", item.ID)
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, claims, items)
}

func TestDequeue_PriorityOrdering(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{}, config.FailureConfig{})
	ctx := context.Background()

	low := e.enqueue(t, "tenant-a", models.PriorityP2, 0)
	e.advance(time.Millisecond)
	high := e.enqueue(t, "tenant-a", models.PriorityP0, 0)

	first, err := e.svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, high.ID, first.ID)

	second, err := e.svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, low.ID, second.ID)
}

func TestDequeue_FIFOWithinLane(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{}, config.FailureConfig{})
	ctx := context.Background()

	var order []string
	for i := 0; i < 5; i++ {
		e.advance(time.Second)
		order = append(order, e.enqueue(t, "tenant-a", models.PriorityP1, 0).ID)
	}

	for _, want := range order {
		item, err := e.svc.Dequeue(ctx, "worker-1")
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, want, item.ID)
		require.NoError(t, ackDispatched(e, item.ID))
	}
}

func ackDispatched(e *testEnv, id string) error {
	if _, err := e.svc.MarkAttempt(context.Background(), id); err != nil {
		return err
	}
	return e.svc.Ack(context.Background(), id)
}

func TestDequeue_TenantFairnessWithinClass(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{}, config.FailureConfig{})
	ctx := context.Background()

	// tenant-a has a deep backlog, tenant-b a single item
	for i := 0; i < 10; i++ {
		e.advance(time.Millisecond)
		e.enqueue(t, "tenant-a", models.PriorityP1, 0)
	}
	e.advance(time.Millisecond)
	e.enqueue(t, "tenant-b", models.PriorityP1, 0)

	servedB := false
	for i := 0; i < 3; i++ {
		item, err := e.svc.Dequeue(ctx, "worker-1")
		require.NoError(t, err)
		require.NotNil(t, item)
		if item.Lead.TenantID == "tenant-b" {
			servedB = true
			break
		}
	}

	assert.True(t, servedB, "tenant-b starved behind tenant-a's backlog")
}

func TestDequeue_NotBeforeEligibility(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{}, config.FailureConfig{})
	ctx := context.Background()

	e.enqueue(t, "tenant-a", models.PriorityP1, 30*time.Second)

	item, err := e.svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, item)

	e.advance(31 * time.Second)
	item, err = e.svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, item)
}

func TestEnqueue_RejectedAtCeiling(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{
		Defaults: config.TenantLimits{PerMinute: 2},
	}, config.FailureConfig{})
	ctx := context.Background()

	e.enqueue(t, "tenant-a", models.PriorityP1, 0)
	e.enqueue(t, "tenant-a", models.PriorityP1, 0)

	_, err := e.svc.Enqueue(ctx, e.lead("tenant-a", models.UrgencyHigh), models.PriorityP1, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRateLimited))

	entries, err := e.svc.Depth(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].Count)
}

func TestDequeue_InFlightDeferKeepsItemQueued(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{
		Defaults: config.TenantLimits{MaxInFlight: 1},
	}, config.FailureConfig{})
	ctx := context.Background()

	first := e.enqueue(t, "tenant-a", models.PriorityP1, 0)
	e.advance(time.Millisecond)
	e.enqueue(t, "tenant-a", models.PriorityP1, 0)

	claimed, err := e.svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)

	// second dequeue defers: the item goes back to queued with a
	// pushed notBefore and no attempt increment
	item, err := e.svc.Dequeue(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, item)

	stored, err := e.repo.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDispatched, stored.State)

	others, err := e.svc.Depth(ctx)
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, int64(1), others[0].Count)

	// after completion the deferred item becomes dispatchable again
	require.NoError(t, ackDispatched(e, claimed.ID))
	e.advance(10 * time.Second)
	item, err = e.svc.Dequeue(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, 0, item.Attempt)
}

func TestAck_Idempotent(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{}, config.FailureConfig{})
	ctx := context.Background()

	e.enqueue(t, "tenant-a", models.PriorityP1, 0)
	item, err := e.svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, item)

	_, err = e.svc.MarkAttempt(ctx, item.ID)
	require.NoError(t, err)
	require.NoError(t, e.svc.Ack(ctx, item.ID))
	require.NoError(t, e.svc.Ack(ctx, item.ID))

	stored, err := e.repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, stored.State)
	assert.Equal(t, 1, stored.Attempt)
}

func TestFail_TransientThreeTimesDeadLetters(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{}, config.FailureConfig{MaxAttempts: 3})
	ctx := context.Background()

	item := e.enqueue(t, "tenant-a", models.PriorityP1, 0)

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := e.svc.Dequeue(ctx, "worker-1")
		require.NoError(t, err)
		require.NotNil(t, claimed, "attempt %d", attempt)

		n, err := e.svc.MarkAttempt(ctx, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, n)

		require.NoError(t, e.svc.Fail(ctx, claimed.ID, models.ErrorKindTransient))

		stored, err := e.repo.Get(ctx, claimed.ID)
		require.NoError(t, err)
		if attempt < 3 {
			assert.Equal(t, models.StateRetrying, stored.State)
			assert.True(t, stored.NotBefore.After(*e.clock))

			e.advance(10 * time.Minute)
			moved, err := e.svc.RequeueDue(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), moved)
		} else {
			assert.Equal(t, models.StateDead, stored.State)
			assert.Len(t, stored.AttemptHistory, 3)
		}
	}

	records, err := e.dlq.List(ctx, "tenant-a", 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, item.ID, records[0].QueueItemID)
	assert.Equal(t, models.ErrorKindTransient, records[0].FinalErrorKind)
	assert.Len(t, records[0].AttemptHistory, 3)
	assert.False(t, records[0].ManualReview)
}

func TestFail_BackoffMonotonic(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{}, config.FailureConfig{MaxAttempts: 5})
	ctx := context.Background()

	e.enqueue(t, "tenant-a", models.PriorityP1, 0)

	var prevDelay time.Duration
	for attempt := 1; attempt <= 4; attempt++ {
		claimed, err := e.svc.Dequeue(ctx, "worker-1")
		require.NoError(t, err)
		require.NotNil(t, claimed)

		_, err = e.svc.MarkAttempt(ctx, claimed.ID)
		require.NoError(t, err)
		require.NoError(t, e.svc.Fail(ctx, claimed.ID, models.ErrorKindTransient))

		stored, err := e.repo.Get(ctx, claimed.ID)
		require.NoError(t, err)
		delay := stored.NotBefore.Sub(*e.clock)
		assert.GreaterOrEqual(t, delay+time.Second, prevDelay)
		prevDelay = delay

		e.advance(delay + time.Second)
		_, err = e.svc.RequeueDue(ctx)
		require.NoError(t, err)
	}
}

func TestFail_ValidationDeadImmediatelyWithHistory(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{}, config.FailureConfig{})
	ctx := context.Background()

	e.enqueue(t, "tenant-a", models.PriorityP1, 0)
	claimed, err := e.svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	_, err = e.svc.MarkAttempt(ctx, claimed.ID)
	require.NoError(t, err)
	require.NoError(t, e.svc.Fail(ctx, claimed.ID, models.ErrorKindValidation))

	stored, err := e.repo.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDead, stored.State)
	assert.Len(t, stored.AttemptHistory, 1)

	count, err := e.dlq.Count(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestFail_ConsentFlagsManualReview(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{}, config.FailureConfig{})
	ctx := context.Background()

	e.enqueue(t, "tenant-a", models.PriorityP1, 0)
	claimed, err := e.svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	_, err = e.svc.MarkAttempt(ctx, claimed.ID)
	require.NoError(t, err)
	require.NoError(t, e.svc.Fail(ctx, claimed.ID, models.ErrorKindConsent))

	records, err := e.dlq.List(ctx, "tenant-a", 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].ManualReview)
}

func TestCancel_OnlyWhileQueued(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{}, config.FailureConfig{})
	ctx := context.Background()

	item := e.enqueue(t, "tenant-a", models.PriorityP1, 0)
	require.NoError(t, e.svc.Cancel(ctx, item.ID))

	stored, err := e.repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, stored.State)

	// a claimed item cannot be cancelled
	e.advance(time.Millisecond)
	second := e.enqueue(t, "tenant-a", models.PriorityP1, 0)
	claimed, err := e.svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, second.ID, claimed.ID)

	err = e.svc.Cancel(ctx, second.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestDequeue_EmergencyHaltReturnsEmpty(t *testing.T) {
	e := newTestEnv(t, config.RateLimitConfig{}, config.FailureConfig{})
	ctx := context.Background()

	e.enqueue(t, "tenant-a", models.PriorityP0, 0)

	require.NoError(t, e.control.SetEmergency(ctx, ratelimit.EmergencyState{
		Mode:   constants.EmergencyModeHalt,
		Reason: "incident",
	}, time.Hour))

	item, err := e.svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, item)

	require.NoError(t, e.control.ClearEmergency(ctx))
	item, err = e.svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	assert.NotNil(t, item)
}
