package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/config"
	"leadflow/internal/constants"
	"leadflow/internal/failure"
	"leadflow/internal/logger"
	"leadflow/internal/queue"
	"leadflow/internal/ratelimit"
	"leadflow/pkg/models"
)

type fakeExecutor struct {
	mu       sync.Mutex
	commands []models.DispatchCommand
	err      error
	block    bool
}

func (f *fakeExecutor) Dispatch(ctx context.Context, cmd models.DispatchCommand) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
	return nil
}

func (f *fakeExecutor) issued() []models.DispatchCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DispatchCommand{}, f.commands...)
}

type poolEnv struct {
	pool    *Pool
	queue   *queue.Service
	repo    *queue.MemoryRepository
	control *ratelimit.MemoryControlStore
	exec    *fakeExecutor
}

func newPoolEnv(t *testing.T, exec *fakeExecutor) *poolEnv {
	t.Helper()

	repo := queue.NewMemoryRepository()
	control := ratelimit.NewMemoryControlStore()
	limiter := ratelimit.NewLimiter(config.RateLimitConfig{}, ratelimit.NewMemoryCounterStore(), control, logger.NopLogger())
	q := queue.NewService(repo, limiter, failure.NewClassifier(config.FailureConfig{MaxAttempts: 3}), failure.NewMemoryDeadLetterStore(), logger.NopLogger())

	pool := NewPool(q, exec, config.DispatchConfig{
		Workers:         2,
		PollInterval:    5 * time.Millisecond,
		DispatchTimeout: 20 * time.Millisecond,
	}, logger.NopLogger())

	return &poolEnv{pool: pool, queue: q, repo: repo, control: control, exec: exec}
}

func enqueueLead(t *testing.T, q *queue.Service, tenant string) *models.QueueItem {
	t.Helper()
	item, err := q.Enqueue(context.Background(), models.LeadEvent{
		ID:           "lead-" + tenant,
		TenantID:     tenant,
		Source:       models.SourceDirectAPI,
		Contact:      models.Contact{Phone: "+15550001111"},
		Urgency:      models.UrgencyHigh,
		ConsentState: models.ConsentVerified,
		ReceivedAt:   time.Now(),
	}, models.PriorityP1, 0)
	require.NoError(t, err)
	return item
}

func TestDispatchOne_EmitsCommand(t *testing.T) {
	exec := &fakeExecutor{}
	e := newPoolEnv(t, exec)
	ctx := context.Background()

	item := enqueueLead(t, e.queue, "tenant-a")

	dispatched, err := e.pool.DispatchOne(ctx, "worker-1")
	require.NoError(t, err)
	assert.True(t, dispatched)

	commands := exec.issued()
	require.Len(t, commands, 1)
	assert.Equal(t, item.ID, commands[0].QueueItemID)
	assert.Equal(t, "tenant-a", commands[0].TenantID)
	assert.Equal(t, 1, commands[0].Attempt)
	assert.Equal(t, models.PriorityP1, commands[0].PriorityClass)

	// item stays dispatched until the executor reports completion
	stored, err := e.repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDispatched, stored.State)
	assert.Equal(t, 1, stored.Attempt)
}

func TestDispatchOne_NoWork(t *testing.T) {
	e := newPoolEnv(t, &fakeExecutor{})

	dispatched, err := e.pool.DispatchOne(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.False(t, dispatched)
}

func TestDispatchOne_ExecutorErrorFailsTransient(t *testing.T) {
	exec := &fakeExecutor{err: context.DeadlineExceeded}
	e := newPoolEnv(t, exec)
	ctx := context.Background()

	item := enqueueLead(t, e.queue, "tenant-a")

	dispatched, err := e.pool.DispatchOne(ctx, "worker-1")
	require.NoError(t, err)
	assert.True(t, dispatched)

	stored, err := e.repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateRetrying, stored.State)
	assert.Equal(t, models.ErrorKindTransient, stored.LastErrorKind)
	assert.Equal(t, 1, stored.Attempt)
	require.Len(t, stored.AttemptHistory, 1)
	assert.Equal(t, models.ErrorKindTransient, stored.AttemptHistory[0].ErrorKind)
}

func TestDispatchOne_TimeoutFailsTransient(t *testing.T) {
	exec := &fakeExecutor{block: true}
	e := newPoolEnv(t, exec)
	ctx := context.Background()

	item := enqueueLead(t, e.queue, "tenant-a")

	dispatched, err := e.pool.DispatchOne(ctx, "worker-1")
	require.NoError(t, err)
	assert.True(t, dispatched)

	stored, err := e.repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateRetrying, stored.State)
	assert.Equal(t, models.ErrorKindTransient, stored.LastErrorKind)
}

func TestDispatchOne_HaltModeFindsNoWork(t *testing.T) {
	exec := &fakeExecutor{}
	e := newPoolEnv(t, exec)
	ctx := context.Background()

	enqueueLead(t, e.queue, "tenant-a")
	require.NoError(t, e.control.SetEmergency(ctx, ratelimit.EmergencyState{
		Mode: constants.EmergencyModeHalt,
	}, time.Minute))

	dispatched, err := e.pool.DispatchOne(ctx, "worker-1")
	require.NoError(t, err)
	assert.False(t, dispatched)
	assert.Empty(t, exec.issued())
}

func TestCompletionHandler_AckCompletes(t *testing.T) {
	exec := &fakeExecutor{}
	e := newPoolEnv(t, exec)
	ctx := context.Background()

	item := enqueueLead(t, e.queue, "tenant-a")
	_, err := e.pool.DispatchOne(ctx, "worker-1")
	require.NoError(t, err)

	handler := NewCompletionHandler(e.queue, logger.NopLogger())
	envelope, err := models.NewCompletionEnvelope(models.CompletionEvent{
		QueueItemID: item.ID,
		TenantID:    "tenant-a",
		Outcome:     models.OutcomeAck,
		ReportedAt:  time.Now(),
	}, "")
	require.NoError(t, err)

	require.NoError(t, handler.Handle(ctx, envelope))

	stored, err := e.repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, stored.State)
}

func TestCompletionHandler_FailSchedulesRetry(t *testing.T) {
	exec := &fakeExecutor{}
	e := newPoolEnv(t, exec)
	ctx := context.Background()

	item := enqueueLead(t, e.queue, "tenant-a")
	_, err := e.pool.DispatchOne(ctx, "worker-1")
	require.NoError(t, err)

	handler := NewCompletionHandler(e.queue, logger.NopLogger())
	envelope, err := models.NewCompletionEnvelope(models.CompletionEvent{
		QueueItemID: item.ID,
		TenantID:    "tenant-a",
		Outcome:     models.OutcomeFail,
		ErrorKind:   models.ErrorKindExternalService,
		ReportedAt:  time.Now(),
	}, "")
	require.NoError(t, err)

	require.NoError(t, handler.Handle(ctx, envelope))

	stored, err := e.repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateRetrying, stored.State)
	assert.Equal(t, models.ErrorKindExternalService, stored.LastErrorKind)
}

func TestCompletionHandler_UndecodableDropped(t *testing.T) {
	e := newPoolEnv(t, &fakeExecutor{})
	handler := NewCompletionHandler(e.queue, logger.NopLogger())

	err := handler.Handle(context.Background(), models.MessageEnvelope{
		ID:      "bogus",
		Type:    "unknown.type",
		Payload: []byte(`{}`),
	})
	assert.NoError(t, err)
}

func TestPool_RunDrainsBacklog(t *testing.T) {
	exec := &fakeExecutor{}
	e := newPoolEnv(t, exec)

	for i := 0; i < 5; i++ {
		enqueueLead(t, e.queue, "tenant-a")
		enqueueLead(t, e.queue, "tenant-b")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := e.pool.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, exec.issued(), 10)
}
