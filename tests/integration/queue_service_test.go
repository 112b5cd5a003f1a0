package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/config"
	"leadflow/internal/constants"
	"leadflow/internal/failure"
	"leadflow/internal/queue"
	"leadflow/internal/ratelimit"
	"leadflow/pkg/models"
)

func newQueueService(infra *TestInfra) *queue.Service {
	limiter := ratelimit.NewLimiter(
		config.RateLimitConfig{},
		ratelimit.NewRedisCounterStore(infra.RedisClient),
		ratelimit.NewRedisControlStore(infra.RedisClient),
		createTestLogger(),
	)
	return queue.NewService(
		queue.NewRepository(infra.PostgresDB),
		limiter,
		failure.NewClassifier(config.FailureConfig{MaxAttempts: 3}),
		failure.NewMemoryDeadLetterStore(),
		createTestLogger(),
	)
}

func TestQueueService_EnqueueDequeueAck(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	svc := newQueueService(infra)

	item, err := svc.Enqueue(ctx, createTestLead("tenant-a", time.Now().UTC()), models.PriorityP1, 0)
	require.NoError(t, err)

	claimed, err := svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, item.ID, claimed.ID)

	attempt, err := svc.MarkAttempt(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)

	require.NoError(t, svc.Ack(ctx, claimed.ID))

	next, err := svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestQueueService_TenantFairnessAcrossInfra(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	svc := newQueueService(infra)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_, err := svc.Enqueue(ctx, createTestLead("tenant-a", now.Add(time.Duration(i)*time.Millisecond)), models.PriorityP1, 0)
		require.NoError(t, err)
	}
	_, err := svc.Enqueue(ctx, createTestLead("tenant-b", now.Add(time.Second)), models.PriorityP1, 0)
	require.NoError(t, err)

	served := map[string]int{}
	for i := 0; i < 4; i++ {
		claimed, err := svc.Dequeue(ctx, "worker-1")
		require.NoError(t, err)
		require.NotNil(t, claimed)
		served[claimed.Lead.TenantID]++
		require.NoError(t, svc.Ack(ctx, claimed.ID))
	}

	assert.Equal(t, 3, served["tenant-a"])
	assert.Equal(t, 1, served["tenant-b"])
}

func TestQueueService_HaltStopsDequeue(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	control := ratelimit.NewRedisControlStore(infra.RedisClient)
	limiter := ratelimit.NewLimiter(config.RateLimitConfig{},
		ratelimit.NewRedisCounterStore(infra.RedisClient), control, createTestLogger())
	svc := queue.NewService(
		queue.NewRepository(infra.PostgresDB),
		limiter,
		failure.NewClassifier(config.FailureConfig{}),
		failure.NewMemoryDeadLetterStore(),
		createTestLogger(),
	)

	_, err := svc.Enqueue(ctx, createTestLead("tenant-a", time.Now().UTC()), models.PriorityP0, 0)
	require.NoError(t, err)

	require.NoError(t, control.SetEmergency(ctx, ratelimit.EmergencyState{
		Mode:      constants.EmergencyModeHalt,
		ExpiresAt: time.Now().Add(time.Minute),
	}, time.Minute))

	claimed, err := svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, claimed)

	require.NoError(t, control.ClearEmergency(ctx))

	claimed, err = svc.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	assert.NotNil(t, claimed)
}
