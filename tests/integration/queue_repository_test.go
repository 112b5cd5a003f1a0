package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/queue"
	"leadflow/pkg/errors"
	"leadflow/pkg/models"
)

func TestQueueRepository_InsertAndGet(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	repo := queue.NewRepository(infra.PostgresDB)
	item := createTestItem("tenant-a", models.PriorityP1, time.Now().UTC())

	require.NoError(t, repo.Insert(ctx, item))

	stored, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, stored.ID)
	assert.Equal(t, item.Lead.ID, stored.Lead.ID)
	assert.Equal(t, models.PriorityP1, stored.PriorityClass)
	assert.Equal(t, models.StateQueued, stored.State)
	assert.Empty(t, stored.AttemptHistory)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestQueueRepository_ClaimOne_OldestFirst(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	repo := queue.NewRepository(infra.PostgresDB)
	base := time.Now().UTC()

	older := createTestItem("tenant-a", models.PriorityP1, base.Add(-2*time.Minute))
	newer := createTestItem("tenant-a", models.PriorityP1, base.Add(-time.Minute))
	require.NoError(t, repo.Insert(ctx, newer))
	require.NoError(t, repo.Insert(ctx, older))

	claimed, err := repo.ClaimOne(ctx, "worker-1", "tenant-a", models.PriorityP1, base)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, older.ID, claimed.ID)
	assert.Equal(t, models.StateDispatched, claimed.State)
	assert.Equal(t, "worker-1", claimed.ClaimedBy)
}

func TestQueueRepository_ClaimOne_SkipsNotYetEligible(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	repo := queue.NewRepository(infra.PostgresDB)
	now := time.Now().UTC()

	item := createTestItem("tenant-a", models.PriorityP2, now)
	item.NotBefore = now.Add(time.Hour)
	require.NoError(t, repo.Insert(ctx, item))

	claimed, err := repo.ClaimOne(ctx, "worker-1", "tenant-a", models.PriorityP2, now)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	claimed, err = repo.ClaimOne(ctx, "worker-1", "tenant-a", models.PriorityP2, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, item.ID, claimed.ID)
}

func TestQueueRepository_ClaimOne_SingleWinnerUnderConcurrency(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	repo := queue.NewRepository(infra.PostgresDB)
	now := time.Now().UTC()
	item := createTestItem("tenant-a", models.PriorityP0, now)
	require.NoError(t, repo.Insert(ctx, item))

	const workers = 8
	var wg sync.WaitGroup
	claims := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := repo.ClaimOne(ctx, "worker", "tenant-a", models.PriorityP0, now)
			if err == nil && claimed != nil {
				claims <- claimed.ID
			}
		}()
	}
	wg.Wait()
	close(claims)

	var winners []string
	for id := range claims {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1)
	assert.Equal(t, item.ID, winners[0])
}

func TestQueueRepository_AttemptAndAck(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	repo := queue.NewRepository(infra.PostgresDB)
	now := time.Now().UTC()
	item := createTestItem("tenant-a", models.PriorityP1, now)
	require.NoError(t, repo.Insert(ctx, item))

	// attempts only count for dispatched items
	_, err := repo.MarkAttempt(ctx, item.ID)
	assert.Error(t, err)

	_, err = repo.ClaimOne(ctx, "worker-1", "tenant-a", models.PriorityP1, now)
	require.NoError(t, err)

	attempt, err := repo.MarkAttempt(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)

	require.NoError(t, repo.Ack(ctx, item.ID))
	stored, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, stored.State)
	assert.Empty(t, stored.ClaimedBy)

	// acking again is a no-op
	require.NoError(t, repo.Ack(ctx, item.ID))
}

func TestQueueRepository_RetryCycle(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	repo := queue.NewRepository(infra.PostgresDB)
	now := time.Now().UTC()
	item := createTestItem("tenant-a", models.PriorityP1, now)
	require.NoError(t, repo.Insert(ctx, item))

	_, err := repo.ClaimOne(ctx, "worker-1", "tenant-a", models.PriorityP1, now)
	require.NoError(t, err)
	_, err = repo.MarkAttempt(ctx, item.ID)
	require.NoError(t, err)

	notBefore := now.Add(30 * time.Second)
	record := models.AttemptRecord{At: now, ErrorKind: models.ErrorKindTransient}
	require.NoError(t, repo.MarkRetrying(ctx, item.ID, record, notBefore))

	stored, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateRetrying, stored.State)
	assert.Equal(t, models.ErrorKindTransient, stored.LastErrorKind)
	require.Len(t, stored.AttemptHistory, 1)
	assert.Equal(t, models.ErrorKindTransient, stored.AttemptHistory[0].ErrorKind)

	// not yet eligible
	moved, err := repo.RequeueDue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, moved)

	moved, err = repo.RequeueDue(ctx, notBefore.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	stored, err = repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateQueued, stored.State)
}

func TestQueueRepository_MarkDead_AppendsHistory(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	repo := queue.NewRepository(infra.PostgresDB)
	now := time.Now().UTC()
	item := createTestItem("tenant-a", models.PriorityP1, now)
	require.NoError(t, repo.Insert(ctx, item))

	_, err := repo.ClaimOne(ctx, "worker-1", "tenant-a", models.PriorityP1, now)
	require.NoError(t, err)
	require.NoError(t, repo.MarkRetrying(ctx, item.ID, models.AttemptRecord{At: now, ErrorKind: models.ErrorKindTransient}, now))

	moved, err := repo.RequeueDue(ctx, now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(1), moved)

	_, err = repo.ClaimOne(ctx, "worker-1", "tenant-a", models.PriorityP1, now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.MarkDead(ctx, item.ID, models.AttemptRecord{At: now.Add(time.Minute), ErrorKind: models.ErrorKindValidation}))

	stored, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDead, stored.State)
	assert.Equal(t, models.ErrorKindValidation, stored.LastErrorKind)
	require.Len(t, stored.AttemptHistory, 2)
}

func TestQueueRepository_ReleaseAndCancel(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	repo := queue.NewRepository(infra.PostgresDB)
	now := time.Now().UTC()

	item := createTestItem("tenant-a", models.PriorityP1, now)
	require.NoError(t, repo.Insert(ctx, item))
	_, err := repo.ClaimOne(ctx, "worker-1", "tenant-a", models.PriorityP1, now)
	require.NoError(t, err)

	// release puts it back without touching the attempt counter
	require.NoError(t, repo.Release(ctx, item.ID, now.Add(5*time.Second)))
	stored, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateQueued, stored.State)
	assert.Zero(t, stored.Attempt)

	require.NoError(t, repo.Cancel(ctx, item.ID))
	stored, err = repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, stored.State)

	// cancelled items cannot be cancelled again
	err = repo.Cancel(ctx, item.ID)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestQueueRepository_DepthAndErrorStats(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	repo := queue.NewRepository(infra.PostgresDB)
	now := time.Now().UTC()

	require.NoError(t, repo.Insert(ctx, createTestItem("tenant-a", models.PriorityP0, now)))
	require.NoError(t, repo.Insert(ctx, createTestItem("tenant-a", models.PriorityP0, now)))
	require.NoError(t, repo.Insert(ctx, createTestItem("tenant-b", models.PriorityP2, now)))

	failing := createTestItem("tenant-b", models.PriorityP1, now)
	require.NoError(t, repo.Insert(ctx, failing))
	_, err := repo.ClaimOne(ctx, "worker-1", "tenant-b", models.PriorityP1, now)
	require.NoError(t, err)
	require.NoError(t, repo.MarkRetrying(ctx, failing.ID, models.AttemptRecord{At: now, ErrorKind: models.ErrorKindExternalService}, now.Add(time.Minute)))

	entries, err := repo.Depth(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	counts := map[string]int64{}
	for _, entry := range entries {
		counts[entry.TenantID+"/"+entry.Class.String()] = entry.Count
	}
	assert.Equal(t, int64(2), counts["tenant-a/P0"])
	assert.Equal(t, int64(1), counts["tenant-b/P1"])
	assert.Equal(t, int64(1), counts["tenant-b/P2"])

	stats, err := repo.ErrorStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "tenant-b", stats[0].TenantID)
	assert.Equal(t, models.ErrorKindExternalService, stats[0].ErrorKind)
	assert.Equal(t, int64(1), stats[0].Count)
}

func TestQueueRepository_ActiveTenants(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	repo := queue.NewRepository(infra.PostgresDB)
	now := time.Now().UTC()

	require.NoError(t, repo.Insert(ctx, createTestItem("tenant-b", models.PriorityP1, now)))
	require.NoError(t, repo.Insert(ctx, createTestItem("tenant-a", models.PriorityP1, now)))

	delayed := createTestItem("tenant-c", models.PriorityP1, now)
	delayed.NotBefore = now.Add(time.Hour)
	require.NoError(t, repo.Insert(ctx, delayed))

	tenants, err := repo.ActiveTenants(ctx, models.PriorityP1, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, tenants)
}
