package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/config"
	"leadflow/internal/constants"
	"leadflow/internal/ratelimit"
)

func TestRedisCounterStore_IncrAndExpiry(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)
	ctx := context.Background()

	store := ratelimit.NewRedisCounterStore(infra.RedisClient)
	expireAt := time.Now().Add(500 * time.Millisecond)

	n, err := store.Incr(ctx, "rl:test:minute:1", 1, expireAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Incr(ctx, "rl:test:minute:1", 1, expireAt)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.Get(ctx, "rl:test:minute:1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	time.Sleep(700 * time.Millisecond)

	n, err = store.Get(ctx, "rl:test:minute:1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisCounterStore_Float(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)
	ctx := context.Background()

	store := ratelimit.NewRedisCounterStore(infra.RedisClient)
	expireAt := time.Now().Add(time.Minute)

	total, err := store.IncrFloat(ctx, "rl:budget:tenant-a:1", 2.5, expireAt)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, total, 0.001)

	total, err = store.IncrFloat(ctx, "rl:budget:tenant-a:1", 1.25, expireAt)
	require.NoError(t, err)
	assert.InDelta(t, 3.75, total, 0.001)

	total, err = store.GetFloat(ctx, "rl:budget:tenant-a:1")
	require.NoError(t, err)
	assert.InDelta(t, 3.75, total, 0.001)

	missing, err := store.GetFloat(ctx, "rl:budget:tenant-a:missing")
	require.NoError(t, err)
	assert.Zero(t, missing)
}

func TestRedisCounterStore_NegativeDeltaReleases(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)
	ctx := context.Background()

	store := ratelimit.NewRedisCounterStore(infra.RedisClient)

	_, err := store.Incr(ctx, "rl:inflight:tenant:tenant-a", 1, time.Time{})
	require.NoError(t, err)
	_, err = store.Incr(ctx, "rl:inflight:tenant:tenant-a", 1, time.Time{})
	require.NoError(t, err)

	n, err := store.Incr(ctx, "rl:inflight:tenant:tenant-a", -1, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisControlStore_EmergencyLifecycle(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)
	ctx := context.Background()

	store := ratelimit.NewRedisControlStore(infra.RedisClient)

	state, err := store.GetEmergency(ctx)
	require.NoError(t, err)
	assert.False(t, state.Active())

	set := ratelimit.EmergencyState{
		Mode:      constants.EmergencyModeHalt,
		Reason:    "provider outage",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, store.SetEmergency(ctx, set, time.Minute))

	state, err = store.GetEmergency(ctx)
	require.NoError(t, err)
	assert.Equal(t, constants.EmergencyModeHalt, state.Mode)
	assert.Equal(t, "provider outage", state.Reason)

	require.NoError(t, store.ClearEmergency(ctx))

	state, err = store.GetEmergency(ctx)
	require.NoError(t, err)
	assert.False(t, state.Active())
}

func TestRedisControlStore_EmergencyTTLExpires(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)
	ctx := context.Background()

	store := ratelimit.NewRedisControlStore(infra.RedisClient)

	require.NoError(t, store.SetEmergency(ctx, ratelimit.EmergencyState{
		Mode:      constants.EmergencyModeDrain,
		ExpiresAt: time.Now().Add(500 * time.Millisecond),
	}, 500*time.Millisecond))

	time.Sleep(700 * time.Millisecond)

	state, err := store.GetEmergency(ctx)
	require.NoError(t, err)
	assert.False(t, state.Active())
}

func TestRedisControlStore_PauseFlags(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)
	ctx := context.Background()

	store := ratelimit.NewRedisControlStore(infra.RedisClient)

	paused, err := store.IsPaused(ctx, "tenant-a")
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, store.SetPaused(ctx, "tenant-a", true))
	paused, err = store.IsPaused(ctx, "tenant-a")
	require.NoError(t, err)
	assert.True(t, paused)

	// global flag is independent of tenant flags
	paused, err = store.IsPaused(ctx, "")
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, store.SetPaused(ctx, "", true))
	paused, err = store.IsPaused(ctx, "")
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, store.SetPaused(ctx, "tenant-a", false))
	require.NoError(t, store.SetPaused(ctx, "", false))

	paused, err = store.IsPaused(ctx, "tenant-a")
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestLimiter_AgainstRedis(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)
	ctx := context.Background()

	limiter := ratelimit.NewLimiter(config.RateLimitConfig{
		Defaults: config.TenantLimits{PerMinute: 2},
	}, ratelimit.NewRedisCounterStore(infra.RedisClient), ratelimit.NewRedisControlStore(infra.RedisClient), createTestLogger())

	for i := 0; i < 2; i++ {
		decision := limiter.CheckEnqueue(ctx, "tenant-a")
		require.Equal(t, ratelimit.OutcomeAdmit, decision.Outcome)
	}

	decision := limiter.CheckEnqueue(ctx, "tenant-a")
	assert.Equal(t, ratelimit.OutcomeReject, decision.Outcome)
	assert.Equal(t, "minute_ceiling_exceeded", decision.Reason)

	// other tenants are unaffected
	decision = limiter.CheckEnqueue(ctx, "tenant-b")
	assert.Equal(t, ratelimit.OutcomeAdmit, decision.Outcome)
}
