package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/config"
	"leadflow/internal/constants"
	"leadflow/internal/logger"
)

func testLimiter(cfg config.RateLimitConfig) (*Limiter, *MemoryCounterStore, *MemoryControlStore) {
	counters := NewMemoryCounterStore()
	control := NewMemoryControlStore()
	l := NewLimiter(cfg, counters, control, logger.NopLogger())
	return l, counters, control
}

func TestCheckEnqueue_PerMinuteCeiling(t *testing.T) {
	l, _, _ := testLimiter(config.RateLimitConfig{
		Defaults: config.TenantLimits{PerMinute: 2},
	})
	ctx := context.Background()

	assert.Equal(t, OutcomeAdmit, l.CheckEnqueue(ctx, "tenant-a").Outcome)
	assert.Equal(t, OutcomeAdmit, l.CheckEnqueue(ctx, "tenant-a").Outcome)

	d := l.CheckEnqueue(ctx, "tenant-a")
	assert.Equal(t, OutcomeReject, d.Outcome)
	assert.Equal(t, "minute_ceiling_exceeded", d.Reason)

	// another tenant is unaffected
	assert.Equal(t, OutcomeAdmit, l.CheckEnqueue(ctx, "tenant-b").Outcome)
}

func TestCheckEnqueue_CeilingHoldsUnderConcurrency(t *testing.T) {
	const limit = 50
	l, _, _ := testLimiter(config.RateLimitConfig{
		Defaults: config.TenantLimits{PerMinute: limit},
	})
	ctx := context.Background()

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.CheckEnqueue(ctx, "tenant-a").Outcome == OutcomeAdmit {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), admitted)
}

func TestCheckEnqueue_WindowResetsAtBoundary(t *testing.T) {
	l, counters, _ := testLimiter(config.RateLimitConfig{
		Defaults: config.TenantLimits{PerMinute: 1},
	})
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }
	l.now = clock
	counters.SetClock(clock)

	assert.Equal(t, OutcomeAdmit, l.CheckEnqueue(ctx, "tenant-a").Outcome)
	assert.Equal(t, OutcomeReject, l.CheckEnqueue(ctx, "tenant-a").Outcome)

	// cross the wall-clock minute boundary
	current = base.Add(31 * time.Second)
	assert.Equal(t, OutcomeAdmit, l.CheckEnqueue(ctx, "tenant-a").Outcome)
}

func TestCheckEnqueue_HourCeilingSpansMinutes(t *testing.T) {
	l, counters, _ := testLimiter(config.RateLimitConfig{
		Defaults: config.TenantLimits{PerMinute: 10, PerHour: 3},
	})
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }
	l.now = clock
	counters.SetClock(clock)

	for i := 0; i < 3; i++ {
		assert.Equal(t, OutcomeAdmit, l.CheckEnqueue(ctx, "tenant-a").Outcome)
		current = current.Add(2 * time.Minute)
	}

	d := l.CheckEnqueue(ctx, "tenant-a")
	assert.Equal(t, OutcomeReject, d.Outcome)
	assert.Equal(t, "hour_ceiling_exceeded", d.Reason)
}

func TestCheckEnqueue_RejectionDoesNotConsumeQuota(t *testing.T) {
	l, _, _ := testLimiter(config.RateLimitConfig{
		Defaults: config.TenantLimits{PerMinute: 1, PerHour: 10},
	})
	ctx := context.Background()

	assert.Equal(t, OutcomeAdmit, l.CheckEnqueue(ctx, "tenant-a").Outcome)
	for i := 0; i < 5; i++ {
		assert.Equal(t, OutcomeReject, l.CheckEnqueue(ctx, "tenant-a").Outcome)
	}

	occ, err := l.Occupancy(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), occ.Minute.Used)
	assert.Equal(t, int64(1), occ.Hour.Used)
}

func TestCheckIP_CapIndependentOfTenant(t *testing.T) {
	l, _, _ := testLimiter(config.RateLimitConfig{})
	ctx := context.Background()

	assert.Equal(t, OutcomeAdmit, l.CheckIP(ctx, "10.0.0.1", 2).Outcome)
	assert.Equal(t, OutcomeAdmit, l.CheckIP(ctx, "10.0.0.1", 2).Outcome)
	assert.Equal(t, OutcomeReject, l.CheckIP(ctx, "10.0.0.1", 2).Outcome)
	assert.Equal(t, OutcomeAdmit, l.CheckIP(ctx, "10.0.0.2", 2).Outcome)
}

func TestCheckDispatch_InFlightCeiling(t *testing.T) {
	l, _, _ := testLimiter(config.RateLimitConfig{
		Defaults: config.TenantLimits{MaxInFlight: 1},
	})
	ctx := context.Background()

	assert.Equal(t, OutcomeAdmit, l.CheckDispatch(ctx, "tenant-a").Outcome)

	d := l.CheckDispatch(ctx, "tenant-a")
	assert.Equal(t, OutcomeDefer, d.Outcome)
	assert.Equal(t, "in_flight_ceiling", d.Reason)
	assert.False(t, d.RetryAfter.IsZero())

	l.ReleaseInFlight(ctx, "tenant-a")
	assert.Equal(t, OutcomeAdmit, l.CheckDispatch(ctx, "tenant-a").Outcome)
}

func TestCheckDispatch_BudgetExhaustionDefers(t *testing.T) {
	l, _, _ := testLimiter(config.RateLimitConfig{
		Defaults: config.TenantLimits{BudgetPerDay: 1.0, DispatchCost: 0.4},
	})
	ctx := context.Background()

	assert.Equal(t, OutcomeAdmit, l.CheckDispatch(ctx, "tenant-a").Outcome)
	assert.Equal(t, OutcomeAdmit, l.CheckDispatch(ctx, "tenant-a").Outcome)

	d := l.CheckDispatch(ctx, "tenant-a")
	assert.Equal(t, OutcomeDefer, d.Outcome)
	assert.Equal(t, "budget_exhausted", d.Reason)
}

func TestCheckDispatch_TenantPauseDefers(t *testing.T) {
	l, _, control := testLimiter(config.RateLimitConfig{})
	ctx := context.Background()

	require.NoError(t, control.SetPaused(ctx, "tenant-a", true))

	d := l.CheckDispatch(ctx, "tenant-a")
	assert.Equal(t, OutcomeDefer, d.Outcome)
	assert.Equal(t, "paused", d.Reason)

	assert.Equal(t, OutcomeAdmit, l.CheckDispatch(ctx, "tenant-b").Outcome)

	require.NoError(t, control.SetPaused(ctx, "tenant-a", false))
	assert.Equal(t, OutcomeAdmit, l.CheckDispatch(ctx, "tenant-a").Outcome)
}

func TestEmergency_DrainRejectsEnqueueKeepsDispatch(t *testing.T) {
	l, _, control := testLimiter(config.RateLimitConfig{})
	ctx := context.Background()

	require.NoError(t, control.SetEmergency(ctx, EmergencyState{
		Mode:   constants.EmergencyModeDrain,
		Reason: "provider incident",
	}, time.Minute))

	d := l.CheckEnqueue(ctx, "tenant-a")
	assert.Equal(t, OutcomeReject, d.Outcome)
	assert.Equal(t, "emergency_mode", d.Reason)

	assert.Equal(t, OutcomeAdmit, l.CheckDispatch(ctx, "tenant-a").Outcome)
	assert.False(t, l.HaltDispatch(ctx))
}

func TestEmergency_HaltStopsDispatch(t *testing.T) {
	l, _, control := testLimiter(config.RateLimitConfig{})
	ctx := context.Background()

	require.NoError(t, control.SetEmergency(ctx, EmergencyState{
		Mode:   constants.EmergencyModeHalt,
		Reason: "full stop",
	}, time.Minute))

	assert.True(t, l.HaltDispatch(ctx))
	assert.Equal(t, OutcomeDefer, l.CheckDispatch(ctx, "tenant-a").Outcome)
	assert.Equal(t, OutcomeReject, l.CheckEnqueue(ctx, "tenant-a").Outcome)
}

func TestEmergency_AutoExpires(t *testing.T) {
	l, _, control := testLimiter(config.RateLimitConfig{})
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	control.SetClock(func() time.Time { return current })

	require.NoError(t, control.SetEmergency(ctx, EmergencyState{
		Mode: constants.EmergencyModeHalt,
	}, time.Minute))
	assert.True(t, l.HaltDispatch(ctx))

	current = base.Add(2 * time.Minute)
	assert.False(t, l.HaltDispatch(ctx))
	assert.Equal(t, OutcomeAdmit, l.CheckEnqueue(ctx, "tenant-a").Outcome)
}

func TestEmergency_ManualClear(t *testing.T) {
	l, _, control := testLimiter(config.RateLimitConfig{})
	ctx := context.Background()

	require.NoError(t, control.SetEmergency(ctx, EmergencyState{
		Mode: constants.EmergencyModeHalt,
	}, time.Hour))
	require.NoError(t, control.ClearEmergency(ctx))

	assert.False(t, l.HaltDispatch(ctx))
}

func TestOccupancy_ReportsWindows(t *testing.T) {
	l, _, _ := testLimiter(config.RateLimitConfig{
		Defaults: config.TenantLimits{PerMinute: 10, PerHour: 100, PerDay: 500, MaxInFlight: 4, BudgetPerDay: 20, DispatchCost: 2.5},
	})
	ctx := context.Background()

	l.CheckEnqueue(ctx, "tenant-a")
	l.CheckEnqueue(ctx, "tenant-a")
	l.CheckDispatch(ctx, "tenant-a")

	occ, err := l.Occupancy(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), occ.Minute.Used)
	assert.Equal(t, int64(10), occ.Minute.Limit)
	assert.Equal(t, int64(2), occ.Day.Used)
	assert.Equal(t, int64(1), occ.InFlight.Used)
	assert.Equal(t, 2.5, occ.Budget.Used)
	assert.Equal(t, 20.0, occ.Budget.Limit)
}

func TestTenantLimitOverride(t *testing.T) {
	l, _, _ := testLimiter(config.RateLimitConfig{
		Defaults: config.TenantLimits{PerMinute: 100},
		Tenants: map[string]config.TenantLimits{
			"tenant-small": {PerMinute: 1},
		},
	})
	ctx := context.Background()

	assert.Equal(t, OutcomeAdmit, l.CheckEnqueue(ctx, "tenant-small").Outcome)
	assert.Equal(t, OutcomeReject, l.CheckEnqueue(ctx, "tenant-small").Outcome)
	assert.Equal(t, OutcomeAdmit, l.CheckEnqueue(ctx, "tenant-big").Outcome)
}
