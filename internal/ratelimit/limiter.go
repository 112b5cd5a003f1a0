package ratelimit

import (
	"context"
	"fmt"
	"time"

	"leadflow/internal/config"
	"leadflow/internal/constants"
	"leadflow/internal/logger"
	"leadflow/pkg/metrics"
)

type Outcome string

const (
	OutcomeAdmit  Outcome = "admit"
	OutcomeDefer  Outcome = "defer"
	OutcomeReject Outcome = "reject"
)

// Decision is the result of one admission check. RetryAfter is set
// only for Defer and points at the earliest time the check could
// succeed.
type Decision struct {
	Outcome    Outcome
	Reason     string
	RetryAfter time.Time
}

func admit() Decision {
	return Decision{Outcome: OutcomeAdmit}
}

func reject(reason string) Decision {
	return Decision{Outcome: OutcomeReject, Reason: reason}
}

func deferred(reason string, retryAfter time.Time) Decision {
	return Decision{Outcome: OutcomeDefer, Reason: reason, RetryAfter: retryAfter}
}

type window struct {
	name  string
	size  time.Duration
	limit func(config.TenantLimits) int64
}

// Windows reset on fixed wall-clock boundaries; counters carry the
// boundary as their expiry so idle scopes never bank unused quota.
var windows = []window{
	{"minute", time.Minute, func(l config.TenantLimits) int64 { return l.PerMinute }},
	{"hour", time.Hour, func(l config.TenantLimits) int64 { return l.PerHour }},
	{"day", 24 * time.Hour, func(l config.TenantLimits) int64 { return l.PerDay }},
}

const inFlightRetryDelay = 5 * time.Second

// Limiter is the multi-window, multi-scope admission controller.
// Request windows (per-minute/hour/day) are charged at enqueue time;
// dispatch-time checks cover concurrency, daily budget, pause flags,
// and the emergency switch.
type Limiter struct {
	cfg      config.RateLimitConfig
	counters CounterStore
	control  ControlStore
	logger   logger.Logger
	now      func() time.Time
}

func NewLimiter(cfg config.RateLimitConfig, counters CounterStore, control ControlStore, log logger.Logger) *Limiter {
	return &Limiter{
		cfg:      cfg,
		counters: counters,
		control:  control,
		logger:   log,
		now:      time.Now,
	}
}

// SetClock overrides the limiter's clock; tests use it to cross window
// boundaries without sleeping.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Limiter) limitsFor(tenantID string) config.TenantLimits {
	if limits, ok := l.cfg.Tenants[tenantID]; ok {
		return limits
	}
	return l.cfg.Defaults
}

func windowKey(scope, name string, bucket time.Time) string {
	return fmt.Sprintf("%s%s:%s:%d", constants.CacheKeyPrefixRateLimit, scope, name, bucket.Unix())
}

func inFlightKey(tenantID string) string {
	return constants.CacheKeyPrefixRateLimit + "inflight:tenant:" + tenantID
}

func budgetKey(tenantID string, bucket time.Time) string {
	return fmt.Sprintf("%sbudget:tenant:%s:%d", constants.CacheKeyPrefixRateLimit, tenantID, bucket.Unix())
}

// CheckEnqueue decides whether a new lead may enter the queue. A
// violation here is terminal for the submission: the caller returns it
// to the source.
func (l *Limiter) CheckEnqueue(ctx context.Context, tenantID string) Decision {
	state, err := l.control.GetEmergency(ctx)
	if err != nil {
		l.logger.ErrorwCtx(ctx, "Failed to read emergency state, rejecting admission",
			"error", err,
		)
		return l.record("tenant", "enqueue", reject("control_store_error"))
	}
	if state.Active() {
		return l.record("global", "enqueue", reject("emergency_mode"))
	}

	return l.record("tenant", "enqueue", l.checkWindows(ctx, "tenant:"+tenantID, l.limitsFor(tenantID)))
}

// CheckIP enforces the per-source-IP ingestion cap, tenant-agnostic.
// A perMinute of zero or less means the cap is not configured.
func (l *Limiter) CheckIP(ctx context.Context, ip string, perMinute int64) Decision {
	if perMinute <= 0 {
		return admit()
	}

	now := l.now()
	boundary := now.Truncate(time.Minute).Add(time.Minute)
	key := windowKey("ip:"+ip, "minute", now.Truncate(time.Minute))

	count, err := l.counters.Incr(ctx, key, 1, boundary)
	if err != nil {
		l.logger.ErrorwCtx(ctx, "Rate limit counter error, rejecting admission",
			"error", err,
		)
		return l.record("ip", "enqueue", reject("counter_store_error"))
	}
	if count > perMinute {
		if _, err := l.counters.Incr(ctx, key, -1, boundary); err != nil {
			l.logger.ErrorwCtx(ctx, "Failed to roll back rate limit counter",
				"error", err,
			)
		}
		return l.record("ip", "enqueue", reject("ip_cap_exceeded"))
	}
	return l.record("ip", "enqueue", admit())
}

// checkWindows atomically increments every configured window counter
// and rolls all of them back if any ceiling is exceeded, so concurrent
// callers can never admit past a ceiling.
func (l *Limiter) checkWindows(ctx context.Context, scope string, limits config.TenantLimits) Decision {
	now := l.now()

	type charged struct {
		key      string
		boundary time.Time
	}
	var incremented []charged

	rollback := func() {
		for _, c := range incremented {
			if _, err := l.counters.Incr(ctx, c.key, -1, c.boundary); err != nil {
				l.logger.ErrorwCtx(ctx, "Failed to roll back rate limit counter",
					"key", c.key,
					"error", err,
				)
			}
		}
	}

	for _, w := range windows {
		limit := w.limit(limits)
		if limit <= 0 {
			continue
		}

		bucket := now.Truncate(w.size)
		boundary := bucket.Add(w.size)
		key := windowKey(scope, w.name, bucket)

		count, err := l.counters.Incr(ctx, key, 1, boundary)
		if err != nil {
			rollback()
			l.logger.ErrorwCtx(ctx, "Rate limit counter error, rejecting admission",
				"key", key,
				"error", err,
			)
			return reject("counter_store_error")
		}
		incremented = append(incremented, charged{key, boundary})

		if count > limit {
			rollback()
			return reject(w.name + "_ceiling_exceeded")
		}
	}

	return admit()
}

// CheckDispatch decides whether a claimed item may be dispatched now.
// Violations defer the item; they are throttling, not failure.
func (l *Limiter) CheckDispatch(ctx context.Context, tenantID string) Decision {
	now := l.now()

	state, err := l.control.GetEmergency(ctx)
	if err != nil {
		l.logger.ErrorwCtx(ctx, "Failed to read emergency state, deferring dispatch",
			"error", err,
		)
		return l.record("tenant", "dispatch", deferred("control_store_error", now.Add(inFlightRetryDelay)))
	}
	if state.Mode == constants.EmergencyModeHalt {
		return l.record("global", "dispatch", deferred("emergency_halt", state.ExpiresAt))
	}

	for _, scope := range []string{"", tenantID} {
		paused, err := l.control.IsPaused(ctx, scope)
		if err != nil {
			l.logger.ErrorwCtx(ctx, "Failed to read pause state, deferring dispatch",
				"error", err,
			)
			return l.record("tenant", "dispatch", deferred("control_store_error", now.Add(inFlightRetryDelay)))
		}
		if paused {
			return l.record("tenant", "dispatch", deferred("paused", now.Add(inFlightRetryDelay)))
		}
	}

	limits := l.limitsFor(tenantID)

	if limits.MaxInFlight > 0 {
		count, err := l.counters.Incr(ctx, inFlightKey(tenantID), 1, time.Time{})
		if err != nil {
			l.logger.ErrorwCtx(ctx, "In-flight counter error, deferring dispatch",
				"error", err,
			)
			return l.record("tenant", "dispatch", deferred("counter_store_error", now.Add(inFlightRetryDelay)))
		}
		if count > limits.MaxInFlight {
			l.releaseInFlight(ctx, tenantID)
			return l.record("tenant", "dispatch", deferred("in_flight_ceiling", now.Add(inFlightRetryDelay)))
		}
	}

	if limits.BudgetPerDay > 0 && limits.DispatchCost > 0 {
		bucket := now.Truncate(24 * time.Hour)
		boundary := bucket.Add(24 * time.Hour)
		spent, err := l.counters.IncrFloat(ctx, budgetKey(tenantID, bucket), limits.DispatchCost, boundary)
		if err != nil {
			l.rollbackDispatch(ctx, tenantID, limits, false)
			l.logger.ErrorwCtx(ctx, "Budget counter error, deferring dispatch",
				"error", err,
			)
			return l.record("tenant", "dispatch", deferred("counter_store_error", now.Add(inFlightRetryDelay)))
		}
		if spent > limits.BudgetPerDay {
			l.rollbackDispatch(ctx, tenantID, limits, true)
			return l.record("tenant", "dispatch", deferred("budget_exhausted", boundary))
		}
	}

	return l.record("tenant", "dispatch", admit())
}

func (l *Limiter) rollbackDispatch(ctx context.Context, tenantID string, limits config.TenantLimits, budgetCharged bool) {
	if limits.MaxInFlight > 0 {
		l.releaseInFlight(ctx, tenantID)
	}
	if budgetCharged {
		now := l.now()
		bucket := now.Truncate(24 * time.Hour)
		if _, err := l.counters.IncrFloat(ctx, budgetKey(tenantID, bucket), -limits.DispatchCost, bucket.Add(24*time.Hour)); err != nil {
			l.logger.ErrorwCtx(ctx, "Failed to roll back budget counter",
				"error", err,
			)
		}
	}
}

// ReleaseInFlight frees a tenant's concurrency slot after the attempt
// completes, successfully or not.
func (l *Limiter) ReleaseInFlight(ctx context.Context, tenantID string) {
	if l.limitsFor(tenantID).MaxInFlight <= 0 {
		return
	}
	l.releaseInFlight(ctx, tenantID)
}

func (l *Limiter) releaseInFlight(ctx context.Context, tenantID string) {
	if _, err := l.counters.Incr(ctx, inFlightKey(tenantID), -1, time.Time{}); err != nil {
		l.logger.ErrorwCtx(ctx, "Failed to release in-flight slot",
			"tenant_id", tenantID,
			"error", err,
		)
	}
}

// HaltDispatch reports whether dequeues should stop entirely: the
// emergency switch is in halt mode or processing is paused globally.
func (l *Limiter) HaltDispatch(ctx context.Context) bool {
	state, err := l.control.GetEmergency(ctx)
	if err == nil && state.Mode == constants.EmergencyModeHalt {
		return true
	}
	paused, err := l.control.IsPaused(ctx, "")
	return err == nil && paused
}

type WindowUsage struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

type BudgetUsage struct {
	Used  float64 `json:"used"`
	Limit float64 `json:"limit"`
}

// Occupancy is the admin read model of a tenant's current windows.
type Occupancy struct {
	TenantID string      `json:"tenant_id"`
	Minute   WindowUsage `json:"minute"`
	Hour     WindowUsage `json:"hour"`
	Day      WindowUsage `json:"day"`
	InFlight WindowUsage `json:"in_flight"`
	Budget   BudgetUsage `json:"budget"`
}

func (l *Limiter) Occupancy(ctx context.Context, tenantID string) (Occupancy, error) {
	now := l.now()
	limits := l.limitsFor(tenantID)
	occ := Occupancy{TenantID: tenantID}

	for _, w := range windows {
		used, err := l.counters.Get(ctx, windowKey("tenant:"+tenantID, w.name, now.Truncate(w.size)))
		if err != nil {
			return Occupancy{}, err
		}
		usage := WindowUsage{Used: used, Limit: w.limit(limits)}
		switch w.name {
		case "minute":
			occ.Minute = usage
		case "hour":
			occ.Hour = usage
		case "day":
			occ.Day = usage
		}
	}

	inFlight, err := l.counters.Get(ctx, inFlightKey(tenantID))
	if err != nil {
		return Occupancy{}, err
	}
	occ.InFlight = WindowUsage{Used: inFlight, Limit: limits.MaxInFlight}

	spent, err := l.counters.GetFloat(ctx, budgetKey(tenantID, now.Truncate(24*time.Hour)))
	if err != nil {
		return Occupancy{}, err
	}
	occ.Budget = BudgetUsage{Used: spent, Limit: limits.BudgetPerDay}

	return occ, nil
}

func (l *Limiter) record(scope, kind string, d Decision) Decision {
	metrics.RateLimitDecisionsTotal.WithLabelValues(scope, kind, string(d.Outcome)).Inc()
	return d
}
