// Package ratelimit gates webhook intake with fixed-window counters over three
// scopes. Counters live in an injected Store so several gateway replicas can
// share them through Redis, or keep them in process memory.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rental-payments-ledger/internal/config"
	"github.com/rental-payments-ledger/internal/platform/clock"
	"github.com/rental-payments-ledger/internal/platform/metrics"
)

type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeAddress   Scope = "per_address"
	ScopeEventKind Scope = "per_event_kind"
)

// Rule is the quota of one scope
type Rule struct {
	MaxRequests int
	Window      time.Duration
}

// Store counts hits per key in fixed windows. The first hit of a window opens it.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (count int, resetAt time.Time, err error)
}

// Sweeper is implemented by stores that must evict expired windows themselves
type Sweeper interface {
	Sweep(now time.Time) int
}

// Check names one scope and the subject counted under it
type Check struct {
	Scope   Scope
	Subject string
}

type Decision struct {
	Allowed   bool
	Scope     Scope
	Limit     int
	Remaining int
	ResetAt   time.Time
	Reason    string
}

// RetryAfter is the wait until the denying window resets, rounded up to a second
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return (wait + time.Second - 1).Truncate(time.Second)
}

type Limiter struct {
	store   Store
	rules   map[Scope]Rule
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   clock.Clock
}

func NewLimiter(logger *slog.Logger, store Store, cfg config.RateLimitConfig, m *metrics.Metrics, clk clock.Clock) *Limiter {
	return &Limiter{
		store: store,
		rules: map[Scope]Rule{
			ScopeGlobal:    {MaxRequests: cfg.Global.MaxRequests, Window: cfg.Global.Window},
			ScopeAddress:   {MaxRequests: cfg.PerAddress.MaxRequests, Window: cfg.PerAddress.Window},
			ScopeEventKind: {MaxRequests: cfg.PerEventKind.MaxRequests, Window: cfg.PerEventKind.Window},
		},
		logger:  logger.With("component", "rate_limiter"),
		metrics: m,
		clock:   clk,
	}
}

func key(scope Scope, subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, subject)
}

// Allow evaluates checks in order and returns the first denial. When every scope
// allows, the decision with the fewest remaining requests is returned.
func (l *Limiter) Allow(ctx context.Context, checks ...Check) Decision {
	now := l.clock.Now()
	result := Decision{Allowed: true, Remaining: -1}

	for _, c := range checks {
		rule, ok := l.rules[c.Scope]
		if !ok || rule.MaxRequests <= 0 {
			continue
		}

		count, resetAt, err := l.store.Increment(ctx, key(c.Scope, c.Subject), rule.Window, now)
		if err != nil {
			// fail open
			l.logger.Error("Rate limit store failed, allowing request", "scope", string(c.Scope), "error", err)
			continue
		}

		remaining := rule.MaxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		d := Decision{
			Allowed:   count <= rule.MaxRequests,
			Scope:     c.Scope,
			Limit:     rule.MaxRequests,
			Remaining: remaining,
			ResetAt:   resetAt,
		}
		if !d.Allowed {
			d.Reason = fmt.Sprintf("%s rate limit exceeded", c.Scope)
			l.metrics.ObserveRateLimitDenial(string(c.Scope))
			l.logger.Warn("Rate limit exceeded", "scope", string(c.Scope), "subject", c.Subject, "reset_at", resetAt)
			return d
		}
		if result.Remaining < 0 || d.Remaining < result.Remaining {
			result = d
		}
	}

	if result.Remaining < 0 {
		result.Remaining = 0
	}
	return result
}

// RunSweeper evicts expired windows until ctx is cancelled. Stores that expire
// keys on their own are left alone.
func (l *Limiter) RunSweeper(ctx context.Context, interval time.Duration) {
	sweeper, ok := l.store.(Sweeper)
	if !ok {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sweeper.Sweep(l.clock.Now()); n > 0 {
				l.logger.Debug("Swept expired rate limit windows", "count", n)
			}
		}
	}
}
