// Package quota bounds API-triggered review requests per account per
// billing month. It is independent of seat accounting: the counter is keyed
// by account, not by repository or developer.
package quota

import (
	"context"
	"fmt"
	"time"
)

// UnlimitedThreshold marks plan limits treated as unlimited. A limit of -1
// is explicit unlimited; anything at or above the threshold means the plan
// is effectively unmetered.
const UnlimitedThreshold = 100000

// Counter is the distributed counter store backing the limiter. Incr must
// be atomic and must set the key's expiry only when it creates the key (or
// revives an expired one).
type Counter interface {
	// Incr increments the counter and returns the post-increment value.
	Incr(ctx context.Context, key string, expiry time.Duration) (int64, error)
	// Get returns the current value without mutating it. Missing or
	// expired keys read as 0.
	Get(ctx context.Context, key string) (int64, error)
}

// Result reports the outcome of a consume or usage call.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"` // -1 for unlimited plans
	ResetAt   time.Time `json:"reset_at"`
}

// Limiter applies a monthly quota on top of a Counter.
type Limiter struct {
	counter Counter

	// now is replaceable for tests
	now func() time.Time
}

func NewLimiter(counter Counter) *Limiter {
	return &Limiter{counter: counter, now: time.Now}
}

func counterKey(accountID int64, month string) string {
	return fmt.Sprintf("ratelimit:%d:%s", accountID, month)
}

// monthKey formats t as the YYYY-MM billing month key.
func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// nextMonthStart returns the first instant of the month after t.
func nextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

func unlimited(planLimit int64) bool {
	return planLimit == -1 || planLimit >= UnlimitedThreshold
}

// Consume counts one request against the account's monthly quota. On the
// first increment of a period the counter's expiry is set to the seconds
// remaining until the first instant of the next month.
//
// A denied request is not rolled back: the counter keeps the rejected
// increment. Used in the denial result reports the pre-increment value so
// callers see consistent numbers.
func (l *Limiter) Consume(ctx context.Context, accountID, planLimit int64) (Result, error) {
	now := l.now()
	resetAt := nextMonthStart(now)

	if unlimited(planLimit) {
		return Result{Allowed: true, Remaining: -1, ResetAt: resetAt}, nil
	}

	key := counterKey(accountID, monthKey(now))
	value, err := l.counter.Incr(ctx, key, resetAt.Sub(now))
	if err != nil {
		return Result{}, fmt.Errorf("increment quota counter: %w", err)
	}

	if value > planLimit {
		return Result{Allowed: false, Used: value - 1, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Result{Allowed: true, Used: value, Remaining: planLimit - value, ResetAt: resetAt}, nil
}

// Usage reports the current month's consumption without counting a request.
func (l *Limiter) Usage(ctx context.Context, accountID, planLimit int64) (Result, error) {
	now := l.now()
	resetAt := nextMonthStart(now)

	key := counterKey(accountID, monthKey(now))
	used, err := l.counter.Get(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("read quota counter: %w", err)
	}

	if unlimited(planLimit) {
		return Result{Allowed: true, Used: used, Remaining: -1, ResetAt: resetAt}, nil
	}

	remaining := planLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: used < planLimit, Used: used, Remaining: remaining, ResetAt: resetAt}, nil
}
