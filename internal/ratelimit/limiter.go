// Package ratelimit implements fixed-window request budgets keyed by client
// identifier. Counters live in a Store so they can be kept in process or
// shared between instances through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Store counts hits against a key inside a fixed window.
// Hit must be atomic per key: concurrent callers never observe the same count.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration) (count int64, resetIn time.Duration, err error)
}

// Policy is a named budget of Points per Window.
type Policy struct {
	Name   string
	Points int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

type Limiter struct {
	store  Store
	policy Policy
	now    func() time.Time
}

func NewLimiter(store Store, policy Policy) *Limiter {
	return &Limiter{store: store, policy: policy, now: time.Now}
}

func (l *Limiter) Policy() Policy { return l.policy }

// Allow consumes one point for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, resetIn, err := l.store.Hit(ctx, l.policy.Name+":"+key, l.policy.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", l.policy.Name, err)
	}

	remaining := l.policy.Points - int(count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count <= int64(l.policy.Points),
		Limit:     l.policy.Points,
		Remaining: remaining,
		ResetAt:   l.now().Add(resetIn),
	}
	if !d.Allowed {
		d.RetryAfter = resetIn
	}
	return d, nil
}
