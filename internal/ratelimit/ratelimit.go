// Package ratelimit implements a fixed-window request counter, backed by
// a statestore.StateStore's INCR+EXPIRE.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/yourusername/edge-proxy/internal/statestore"
)

// Scope distinguishes the three independent counter families.
type Scope string

const (
	ScopeKey     Scope = "key"
	ScopePreauth Scope = "preauth"
	ScopeAdmin   Scope = "admin"
)

// defaultWindowSeconds and defaultMaxRequests are the documented safe
// fallback when configuration is missing or invalid.
const (
	defaultWindowSeconds = 60
	defaultMaxRequests   = 120
)

// Result is what Consume reports back to the caller for response headers.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int
	ResetAt    int64
}

// Limiter consumes rate-limit budget against a StateStore.
type Limiter struct {
	store  statestore.StateStore
	prefix string
}

func New(store statestore.StateStore, prefix string) *Limiter {
	return &Limiter{store: store, prefix: prefix}
}

// Consume increments the counter for (scope, identifier) in the current
// fixed window and reports whether the request is allowed.
func (l *Limiter) Consume(ctx context.Context, scope Scope, identifier string, windowSeconds, maxRequests int) (Result, error) {
	if windowSeconds <= 0 {
		windowSeconds = defaultWindowSeconds
	}
	if maxRequests <= 0 {
		maxRequests = defaultMaxRequests
	}

	now := time.Now().Unix()
	windowStart := (now / int64(windowSeconds)) * int64(windowSeconds)
	counterKey := fmt.Sprintf("%s:ratelimit:%s:%s:%d", l.prefix, scope, identifier, windowStart)

	count, err := l.store.Incr(ctx, counterKey)
	if err != nil {
		return Result{}, err
	}
	if count == 1 {
		if err := l.store.Expire(ctx, counterKey, time.Duration(windowSeconds+1)*time.Second); err != nil {
			return Result{}, err
		}
	}

	resetAt := windowStart + int64(windowSeconds)
	remaining := maxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	retryAfter := resetAt - now
	if retryAfter < 1 {
		retryAfter = 1
	}

	return Result{
		Allowed:    int(count) <= maxRequests,
		Limit:      maxRequests,
		Remaining:  remaining,
		RetryAfter: int(retryAfter),
		ResetAt:    resetAt,
	}, nil
}
