// Package ratelimit provides token-bucket limiters partitioned by an arbitrary key.
// This is part of the platform layer and contains no business logic.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Keyed hands out one rate.Limiter per key (IP, contact, agent).
type Keyed struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int
}

// NewKeyed creates a keyed limiter allowing r events per second with the given burst.
func NewKeyed(r rate.Limit, burst int) *Keyed {
	if burst < 1 {
		burst = 1
	}
	return &Keyed{rate: r, burst: burst}
}

// PerMinute creates a keyed limiter allowing n events per minute, bursting up to n.
func PerMinute(n int) *Keyed {
	if n <= 0 {
		return NewKeyed(rate.Inf, 1)
	}
	return NewKeyed(rate.Every(time.Minute/time.Duration(n)), n)
}

func (k *Keyed) limiter(key string) *rate.Limiter {
	if existing, ok := k.limiters.Load(key); ok {
		return existing.(*rate.Limiter)
	}
	actual, _ := k.limiters.LoadOrStore(key, rate.NewLimiter(k.rate, k.burst))
	return actual.(*rate.Limiter)
}

// Allow reports whether one event for key may happen now.
func (k *Keyed) Allow(key string) bool {
	return k.limiter(key).Allow()
}

// Wait blocks until an event for key is permitted or ctx is done.
func (k *Keyed) Wait(ctx context.Context, key string) error {
	return k.limiter(key).Wait(ctx)
}
