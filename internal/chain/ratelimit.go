package chain

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter budgets rate-limited requests per chain: every chain gets its
// own token bucket with the same rate and burst, so a burst of price lookups
// on one chain cannot starve the others.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[ID]*rate.Limiter
	limit   rate.Limit
	burst   int
}

// NewRateLimiter creates a rate limiter giving each chain a budget of
// perSecond requests with the given burst size.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[ID]*rate.Limiter),
		limit:   rate.Limit(perSecond),
		burst:   burst,
	}
}

// Allow reports whether a request for the chain fits its budget right now.
func (r *RateLimiter) Allow(id ID) bool {
	return r.bucket(id).Allow()
}

// Wait blocks until the chain's budget admits a request or the context is
// canceled.
func (r *RateLimiter) Wait(ctx context.Context, id ID) error {
	return r.bucket(id).Wait(ctx)
}

func (r *RateLimiter) bucket(id ID) *rate.Limiter {
	r.mu.RLock()
	b, ok := r.buckets[id]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.buckets[id]; ok {
		return b
	}
	b = rate.NewLimiter(r.limit, r.burst)
	r.buckets[id] = b
	return b
}
