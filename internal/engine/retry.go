package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// backoffBase and backoffCap define the retry policy: exponential
// backoff starting at 1 second, doubling, capped at a few seconds.
const (
	backoffBase = time.Second
	backoffCap  = 8 * time.Second
)

// backoffDelay returns the delay before retry attempt number attempt
// (0-indexed: attempt 0 is the delay before the *second* try).
func backoffDelay(attempt int) time.Duration {
	d := backoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}

// withRetry runs op up to maxAttempts times, sleeping with exponential
// backoff between attempts, returning the last error if every attempt
// fails. It aborts early if ctx is cancelled. onRetry, if non-nil, is
// called once per failed attempt (used to feed retry metrics).
func withRetry(ctx context.Context, maxAttempts int, onRetry func(attempt int, err error), op func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if onRetry != nil {
			onRetry(attempt, lastErr)
		}

		if attempt < maxAttempts-1 {
			select {
			case <-time.After(backoffDelay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// limiterRegistry hands out one token-bucket rate limiter per server,
// so a single slow or flaky server's retries never starve the pacing
// budget of the others.
type limiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newLimiterRegistry(limit rate.Limit, burst int) *limiterRegistry {
	return &limiterRegistry{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (r *limiterRegistry) get(serverID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[serverID]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[serverID] = l
	}
	return l
}

// wait blocks until serverID's limiter admits one more call, or ctx is
// cancelled first.
func (r *limiterRegistry) wait(ctx context.Context, serverID string) error {
	return r.get(serverID).Wait(ctx)
}
