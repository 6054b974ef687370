package rate

import (
	"context"
	"math"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of probes in flight.
type Limiter interface {
	Acquire(ctx context.Context) error
	Release()
}

type weightedLimiter struct {
	sem *semaphore.Weighted
}

// NewLimiter returns a counting limiter with n permits. n <= 0 means no limit,
// expressed as an effectively infinite permit count so callers keep a single
// code path.
func NewLimiter(n int) Limiter {
	size := int64(n)
	if n <= 0 {
		size = math.MaxInt64
	}
	return &weightedLimiter{sem: semaphore.NewWeighted(size)}
}

func (l *weightedLimiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

func (l *weightedLimiter) Release() {
	l.sem.Release(1)
}
