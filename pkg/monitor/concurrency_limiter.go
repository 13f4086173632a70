package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"keyword-enricher/pkg/logger"
)

var ErrBusy = errors.New("too many enrichment requests in flight")

// ConcurrencyLimiter bounds how many enrichment batches run at once. Waiting
// callers give up after acquireTimeout.
type ConcurrencyLimiter struct {
	sem            *semaphore.Weighted
	maxConcurrent  int64
	current        int64
	acquireTimeout time.Duration
	log            *logger.Logger

	totalAcquires   int64
	timeoutFailures int64
}

func NewConcurrencyLimiter(maxConcurrent int, acquireTimeout time.Duration) *ConcurrencyLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if acquireTimeout <= 0 {
		acquireTimeout = 5 * time.Second
	}
	return &ConcurrencyLimiter{
		sem:            semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent:  int64(maxConcurrent),
		acquireTimeout: acquireTimeout,
		log:            logger.GetLogger().WithField("component", "concurrency_limiter"),
	}
}

// Acquire takes a permit, waiting at most acquireTimeout. It returns ErrBusy on
// timeout and the context error when ctx ends first.
func (cl *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	atomic.AddInt64(&cl.totalAcquires, 1)

	if cl.sem.TryAcquire(1) {
		atomic.AddInt64(&cl.current, 1)
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, cl.acquireTimeout)
	defer cancel()
	if err := cl.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		atomic.AddInt64(&cl.timeoutFailures, 1)
		current := atomic.LoadInt64(&cl.current)
		cl.log.WithFields(map[string]interface{}{
			"current_concurrent": current,
			"max_concurrent":     cl.maxConcurrent,
			"acquire_timeout":    cl.acquireTimeout.String(),
		}).Warn("Failed to acquire concurrency permit within timeout")
		return fmt.Errorf("%w: waited %s (current: %d, max: %d)", ErrBusy, cl.acquireTimeout, current, cl.maxConcurrent)
	}
	atomic.AddInt64(&cl.current, 1)
	return nil
}

// Release returns a permit taken by Acquire
func (cl *ConcurrencyLimiter) Release() {
	if atomic.AddInt64(&cl.current, -1) < 0 {
		atomic.AddInt64(&cl.current, 1)
		cl.log.Warn("Attempted to release permit when none were held")
		return
	}
	cl.sem.Release(1)
}

// Stats returns current limiter counters
func (cl *ConcurrencyLimiter) Stats() ConcurrencyStats {
	return ConcurrencyStats{
		MaxConcurrent:   int(cl.maxConcurrent),
		CurrentActive:   int(atomic.LoadInt64(&cl.current)),
		TotalAcquires:   atomic.LoadInt64(&cl.totalAcquires),
		TimeoutFailures: atomic.LoadInt64(&cl.timeoutFailures),
	}
}

// ConcurrencyStats holds statistics about the limiter
type ConcurrencyStats struct {
	MaxConcurrent   int   `json:"max_concurrent"`
	CurrentActive   int   `json:"current_active"`
	TotalAcquires   int64 `json:"total_acquires"`
	TimeoutFailures int64 `json:"timeout_failures"`
}
