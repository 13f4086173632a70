package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"keyword-enricher/pkg/logger"
)

// RetryConfig tunes the backoff executor
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns conservative retry settings
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Retrier retries provider calls with exponential backoff. A rate-limit signal
// observed by any call holds back every later attempt until the vendor's reset time.
type Retrier struct {
	config RetryConfig
	name   string
	log    *logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	resumeAt time.Time
}

func NewRetrier(name string, config RetryConfig) *Retrier {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	if config.Multiplier < 1 {
		config.Multiplier = 2.0
	}
	return &Retrier{
		config: config,
		name:   name,
		log:    logger.GetLogger().WithField("component", "retrier").WithField("provider", name),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// SetClock replaces the time source and the sleep function
func (r *Retrier) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	r.now = now
	r.sleep = sleep
}

// WithBackoff runs op up to MaxRetries+1 times
func (r *Retrier) WithBackoff(ctx context.Context, op func(ctx context.Context) error, classify ClassifyFunc) error {
	_, err := RetryValue(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, classify)
	return err
}

// RetryValue is WithBackoff for operations that produce a value
func RetryValue[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error), classify ClassifyFunc) (T, error) {
	var zero T
	if classify == nil {
		classify = Classify
	}

	delay := r.config.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if wait := r.pendingSignal(); wait > 0 {
			r.log.WithField("wait", wait.String()).Debug("Waiting for rate limit reset")
			if err := r.sleep(ctx, wait); err != nil {
				return zero, err
			}
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, err
		}

		c := classify(err)
		if c.QuotaExceeded && c.ResetAfter > 0 {
			r.signal(c.ResetAfter)
		}
		if !c.Retryable {
			return zero, err
		}
		if attempt == r.config.MaxRetries {
			break
		}

		wait := delay
		if c.QuotaExceeded {
			wait = r.capped(time.Duration(float64(delay) * 2))
		}
		r.log.WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"wait":    wait.String(),
			"error":   err.Error(),
		}).Debug("Retrying provider call")

		if err := r.sleep(ctx, wait); err != nil {
			return zero, err
		}
		delay = r.capped(time.Duration(float64(delay) * r.config.Multiplier))
	}

	return zero, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}

// pendingSignal returns how long to wait for an active rate-limit signal, bounded by MaxDelay
func (r *Retrier) pendingSignal() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resumeAt.IsZero() {
		return 0
	}
	wait := r.resumeAt.Sub(r.now())
	if wait <= 0 {
		r.resumeAt = time.Time{}
		return 0
	}
	return r.capped(wait)
}

func (r *Retrier) signal(after time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at := r.now().Add(after)
	if at.After(r.resumeAt) {
		r.resumeAt = at
	}
}

func (r *Retrier) capped(d time.Duration) time.Duration {
	if d > r.config.MaxDelay {
		return r.config.MaxDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
