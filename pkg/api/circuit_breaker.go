package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"keyword-enricher/pkg/logger"
)

type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig tunes one provider's circuit breaker
type BreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	RequestTimeout   time.Duration
}

// FreeTierBreakerConfig fails fast and retries soon, for quota-generous providers
func FreeTierBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		RequestTimeout:   30 * time.Second,
	}
}

// PaidBreakerConfig tolerates more failures before opening, for paid providers
func PaidBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      2 * time.Minute,
		RequestTimeout:   60 * time.Second,
	}
}

// BreakerStats is a point-in-time view of a breaker
type BreakerStats struct {
	Name                 string     `json:"name"`
	State                string     `json:"state"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	TotalRequests        int64      `json:"total_requests"`
	TotalFailures        int64      `json:"total_failures"`
	Rejected             int64      `json:"rejected"`
	LastFailureAt        *time.Time `json:"last_failure_at,omitempty"`
	LastSuccessAt        *time.Time `json:"last_success_at,omitempty"`
	OpenUntil            *time.Time `json:"open_until,omitempty"`
}

// CircuitBreaker isolates one provider. A single instance is shared by every
// caller of that provider so failures in one batch open the circuit for all.
type CircuitBreaker struct {
	config BreakerConfig
	now    func() time.Time
	log    *logger.Logger

	mu                   sync.Mutex
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureAt        time.Time
	lastSuccessAt        time.Time
	openUntil            time.Time
	probing              bool

	totalRequests int64
	totalFailures int64
	rejected      int64

	onStateChange func(name string, from, to CircuitState)
}

func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = time.Minute
	}
	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		log:    logger.GetLogger().WithField("component", "circuit_breaker").WithField("provider", config.Name),
		state:  StateClosed,
	}
}

// SetClock replaces the time source
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

// OnStateChange registers a hook called after every transition, outside the lock
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Execute runs fn if the circuit allows it. A request timeout counts as a failure;
// cancellation of the caller's context does not.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteValue(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

type outcome[T any] struct {
	value T
	err   error
}

// ExecuteValue is Execute for operations that produce a value
func ExecuteValue[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.beforeRequest(); err != nil {
		return zero, err
	}

	callCtx := ctx
	cancel := func() {}
	if cb.config.RequestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cb.config.RequestTimeout)
	}
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() != nil && errors.Is(res.err, ctx.Err()) {
			cb.release()
			return zero, res.err
		}
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && callCtx.Err() != nil {
			res.err = fmt.Errorf("%w after %s: %w", ErrRequestTimeout, cb.config.RequestTimeout, res.err)
		}
		cb.afterRequest(res.err)
		return res.value, res.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			cb.release()
			return zero, ctx.Err()
		}
		err := fmt.Errorf("%w after %s", ErrRequestTimeout, cb.config.RequestTimeout)
		cb.afterRequest(err)
		return zero, err
	}
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()

	now := cb.now()
	switch cb.state {
	case StateOpen:
		if now.Before(cb.openUntil) {
			cb.rejected++
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		from := cb.setState(StateHalfOpen)
		cb.consecutiveSuccesses = 0
		cb.probing = true
		cb.totalRequests++
		hook := cb.onStateChange
		cb.mu.Unlock()
		cb.notify(hook, from, StateHalfOpen)
		return nil
	case StateHalfOpen:
		if cb.probing {
			cb.rejected++
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	cb.totalRequests++
	cb.mu.Unlock()
	return nil
}

// release frees a probe slot without recording an outcome
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()

	now := cb.now()
	cb.probing = false
	from, to := cb.state, cb.state

	if err != nil {
		cb.totalFailures++
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
		cb.lastFailureAt = now

		if cb.state == StateHalfOpen || cb.consecutiveFailures >= cb.config.FailureThreshold {
			if cb.state != StateOpen {
				to = StateOpen
			}
			cb.state = StateOpen
			cb.openUntil = now.Add(cb.config.OpenTimeout)
		}
	} else {
		cb.consecutiveFailures = 0
		cb.lastSuccessAt = now
		if cb.state == StateHalfOpen {
			cb.consecutiveSuccesses++
			if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
				cb.state = StateClosed
				to = StateClosed
				cb.consecutiveSuccesses = 0
			}
		}
	}

	hook := cb.onStateChange
	openUntil := cb.openUntil
	failures := cb.consecutiveFailures
	cb.mu.Unlock()

	if from != to {
		if to == StateOpen {
			cb.log.WithFields(map[string]interface{}{
				"from":                 from.String(),
				"consecutive_failures": failures,
				"open_until":           openUntil.Format(time.RFC3339),
				"error":                err.Error(),
			}).Warn("Circuit opened")
		}
		cb.notify(hook, from, to)
	}
}

// setState switches state and returns the previous one. Caller holds mu.
func (cb *CircuitBreaker) setState(to CircuitState) CircuitState {
	from := cb.state
	cb.state = to
	return from
}

func (cb *CircuitBreaker) notify(hook func(string, CircuitState, CircuitState), from, to CircuitState) {
	if to != StateOpen {
		cb.log.WithFields(map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
			"at":   cb.now().Format(time.RFC3339),
		}).Info("Circuit state changed")
	}
	if hook != nil {
		hook(cb.config.Name, from, to)
	}
}

// State reports the current state. An expired OPEN circuit still reports OPEN
// until the next call moves it to HALF_OPEN.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allows reports whether a call made now would reach the operation
func (cb *CircuitBreaker) Allows() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		return !cb.now().Before(cb.openUntil)
	case StateHalfOpen:
		return !cb.probing
	}
	return true
}

func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := BreakerStats{
		Name:                 cb.config.Name,
		State:                cb.state.String(),
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		TotalRequests:        cb.totalRequests,
		TotalFailures:        cb.totalFailures,
		Rejected:             cb.rejected,
	}
	if !cb.lastFailureAt.IsZero() {
		t := cb.lastFailureAt
		stats.LastFailureAt = &t
	}
	if !cb.lastSuccessAt.IsZero() {
		t := cb.lastSuccessAt
		stats.LastSuccessAt = &t
	}
	if cb.state == StateOpen {
		t := cb.openUntil
		stats.OpenUntil = &t
	}
	return stats
}

// Reset forces the circuit CLOSED and clears the counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.setState(StateClosed)
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.openUntil = time.Time{}
	cb.probing = false
	hook := cb.onStateChange
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(hook, from, StateClosed)
	}
}
