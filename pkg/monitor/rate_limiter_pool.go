package monitor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterPool holds one limiter per provider so every enrichment call spaces its
// batches against the same vendor budget
type RateLimiterPool struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

func NewRateLimiterPool() *RateLimiterPool {
	return &RateLimiterPool{
		limiters: make(map[string]*rate.Limiter),
	}
}

// GetOrCreate returns the limiter for name, creating one that admits a request every
// interval. A non-positive interval means no limit.
func (p *RateLimiterPool) GetOrCreate(name string, interval time.Duration) *rate.Limiter {
	p.mu.RLock()
	if limiter, exists := p.limiters[name]; exists {
		p.mu.RUnlock()
		return limiter
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// double-check after taking the write lock
	if limiter, exists := p.limiters[name]; exists {
		return limiter
	}

	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	limiter := rate.NewLimiter(limit, 1)
	p.limiters[name] = limiter
	return limiter
}

// Wait blocks until the named provider may send its next batch
func (p *RateLimiterPool) Wait(ctx context.Context, name string) error {
	p.mu.RLock()
	limiter, exists := p.limiters[name]
	p.mu.RUnlock()
	if !exists {
		return nil
	}
	return limiter.Wait(ctx)
}

func (p *RateLimiterPool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.limiters)
}
