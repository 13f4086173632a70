package api

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// EndpointHealth tracks the health of one provider endpoint
type EndpointHealth struct {
	URL              string    `json:"url"`
	Healthy          bool      `json:"healthy"`
	LastSuccess      time.Time `json:"last_success"`
	LastFailure      time.Time `json:"last_failure"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	SuccessCount     int64     `json:"success_count"`
	FailureCount     int64     `json:"failure_count"`
}

// URLPool is a thread-safe round-robin pool of endpoints that skips endpoints after
// repeated transport failures and falls back to any endpoint when none is healthy
type URLPool struct {
	urls             []string
	current          int64
	failureThreshold int

	mu     sync.RWMutex
	health map[string]*EndpointHealth
}

// NewURLPool creates a pool from comma-separated URLs
func NewURLPool(urlString string) *URLPool {
	var urls []string
	for _, raw := range strings.Split(urlString, ",") {
		if cleaned := strings.TrimSpace(raw); cleaned != "" {
			urls = append(urls, cleaned)
		}
	}

	health := make(map[string]*EndpointHealth, len(urls))
	for _, u := range urls {
		health[u] = &EndpointHealth{URL: u, Healthy: true}
	}

	return &URLPool{
		urls:             urls,
		current:          -1,
		failureThreshold: 3,
		health:           health,
	}
}

// Next returns the next healthy URL in round-robin order
func (p *URLPool) Next() string {
	if len(p.urls) == 0 {
		return ""
	}
	if len(p.urls) == 1 {
		return p.urls[0]
	}

	n := int64(len(p.urls))
	p.mu.RLock()
	defer p.mu.RUnlock()

	for i := int64(0); i < n; i++ {
		next := atomic.AddInt64(&p.current, 1)
		// safe modulo for overflow
		u := p.urls[((next%n)+n)%n]
		if p.health[u].Healthy {
			return u
		}
	}

	next := atomic.AddInt64(&p.current, 1)
	return p.urls[((next%n)+n)%n]
}

// RecordSuccess marks an endpoint healthy
func (p *URLPool) RecordSuccess(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.health[url]
	if !ok {
		return
	}
	h.Healthy = true
	h.ConsecutiveFails = 0
	h.LastSuccess = time.Now()
	h.SuccessCount++
}

// RecordFailure counts a transport failure against an endpoint
func (p *URLPool) RecordFailure(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.health[url]
	if !ok {
		return
	}
	h.ConsecutiveFails++
	h.LastFailure = time.Now()
	h.FailureCount++
	if h.ConsecutiveFails >= p.failureThreshold {
		h.Healthy = false
	}
}

// Health returns a copy of every endpoint's health
func (p *URLPool) Health() []EndpointHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]EndpointHealth, 0, len(p.urls))
	for _, u := range p.urls {
		out = append(out, *p.health[u])
	}
	return out
}

func (p *URLPool) URLs() []string {
	result := make([]string, len(p.urls))
	copy(result, p.urls)
	return result
}

func (p *URLPool) Size() int {
	return len(p.urls)
}

func (p *URLPool) IsEmpty() bool {
	return len(p.urls) == 0
}
