package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressReporter logs throttled progress of a long-running batch
type ProgressReporter struct {
	mu          sync.Mutex
	total       int
	current     int
	description string
	interval    time.Duration
	startTime   time.Time
	lastUpdate  time.Time
	logger      *Logger
}

func NewProgressReporter(total int, description string) *ProgressReporter {
	now := time.Now()
	return &ProgressReporter{
		total:       total,
		description: description,
		interval:    5 * time.Second,
		startTime:   now,
		lastUpdate:  now,
		logger:      GetLogger().WithField("component", "progress"),
	}
}

// Update adds increment and reports at most once per interval or when complete
func (pr *ProgressReporter) Update(increment int) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.current += increment
	now := time.Now()
	if now.Sub(pr.lastUpdate) >= pr.interval || pr.current >= pr.total {
		pr.report()
		pr.lastUpdate = now
	}
}

// Progress returns the current count and total
func (pr *ProgressReporter) Progress() (current, total int) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.current, pr.total
}

// caller holds mu
func (pr *ProgressReporter) report() {
	if pr.total <= 0 {
		return
	}
	percentage := float64(pr.current) / float64(pr.total) * 100
	elapsed := time.Since(pr.startTime)

	var eta string
	if pr.current > 0 && pr.current < pr.total {
		remaining := time.Duration(pr.total-pr.current) * (elapsed / time.Duration(pr.current))
		eta = fmt.Sprintf(" (ETA: %s)", remaining.Round(time.Second))
	}

	pr.logger.WithFields(map[string]interface{}{
		"current": pr.current,
		"total":   pr.total,
		"elapsed": elapsed.Round(time.Millisecond).String(),
	}).Debug(fmt.Sprintf("%s: %d/%d (%.1f%%)%s", pr.description, pr.current, pr.total, percentage, eta))
}
