package enrichment

import (
	"time"

	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/quota"
)

// Stats aggregates what happened during one Enrich call
type Stats struct {
	Requested int `json:"requested"`
	// Truncated counts keywords beyond the per-call cap
	Truncated int `json:"truncated"`
	// CacheHits counts keywords with at least one part served from cache
	CacheHits int                      `json:"cache_hits"`
	Fetched   map[keyword.Provider]int `json:"fetched"`
	// Failed counts keywords that ended without search volume
	Failed        int           `json:"failed"`
	EstimatedCost float64       `json:"estimated_cost"`
	ActualCost    float64       `json:"actual_cost"`
	Duration      time.Duration `json:"duration"`
}

// BatchResult is returned by Enrich. Records holds exactly one entry per unique
// normalized keyword; Keywords keeps their first-seen order.
type BatchResult struct {
	ID        string                     `json:"id"`
	Location  int                        `json:"location_code"`
	Providers []keyword.Provider         `json:"providers"`
	Keywords  []string                   `json:"keywords"`
	Records   map[string]*keyword.Record `json:"records"`
	Stats     Stats                      `json:"stats"`
	Warnings  []string                   `json:"warnings"`
	// Preflight keeps the quota verdict of every dispatched provider
	Preflight map[keyword.Provider]quota.Verdict `json:"preflight,omitempty"`
}

// Ordered returns the records in keyword order
func (r *BatchResult) Ordered() []*keyword.Record {
	out := make([]*keyword.Record, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		out = append(out, r.Records[kw])
	}
	return out
}

func (r *BatchResult) warn(msg string) {
	for _, w := range r.Warnings {
		if w == msg {
			return
		}
	}
	r.Warnings = append(r.Warnings, msg)
}
