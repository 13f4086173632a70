package monitor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"keyword-enricher/pkg/api"
	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/logger"
	"keyword-enricher/pkg/quota"
)

const namespace = "kwenrich"

var (
	breakerStateDesc = prometheus.NewDesc(
		namespace+"_circuit_breaker_state",
		"Circuit breaker state per provider (1 for the current state)",
		[]string{"provider", "state"},
		nil,
	)
	breakerFailuresDesc = prometheus.NewDesc(
		namespace+"_circuit_breaker_consecutive_failures",
		"Consecutive failures seen by the provider's circuit breaker",
		[]string{"provider"},
		nil,
	)
	breakerRejectedDesc = prometheus.NewDesc(
		namespace+"_circuit_breaker_rejected_total",
		"Calls rejected while the circuit was open",
		[]string{"provider"},
		nil,
	)
	quotaUsedDesc = prometheus.NewDesc(
		namespace+"_quota_units_used",
		"Quota units used in the current window",
		[]string{"provider"},
		nil,
	)
	quotaLimitDesc = prometheus.NewDesc(
		namespace+"_quota_units_limit",
		"Quota units allowed per window, 0 when unlimited",
		[]string{"provider"},
		nil,
	)
	quotaBalanceDesc = prometheus.NewDesc(
		namespace+"_quota_balance",
		"Remaining prepaid balance of balance-based providers",
		[]string{"provider"},
		nil,
	)
)

// BreakerSource lists the breakers to report
type BreakerSource func() []api.BreakerStats

// BatchMetrics is the per-batch summary fed into the counters
type BatchMetrics struct {
	CacheHits int
	Fetched   map[keyword.Provider]int
	Failed    int
	Cost      float64
	Warnings  int
	Duration  time.Duration
}

// Collector exports breaker and quota state read at scrape time, plus
// counters accumulated from completed batches
type Collector struct {
	breakers BreakerSource
	tracker  *quota.Tracker
	log      *logger.Logger

	batches   prometheus.Counter
	cacheHits prometheus.Counter
	fetched   *prometheus.CounterVec
	failed    prometheus.Counter
	cost      prometheus.Counter
	warnings  prometheus.Counter
	duration  prometheus.Histogram
}

func NewCollector(breakers BreakerSource, tracker *quota.Tracker) *Collector {
	return &Collector{
		breakers: breakers,
		tracker:  tracker,
		log:      logger.GetLogger().WithField("component", "metrics_collector"),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Enrichment batches completed",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Provider records served from cache",
		}),
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_total",
			Help:      "Records fetched from providers",
		}, []string{"provider"}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unavailable_total",
			Help:      "Keywords returned without search volume",
		}),
		cost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_total",
			Help:      "Provider cost recorded by completed batches",
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Batch warnings emitted",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of enrichment batches",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

// RecordBatch adds one batch to the counters
func (c *Collector) RecordBatch(m BatchMetrics) {
	c.batches.Inc()
	c.cacheHits.Add(float64(m.CacheHits))
	for provider, n := range m.Fetched {
		c.fetched.WithLabelValues(string(provider)).Add(float64(n))
	}
	c.failed.Add(float64(m.Failed))
	if m.Cost > 0 {
		c.cost.Add(m.Cost)
	}
	c.warnings.Add(float64(m.Warnings))
	c.duration.Observe(m.Duration.Seconds())
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- breakerStateDesc
	ch <- breakerFailuresDesc
	ch <- breakerRejectedDesc
	ch <- quotaUsedDesc
	ch <- quotaLimitDesc
	ch <- quotaBalanceDesc
	c.batches.Describe(ch)
	c.cacheHits.Describe(ch)
	c.fetched.Describe(ch)
	c.failed.Describe(ch)
	c.cost.Describe(ch)
	c.warnings.Describe(ch)
	c.duration.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.breakers != nil {
		for _, s := range c.breakers() {
			for _, state := range []api.CircuitState{api.StateClosed, api.StateOpen, api.StateHalfOpen} {
				v := 0.0
				if s.State == state.String() {
					v = 1
				}
				ch <- prometheus.MustNewConstMetric(breakerStateDesc, prometheus.GaugeValue, v, s.Name, state.String())
			}
			ch <- prometheus.MustNewConstMetric(breakerFailuresDesc, prometheus.GaugeValue, float64(s.ConsecutiveFailures), s.Name)
			ch <- prometheus.MustNewConstMetric(breakerRejectedDesc, prometheus.CounterValue, float64(s.Rejected), s.Name)
		}
	}

	if c.tracker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		usage, err := c.tracker.Snapshot(ctx)
		if err != nil {
			c.log.WithError(err).Error("Failed to collect quota metrics")
		}
		for _, u := range usage {
			provider := string(u.Provider)
			ch <- prometheus.MustNewConstMetric(quotaUsedDesc, prometheus.GaugeValue, float64(u.UnitsUsed), provider)
			ch <- prometheus.MustNewConstMetric(quotaLimitDesc, prometheus.GaugeValue, float64(u.UnitsLimit), provider)
			if u.Model == quota.ModelBalance {
				ch <- prometheus.MustNewConstMetric(quotaBalanceDesc, prometheus.GaugeValue, u.Balance, provider)
			}
		}
	}

	c.batches.Collect(ch)
	c.cacheHits.Collect(ch)
	c.fetched.Collect(ch)
	c.failed.Collect(ch)
	c.cost.Collect(ch)
	c.warnings.Collect(ch)
	c.duration.Collect(ch)
}
