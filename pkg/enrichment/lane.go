package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keyword-enricher/pkg/api"
	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/logger"
	"keyword-enricher/pkg/monitor"
	"keyword-enricher/pkg/quota"
)

// Lane is one stage of the fallback pipeline: a provider adapter with its own
// breaker, retrier and inter-batch delay. Lanes are long-lived so every Enrich
// call shares their breaker and backoff state.
type Lane struct {
	Provider api.MetricsProvider
	Breaker  *api.CircuitBreaker
	Retrier  *api.Retrier
	// Interval is the minimum spacing between two batches sent to the provider
	Interval time.Duration
}

// NewLane builds a lane with the given breaker and retry tuning
func NewLane(provider api.MetricsProvider, breaker api.BreakerConfig, retry api.RetryConfig, interval time.Duration) *Lane {
	if breaker.Name == "" {
		breaker.Name = string(provider.Name())
	}
	return &Lane{
		Provider: provider,
		Breaker:  api.NewCircuitBreaker(breaker),
		Retrier:  api.NewRetrier(string(provider.Name()), retry),
		Interval: interval,
	}
}

func (l *Lane) Name() keyword.Provider {
	return l.Provider.Name()
}

// laneOutcome is what one dispatch produced
type laneOutcome struct {
	records map[string]*keyword.Record
	errs    map[string]error
	units   int64
	cost    float64
	// stopped is set when the provider could not take every batch
	stopped string
}

// dispatch sends keywords to the provider batch by batch. Each batch waits for the
// rate limiter, then runs through the breaker and the retrier. Usage is recorded
// once per completed batch for the keywords the vendor answered.
func (l *Lane) dispatch(ctx context.Context, keywords []string, location int, limiters *monitor.RateLimiterPool, tracker *quota.Tracker, log *logger.Logger) laneOutcome {
	name := l.Name()
	out := laneOutcome{
		records: make(map[string]*keyword.Record, len(keywords)),
		errs:    make(map[string]error),
	}

	batches := api.Chunk(keywords, l.Provider.BatchSize())
	progress := logger.NewProgressReporter(len(keywords), fmt.Sprintf("Fetching %s", name))

	failRest := func(from int, err error) {
		for _, batch := range batches[from:] {
			for _, kw := range batch {
				out.errs[kw] = err
			}
		}
	}

	for i, batch := range batches {
		if err := limiters.Wait(ctx, string(name)); err != nil {
			failRest(i, err)
			out.stopped = fmt.Sprintf("%s: stopped before all batches were sent: %v", name, err)
			break
		}

		results, err := api.ExecuteValue(ctx, l.Breaker, func(ctx context.Context) ([]api.Result, error) {
			return api.RetryValue(ctx, l.Retrier, func(ctx context.Context) ([]api.Result, error) {
				return l.Provider.FetchMetrics(ctx, batch, location)
			}, nil)
		})
		progress.Update(len(batch))

		if err != nil {
			if cost, billed := api.BilledCost(err); billed {
				l.record(ctx, tracker, len(batch), cost, &out, log)
			}
			for _, kw := range batch {
				out.errs[kw] = err
			}
			log.WithError(err).WithFields(map[string]interface{}{
				"provider": string(name),
				"batch":    i + 1,
				"batches":  len(batches),
				"keywords": len(batch),
			}).Warn("Provider batch failed")

			if ctx.Err() != nil || api.ShouldStopProvider(err) {
				failRest(i+1, err)
				out.stopped = stopReason(name, err)
				break
			}
			continue
		}

		// only keywords the vendor actually answered for count against quota
		cost := 0.0
		completed := 0
		var quotaErr error
		for _, r := range results {
			if r.Err == nil && r.Record != nil {
				out.records[r.Keyword] = r.Record
				cost += r.Record.CostUnits
				completed++
				continue
			}
			rerr := r.Err
			if rerr == nil {
				rerr = fmt.Errorf("%s: empty result for keyword %q", name, r.Keyword)
			}
			out.errs[r.Keyword] = rerr
			if c, billed := api.BilledCost(rerr); billed {
				cost += c
				completed++
			} else if errors.Is(rerr, api.ErrNoData) {
				completed++
			}
			if quotaErr == nil && api.IsQuotaExceeded(rerr) {
				quotaErr = rerr
			}
		}
		if completed > 0 || cost > 0 {
			l.record(ctx, tracker, completed, cost, &out, log)
		}

		if quotaErr != nil {
			failRest(i+1, quotaErr)
			out.stopped = stopReason(name, quotaErr)
			break
		}
	}
	return out
}

func (l *Lane) record(ctx context.Context, tracker *quota.Tracker, keywords int, cost float64, out *laneOutcome, log *logger.Logger) {
	units := tracker.Units(l.Name(), keywords)
	out.units += units
	out.cost += cost
	// usage is recorded even when the caller has gone away
	if err := tracker.RecordUsage(context.WithoutCancel(ctx), l.Name(), units, cost); err != nil {
		log.WithError(err).WithField("provider", string(l.Name())).Error("Failed to record usage")
	}
}

func stopReason(name keyword.Provider, err error) string {
	switch {
	case errors.Is(err, api.ErrCircuitOpen):
		return fmt.Sprintf("%s: circuit open, remaining keywords fall through", name)
	case api.IsQuotaExceeded(err):
		return fmt.Sprintf("%s: quota exceeded, no further calls in this batch: %v", name, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s: deadline exceeded before all batches were sent", name)
	case errors.Is(err, context.Canceled):
		return fmt.Sprintf("%s: request cancelled before all batches were sent", name)
	}
	return fmt.Sprintf("%s: provider stopped: %v", name, err)
}
