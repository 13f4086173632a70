package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"keyword-enricher/pkg/api"
	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/logger"
	"keyword-enricher/pkg/monitor"
	"keyword-enricher/pkg/quota"
	"keyword-enricher/pkg/storage"
)

var (
	ErrUnknownProvider = errors.New("provider is not configured")
	ErrInvalidOptions  = errors.New("invalid enrichment options")
)

// Options controls one Enrich call. Zero values fall back to the orchestrator's Config.
type Options struct {
	// Providers is the priority order; earlier providers win per field
	Providers []keyword.Provider
	Location  int
	// ForceRefresh skips cache reads; fresh results are still written back
	ForceRefresh bool
	// VolumeOnly sends later providers only the keywords still lacking search volume
	VolumeOnly bool
	// MaxKeywords caps the unique keywords fetched per call
	MaxKeywords int
	// Timeout bounds the whole call; keywords not attempted in time are unavailable
	Timeout time.Duration
}

// Config holds orchestrator defaults
type Config struct {
	DefaultProviders []keyword.Provider
	DefaultLocation  int
	MaxKeywords      int
	Timeout          time.Duration
	// CacheConcurrency bounds parallel cache lookups
	CacheConcurrency int
}

func DefaultConfig() Config {
	return Config{
		DefaultProviders: keyword.DefaultPriority,
		DefaultLocation:  2840,
		MaxKeywords:      1000,
		Timeout:          5 * time.Minute,
		CacheConcurrency: 16,
	}
}

// Observer receives every completed batch
type Observer interface {
	ObserveBatch(result *BatchResult)
}

// Orchestrator coordinates cache, quota and provider lanes for Enrich
type Orchestrator struct {
	config   Config
	lanes    map[keyword.Provider]*Lane
	order    []keyword.Provider
	cache    *storage.MetricsCache
	tracker  *quota.Tracker
	limiters *monitor.RateLimiterPool
	observer Observer
	now      func() time.Time
	log      *logger.Logger
}

// NewOrchestrator wires lanes to the shared cache and tracker. A nil cache disables
// caching; a nil tracker tracks nothing.
func NewOrchestrator(config Config, cache *storage.MetricsCache, tracker *quota.Tracker, limiters *monitor.RateLimiterPool, lanes ...*Lane) *Orchestrator {
	defaults := DefaultConfig()
	if len(config.DefaultProviders) == 0 {
		config.DefaultProviders = defaults.DefaultProviders
	}
	if config.DefaultLocation == 0 {
		config.DefaultLocation = defaults.DefaultLocation
	}
	if config.MaxKeywords <= 0 {
		config.MaxKeywords = defaults.MaxKeywords
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.CacheConcurrency <= 0 {
		config.CacheConcurrency = defaults.CacheConcurrency
	}
	if tracker == nil {
		tracker = quota.NewTracker(nil, 0)
	}
	if limiters == nil {
		limiters = monitor.NewRateLimiterPool()
	}

	o := &Orchestrator{
		config:   config,
		lanes:    make(map[keyword.Provider]*Lane, len(lanes)),
		cache:    cache,
		tracker:  tracker,
		limiters: limiters,
		now:      time.Now,
		log:      logger.GetLogger().WithField("component", "orchestrator"),
	}
	for _, lane := range lanes {
		o.lanes[lane.Name()] = lane
		o.order = append(o.order, lane.Name())
		limiters.GetOrCreate(string(lane.Name()), lane.Interval)
	}
	return o
}

// SetObserver registers the batch observer
func (o *Orchestrator) SetObserver(observer Observer) {
	o.observer = observer
}

// SetClock replaces the time source used for fetch timestamps and durations
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Lane returns the lane of provider
func (o *Orchestrator) Lane(provider keyword.Provider) (*Lane, bool) {
	lane, ok := o.lanes[provider]
	return lane, ok
}

// Providers returns the configured providers in registration order
func (o *Orchestrator) Providers() []keyword.Provider {
	return append([]keyword.Provider(nil), o.order...)
}

func (o *Orchestrator) Tracker() *quota.Tracker {
	return o.tracker
}

// keywordState collects per-provider contributions for one keyword
type keywordState struct {
	parts  map[keyword.Provider]*keyword.Record
	errors []string
}

// merged folds contributions in priority order
func (s *keywordState) merged(kw string, location int, providers []keyword.Provider) *keyword.Record {
	rec := keyword.NewRecord(kw, location)
	for _, p := range providers {
		if part, ok := s.parts[p]; ok {
			rec.Merge(part)
		}
	}
	return rec
}

// Enrich returns one record per unique normalized keyword. Provider and keyword
// failures degrade to unavailable records and warnings; an error is returned only
// for invalid options.
func (o *Orchestrator) Enrich(ctx context.Context, keywords []string, opts Options) (*BatchResult, error) {
	opts, err := o.resolve(opts)
	if err != nil {
		return nil, err
	}
	started := o.now()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	unique := keyword.Dedupe(keywords)
	result := &BatchResult{
		ID:        uuid.NewString(),
		Location:  opts.Location,
		Providers: opts.Providers,
		Keywords:  unique,
		Records:   make(map[string]*keyword.Record, len(unique)),
		Warnings:  []string{},
		Preflight: make(map[keyword.Provider]quota.Verdict),
		Stats: Stats{
			Requested: len(unique),
			Fetched:   make(map[keyword.Provider]int, len(opts.Providers)),
		},
	}
	for _, p := range opts.Providers {
		result.Stats.Fetched[p] = 0
	}
	log := o.log.WithFields(map[string]interface{}{
		"batch_id": result.ID,
		"location": opts.Location,
	})

	active := unique
	if len(active) > opts.MaxKeywords {
		over := active[opts.MaxKeywords:]
		active = active[:opts.MaxKeywords]
		for _, kw := range over {
			result.Records[kw] = keyword.NewUnavailable(kw, opts.Location,
				fmt.Sprintf("keyword exceeds the per-call cap of %d", opts.MaxKeywords))
		}
		result.Stats.Truncated = len(over)
		result.warn(fmt.Sprintf("%d keywords exceed the per-call cap of %d and were not fetched", len(over), opts.MaxKeywords))
	}

	states := make(map[string]*keywordState, len(active))
	for _, kw := range active {
		states[kw] = &keywordState{parts: make(map[keyword.Provider]*keyword.Record)}
	}

	if o.cache != nil && !opts.ForceRefresh {
		result.Stats.CacheHits = o.readCache(ctx, active, opts, states)
	}

	for _, p := range opts.Providers {
		lane := o.lanes[p]
		gap := o.gap(active, lane, opts, states)
		if len(gap) == 0 {
			continue
		}
		if ctx.Err() != nil {
			result.warn(fmt.Sprintf("%s: not attempted, %v", p, ctx.Err()))
			markAll(states, gap, fmt.Sprintf("%s: not attempted: %v", p, ctx.Err()))
			continue
		}
		if !lane.Breaker.Allows() {
			result.warn(fmt.Sprintf("%s: circuit open, %d keywords fall through", p, len(gap)))
			markAll(states, gap, fmt.Sprintf("%s: %v", p, api.ErrCircuitOpen))
			continue
		}

		avail, err := o.tracker.CheckAvailability(ctx, len(gap), []keyword.Provider{p})
		if err != nil {
			log.WithError(err).WithField("provider", string(p)).Error("Quota pre-flight failed")
			result.warn(fmt.Sprintf("%s: quota state unavailable, provider skipped", p))
			markAll(states, gap, fmt.Sprintf("%s: quota state unavailable", p))
			continue
		}
		verdict := avail.Providers[p]
		result.Preflight[p] = verdict
		for _, w := range avail.Warnings {
			result.warn(w)
		}
		if !verdict.CanProceed {
			log.WithField("provider", string(p)).Warn(verdict.Reason)
			markAll(states, gap, verdict.Reason)
			continue
		}
		result.Stats.EstimatedCost += verdict.EstimatedCost

		out := lane.dispatch(ctx, gap, opts.Location, o.limiters, o.tracker, log)
		result.Stats.ActualCost += out.cost
		if out.stopped != "" {
			result.warn(out.stopped)
		}
		for kw, rec := range out.records {
			st, ok := states[kw]
			if !ok {
				continue
			}
			rec.LocationCode = opts.Location
			if rec.DataSource == "" {
				rec.DataSource = keyword.DataSource(p)
			}
			if rec.FetchedAt.IsZero() {
				rec.FetchedAt = o.now()
			}
			st.parts[p] = rec
			result.Stats.Fetched[p]++
			if o.cache != nil {
				if err := o.cache.Put(context.WithoutCancel(ctx), p, rec); err != nil {
					log.WithError(err).WithField("keyword", kw).Warn("Failed to cache record")
				}
			}
		}
		for kw, ferr := range out.errs {
			if st, ok := states[kw]; ok {
				st.errors = append(st.errors, describe(p, ferr))
			}
		}
	}

	for _, kw := range active {
		st := states[kw]
		rec := st.merged(kw, opts.Location, opts.Providers)
		rec.Finalize()
		if !rec.HasVolume() {
			result.Stats.Failed++
			rec.Error = unavailableReason(st.errors)
		}
		result.Records[kw] = rec
	}
	result.Stats.Failed += result.Stats.Truncated
	result.Stats.Duration = o.now().Sub(started)

	log.WithFields(map[string]interface{}{
		"requested":  result.Stats.Requested,
		"cache_hits": result.Stats.CacheHits,
		"fetched":    result.Stats.Fetched,
		"failed":     result.Stats.Failed,
		"cost":       result.Stats.ActualCost,
		"warnings":   len(result.Warnings),
		"duration":   result.Stats.Duration.String(),
	}).Info("Enrichment batch completed")

	if o.observer != nil {
		o.observer.ObserveBatch(result)
	}
	return result, nil
}

// Estimate runs the quota pre-flight for sending keywords to every provider of opts
// without calling anything
func (o *Orchestrator) Estimate(ctx context.Context, keywordCount int, providers []keyword.Provider) (quota.Availability, error) {
	opts, err := o.resolve(Options{Providers: providers})
	if err != nil {
		return quota.Availability{}, err
	}
	return o.tracker.CheckAvailability(ctx, keywordCount, opts.Providers)
}

func (o *Orchestrator) resolve(opts Options) (Options, error) {
	if opts.MaxKeywords < 0 {
		return opts, fmt.Errorf("%w: negative keyword cap %d", ErrInvalidOptions, opts.MaxKeywords)
	}
	if opts.Timeout < 0 {
		return opts, fmt.Errorf("%w: negative timeout %s", ErrInvalidOptions, opts.Timeout)
	}
	if opts.Location < 0 {
		return opts, fmt.Errorf("%w: negative location %d", ErrInvalidOptions, opts.Location)
	}

	providers := opts.Providers
	if len(providers) == 0 {
		for _, p := range o.config.DefaultProviders {
			if _, ok := o.lanes[p]; ok {
				providers = append(providers, p)
			}
		}
	}
	seen := make(map[keyword.Provider]bool, len(providers))
	resolved := make([]keyword.Provider, 0, len(providers))
	for _, p := range providers {
		if _, ok := o.lanes[p]; !ok {
			return opts, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		resolved = append(resolved, p)
	}
	opts.Providers = resolved

	if opts.Location == 0 {
		opts.Location = o.config.DefaultLocation
	}
	if opts.MaxKeywords == 0 {
		opts.MaxKeywords = o.config.MaxKeywords
	}
	if opts.Timeout == 0 {
		opts.Timeout = o.config.Timeout
	}
	return opts, nil
}

// readCache looks up every (keyword, provider) pair concurrently and returns the
// number of keywords with at least one cached part
func (o *Orchestrator) readCache(ctx context.Context, keywords []string, opts Options, states map[string]*keywordState) int {
	var mu sync.Mutex
	hits := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.CacheConcurrency)
	for _, kw := range keywords {
		kw := kw
		g.Go(func() error {
			found := make(map[keyword.Provider]*keyword.Record)
			for _, p := range opts.Providers {
				if rec, ok := o.cache.Get(gctx, kw, opts.Location, p); ok {
					found[p] = rec
				}
			}
			mu.Lock()
			defer mu.Unlock()
			for p, rec := range found {
				states[kw].parts[p] = rec
			}
			if len(found) > 0 {
				hits++
			}
			return nil
		})
	}
	_ = g.Wait()
	return hits
}

// gap returns the keywords lane should fetch: those it has not served from cache
// that still lack volume, or that lack a field the provider supplies
func (o *Orchestrator) gap(keywords []string, lane *Lane, opts Options, states map[string]*keywordState) []string {
	p := lane.Name()
	fields := lane.Provider.Fields()
	var out []string
	for _, kw := range keywords {
		st := states[kw]
		if _, cached := st.parts[p]; cached {
			continue
		}
		current := st.merged(kw, opts.Location, opts.Providers)
		if !current.HasVolume() && fields.Has(keyword.FieldSearchVolume) {
			out = append(out, kw)
			continue
		}
		if !opts.VolumeOnly && current.Missing(fields) != 0 {
			out = append(out, kw)
		}
	}
	return out
}

func markAll(states map[string]*keywordState, keywords []string, reason string) {
	for _, kw := range keywords {
		states[kw].errors = append(states[kw].errors, reason)
	}
}

func describe(p keyword.Provider, err error) string {
	msg := err.Error()
	if strings.HasPrefix(msg, string(p)) {
		return msg
	}
	return fmt.Sprintf("%s: %s", p, msg)
}

func unavailableReason(errs []string) string {
	if len(errs) == 0 {
		return "no provider returned search volume"
	}
	return strings.Join(errs, "; ")
}
