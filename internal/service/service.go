package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"keyword-enricher/internal/config"
	"keyword-enricher/pkg/api"
	"keyword-enricher/pkg/enrichment"
	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/logger"
	"keyword-enricher/pkg/monitor"
	"keyword-enricher/pkg/quota"
	"keyword-enricher/pkg/storage"
)

var ErrUnknownProvider = errors.New("provider is not enabled")

// ProviderStatus is the operational view of one enabled provider
type ProviderStatus struct {
	Name      keyword.Provider `json:"name"`
	BatchSize int              `json:"batch_size"`
	Breaker   api.BreakerStats `json:"breaker"`
	Usage     *quota.Usage     `json:"usage,omitempty"`
}

// Option adjusts how New builds the service
type Option func(*options)

type options struct {
	providers map[keyword.Provider]api.MetricsProvider
}

// WithProvider replaces the adapter New would build for the provider's name.
// The provider must still be enabled in the configuration.
func WithProvider(p api.MetricsProvider) Option {
	return func(o *options) {
		o.providers[p.Name()] = p
	}
}

// Service wires configuration into stores, adapters, the quota tracker and the
// orchestrator, and owns the scheduled maintenance jobs
type Service struct {
	config       *config.Config
	records      storage.RecordStore
	cache        *storage.MetricsCache
	tracker      *quota.Tracker
	orchestrator *enrichment.Orchestrator
	collector    *monitor.Collector
	registry     *prometheus.Registry
	limiter      *monitor.ConcurrencyLimiter
	scheduler    *cron.Cron
	log          *logger.Logger
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	o := &options{providers: make(map[keyword.Provider]api.MetricsProvider)}
	for _, opt := range opts {
		opt(o)
	}
	log := logger.GetLogger().WithField("component", "service")

	records, usage, err := storage.Open(ctx, storage.StoreConfig{
		Backend:     cfg.Cache.Backend,
		MemorySize:  cfg.Cache.MemorySize,
		SQLitePath:  cfg.Cache.SQLitePath,
		PostgresDSN: cfg.Cache.PostgresDSN,
		Redis: storage.RedisConfig{
			Address:  cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
			TTL:      cfg.Cache.RedisTTL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Cache.Backend, err)
	}

	var lanes []*enrichment.Lane
	var policies []quota.Policy
	for _, name := range keyword.DefaultPriority {
		pc, _ := cfg.Providers.Provider(string(name))
		if !pc.Enabled {
			continue
		}
		provider, ok := o.providers[name]
		if !ok {
			provider = buildProvider(name, pc)
		}
		lanes = append(lanes, enrichment.NewLane(provider, breakerConfig(name, pc), retryConfig(pc), pc.Interval))
		if policy, ok := quotaPolicy(provider, pc); ok {
			policies = append(policies, policy)
		}
		log.WithFields(map[string]interface{}{
			"provider":   name,
			"endpoint":   logger.MaskURL(pc.Endpoint),
			"batch_size": provider.BatchSize(),
			"quota":      pc.Quota.Model,
		}).Info("Provider enabled")
	}
	if len(lanes) == 0 {
		records.Close()
		return nil, errors.New("no provider enabled")
	}

	var defaults []keyword.Provider
	for _, name := range cfg.Engine.Providers {
		if p, ok := keyword.ParseProvider(name); ok {
			defaults = append(defaults, p)
		}
	}

	cache := storage.NewMetricsCache(records, cfg.Cache.MaxAgeDays)
	tracker := quota.NewTracker(usage, cfg.Quota.WarningThreshold, policies...)
	orchestrator := enrichment.NewOrchestrator(enrichment.Config{
		DefaultProviders: defaults,
		DefaultLocation:  cfg.Engine.Location,
		MaxKeywords:      cfg.Engine.MaxKeywords,
		Timeout:          cfg.Engine.Timeout,
		CacheConcurrency: cfg.Engine.CacheConcurrency,
	}, cache, tracker, monitor.NewRateLimiterPool(), lanes...)

	s := &Service{
		config:       cfg,
		records:      records,
		cache:        cache,
		tracker:      tracker,
		orchestrator: orchestrator,
		limiter:      monitor.NewConcurrencyLimiter(cfg.Server.MaxConcurrent, cfg.Server.AcquireTimeout),
		scheduler:    cron.New(),
		log:          log,
	}

	s.collector = monitor.NewCollector(s.breakerStats, tracker)
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		s.collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	orchestrator.SetObserver(batchObserver{collector: s.collector})

	if err := s.schedule(); err != nil {
		cache.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) schedule() error {
	if expr := s.config.Quota.RolloverSchedule; expr != "" {
		if _, err := s.scheduler.AddFunc(expr, func() {
			if _, err := s.RollOver(context.Background()); err != nil {
				s.log.WithError(err).Warn("Quota rollover failed")
			}
		}); err != nil {
			return fmt.Errorf("invalid rollover schedule %q: %w", expr, err)
		}
	}
	if expr := s.config.Cache.PurgeSchedule; expr != "" {
		if _, err := s.scheduler.AddFunc(expr, func() {
			if _, err := s.Purge(context.Background()); err != nil {
				s.log.WithError(err).Warn("Cache purge failed")
			}
		}); err != nil {
			return fmt.Errorf("invalid purge schedule %q: %w", expr, err)
		}
	}
	return nil
}

// Start runs the scheduled jobs
func (s *Service) Start() {
	s.scheduler.Start()
	s.log.WithField("jobs", len(s.scheduler.Entries())).Info("Scheduler started")
}

// Close waits for running jobs and releases the stores
func (s *Service) Close(ctx context.Context) error {
	select {
	case <-s.scheduler.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("Scheduled job still running at shutdown")
	}
	return s.cache.Close()
}

// Enrich runs one batch, bounded by the configured number of concurrent batches
func (s *Service) Enrich(ctx context.Context, keywords []string, opts enrichment.Options) (*enrichment.BatchResult, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()
	return s.orchestrator.Enrich(ctx, keywords, opts)
}

// Estimate is the pre-flight quota check for keywordCount keywords
func (s *Service) Estimate(ctx context.Context, keywordCount int, providers []keyword.Provider) (quota.Availability, error) {
	return s.orchestrator.Estimate(ctx, keywordCount, providers)
}

// Providers reports breaker and quota state of every enabled provider in priority order
func (s *Service) Providers(ctx context.Context) ([]ProviderStatus, error) {
	out := make([]ProviderStatus, 0, len(s.orchestrator.Providers()))
	for _, name := range s.orchestrator.Providers() {
		lane, _ := s.orchestrator.Lane(name)
		status := ProviderStatus{
			Name:      name,
			BatchSize: lane.Provider.BatchSize(),
			Breaker:   lane.Breaker.Stats(),
		}
		if _, ok := s.tracker.Policy(name); ok {
			usage, err := s.tracker.Usage(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("failed to read usage of %s: %w", name, err)
			}
			status.Usage = &usage
		}
		out = append(out, status)
	}
	return out, nil
}

// ResetBreaker forces a provider's circuit closed
func (s *Service) ResetBreaker(name string) error {
	p, ok := keyword.ParseProvider(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	lane, ok := s.orchestrator.Lane(p)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	lane.Breaker.Reset()
	s.log.WithField("provider", p).Info("Circuit breaker reset")
	return nil
}

// SetBalance records a top-up of a balance-based provider
func (s *Service) SetBalance(ctx context.Context, name string, balance float64) error {
	p, ok := keyword.ParseProvider(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return s.tracker.SetBalance(ctx, p, balance)
}

// RollOver resets the quota windows that have ended
func (s *Service) RollOver(ctx context.Context) ([]keyword.Provider, error) {
	rolled, err := s.tracker.RollOver(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	if len(rolled) > 0 {
		s.log.WithField("providers", rolled).Info("Quota windows rolled over")
	}
	return rolled, nil
}

// Purge deletes cache records older than the staleness bound
func (s *Service) Purge(ctx context.Context) (int64, error) {
	return s.cache.Purge(ctx)
}

type healthChecker interface {
	Health(ctx context.Context) error
}

// Health pings the backing store when it supports it
func (s *Service) Health(ctx context.Context) error {
	if hc, ok := s.records.(healthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Service) Concurrency() monitor.ConcurrencyStats {
	return s.limiter.Stats()
}

func (s *Service) breakerStats() []api.BreakerStats {
	providers := s.orchestrator.Providers()
	out := make([]api.BreakerStats, 0, len(providers))
	for _, name := range providers {
		if lane, ok := s.orchestrator.Lane(name); ok {
			out = append(out, lane.Breaker.Stats())
		}
	}
	return out
}

type batchObserver struct {
	collector *monitor.Collector
}

func (o batchObserver) ObserveBatch(r *enrichment.BatchResult) {
	o.collector.RecordBatch(monitor.BatchMetrics{
		CacheHits: r.Stats.CacheHits,
		Fetched:   r.Stats.Fetched,
		Failed:    r.Stats.Failed,
		Cost:      r.Stats.ActualCost,
		Warnings:  len(r.Warnings),
		Duration:  r.Stats.Duration,
	})
}
