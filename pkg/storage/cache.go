package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/logger"
)

const day = 24 * time.Hour

// MetricsCache applies the staleness policy over a RecordStore. A record is usable
// while its age is at most maxAgeDays; its age is computed on every read.
type MetricsCache struct {
	store      RecordStore
	maxAgeDays float64
	now        func() time.Time
	log        *logger.Logger

	hits   int64
	misses int64
}

func NewMetricsCache(store RecordStore, maxAgeDays float64) *MetricsCache {
	return &MetricsCache{
		store:      store,
		maxAgeDays: maxAgeDays,
		now:        time.Now,
		log:        logger.GetLogger().WithField("component", "metrics_cache"),
	}
}

// SetClock replaces the time source
func (c *MetricsCache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *MetricsCache) MaxAgeDays() float64 {
	return c.maxAgeDays
}

// Get returns a fresh copy of the cached record with DataSource "cached", Origin set
// to provider and CacheAgeDays computed now. Stale records and store errors are misses.
func (c *MetricsCache) Get(ctx context.Context, kw string, location int, provider keyword.Provider) (*keyword.Record, bool) {
	rec, err := c.store.Get(ctx, Key{Keyword: kw, Location: location, Provider: provider})
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.log.WithError(err).WithField("provider", string(provider)).Warn("Cache read failed")
		}
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	age := c.now().Sub(rec.FetchedAt).Hours() / 24
	if rec.FetchedAt.IsZero() || age > c.maxAgeDays {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	if age < 0 {
		age = 0
	}

	rec.Keyword = kw
	rec.DataSource = keyword.SourceCached
	rec.Origin = keyword.DataSource(provider)
	rec.CostUnits = 0
	rec.CacheAgeDays = keyword.Float64(age)
	rec.Error = ""
	atomic.AddInt64(&c.hits, 1)
	return rec, true
}

// Put stores a freshly fetched provider record. Cache hits are never written back.
func (c *MetricsCache) Put(ctx context.Context, provider keyword.Provider, rec *keyword.Record) error {
	if rec == nil {
		return nil
	}
	if rec.DataSource == keyword.SourceCached || rec.DataSource == keyword.SourceUnavailable {
		return fmt.Errorf("refusing to cache %s record for %q", rec.DataSource, rec.Keyword)
	}
	if rec.FetchedAt.IsZero() {
		return fmt.Errorf("record for %q has no fetch time", rec.Keyword)
	}
	stored := rec.Clone()
	stored.CacheAgeDays = nil
	stored.OpportunityScore = nil
	return c.store.Put(ctx, KeyFor(provider, stored), stored)
}

// Purge deletes records that can no longer be served
func (c *MetricsCache) Purge(ctx context.Context) (int64, error) {
	cutoff := c.now().Add(-time.Duration(c.maxAgeDays * float64(day)))
	n, err := c.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	if n > 0 {
		c.log.WithField("removed", n).Info("Purged stale cache records")
	}
	return n, nil
}

// Stats returns the hit and miss counters
func (c *MetricsCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

func (c *MetricsCache) Close() error {
	return c.store.Close()
}
