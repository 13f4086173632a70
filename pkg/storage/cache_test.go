package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyword-enricher/pkg/keyword"
)

type failingStore struct{ RecordStore }

func (failingStore) Get(ctx context.Context, key Key) (*keyword.Record, error) {
	return nil, errors.New("connection refused")
}

func newTestCache(now time.Time) *MetricsCache {
	c := NewMetricsCache(NewMemoryStore(0), 30)
	c.SetClock(func() time.Time { return now })
	return c
}

func TestMetricsCache_HitComputesAge(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(baseTime)

	require.NoError(t, c.Put(ctx, keyword.ProviderAdsMetrics, sampleRecord("shoes", baseTime.Add(-36*time.Hour))))

	rec, ok := c.Get(ctx, "shoes", 2840, keyword.ProviderAdsMetrics)
	require.True(t, ok)
	assert.Equal(t, keyword.SourceCached, rec.DataSource)
	assert.Equal(t, keyword.SourceAdsMetrics, rec.Origin)
	require.NotNil(t, rec.CacheAgeDays)
	assert.InDelta(t, 1.5, *rec.CacheAgeDays, 1e-9)
	assert.Zero(t, rec.CostUnits)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(0), misses)
}

func TestMetricsCache_AgeIsRecomputed(t *testing.T) {
	ctx := context.Background()
	now := baseTime
	c := NewMetricsCache(NewMemoryStore(0), 30)
	c.SetClock(func() time.Time { return now })

	require.NoError(t, c.Put(ctx, keyword.ProviderSERP, sampleRecord("shoes", baseTime)))

	now = baseTime.Add(48 * time.Hour)
	rec, ok := c.Get(ctx, "shoes", 2840, keyword.ProviderSERP)
	require.True(t, ok)
	assert.InDelta(t, 2.0, *rec.CacheAgeDays, 1e-9)
}

func TestMetricsCache_StalenessBoundary(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(baseTime)

	require.NoError(t, c.Put(ctx, keyword.ProviderAdsMetrics, sampleRecord("edge", baseTime.AddDate(0, 0, -30))))
	require.NoError(t, c.Put(ctx, keyword.ProviderAdsMetrics, sampleRecord("stale", baseTime.AddDate(0, 0, -30).Add(-time.Second))))

	_, ok := c.Get(ctx, "edge", 2840, keyword.ProviderAdsMetrics)
	assert.True(t, ok, "record exactly maxAge old is fresh")

	_, ok = c.Get(ctx, "stale", 2840, keyword.ProviderAdsMetrics)
	assert.False(t, ok, "record older than maxAge is a miss")
}

func TestMetricsCache_StoreErrorIsMiss(t *testing.T) {
	c := NewMetricsCache(failingStore{}, 30)

	_, ok := c.Get(context.Background(), "shoes", 2840, keyword.ProviderAdsMetrics)
	assert.False(t, ok)

	_, misses := c.Stats()
	assert.Equal(t, int64(1), misses)
}

func TestMetricsCache_RejectsDerivedRecords(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(baseTime)

	cached := sampleRecord("a", baseTime)
	cached.DataSource = keyword.SourceCached
	assert.Error(t, c.Put(ctx, keyword.ProviderAdsMetrics, cached))

	unavailable := keyword.NewUnavailable("b", 2840, "no data")
	unavailable.FetchedAt = baseTime
	assert.Error(t, c.Put(ctx, keyword.ProviderAdsMetrics, unavailable))

	noTime := sampleRecord("c", time.Time{})
	assert.Error(t, c.Put(ctx, keyword.ProviderAdsMetrics, noTime))
}

func TestMetricsCache_Purge(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(baseTime)

	require.NoError(t, c.Put(ctx, keyword.ProviderAdsMetrics, sampleRecord("old", baseTime.AddDate(0, 0, -45))))
	require.NoError(t, c.Put(ctx, keyword.ProviderAdsMetrics, sampleRecord("new", baseTime.AddDate(0, 0, -1))))

	n, err := c.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok := c.Get(ctx, "new", 2840, keyword.ProviderAdsMetrics)
	assert.True(t, ok)
}
