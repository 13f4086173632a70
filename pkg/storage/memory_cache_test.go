package storage

import (
	"context"
	"testing"

	"keyword-enricher/pkg/keyword"
)

func TestMemoryStore_Contract(t *testing.T) {
	// usage lives in quota.MemoryStore for this backend
	s := NewMemoryStore(0)
	ctx := context.Background()
	key := Key{Keyword: "a", Location: 2840, Provider: keyword.ProviderAdsMetrics}

	if _, err := s.Get(ctx, key); err != ErrCacheMiss {
		t.Fatalf("expected miss, got %v", err)
	}
	rec := sampleRecord("a", baseTime)
	if err := s.Put(ctx, key, rec); err != nil {
		t.Fatal(err)
	}

	rec.SearchVolume = keyword.Int64(1)
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if *got.SearchVolume != 1200 {
		t.Errorf("stored record aliased caller's record: volume %d", *got.SearchVolume)
	}

	got.SearchVolume = keyword.Int64(7)
	again, _ := s.Get(ctx, key)
	if *again.SearchVolume != 1200 {
		t.Errorf("returned record aliased stored record: volume %d", *again.SearchVolume)
	}
}

func TestMemoryStore_LRUEviction(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	keyFor := func(kw string) Key {
		return Key{Keyword: kw, Location: 2840, Provider: keyword.ProviderSERP}
	}

	s.Put(ctx, keyFor("a"), sampleRecord("a", baseTime))
	s.Put(ctx, keyFor("b"), sampleRecord("b", baseTime))
	// touch a so b becomes least recently used
	s.Get(ctx, keyFor("a"))
	s.Put(ctx, keyFor("c"), sampleRecord("c", baseTime))

	if s.Size() != 2 {
		t.Fatalf("expected size 2, got %d", s.Size())
	}
	if _, err := s.Get(ctx, keyFor("b")); err != ErrCacheMiss {
		t.Errorf("expected b to be evicted")
	}
	if _, err := s.Get(ctx, keyFor("a")); err != nil {
		t.Errorf("expected a to survive: %v", err)
	}
}

func TestMemoryStore_Purge(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	s.Put(ctx, Key{Keyword: "old", Provider: keyword.ProviderSERP}, sampleRecord("old", baseTime.AddDate(0, 0, -31)))
	s.Put(ctx, Key{Keyword: "new", Provider: keyword.ProviderSERP}, sampleRecord("new", baseTime))

	n, err := s.PurgeOlderThan(ctx, baseTime.AddDate(0, 0, -30))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || s.Size() != 1 {
		t.Errorf("expected 1 purged and 1 left, got %d purged and %d left", n, s.Size())
	}
}
