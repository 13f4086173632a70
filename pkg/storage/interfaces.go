package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"keyword-enricher/pkg/keyword"
)

var ErrCacheMiss = errors.New("cache miss")

// Key identifies one cached provider result
type Key struct {
	Keyword  string
	Location int
	Provider keyword.Provider
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%s", k.Provider, k.Location, k.Keyword)
}

// KeyFor builds the cache key of a record fetched from provider
func KeyFor(provider keyword.Provider, rec *keyword.Record) Key {
	return Key{Keyword: rec.Keyword, Location: rec.LocationCode, Provider: provider}
}

// RecordStore persists raw provider records. Staleness is decided by MetricsCache.
type RecordStore interface {
	// Get returns ErrCacheMiss when nothing is stored under key
	Get(ctx context.Context, key Key) (*keyword.Record, error)
	Put(ctx context.Context, key Key, rec *keyword.Record) error
	// PurgeOlderThan deletes records fetched before cutoff and returns how many it removed
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// StoreConfig selects and configures a backend
type StoreConfig struct {
	Backend     string      `mapstructure:"backend"`
	MemorySize  int         `mapstructure:"memory_size"`
	SQLitePath  string      `mapstructure:"sqlite_path"`
	PostgresDSN string      `mapstructure:"postgres_dsn"`
	Redis       RedisConfig `mapstructure:"redis"`
}

func encodeRecord(rec *keyword.Record) ([]byte, error) {
	stored := rec.Clone()
	stored.CacheAgeDays = nil
	return json.Marshal(stored)
}

func decodeRecord(data []byte) (*keyword.Record, error) {
	var rec keyword.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode cached record: %w", err)
	}
	return &rec, nil
}
