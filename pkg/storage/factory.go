package storage

import (
	"context"
	"fmt"

	"keyword-enricher/pkg/quota"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Open builds the record store for cfg together with a usage store sharing its
// backend. The memory backend keeps usage in process memory.
func Open(ctx context.Context, cfg StoreConfig) (RecordStore, quota.UsageStore, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(cfg.MemorySize), quota.NewMemoryStore(), nil
	case BackendSQLite:
		s, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case BackendRedis:
		s, err := NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case BackendPostgres:
		s, err := NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
