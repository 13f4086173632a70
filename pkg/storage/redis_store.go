package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/quota"
)

const (
	redisRecordPrefix = "kwenrich:record:"
	redisUsagePrefix  = "kwenrich:usage:"
	redisFetchIndex   = "kwenrich:fetched"
)

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	// TTL bounds how long Redis keeps a record; zero keeps it until purged
	TTL time.Duration `mapstructure:"ttl"`
}

// RedisStore keeps records and quota usage in Redis. A sorted set indexed by fetch
// time lets PurgeOlderThan find stale keys without scanning.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{rdb: rdb, ttl: config.TTL}, nil
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*keyword.Record, error) {
	data, err := s.rdb.Get(ctx, redisRecordPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeRecord(data)
}

func (s *RedisStore) Put(ctx context.Context, key Key, rec *keyword.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	k := redisRecordPrefix + key.String()
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, k, data, s.ttl)
	pipe.ZAdd(ctx, redisFetchIndex, &redis.Z{Score: float64(rec.FetchedAt.Unix()), Member: k})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (s *RedisStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	max := "(" + strconv.FormatInt(cutoff.Unix(), 10)
	keys, err := s.rdb.ZRangeByScore(ctx, redisFetchIndex, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scan fetch index: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}

	pipe := s.rdb.TxPipeline()
	del := pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, redisFetchIndex, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis purge: %w", err)
	}
	return del.Val(), nil
}

func (s *RedisStore) ReadUsage(ctx context.Context, provider keyword.Provider) (*quota.Usage, error) {
	data, err := s.rdb.Get(ctx, redisUsagePrefix+string(provider)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, quota.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis read usage: %w", err)
	}
	var usage quota.Usage
	if err := json.Unmarshal(data, &usage); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	return &usage, nil
}

func (s *RedisStore) WriteUsage(ctx context.Context, usage *quota.Usage) error {
	data, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}
	if err := s.rdb.Set(ctx, redisUsagePrefix+string(usage.Provider), data, 0).Err(); err != nil {
		return fmt.Errorf("redis write usage: %w", err)
	}
	return nil
}

func (s *RedisStore) Health(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
