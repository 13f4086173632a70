package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/quota"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore keeps records and quota usage in PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, applies the embedded migrations and returns the store
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	if connString == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	if err := RunMigrations(connString); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// RunMigrations runs all embedded SQL migrations
func RunMigrations(connString string) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, connString)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (*keyword.Record, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM keyword_records WHERE keyword = $1 AND location_code = $2 AND provider = $3`,
		key.Keyword, key.Location, string(key.Provider),
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	return decodeRecord(payload)
}

func (s *PostgresStore) Put(ctx context.Context, key Key, rec *keyword.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO keyword_records (keyword, location_code, provider, fetched_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (keyword, location_code, provider) DO UPDATE SET
			fetched_at = EXCLUDED.fetched_at,
			payload = EXCLUDED.payload`,
		key.Keyword, key.Location, string(key.Provider), rec.FetchedAt, data,
	)
	if err != nil {
		return fmt.Errorf("postgres put: %w", err)
	}
	return nil
}

func (s *PostgresStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM keyword_records WHERE fetched_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ReadUsage(ctx context.Context, provider keyword.Provider) (*quota.Usage, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM provider_usage WHERE provider = $1`, string(provider)).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, quota.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres read usage: %w", err)
	}
	var usage quota.Usage
	if err := json.Unmarshal(payload, &usage); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	return &usage, nil
}

func (s *PostgresStore) WriteUsage(ctx context.Context, usage *quota.Usage) error {
	data, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO provider_usage (provider, payload, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (provider) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`,
		string(usage.Provider), data,
	)
	if err != nil {
		return fmt.Errorf("postgres write usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
