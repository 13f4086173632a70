package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/quota"
)

// SQLiteStore keeps records and quota usage in a local SQLite file
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent lanes
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS keyword_records (
			keyword TEXT NOT NULL,
			location_code INTEGER NOT NULL,
			provider TEXT NOT NULL,
			fetched_at INTEGER NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (keyword, location_code, provider)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_keyword_records_fetched ON keyword_records(fetched_at)`,
		`CREATE TABLE IF NOT EXISTS provider_usage (
			provider TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) (*keyword.Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM keyword_records WHERE keyword = ? AND location_code = ? AND provider = ?`,
		key.Keyword, key.Location, string(key.Provider),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	return decodeRecord([]byte(payload))
}

func (s *SQLiteStore) Put(ctx context.Context, key Key, rec *keyword.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO keyword_records (keyword, location_code, provider, fetched_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(keyword, location_code, provider) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			payload = excluded.payload`,
		key.Keyword, key.Location, string(key.Provider), rec.FetchedAt.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM keyword_records WHERE fetched_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ReadUsage(ctx context.Context, provider keyword.Provider) (*quota.Usage, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM provider_usage WHERE provider = ?`, string(provider)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, quota.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read usage: %w", err)
	}
	var usage quota.Usage
	if err := json.Unmarshal([]byte(payload), &usage); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	return &usage, nil
}

func (s *SQLiteStore) WriteUsage(ctx context.Context, usage *quota.Usage) error {
	data, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO provider_usage (provider, payload, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(provider) DO UPDATE SET payload = excluded.payload, updated_at = CURRENT_TIMESTAMP`,
		string(usage.Provider), string(data),
	)
	if err != nil {
		return fmt.Errorf("sqlite write usage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
