// Package postgres provides Postgres-backed persistence for extracted
// records.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopharvest/crawler/internal/records"
)

// DB is the subset of pgxpool.Pool the store needs; it matches pgxmock so
// tests can run without a live database.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// RecordStore implements records.Store on Postgres.
type RecordStore struct {
	db DB
}

// New connects a pool and wraps it in a store.
func New(ctx context.Context, dsn string) (*RecordStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &RecordStore{db: pool}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db DB) *RecordStore {
	return &RecordStore{db: db}
}

// SaveRecord upserts one record keyed by (stage, key). Fields are stored as
// JSONB so the schema stays stable while field sets vary by stage.
func (s *RecordStore) SaveRecord(ctx context.Context, rec records.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal record fields: %w", err)
	}
	query := `
		INSERT INTO extracted_records (stage, key, task_id, fields, extracted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stage, key) DO UPDATE
		SET task_id = EXCLUDED.task_id,
		    fields = EXCLUDED.fields,
		    extracted_at = EXCLUDED.extracted_at;
	`
	if _, err := s.db.Exec(ctx, query, string(rec.Stage), rec.Key, rec.TaskID, fields, rec.ExtractedAt); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *RecordStore) Close() {
	s.db.Close()
}
