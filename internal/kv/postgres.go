package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"signet/pkg/platform/sentinel"
)

// Postgres is a Store over the kv_entries table. Update holds a transaction
// scoped advisory lock on the key for the duration of fn.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const (
	selectValueSQL = `SELECT value FROM kv_entries WHERE key = $1`
	upsertValueSQL = `INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	advisoryLockSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`
)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	value, found, err := s.get(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, sentinel.ErrNotFound
	}
	return value, nil
}

func (s *Postgres) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, upsertValueSQL, key, value); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update %s: %w", key, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, advisoryLockSQL, key); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	current, found, err := s.get(ctx, tx, key)
	if err != nil {
		return err
	}
	next, err := fn(ctx, current, found)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsertValueSQL, key, next); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update %s: %w", key, err)
	}
	return nil
}

func (s *Postgres) get(ctx context.Context, q queryer, key string) ([]byte, bool, error) {
	var value []byte
	err := q.QueryRowContext(ctx, selectValueSQL, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select %s: %w", key, err)
	}
	return value, true, nil
}
