package kv_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signet/internal/kv"
	"signet/pkg/platform/sentinel"
)

var (
	selectValue = regexp.QuoteMeta(`SELECT value FROM kv_entries WHERE key = $1`)
	upsertValue = regexp.QuoteMeta(`INSERT INTO kv_entries (key, value, updated_at)`)
	lockKey     = regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)
)

func newSQLMock(t *testing.T) (*kv.Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return kv.NewPostgres(db), mock
}

func TestPostgresGet(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		store, mock := newSQLMock(t)
		mock.ExpectQuery(selectValue).WithArgs("k").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("v")))

		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("missing maps to not found", func(t *testing.T) {
		store, mock := newSQLMock(t)
		mock.ExpectQuery(selectValue).WithArgs("k").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))

		_, err := store.Get(ctx, "k")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestPostgresSet(t *testing.T) {
	store, mock := newSQLMock(t)
	mock.ExpectExec(upsertValue).WithArgs("k", []byte("v")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Set(context.Background(), "k", []byte("v")))
}

func TestPostgresUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("locks reads writes and commits", func(t *testing.T) {
		store, mock := newSQLMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(lockKey).WithArgs("k").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(selectValue).WithArgs("k").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("old")))
		mock.ExpectExec(upsertValue).WithArgs("k", []byte("old+new")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.Update(ctx, "k", func(_ context.Context, current []byte, found bool) ([]byte, error) {
			assert.True(t, found)
			return append(current, "+new"...), nil
		})
		require.NoError(t, err)
	})

	t.Run("absent key reports not found to fn", func(t *testing.T) {
		store, mock := newSQLMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(lockKey).WithArgs("k").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(selectValue).WithArgs("k").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))
		mock.ExpectExec(upsertValue).WithArgs("k", []byte("fresh")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.Update(ctx, "k", func(_ context.Context, current []byte, found bool) ([]byte, error) {
			assert.False(t, found)
			assert.Nil(t, current)
			return []byte("fresh"), nil
		})
		require.NoError(t, err)
	})

	t.Run("fn error rolls back without writing", func(t *testing.T) {
		store, mock := newSQLMock(t)
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectExec(lockKey).WithArgs("k").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(selectValue).WithArgs("k").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))
		mock.ExpectRollback()

		err := store.Update(ctx, "k", func(context.Context, []byte, bool) ([]byte, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("lock failure never calls fn", func(t *testing.T) {
		store, mock := newSQLMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(lockKey).WithArgs("k").WillReturnError(errors.New("conn reset"))
		mock.ExpectRollback()

		err := store.Update(ctx, "k", func(context.Context, []byte, bool) ([]byte, error) {
			t.Fatal("fn must not run without the lock")
			return nil, nil
		})
		assert.Error(t, err)
	})
}
