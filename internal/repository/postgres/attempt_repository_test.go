package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VahantSharma/Bloggly-Backend/internal/models"
)

type call struct {
	sql  string
	args []any
}

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeDB struct {
	calls   []call
	execTag string
	execErr error
	row     fakeRow
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.calls = append(db.calls, call{sql: sql, args: args})
	return pgconn.NewCommandTag(db.execTag), db.execErr
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.calls = append(db.calls, call{sql: sql, args: args})
	return db.row
}

func TestAttemptRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	t.Run("insert binds every column", func(t *testing.T) {
		db := &fakeDB{execTag: "INSERT 0 1"}
		repo := NewAttemptRepository(db)
		rec := models.AttemptRecord{ID: "id-1", Identifier: "auth_ip1", LimitType: "auth", CreatedAt: now, AttemptCount: 3, Blocked: true}

		require.NoError(t, repo.Insert(ctx, rec))
		require.Len(t, db.calls, 1)
		assert.Equal(t, []any{"id-1", "auth_ip1", "auth", now, 3, true}, db.calls[0].args)
	})

	t.Run("purge reports rows affected", func(t *testing.T) {
		db := &fakeDB{execTag: "DELETE 7"}
		repo := NewAttemptRepository(db)

		n, err := repo.PurgeExpired(ctx, "auth", now)
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
		assert.Contains(t, db.calls[0].sql, "limit_type = $1")
		assert.Equal(t, []any{"auth", now}, db.calls[0].args)
	})

	t.Run("latest block returns nil when no rows", func(t *testing.T) {
		db := &fakeDB{row: fakeRow{scan: func(...any) error { return pgx.ErrNoRows }}}
		repo := NewAttemptRepository(db)

		rec, err := repo.LatestBlock(ctx, "auth_ip1", now)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("latest block scans row", func(t *testing.T) {
		db := &fakeDB{row: fakeRow{scan: func(dest ...any) error {
			*dest[0].(*string) = "id-9"
			*dest[1].(*string) = "auth_ip1"
			*dest[2].(*string) = "auth"
			*dest[3].(*time.Time) = now
			*dest[4].(*int) = 5
			*dest[5].(*bool) = true
			return nil
		}}}
		repo := NewAttemptRepository(db)

		rec, err := repo.LatestBlock(ctx, "auth_ip1", now.Add(-time.Hour))
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "id-9", rec.ID)
		assert.Equal(t, 5, rec.AttemptCount)
		assert.True(t, rec.Blocked)
	})

	t.Run("count wraps query errors", func(t *testing.T) {
		boom := errors.New("conn reset")
		db := &fakeDB{row: fakeRow{scan: func(...any) error { return boom }}}
		repo := NewAttemptRepository(db)

		_, err := repo.CountFailures(ctx, "auth_ip1", now)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("reset deletes only non-blocking rows", func(t *testing.T) {
		db := &fakeDB{execTag: "DELETE 2"}
		repo := NewAttemptRepository(db)

		require.NoError(t, repo.ResetFailures(ctx, "auth_ip1"))
		assert.Contains(t, db.calls[0].sql, "blocked = FALSE")
	})
}

func TestEnsureSchemaRunsEmbeddedStatements(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, EnsureSchema(context.Background(), db, ""))

	require.Len(t, db.calls, 3)
	assert.True(t, strings.HasPrefix(db.calls[0].sql, "CREATE TABLE IF NOT EXISTS rate_limit_attempts"))
}

func TestEnsureSchemaMissingFile(t *testing.T) {
	err := EnsureSchema(context.Background(), &fakeDB{}, "/nonexistent/schema.sql")
	assert.Error(t, err)
}
