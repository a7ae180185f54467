package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/models"
	"github.com/VahantSharma/Bloggly-Backend/internal/ratelimit"
	"github.com/VahantSharma/Bloggly-Backend/internal/util"
)

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	insertAttemptSQL = `
        INSERT INTO rate_limit_attempts (id, identifier, limit_type, created_at, attempt_count, blocked)
        VALUES ($1, $2, $3, $4, $5, $6)`

	purgeExpiredSQL = `
        DELETE FROM rate_limit_attempts WHERE limit_type = $1 AND created_at < $2`

	latestBlockSQL = `
        SELECT id, identifier, limit_type, created_at, attempt_count, blocked
        FROM rate_limit_attempts
        WHERE identifier = $1 AND blocked = TRUE AND created_at >= $2
        ORDER BY created_at DESC
        LIMIT 1`

	countFailuresSQL = `
        SELECT count(*) FROM rate_limit_attempts
        WHERE identifier = $1 AND blocked = FALSE AND created_at >= $2`

	resetFailuresSQL = `
        DELETE FROM rate_limit_attempts WHERE identifier = $1 AND blocked = FALSE`
)

var _ ratelimit.Store = (*AttemptRepository)(nil)

// AttemptRepository stores the attempt log in the rate_limit_attempts table.
type AttemptRepository struct {
	db DB
}

func NewAttemptRepository(db DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) Insert(ctx context.Context, record models.AttemptRecord) error {
	_, err := r.db.Exec(ctx, insertAttemptSQL,
		record.ID, record.Identifier, record.LimitType, record.CreatedAt, record.AttemptCount, record.Blocked)
	if err != nil {
		util.Error("Failed to insert attempt record",
			zap.String("identifier", record.Identifier),
			zap.Bool("blocked", record.Blocked),
			zap.Error(err))
		return fmt.Errorf("failed to insert attempt record: %w", err)
	}
	return nil
}

func (r *AttemptRepository) PurgeExpired(ctx context.Context, limitType string, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, purgeExpiredSQL, limitType, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *AttemptRepository) LatestBlock(ctx context.Context, key string, since time.Time) (*models.AttemptRecord, error) {
	rec := &models.AttemptRecord{}
	err := r.db.QueryRow(ctx, latestBlockSQL, key, since).Scan(
		&rec.ID, &rec.Identifier, &rec.LimitType, &rec.CreatedAt, &rec.AttemptCount, &rec.Blocked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest block: %w", err)
	}
	return rec, nil
}

func (r *AttemptRepository) CountFailures(ctx context.Context, key string, since time.Time) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, countFailuresSQL, key, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

func (r *AttemptRepository) ResetFailures(ctx context.Context, key string) error {
	tag, err := r.db.Exec(ctx, resetFailuresSQL, key)
	if err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	util.Debug("Attempt records reset",
		zap.String("identifier", key),
		zap.Int64("deleted", tag.RowsAffected()))
	return nil
}
