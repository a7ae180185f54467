package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/models"
	"github.com/VahantSharma/Bloggly-Backend/internal/ratelimit"
	"github.com/VahantSharma/Bloggly-Backend/internal/util"
)

const defaultRetention = 24 * time.Hour

const (
	insertAttemptCQL = `
        INSERT INTO rate_limit_attempts (identifier, created_at, id, limit_type, attempt_count, blocked)
        VALUES (?, ?, ?, ?, ?, ?) USING TTL ?`

	selectRecentCQL = `
        SELECT id, limit_type, created_at, attempt_count, blocked
        FROM rate_limit_attempts WHERE identifier = ? AND created_at >= ?`

	selectAllCQL = `
        SELECT id, created_at, blocked FROM rate_limit_attempts WHERE identifier = ?`

	deleteAttemptCQL = `
        DELETE FROM rate_limit_attempts WHERE identifier = ? AND created_at = ? AND id = ?`
)

// Session is the subset of *ScyllaClient the repository needs.
type Session interface {
	Exec(ctx context.Context, stmt string, values ...interface{}) error
	Scanner(ctx context.Context, stmt string, values ...interface{}) gocql.Scanner
	ExecuteBatch(ctx context.Context, typ gocql.BatchType, entries []gocql.BatchEntry) error
}

var (
	_ ratelimit.Store = (*AttemptRepository)(nil)
	_ Session         = (*ScyllaClient)(nil)
)

// AttemptRepository keeps the attempt log in ScyllaDB, one partition per
// rate limit key. Rows are written with a TTL equal to the block duration of
// their type, so expiry is carried out by the database rather than by
// PurgeExpired.
type AttemptRepository struct {
	session   Session
	retention map[string]time.Duration
}

// NewAttemptRepository creates the repository. retention maps a limit type to
// how long its rows live; unknown types use one day.
func NewAttemptRepository(session Session, retention map[string]time.Duration) *AttemptRepository {
	return &AttemptRepository{
		session:   session,
		retention: retention,
	}
}

func (r *AttemptRepository) Insert(ctx context.Context, record models.AttemptRecord) error {
	id, err := gocql.ParseUUID(record.ID)
	if err != nil {
		return fmt.Errorf("invalid attempt id %q: %w", record.ID, err)
	}

	err = r.session.Exec(ctx, insertAttemptCQL,
		record.Identifier, record.CreatedAt, id, record.LimitType, record.AttemptCount, record.Blocked,
		ttlSeconds(r.retentionFor(record.LimitType)))
	if err != nil {
		util.Error("Failed to insert attempt record",
			zap.String("identifier", record.Identifier),
			zap.Bool("blocked", record.Blocked),
			zap.Error(err))
		return fmt.Errorf("failed to insert attempt record: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op: CQL cannot range-delete across partitions and
// every row already carries a TTL. It reports -1 because the number of rows
// expired by the database is unknown.
func (r *AttemptRepository) PurgeExpired(context.Context, string, time.Time) (int64, error) {
	return -1, nil
}

func (r *AttemptRepository) LatestBlock(ctx context.Context, key string, since time.Time) (*models.AttemptRecord, error) {
	scanner := r.session.Scanner(ctx, selectRecentCQL, key, since)

	var latest *models.AttemptRecord
	for scanner.Next() {
		record, err := scanAttempt(scanner, key)
		if err != nil {
			_ = scanner.Err()
			return nil, fmt.Errorf("failed to get latest block: %w", err)
		}
		// Rows arrive newest first, so the first block row is the latest one.
		if record.Blocked {
			latest = record
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to get latest block: %w", err)
	}
	return latest, nil
}

func (r *AttemptRepository) CountFailures(ctx context.Context, key string, since time.Time) (int, error) {
	scanner := r.session.Scanner(ctx, selectRecentCQL, key, since)

	count := 0
	for scanner.Next() {
		record, err := scanAttempt(scanner, key)
		if err != nil {
			_ = scanner.Err()
			return 0, fmt.Errorf("failed to count attempts: %w", err)
		}
		if !record.Blocked {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

// ResetFailures deletes the non-blocking rows of key in one unlogged batch;
// all rows share a partition.
func (r *AttemptRepository) ResetFailures(ctx context.Context, key string) error {
	scanner := r.session.Scanner(ctx, selectAllCQL, key)

	var (
		id        gocql.UUID
		createdAt time.Time
		blocked   bool
		entries   []gocql.BatchEntry
	)
	for scanner.Next() {
		if err := scanner.Scan(&id, &createdAt, &blocked); err != nil {
			_ = scanner.Err()
			return fmt.Errorf("failed to list attempts for reset: %w", err)
		}
		if !blocked {
			entries = append(entries, gocql.BatchEntry{
				Stmt: deleteAttemptCQL,
				Args: []interface{}{key, createdAt, id},
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to list attempts for reset: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	if err := r.session.ExecuteBatch(ctx, gocql.UnloggedBatch, entries); err != nil {
		util.Error("Failed to reset attempt records",
			zap.String("identifier", key),
			zap.Int("rows", len(entries)),
			zap.Error(err))
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return nil
}

func scanAttempt(scanner gocql.Scanner, key string) (*models.AttemptRecord, error) {
	var (
		id     gocql.UUID
		record = models.AttemptRecord{Identifier: key}
	)
	if err := scanner.Scan(&id, &record.LimitType, &record.CreatedAt, &record.AttemptCount, &record.Blocked); err != nil {
		return nil, err
	}
	record.ID = id.String()
	return &record, nil
}

func (r *AttemptRepository) retentionFor(limitType string) time.Duration {
	if d, ok := r.retention[limitType]; ok && d > 0 {
		return d
	}
	return defaultRetention
}

// ttlSeconds rounds up so a row never expires before its cutoff.
func ttlSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
