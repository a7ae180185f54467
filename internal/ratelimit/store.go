package ratelimit

import (
	"context"
	"time"

	"github.com/VahantSharma/Bloggly-Backend/internal/models"
)

// Store is the durable attempt log the limiter evaluates against. Each
// method is expected to be atomic on its own; nothing more is assumed.
type Store interface {
	// Insert appends a record to the log.
	Insert(ctx context.Context, record models.AttemptRecord) error
	// PurgeExpired deletes records of limitType created before the cutoff and
	// reports how many were removed, or -1 when the backend cannot tell.
	PurgeExpired(ctx context.Context, limitType string, before time.Time) (int64, error)
	// LatestBlock returns the newest block record for key created at or after
	// since, or nil when there is none.
	LatestBlock(ctx context.Context, key string, since time.Time) (*models.AttemptRecord, error)
	// CountFailures counts non-blocking records for key created at or after since.
	CountFailures(ctx context.Context, key string, since time.Time) (int, error)
	// ResetFailures deletes every non-blocking record for key.
	ResetFailures(ctx context.Context, key string) error
}

// Notifier receives rate limit events. Failures are logged by the limiter
// and never affect a decision.
type Notifier interface {
	Publish(ctx context.Context, event models.RateLimitEvent) error
}
