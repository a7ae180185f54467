package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/bucketing"
	"github.com/VahantSharma/Bloggly-Backend/internal/config"
	"github.com/VahantSharma/Bloggly-Backend/internal/models"
)

// AnalyticsStore is the subset of the ClickHouse client used by the sink.
type AnalyticsStore interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	QueryRows(ctx context.Context, query string, args ...interface{}) (driver.Rows, error)
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

const (
	defaultBatchSize     = 500
	defaultFlushInterval = 5 * time.Second
	flushTimeout         = 10 * time.Second
)

// EventStat is one row of the per type and kind roll-up.
type EventStat struct {
	LimitType   string `json:"limit_type"`
	Kind        string `json:"kind"`
	Events      uint64 `json:"events"`
	Identifiers uint64 `json:"identifiers"`
}

// ClickHouseSink buffers events and writes them in batches, either when the
// buffer reaches the batch size or on the flush interval.
type ClickHouseSink struct {
	store         AnalyticsStore
	buckets       *bucketing.BucketingManager
	table         string
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	mu     sync.Mutex
	buffer []models.RateLimitEvent

	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewClickHouseSink(store AnalyticsStore, buckets *bucketing.BucketingManager, cfg config.ClickhouseConfig, logger *zap.Logger) *ClickHouseSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ClickHouseSink{
		store:         store,
		buckets:       buckets,
		table:         cfg.Table,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        logger,
		stop:          make(chan struct{}),
	}
	if s.table == "" {
		s.table = "rate_limit_events"
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.flushInterval <= 0 {
		s.flushInterval = defaultFlushInterval
	}
	return s
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// EnsureTable creates the events table when missing.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            event_id      String,
            kind          LowCardinality(String),
            limit_type    LowCardinality(String),
            identifier    String,
            rate_key      String,
            event_bucket  UInt16,
            allowed       Bool,
            remaining     Int32,
            reset_seconds Int32,
            attempt_count Int32,
            error         String,
            occurred_at   DateTime64(3, 'UTC'),
            event_date    Date MATERIALIZED toDate(occurred_at)
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(event_date)
        ORDER BY (limit_type, event_bucket, occurred_at)
        TTL event_date + INTERVAL 90 DAY`, s.table)

	if err := s.store.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.table, err)
	}
	return nil
}

// Start launches the periodic flush loop.
func (s *ClickHouseSink) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
}

func (s *ClickHouseSink) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := s.Flush(ctx); err != nil {
				s.logger.Warn("Periodic rate limit event flush failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Publish buffers event, flushing synchronously once the batch is full.
func (s *ClickHouseSink) Publish(ctx context.Context, event models.RateLimitEvent) error {
	s.mu.Lock()
	s.buffer = append(s.buffer, event)
	full := len(s.buffer) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes buffered events. On failure the events are dropped; they are
// analytics only.
func (s *ClickHouseSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(pending))
	for _, ev := range pending {
		rows = append(rows, []interface{}{
			ev.EventID,
			string(ev.Kind),
			ev.LimitType,
			ev.Identifier,
			ev.Key,
			uint16(s.buckets.GetEventBucket(ev.Key)),
			ev.Allowed,
			int32(ev.Remaining),
			int32(ev.ResetSeconds),
			int32(ev.AttemptCount),
			ev.Error,
			ev.OccurredAt,
		})
	}

	query := fmt.Sprintf(`INSERT INTO %s (event_id, kind, limit_type, identifier, rate_key, event_bucket,
        allowed, remaining, reset_seconds, attempt_count, error, occurred_at)`, s.table)
	if err := s.store.BatchInsert(ctx, query, rows); err != nil {
		s.logger.Error("Failed to write rate limit events",
			zap.Int("events", len(rows)),
			zap.Error(err))
		return fmt.Errorf("failed to write %d rate limit events: %w", len(rows), err)
	}

	s.logger.Debug("Rate limit events written", zap.Int("events", len(rows)))
	return nil
}

// Pending reports how many events are buffered.
func (s *ClickHouseSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Close stops the flush loop and writes what is left.
func (s *ClickHouseSink) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return s.Flush(ctx)
}

// Stats rolls up events since the given time by type and kind.
func (s *ClickHouseSink) Stats(ctx context.Context, since time.Time) ([]EventStat, error) {
	query := fmt.Sprintf(`
        SELECT limit_type, kind, count() AS events, uniqExact(identifier) AS identifiers
        FROM %s
        WHERE occurred_at >= ?
        GROUP BY limit_type, kind
        ORDER BY limit_type, kind`, s.table)

	rows, err := s.store.QueryRows(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate limit stats: %w", err)
	}
	defer rows.Close()

	var stats []EventStat
	for rows.Next() {
		var st EventStat
		if err := rows.Scan(&st.LimitType, &st.Kind, &st.Events, &st.Identifiers); err != nil {
			return nil, fmt.Errorf("failed to scan rate limit stats: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rate limit stats: %w", err)
	}
	return stats, nil
}
