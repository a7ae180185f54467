package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/client"
	"github.com/VahantSharma/Bloggly-Backend/internal/models"
	"github.com/VahantSharma/Bloggly-Backend/internal/ratelimit"
	"github.com/VahantSharma/Bloggly-Backend/internal/util"
)

const (
	attemptsPrefix = "rate_limit:attempts:"
	blocksPrefix   = "rate_limit:blocks:"
	keysPrefix     = "rate_limit:keys:"

	defaultRetention = 24 * time.Hour
	purgeBatchSize   = 1000
)

// purgeScript drops every key of a type whose newest record is older than the
// cutoff. KEYS[1] is the type's key index; ARGV holds the cutoff in unix ms,
// the batch size and the two record prefixes.
const purgeScript = `
local stale = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local removed = 0
for _, key in ipairs(stale) do
    local attempts = ARGV[3] .. key
    local blocks = ARGV[4] .. key
    removed = removed + redis.call('ZCARD', attempts) + redis.call('ZCARD', blocks)
    redis.call('DEL', attempts, blocks)
    redis.call('ZREM', KEYS[1], key)
end
return removed
`

var _ ratelimit.Store = (*AttemptCache)(nil)

// AttemptCache keeps the attempt log in Redis sorted sets scored by creation
// time in unix milliseconds:
//
//	rate_limit:attempts:{key}  non-blocking records
//	rate_limit:blocks:{key}    block records
//	rate_limit:keys:{type}     keys of a type, scored by their newest record
//
// Members encode "id|type|attempt_count".
type AttemptCache struct {
	client    *client.RedisClient
	retention map[string]time.Duration
}

// NewAttemptCache creates the cache. retention maps a limit type to its block
// duration; unknown types keep records for one day.
func NewAttemptCache(client *client.RedisClient, retention map[string]time.Duration) *AttemptCache {
	return &AttemptCache{
		client:    client,
		retention: retention,
	}
}

// Insert adds record and trims entries of the same key that fell out of
// retention. The whole set expires once it sees no writes for a retention
// period.
func (c *AttemptCache) Insert(ctx context.Context, record models.AttemptRecord) error {
	setKey := attemptsPrefix + record.Identifier
	if record.Blocked {
		setKey = blocksPrefix + record.Identifier
	}
	retention := c.retentionFor(record.LimitType)
	score := float64(record.CreatedAt.UnixMilli())
	cutoff := record.CreatedAt.Add(-retention).UnixMilli()

	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, setKey, goredis.Z{Score: score, Member: encodeMember(record)})
	pipe.ZRemRangeByScore(ctx, setKey, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.PExpire(ctx, setKey, retention)
	pipe.ZAddArgs(ctx, keysPrefix+record.LimitType, goredis.ZAddArgs{
		GT:      true,
		Members: []goredis.Z{{Score: score, Member: record.Identifier}},
	})

	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to insert attempt record",
			zap.String("key", record.Identifier),
			zap.Bool("blocked", record.Blocked),
			zap.Error(err))
		return fmt.Errorf("failed to insert attempt record: %w", err)
	}
	return nil
}

// PurgeExpired removes keys of limitType with no record at or after before.
// Keys that are still active are trimmed on their next Insert instead. At most
// purgeBatchSize keys are removed per call.
func (c *AttemptCache) PurgeExpired(ctx context.Context, limitType string, before time.Time) (int64, error) {
	res, err := c.client.Eval(ctx, purgeScript,
		[]string{keysPrefix + limitType},
		before.UnixMilli(), purgeBatchSize, attemptsPrefix, blocksPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired attempts: %w", err)
	}

	removed, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected purge result type %T", res)
	}
	return removed, nil
}

func (c *AttemptCache) LatestBlock(ctx context.Context, key string, since time.Time) (*models.AttemptRecord, error) {
	entries, err := c.client.ZRevRangeByScoreWithScores(ctx, blocksPrefix+key, &goredis.ZRangeBy{
		Min:   strconv.FormatInt(since.UnixMilli(), 10),
		Max:   "+inf",
		Count: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	member, _ := entries[0].Member.(string)
	record, err := decodeMember(member)
	if err != nil {
		return nil, err
	}
	record.Identifier = key
	record.CreatedAt = time.UnixMilli(int64(entries[0].Score)).UTC()
	record.Blocked = true
	return record, nil
}

func (c *AttemptCache) CountFailures(ctx context.Context, key string, since time.Time) (int, error) {
	count, err := c.client.ZCount(ctx, attemptsPrefix+key, strconv.FormatInt(since.UnixMilli(), 10), "+inf")
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return int(count), nil
}

// ResetFailures drops the non-blocking set; block records are untouched.
func (c *AttemptCache) ResetFailures(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, attemptsPrefix+key); err != nil {
		util.Error("Failed to reset attempt records",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return nil
}

func (c *AttemptCache) retentionFor(limitType string) time.Duration {
	if d, ok := c.retention[limitType]; ok && d > 0 {
		return d
	}
	return defaultRetention
}

func encodeMember(record models.AttemptRecord) string {
	return record.ID + "|" + record.LimitType + "|" + strconv.Itoa(record.AttemptCount)
}

func decodeMember(member string) (*models.AttemptRecord, error) {
	parts := strings.SplitN(member, "|", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed attempt member %q", member)
	}
	count, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("malformed attempt count in %q: %w", member, err)
	}
	return &models.AttemptRecord{
		ID:           parts[0],
		LimitType:    parts[1],
		AttemptCount: count,
	}, nil
}
