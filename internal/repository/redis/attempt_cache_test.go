package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/client"
	"github.com/VahantSharma/Bloggly-Backend/internal/models"
	"github.com/VahantSharma/Bloggly-Backend/internal/ratelimit"
)

var base = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T) (*AttemptCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cache := NewAttemptCache(&client.RedisClient{Client: rdb}, map[string]time.Duration{
		"auth":   time.Hour,
		"signup": 24 * time.Hour,
	})
	return cache, mr
}

func record(id, key, limitType string, at time.Time, count int, blocked bool) models.AttemptRecord {
	return models.AttemptRecord{
		ID:           id,
		Identifier:   key,
		LimitType:    limitType,
		CreatedAt:    at,
		AttemptCount: count,
		Blocked:      blocked,
	}
}

func TestAttemptCacheCountsFailuresSince(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Insert(ctx, record("a", "auth_x", "auth", base.Add(-20*time.Minute), 1, false)))
	require.NoError(t, cache.Insert(ctx, record("b", "auth_x", "auth", base.Add(-5*time.Minute), 2, false)))
	require.NoError(t, cache.Insert(ctx, record("c", "auth_x", "auth", base, 3, false)))
	require.NoError(t, cache.Insert(ctx, record("d", "auth_x", "auth", base, 3, true)))

	count, err := cache.CountFailures(ctx, "auth_x", base.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = cache.CountFailures(ctx, "auth_y", base.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAttemptCacheLatestBlock(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	block, err := cache.LatestBlock(ctx, "auth_x", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, block)

	require.NoError(t, cache.Insert(ctx, record("old", "auth_x", "auth", base.Add(-30*time.Minute), 5, true)))
	require.NoError(t, cache.Insert(ctx, record("new", "auth_x", "auth", base.Add(-10*time.Minute), 7, true)))

	block, err = cache.LatestBlock(ctx, "auth_x", base.Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, "new", block.ID)
	assert.Equal(t, "auth", block.LimitType)
	assert.Equal(t, "auth_x", block.Identifier)
	assert.Equal(t, 7, block.AttemptCount)
	assert.True(t, block.Blocked)
	assert.True(t, base.Add(-10*time.Minute).Equal(block.CreatedAt))

	block, err = cache.LatestBlock(ctx, "auth_x", base.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, block)
}

func TestAttemptCacheResetKeepsBlocks(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Insert(ctx, record("a", "auth_x", "auth", base, 1, false)))
	require.NoError(t, cache.Insert(ctx, record("b", "auth_x", "auth", base, 1, true)))
	require.NoError(t, cache.ResetFailures(ctx, "auth_x"))

	count, err := cache.CountFailures(ctx, "auth_x", base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, count)

	block, err := cache.LatestBlock(ctx, "auth_x", base.Add(-time.Minute))
	require.NoError(t, err)
	assert.NotNil(t, block)
}

func TestAttemptCachePurgeIsTypeScoped(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Insert(ctx, record("a", "auth_stale", "auth", base.Add(-2*time.Hour), 1, false)))
	require.NoError(t, cache.Insert(ctx, record("b", "auth_stale", "auth", base.Add(-90*time.Minute), 1, true)))
	require.NoError(t, cache.Insert(ctx, record("c", "auth_live", "auth", base.Add(-time.Minute), 1, false)))
	require.NoError(t, cache.Insert(ctx, record("d", "signup_old", "signup", base.Add(-2*time.Hour), 1, false)))

	removed, err := cache.PurgeExpired(ctx, "auth", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	assert.False(t, mr.Exists(attemptsPrefix+"auth_stale"))
	assert.False(t, mr.Exists(blocksPrefix+"auth_stale"))
	assert.True(t, mr.Exists(attemptsPrefix+"auth_live"))
	assert.True(t, mr.Exists(attemptsPrefix+"signup_old"))

	members, err := mr.ZMembers(keysPrefix + "auth")
	require.NoError(t, err)
	assert.Equal(t, []string{"auth_live"}, members)

	removed, err = cache.PurgeExpired(ctx, "auth", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestAttemptCacheInsertTrimsOutOfRetention(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Insert(ctx, record("a", "auth_x", "auth", base.Add(-2*time.Hour), 1, false)))
	require.NoError(t, cache.Insert(ctx, record("b", "auth_x", "auth", base, 1, false)))

	members, err := mr.ZMembers(attemptsPrefix + "auth_x")
	require.NoError(t, err)
	assert.Equal(t, []string{"b|auth|1"}, members)
	assert.Equal(t, time.Hour, mr.TTL(attemptsPrefix+"auth_x"))
}

func TestAttemptCacheDrivesLimiter(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	now := base

	limiter, err := ratelimit.NewLimiter(cache, ratelimit.DefaultPolicies(), zap.NewNop(),
		ratelimit.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		d, err := limiter.Evaluate(ctx, "x", false, ratelimit.TypeAuth)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 4-i, d.Remaining)
		now = now.Add(time.Second)
	}

	d, err := limiter.Evaluate(ctx, "x", false, ratelimit.TypeAuth)
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Decision{Allowed: false, Remaining: 0, ResetTime: 3600}, d)

	now = now.Add(10 * time.Second)
	d, err = limiter.Evaluate(ctx, "x", true, ratelimit.TypeAuth)
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Decision{Allowed: false, Remaining: 0, ResetTime: 3590}, d)
}

func TestDecodeMemberRejectsMalformed(t *testing.T) {
	_, err := decodeMember("only|two")
	assert.Error(t, err)

	_, err = decodeMember("id|auth|x")
	assert.Error(t, err)

	rec, err := decodeMember("id|api_general|12")
	require.NoError(t, err)
	assert.Equal(t, "api_general", rec.LimitType)
	assert.Equal(t, 12, rec.AttemptCount)
}
