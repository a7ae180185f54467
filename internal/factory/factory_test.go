package factory

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/config"
	"github.com/VahantSharma/Bloggly-Backend/internal/ratelimit"
	"github.com/VahantSharma/Bloggly-Backend/internal/repository/memory"
	redisrepo "github.com/VahantSharma/Bloggly-Backend/internal/repository/redis"
	"github.com/VahantSharma/Bloggly-Backend/internal/service"
)

func newTestFactory(env, store string) *Factory {
	return &Factory{
		config: &config.Config{
			Environment: env,
			RateLimit:   config.RateLimitConfig{Store: store},
		},
		policies: ratelimit.DefaultPolicies(),
	}
}

func TestInitializeStoreMemory(t *testing.T) {
	f := newTestFactory("development", config.StoreMemory)

	require.NoError(t, f.initializeStore(context.Background()))
	assert.IsType(t, &memory.AttemptStore{}, f.store)
	assert.Equal(t, config.StoreMemory, f.storeBackend)
}

func TestInitializeStoreRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	f := newTestFactory("development", config.StoreRedis)
	f.config.Redis = config.RedisConfig{URL: "redis://" + mr.Addr(), PoolSize: 2}
	defer f.Close()

	require.NoError(t, f.initializeStore(context.Background()))
	assert.IsType(t, &redisrepo.AttemptCache{}, f.store)
	assert.Equal(t, config.StoreRedis, f.storeBackend)
	require.NotNil(t, f.redisClient)

	health := f.HealthCheck(context.Background())
	assert.NotContains(t, health, "redis")
	assert.Contains(t, health, "limiter")
}

func TestInitializeStoreFallbackReleasesClient(t *testing.T) {
	mr := miniredis.RunT(t)

	f := newTestFactory("development", config.StoreRedis)
	f.config.Redis = config.RedisConfig{URL: "redis://" + mr.Addr(), PoolSize: 2}

	// The client connects, then the health check on the cancelled context fails.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.initializeStore(ctx))
	assert.IsType(t, &memory.AttemptStore{}, f.store)
	assert.Equal(t, config.StoreMemory, f.storeBackend)
	assert.Nil(t, f.redisClient)
	assert.NotContains(t, f.HealthCheck(context.Background()), "redis")
}

func TestInitializeStoreFallback(t *testing.T) {
	f := newTestFactory("development", config.StoreRedis)
	f.config.Redis = config.RedisConfig{URL: "not a url"}

	require.NoError(t, f.initializeStore(context.Background()))
	assert.IsType(t, &memory.AttemptStore{}, f.store)
	assert.Equal(t, config.StoreMemory, f.storeBackend)
}

func TestInitializeStoreProductionIsStrict(t *testing.T) {
	f := newTestFactory("production", config.StoreRedis)
	f.config.Redis = config.RedisConfig{URL: "not a url"}

	err := f.initializeStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
	assert.Nil(t, f.store)
}

func TestInitializeStoreUnknownBackend(t *testing.T) {
	f := newTestFactory("development", "cassandra")

	require.Error(t, f.initializeStore(context.Background()))
}

func TestServiceFactoryWithoutSinks(t *testing.T) {
	f := newTestFactory("development", config.StoreMemory)
	f.store = memory.NewAttemptStore()

	limiter, err := ratelimit.NewLimiter(f.store, f.policies, zap.NewNop())
	require.NoError(t, err)
	f.limiter = limiter
	defer f.Close()

	assert.Empty(t, f.sinks())

	svc := f.ServiceFactory().RateLimitService()
	assert.Same(t, svc, f.ServiceFactory().RateLimitService())

	_, err = svc.SearchBlocks(context.Background(), "", "", 0)
	assert.ErrorIs(t, err, service.ErrFeatureDisabled)

	_, err = svc.Stats(context.Background(), 0)
	assert.ErrorIs(t, err, service.ErrFeatureDisabled)

	assert.NoError(t, svc.HealthCheck(context.Background()))
}
