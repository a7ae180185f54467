package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VahantSharma/Bloggly-Backend/internal/bucketing"
	"github.com/VahantSharma/Bloggly-Backend/internal/client"
	"github.com/VahantSharma/Bloggly-Backend/internal/config"
	"github.com/VahantSharma/Bloggly-Backend/internal/events"
	"github.com/VahantSharma/Bloggly-Backend/internal/ratelimit"
	"github.com/VahantSharma/Bloggly-Backend/internal/repository/memory"
	"github.com/VahantSharma/Bloggly-Backend/internal/repository/postgres"
	redisrepo "github.com/VahantSharma/Bloggly-Backend/internal/repository/redis"
	"github.com/VahantSharma/Bloggly-Backend/internal/repository/scylla"
	"github.com/VahantSharma/Bloggly-Backend/internal/service"
	"github.com/VahantSharma/Bloggly-Backend/internal/tls"
	"github.com/VahantSharma/Bloggly-Backend/internal/util"
)

const metricsNamespace = "bloggly"

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	pgPool           *pgxpool.Pool
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	bucketingManager *bucketing.BucketingManager

	// Rate limiting
	policies       ratelimit.Policies
	store          ratelimit.Store
	storeBackend   string
	metrics        *ratelimit.MetricsCollector
	limiter        *ratelimit.Limiter
	clickhouseSink *events.ClickHouseSink
	blockIndexer   *events.BlockIndexer
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	var logFile *util.FileOptions
	if cfg.Logging.File != "" {
		logFile = &util.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}
	}
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format, logFile)
	cfg.WarnInvalid(util.Get())

	factory := &Factory{config: cfg}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	factory.policies = policiesFromConfig(cfg.RateLimit, util.Get())
	factory.bucketingManager = bucketing.NewBucketingManager(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := factory.initializeStore(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize attempt store: %w", err)
	}

	if err := factory.initializeSinks(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize event sinks: %w", err)
	}

	if err := factory.initializeLimiter(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize limiter: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store", factory.storeBackend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", factory.kafkaProducer != nil),
		util.Bool("clickhouse_enabled", factory.clickhouseSink != nil),
		util.Bool("elasticsearch_enabled", factory.blockIndexer != nil),
	)

	return factory, nil
}

// initializeStore connects the configured attempt store. Outside production
// an unreachable backend degrades to the in-memory store.
func (f *Factory) initializeStore(ctx context.Context) error {
	backend := f.config.RateLimit.Store
	retention := retentionByType(f.policies)

	var err error
	switch backend {
	case config.StoreMemory:
		f.store = memory.NewAttemptStore()
	case config.StorePostgres:
		err = f.initializePostgres(ctx)
	case config.StoreScylla:
		err = f.initializeScylla(ctx, retention)
	case config.StoreRedis:
		err = f.initializeRedis(ctx, retention)
	default:
		return fmt.Errorf("unknown RATE_LIMIT_STORE %q", backend)
	}

	if err != nil {
		if f.config.IsProduction() {
			return fmt.Errorf("%s: %w", backend, err)
		}
		util.Warn("Attempt store unavailable, falling back to in-memory store",
			util.String("store", backend),
			util.ErrorField(err))
		f.releaseStoreClients()
		f.store = memory.NewAttemptStore()
		backend = config.StoreMemory
	}

	f.storeBackend = backend
	util.Info("Attempt store initialized", util.String("store", backend))
	return nil
}

// releaseStoreClients closes a backend client left behind by a failed
// store setup so health checks stop probing it.
func (f *Factory) releaseStoreClients() {
	if f.pgPool != nil {
		f.pgPool.Close()
		f.pgPool = nil
	}
	if f.scyllaClient != nil {
		f.scyllaClient.Close()
		f.scyllaClient = nil
	}
	if f.redisClient != nil {
		if err := f.redisClient.Close(); err != nil {
			util.Warn("Failed to close Redis client", util.ErrorField(err))
		}
		f.redisClient = nil
	}
}

func (f *Factory) initializePostgres(ctx context.Context) error {
	pool, err := postgres.NewPool(ctx, f.config.Postgres)
	if err != nil {
		return err
	}
	f.pgPool = pool

	if err := postgres.EnsureSchema(ctx, pool, f.config.Postgres.SchemaPath); err != nil {
		return err
	}
	f.store = postgres.NewAttemptRepository(pool)
	return nil
}

func (f *Factory) initializeScylla(ctx context.Context, retention map[string]time.Duration) error {
	sc, err := scylla.NewScyllaClient(f.config, util.Get())
	if err != nil {
		return err
	}
	f.scyllaClient = sc

	if err := sc.HealthCheck(ctx); err != nil {
		return err
	}
	if err := sc.EnsureSchema(ctx); err != nil {
		return err
	}
	f.store = scylla.NewAttemptRepository(sc, retention)
	return nil
}

func (f *Factory) initializeRedis(ctx context.Context, retention map[string]time.Duration) error {
	rc, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return err
	}
	f.redisClient = rc

	if err := rc.HealthCheck(ctx); err != nil {
		return err
	}
	f.store = redisrepo.NewAttemptCache(rc, retention)
	return nil
}

// initializeSinks connects the enabled event sinks. A sink that fails to
// connect is skipped outside production.
func (f *Factory) initializeSinks(ctx context.Context) error {
	var initErrors []error

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Clickhouse.Enabled {
		if ch, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = ch
			sink := events.NewClickHouseSink(ch, f.bucketingManager, f.config.Clickhouse, util.Get())
			if err := sink.EnsureTable(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse table: %w", err))
			} else {
				sink.Start()
				f.clickhouseSink = sink
			}
		}
	}

	if f.config.Elasticsearch.Enabled {
		if es, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = es
			indexer := events.NewBlockIndexer(es, f.config.Elasticsearch.Index)
			if err := indexer.EnsureIndex(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("elasticsearch index: %w", err))
			} else {
				f.blockIndexer = indexer
			}
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Event sink initialization warning", util.ErrorField(err))
		}
	}
	return nil
}

func (f *Factory) initializeLimiter() error {
	f.metrics = ratelimit.NewMetricsCollector(metricsNamespace)
	f.metrics.MustRegister()

	opts := []ratelimit.Option{ratelimit.WithMetrics(f.metrics)}
	if sinks := f.sinks(); len(sinks) > 0 {
		opts = append(opts, ratelimit.WithNotifier(events.NewFanout(util.Get(), sinks...), f.config.RateLimit.EventTimeout))
	}

	limiter, err := ratelimit.NewLimiter(f.store, f.policies, util.Get(), opts...)
	if err != nil {
		return err
	}
	f.limiter = limiter

	util.Info("Rate limiter initialized",
		util.Int("policies", len(f.policies)),
		util.Int("event_sinks", len(f.sinks())))
	return nil
}

func (f *Factory) sinks() []events.Sink {
	var sinks []events.Sink
	if f.kafkaProducer != nil {
		sinks = append(sinks, events.NewKafkaPublisher(f.kafkaProducer, f.config.Kafka.Topic))
	}
	if f.clickhouseSink != nil {
		sinks = append(sinks, f.clickhouseSink)
	}
	if f.blockIndexer != nil {
		sinks = append(sinks, f.blockIndexer)
	}
	return sinks
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		// Typed nils must not reach the service as non-nil interfaces.
		var blocks service.BlockSearcher
		if f.blockIndexer != nil {
			blocks = f.blockIndexer
		}
		var stats service.StatsReader
		if f.clickhouseSink != nil {
			stats = f.clickhouseSink
		}

		f.serviceFactory = service.NewServiceFactory(
			f.limiter,
			blocks,
			stats,
			f.HealthCheck,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.pgPool != nil {
		if err := f.pgPool.Ping(ctx); err != nil {
			healthErrors["postgres"] = err
		}
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.limiter == nil {
		healthErrors["limiter"] = fmt.Errorf("limiter not initialized")
	}

	return healthErrors
}

// ==============================
// Lifecycle
// ==============================

// Close releases everything in reverse dependency order: pending events are
// drained before their sinks close, and the store closes last.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
		} else if f.limiter != nil {
			f.limiter.Close()
		}

		if f.clickhouseSink != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := f.clickhouseSink.Close(ctx); err != nil {
				util.Error("Failed to flush ClickHouse sink", util.ErrorField(err))
			}
			cancel()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.metrics != nil {
			f.metrics.Unregister()
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.pgPool != nil {
			f.pgPool.Close()
			util.Info("Postgres pool closed")
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Limiter() *ratelimit.Limiter {
	return f.limiter
}

// MetricsHandler serves the default Prometheus registry.
func (f *Factory) MetricsHandler() http.Handler {
	return promhttp.Handler()
}
