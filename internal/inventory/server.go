// Package inventorysvc provides the inventory RAG service server implementation.
package inventorysvc

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/inventory-rag/internal/inventory/biz"
	"github.com/kart-io/inventory-rag/internal/inventory/handler"
	"github.com/kart-io/inventory-rag/internal/inventory/metrics"
	"github.com/kart-io/inventory-rag/internal/inventory/router"
	"github.com/kart-io/inventory-rag/internal/inventory/source"
	"github.com/kart-io/inventory-rag/internal/inventory/store"
	"github.com/kart-io/inventory-rag/pkg/component/milvus"
	"github.com/kart-io/inventory-rag/pkg/component/mongodb"
	"github.com/kart-io/inventory-rag/pkg/component/redis"
	"github.com/kart-io/inventory-rag/pkg/infra/app"
	"github.com/kart-io/inventory-rag/pkg/infra/middleware"
	"github.com/kart-io/inventory-rag/pkg/infra/pool"
	"github.com/kart-io/inventory-rag/pkg/infra/server"
	"github.com/kart-io/inventory-rag/pkg/infra/tracing"
	"github.com/kart-io/inventory-rag/pkg/llm"
	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/inventory-rag/pkg/llm/openai"
	inventoryopts "github.com/kart-io/inventory-rag/pkg/options/inventory"
	llmopts "github.com/kart-io/inventory-rag/pkg/options/llm"
	logopts "github.com/kart-io/inventory-rag/pkg/options/logger"
	milvusopts "github.com/kart-io/inventory-rag/pkg/options/milvus"
	mongoopts "github.com/kart-io/inventory-rag/pkg/options/mongodb"
	redisopts "github.com/kart-io/inventory-rag/pkg/options/redis"
	httpopts "github.com/kart-io/inventory-rag/pkg/options/server/http"
	tracingopts "github.com/kart-io/inventory-rag/pkg/options/tracing"
	"github.com/kart-io/inventory-rag/pkg/resilience"
)

// Name is the name of the application.
const Name = "inventory-rag"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	MilvusOptions    *milvusopts.Options
	MongoDBOptions   *mongoopts.Options
	RedisOptions     *redisopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	InventoryOptions *inventoryopts.Options
	TracingOptions   *tracingopts.Options
	ShutdownTimeout  time.Duration
}

// Server represents the inventory RAG server.
type Server struct {
	srv     *server.Manager
	closers []func()
}

// NewServer initializes and returns a new Server instance.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	printBanner(cfg)

	s := &Server{}
	ok := false
	defer func() {
		// 构建失败时释放已创建的资源
		if !ok {
			s.close()
		}
	}()

	// 1. 初始化日志
	if err := cfg.LogOptions.Init(Name, app.GetVersion()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting inventory RAG service...")

	// 2. 初始化链路追踪
	tp, err := tracing.NewProvider(ctx, Name, app.GetVersion(), cfg.TracingOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.closers = append(s.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("failed to shutdown tracer provider", "error", err.Error())
		}
	})
	logger.Infow("Tracing initialized", "enabled", tp.Enabled())

	m := metrics.New()
	health := middleware.NewHealthManager(app.GetVersion(), 2*time.Second)

	// 3. 初始化 Milvus 客户端与向量索引网关
	milvusClient, err := milvus.New(cfg.MilvusOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize milvus: %w", err)
	}
	s.closers = append(s.closers, func() { _ = milvusClient.Close(context.Background()) })
	health.RegisterChecker("milvus", milvusClient.Ping)
	gateway := store.NewMilvusGateway(milvusClient, cfg.MilvusOptions.CollectionPrefix)
	logger.Infow("Milvus client initialized", "address", cfg.MilvusOptions.Address)

	// 4. 初始化 MongoDB 库存数据源
	mongoClient, err := mongodb.NewWithContext(ctx, cfg.MongoDBOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mongodb: %w", err)
	}
	s.closers = append(s.closers, func() { _ = mongoClient.Close() })
	health.RegisterChecker("mongodb", mongoClient.Ping)
	docSource := source.NewMongoSource(mongoClient.Collection(cfg.MongoDBOptions.Collection))
	logger.Infow("MongoDB source initialized",
		"database", cfg.MongoDBOptions.Database,
		"collection", cfg.MongoDBOptions.Collection,
	)

	// 5. 初始化 Redis（可选，连接失败时禁用缓存）
	var redisClient goredis.Cmdable
	if cfg.RedisOptions.Enabled {
		rc, err := redis.NewWithContext(ctx, cfg.RedisOptions)
		if err != nil {
			logger.Warnw("failed to connect to redis, cache will be disabled", "error", err.Error())
		} else {
			redisClient = rc.Client()
			s.closers = append(s.closers, func() { _ = rc.Close() })
			health.RegisterChecker("redis", rc.Ping)
			logger.Infow("Redis cache initialized", "redis", cfg.RedisOptions.String())
		}
	} else {
		logger.Info("Cache is disabled")
	}

	// 6. 初始化 LLM 供应商
	var embedProvider llm.EmbeddingProvider
	embedProvider, err = llm.NewEmbeddingProvider(cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	if redisClient != nil && cfg.InventoryOptions.Cache.EmbeddingCache {
		embedProvider = llm.NewCachedEmbeddingProvider(embedProvider, redisClient, &llm.EmbeddingCacheConfig{
			Enabled:   true,
			TTL:       cfg.InventoryOptions.Cache.EmbeddingTTL,
			KeyPrefix: "inventory:emb:",
		})
	}
	embedder, err := biz.NewEmbeddingClient(embedProvider, cfg.EmbeddingOptions.Dimension, m)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	logger.Infow("Embedding provider initialized",
		"provider", cfg.EmbeddingOptions.Provider,
		"model", cfg.EmbeddingOptions.Model,
		"dimension", embedder.Dimension(),
	)

	chatProvider, err := llm.NewChatProvider(cfg.ChatOptions.Provider, cfg.ChatOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	breaker := cfg.InventoryOptions.Breaker
	guardedChat := resilience.NewGuardedChatProvider(chatProvider, &resilience.CircuitBreakerConfig{
		Name:             "chat",
		MaxFailures:      breaker.MaxFailures,
		Timeout:          breaker.Timeout,
		HalfOpenMaxCalls: breaker.HalfOpenMaxCalls,
		OnStateChange: func(_, to resilience.CircuitBreakerState) {
			m.SetCircuitBreakerState(int32(to))
		},
	})
	logger.Infow("Chat provider initialized",
		"provider", cfg.ChatOptions.Provider,
		"model", cfg.ChatOptions.Model,
	)

	// 7. 初始化后台工作池
	bgPool := pool.BackgroundPoolConfig()
	bgPool.Capacity = cfg.InventoryOptions.BackgroundWorkers
	if err := pool.InitGlobalWithConfig(&pool.GlobalConfig{BackgroundPool: bgPool}); err != nil {
		return nil, fmt.Errorf("failed to initialize worker pool: %w", err)
	}
	s.closers = append(s.closers, func() {
		if err := pool.CloseGlobalTimeout(cfg.ShutdownTimeout); err != nil {
			logger.Warnw("worker pool did not drain in time", "error", err.Error())
		}
	})

	// 8. 初始化 Biz 层
	retry := cfg.InventoryOptions.Retry
	retryConfig := &resilience.RetryConfig{
		MaxAttempts:  retry.MaxAttempts,
		InitialDelay: retry.InitialDelay,
		MaxDelay:     retry.MaxDelay,
		Multiplier:   retry.Multiplier,
	}
	factory := biz.NewPipelineFactory(&biz.FactoryConfig{
		Source:   docSource,
		Gateway:  gateway,
		Embedder: embedder,
		Chat:     guardedChat,
		Ingestion: &biz.IngestionConfig{
			Concurrency: cfg.InventoryOptions.IngestConcurrency,
			Retry:       retryConfig,
		},
		Query: &biz.QueryConfig{
			TopK:  cfg.InventoryOptions.TopK,
			Retry: retryConfig,
		},
		Metrics: m,
	})
	registry := biz.NewTenantRegistry(factory, gateway, biz.PoolTaskQueue{Type: pool.BackgroundPool}, &biz.RegistryConfig{
		BuildTimeout:      cfg.InventoryOptions.BuildTimeout,
		FailureRetryAfter: cfg.InventoryOptions.BuildFailureTTL,
	}, m)

	var queryCache *biz.QueryCache
	if redisClient != nil {
		queryCache = biz.NewQueryCache(redisClient, &biz.QueryCacheConfig{
			Enabled:   true,
			TTL:       cfg.InventoryOptions.Cache.AnswerTTL,
			KeyPrefix: cfg.InventoryOptions.Cache.AnswerPrefix,
		})
	}
	service := biz.NewInventoryService(registry, gateway, queryCache, cfg.InventoryOptions.TopK, m)
	logger.Infow("Inventory service initialized",
		"top_k", cfg.InventoryOptions.TopK,
		"answer_cache", queryCache != nil,
		"background_workers", bgPool.Capacity,
	)

	// 9. 初始化 Handler 层
	inventoryHandler := handler.NewInventoryHandler(service, m)

	// 10. 初始化 HTTP 服务器并注册路由
	httpServer := server.NewHTTPServer(cfg.HTTPOptions,
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Tracing(Name),
		middleware.Logger(),
		middleware.Timeout(cfg.HTTPOptions.RequestTimeout),
	)
	router.Register(httpServer.Engine(), inventoryHandler, health)

	s.srv = server.NewManager(cfg.ShutdownTimeout)
	s.srv.Add(httpServer)

	ok = true
	logger.Infow("Inventory RAG service is ready", "addr", httpServer.Addr())
	return s, nil
}

// Run starts the server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()
	return s.srv.Run(ctx)
}

// close releases resources in reverse creation order.
func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func printBanner(cfg *Config) {
	fmt.Printf("Starting %s...\n", Name)
	fmt.Printf("  Embedding: %s (%s)\n", cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.Model)
	fmt.Printf("  Chat: %s (%s)\n", cfg.ChatOptions.Provider, cfg.ChatOptions.Model)
	fmt.Printf("  Milvus: %s\n", cfg.MilvusOptions.Address)
	fmt.Printf("  MongoDB: %s\n", cfg.MongoDBOptions.String())
}
