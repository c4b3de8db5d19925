package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/reactor/internal/application/orchestrator"
	"github.com/aescanero/reactor/internal/application/services"
	"github.com/aescanero/reactor/internal/config"
	authmemory "github.com/aescanero/reactor/pkg/adapters/auth/memory"
	"github.com/aescanero/reactor/pkg/adapters/events/memory"
	"github.com/aescanero/reactor/pkg/adapters/events/redis"
	"github.com/aescanero/reactor/pkg/adapters/llm"
	"github.com/aescanero/reactor/pkg/adapters/metrics/prometheus"
	memstorage "github.com/aescanero/reactor/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/reactor/pkg/adapters/storage/redis"
	"github.com/aescanero/reactor/pkg/api/grpc"
	"github.com/aescanero/reactor/pkg/api/http"
	"github.com/aescanero/reactor/pkg/api/websocket"
	"github.com/aescanero/reactor/pkg/events"
	"github.com/aescanero/reactor/pkg/ports"
	"github.com/aescanero/reactor/pkg/registry"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

// stores groups the storage backends the service runs on
type stores struct {
	persistence ports.PersistenceProvider
	kv          ports.StorageProvider
	records     ports.RecordStore
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting reactor",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx := context.Background()

	// Storage: Redis when enabled, memory otherwise
	var redisClient *goredis.Client
	st := stores{
		persistence: memstorage.NewPersistence(),
		kv:          memstorage.NewKV(),
		records:     memstorage.NewRecordStore(),
	}
	if cfg.Redis.Enabled {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		st = stores{
			persistence: redisstorage.NewPersistence(redisClient, logger),
			kv:          redisstorage.NewKV(redisClient, cfg.Redis.ItemTTL),
			records:     redisstorage.NewRecordStore(redisClient, cfg.Redis.RecordTTL, logger),
		}
	}

	metricsCollector := prometheus.NewCollector()

	// Change event bus and its observers
	bus := events.NewBus(
		events.WithLogger(logger.Named("events")),
		events.WithMetrics(metricsCollector),
		events.WithDebounce(cfg.Events.Debounce),
	)

	journal := memory.NewJournal(cfg.Events.JournalSize)
	detachJournal := journal.Attach(bus)
	defer detachJournal()

	var mirror *redis.StreamMirror
	if cfg.Events.StreamMirror {
		mirror = redis.NewStreamMirror(
			redisClient,
			cfg.Events.Stream,
			cfg.Events.StreamMaxLen,
			cfg.Events.MirrorBuffer,
			logger.Named("mirror"),
		)
		detachMirror := mirror.Attach(bus)
		defer detachMirror()
	}

	// Initialize application components
	orchestratorMgr := orchestrator.NewManager(
		bus,
		st.records,
		metricsCollector,
		orchestrator.NewValidator(),
		logger.Named("orchestrator"),
		orchestrator.Config{
			DefaultWaitTimeout: cfg.Orchestrator.DefaultWaitTimeout,
			RecordRetention:    cfg.Orchestrator.RecordRetention,
			MonitorInterval:    cfg.Orchestrator.MonitorInterval,
			InitGate:           cfg.Orchestrator.Gate(),
		},
	)
	if err := orchestratorMgr.Initialize(ctx); err != nil {
		logger.Fatal("failed to initialize orchestrator", zap.Error(err))
	}

	authProvider, err := authmemory.NewProvider(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	if err != nil {
		logger.Fatal("failed to create auth provider", zap.Error(err))
	}

	llmProvider, err := llm.NewProvider(&llm.Config{
		Provider:  cfg.LLM.Provider,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.DefaultModel,
		MaxTokens: cfg.LLM.DefaultMaxTokens,
		BaseURL:   cfg.LLM.BaseURL,
		Timeout:   cfg.LLM.RequestTimeout,
		Metrics:   metricsCollector,
		Logger:    logger.Named("llm"),
	})
	if err != nil {
		logger.Fatal("failed to create LLM provider", zap.Error(err))
	}

	serviceRegistry := registry.New(registry.WithLogger(logger.Named("registry")))
	catalog, err := services.NewCatalog(serviceRegistry, services.Deps{
		Bus:          bus,
		Orchestrator: orchestratorMgr,
		Auth:         authProvider,
		Persistence:  st.persistence,
		Storage:      st.kv,
		LLM:          llmProvider,
		Logger:       logger.Named("services"),
	})
	if err != nil {
		logger.Fatal("failed to create service catalog", zap.Error(err))
	}
	if err := catalog.Start(ctx); err != nil {
		logger.Fatal("failed to start services", zap.Error(err))
	}

	// Release events held back during startup
	if gate := cfg.Orchestrator.Gate(); gate != "" {
		if _, err := bus.Emit(ctx, gate, nil, events.SourceSystem); err != nil {
			logger.Fatal("failed to emit init event", zap.Error(err))
		}
	}

	// Initialize API servers
	httpCfg := &http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Bus:          bus,
		Journal:      journal,
		Logger:       logger.Named("http"),
	}
	if cfg.Auth.RequireToken {
		httpCfg.Verifier = authProvider
	}
	httpServer := http.NewServer(httpCfg)

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(bus, cfg.Events.WebSocketBuffer, logger.Named("websocket"))
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:         cfg.GRPCPort,
		Orchestrator: orchestratorMgr,
		Logger:       logger.Named("grpc"),
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("reactor started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.String("llm_provider", cfg.LLM.Provider))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	// Services end newest first
	if err := serviceRegistry.Reset(shutdownCtx); err != nil {
		logger.Error("service shutdown error", zap.Error(err))
	}

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if mirror != nil {
		if err := mirror.Close(); err != nil {
			logger.Error("event mirror close error", zap.Error(err))
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("reactor shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
