package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/api/rest"
	"github.com/davidmoltin/ai-action-queue/internal/api/rest/handlers"
	"github.com/davidmoltin/ai-action-queue/internal/api/rest/middleware"
	"github.com/davidmoltin/ai-action-queue/internal/engine"
	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/internal/repository/memory"
	"github.com/davidmoltin/ai-action-queue/internal/repository/postgres"
	"github.com/davidmoltin/ai-action-queue/internal/services"
	"github.com/davidmoltin/ai-action-queue/internal/websocket"
	"github.com/davidmoltin/ai-action-queue/internal/workers"
	"github.com/davidmoltin/ai-action-queue/migrations"
	"github.com/davidmoltin/ai-action-queue/pkg/auth"
	"github.com/davidmoltin/ai-action-queue/pkg/config"
	"github.com/davidmoltin/ai-action-queue/pkg/database"
	"github.com/davidmoltin/ai-action-queue/pkg/llm"
	"github.com/davidmoltin/ai-action-queue/pkg/llm/providers"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
	"github.com/davidmoltin/ai-action-queue/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// stores groups the repositories of one storage driver
type stores struct {
	queue     services.QueueRepository
	schedules services.ScheduledActionRepository
	audit     engine.AuditRepository
	health    handlers.HealthChecker
	close     func() error
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting AI action queue",
		logger.String("version", cfg.App.Version),
		logger.String("environment", cfg.App.Environment),
		logger.String("storage", cfg.Storage.Driver),
		logger.String("executor", cfg.Engine.Executor),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	var redisClient *database.RedisClient
	if cfg.Redis.Enabled {
		redisClient, err = database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer redisClient.Close()
	}

	// Action registry
	registry := engine.NewDefaultRegistry()
	if cfg.Engine.PolicyFile != "" {
		n, err := registry.LoadPolicyOverrides(cfg.Engine.PolicyFile)
		if err != nil {
			return fmt.Errorf("failed to load action policies: %w", err)
		}
		log.Info("Action policy overrides loaded", logger.Int("actions", n))
	}

	// Execution engine
	executor, err := newExecutor(cfg, log)
	if err != nil {
		return err
	}
	breaker := engine.NewBreakerExecutor(executor, engine.BreakerSettings{
		FailureRatio: cfg.Engine.BreakerFailureRatio,
		OpenTimeout:  cfg.Engine.BreakerOpenTimeout,
	}, log.Named("breaker"), m)

	engineOpts := []engine.Option{
		engine.WithTimeout(cfg.Engine.ExecutionTimeout),
		engine.WithDefaultThreshold(cfg.Engine.DefaultThreshold),
		engine.WithMetrics(m),
	}
	if redisClient != nil {
		// Snapshots pushed to Redis by the CRM (or cmd/seed) are served from the cache
		loader := engine.NewCachedEntityLoader(engine.NewStaticEntityLoader(), redisClient, cfg.Engine.EntityCacheTTL, log.Named("entities"))
		engineOpts = append(engineOpts,
			engine.WithEntityLoader(loader),
			engine.WithCommitter(engine.NewRedisCommitter(redisClient)),
		)
	}
	eng := engine.NewExecutionEngine(registry, breaker, st.audit, log, engineOpts...)

	// Queue
	queue, err := services.NewQueueService(st.queue, queueConfig(cfg), nil, log,
		services.WithQueueMetrics(m),
		services.WithParamValidator(registry),
		services.WithMaxAttemptsFor(func(a models.ActionType) int {
			policy, _ := registry.DefaultPolicy(a)
			return policy.MaxAttempts
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}

	actions := services.NewActionsService(eng, queue, log)
	detachActions := actions.Attach()
	defer detachActions()

	// Scheduler
	schedulerOpts := []services.SchedulerOption{
		services.WithSchedulerMetrics(m),
		services.WithScheduleValidator(registry),
	}
	if cfg.Scheduler.DistributedLock {
		schedulerOpts = append(schedulerOpts, services.WithTickLock(redisClient, "aiq:scheduler:tick", cfg.Scheduler.LockTTL))
	}
	scheduler := services.NewSchedulerService(st.schedules, queue, log, schedulerOpts...)
	scheduler.SetRunner(workers.NewSchedulerWorker(scheduler, log))

	// Background workers
	queueWorker := workers.NewQueueWorker(queue, log, cfg.Queue.PollInterval)
	detachWake := queue.Subscribe(func(e models.QueueEvent) {
		switch e.Type {
		case models.QueueEventEnqueued, models.QueueEventRequeued, models.QueueEventReclaimed:
			queueWorker.Wake()
		}
	})
	defer detachWake()
	queueWorker.Start(ctx)

	maintenance := workers.NewMaintenanceWorker(queue, scheduler, workers.MaintenanceConfig{
		StaleCheckEvery:   cfg.Queue.StaleCheckEvery,
		StaleAfter:        cfg.Queue.StaleAfter,
		QueueRetention:    cfg.Queue.Retention,
		ScheduleRetention: cfg.Scheduler.Retention,
	}, log)
	maintenance.Start(ctx)

	if cfg.Scheduler.Enabled {
		scheduler.StartScheduler(ctx, cfg.Scheduler.TickInterval)
	}

	// Websocket event stream
	var pubsub websocket.PubSub
	if redisClient != nil {
		pubsub = redisClient
	}
	hub := websocket.NewHub(pubsub, log)
	hub.Start()
	detachHub := hub.Attach(queue, scheduler)
	defer detachHub()
	wsHandler := websocket.NewHandler(hub, cfg.Server.AllowedOrigins, log)

	// Authentication
	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = auth.DevelopmentSecret
		log.Warn("JWT_SECRET not set, using default (INSECURE - only for development)")
	}
	jwtManager := auth.NewJWTManagerWithTTL(jwtSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.Issuer)
	apiKeys, err := auth.ParseAPIKeyStore(cfg.Auth.APIKeys)
	if err != nil {
		return fmt.Errorf("failed to parse API keys: %w", err)
	}
	authenticator := middleware.NewAuthenticator(jwtManager, apiKeys, m, log)

	// HTTP
	checkers := &handlers.HealthCheckers{
		DB:                st.health,
		Scheduler:         scheduler,
		SchedulerRequired: cfg.Scheduler.Enabled,
	}
	if redisClient != nil {
		checkers.Redis = redisClient
	}
	h := handlers.NewHandlers(ctx, log, handlers.Dependencies{
		Scheduler:    scheduler,
		Queue:        queue,
		Actions:      actions,
		Engine:       eng,
		Audit:        eng,
		Health:       checkers,
		Version:      cfg.App.Version,
		TickInterval: cfg.Scheduler.TickInterval,
	})

	router := rest.NewRouter(log, h, authenticator, m, rest.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		WebSocket:      wsHandler,
		WebSocketStats: wsHandler.HandleStats,
	})
	router.SetupRoutes()
	router.StartRateLimiterCleanup(ctx, 5*time.Minute)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("API server listening", logger.String("address", addr))
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", logger.String("signal", sig.String()))

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			log.Error("Graceful shutdown failed", logger.Err(err))
		}
	}

	// Stop producers before consumers: scheduler, then queue dispatch, then maintenance
	scheduler.StopScheduler()
	queueWorker.Stop()
	maintenance.Stop()
	hub.Stop()
	cancel()

	log.Info("Server stopped gracefully")
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.Storage.Driver == "memory" {
		log.Warn("Using in-memory storage; state is lost on restart")
		return &stores{
			queue:     memory.NewQueueStore(),
			schedules: memory.NewScheduleStore(),
			audit:     memory.NewAuditStore(),
			close:     func() error { return nil },
		}, nil
	}

	db, err := database.NewPostgresDB(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db.DB, migrations.Files, log); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &stores{
		queue:     postgres.NewQueueRepository(db),
		schedules: postgres.NewScheduledActionRepository(db),
		audit:     postgres.NewAuditRepository(db),
		health:    db,
		close:     db.Close,
	}, nil
}

func queueConfig(cfg *config.Config) services.QueueConfig {
	qc := services.DefaultQueueConfig()
	qc.MaxAttempts = cfg.Queue.MaxAttempts
	qc.Concurrency = cfg.Queue.Concurrency
	qc.StaleAfter = cfg.Queue.StaleAfter
	qc.Backoff = services.BackoffConfig{
		Strategy:     cfg.Queue.BackoffStrategy,
		InitialDelay: cfg.Queue.InitialBackoff,
		MaxDelay:     cfg.Queue.MaxBackoff,
		Multiplier:   cfg.Queue.BackoffMultiplier,
	}
	return qc
}

func newExecutor(cfg *config.Config, log *logger.Logger) (engine.Executor, error) {
	if cfg.Engine.Executor == "heuristic" {
		return engine.NewHeuristicExecutor(), nil
	}

	llmCfg := &llm.Config{
		Provider:     llm.Provider(cfg.LLM.Provider),
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.Model,
		Timeout:      cfg.LLM.Timeout,
		MaxRetries:   cfg.LLM.MaxRetries,
		RetryDelay:   time.Second,
	}

	client, err := providers.New(llmCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	log.Info("Using LLM executor", logger.String("provider", cfg.LLM.Provider), logger.String("model", cfg.LLM.Model))
	return engine.NewLLMExecutor(client, cfg.LLM.Model), nil
}
