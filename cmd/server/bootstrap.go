package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	gormlogger "gorm.io/gorm/logger"

	"github.com/huangang/reviewiq/internal/config"
	"github.com/huangang/reviewiq/internal/handlers"
	"github.com/huangang/reviewiq/internal/metrics"
	"github.com/huangang/reviewiq/internal/middleware"
	"github.com/huangang/reviewiq/internal/models"
	"github.com/huangang/reviewiq/internal/services"
	"github.com/huangang/reviewiq/internal/store"
	"github.com/huangang/reviewiq/internal/utils"
	"github.com/huangang/reviewiq/pkg/logger"
)

const sideEffectTimeout = 15 * time.Second

// appServices holds everything the routes and the shutdown sequence need.
type appServices struct {
	cfg        *config.Config
	store      store.Store
	hub        *services.SSEHub
	dispatcher *services.Dispatcher
	audit      *services.AuditService
	taskQueue  services.TaskQueue
	worker     *services.Worker
	syncJob    *services.SyncJob
	sweep      *services.PendingSweep
	redis      *redis.Client
	limiter    *middleware.RateLimiter

	reviewHandler    *handlers.ReviewHandler
	analyticsHandler *handlers.AnalyticsHandler
	syncHandler      *handlers.SyncHandler
	sseHandler       *handlers.SSEHandler
	healthHandler    *handlers.HealthHandler
}

// bootstrap opens the store and wires services, schedulers and handlers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)
	metrics.Init()

	s := openStore(cfg)
	seedBranches(s, cfg.Branches)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	hub := services.NewSSEHub()
	dispatcher := services.NewDispatcher(cfg.Dispatcher.Workers, cfg.Dispatcher.QueueSize, sideEffectTimeout)
	audit := services.NewAuditService(s)
	notifier := services.NewNotificationService(cfg.Notification)
	classifier := services.NewLLMClassifier(cfg.Classifier)

	reviews := services.NewReviewService(s, classifier, hub, audit, notifier, dispatcher)
	analytics := services.NewAnalyticsService(s, newMetricsCache(cfg.Analytics, redisClient))

	var source services.ReviewSource
	if cfg.Sync.PlacesAPIKey != "" {
		source = services.NewPlacesClient(cfg.Sync)
	}
	syncService := services.NewSyncService(s, reviews, source)

	// Redis when enabled, otherwise sync tasks run in-process
	taskQueue := services.NewTaskQueue(&cfg.Redis)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(syncService.ProcessTask)
	}

	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(syncService.ProcessTask)
			if err := worker.Start(); err != nil {
				logger.Warn().Err(err).Msg("Failed to start sync worker")
			}
		}
	}

	var syncJob *services.SyncJob
	if cfg.Sync.Enabled && source != nil {
		syncJob = services.NewSyncJob(s, taskQueue, cfg.Sync)
		if err := syncJob.StartScheduler(); err != nil {
			logger.Fatalf("Failed to start sync scheduler: %v", err)
		}
	}

	var sweep *services.PendingSweep
	if cfg.Sweep.Enabled {
		sweep = services.NewPendingSweep(reviews, s, cfg.Sweep)
		sweep.OnTick(analytics.InvalidateExpired)
		sweep.Start()
	}

	return &appServices{
		cfg:        cfg,
		store:      s,
		hub:        hub,
		dispatcher: dispatcher,
		audit:      audit,
		taskQueue:  taskQueue,
		worker:     worker,
		syncJob:    syncJob,
		sweep:      sweep,
		redis:      redisClient,
		limiter:    middleware.NewRateLimiter(cfg.Server.IntakeRPS, cfg.Server.IntakeBurst),

		reviewHandler:    handlers.NewReviewHandler(reviews),
		analyticsHandler: handlers.NewAnalyticsHandler(analytics),
		syncHandler:      handlers.NewSyncHandler(syncService),
		sseHandler:       handlers.NewSSEHandler(hub),
		healthHandler:    handlers.NewHealthHandler(s, taskQueue, hub),
	}
}

func openStore(cfg *config.Config) store.Store {
	if cfg.Database.Driver == "memory" {
		logger.Warn().Msg("Using in-memory store, data is lost on restart")
		return store.NewMemoryStore()
	}

	level := gormlogger.Warn
	if cfg.Log.Level == "debug" {
		level = gormlogger.Info
	}
	db, err := models.Open(&cfg.Database, level)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	return store.NewGormStore(db)
}

func seedBranches(s store.Store, seeds []config.BranchSeed) {
	ctx := context.Background()
	for _, b := range seeds {
		err := s.SaveBranch(ctx, &models.Branch{
			ID:        b.ID,
			Name:      b.Name,
			ManagerID: b.ManagerID,
			PlaceID:   b.PlaceID,
			AlertURL:  b.AlertURL,
		})
		if err != nil {
			logger.Warn().Err(err).Str("branch", b.ID).Msg("Failed to seed branch")
		}
	}
}

func newMetricsCache(cfg config.AnalyticsConfig, client *redis.Client) services.MetricsCache {
	switch cfg.CacheBackend {
	case "none":
		return services.NoopMetricsCache{}
	case "redis":
		if client != nil {
			return services.NewRedisMetricsCache(client, cfg.CacheTTL())
		}
		logger.Warn().Msg("Redis metric cache requested but Redis is disabled, using memory")
	}
	return services.NewMemoryMetricsCache(cfg.CacheTTL())
}

// shutdown stops producers before the consumers they feed.
func (s *appServices) shutdown() {
	if s.syncJob != nil {
		s.syncJob.StopScheduler()
	}
	if s.sweep != nil {
		s.sweep.Stop()
	}
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		if err := s.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close task queue")
		}
	}

	// Drains queued broadcasts, audits and alerts.
	s.dispatcher.Close()
	s.limiter.Close()

	if s.redis != nil {
		_ = s.redis.Close()
	}
}
