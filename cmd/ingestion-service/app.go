package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	_ "github.com/lib/pq" // PostgreSQL driver

	"leadflow/internal/classify"
	"leadflow/internal/compliance"
	"leadflow/internal/config"
	"leadflow/internal/constants"
	"leadflow/internal/failure"
	"leadflow/internal/ingest"
	"leadflow/internal/lead"
	"leadflow/internal/logger"
	"leadflow/internal/queue"
	internalratelimit "leadflow/internal/ratelimit"
	"leadflow/pkg/bootstrap"
	"leadflow/pkg/health"
	"leadflow/pkg/metrics"
	"leadflow/pkg/middleware"
	"leadflow/pkg/ratelimit"
	"leadflow/pkg/tracing"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const defaultPolicyReloadInterval = 30 * time.Second

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redisClient    *redis.Client
	mongoClient    *mongo.Client
	gate           *compliance.Service
	server         *http.Server
	router         *gin.Engine
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("ingestion-service")
	}
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initRouter(ctx); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	tp, err := tracing.Init(a.config.Tracing, "ingestion-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterIngestionMetrics()
	metrics.RegisterAdminMetrics()

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redisClient = rdb

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		a.logger.WarnwCtx(ctx, "MongoDB connection failed, dead-letter persistence degraded", "error", err)
	} else {
		a.mongoClient = mongoClient
	}

	return nil
}

func (a *App) initRouter(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("ingestion-service"))
	}

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.config.Ingestion.IPRateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.config.Ingestion.IPRateLimit.RPS,
			Burst:           a.config.Ingestion.IPRateLimit.Burst,
			CleanupInterval: time.Duration(a.config.Ingestion.IPRateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.config.Ingestion.IPRateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.logger.InfowCtx(ctx, "Per-IP rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	reloadInterval := defaultPolicyReloadInterval
	if a.config.Ingestion.PolicyReloadSeconds > 0 {
		reloadInterval = time.Duration(a.config.Ingestion.PolicyReloadSeconds) * time.Second
	}

	gate, err := compliance.NewService(compliance.NewRepository(a.db), reloadInterval, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create compliance service: %w", err)
	}
	if err := gate.ReloadPolicies(ctx); err != nil {
		a.logger.WarnwCtx(ctx, "Failed to load initial compliance policies", "error", err)
	}
	a.gate = gate

	limiter := internalratelimit.NewLimiter(
		a.config.RateLimit,
		internalratelimit.NewRedisCounterStore(a.redisClient),
		internalratelimit.NewRedisControlStore(a.redisClient),
		a.logger,
	)

	var deadLetters failure.DeadLetterStore
	if a.mongoClient != nil {
		deadLetters = failure.NewDeadLetterStore(a.mongoClient.Database(a.config.Database.MongoDB.Database))
	} else {
		deadLetters = failure.NewMemoryDeadLetterStore()
	}

	queueService := queue.NewService(
		queue.NewRepository(a.db),
		limiter,
		failure.NewClassifier(a.config.Failure),
		deadLetters,
		a.logger,
	)

	svc := ingest.NewService(
		lead.NewRegistry(),
		gate,
		classify.NewClassifier(a.config.Classifier),
		queueService,
		limiter,
		a.config.Ingestion.IPRateLimit.PerMinute,
		a.logger,
	)

	ingest.NewHandler(svc, a.config.Ingestion.APIKeys, a.logger).RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
	return nil
}

func (a *App) initServer() error {
	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Server.Port),
		Handler: a.router,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	reloadCtx, cancelReload := context.WithCancel(ctx)
	defer cancelReload()
	go func() {
		if err := a.gate.StartReloader(reloadCtx); err != nil && err != context.Canceled {
			a.logger.ErrorwCtx(reloadCtx, "Policy reloader stopped", "error", err)
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return a.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down ingestion service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Ingestion service exited successfully")
	return nil
}
