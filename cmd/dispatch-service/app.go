package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"leadflow/internal/config"
	"leadflow/internal/constants"
	"leadflow/internal/dispatch"
	"leadflow/internal/failure"
	"leadflow/internal/logger"
	"leadflow/internal/queue"
	"leadflow/internal/ratelimit"
	"leadflow/pkg/bootstrap"
	"leadflow/pkg/health"
	"leadflow/pkg/logging"
	"leadflow/pkg/metrics"
	"leadflow/pkg/tracing"
)

const (
	defaultWorkers         = 4
	defaultPollInterval    = 500 * time.Millisecond
	defaultDispatchTimeout = 10 * time.Second
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redisClient    *redis.Client
	mongoClient    *mongo.Client
	queueService   *queue.Service
	pool           *dispatch.Pool
	completions    *dispatch.CompletionHandler
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("dispatch-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker("dispatch-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initService(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "dispatch-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterDispatchMetrics()
	metrics.RegisterAdminMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

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
		return err
	}
	a.mongoClient = mongoClient

	return nil
}

func (a *App) initService(ctx context.Context) error {
	limiter := ratelimit.NewLimiter(
		a.Config.RateLimit,
		ratelimit.NewRedisCounterStore(a.redisClient),
		ratelimit.NewRedisControlStore(a.redisClient),
		a.Logger,
	)

	var deadLetters failure.DeadLetterStore
	if a.mongoClient != nil {
		deadLetters = failure.NewDeadLetterStore(a.mongoClient.Database(a.Config.Database.MongoDB.Database))
	} else {
		a.Logger.WarnwCtx(ctx, "MongoDB not configured, dead letters held in memory only")
		deadLetters = failure.NewMemoryDeadLetterStore()
	}

	a.queueService = queue.NewService(
		queue.NewRepository(a.db),
		limiter,
		failure.NewClassifier(a.Config.Failure),
		deadLetters,
		a.Logger,
	)

	dispatchTopic := a.Config.Broker.Kafka.DispatchTopic
	if dispatchTopic == "" {
		dispatchTopic = constants.DefaultDispatchTopic
	}

	executor := dispatch.NewKafkaExecutor(a.Producer, dispatchTopic, a.Config.CircuitBreaker, a.Logger)

	poolCfg := a.Config.Dispatch
	if poolCfg.Workers <= 0 {
		poolCfg.Workers = defaultWorkers
	}
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = defaultPollInterval
	}
	if poolCfg.DispatchTimeout <= 0 {
		poolCfg.DispatchTimeout = defaultDispatchTimeout
	}

	a.pool = dispatch.NewPool(a.queueService, executor, poolCfg, a.Logger)
	a.completions = dispatch.NewCompletionHandler(a.queueService, a.Logger)

	return nil
}

func (a *App) initHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return a.pool.Run(gCtx)
	})

	completionTopic := a.Config.Broker.Kafka.CompletionTopic
	if completionTopic == "" {
		completionTopic = constants.DefaultCompletionTopic
	}
	g.Go(func() error {
		runCtx := logging.WithServiceName(gCtx, "dispatch-service")
		a.Logger.InfowCtx(runCtx, "Starting completion event consumer",
			"topic", completionTopic,
		)
		return a.completions.Run(gCtx, a.Consumer, completionTopic)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "dispatch-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down dispatch service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
