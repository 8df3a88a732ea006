package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"hub/internal/broker"
	"hub/internal/circuit"
	"hub/internal/config"
	"hub/internal/constants"
	"hub/internal/deadletter"
	"hub/internal/idempotency"
	"hub/internal/logger"
	"hub/internal/monitor"
	"hub/internal/ratelimit"
	"hub/internal/router"
	"hub/internal/scheduler"
	"hub/internal/store"
	"hub/internal/transform"
	"hub/pkg/bootstrap"
	"hub/pkg/cel"
	"hub/pkg/health"
	"hub/pkg/metrics"
	"hub/pkg/middleware"
	httpratelimit "hub/pkg/ratelimit"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector

	redisClient *redis.Client
	mongoClient *mongo.Client

	store     *store.Store
	service   *router.Service
	handler   *router.Handler
	scheduler *scheduler.Scheduler
	monitor   *monitor.Monitor
	guard     *idempotency.Guard
	egress    *broker.Egress
	ingress   *broker.Ingress
	server    *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("hub-service")
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

	if err := a.initEngine(ctx); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	metrics.RegisterHubMetrics()
	if a.Config.Broker.Enabled {
		metrics.RegisterBrokerMetrics()
	}
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}
	if a.Config.RateLimit.Enabled {
		metrics.RegisterRateLimitMetrics()
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	if a.Config.Hub.Idempotency.Backend == "redis" {
		redisClient, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			return err
		}
		a.redisClient = redisClient
	}

	return nil
}

func (a *App) initEngine(ctx context.Context) error {
	if a.mongoClient != nil {
		dbName := a.Config.Database.MongoDB.Database
		if dbName == "" {
			dbName = constants.DefaultMongoDBName
		}
		db := a.mongoClient.Database(dbName)

		if err := store.EnsureIndexes(ctx, db); err != nil {
			return fmt.Errorf("failed to ensure indexes: %w", err)
		}

		a.store = &store.Store{
			Messages:        store.NewMessageRepository(db),
			Connectors:      store.NewConnectorRepository(db),
			Transformations: store.NewTransformationRepository(db),
			DeadLetters:     store.NewDeadLetterRepository(db),
		}
	} else {
		a.Logger.Warnw("MongoDB not configured, using in-memory store")
		a.store = store.NewMemoryStore()
	}

	var cache idempotency.Cache
	if a.redisClient != nil {
		cache = idempotency.NewRedisCache(a.redisClient)
	} else {
		cache = idempotency.NewMemoryCache()
	}
	if a.Config.CircuitBreaker.Enabled {
		cache = idempotency.NewCircuitBreakerCache(cache, a.Config.CircuitBreaker)
	}

	ttl := a.Config.Hub.Idempotency.TTL
	if ttl <= 0 {
		ttl = constants.DefaultIdempotencyTTL
	}
	a.guard = idempotency.NewGuard(cache, a.store.Messages, ttl, a.Logger)

	limiter := ratelimit.NewLimiter(a.store.Connectors)
	breaker := circuit.NewBreaker(a.store.Connectors, a.Config.Hub.Circuit.OpenTimeout, a.Logger)

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	engine := transform.NewEngine(a.store.Transformations, transform.NewExprEvaluator(evaluator), a.Logger)

	dlm := deadletter.NewManager(a.store, a.Logger)
	a.scheduler = scheduler.NewScheduler(a.store.Messages, dlm, a.Config.Hub.Retry, a.Logger)
	a.monitor = monitor.NewMonitor(a.store.Connectors, a.Logger)

	var dispatcher router.Dispatcher
	if a.Config.Broker.Enabled && a.Config.Broker.Kafka.CompletedTopic != "" {
		a.egress = broker.NewEgress(a.Config.Broker.Kafka, a.Logger)
		dispatcher = a.egress
	}

	a.service = router.NewService(
		a.store, a.guard, limiter, breaker, engine,
		a.scheduler, dlm, dispatcher, a.Config.Hub, a.Logger,
	)

	if a.Config.Broker.Enabled && a.Config.Broker.Kafka.InboundTopic != "" {
		a.ingress = broker.NewIngress(a.Config.Broker.Kafka, a.service, a.Logger)
	}

	a.handler = router.NewHandler(a.service, engine, dlm, a.store, a.Logger)

	return nil
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.RecoveryMiddleware(a.Logger))
	engine.Use(middleware.LoggerMiddleware(a.Logger))
	engine.Use(middleware.RequestIDMiddleware())

	if a.Config.RateLimit.Enabled {
		engine.Use(httpratelimit.RateLimitMiddleware(httpratelimit.RateLimitConfig{
			RPS:             a.Config.RateLimit.RPS,
			Burst:           a.Config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.RateLimit.MaxAge) * time.Second,
		}))
	}

	a.handler.RegisterRoutes(engine)

	healthRegistry := health.NewCheckerRegistry()
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}

	engine.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      engine,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if a.ingress != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(gCtx, "Starting inbound consumer",
				"topic", a.Config.Broker.Kafka.InboundTopic,
			)
			return a.ingress.Run(gCtx)
		})
	}

	g.Go(func() error {
		return a.runTicker(gCtx, "retry sweep", a.sweepInterval(), a.scheduler.RunRetrySweep)
	})
	g.Go(func() error {
		return a.runTicker(gCtx, "health check", a.healthInterval(), a.monitor.RunHealthCheck)
	})
	g.Go(func() error {
		return a.runTicker(gCtx, "idempotency cache sweep", a.cacheSweepInterval(), a.guard.RunCacheSweep)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return a.shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) runTicker(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				a.Logger.ErrorwCtx(ctx, "Background task failed",
					"task", name,
					"error", err,
				)
			}
		}
	}
}

func (a *App) sweepInterval() time.Duration {
	if a.Config.Hub.Retry.SweepInterval > 0 {
		return a.Config.Hub.Retry.SweepInterval
	}
	return constants.DefaultRetrySweepInterval
}

func (a *App) healthInterval() time.Duration {
	if a.Config.Hub.Health.CheckInterval > 0 {
		return a.Config.Hub.Health.CheckInterval
	}
	return constants.DefaultHealthCheckInterval
}

func (a *App) cacheSweepInterval() time.Duration {
	if a.Config.Hub.Idempotency.SweepInterval > 0 {
		return a.Config.Hub.Idempotency.SweepInterval
	}
	return constants.DefaultCacheSweepInterval
}

func (a *App) shutdown(ctx context.Context) error {
	return a.Shutdown(ctx, func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}
		if a.ingress != nil {
			if err := a.ingress.Close(); err != nil {
				errs = append(errs, fmt.Errorf("ingress close error: %w", err))
			}
		}
		if a.egress != nil {
			if err := a.egress.Close(); err != nil {
				errs = append(errs, fmt.Errorf("egress close error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.mongoClient)...)

		return errs
	})
}
