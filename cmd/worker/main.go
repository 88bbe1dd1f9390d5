package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/email"
	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/repository/postgres"
	"github.com/jwalitptl/clinic-api/internal/worker"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
	"github.com/jwalitptl/clinic-api/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

// readiness reports ready only when both the database and the broker answer.
type readiness struct {
	db     repository.Pinger
	broker messaging.Broker
}

func (r readiness) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return err
	}
	return r.broker.Ping(ctx)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Database.Driver != "postgres" {
		log.Fatal().Str("driver", cfg.Database.Driver).Msg("the outbox worker requires the postgres driver")
	}

	l := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = l.WithContext(ctx)

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	base := postgres.NewBaseRepository(db, cfg.Database.QueryTimeout)

	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, l)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(cfg.Server.MetricsPrefix, reg)

	processor, err := worker.NewOutboxProcessor(
		postgres.NewOutboxRepository(base),
		broker,
		email.NewService(cfg.Email),
		worker.OutboxProcessorConfig{
			Channel:           cfg.Redis.Channel,
			BatchSize:         cfg.Outbox.BatchSize,
			PollInterval:      cfg.Outbox.PollInterval,
			RetryAttempts:     cfg.Outbox.RetryAttempts,
			RetryDelay:        cfg.Outbox.RetryDelay,
			Retention:         cfg.Outbox.Retention,
			ProcessingTimeout: cfg.Outbox.ProcessingTimeout,
		},
		l,
		m,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create outbox processor")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	handler.NewHandler(readiness{db: &base, broker: broker}, reg).RegisterHealthRoutes(engine)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Outbox.HealthPort),
		Handler: engine,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()

	log.Info().
		Str("channel", cfg.Redis.Channel).
		Int("health_port", cfg.Outbox.HealthPort).
		Msg("outbox worker started")

	<-ctx.Done()
	log.Info().Msg("shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}
	wg.Wait()

	log.Info().Msg("worker exited properly")
}
