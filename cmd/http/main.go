package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"fsanano/canteen/internal/config"
	"fsanano/canteen/internal/events"
	"fsanano/canteen/internal/handler"
	"fsanano/canteen/internal/metrics"
	"fsanano/canteen/internal/observability"
	"fsanano/canteen/internal/repository"
	"fsanano/canteen/internal/service"
)

func main() {
	logger := observability.NewLogger()
	defer logger.Sync()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	// 2. Setup storage
	var store service.Store
	switch cfg.StoreDriver {
	case "postgres":
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping database", zap.Error(err))
		}
		pg := repository.NewPostgresStore(dbPool)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("failed to apply schema", zap.Error(err))
		}
		logger.Info("connected to database")
		store = pg
	case "memory":
		mem := repository.NewMemoryStore()
		if err := repository.SeedDemo(ctx, mem, time.Now().In(cfg.Policy.Location)); err != nil {
			logger.Fatal("failed to seed demo data", zap.Error(err))
		}
		logger.Info("using in-memory store with demo data")
		store = mem
	}

	// 3. Setup events
	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Fatal("failed to set up event publisher", zap.Error(err))
	}
	defer publisher.Close()

	// 4. Setup logic
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine := service.NewEngine(service.Deps{
		Store:     store,
		Policy:    cfg.Policy,
		Logger:    logger,
		Metrics:   metrics.New(registry),
		Publisher: publisher,
	})
	h := handler.NewHandler(engine, []byte(cfg.JWTSecret), registry, logger)

	// 5. Setup server
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: h,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 2)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exiting")
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "kafka":
		return events.NewKafkaPublisher(cfg.Events.KafkaBroker, cfg.Events.KafkaTopic), nil
	case "amqp":
		return events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.AMQPExchange)
	default:
		return events.NewLogPublisher(logger), nil
	}
}
