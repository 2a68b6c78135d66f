package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fandry/internal/app"
	"fandry/internal/config"
	"fandry/internal/handler"
	"fandry/internal/infrastructure/cache"
	"fandry/internal/infrastructure/database"
	"fandry/internal/infrastructure/mq"
	"fandry/internal/job"
	"fandry/internal/processor"
	"fandry/pkg/idgen"
	"fandry/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	workerID := flag.Int64("worker-id", 1, "snowflake worker id, unique per instance")
	flag.Parse()

	defer logger.Sync()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal(err)
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		logger.Warn("invalid log level, keeping default", "level", cfg.Log.Level, "error", err)
	}

	if err := idgen.Init(*workerID); err != nil {
		logger.Fatal(err)
	}

	db, err := database.Open(&cfg.Database, cfg.Log.SQLLog)
	if err != nil {
		logger.Fatal(err)
	}

	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Fatal(err)
	}
	defer redisClient.Close()

	publisher, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		logger.Fatal(err)
	}
	defer publisher.Close()

	services := app.NewServices(db, redisClient, cfg, processor.NewStripeProcessor(&cfg.Stripe))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(db, publisher, cfg)
	go outboxSender.Start(ctx)

	reconcileJob := job.NewCheckoutReconcileJob(services.Checkout, cfg)
	go reconcileJob.Start(ctx)

	h := handler.NewHandler(cfg, services.Balances, services.Pricing, services.Entitlements, services.Checkout)
	router := handler.SetupRouter(h, cfg)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
