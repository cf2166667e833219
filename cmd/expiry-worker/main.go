package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/di"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/worker"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/config"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/logger"
	"go.uber.org/zap"
)

const serviceName = "expiry-worker"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Expiry Worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry := di.InitObservability(ctx, cfg, serviceName)
	defer shutdownTelemetry()

	// Redis is used to invalidate cached availability of released units
	infra, err := di.OpenInfrastructure(ctx, cfg, di.InfraOptions{ClientID: serviceName, Redis: true})
	if err != nil {
		appLog.Fatal(err.Error())
	}
	defer infra.Close()

	container, err := di.NewContainer(&di.ContainerConfig{
		Config:      cfg,
		ServiceName: serviceName,
		DB:          infra.DB,
		Redis:       infra.Redis,
	})
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}
	defer container.Close()

	expiryWorker := worker.NewExpiryWorker(container.HoldService, &worker.SweepWorkerConfig{
		ScanInterval: cfg.Reservation.ExpirySweepInterval,
		BatchSize:    cfg.Reservation.SweepBatchSize,
	})
	if err := expiryWorker.Start(ctx); err != nil {
		appLog.Fatal("Failed to start expiry worker", zap.Error(err))
	}
	appLog.Info("Expiry Worker started successfully")

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down worker...")
	expiryWorker.Stop()
	cancel()

	stats := expiryWorker.GetStats()
	appLog.Info("Worker exited gracefully",
		zap.Int64("released", stats.TotalProcessed),
		zap.Int64("failed", stats.TotalFailed),
	)
}
