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

const serviceName = "fulfillment-worker"

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
	appLog.Info("Starting Fulfillment Worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry := di.InitObservability(ctx, cfg, serviceName)
	defer shutdownTelemetry()

	// Follow-up tasks are published to Kafka
	infra, err := di.OpenInfrastructure(ctx, cfg, di.InfraOptions{ClientID: serviceName, Kafka: true})
	if err != nil {
		appLog.Fatal(err.Error())
	}
	defer infra.Close()

	container, err := di.NewContainer(&di.ContainerConfig{
		Config:      cfg,
		ServiceName: serviceName,
		DB:          infra.DB,
		Producer:    infra.Producer,
	})
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}
	defer container.Close()

	deadlineWorker := worker.NewDeadlineWorker(container.FulfillmentService, &worker.SweepWorkerConfig{
		ScanInterval: cfg.Reservation.DeadlineSweepInterval,
		BatchSize:    cfg.Reservation.SweepBatchSize,
	})
	if err := deadlineWorker.Start(ctx); err != nil {
		appLog.Fatal("Failed to start deadline worker", zap.Error(err))
	}
	appLog.Info("Fulfillment Worker started successfully")

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down worker...")
	deadlineWorker.Stop()
	cancel()

	stats := deadlineWorker.GetStats()
	appLog.Info("Worker exited gracefully",
		zap.Int64("refund_claims", stats.TotalProcessed),
		zap.Int64("failed", stats.TotalFailed),
	)
}
