package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/di"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/worker"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/config"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/kafka"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/retry"
	"go.uber.org/zap"
)

const serviceName = "task-worker"

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
	appLog.Info("Starting Task Worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry := di.InitObservability(ctx, cfg, serviceName)
	defer shutdownTelemetry()

	infra, err := di.OpenInfrastructure(ctx, cfg, di.InfraOptions{
		ClientID: serviceName,
		Redis:    true,
		Kafka:    true,
	})
	if err != nil {
		appLog.Fatal(err.Error())
	}
	defer infra.Close()
	if infra.Producer == nil {
		appLog.Fatal("Task worker requires Kafka")
	}

	container, err := di.NewContainer(&di.ContainerConfig{
		Config:      cfg,
		ServiceName: serviceName,
		DB:          infra.DB,
		Redis:       infra.Redis,
		Producer:    infra.Producer,
	})
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}
	defer container.Close()

	// Initialize Kafka consumer
	consumer, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.ConsumerGroup + "-tasks",
		Topics:         []string{cfg.Tasks.Topic},
		ClientID:       serviceName,
		SessionTimeout: 30 * time.Second,
	})
	if err != nil {
		appLog.Fatal("Failed to create Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()
	dlq := retry.NewKafkaDLQPublisher(infra.Producer, serviceName)
	appLog.Info("Kafka consumer connected",
		zap.String("topic", cfg.Tasks.Topic),
		zap.String("dlq_topic", dlq.GetDLQTopic(cfg.Tasks.Topic)),
	)

	taskWorker := worker.NewTaskWorker(
		consumer,
		container.TaskRunner,
		dlq,
		&worker.TaskWorkerConfig{
			WorkerCount:   cfg.Tasks.WorkerCount,
			RetryAttempts: cfg.Tasks.RetryAttempts,
			RetryBackoff:  cfg.Tasks.RetryBackoff,
		},
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := taskWorker.Start(ctx); err != nil {
			appLog.Error("Worker error", zap.Error(err))
		}
	}()

	appLog.Info("Task Worker started successfully")

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-done:
	}

	appLog.Info("Shutting down worker...")
	cancel()

	// Give in-flight tasks time to finish
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		appLog.Warn("Worker did not stop in time")
	}

	processed, failed := taskWorker.Stats()
	appLog.Info("Worker exited gracefully", zap.Int64("processed", processed), zap.Int64("failed", failed))
}
