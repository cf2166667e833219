package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/metrics"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/config"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/database"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/kafka"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/logger"
	pkgredis "github.com/prohmpiriya/ticket-reservation-engine/pkg/redis"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"go.uber.org/zap"
)

// Infrastructure holds the external connections of one process
type Infrastructure struct {
	DB       *database.PostgresDB
	Redis    *pkgredis.Client
	Producer *kafka.Producer
}

// InfraOptions selects which connections a process needs. Redis and Kafka
// are optional: a failed connection is logged and left nil.
type InfraOptions struct {
	ClientID string
	Redis    bool
	Kafka    bool
}

// InitObservability initializes tracing and engine metrics. The returned
// function flushes the exporters.
func InitObservability(ctx context.Context, cfg *config.Config, serviceName string) func() {
	appLog := logger.Get()
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Telemetry initialization failed", zap.Error(err))
	}
	if err := metrics.Init(); err != nil {
		appLog.Warn("Metrics initialization failed", zap.Error(err))
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			appLog.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}
}

// OpenInfrastructure connects to PostgreSQL and, when requested, to Redis and Kafka
func OpenInfrastructure(ctx context.Context, cfg *config.Config, opts InfraOptions) (*Infrastructure, error) {
	appLog := logger.Get()
	infra := &Infrastructure{}

	dbCfg := database.FromConfig(&cfg.Database)
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	infra.DB = db
	appLog.Info(fmt.Sprintf("Database connected (pool: min=%d, max=%d)", dbCfg.MinConns, dbCfg.MaxConns))

	if opts.Redis {
		redisCfg := pkgredis.FromConfig(&cfg.Redis)
		client, err := pkgredis.NewClient(ctx, redisCfg)
		if err != nil {
			appLog.Warn("Redis connection failed, continuing without cache and idempotency", zap.Error(err))
		} else {
			infra.Redis = client
			appLog.Info(fmt.Sprintf("Redis connected (pool: %d, minIdle: %d)", redisCfg.PoolSize, redisCfg.MinIdleConns))
		}
	}

	if opts.Kafka {
		clientID := opts.ClientID
		if clientID == "" {
			clientID = cfg.Kafka.ClientID
		}
		producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
			Brokers:       cfg.Kafka.Brokers,
			ClientID:      clientID,
			MaxRetries:    3,
			RetryInterval: 250 * time.Millisecond,
		})
		if err != nil {
			appLog.Warn("Kafka connection failed, running tasks in-process", zap.Error(err))
		} else {
			infra.Producer = producer
			appLog.Info("Kafka producer connected")
		}
	}

	return infra, nil
}

// Close closes every open connection
func (i *Infrastructure) Close() {
	if i.Producer != nil {
		i.Producer.Close()
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
