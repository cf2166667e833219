package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	OTel        OTelConfig        `mapstructure:"otel"`
	Stripe      StripeConfig      `mapstructure:"stripe"`
	Reservation ReservationConfig `mapstructure:"reservation"`
	Tasks       TasksConfig       `mapstructure:"tasks"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	EnableTracing   bool          `mapstructure:"enable_tracing"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	ClientID      string   `mapstructure:"client_id"`
}

// JWTConfig holds JWT settings
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// StripeConfig holds payment and payout provider settings
type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Currency      string `mapstructure:"currency"`
	// UseMock selects the in-process gateways instead of Stripe
	UseMock bool `mapstructure:"use_mock"`
}

// ReservationConfig holds business settings of the reservation engine
type ReservationConfig struct {
	HoldTTL                 time.Duration `mapstructure:"hold_ttl"`
	MaxHoldTTL              time.Duration `mapstructure:"max_hold_ttl"`
	DefaultMaxPerPurchase   int           `mapstructure:"default_max_per_purchase"`
	UploadDeadlineHours     int           `mapstructure:"upload_deadline_hours"`
	PlatformFeeRate         float64       `mapstructure:"platform_fee_rate"`
	CaptureTimeout          time.Duration `mapstructure:"capture_timeout"`
	RefundTimeout           time.Duration `mapstructure:"refund_timeout"`
	PayoutTimeout           time.Duration `mapstructure:"payout_timeout"`
	TestConfirmationEnabled bool          `mapstructure:"test_confirmation_enabled"`
	AutoApproveGenerated    bool          `mapstructure:"auto_approve_generated"`
	ExpirySweepInterval     time.Duration `mapstructure:"expiry_sweep_interval"`
	DeadlineSweepInterval   time.Duration `mapstructure:"deadline_sweep_interval"`
	SweepBatchSize          int           `mapstructure:"sweep_batch_size"`
	AvailabilityCacheTTL    time.Duration `mapstructure:"availability_cache_ttl"`
}

// TasksConfig holds post-commit task queue settings
type TasksConfig struct {
	Topic             string        `mapstructure:"topic"`
	NotificationTopic string        `mapstructure:"notification_topic"`
	// RetryAttempts is the number of retries after the first attempt
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	WorkerCount       int           `mapstructure:"worker_count"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// A missing .env is fine, environment variables still apply
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "reservation-engine")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "reservations")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_CONNS", 50)
	v.SetDefault("DATABASE_MIN_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")
	v.SetDefault("DATABASE_ENABLE_TRACING", false)

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "reservation-engine")
	v.SetDefault("KAFKA_CLIENT_ID", "reservation-engine")

	// JWT defaults
	v.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	v.SetDefault("JWT_ISSUER", "reservation-engine")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "reservation-engine")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Stripe defaults
	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("STRIPE_CURRENCY", "usd")
	v.SetDefault("STRIPE_USE_MOCK", true)

	// Reservation defaults
	v.SetDefault("RESERVATION_HOLD_TTL", "10m")
	v.SetDefault("RESERVATION_MAX_HOLD_TTL", "30m")
	v.SetDefault("RESERVATION_DEFAULT_MAX_PER_PURCHASE", 10)
	v.SetDefault("RESERVATION_UPLOAD_DEADLINE_HOURS", 48)
	v.SetDefault("RESERVATION_PLATFORM_FEE_RATE", 0.10)
	v.SetDefault("RESERVATION_CAPTURE_TIMEOUT", "10s")
	v.SetDefault("RESERVATION_REFUND_TIMEOUT", "10s")
	v.SetDefault("RESERVATION_PAYOUT_TIMEOUT", "15s")
	v.SetDefault("RESERVATION_TEST_CONFIRMATION_ENABLED", true)
	v.SetDefault("RESERVATION_AUTO_APPROVE_GENERATED", true)
	v.SetDefault("RESERVATION_EXPIRY_SWEEP_INTERVAL", "5m")
	v.SetDefault("RESERVATION_DEADLINE_SWEEP_INTERVAL", "5m")
	v.SetDefault("RESERVATION_SWEEP_BATCH_SIZE", 200)
	v.SetDefault("RESERVATION_AVAILABILITY_CACHE_TTL", "2s")

	// Task queue defaults
	v.SetDefault("TASKS_TOPIC", "reservation.tasks")
	v.SetDefault("TASKS_NOTIFICATION_TOPIC", "reservation.notifications")
	v.SetDefault("TASKS_RETRY_ATTEMPTS", 3)
	v.SetDefault("TASKS_RETRY_BACKOFF", "2s")
	v.SetDefault("TASKS_WORKER_COUNT", 4)
}

func bindConfig(v *viper.Viper, cfg *Config) error {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxConns = v.GetInt("DATABASE_MAX_CONNS")
	cfg.Database.MinConns = v.GetInt("DATABASE_MIN_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")
	cfg.Database.EnableTracing = v.GetBool("DATABASE_ENABLE_TRACING")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ConsumerGroup = v.GetString("KAFKA_CONSUMER_GROUP")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Stripe
	cfg.Stripe.SecretKey = v.GetString("STRIPE_SECRET_KEY")
	cfg.Stripe.WebhookSecret = v.GetString("STRIPE_WEBHOOK_SECRET")
	cfg.Stripe.Currency = v.GetString("STRIPE_CURRENCY")
	cfg.Stripe.UseMock = v.GetBool("STRIPE_USE_MOCK")

	// Reservation
	cfg.Reservation.HoldTTL = v.GetDuration("RESERVATION_HOLD_TTL")
	cfg.Reservation.MaxHoldTTL = v.GetDuration("RESERVATION_MAX_HOLD_TTL")
	cfg.Reservation.DefaultMaxPerPurchase = v.GetInt("RESERVATION_DEFAULT_MAX_PER_PURCHASE")
	cfg.Reservation.UploadDeadlineHours = v.GetInt("RESERVATION_UPLOAD_DEADLINE_HOURS")
	cfg.Reservation.PlatformFeeRate = v.GetFloat64("RESERVATION_PLATFORM_FEE_RATE")
	cfg.Reservation.CaptureTimeout = v.GetDuration("RESERVATION_CAPTURE_TIMEOUT")
	cfg.Reservation.RefundTimeout = v.GetDuration("RESERVATION_REFUND_TIMEOUT")
	cfg.Reservation.PayoutTimeout = v.GetDuration("RESERVATION_PAYOUT_TIMEOUT")
	cfg.Reservation.TestConfirmationEnabled = v.GetBool("RESERVATION_TEST_CONFIRMATION_ENABLED")
	cfg.Reservation.AutoApproveGenerated = v.GetBool("RESERVATION_AUTO_APPROVE_GENERATED")
	cfg.Reservation.ExpirySweepInterval = v.GetDuration("RESERVATION_EXPIRY_SWEEP_INTERVAL")
	cfg.Reservation.DeadlineSweepInterval = v.GetDuration("RESERVATION_DEADLINE_SWEEP_INTERVAL")
	cfg.Reservation.SweepBatchSize = v.GetInt("RESERVATION_SWEEP_BATCH_SIZE")
	cfg.Reservation.AvailabilityCacheTTL = v.GetDuration("RESERVATION_AVAILABILITY_CACHE_TTL")

	// Tasks
	cfg.Tasks.Topic = v.GetString("TASKS_TOPIC")
	cfg.Tasks.NotificationTopic = v.GetString("TASKS_NOTIFICATION_TOPIC")
	cfg.Tasks.RetryAttempts = v.GetInt("TASKS_RETRY_ATTEMPTS")
	cfg.Tasks.RetryBackoff = v.GetDuration("TASKS_RETRY_BACKOFF")
	cfg.Tasks.WorkerCount = v.GetInt("TASKS_WORKER_COUNT")

	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.IsProduction() && c.JWT.Secret == "your-secret-key-change-in-production" {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	if c.IsProduction() && c.Reservation.TestConfirmationEnabled {
		return fmt.Errorf("test payment confirmation cannot be enabled in production")
	}

	if c.Reservation.HoldTTL <= 0 {
		return fmt.Errorf("hold ttl must be positive")
	}
	if c.Reservation.MaxHoldTTL < c.Reservation.HoldTTL {
		return fmt.Errorf("max hold ttl %s is shorter than hold ttl %s", c.Reservation.MaxHoldTTL, c.Reservation.HoldTTL)
	}
	if c.Reservation.DefaultMaxPerPurchase <= 0 {
		return fmt.Errorf("default max per purchase must be positive")
	}
	if c.Reservation.UploadDeadlineHours <= 0 {
		return fmt.Errorf("upload deadline hours must be positive")
	}
	if c.Reservation.PlatformFeeRate < 0 || c.Reservation.PlatformFeeRate >= 1 {
		return fmt.Errorf("invalid platform fee rate: %f", c.Reservation.PlatformFeeRate)
	}
	if c.Reservation.SweepBatchSize <= 0 {
		return fmt.Errorf("sweep batch size must be positive")
	}
	if c.Tasks.RetryAttempts <= 0 {
		return fmt.Errorf("task retry attempts must be positive")
	}

	return nil
}

// ValidateDatabase validates database configuration
func (c *Config) ValidateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DATABASE_HOST is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("DATABASE_DBNAME is required")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
