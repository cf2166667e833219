package config

import (
	"os"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		App:    AppConfig{Name: "reservation-engine", Environment: "development"},
		Server: ServerConfig{Port: 8080},
		JWT:    JWTConfig{Secret: "secret"},
		Reservation: ReservationConfig{
			HoldTTL:               10 * time.Minute,
			MaxHoldTTL:            30 * time.Minute,
			DefaultMaxPerPurchase: 10,
			UploadDeadlineHours:   48,
			PlatformFeeRate:       0.1,
			SweepBatchSize:        100,
		},
		Tasks: TasksConfig{RetryAttempts: 3},
	}
}

func TestLoad_WithDefaults(t *testing.T) {
	envVars := []string{
		"APP_NAME", "APP_ENVIRONMENT", "SERVER_PORT",
		"DATABASE_HOST", "DATABASE_PORT", "REDIS_PORT", "JWT_SECRET",
		"RESERVATION_HOLD_TTL", "RESERVATION_UPLOAD_DEADLINE_HOURS", "KAFKA_BROKERS",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.App.Name != "reservation-engine" {
		t.Errorf("App.Name = %q, want %q", cfg.App.Name, "reservation-engine")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, 5432)
	}
	if cfg.Reservation.HoldTTL != 10*time.Minute {
		t.Errorf("Reservation.HoldTTL = %v, want 10m", cfg.Reservation.HoldTTL)
	}
	if cfg.Reservation.ExpirySweepInterval != 5*time.Minute {
		t.Errorf("Reservation.ExpirySweepInterval = %v, want 5m", cfg.Reservation.ExpirySweepInterval)
	}
	if cfg.Tasks.RetryAttempts != 3 {
		t.Errorf("Tasks.RetryAttempts = %d, want 3", cfg.Tasks.RetryAttempts)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("Kafka.Brokers = %v, want [localhost:9092]", cfg.Kafka.Brokers)
	}
}

func TestLoad_WithEnvOverride(t *testing.T) {
	os.Setenv("SERVER_PORT", "9090")
	os.Setenv("RESERVATION_HOLD_TTL", "15m")
	os.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	defer func() {
		os.Unsetenv("SERVER_PORT")
		os.Unsetenv("RESERVATION_HOLD_TTL")
		os.Unsetenv("KAFKA_BROKERS")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Reservation.HoldTTL != 15*time.Minute {
		t.Errorf("Reservation.HoldTTL = %v, want 15m", cfg.Reservation.HoldTTL)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Kafka.Brokers = %v, want [k1:9092 k2:9092]", cfg.Kafka.Brokers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing app name", mutate: func(c *Config) { c.App.Name = "" }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "zero hold ttl", mutate: func(c *Config) { c.Reservation.HoldTTL = 0 }, wantErr: true},
		{name: "max ttl below ttl", mutate: func(c *Config) { c.Reservation.MaxHoldTTL = time.Minute }, wantErr: true},
		{name: "fee rate of one", mutate: func(c *Config) { c.Reservation.PlatformFeeRate = 1 }, wantErr: true},
		{
			name: "test confirmation in production",
			mutate: func(c *Config) {
				c.App.Environment = "production"
				c.Reservation.TestConfirmationEnabled = true
			},
			wantErr: true,
		},
		{
			name: "default secret in production",
			mutate: func(c *Config) {
				c.App.Environment = "production"
				c.JWT.Secret = "your-secret-key-change-in-production"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "reservations", SSLMode: "disable"}
	want := "host=db port=5432 user=u password=p dbname=reservations sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
