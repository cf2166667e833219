package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/migrations"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/config"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/database"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	envFile := flag.String("env", "", "path to an env file, defaults to .env and the environment")
	list := flag.Bool("list", false, "print the embedded migrations and exit")
	flag.Parse()

	if err := logger.Init(&logger.Config{Level: "info", ServiceName: "migrate", Development: true}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	appLog := logger.Get()

	if *list {
		names, err := migrations.Names()
		if err != nil {
			appLog.Fatal("Failed to list migrations", zap.Error(err))
		}
		for _, name := range names {
			appLog.Info(name)
		}
		return
	}

	var (
		cfg *config.Config
		err error
	)
	if *envFile != "" {
		cfg, err = config.LoadWithPath(*envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateDatabase(); err != nil {
		appLog.Fatal("Invalid database configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.NewPostgres(ctx, database.FromConfig(&cfg.Database))
	if err != nil {
		appLog.Fatal("Database connection failed", zap.Error(err))
	}
	defer db.Close()

	applied, err := migrations.Apply(ctx, db.Pool())
	if err != nil {
		appLog.Fatal("Migration failed", zap.Int("applied", applied), zap.Error(err))
	}
	appLog.Info("Migrations complete", zap.Int("applied", applied))
}
