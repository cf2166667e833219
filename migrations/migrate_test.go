package migrations

import (
	"context"
	"os"
	"testing"

	"github.com/prohmpiriya/ticket-reservation-engine/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames_Ordered(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	require.Equal(t, []string{"001_inventory.sql", "002_reservations.sql", "003_settlement.sql"}, names)
}

func TestApply_Idempotent(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run.")
	}
	ctx := context.Background()

	cfg := database.DefaultPostgresConfig()
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		cfg.Host = host
	}
	cfg.Password = os.Getenv("POSTGRES_PASSWORD")
	cfg.MaxConns, cfg.MinConns = 2, 1

	db, err := database.NewPostgres(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	_, err = Apply(ctx, db.Pool())
	require.NoError(t, err)

	again, err := Apply(ctx, db.Pool())
	require.NoError(t, err)
	assert.Zero(t, again)
}
