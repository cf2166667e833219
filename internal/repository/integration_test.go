package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/repository"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/service"
	"github.com/prohmpiriya/ticket-reservation-engine/migrations"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/database"
	pkgredis "github.com/prohmpiriya/ticket-reservation-engine/pkg/redis"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipUnlessIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getTestPostgres(t *testing.T) *database.PostgresDB {
	t.Helper()
	port, _ := strconv.Atoi(envOr("TEST_DATABASE_PORT", "5432"))
	cfg := database.DefaultPostgresConfig()
	cfg.Host = envOr("TEST_DATABASE_HOST", "localhost")
	cfg.Port = port
	cfg.User = envOr("TEST_DATABASE_USER", "postgres")
	cfg.Password = envOr("TEST_DATABASE_PASSWORD", "postgres")
	cfg.Database = envOr("TEST_DATABASE_NAME", "reservations_test")
	cfg.MaxRetries = 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := database.NewPostgres(ctx, cfg)
	if err != nil {
		t.Skipf("Skipping: PostgreSQL not available: %v", err)
	}
	t.Cleanup(db.Close)

	_, err = migrations.Apply(context.Background(), db.Pool())
	require.NoError(t, err)
	return db
}

func getTestRedis(t *testing.T) *pkgredis.Client {
	t.Helper()
	cfg := pkgredis.DefaultConfig()
	cfg.Host = envOr("TEST_REDIS_HOST", "localhost")
	cfg.Password = os.Getenv("TEST_REDIS_PASSWORD")
	cfg.DB = 1 // Use DB 1 for tests
	cfg.MaxRetries = 1

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := pkgredis.NewClient(ctx, cfg)
	if err != nil {
		t.Skipf("Skipping: Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPostgres_ConcurrentHoldsNeverOversell(t *testing.T) {
	skipUnlessIntegration(t)
	db := getTestPostgres(t)
	ctx := context.Background()

	repos := repository.NewPostgresRepositories(db.Pool())
	tx := database.NewTxManager(db.Pool())
	holds := service.NewHoldService(tx, repos, nil, nil, nil, nil, service.DefaultSettings())

	const capacity = 5
	unit := &domain.InventoryUnit{
		ID:              uuid.New().String(),
		OwnerID:         uuid.New().String(),
		Title:           "Integration Show",
		Capacity:        capacity,
		StartsAt:        time.Now().Add(24 * time.Hour),
		Approved:        true,
		Active:          true,
		FulfillmentMode: domain.FulfillmentModeOwned,
		UnitPrice:       decimal.NewFromInt(30),
		Currency:        "USD",
		CreatedAt:       time.Now(),
	}
	require.NoError(t, repos.Units.Create(ctx, unit))

	const buyers = 20
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		unexpected []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := domain.Actor{UserID: fmt.Sprintf("buyer-%d-%s", i, uuid.NewString()[:8]), Role: domain.RoleBuyer}
			_, err := holds.CreateHold(ctx, actor, &service.CreateHoldInput{
				UnitID: unit.ID,
				Lines:  []service.HoldLine{{Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrSerializationConflict):
			default:
				unexpected = append(unexpected, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, unexpected)
	assert.LessOrEqual(t, succeeded, capacity)
	assert.Positive(t, succeeded)

	consumed, err := repos.Reservations.ConsumedForUnit(ctx, unit.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, succeeded, consumed)
}

func TestRedisAvailabilityCache_RoundTrip(t *testing.T) {
	skipUnlessIntegration(t)
	client := getTestRedis(t)
	ctx := context.Background()

	cache := repository.NewRedisAvailabilityCache(client, time.Minute)
	unitID := uuid.New().String()
	defer cache.Invalidate(ctx, unitID)

	_, ok := cache.Get(ctx, unitID, "")
	assert.False(t, ok)

	cache.Set(ctx, domain.NewAvailability(unitID, "", 10, 3, false))
	cache.Set(ctx, domain.NewAvailability(unitID, "vip", 4, 4, false))

	unitAvail, ok := cache.Get(ctx, unitID, "")
	require.True(t, ok)
	assert.Equal(t, 7, unitAvail.Remaining)

	section, ok := cache.Get(ctx, unitID, "vip")
	require.True(t, ok)
	assert.Equal(t, 0, section.Remaining)

	cache.Invalidate(ctx, unitID)
	_, ok = cache.Get(ctx, unitID, "vip")
	assert.False(t, ok)
}
