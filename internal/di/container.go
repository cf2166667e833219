package di

import (
	"fmt"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/clock"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/gateway"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/handler"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/repository"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/service"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/config"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/database"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/kafka"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/logger"
	pkgredis "github.com/prohmpiriya/ticket-reservation-engine/pkg/redis"
)

// Container holds all dependencies of the reservation engine
type Container struct {
	// Infrastructure
	DB       *database.PostgresDB
	Redis    *pkgredis.Client
	Producer *kafka.Producer

	// Storage
	Tx    database.Transactor
	Repos *repository.Repositories
	Cache repository.AvailabilityCache

	// Collaborators
	Gateway        service.PaymentGateway
	PayoutProvider service.PayoutProvider
	Tasks          service.TaskPublisher
	Notifier       service.Notifier

	// Services
	CapacityService    service.CapacityService
	HoldService        service.HoldService
	SettlementService  service.SettlementService
	FulfillmentService service.FulfillmentService
	PayoutService      service.PayoutService
	TaskRunner         *service.TaskRunner

	// Handlers
	HealthHandler      *handler.HealthHandler
	ReservationHandler *handler.ReservationHandler
	AdminHandler       *handler.AdminHandler
	WebhookHandler     *handler.WebhookHandler
}

// ContainerConfig contains configuration for building the container.
// Without a database the engine runs on the in-memory store, without a
// producer tasks run in-process.
type ContainerConfig struct {
	Config      *config.Config
	ServiceName string
	DB          *database.PostgresDB
	Redis       *pkgredis.Client
	Producer    *kafka.Producer
	Clock       clock.Clock
	// ArtifactBaseURL roots generated ticket locations
	ArtifactBaseURL string
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, fmt.Errorf("container config is required")
	}
	log := logger.Get()
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	settings := service.SettingsFromConfig(&cfg.Config.Reservation)

	c := &Container{
		DB:       cfg.DB,
		Redis:    cfg.Redis,
		Producer: cfg.Producer,
	}

	// Storage
	if cfg.DB != nil {
		c.Tx = database.NewTxManager(cfg.DB.Pool())
		c.Repos = repository.NewPostgresRepositories(cfg.DB.Pool())
	} else {
		log.Warn("No database configured, using the in-memory store")
		store := repository.NewMemoryStore()
		c.Tx = store
		c.Repos = store.Repositories()
	}
	if cfg.Redis != nil {
		c.Cache = repository.NewRedisAvailabilityCache(cfg.Redis, cfg.Config.Reservation.AvailabilityCacheTTL)
	} else {
		c.Cache = repository.NoopAvailabilityCache{}
	}

	// Payment and payout providers
	if err := c.initProviders(&cfg.Config.Stripe); err != nil {
		return nil, err
	}

	// Post-commit tasks
	var local *service.LocalTaskPublisher
	if cfg.Producer != nil {
		c.Tasks = service.NewKafkaTaskPublisher(cfg.Producer, &service.TaskPublisherConfig{
			Topic:       cfg.Config.Tasks.Topic,
			ServiceName: cfg.ServiceName,
		})
		c.Notifier = service.NewKafkaNotifier(cfg.Producer, c.Repos.Reservations, cfg.Config.Tasks.NotificationTopic, clk)
	} else {
		local = service.NewLocalTaskPublisher(log, &service.LocalTaskConfig{
			MaxRetries:   cfg.Config.Tasks.RetryAttempts,
			RetryBackoff: cfg.Config.Tasks.RetryBackoff,
		})
		c.Tasks = local
		c.Notifier = service.NewLogNotifier(log)
	}

	// Services
	identity := service.NewUnitOwnerIdentity(c.Repos.Units)
	c.CapacityService = service.NewCapacityService(c.Tx, c.Repos, c.Cache, identity, clk)
	c.HoldService = service.NewHoldService(c.Tx, c.Repos, c.Cache, identity, c.Gateway, clk, settings)
	c.PayoutService = service.NewPayoutService(c.Tx, c.Repos, c.PayoutProvider, c.Tasks, clk, settings)
	c.SettlementService = service.NewSettlementService(c.Tx, c.Repos, service.SettlementDeps{
		Gateway:   c.Gateway,
		Generator: service.NewScanCodeGenerator(cfg.ArtifactBaseURL, clk),
		Tasks:     c.Tasks,
		Payouts:   c.PayoutService,
		Identity:  identity,
		Clock:     clk,
	}, settings)
	c.FulfillmentService = service.NewFulfillmentService(c.Tx, c.Repos, c.Gateway, c.PayoutService, identity, clk, settings)
	c.TaskRunner = service.NewTaskRunner(c.SettlementService, c.PayoutService, c.Notifier)
	if local != nil {
		local.SetHandler(c.TaskRunner)
	}

	// Handlers
	components := map[string]handler.HealthChecker{}
	if cfg.DB != nil {
		components["database"] = cfg.DB
	}
	if cfg.Redis != nil {
		components["redis"] = cfg.Redis
	}
	if cfg.Producer != nil {
		components["kafka"] = cfg.Producer
	}
	c.HealthHandler = handler.NewHealthHandler(components)
	c.ReservationHandler = handler.NewReservationHandler(c.CapacityService, c.HoldService, c.SettlementService, c.FulfillmentService)
	c.AdminHandler = handler.NewAdminHandler(c.HoldService, c.FulfillmentService, c.PayoutService)
	c.WebhookHandler = handler.NewWebhookHandler(c.PayoutService, cfg.Config.Stripe.WebhookSecret)

	return c, nil
}

func (c *Container) initProviders(cfg *config.StripeConfig) error {
	if cfg.UseMock {
		c.Gateway = gateway.NewMockGateway(gateway.DefaultMockConfig())
		c.PayoutProvider = gateway.NewMockPayoutProvider(gateway.DefaultMockConfig())
		logger.Get().Info("Using mock payment gateway and payout provider")
		return nil
	}

	stripeGateway, err := gateway.NewStripeGateway(&gateway.StripeGatewayConfig{SecretKey: cfg.SecretKey})
	if err != nil {
		return fmt.Errorf("failed to create stripe gateway: %w", err)
	}
	payoutProvider, err := gateway.NewStripePayoutProvider(cfg.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to create stripe payout provider: %w", err)
	}
	c.Gateway = stripeGateway
	c.PayoutProvider = payoutProvider
	return nil
}

// Close waits for in-process tasks. The producer and the other
// infrastructure are closed by their owner.
func (c *Container) Close() error {
	if c.Producer == nil && c.Tasks != nil {
		return c.Tasks.Close()
	}
	return nil
}
