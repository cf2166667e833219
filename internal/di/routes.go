package di

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/middleware"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
)

// RouterConfig holds HTTP surface settings
type RouterConfig struct {
	ServiceName string
	Version     string
	JWTSecret   string
	JWTIssuer   string
	// RequireIdempotencyKey rejects mutating requests without a key
	RequireIdempotencyKey bool
}

// SetupRouter registers every route of the engine
func SetupRouter(c *Container, cfg *RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(telemetry.TracingMiddleware(cfg.ServiceName))

	// Health check endpoints
	router.GET("/health", c.HealthHandler.Health)
	router.GET("/ready", c.HealthHandler.Ready)

	v1 := router.Group("/api/v1")
	v1.GET("/status", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": cfg.Version,
			"service": cfg.ServiceName,
		})
	})

	// Public reads and provider callbacks
	v1.GET("/units/:id/availability", c.ReservationHandler.GetAvailability)
	v1.POST("/webhooks/stripe", c.WebhookHandler.HandleStripeWebhook)

	authed := v1.Group("")
	authed.Use(middleware.JWTMiddleware(&middleware.JWTConfig{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
	}))
	if c.Redis != nil {
		idempotencyConfig := middleware.DefaultIdempotencyConfig(c.Redis)
		idempotencyConfig.Required = cfg.RequireIdempotencyKey
		authed.Use(middleware.IdempotencyMiddleware(idempotencyConfig))
	}

	{
		authed.POST("/units/:id/sections", c.ReservationHandler.DefineSection)
		authed.POST("/holds", c.ReservationHandler.CreateHold)

		reservations := authed.Group("/reservations")
		reservations.GET("/:id", c.ReservationHandler.GetReservation)
		reservations.GET("/:id/deadline", c.ReservationHandler.GetDeadline)
		reservations.POST("/:id/cancel", c.ReservationHandler.CancelHold)
		reservations.POST("/:id/authorize", c.ReservationHandler.AuthorizePayment)
		reservations.POST("/:id/confirm", c.ReservationHandler.ConfirmPayment)
		reservations.POST("/:id/artifact", c.ReservationHandler.UploadArtifact)
	}

	admin := authed.Group("/admin")
	admin.Use(middleware.RequireRole(domain.RoleAdmin, domain.RoleSystem))
	{
		admin.POST("/reservations/:id/approve", c.AdminHandler.Approve)
		admin.POST("/reservations/:id/reject", c.AdminHandler.Reject)
		admin.POST("/reservations/:id/deliver", c.AdminHandler.Deliver)
		admin.POST("/reservations/:id/refund", c.AdminHandler.RetryRefund)
		admin.PUT("/payouts/:id/status", c.AdminHandler.UpdatePayoutStatus)
		admin.POST("/sweeps/expired", c.AdminHandler.SweepExpired)
		admin.POST("/sweeps/deadlines", c.AdminHandler.SweepDeadlines)
	}

	return router
}
