package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/service"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/response"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

// transferStatuses maps Stripe transfer events to payout statuses
var transferStatuses = map[string]domain.PayoutStatus{
	"transfer.created":  domain.PayoutStatusAccepted,
	"transfer.updated":  domain.PayoutStatusInTransit,
	"transfer.paid":     domain.PayoutStatusPaid,
	"transfer.failed":   domain.PayoutStatusFailed,
	"transfer.reversed": domain.PayoutStatusFailed,
}

// WebhookHandler receives payout status pushes from Stripe
type WebhookHandler struct {
	payouts       service.PayoutService
	webhookSecret string
	log           *logger.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(payouts service.PayoutService, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{payouts: payouts, webhookSecret: webhookSecret, log: logger.Get()}
}

// HandleStripeWebhook handles POST /webhooks/stripe
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest("failed to read request body"))
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		c.JSON(http.StatusBadRequest, response.BadRequest("missing Stripe-Signature header"))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.log.Warn("rejected webhook", zap.Error(err))
		c.JSON(http.StatusBadRequest, response.BadRequest("invalid signature"))
		return
	}

	status, handled := transferStatuses[string(event.Type)]
	if !handled {
		c.JSON(http.StatusOK, response.Success(gin.H{"received": true, "handled": false}))
		return
	}

	var tr stripe.Transfer
	if err := json.Unmarshal(event.Data.Raw, &tr); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest("failed to parse event data"))
		return
	}
	payoutID := tr.Metadata["payout_id"]
	if payoutID == "" {
		h.log.Warn("transfer event without payout id", zap.String("transfer_id", tr.ID), zap.String("type", string(event.Type)))
		c.JSON(http.StatusOK, response.Success(gin.H{"received": true, "handled": false}))
		return
	}

	// Illegal or stale transitions are acknowledged so Stripe stops redelivering
	if _, err := h.payouts.ApplyProviderUpdate(c.Request.Context(), payoutID, string(status), tr.ID); err != nil {
		kind := domain.KindOf(err)
		if kind == domain.KindFatal || kind == domain.KindExternal {
			h.log.Error("failed to apply payout update", zap.String("payout_id", payoutID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, response.InternalError("", telemetry.GetTraceID(c.Request.Context())))
			return
		}
		h.log.Warn("ignored payout update",
			zap.String("payout_id", payoutID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	c.JSON(http.StatusOK, response.Success(gin.H{"received": true, "handled": true}))
}
