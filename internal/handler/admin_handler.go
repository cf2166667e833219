package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/dto"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/service"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const defaultSweepLimit = 200

// AdminHandler serves operator actions: artifact review, refunds, payouts and sweeps
type AdminHandler struct {
	holds       service.HoldService
	fulfillment service.FulfillmentService
	payouts     service.PayoutService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(holds service.HoldService, fulfillment service.FulfillmentService, payouts service.PayoutService) *AdminHandler {
	return &AdminHandler{holds: holds, fulfillment: fulfillment, payouts: payouts}
}

// Approve handles POST /admin/reservations/:id/approve
func (h *AdminHandler) Approve(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.approve")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor, authed := requireActor(c, span)
	if !authed {
		return
	}
	result, err := h.fulfillment.Approve(ctx, actor, c.Param("id"))
	if err != nil {
		handleError(c, span, err)
		return
	}
	respond(c, span, http.StatusOK, result)
}

// Reject handles POST /admin/reservations/:id/reject
func (h *AdminHandler) Reject(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.reject")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor, authed := requireActor(c, span)
	if !authed {
		return
	}
	var req dto.RejectArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, span, err)
		return
	}
	res, err := h.fulfillment.Reject(ctx, actor, c.Param("id"), req.Reason)
	if err != nil {
		handleError(c, span, err)
		return
	}
	respond(c, span, http.StatusOK, res)
}

// Deliver handles POST /admin/reservations/:id/deliver
func (h *AdminHandler) Deliver(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.deliver")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor, authed := requireActor(c, span)
	if !authed {
		return
	}
	res, err := h.fulfillment.Deliver(ctx, actor, c.Param("id"))
	if err != nil {
		handleError(c, span, err)
		return
	}
	respond(c, span, http.StatusOK, res)
}

// RetryRefund handles POST /admin/reservations/:id/refund
func (h *AdminHandler) RetryRefund(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.retry_refund")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor, authed := requireActor(c, span)
	if !authed {
		return
	}
	res, err := h.fulfillment.RetryRefund(ctx, actor, c.Param("id"))
	if err != nil {
		handleError(c, span, err)
		return
	}
	respond(c, span, http.StatusOK, res)
}

// UpdatePayoutStatus handles PUT /admin/payouts/:id/status
func (h *AdminHandler) UpdatePayoutStatus(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.payout_status")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	if _, authed := requireActor(c, span); !authed {
		return
	}
	var req dto.PayoutStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, span, err)
		return
	}
	span.SetAttributes(attribute.String("payout_id", c.Param("id")), attribute.String("status", req.Status))

	payout, err := h.payouts.ApplyProviderUpdate(ctx, c.Param("id"), req.Status, req.ExternalID)
	if err != nil {
		handleError(c, span, err)
		return
	}
	respond(c, span, http.StatusOK, payout)
}

func sweepLimit(c *gin.Context) (int, error) {
	var req dto.SweepRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			return 0, err
		}
	}
	if req.Limit == 0 {
		req.Limit = defaultSweepLimit
	}
	return req.Limit, nil
}

// SweepExpired handles POST /admin/sweeps/expired
func (h *AdminHandler) SweepExpired(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.sweep_expired")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	limit, err := sweepLimit(c)
	if err != nil {
		badRequest(c, span, err)
		return
	}
	expired, err := h.holds.SweepExpired(ctx, limit)
	if err != nil {
		handleError(c, span, err)
		return
	}
	respond(c, span, http.StatusOK, dto.ExpireSweepResponse{Expired: expired})
}

// SweepDeadlines handles POST /admin/sweeps/deadlines
func (h *AdminHandler) SweepDeadlines(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.sweep_deadlines")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	limit, err := sweepLimit(c)
	if err != nil {
		badRequest(c, span, err)
		return
	}
	result, err := h.fulfillment.SweepMissedDeadlines(ctx, limit)
	if err != nil {
		handleError(c, span, err)
		return
	}
	respond(c, span, http.StatusOK, result)
}
