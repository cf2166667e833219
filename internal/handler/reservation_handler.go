package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/dto"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/service"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ReservationHandler serves buyer and seller facing reservation requests
type ReservationHandler struct {
	capacity    service.CapacityService
	holds       service.HoldService
	settlement  service.SettlementService
	fulfillment service.FulfillmentService
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(
	capacity service.CapacityService,
	holds service.HoldService,
	settlement service.SettlementService,
	fulfillment service.FulfillmentService,
) *ReservationHandler {
	return &ReservationHandler{
		capacity:    capacity,
		holds:       holds,
		settlement:  settlement,
		fulfillment: fulfillment,
	}
}

// GetAvailability handles GET /units/:id/availability?section_id=
func (h *ReservationHandler) GetAvailability(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.availability")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	unitID := c.Param("id")
	sectionID := c.Query("section_id")
	span.SetAttributes(attribute.String("unit_id", unitID), attribute.String("section_id", sectionID))

	var err error
	var result any
	if sectionID == "" {
		result, err = h.capacity.Remaining(ctx, unitID)
	} else {
		result, err = h.capacity.RemainingInSection(ctx, unitID, sectionID)
	}
	if err != nil {
		handleError(c, span, err)
		return
	}
	respond(c, span, http.StatusOK, result)
}

// DefineSection handles POST /units/:id/sections
func (h *ReservationHandler) DefineSection(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.define_section")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor, authed := requireActor(c, span)
	if !authed {
		return
	}
	var req dto.DefineSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, span, err)
		return
	}

	section, err := h.capacity.DefineSection(ctx, actor, c.Param("id"), req.ToInput())
	if err != nil {
		handleError(c, span, err)
		return
	}
	respond(c, span, http.StatusCreated, section)
}

// CreateHold handles POST /holds
func (h *ReservationHandler) CreateHold(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.create_hold")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor, authed := requireActor(c, span)
	if !authed {
		return
	}
	var req dto.CreateHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, span, err)
		return
	}
	span.SetAttributes(
		attribute.String("user_id", actor.UserID),
		attribute.String("unit_id", req.UnitID),
		attribute.Int("lines", len(req.Lines)),
	)

	result, err := h.holds.CreateHold(ctx, actor, req.ToInput())
	if err != nil {
		handleError(c, span, err)
		return
	}
	span.SetAttributes(attribute.String("group_id", result.GroupID))
	respond(c, span, http.StatusCreated, result)
}

// GetReservation handles GET /reservations/:id
func (h *ReservationHandler) GetReservation(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor, authed := requireActor(c, span)
	if !authed {
		return
	}
	view, err := h.holds.GetReservation(ctx, actor, c.Param("id"))
	if err != nil {
		handleError(c, span, err)
		return
	}
	respond(c, span, http.StatusOK, dto.NewReservationViewResponse(view))
}

// CancelHold handles POST /reservations/:id/cancel
func (h *ReservationHandler) CancelHold(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor, authed := requireActor(c, span)
	if !authed {
		return
	}
	group, err := h.holds.CancelHold(ctx, actor, c.Param("id"))
	if err != nil {
		handleError(c, span, err)
		return
	}
	respond(c, span, http.StatusOK, group)
}

// AuthorizePayment handles POST /reservations/:id/authorize
func (h *ReservationHandler) AuthorizePayment(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.authorize")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor, authed := requireActor(c, span)
	if !authed {
		return
	}
	var req dto.AuthorizePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, span, err)
		return
	}

	group, err := h.settlement.AuthorizePayment(ctx, actor, c.Param("id"), &service.AuthorizeInput{
		AuthorizationID: req.AuthorizationID,
		CaptureToken:    req.CaptureToken,
	})
	if err != nil {
		handleError(c, span, err)
		return
	}
	respond(c, span, http.StatusOK, group)
}

// ConfirmPayment handles POST /reservations/:id/confirm
func (h *ReservationHandler) ConfirmPayment(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.confirm")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor, authed := requireActor(c, span)
	if !authed {
		return
	}
	var req dto.ConfirmPaymentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, span, err)
			return
		}
	}
	span.SetAttributes(attribute.Bool("test_mode", req.TestMode))

	result, err := h.settlement.ConfirmPayment(ctx, actor, c.Param("id"), &service.ConfirmInput{
		CaptureToken: req.CaptureToken,
		TestMode:     req.TestMode,
	})
	if err != nil {
		handleError(c, span, err)
		return
	}
	span.SetAttributes(attribute.Bool("already_paid", result.AlreadyPaid))
	respond(c, span, http.StatusOK, result)
}

// UploadArtifact handles POST /reservations/:id/artifact
func (h *ReservationHandler) UploadArtifact(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.upload")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor, authed := requireActor(c, span)
	if !authed {
		return
	}
	var req dto.UploadArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, span, err)
		return
	}

	res, err := h.fulfillment.Upload(ctx, actor, c.Param("id"), req.Location)
	if err != nil {
		handleError(c, span, err)
		return
	}
	respond(c, span, http.StatusOK, res)
}

// GetDeadline handles GET /reservations/:id/deadline
func (h *ReservationHandler) GetDeadline(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.deadline")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	if _, authed := requireActor(c, span); !authed {
		return
	}
	id := c.Param("id")
	deadline, err := h.fulfillment.Deadline(ctx, id)
	if err != nil {
		handleError(c, span, err)
		return
	}
	respond(c, span, http.StatusOK, dto.DeadlineResponse{ReservationID: id, Deadline: deadline})
}
