package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/middleware"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/response"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// actorFrom returns the authenticated caller. Tokens without a role act as buyers.
func actorFrom(c *gin.Context) (domain.Actor, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return domain.Actor{}, false
	}
	role, _ := middleware.GetRole(c)
	if role == "" {
		role = domain.RoleBuyer
	}
	return domain.Actor{UserID: userID, Role: role}, true
}

func requireActor(c *gin.Context, span trace.Span) (domain.Actor, bool) {
	actor, ok := actorFrom(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		c.JSON(http.StatusUnauthorized, response.Unauthorized(""))
	}
	return actor, ok
}

func badRequest(c *gin.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "invalid request")
	c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
}

// statusOf maps an error classification to an HTTP status
func statusOf(err error) int {
	if errors.Is(err, domain.ErrHoldExpired) {
		return http.StatusGone
	}
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes the classified error. Unclassified errors are logged
// and hidden from the caller.
func handleError(c *gin.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Get().WithContext(c.Request.Context()).Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, response.InternalError("", telemetry.GetTraceID(c.Request.Context())))
		return
	}
	c.JSON(status, response.ErrorWithDetails(domain.CodeOf(err), err.Error(), domain.DetailsOf(err)))
}

func respond(c *gin.Context, span trace.Span, status int, data any) {
	span.SetStatus(codes.Ok, "")
	c.JSON(status, response.Success(data))
}
