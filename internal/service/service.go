package service

import (
	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func reservationIDs(rs []*domain.Reservation) []string {
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ID)
	}
	return ids
}

func unitIDs(rs []*domain.Reservation) []string {
	seen := make(map[string]struct{}, len(rs))
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		if _, ok := seen[r.UnitID]; ok {
			continue
		}
		seen[r.UnitID] = struct{}{}
		ids = append(ids, r.UnitID)
	}
	return ids
}

func totalQuantity(rs []*domain.Reservation) int {
	total := 0
	for _, r := range rs {
		total += r.Quantity
	}
	return total
}

func isBuyerOrAdmin(actor domain.Actor, r *domain.Reservation) bool {
	return actor.IsAdmin() || (actor.UserID != "" && actor.UserID == r.BuyerID)
}
