package dto

import (
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/service"
	"github.com/shopspring/decimal"
)

// HoldLineRequest is one line of a hold request. A line without a section
// draws from the unit capacity.
type HoldLineRequest struct {
	SectionID string   `json:"section_id,omitempty"`
	Quantity  int      `json:"quantity"`
	Seats     []string `json:"seats,omitempty"`
}

// CreateHoldRequest represents request to hold inventory
type CreateHoldRequest struct {
	UnitID       string            `json:"unit_id" binding:"required"`
	Lines        []HoldLineRequest `json:"lines,omitempty"`
	ResaleItemID string            `json:"resale_item_id,omitempty"`
	TTLSeconds   int               `json:"ttl_seconds,omitempty" binding:"omitempty,min=1"`
}

// ToInput converts the request to a service input
func (r *CreateHoldRequest) ToInput() *service.CreateHoldInput {
	lines := make([]service.HoldLine, 0, len(r.Lines))
	for _, l := range r.Lines {
		lines = append(lines, service.HoldLine{SectionID: l.SectionID, Quantity: l.Quantity, Seats: l.Seats})
	}
	return &service.CreateHoldInput{
		UnitID:       r.UnitID,
		Lines:        lines,
		ResaleItemID: r.ResaleItemID,
		TTL:          time.Duration(r.TTLSeconds) * time.Second,
	}
}

// DefineSectionRequest represents request to add a section to a unit
type DefineSectionRequest struct {
	Name       string          `json:"name" binding:"required"`
	Capacity   int             `json:"capacity"`
	SeatLabels []string        `json:"seat_labels,omitempty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// ToInput converts the request to a service input
func (r *DefineSectionRequest) ToInput() *service.DefineSectionInput {
	return &service.DefineSectionInput{
		Name:       r.Name,
		Capacity:   r.Capacity,
		SeatLabels: r.SeatLabels,
		UnitPrice:  r.UnitPrice,
	}
}

// AuthorizePaymentRequest records a PSP authorization
type AuthorizePaymentRequest struct {
	AuthorizationID string `json:"authorization_id" binding:"required"`
	CaptureToken    string `json:"capture_token,omitempty"`
}

// ConfirmPaymentRequest captures a held group. TestMode confirms without a
// PSP and is only honored when enabled.
type ConfirmPaymentRequest struct {
	CaptureToken string `json:"capture_token,omitempty"`
	TestMode     bool   `json:"test_mode,omitempty"`
}

// UploadArtifactRequest carries the location of a seller supplied artifact
type UploadArtifactRequest struct {
	Location string `json:"location" binding:"required"`
}

// RejectArtifactRequest carries the rejection reason
type RejectArtifactRequest struct {
	Reason string `json:"reason"`
}

// PayoutStatusRequest is a provider status pushed by an operator
type PayoutStatusRequest struct {
	Status     string `json:"status" binding:"required"`
	ExternalID string `json:"external_id,omitempty"`
}

// SweepRequest bounds a manually triggered sweep
type SweepRequest struct {
	Limit int `json:"limit" binding:"omitempty,min=1,max=10000"`
}

// ExpireSweepResponse is the result of an expiry sweep
type ExpireSweepResponse struct {
	Expired int `json:"expired"`
}

// ReservationViewResponse is a reservation with its fulfillment progress
type ReservationViewResponse struct {
	*domain.ReservationView
	// AwaitingArtifacts is true while a paid reservation waits for generation
	AwaitingArtifacts bool `json:"awaiting_artifacts"`
}

// NewReservationViewResponse wraps a view for the API
func NewReservationViewResponse(v *domain.ReservationView) *ReservationViewResponse {
	return &ReservationViewResponse{ReservationView: v, AwaitingArtifacts: v.AwaitingArtifacts()}
}

// DeadlineResponse is the upload deadline of a reservation
type DeadlineResponse struct {
	ReservationID string     `json:"reservation_id"`
	Deadline      *time.Time `json:"deadline"`
}
