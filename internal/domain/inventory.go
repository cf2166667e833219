package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FulfillmentMode decides how proof of entry is produced after settlement
type FulfillmentMode string

const (
	// FulfillmentModeOwned generates one artifact per unit of quantity
	FulfillmentModeOwned FulfillmentMode = "OWNED"
	// FulfillmentModeResale wraps one externally sourced ticket
	FulfillmentModeResale FulfillmentMode = "RESALE"
	// FulfillmentModeManualUpload waits for the seller to upload the ticket
	FulfillmentModeManualUpload FulfillmentMode = "MANUAL_UPLOAD"
)

// InventoryUnit is an event whose capacity is sold through reservations.
// Capacity is never decremented, consumption is derived from reservations.
type InventoryUnit struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Category        string          `json:"category"`
	Title           string          `json:"title"`
	Capacity        int             `json:"capacity"`
	StartsAt        time.Time       `json:"starts_at"`
	Approved        bool            `json:"approved"`
	Active          bool            `json:"active"`
	FulfillmentMode FulfillmentMode `json:"fulfillment_mode"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Currency        string          `json:"currency"`
	CreatedAt       time.Time       `json:"created_at"`
}

// HasStarted reports whether new sales are closed
func (u *InventoryUnit) HasStarted(now time.Time) bool {
	return !now.Before(u.StartsAt)
}

// OnSale reports whether the unit may accept holds
func (u *InventoryUnit) OnSale() bool {
	return u.Approved && u.Active
}

// Section is a named subdivision of an inventory unit
type Section struct {
	ID         string          `json:"id"`
	UnitID     string          `json:"unit_id"`
	Name       string          `json:"name"`
	Capacity   int             `json:"capacity"`
	SeatLabels []string        `json:"seat_labels,omitempty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// HasSeat reports whether label is part of the section seat map.
// Sections without a seat map accept no explicit seats.
func (s *Section) HasSeat(label string) bool {
	for _, l := range s.SeatLabels {
		if l == label {
			return true
		}
	}
	return false
}

// ResaleItem is a pre-existing ticket offered on the marketplace.
// A hold links it exclusively and a release unlinks it.
type ResaleItem struct {
	ID               string          `json:"id"`
	UnitID           string          `json:"unit_id"`
	SellerID         string          `json:"seller_id"`
	ExternalRef      string          `json:"external_ref"`
	ArtifactLocation string          `json:"artifact_location"`
	Price            decimal.Decimal `json:"price"`
	ReservationID    *string         `json:"reservation_id,omitempty"`
}

// Availability is the capacity accounting of a unit or a section
type Availability struct {
	UnitID     string `json:"unit_id"`
	SectionID  string `json:"section_id,omitempty"`
	Capacity   int    `json:"capacity"`
	Consumed   int    `json:"consumed"`
	Remaining  int    `json:"remaining"`
	HasStarted bool   `json:"has_started"`
}

// NewAvailability derives remaining from capacity and consumed, never below zero
func NewAvailability(unitID, sectionID string, capacity, consumed int, hasStarted bool) Availability {
	remaining := capacity - consumed
	if remaining < 0 {
		remaining = 0
	}
	return Availability{
		UnitID:     unitID,
		SectionID:  sectionID,
		Capacity:   capacity,
		Consumed:   consumed,
		Remaining:  remaining,
		HasStarted: hasStarted,
	}
}

// PurchaseLimits is a snapshot of per-category purchase limits,
// loaded once per hold transaction.
type PurchaseLimits struct {
	Default     int
	PerCategory map[string]int
}

// MaxFor returns the per-purchase maximum for a category
func (l PurchaseLimits) MaxFor(category string) int {
	if max, ok := l.PerCategory[category]; ok && max > 0 {
		return max
	}
	return l.Default
}
