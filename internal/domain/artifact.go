package domain

import "time"

// TicketArtifact is one proof of entry belonging to a paid reservation
type TicketArtifact struct {
	ID            string     `json:"id"`
	ReservationID string     `json:"reservation_id"`
	Sequence      int        `json:"sequence"`
	SeatLabel     string     `json:"seat_label,omitempty"`
	ScanCode      string     `json:"scan_code"`
	Scanned       bool       `json:"scanned"`
	ScannedAt     *time.Time `json:"scanned_at,omitempty"`
	Location      string     `json:"location"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ReservationView is the pollable read model of a reservation
type ReservationView struct {
	Reservation *Reservation      `json:"reservation"`
	Artifacts   []*TicketArtifact `json:"artifacts"`
	Payout      *PayoutRecord     `json:"payout,omitempty"`
}

// AwaitingArtifacts reports the normal "paid but not yet fulfilled" window
func (v *ReservationView) AwaitingArtifacts() bool {
	return v.Reservation != nil &&
		v.Reservation.Status == SaleStatusPaid &&
		len(v.Artifacts) == 0 &&
		v.Reservation.FulfillmentStatus != FulfillmentWaiting
}
