package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Reservation is the central entity moving through the sale,
// fulfillment and refund axes.
type Reservation struct {
	ID                string            `json:"id"`
	UnitID            string            `json:"unit_id"`
	SectionID         *string           `json:"section_id,omitempty"`
	BuyerID           string            `json:"buyer_id"`
	Quantity          int               `json:"quantity"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency"`
	Code              string            `json:"code"`
	Status            SaleStatus        `json:"status"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status,omitempty"`
	RefundStatus      RefundStatus      `json:"refund_status"`
	GroupID           string            `json:"group_id"`
	SeatAssignment    string            `json:"seat_assignment,omitempty"`
	ResaleItemID      *string           `json:"resale_item_id,omitempty"`
	AuthorizationID   string            `json:"authorization_id,omitempty"`
	CaptureToken      string            `json:"-"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
	PaidAt            *time.Time        `json:"paid_at,omitempty"`
	UploadDeadline    *time.Time        `json:"upload_deadline,omitempty"`
	UploadedAt        *time.Time        `json:"uploaded_at,omitempty"`
	ArtifactLocation  string            `json:"artifact_location,omitempty"`
	RejectionReason   string            `json:"rejection_reason,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// ConsumesCapacity is the canonical consumption rule: PAID, or an unpaid hold
// (including one awaiting capture) whose expiry is still in the future.
func (r *Reservation) ConsumesCapacity(now time.Time) bool {
	switch {
	case r.Status == SaleStatusPaid:
		return true
	case r.Status.IsUnpaid():
		return r.ExpiresAt != nil && r.ExpiresAt.After(now)
	default:
		return false
	}
}

// IsExpiredAt reports whether an unpaid hold ran past its expiry
func (r *Reservation) IsExpiredAt(now time.Time) bool {
	return r.Status.IsUnpaid() && r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Seats returns the explicit seat labels of the reservation
func (r *Reservation) Seats() []string {
	return ParseSeats(r.SeatAssignment)
}

func (r *Reservation) setStatus(to SaleStatus, now time.Time) error {
	if err := TransitionSale(r.Status, to); err != nil {
		return err
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}

// MarkAwaitingCapture records a PSP authorization for deferred capture
func (r *Reservation) MarkAwaitingCapture(authorizationID, captureToken string, now time.Time) error {
	if err := r.setStatus(SaleStatusAwaitingCapture, now); err != nil {
		return err
	}
	r.AuthorizationID = authorizationID
	r.CaptureToken = captureToken
	return nil
}

// MarkPaid finalizes the sale. The expiry is superseded once paid.
func (r *Reservation) MarkPaid(authorizationID string, now time.Time) error {
	if err := r.setStatus(SaleStatusPaid, now); err != nil {
		return err
	}
	paidAt := now
	r.PaidAt = &paidAt
	r.ExpiresAt = nil
	if authorizationID != "" {
		r.AuthorizationID = authorizationID
	}
	r.CaptureToken = ""
	return nil
}

// MarkExpired releases an unpaid hold whose window elapsed
func (r *Reservation) MarkExpired(now time.Time) error {
	if !r.Status.IsUnpaid() {
		return illegal("sale", r.Status, SaleStatusExpired)
	}
	return r.setStatus(SaleStatusExpired, now)
}

// Cancel releases an unpaid hold before its expiry
func (r *Reservation) Cancel(now time.Time) error {
	if !r.Status.IsUnpaid() {
		return illegal("sale", r.Status, SaleStatusCanceled)
	}
	return r.setStatus(SaleStatusCanceled, now)
}

// BeginFulfillment sets the initial fulfillment state after settlement.
// Manual uploads enter WAITING with a deadline computed once from paid time.
func (r *Reservation) BeginFulfillment(mode FulfillmentMode, deadlineHours int, now time.Time) error {
	if r.Status != SaleStatusPaid {
		return ErrNotPaid
	}
	if mode != FulfillmentModeManualUpload {
		return nil
	}
	if err := TransitionFulfillment(r.FulfillmentStatus, FulfillmentWaiting); err != nil {
		return err
	}
	r.FulfillmentStatus = FulfillmentWaiting
	if r.UploadDeadline == nil {
		base := now
		if r.PaidAt != nil {
			base = *r.PaidAt
		}
		deadline := base.Add(time.Duration(deadlineHours) * time.Hour)
		r.UploadDeadline = &deadline
	}
	r.UpdatedAt = now
	return nil
}

// RecordUpload accepts a seller upload. After the deadline only a
// replacement of an earlier upload is accepted, and only until approval.
func (r *Reservation) RecordUpload(location string, now time.Time) error {
	if r.Status != SaleStatusPaid {
		return ErrNotPaid
	}
	if location == "" {
		return ErrMissingUploadLocation
	}
	if r.UploadedAt == nil && r.UploadDeadline != nil && now.After(*r.UploadDeadline) {
		return WithDetails(ErrUploadDeadlinePassed, map[string]any{"deadline": r.UploadDeadline.UTC().Format(time.RFC3339)})
	}
	if err := TransitionFulfillment(r.FulfillmentStatus, FulfillmentUploaded); err != nil {
		return err
	}
	uploadedAt := now
	r.FulfillmentStatus = FulfillmentUploaded
	r.UploadedAt = &uploadedAt
	r.ArtifactLocation = location
	r.RejectionReason = ""
	r.UpdatedAt = now
	return nil
}

// MarkGenerated records platform generated artifacts
func (r *Reservation) MarkGenerated(now time.Time) error {
	if r.Status != SaleStatusPaid {
		return ErrNotPaid
	}
	if err := TransitionFulfillment(r.FulfillmentStatus, FulfillmentGenerated); err != nil {
		return err
	}
	r.FulfillmentStatus = FulfillmentGenerated
	r.UpdatedAt = now
	return nil
}

// Approve accepts the uploaded or generated artifact
func (r *Reservation) Approve(now time.Time) error {
	if r.Status != SaleStatusPaid {
		return ErrNotPaid
	}
	if err := TransitionFulfillment(r.FulfillmentStatus, FulfillmentApproved); err != nil {
		return err
	}
	r.FulfillmentStatus = FulfillmentApproved
	r.UpdatedAt = now
	return nil
}

// Reject refuses the artifact, the seller may upload again
func (r *Reservation) Reject(reason string, now time.Time) error {
	if r.Status != SaleStatusPaid {
		return ErrNotPaid
	}
	if err := TransitionFulfillment(r.FulfillmentStatus, FulfillmentRejected); err != nil {
		return err
	}
	r.FulfillmentStatus = FulfillmentRejected
	r.RejectionReason = reason
	r.UpdatedAt = now
	return nil
}

// Deliver marks the approved artifact as handed to the buyer
func (r *Reservation) Deliver(now time.Time) error {
	if err := TransitionFulfillment(r.FulfillmentStatus, FulfillmentDelivered); err != nil {
		return err
	}
	r.FulfillmentStatus = FulfillmentDelivered
	r.UpdatedAt = now
	return nil
}

// MissedUploadDeadline reports whether the reservation qualifies for the
// automatic refund: paid, still waiting, past deadline, no upload, no refund.
func (r *Reservation) MissedUploadDeadline(now time.Time) bool {
	return r.Status == SaleStatusPaid &&
		r.FulfillmentStatus == FulfillmentWaiting &&
		r.UploadedAt == nil &&
		r.RefundStatus == RefundStatusNone &&
		r.UploadDeadline != nil &&
		now.After(*r.UploadDeadline)
}

// StartRefund claims the reservation for a refund
func (r *Reservation) StartRefund(now time.Time) error {
	if err := TransitionRefund(r.RefundStatus, RefundStatusPending); err != nil {
		return err
	}
	r.RefundStatus = RefundStatusPending
	r.UpdatedAt = now
	return nil
}

// CompleteRefund records the refund outcome. A successful refund cancels the sale.
func (r *Reservation) CompleteRefund(succeeded bool, now time.Time) error {
	to := RefundStatusFailed
	if succeeded {
		to = RefundStatusSucceeded
	}
	if err := TransitionRefund(r.RefundStatus, to); err != nil {
		return err
	}
	r.RefundStatus = to
	r.UpdatedAt = now
	if succeeded {
		return r.setStatus(SaleStatusCanceled, now)
	}
	return nil
}

// ParseSeats splits a seat assignment string into labels
func ParseSeats(assignment string) []string {
	if strings.TrimSpace(assignment) == "" {
		return nil
	}
	parts := strings.Split(assignment, ",")
	seats := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			seats = append(seats, p)
		}
	}
	return seats
}

// FormatSeats joins labels into a normalized seat assignment string
func FormatSeats(seats []string) string {
	cleaned := make([]string, 0, len(seats))
	for _, s := range seats {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	sort.Strings(cleaned)
	return strings.Join(cleaned, ",")
}

// SeatCollisions returns the requested seats already present in taken
func SeatCollisions(requested []string, taken map[string]struct{}) []string {
	var collisions []string
	for _, s := range requested {
		if _, ok := taken[s]; ok {
			collisions = append(collisions, s)
		}
	}
	sort.Strings(collisions)
	return collisions
}
