package domain

import "fmt"

// SaleStatus is the sale axis of a reservation
type SaleStatus string

const (
	SaleStatusHold            SaleStatus = "HOLD"
	SaleStatusAwaitingCapture SaleStatus = "AWAITING_CAPTURE"
	SaleStatusPaid            SaleStatus = "PAID"
	SaleStatusExpired         SaleStatus = "EXPIRED"
	SaleStatusCanceled        SaleStatus = "CANCELED"
)

// IsUnpaid reports whether the status is a pending hold that still carries an expiry
func (s SaleStatus) IsUnpaid() bool {
	return s == SaleStatusHold || s == SaleStatusAwaitingCapture
}

// IsTerminal reports whether no further sale transition is possible except refunds
func (s SaleStatus) IsTerminal() bool {
	return s == SaleStatusExpired || s == SaleStatusCanceled
}

var saleTransitions = map[SaleStatus][]SaleStatus{
	SaleStatusHold:            {SaleStatusAwaitingCapture, SaleStatusPaid, SaleStatusExpired, SaleStatusCanceled},
	SaleStatusAwaitingCapture: {SaleStatusPaid, SaleStatusExpired, SaleStatusCanceled},
	// PAID only leaves through the refund path
	SaleStatusPaid: {SaleStatusCanceled},
}

// FulfillmentStatus is the post-sale artifact delivery axis.
// The empty value means fulfillment has not started.
type FulfillmentStatus string

const (
	FulfillmentNone      FulfillmentStatus = ""
	FulfillmentWaiting   FulfillmentStatus = "WAITING"
	FulfillmentUploaded  FulfillmentStatus = "UPLOADED"
	FulfillmentGenerated FulfillmentStatus = "GENERATED"
	FulfillmentApproved  FulfillmentStatus = "APPROVED"
	FulfillmentRejected  FulfillmentStatus = "REJECTED"
	FulfillmentDelivered FulfillmentStatus = "DELIVERED"
)

var fulfillmentTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentNone:      {FulfillmentWaiting, FulfillmentGenerated},
	FulfillmentWaiting:   {FulfillmentUploaded},
	FulfillmentUploaded:  {FulfillmentUploaded, FulfillmentApproved, FulfillmentRejected},
	FulfillmentGenerated: {FulfillmentApproved, FulfillmentRejected},
	FulfillmentRejected:  {FulfillmentUploaded},
	FulfillmentApproved:  {FulfillmentDelivered},
}

// RefundStatus is tracked independently of the sale status
type RefundStatus string

const (
	RefundStatusNone      RefundStatus = "NONE"
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusSucceeded RefundStatus = "SUCCEEDED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusNone:    {RefundStatusPending},
	RefundStatusPending: {RefundStatusSucceeded, RefundStatusFailed},
	RefundStatusFailed:  {RefundStatusPending},
}

// PayoutStatus is the lifecycle of a payout record
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "PENDING"
	PayoutStatusAccepted  PayoutStatus = "ACCEPTED"
	PayoutStatusInTransit PayoutStatus = "IN_TRANSIT"
	PayoutStatusPaid      PayoutStatus = "PAID"
	PayoutStatusFailed    PayoutStatus = "FAILED"
)

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutStatusPending:   {PayoutStatusAccepted, PayoutStatusInTransit, PayoutStatusPaid, PayoutStatusFailed},
	PayoutStatusAccepted:  {PayoutStatusInTransit, PayoutStatusPaid, PayoutStatusFailed},
	PayoutStatusInTransit: {PayoutStatusPaid, PayoutStatusFailed},
	PayoutStatusFailed:    {PayoutStatusPending, PayoutStatusAccepted, PayoutStatusInTransit, PayoutStatusPaid},
}

// ParsePayoutStatus validates a provider supplied status
func ParsePayoutStatus(s string) (PayoutStatus, error) {
	switch st := PayoutStatus(s); st {
	case PayoutStatusPending, PayoutStatusAccepted, PayoutStatusInTransit, PayoutStatusPaid, PayoutStatusFailed:
		return st, nil
	}
	return "", WithDetails(ErrInvalidPayoutStatus, map[string]any{"status": s})
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

func illegal(axis string, from, to any) error {
	return WithDetails(
		fmt.Errorf("%w: %s %v -> %v", ErrIllegalTransition, axis, from, to),
		map[string]any{"axis": axis, "from": fmt.Sprint(from), "to": fmt.Sprint(to)},
	)
}

// TransitionSale validates a sale status change
func TransitionSale(from, to SaleStatus) error {
	if !allowed(saleTransitions, from, to) {
		return illegal("sale", from, to)
	}
	return nil
}

// TransitionFulfillment validates a fulfillment status change
func TransitionFulfillment(from, to FulfillmentStatus) error {
	if !allowed(fulfillmentTransitions, from, to) {
		return illegal("fulfillment", from, to)
	}
	return nil
}

// TransitionRefund validates a refund status change
func TransitionRefund(from, to RefundStatus) error {
	if !allowed(refundTransitions, from, to) {
		return illegal("refund", from, to)
	}
	return nil
}

// TransitionPayout validates a payout status change
func TransitionPayout(from, to PayoutStatus) error {
	if from == to {
		return nil
	}
	if !allowed(payoutTransitions, from, to) {
		return illegal("payout", from, to)
	}
	return nil
}
