package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the status of a settled payment
type PaymentStatus string

const (
	PaymentStatusCaptured PaymentStatus = "CAPTURED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Payment is the settled payment of one reservation
type Payment struct {
	ID              string           `json:"id"`
	ReservationID   string           `json:"reservation_id"`
	Provider        string           `json:"provider"`
	AuthorizationID string           `json:"authorization_id"`
	Amount          decimal.Decimal  `json:"amount"`
	FeeAmount       decimal.Decimal  `json:"fee_amount"`
	NetAmount       *decimal.Decimal `json:"net_amount,omitempty"`
	Currency        string           `json:"currency"`
	Status          PaymentStatus    `json:"status"`
	CapturedAt      time.Time        `json:"captured_at"`
}

// NetPayout returns the amount owed to the seller. A precomputed net wins,
// otherwise amount minus fee. A negative result falls back to the gross amount.
func (p *Payment) NetPayout() decimal.Decimal {
	net := p.Amount.Sub(p.FeeAmount)
	if p.NetAmount != nil {
		net = *p.NetAmount
	}
	if net.IsNegative() {
		return p.Amount
	}
	return net
}

// PlatformFee computes the fee for amount at rate, rounded to cents
func PlatformFee(amount decimal.Decimal, rate float64) decimal.Decimal {
	if rate <= 0 {
		return decimal.Zero
	}
	return amount.Mul(decimal.NewFromFloat(rate)).Round(2)
}

// PayoutAccount is the destination of seller payouts
type PayoutAccount struct {
	OwnerID           string `json:"owner_id"`
	BankName          string `json:"bank_name"`
	AccountNumber     string `json:"-"`
	HolderName        string `json:"holder_name"`
	ExternalAccountID string `json:"external_account_id"`
	PayoutsEnabled    bool   `json:"payouts_enabled"`
}

// ReadinessNote explains why the account cannot receive payouts,
// empty when the account is ready.
func (a *PayoutAccount) ReadinessNote() string {
	if a == nil {
		return "seller has no payout account"
	}
	var missing []string
	if strings.TrimSpace(a.BankName) == "" {
		missing = append(missing, "bank_name")
	}
	if strings.TrimSpace(a.AccountNumber) == "" {
		missing = append(missing, "account_number")
	}
	if strings.TrimSpace(a.HolderName) == "" {
		missing = append(missing, "holder_name")
	}
	if len(missing) > 0 {
		return "payout account incomplete: missing " + strings.Join(missing, ", ")
	}
	if !a.PayoutsEnabled {
		return "payouts are not enabled for this account"
	}
	return ""
}

// PayoutRecord is the persisted payout of one reservation
type PayoutRecord struct {
	ID             string          `json:"id"`
	ReservationID  string          `json:"reservation_id"`
	PaymentID      string          `json:"payment_id"`
	AccountID      string          `json:"account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         PayoutStatus    `json:"status"`
	IdempotencyKey string          `json:"idempotency_key"`
	ExternalID     string          `json:"external_id,omitempty"`
	RetryCount     int             `json:"retry_count"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PayoutIdempotencyKey derives the provider idempotency key of a reservation payout
func PayoutIdempotencyKey(reservationID string) string {
	return "payout:" + reservationID
}

// ApplyStatus moves the payout to status, recording the external id when given
func (p *PayoutRecord) ApplyStatus(status PayoutStatus, externalID string, now time.Time) error {
	if err := TransitionPayout(p.Status, status); err != nil {
		return err
	}
	p.Status = status
	if externalID != "" {
		p.ExternalID = externalID
	}
	p.UpdatedAt = now
	return nil
}

// MarkFailed records a dispatch failure for the out-of-band retry job
func (p *PayoutRecord) MarkFailed(reason string, now time.Time) error {
	if err := TransitionPayout(p.Status, PayoutStatusFailed); err != nil {
		return err
	}
	p.Status = PayoutStatusFailed
	p.RetryCount++
	p.LastError = reason
	p.UpdatedAt = now
	return nil
}
