package gateway

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/service"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/retry"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/transfer"
)

// StripePayoutProvider pays sellers with transfers to their connected account
type StripePayoutProvider struct{}

// NewStripePayoutProvider creates a payout provider. The API key is shared
// with the payment gateway.
func NewStripePayoutProvider(secretKey string) (*StripePayoutProvider, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	stripe.Key = secretKey
	return &StripePayoutProvider{}, nil
}

// Pay creates a transfer. The payout idempotency key makes resends safe.
func (p *StripePayoutProvider) Pay(ctx context.Context, req *service.PayoutRequest) (*service.PayoutReceipt, error) {
	if req == nil || req.Account == nil || req.Account.ExternalAccountID == "" {
		return nil, retry.Permanent(fmt.Errorf("payout destination is required"))
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(toMinorUnits(req.Amount)),
		Currency:      stripe.String(req.Currency),
		Destination:   stripe.String(req.Account.ExternalAccountID),
		TransferGroup: stripe.String(req.PayoutID),
	}
	params.Context = ctx
	params.AddMetadata("payout_id", req.PayoutID)
	params.SetIdempotencyKey(req.IdempotencyKey)

	tr, err := transfer.New(params)
	if err != nil {
		return nil, classify("transfer", err)
	}

	status := domain.PayoutStatusAccepted
	if tr.Reversed {
		status = domain.PayoutStatusFailed
	}
	return &service.PayoutReceipt{ExternalID: tr.ID, Status: status}, nil
}
