package gateway

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/ticket-reservation-engine/pkg/retry"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
)

// StripeGateway captures and refunds card payments through Stripe.
// Buyers authorize a PaymentIntent with manual capture on the client and
// hand its id over as the capture token.
type StripeGateway struct {
	config *StripeGatewayConfig
}

// StripeGatewayConfig holds configuration for Stripe gateway
type StripeGatewayConfig struct {
	SecretKey string
	// TestPaymentMethod is attached to test confirmations
	TestPaymentMethod string
}

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(config *StripeGatewayConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if config.TestPaymentMethod == "" {
		config.TestPaymentMethod = "pm_card_visa"
	}

	// Set Stripe API key globally
	stripe.Key = config.SecretKey

	return &StripeGateway{config: config}, nil
}

// Name returns the gateway name
func (g *StripeGateway) Name() string {
	return "stripe"
}

// Capture captures an authorized PaymentIntent and returns its id
func (g *StripeGateway) Capture(ctx context.Context, token string, amount decimal.Decimal, currency string) (string, error) {
	if token == "" {
		return "", retry.Permanent(fmt.Errorf("capture token is required"))
	}

	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(toMinorUnits(amount)),
	}
	params.Context = ctx

	pi, err := paymentintent.Capture(token, params)
	if err != nil {
		return "", classify("capture", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return "", retry.Permanent(fmt.Errorf("capture: %w: status %s", ErrDeclined, pi.Status))
	}
	return pi.ID, nil
}

// ConfirmTestPayment creates and confirms a PaymentIntent with a test card
func (g *StripeGateway) ConfirmTestPayment(ctx context.Context, reference string, amount decimal.Decimal, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(toMinorUnits(amount)),
		Currency:           stripe.String(currency),
		PaymentMethod:      stripe.String(g.config.TestPaymentMethod),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	params.Context = ctx
	params.AddMetadata("reservation_group", reference)
	params.SetIdempotencyKey("test-confirm:" + reference)

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", classify("test confirm", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return "", retry.Permanent(fmt.Errorf("test confirm: %w: status %s", ErrDeclined, pi.Status))
	}
	return pi.ID, nil
}

// Void cancels an uncaptured PaymentIntent, releasing the held funds
func (g *StripeGateway) Void(ctx context.Context, authorizationID string) error {
	if authorizationID == "" {
		return retry.Permanent(fmt.Errorf("authorization id is required"))
	}

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	if _, err := paymentintent.Cancel(authorizationID, params); err != nil {
		return classify("void", err)
	}
	return nil
}

// Refund refunds a captured PaymentIntent
func (g *StripeGateway) Refund(ctx context.Context, authorizationID string, amount decimal.Decimal, currency string) error {
	if authorizationID == "" {
		return retry.Permanent(fmt.Errorf("authorization id is required"))
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(authorizationID),
		Amount:        stripe.Int64(toMinorUnits(amount)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund:" + authorizationID)

	if _, err := refund.New(params); err != nil {
		return classify("refund", err)
	}
	return nil
}
