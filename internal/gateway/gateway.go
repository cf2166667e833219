package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prohmpiriya/ticket-reservation-engine/pkg/retry"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
)

// ErrDeclined is returned when the provider refuses a request. It is
// always wrapped as permanent so callers do not retry it.
var ErrDeclined = errors.New("declined by provider")

// toMinorUnits converts an amount to the smallest currency unit
// (cents for USD, satang for THB)
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// classify turns a provider error into a permanent decline or a
// retryable failure
func classify(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Type == stripe.ErrorTypeCard:
			return retry.Permanent(fmt.Errorf("%s: %w: %s", op, ErrDeclined, stripeErr.Msg))
		case stripeErr.HTTPStatusCode >= http.StatusBadRequest &&
			stripeErr.HTTPStatusCode < http.StatusInternalServerError &&
			stripeErr.HTTPStatusCode != http.StatusTooManyRequests:
			return retry.Permanent(fmt.Errorf("%s: %w: %s", op, ErrDeclined, stripeErr.Msg))
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
