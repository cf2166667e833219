package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/service"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/retry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func isPermanent(err error) bool {
	var perm *retry.PermanentError
	return errors.As(err, &perm)
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(10050), toMinorUnits(decimal.RequireFromString("100.50")))
	assert.Equal(t, int64(1), toMinorUnits(decimal.RequireFromString("0.005")))
	assert.Equal(t, int64(0), toMinorUnits(decimal.Zero))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"card error", &stripe.Error{Type: stripe.ErrorTypeCard, Msg: "card declined", HTTPStatusCode: http.StatusPaymentRequired}, true},
		{"invalid request", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusBadRequest}, true},
		{"rate limited", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusTooManyRequests}, false},
		{"server error", &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusInternalServerError}, false},
		{"network", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("capture", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.permanent, isPermanent(err))
			if tt.permanent {
				assert.ErrorIs(t, err, ErrDeclined)
			}
		})
	}
}

func TestMockGateway_Capture(t *testing.T) {
	g := NewMockGateway(&MockConfig{SuccessRate: 1})
	ctx := context.Background()

	first, err := g.Capture(ctx, "tok", decimal.NewFromInt(10), "usd")
	require.NoError(t, err)
	again, err := g.Capture(ctx, "tok", decimal.NewFromInt(10), "usd")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = g.Capture(ctx, "", decimal.NewFromInt(10), "usd")
	assert.True(t, isPermanent(err))

	g.SetSuccessRate(0)
	_, err = g.Capture(ctx, "other", decimal.NewFromInt(10), "usd")
	assert.True(t, isPermanent(err))
	assert.ErrorIs(t, err, ErrDeclined)
	assert.Error(t, g.Refund(ctx, first, decimal.NewFromInt(10), "usd"))

	assert.NoError(t, g.Void(ctx, "pi_held"))
	assert.True(t, isPermanent(g.Void(ctx, "")))
}

func TestMockGateway_HonorsContext(t *testing.T) {
	g := NewMockGateway(&MockConfig{SuccessRate: 1, DelayMs: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Capture(ctx, "tok", decimal.NewFromInt(1), "usd")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, isPermanent(err))
}

func TestMockPayoutProvider_Idempotent(t *testing.T) {
	p := NewMockPayoutProvider(&MockConfig{SuccessRate: 1})
	ctx := context.Background()
	req := &service.PayoutRequest{
		PayoutID:       "po-1",
		Amount:         decimal.NewFromInt(95),
		Currency:       "usd",
		Account:        &domain.PayoutAccount{OwnerID: "o", ExternalAccountID: "acct_1"},
		IdempotencyKey: domain.PayoutIdempotencyKey("res-1"),
	}

	first, err := p.Pay(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusAccepted, first.Status)

	p.SetSuccessRate(0)
	second, err := p.Pay(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ExternalID, second.ExternalID)

	_, err = p.Pay(ctx, &service.PayoutRequest{PayoutID: "po-2", IdempotencyKey: "k"})
	assert.True(t, isPermanent(err))
}
