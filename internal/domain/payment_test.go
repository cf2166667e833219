package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayment_NetPayout(t *testing.T) {
	d := decimal.RequireFromString

	tests := []struct {
		name string
		p    Payment
		want string
	}{
		{"amount minus fee", Payment{Amount: d("100"), FeeAmount: d("7.5")}, "92.5"},
		{"precomputed net wins", Payment{Amount: d("100"), FeeAmount: d("7.5"), NetAmount: ptr(d("90"))}, "90"},
		{"negative falls back to gross", Payment{Amount: d("10"), FeeAmount: d("15")}, "10"},
		{"negative precomputed falls back to gross", Payment{Amount: d("10"), NetAmount: ptr(d("-1"))}, "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, d(tt.want).Equal(tt.p.NetPayout()), "got %s", tt.p.NetPayout())
		})
	}
}

func TestPlatformFee(t *testing.T) {
	assert.True(t, decimal.RequireFromString("12.35").Equal(PlatformFee(decimal.RequireFromString("123.45"), 0.1)))
	assert.True(t, PlatformFee(decimal.NewFromInt(50), 0).IsZero())
}

func TestPayoutAccount_ReadinessNote(t *testing.T) {
	var missing *PayoutAccount
	assert.NotEmpty(t, missing.ReadinessNote())

	acc := &PayoutAccount{BankName: "Bank", HolderName: "Seller"}
	assert.Contains(t, acc.ReadinessNote(), "account_number")

	acc.AccountNumber = "123"
	assert.Contains(t, acc.ReadinessNote(), "not enabled")

	acc.PayoutsEnabled = true
	assert.Empty(t, acc.ReadinessNote())
}

func TestPayoutRecord_StatusLifecycle(t *testing.T) {
	now := time.Now()
	p := &PayoutRecord{Status: PayoutStatusPending}

	require.NoError(t, p.MarkFailed("timeout", now))
	assert.Equal(t, 1, p.RetryCount)
	assert.Equal(t, "timeout", p.LastError)

	require.NoError(t, p.ApplyStatus(PayoutStatusInTransit, "tr_1", now))
	require.NoError(t, p.ApplyStatus(PayoutStatusPaid, "", now))
	assert.Equal(t, "tr_1", p.ExternalID)

	assert.Error(t, p.MarkFailed("late", now))
	assert.Equal(t, 1, p.RetryCount)
}

func ptr[T any](v T) *T { return &v }
