package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionSale(t *testing.T) {
	tests := []struct {
		name    string
		from    SaleStatus
		to      SaleStatus
		wantErr bool
	}{
		{"hold to paid", SaleStatusHold, SaleStatusPaid, false},
		{"hold to awaiting capture", SaleStatusHold, SaleStatusAwaitingCapture, false},
		{"awaiting capture to paid", SaleStatusAwaitingCapture, SaleStatusPaid, false},
		{"awaiting capture to expired", SaleStatusAwaitingCapture, SaleStatusExpired, false},
		{"hold to canceled", SaleStatusHold, SaleStatusCanceled, false},
		{"paid to canceled via refund", SaleStatusPaid, SaleStatusCanceled, false},
		{"paid to expired", SaleStatusPaid, SaleStatusExpired, true},
		{"paid to paid", SaleStatusPaid, SaleStatusPaid, true},
		{"expired to paid", SaleStatusExpired, SaleStatusPaid, true},
		{"canceled to hold", SaleStatusCanceled, SaleStatusHold, true},
		{"awaiting capture back to hold", SaleStatusAwaitingCapture, SaleStatusHold, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := TransitionSale(tt.from, tt.to)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrIllegalTransition))
				assert.Equal(t, KindConflict, KindOf(err))
				assert.Equal(t, "sale", DetailsOf(err)["axis"])
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransitionFulfillment(t *testing.T) {
	tests := []struct {
		from    FulfillmentStatus
		to      FulfillmentStatus
		wantErr bool
	}{
		{FulfillmentNone, FulfillmentWaiting, false},
		{FulfillmentNone, FulfillmentGenerated, false},
		{FulfillmentWaiting, FulfillmentUploaded, false},
		{FulfillmentUploaded, FulfillmentUploaded, false},
		{FulfillmentRejected, FulfillmentUploaded, false},
		{FulfillmentGenerated, FulfillmentApproved, false},
		{FulfillmentUploaded, FulfillmentRejected, false},
		{FulfillmentApproved, FulfillmentDelivered, false},
		{FulfillmentWaiting, FulfillmentApproved, true},
		{FulfillmentApproved, FulfillmentUploaded, true},
		{FulfillmentDelivered, FulfillmentApproved, true},
		{FulfillmentNone, FulfillmentUploaded, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := TransitionFulfillment(tt.from, tt.to)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestTransitionRefund(t *testing.T) {
	assert.NoError(t, TransitionRefund(RefundStatusNone, RefundStatusPending))
	assert.NoError(t, TransitionRefund(RefundStatusPending, RefundStatusSucceeded))
	assert.NoError(t, TransitionRefund(RefundStatusPending, RefundStatusFailed))
	assert.NoError(t, TransitionRefund(RefundStatusFailed, RefundStatusPending))
	assert.Error(t, TransitionRefund(RefundStatusNone, RefundStatusSucceeded))
	assert.Error(t, TransitionRefund(RefundStatusSucceeded, RefundStatusPending))
}

func TestTransitionPayout(t *testing.T) {
	assert.NoError(t, TransitionPayout(PayoutStatusPending, PayoutStatusInTransit))
	assert.NoError(t, TransitionPayout(PayoutStatusFailed, PayoutStatusPaid))
	assert.NoError(t, TransitionPayout(PayoutStatusPaid, PayoutStatusPaid))
	assert.Error(t, TransitionPayout(PayoutStatusPaid, PayoutStatusFailed))
	assert.Error(t, TransitionPayout(PayoutStatusInTransit, PayoutStatusAccepted))
}

func TestParsePayoutStatus(t *testing.T) {
	st, err := ParsePayoutStatus("IN_TRANSIT")
	assert.NoError(t, err)
	assert.Equal(t, PayoutStatusInTransit, st)

	_, err = ParsePayoutStatus("LOST")
	assert.True(t, errors.Is(err, ErrInvalidPayoutStatus))
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestKindOf_Unclassified(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindFatal, KindOf(err))
	assert.Equal(t, "INTERNAL_ERROR", CodeOf(err))
	assert.Nil(t, DetailsOf(err))
}
