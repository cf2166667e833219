package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHold(now time.Time, ttl time.Duration) *Reservation {
	expires := now.Add(ttl)
	return &Reservation{
		ID:           "r1",
		UnitID:       "u1",
		BuyerID:      "buyer",
		Quantity:     2,
		Amount:       decimal.NewFromInt(100),
		Status:       SaleStatusHold,
		RefundStatus: RefundStatusNone,
		ExpiresAt:    &expires,
	}
}

func TestReservation_ConsumesCapacity(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	r := newHold(now, 10*time.Minute)
	assert.True(t, r.ConsumesCapacity(now))
	assert.False(t, r.ConsumesCapacity(now.Add(10*time.Minute)))
	assert.True(t, r.IsExpiredAt(now.Add(10*time.Minute)))

	r.Status = SaleStatusAwaitingCapture
	assert.True(t, r.ConsumesCapacity(now))

	r.Status = SaleStatusPaid
	r.ExpiresAt = nil
	assert.True(t, r.ConsumesCapacity(now.Add(time.Hour)))

	r.Status = SaleStatusExpired
	assert.False(t, r.ConsumesCapacity(now))
}

func TestReservation_MarkPaidClearsExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newHold(now, 10*time.Minute)

	require.NoError(t, r.MarkPaid("auth-1", now))
	assert.Equal(t, SaleStatusPaid, r.Status)
	assert.Nil(t, r.ExpiresAt)
	require.NotNil(t, r.PaidAt)
	assert.Equal(t, now, *r.PaidAt)
	assert.Equal(t, "auth-1", r.AuthorizationID)

	err := r.MarkExpired(now)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
}

func TestReservation_UploadDeadline(t *testing.T) {
	paidAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newHold(paidAt, 10*time.Minute)
	require.NoError(t, r.MarkPaid("", paidAt))
	require.NoError(t, r.BeginFulfillment(FulfillmentModeManualUpload, 48, paidAt.Add(time.Minute)))

	require.NotNil(t, r.UploadDeadline)
	deadline := *r.UploadDeadline
	assert.Equal(t, paidAt.Add(48*time.Hour), deadline)

	late := deadline.Add(time.Second)
	err := r.RecordUpload("s3://late.pdf", late)
	assert.True(t, errors.Is(err, ErrUploadDeadlinePassed))
	assert.Equal(t, FulfillmentWaiting, r.FulfillmentStatus)

	require.NoError(t, r.RecordUpload("s3://first.pdf", deadline.Add(-time.Hour)))
	require.NoError(t, r.RecordUpload("s3://second.pdf", late))
	assert.Equal(t, "s3://second.pdf", r.ArtifactLocation)
	assert.Equal(t, deadline, *r.UploadDeadline)

	require.NoError(t, r.Approve(late))
	err = r.RecordUpload("s3://third.pdf", late)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
}

func TestReservation_RejectThenReupload(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newHold(now, time.Minute)
	require.NoError(t, r.MarkPaid("", now))
	require.NoError(t, r.BeginFulfillment(FulfillmentModeManualUpload, 24, now))
	require.NoError(t, r.RecordUpload("a", now))
	require.NoError(t, r.Reject("blurry", now))
	assert.Equal(t, "blurry", r.RejectionReason)
	require.NoError(t, r.RecordUpload("b", now))
	assert.Empty(t, r.RejectionReason)
	assert.Equal(t, FulfillmentUploaded, r.FulfillmentStatus)
}

func TestReservation_MissedDeadlineRefund(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newHold(now, time.Minute)
	require.NoError(t, r.MarkPaid("", now))
	require.NoError(t, r.BeginFulfillment(FulfillmentModeManualUpload, 1, now))

	assert.False(t, r.MissedUploadDeadline(now.Add(30*time.Minute)))
	assert.True(t, r.MissedUploadDeadline(now.Add(2*time.Hour)))

	require.NoError(t, r.StartRefund(now))
	assert.False(t, r.MissedUploadDeadline(now.Add(2*time.Hour)))
	require.NoError(t, r.CompleteRefund(true, now))
	assert.Equal(t, SaleStatusCanceled, r.Status)
	assert.Equal(t, RefundStatusSucceeded, r.RefundStatus)
}

func TestReservation_FailedRefundStaysPaid(t *testing.T) {
	now := time.Now()
	r := newHold(now, time.Minute)
	require.NoError(t, r.MarkPaid("", now))
	require.NoError(t, r.StartRefund(now))
	require.NoError(t, r.CompleteRefund(false, now))
	assert.Equal(t, SaleStatusPaid, r.Status)
	assert.Equal(t, RefundStatusFailed, r.RefundStatus)
}

func TestSeats(t *testing.T) {
	assert.Nil(t, ParseSeats("  "))
	assert.Equal(t, []string{"A1", "A2"}, ParseSeats("A1, A2,"))
	assert.Equal(t, "A1,B2", FormatSeats([]string{"B2", " A1 "}))

	taken := map[string]struct{}{"A1": {}, "C3": {}}
	assert.Equal(t, []string{"A1", "C3"}, SeatCollisions([]string{"C3", "B1", "A1"}, taken))
	assert.Empty(t, SeatCollisions([]string{"B1"}, taken))
}

func TestPurchaseLimits_MaxFor(t *testing.T) {
	limits := PurchaseLimits{Default: 4, PerCategory: map[string]int{"concert": 6, "sports": 0}}
	assert.Equal(t, 6, limits.MaxFor("concert"))
	assert.Equal(t, 4, limits.MaxFor("sports"))
	assert.Equal(t, 4, limits.MaxFor("theatre"))
}

func TestNewAvailability_NeverNegative(t *testing.T) {
	a := NewAvailability("u1", "", 5, 7, false)
	assert.Equal(t, 0, a.Remaining)
	assert.Equal(t, 7, a.Consumed)
}
