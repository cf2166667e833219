package metrics

import (
	"context"
	"sync"

	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// Hold counters
	HoldsCreated  *telemetry.Counter
	HoldsRejected *telemetry.Counter
	HoldsExpired  *telemetry.Counter
	HoldsCanceled *telemetry.Counter

	// Settlement and fulfillment counters
	Settlements     *telemetry.Counter
	CaptureFailures *telemetry.Counter
	Refunds         *telemetry.Counter

	// Payout counters
	PayoutsCreated    *telemetry.Counter
	PayoutsDispatched *telemetry.Counter

	// Histograms
	HoldDuration *telemetry.Histogram

	// Units currently held and not yet settled or released
	ActiveHolds *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all engine metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	counters := []struct {
		dst  **telemetry.Counter
		opts telemetry.MetricOpts
	}{
		{&HoldsCreated, telemetry.MetricOpts{Name: "reservation_holds_created_total", Description: "Holds created", Unit: "1"}},
		{&HoldsRejected, telemetry.MetricOpts{Name: "reservation_holds_rejected_total", Description: "Hold requests rejected, by code", Unit: "1"}},
		{&HoldsExpired, telemetry.MetricOpts{Name: "reservation_holds_expired_total", Description: "Holds released by the expiration sweeper", Unit: "1"}},
		{&HoldsCanceled, telemetry.MetricOpts{Name: "reservation_holds_canceled_total", Description: "Holds canceled by the buyer", Unit: "1"}},
		{&Settlements, telemetry.MetricOpts{Name: "reservation_settlements_total", Description: "Reservations settled as paid", Unit: "1"}},
		{&CaptureFailures, telemetry.MetricOpts{Name: "reservation_capture_failures_total", Description: "Payment captures that failed", Unit: "1"}},
		{&Refunds, telemetry.MetricOpts{Name: "reservation_refunds_total", Description: "Deadline refunds, by outcome", Unit: "1"}},
		{&PayoutsCreated, telemetry.MetricOpts{Name: "reservation_payouts_created_total", Description: "Payout records created", Unit: "1"}},
		{&PayoutsDispatched, telemetry.MetricOpts{Name: "reservation_payouts_dispatched_total", Description: "Payout dispatch attempts, by outcome", Unit: "1"}},
	}
	for _, c := range counters {
		counter, err := telemetry.NewCounter(c.opts)
		if err != nil {
			return err
		}
		*c.dst = counter
	}

	var err error
	HoldDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "reservation_hold_duration_seconds",
		Description: "Latency of the hold transaction",
		Unit:        "s",
	}, []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5})
	if err != nil {
		return err
	}

	ActiveHolds, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "reservation_active_holds",
		Description: "Reservations currently held",
		Unit:        "1",
	})
	return err
}

// RecordHold records a successful hold
func RecordHold(ctx context.Context, unitID string, quantity int, durationSeconds float64) {
	HoldsCreated.Inc(ctx, attribute.String("unit_id", unitID), attribute.Int("quantity", quantity))
	HoldDuration.Record(ctx, durationSeconds, attribute.String("outcome", "ok"))
	ActiveHolds.Add(ctx, int64(quantity))
}

// RecordHoldRejected records a rejected hold by error code
func RecordHoldRejected(ctx context.Context, code string, durationSeconds float64) {
	HoldsRejected.Inc(ctx, attribute.String("code", code))
	HoldDuration.Record(ctx, durationSeconds, attribute.String("outcome", "rejected"))
}

// RecordExpiration records holds released by the sweeper
func RecordExpiration(ctx context.Context, count int) {
	if count == 0 {
		return
	}
	HoldsExpired.Add(ctx, int64(count))
	ActiveHolds.Add(ctx, -int64(count))
}

// RecordCancellation records a canceled hold group
func RecordCancellation(ctx context.Context, quantity int) {
	HoldsCanceled.Inc(ctx)
	ActiveHolds.Add(ctx, -int64(quantity))
}

// RecordSettlement records a settled reservation group
func RecordSettlement(ctx context.Context, mode string, quantity int) {
	Settlements.Inc(ctx, attribute.String("mode", mode))
	ActiveHolds.Add(ctx, -int64(quantity))
}

// RecordCaptureFailure records a failed capture
func RecordCaptureFailure(ctx context.Context) {
	CaptureFailures.Inc(ctx)
}

// RecordRefund records the outcome of a deadline refund
func RecordRefund(ctx context.Context, succeeded bool) {
	Refunds.Inc(ctx, attribute.Bool("succeeded", succeeded))
}

// RecordPayoutCreated records a new payout record
func RecordPayoutCreated(ctx context.Context) {
	PayoutsCreated.Inc(ctx)
}

// RecordPayoutDispatch records a payout dispatch attempt
func RecordPayoutDispatch(ctx context.Context, status string) {
	PayoutsDispatched.Inc(ctx, attribute.String("status", status))
}
