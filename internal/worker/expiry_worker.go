package worker

import (
	"context"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/service"
)

// NewExpiryWorker sweeps holds whose TTL elapsed and releases their stock
func NewExpiryWorker(holds service.HoldService, config *SweepWorkerConfig) *SweepWorker {
	return NewSweepWorker("expiry", func(ctx context.Context, batchSize int) (int, int, error) {
		expired, err := holds.SweepExpired(ctx, batchSize)
		return expired, 0, err
	}, config)
}

// NewDeadlineWorker refunds paid reservations whose seller missed the upload deadline
func NewDeadlineWorker(fulfillment service.FulfillmentService, config *SweepWorkerConfig) *SweepWorker {
	return NewSweepWorker("upload-deadline", func(ctx context.Context, batchSize int) (int, int, error) {
		result, err := fulfillment.SweepMissedDeadlines(ctx, batchSize)
		if err != nil {
			return 0, 0, err
		}
		return result.Claimed, result.Failed, nil
	}, config)
}
