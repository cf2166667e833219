package service

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/retry"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// TaskRunner routes post-commit tasks to the service that executes them
type TaskRunner struct {
	settlement SettlementService
	payouts    PayoutService
	notifier   Notifier
}

// NewTaskRunner creates a task runner
func NewTaskRunner(settlement SettlementService, payouts PayoutService, notifier Notifier) *TaskRunner {
	return &TaskRunner{settlement: settlement, payouts: payouts, notifier: notifier}
}

// Handle executes one task. Malformed tasks fail permanently so they go
// straight to the dead letter queue.
func (r *TaskRunner) Handle(ctx context.Context, task *domain.Task) error {
	ctx, span := telemetry.StartSpan(ctx, "task."+string(task.Type))
	defer span.End()
	span.SetAttributes(
		attribute.String("task_id", task.ID),
		attribute.Int("attempt", task.Attempt),
	)

	var err error
	switch task.Type {
	case domain.TaskGenerateArtifacts:
		if task.ReservationID == "" {
			return retry.Permanent(domain.ErrInvalidID)
		}
		err = r.settlement.GenerateArtifacts(ctx, task.ReservationID)
	case domain.TaskNotifyConfirmed:
		if task.ReservationID == "" {
			return retry.Permanent(domain.ErrInvalidID)
		}
		if r.notifier == nil {
			return nil
		}
		err = r.notifier.NotifyConfirmed(ctx, task.ReservationID)
	case domain.TaskDispatchPayout:
		if task.PayoutID == "" {
			return retry.Permanent(domain.ErrInvalidID)
		}
		err = r.payouts.Dispatch(ctx, task.PayoutID)
	default:
		return retry.Permanent(fmt.Errorf("unknown task type %q", task.Type))
	}
	recordError(span, err)
	return err
}
