package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/clock"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/metrics"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/repository"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/database"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/retry"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// FulfillmentService drives artifact verification after settlement
type FulfillmentService interface {
	// Upload records a seller supplied artifact
	Upload(ctx context.Context, actor domain.Actor, reservationID, location string) (*domain.Reservation, error)

	// Approve accepts the artifact and triggers the payout
	Approve(ctx context.Context, actor domain.Actor, reservationID string) (*ApprovalResult, error)

	// Reject refuses the artifact with a reason
	Reject(ctx context.Context, actor domain.Actor, reservationID, reason string) (*domain.Reservation, error)

	// Deliver hands an approved artifact to the buyer
	Deliver(ctx context.Context, actor domain.Actor, reservationID string) (*domain.Reservation, error)

	// Deadline returns the persisted upload deadline, nil when none applies
	Deadline(ctx context.Context, reservationID string) (*time.Time, error)

	// SweepMissedDeadlines refunds reservations whose seller never uploaded
	SweepMissedDeadlines(ctx context.Context, limit int) (*SweepResult, error)

	// RetryRefund re-attempts a failed refund
	RetryRefund(ctx context.Context, actor domain.Actor, reservationID string) (*domain.Reservation, error)
}

// ApprovalResult is the outcome of an approval
type ApprovalResult struct {
	Reservation *domain.Reservation `json:"reservation"`
	Payout      *PayoutResult       `json:"payout,omitempty"`
	Note        string              `json:"note,omitempty"`
}

// SweepResult counts the outcome of a deadline sweep
type SweepResult struct {
	Claimed  int `json:"claimed"`
	Refunded int `json:"refunded"`
	Failed   int `json:"failed"`
}

type fulfillmentService struct {
	tx       database.Transactor
	repos    *repository.Repositories
	gateway  PaymentGateway
	payouts  PayoutService
	identity IdentityProvider
	clock    clock.Clock
	settings Settings
	log      *logger.Logger
}

// NewFulfillmentService creates a fulfillment service
func NewFulfillmentService(
	tx database.Transactor,
	repos *repository.Repositories,
	gateway PaymentGateway,
	payouts PayoutService,
	identity IdentityProvider,
	clk clock.Clock,
	settings Settings,
) FulfillmentService {
	if identity == nil {
		identity = NewUnitOwnerIdentity(repos.Units)
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &fulfillmentService{
		tx:       tx,
		repos:    repos,
		gateway:  gateway,
		payouts:  payouts,
		identity: identity,
		clock:    clk,
		settings: settings,
		log:      logger.Get(),
	}
}

// mutate locks one reservation, applies fn and persists the result
func (s *fulfillmentService) mutate(ctx context.Context, reservationID string, fn func(ctx context.Context, r *domain.Reservation, now time.Time) error) (*domain.Reservation, error) {
	var out *domain.Reservation
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.repos.Reservations.GetForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := fn(ctx, r, s.clock.Now()); err != nil {
			return err
		}
		out = r
		return s.repos.Reservations.Update(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Upload accepts a seller upload before the deadline, or a replacement of an
// earlier upload until approval
func (s *fulfillmentService) Upload(ctx context.Context, actor domain.Actor, reservationID, location string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.fulfillment.upload")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	location = strings.TrimSpace(location)
	if location == "" {
		return nil, domain.ErrMissingUploadLocation
	}

	r, err := s.mutate(ctx, reservationID, func(ctx context.Context, r *domain.Reservation, now time.Time) error {
		if !actor.IsAdmin() {
			owner, err := s.identity.IsOwner(ctx, r.UnitID, actor.UserID)
			if err != nil {
				return err
			}
			if !owner {
				return domain.ErrForbidden
			}
		}
		unit, err := s.repos.Units.GetByID(ctx, r.UnitID)
		if err != nil {
			return err
		}
		if unit.FulfillmentMode != domain.FulfillmentModeManualUpload {
			return domain.ErrNotManualFulfillment
		}
		return r.RecordUpload(location, now)
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return r, nil
}

// Approve accepts the artifact. The payout is ensured after commit and a
// seller that cannot be paid yet only produces a note.
func (s *fulfillmentService) Approve(ctx context.Context, actor domain.Actor, reservationID string) (*ApprovalResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.fulfillment.approve")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	if !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	r, err := s.mutate(ctx, reservationID, func(_ context.Context, r *domain.Reservation, now time.Time) error {
		return r.Approve(now)
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	result := &ApprovalResult{Reservation: r}
	if s.payouts == nil {
		return result, nil
	}
	payment, err := s.repos.Payments.GetByReservation(ctx, r.ID)
	if err != nil {
		result.Note = "no payment recorded for reservation"
		s.log.WithContext(ctx).Error("approved reservation has no payment", zap.String("reservation_id", r.ID), zap.Error(err))
		return result, nil
	}
	payout, err := s.payouts.EnsurePayout(ctx, payment.ID)
	if err != nil {
		result.Note = "payout not created: " + err.Error()
		s.log.WithContext(ctx).Error("failed to ensure payout", zap.String("reservation_id", r.ID), zap.Error(err))
		return result, nil
	}
	result.Payout = payout
	result.Note = payout.Note

	span.SetStatus(codes.Ok, "")
	return result, nil
}

// Reject refuses the artifact. The seller may upload again.
func (s *fulfillmentService) Reject(ctx context.Context, actor domain.Actor, reservationID, reason string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.fulfillment.reject")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	if !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrMissingReason
	}
	r, err := s.mutate(ctx, reservationID, func(_ context.Context, r *domain.Reservation, now time.Time) error {
		return r.Reject(reason, now)
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return r, nil
}

// Deliver marks an approved artifact as delivered
func (s *fulfillmentService) Deliver(ctx context.Context, actor domain.Actor, reservationID string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.fulfillment.deliver")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	if !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	r, err := s.mutate(ctx, reservationID, func(_ context.Context, r *domain.Reservation, now time.Time) error {
		return r.Deliver(now)
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return r, nil
}

// Deadline returns the deadline persisted at settlement, it never moves
func (s *fulfillmentService) Deadline(ctx context.Context, reservationID string) (*time.Time, error) {
	r, err := s.repos.Reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	return r.UploadDeadline, nil
}

// SweepMissedDeadlines claims overdue reservations in a short transaction,
// refunds each outside of it, then records the outcome
func (s *fulfillmentService) SweepMissedDeadlines(ctx context.Context, limit int) (*SweepResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.fulfillment.sweep_missed_deadlines")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	span.SetAttributes(attribute.Int("limit", limit))

	var claimed []*domain.Reservation
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		claimed, err = s.repos.Reservations.ClaimMissedDeadlines(ctx, s.clock.Now(), limit)
		return err
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	result := &SweepResult{Claimed: len(claimed)}
	for _, r := range claimed {
		refunded, err := s.refund(ctx, r.ID)
		switch {
		case err != nil:
			result.Failed++
			s.log.WithContext(ctx).Error("failed to record refund outcome", zap.String("reservation_id", r.ID), zap.Error(err))
		case refunded:
			result.Refunded++
		default:
			result.Failed++
		}
	}

	if result.Claimed > 0 {
		s.log.Info("missed upload deadlines processed",
			zap.Int("claimed", result.Claimed),
			zap.Int("refunded", result.Refunded),
			zap.Int("failed", result.Failed),
		)
	}
	span.SetAttributes(
		attribute.Int("refunded", result.Refunded),
		attribute.Int("failed", result.Failed),
	)
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// RetryRefund moves a FAILED refund back to PENDING and tries again
func (s *fulfillmentService) RetryRefund(ctx context.Context, actor domain.Actor, reservationID string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.fulfillment.retry_refund")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	if !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	_, err := s.mutate(ctx, reservationID, func(_ context.Context, r *domain.Reservation, now time.Time) error {
		if r.RefundStatus != domain.RefundStatusFailed {
			return domain.ErrRefundNotRetryable
		}
		return r.StartRefund(now)
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if _, err := s.refund(ctx, reservationID); err != nil {
		recordError(span, err)
		return nil, err
	}

	r, err := s.repos.Reservations.GetByID(ctx, reservationID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return r, nil
}

// refund calls the PSP for a reservation whose refund is PENDING and
// records SUCCEEDED or FAILED. It reports whether the money went back.
func (s *fulfillmentService) refund(ctx context.Context, reservationID string) (bool, error) {
	payment, err := s.repos.Payments.GetByReservation(ctx, reservationID)
	if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
		return false, err
	}

	var refundErr error
	switch {
	case payment == nil:
		refundErr = domain.ErrPaymentNotFound
	case s.gateway == nil:
		refundErr = domain.ErrPaymentProvider
	default:
		refundErr = retry.Bounded(ctx, s.settings.RefundTimeout, func(ctx context.Context) error {
			return s.gateway.Refund(ctx, payment.AuthorizationID, payment.Amount, payment.Currency)
		})
	}
	succeeded := refundErr == nil

	_, err = s.mutate(ctx, reservationID, func(ctx context.Context, r *domain.Reservation, now time.Time) error {
		if err := r.CompleteRefund(succeeded, now); err != nil {
			return err
		}
		if succeeded {
			return s.repos.Payments.UpdateStatus(ctx, payment.ID, domain.PaymentStatusRefunded)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	metrics.RecordRefund(ctx, succeeded)
	if !succeeded {
		s.log.WithContext(ctx).Critical("refund failed, manual action required",
			zap.String("reservation_id", reservationID),
			zap.Error(refundErr),
		)
	}
	return succeeded, nil
}
