package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
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

// PayoutService creates and dispatches seller payouts
type PayoutService interface {
	// EnsurePayout creates the payout of a payment at most once
	EnsurePayout(ctx context.Context, paymentID string) (*PayoutResult, error)

	// Dispatch sends a pending or failed payout to the provider, run as a task
	Dispatch(ctx context.Context, payoutID string) error

	// ApplyProviderUpdate records a status pushed by the provider
	ApplyProviderUpdate(ctx context.Context, payoutID, status, externalID string) (*domain.PayoutRecord, error)
}

// PayoutResult is the outcome of EnsurePayout. Note explains why no payout
// was created, or that one already existed.
type PayoutResult struct {
	PayoutID   string `json:"payout_id,omitempty"`
	Created    bool   `json:"created"`
	Dispatched bool   `json:"dispatched"`
	Note       string `json:"note,omitempty"`
}

type payoutService struct {
	tx       database.Transactor
	repos    *repository.Repositories
	provider PayoutProvider
	tasks    TaskPublisher
	clock    clock.Clock
	settings Settings
	log      *logger.Logger
}

// NewPayoutService creates a payout service
func NewPayoutService(
	tx database.Transactor,
	repos *repository.Repositories,
	provider PayoutProvider,
	tasks TaskPublisher,
	clk clock.Clock,
	settings Settings,
) PayoutService {
	if tasks == nil {
		tasks = NewNoOpTaskPublisher()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &payoutService{
		tx:       tx,
		repos:    repos,
		provider: provider,
		tasks:    tasks,
		clock:    clk,
		settings: settings,
		log:      logger.Get(),
	}
}

func payoutEligible(r *domain.Reservation) bool {
	if r.Status != domain.SaleStatusPaid {
		return false
	}
	return r.FulfillmentStatus == domain.FulfillmentApproved || r.FulfillmentStatus == domain.FulfillmentDelivered
}

// EnsurePayout is idempotent: a payout that already exists for the
// reservation is returned instead of creating a second one
func (s *payoutService) EnsurePayout(ctx context.Context, paymentID string) (*PayoutResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.payout.ensure")
	defer span.End()
	span.SetAttributes(attribute.String("payment_id", paymentID))

	payment, err := s.repos.Payments.GetByID(ctx, paymentID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if existing, err := s.repos.Payouts.GetByReservation(ctx, payment.ReservationID); err == nil {
		return &PayoutResult{PayoutID: existing.ID, Note: "payout already exists"}, nil
	} else if !errors.Is(err, domain.ErrPayoutNotFound) {
		recordError(span, err)
		return nil, err
	}

	r, err := s.repos.Reservations.GetByID(ctx, payment.ReservationID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if !payoutEligible(r) {
		return nil, domain.ErrPayoutNotEligible
	}
	unit, err := s.repos.Units.GetByID(ctx, r.UnitID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	account, err := s.repos.PayoutAccounts.GetByOwner(ctx, unit.OwnerID)
	if err != nil && !errors.Is(err, domain.ErrPayoutAccountNotFound) {
		recordError(span, err)
		return nil, err
	}
	if note := account.ReadinessNote(); note != "" {
		span.SetAttributes(attribute.String("note", note))
		return &PayoutResult{Note: note}, nil
	}

	now := s.clock.Now()
	record := &domain.PayoutRecord{
		ID:             uuid.New().String(),
		ReservationID:  r.ID,
		PaymentID:      payment.ID,
		AccountID:      account.OwnerID,
		Amount:         payment.NetPayout(),
		Currency:       payment.Currency,
		Status:         domain.PayoutStatusPending,
		IdempotencyKey: domain.PayoutIdempotencyKey(r.ID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inserted, err := s.repos.Payouts.CreateIfAbsent(ctx, record)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if !inserted {
		existing, err := s.repos.Payouts.GetByReservation(ctx, r.ID)
		if err != nil {
			recordError(span, err)
			return nil, err
		}
		return &PayoutResult{PayoutID: existing.ID, Note: "payout already exists"}, nil
	}
	metrics.RecordPayoutCreated(ctx)

	result := &PayoutResult{PayoutID: record.ID, Created: true}
	if err := s.tasks.Publish(ctx, NewTask(domain.TaskDispatchPayout, r.ID, record.ID)); err != nil {
		s.log.WithContext(ctx).Error("failed to enqueue payout dispatch",
			zap.String("payout_id", record.ID),
			zap.Error(err),
		)
	} else {
		result.Dispatched = true
	}

	span.SetAttributes(attribute.String("payout_id", record.ID))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// Dispatch calls the provider with the payout idempotency key. Payouts
// already accepted or paid are left alone.
func (s *payoutService) Dispatch(ctx context.Context, payoutID string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.payout.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("payout_id", payoutID))

	if s.provider == nil {
		return retry.Permanent(domain.ErrPayoutProvider)
	}

	payout, err := s.repos.Payouts.GetByID(ctx, payoutID)
	if err != nil {
		recordError(span, err)
		if errors.Is(err, domain.ErrPayoutNotFound) {
			return retry.Permanent(err)
		}
		return err
	}
	if payout.Status != domain.PayoutStatusPending && payout.Status != domain.PayoutStatusFailed {
		span.SetAttributes(attribute.Bool("skipped", true))
		return nil
	}
	account, err := s.repos.PayoutAccounts.GetByOwner(ctx, payout.AccountID)
	if err != nil {
		recordError(span, err)
		return err
	}

	var receipt *PayoutReceipt
	payErr := retry.Bounded(ctx, s.settings.PayoutTimeout, func(ctx context.Context) error {
		r, err := s.provider.Pay(ctx, &PayoutRequest{
			PayoutID:       payout.ID,
			Amount:         payout.Amount,
			Currency:       payout.Currency,
			Account:        account,
			IdempotencyKey: payout.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})

	seen := payout.Status
	superseded := false
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		locked, err := s.repos.Payouts.GetForUpdate(ctx, payout.ID)
		if err != nil {
			return err
		}
		// a provider callback moved the payout while Pay was in flight
		if locked.Status != seen {
			superseded = true
			payout = locked
			return nil
		}
		now := s.clock.Now()
		if payErr != nil {
			if err := locked.MarkFailed(payErr.Error(), now); err != nil {
				return err
			}
		} else {
			status := receipt.Status
			if status == "" {
				status = domain.PayoutStatusAccepted
			}
			if err := locked.ApplyStatus(status, receipt.ExternalID, now); err != nil {
				return err
			}
		}
		payout = locked
		return s.repos.Payouts.Update(ctx, locked)
	})
	if err != nil {
		recordError(span, err)
		return err
	}

	if superseded {
		s.log.WithContext(ctx).Info("payout already updated by provider callback",
			zap.String("payout_id", payout.ID),
			zap.String("status", string(payout.Status)),
			zap.NamedError("dispatch_error", payErr),
		)
		span.SetAttributes(attribute.Bool("superseded", true), attribute.String("status", string(payout.Status)))
		span.SetStatus(codes.Ok, "")
		return nil
	}

	metrics.RecordPayoutDispatch(ctx, string(payout.Status))
	if payErr != nil {
		s.log.WithContext(ctx).Warn("payout dispatch failed",
			zap.String("payout_id", payout.ID),
			zap.Int("retry_count", payout.RetryCount),
			zap.Error(payErr),
		)
		err := fmt.Errorf("%w: %v", domain.ErrPayoutProvider, payErr)
		recordError(span, err)
		return err
	}

	span.SetAttributes(attribute.String("status", string(payout.Status)))
	span.SetStatus(codes.Ok, "")
	return nil
}

// ApplyProviderUpdate moves a payout forward from a provider callback
func (s *payoutService) ApplyProviderUpdate(ctx context.Context, payoutID, status, externalID string) (*domain.PayoutRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.payout.apply_provider_update")
	defer span.End()
	span.SetAttributes(attribute.String("payout_id", payoutID), attribute.String("status", status))

	next, err := domain.ParsePayoutStatus(status)
	if err != nil {
		return nil, err
	}

	var payout *domain.PayoutRecord
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.repos.Payouts.GetForUpdate(ctx, payoutID)
		if err != nil {
			return err
		}
		if err := p.ApplyStatus(next, externalID, s.clock.Now()); err != nil {
			return err
		}
		payout = p
		return s.repos.Payouts.Update(ctx, p)
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	metrics.RecordPayoutDispatch(ctx, string(payout.Status))
	span.SetStatus(codes.Ok, "")
	return payout, nil
}
