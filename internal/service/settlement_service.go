package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/clock"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/metrics"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/repository"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/database"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/retry"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// SettlementService moves holds to PAID and produces their artifacts
type SettlementService interface {
	// AuthorizePayment records a PSP authorization for deferred capture
	AuthorizePayment(ctx context.Context, actor domain.Actor, reservationID string, in *AuthorizeInput) ([]*domain.Reservation, error)

	// ConfirmPayment captures the payment and marks the whole group PAID
	ConfirmPayment(ctx context.Context, actor domain.Actor, reservationID string, in *ConfirmInput) (*SettlementResult, error)

	// GenerateArtifacts mints the artifacts of a paid reservation, run as a task
	GenerateArtifacts(ctx context.Context, reservationID string) error
}

// AuthorizeInput carries a PSP authorization
type AuthorizeInput struct {
	AuthorizationID string
	CaptureToken    string
}

// ConfirmInput carries the capture token, or requests test confirmation
type ConfirmInput struct {
	CaptureToken string
	TestMode     bool
}

// SettlementResult is the outcome of a confirmation
type SettlementResult struct {
	Reservations []*domain.Reservation `json:"reservations"`
	AlreadyPaid  bool                  `json:"already_paid"`
}

type settlementService struct {
	tx        database.Transactor
	repos     *repository.Repositories
	gateway   PaymentGateway
	generator ArtifactGenerator
	tasks     TaskPublisher
	payouts   PayoutService
	identity  IdentityProvider
	clock     clock.Clock
	settings  Settings
	log       *logger.Logger
}

// SettlementDeps groups the collaborators of the settlement service
type SettlementDeps struct {
	Gateway   PaymentGateway
	Generator ArtifactGenerator
	Tasks     TaskPublisher
	Payouts   PayoutService
	Identity  IdentityProvider
	Clock     clock.Clock
}

// NewSettlementService creates a settlement service
func NewSettlementService(tx database.Transactor, repos *repository.Repositories, deps SettlementDeps, settings Settings) SettlementService {
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.Generator == nil {
		deps.Generator = NewScanCodeGenerator("", deps.Clock)
	}
	if deps.Tasks == nil {
		deps.Tasks = NewNoOpTaskPublisher()
	}
	if deps.Identity == nil {
		deps.Identity = NewUnitOwnerIdentity(repos.Units)
	}
	return &settlementService{
		tx:        tx,
		repos:     repos,
		gateway:   deps.Gateway,
		generator: deps.Generator,
		tasks:     deps.Tasks,
		payouts:   deps.Payouts,
		identity:  deps.Identity,
		clock:     deps.Clock,
		settings:  settings,
		log:       logger.Get(),
	}
}

// expireGroup flips the unpaid reservations of a group to EXPIRED and
// unlinks their resale items
func expireGroup(ctx context.Context, repos *repository.Repositories, group []*domain.Reservation, now time.Time) error {
	var expired []*domain.Reservation
	for _, r := range group {
		if !r.Status.IsUnpaid() {
			continue
		}
		if err := r.MarkExpired(now); err != nil {
			return err
		}
		if err := repos.Reservations.Update(ctx, r); err != nil {
			return err
		}
		expired = append(expired, r)
	}
	if len(expired) == 0 {
		return nil
	}
	_, err := repos.ResaleItems.Release(ctx, reservationIDs(expired))
	return err
}

func anyExpired(group []*domain.Reservation, now time.Time) bool {
	for _, r := range group {
		if r.IsExpiredAt(now) || r.Status == domain.SaleStatusExpired {
			return true
		}
	}
	return false
}

func allPaid(group []*domain.Reservation) bool {
	for _, r := range group {
		if r.Status != domain.SaleStatusPaid {
			return false
		}
	}
	return len(group) > 0
}

// AuthorizePayment moves the group to AWAITING_CAPTURE. Repeating the same
// authorization is a no-op.
func (s *settlementService) AuthorizePayment(ctx context.Context, actor domain.Actor, reservationID string, in *AuthorizeInput) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.authorize")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	if in == nil || in.AuthorizationID == "" {
		return nil, domain.ErrMissingAuthorizationID
	}
	if in.CaptureToken == "" {
		return nil, domain.ErrMissingCaptureToken
	}

	var group []*domain.Reservation
	expired := false
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		group, expired = nil, false
		r, err := s.repos.Reservations.GetByID(ctx, reservationID)
		if err != nil {
			return err
		}
		if !isBuyerOrAdmin(actor, r) {
			return domain.ErrForbidden
		}
		locked, err := s.repos.Reservations.LockGroup(ctx, r.GroupID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if anyExpired(locked, now) {
			expired = true
			return expireGroup(ctx, s.repos, locked, now)
		}
		for _, g := range locked {
			if g.Status == domain.SaleStatusAwaitingCapture && g.AuthorizationID == in.AuthorizationID {
				continue
			}
			if err := g.MarkAwaitingCapture(in.AuthorizationID, in.CaptureToken, now); err != nil {
				return err
			}
			if err := s.repos.Reservations.Update(ctx, g); err != nil {
				return err
			}
		}
		group = locked
		return nil
	})
	if err == nil && expired {
		err = domain.ErrHoldExpired
	}
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return group, nil
}

// ConfirmPayment settles the group. Capture runs while the group rows are
// locked so a racing confirmation waits and then sees PAID.
func (s *settlementService) ConfirmPayment(ctx context.Context, actor domain.Actor, reservationID string, in *ConfirmInput) (*SettlementResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	if in == nil {
		in = &ConfirmInput{}
	}
	if in.TestMode && !s.settings.TestConfirmationEnabled {
		return nil, domain.ErrTestPaymentDisabled
	}
	if s.gateway == nil {
		return nil, domain.ErrPaymentProvider
	}

	var (
		group       []*domain.Reservation
		unit        *domain.InventoryUnit
		alreadyPaid bool
		expired     bool
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		group, unit, alreadyPaid, expired = nil, nil, false, false

		r, err := s.repos.Reservations.GetByID(ctx, reservationID)
		if err != nil {
			return err
		}
		if !isBuyerOrAdmin(actor, r) {
			return domain.ErrForbidden
		}
		unit, err = s.repos.Units.GetByID(ctx, r.UnitID)
		if err != nil {
			return err
		}
		if unit.OwnerID == r.BuyerID {
			return domain.ErrCannotBuyOwnEvent
		}
		if owner, err := s.identity.IsOwner(ctx, unit.ID, actor.UserID); err != nil {
			return err
		} else if owner {
			return domain.ErrCannotBuyOwnEvent
		}

		locked, err := s.repos.Reservations.LockGroup(ctx, r.GroupID)
		if err != nil {
			return err
		}
		group = locked
		if allPaid(locked) {
			alreadyPaid = true
			return nil
		}

		now := s.clock.Now()
		if anyExpired(locked, now) {
			expired = true
			return expireGroup(ctx, s.repos, locked, now)
		}
		for _, g := range locked {
			if !g.Status.IsUnpaid() {
				return domain.TransitionSale(g.Status, domain.SaleStatusPaid)
			}
		}

		authID, err := s.capture(ctx, r, locked, in)
		if err != nil {
			return err
		}
		return s.settle(ctx, unit, locked, authID, now)
	})
	if err == nil && expired {
		err = domain.ErrHoldExpired
	}
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	if alreadyPaid {
		span.SetAttributes(attribute.Bool("already_paid", true))
		span.SetStatus(codes.Ok, "")
		return &SettlementResult{Reservations: group, AlreadyPaid: true}, nil
	}

	metrics.RecordSettlement(ctx, string(unit.FulfillmentMode), totalQuantity(group))
	s.enqueueSettlementTasks(ctx, unit, group)

	span.SetStatus(codes.Ok, "")
	return &SettlementResult{Reservations: group}, nil
}

// capture charges the group total. A declined or timed out capture leaves
// the group untouched.
func (s *settlementService) capture(ctx context.Context, r *domain.Reservation, group []*domain.Reservation, in *ConfirmInput) (string, error) {
	total := decimal.Zero
	for _, g := range group {
		total = total.Add(g.Amount)
	}

	if in.TestMode {
		authID, err := s.gateway.ConfirmTestPayment(ctx, r.GroupID, total, r.Currency)
		if err != nil {
			metrics.RecordCaptureFailure(ctx)
			return "", domain.WithDetails(domain.ErrCaptureFailed, map[string]any{"reason": err.Error()})
		}
		return authID, nil
	}

	token := in.CaptureToken
	if token == "" {
		for _, g := range group {
			if g.CaptureToken != "" {
				token = g.CaptureToken
				break
			}
		}
	}
	if token == "" {
		return "", domain.ErrMissingCaptureToken
	}

	var authID string
	err := retry.Bounded(ctx, s.settings.CaptureTimeout, func(ctx context.Context) error {
		id, err := s.gateway.Capture(ctx, token, total, r.Currency)
		if err != nil {
			return err
		}
		authID = id
		return nil
	})
	if err != nil {
		metrics.RecordCaptureFailure(ctx)
		s.log.WithContext(ctx).Warn("payment capture failed",
			zap.String("group_id", r.GroupID),
			zap.String("amount", total.StringFixed(2)),
			zap.Error(err),
		)
		return "", domain.WithDetails(domain.ErrCaptureFailed, map[string]any{"reason": err.Error()})
	}
	return authID, nil
}

// settle marks each reservation PAID, starts fulfillment and writes its payment
func (s *settlementService) settle(ctx context.Context, unit *domain.InventoryUnit, group []*domain.Reservation, authID string, now time.Time) error {
	provider := s.gateway.Name()
	for _, g := range group {
		if err := g.MarkPaid(authID, now); err != nil {
			return err
		}
		if err := g.BeginFulfillment(unit.FulfillmentMode, s.settings.UploadDeadlineHours, now); err != nil {
			return err
		}
		if err := s.repos.Reservations.Update(ctx, g); err != nil {
			return err
		}

		fee := domain.PlatformFee(g.Amount, s.settings.PlatformFeeRate)
		net := g.Amount.Sub(fee)
		payment := &domain.Payment{
			ID:              uuid.New().String(),
			ReservationID:   g.ID,
			Provider:        provider,
			AuthorizationID: g.AuthorizationID,
			Amount:          g.Amount,
			FeeAmount:       fee,
			NetAmount:       &net,
			Currency:        g.Currency,
			Status:          domain.PaymentStatusCaptured,
			CapturedAt:      now,
		}
		if err := s.repos.Payments.Create(ctx, payment); err != nil {
			return err
		}
	}
	return nil
}

// enqueueSettlementTasks publishes post-commit effects. Failures are logged,
// the sale is already settled.
func (s *settlementService) enqueueSettlementTasks(ctx context.Context, unit *domain.InventoryUnit, group []*domain.Reservation) {
	log := s.log.WithContext(ctx)
	for _, g := range group {
		var tasks []*domain.Task
		if unit.FulfillmentMode != domain.FulfillmentModeManualUpload {
			tasks = append(tasks, NewTask(domain.TaskGenerateArtifacts, g.ID, ""))
		}
		tasks = append(tasks, NewTask(domain.TaskNotifyConfirmed, g.ID, ""))
		for _, t := range tasks {
			if err := s.tasks.Publish(ctx, t); err != nil {
				log.Critical("failed to enqueue settlement task",
					zap.String("reservation_id", g.ID),
					zap.String("task_type", string(t.Type)),
					zap.Error(err),
				)
			}
		}
	}
}

// GenerateArtifacts mints artifacts for a paid reservation. It is safe to
// run more than once: existing artifacts short-circuit it.
func (s *settlementService) GenerateArtifacts(ctx context.Context, reservationID string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.generate_artifacts")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	existing, err := s.repos.Artifacts.ListByReservation(ctx, reservationID)
	if err != nil {
		recordError(span, err)
		return err
	}
	if len(existing) > 0 {
		span.SetAttributes(attribute.Bool("skipped", true))
		return nil
	}

	r, err := s.repos.Reservations.GetByID(ctx, reservationID)
	if err != nil {
		recordError(span, err)
		if errors.Is(err, domain.ErrReservationNotFound) {
			return retry.Permanent(err)
		}
		return err
	}
	if r.Status != domain.SaleStatusPaid {
		s.log.WithContext(ctx).Warn("skipping artifact generation for unpaid reservation",
			zap.String("reservation_id", r.ID),
			zap.String("status", string(r.Status)),
		)
		return nil
	}
	unit, err := s.repos.Units.GetByID(ctx, r.UnitID)
	if err != nil {
		recordError(span, err)
		return err
	}
	if unit.FulfillmentMode == domain.FulfillmentModeManualUpload {
		return nil
	}

	var item *domain.ResaleItem
	if r.ResaleItemID != nil {
		item, err = s.repos.ResaleItems.GetByID(ctx, *r.ResaleItemID)
		if err != nil {
			recordError(span, err)
			return err
		}
	}

	artifacts, err := s.generator.Generate(ctx, r, unit, item)
	if err != nil {
		recordError(span, err)
		return err
	}

	approved := false
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		approved = false
		if err := s.repos.Artifacts.CreateBatch(ctx, artifacts); err != nil {
			return err
		}
		locked, err := s.repos.Reservations.GetForUpdate(ctx, r.ID)
		if err != nil {
			return err
		}
		if locked.FulfillmentStatus != domain.FulfillmentNone {
			return nil
		}
		now := s.clock.Now()
		if err := locked.MarkGenerated(now); err != nil {
			return err
		}
		if s.settings.AutoApproveGenerated {
			if err := locked.Approve(now); err != nil {
				return err
			}
			approved = true
		}
		return s.repos.Reservations.Update(ctx, locked)
	})
	if err != nil {
		recordError(span, err)
		return err
	}

	if approved && s.payouts != nil {
		payment, err := s.repos.Payments.GetByReservation(ctx, r.ID)
		if err != nil {
			s.log.WithContext(ctx).Error("auto-approved reservation has no payment", zap.String("reservation_id", r.ID), zap.Error(err))
		} else if res, err := s.payouts.EnsurePayout(ctx, payment.ID); err != nil {
			s.log.WithContext(ctx).Error("failed to ensure payout", zap.String("reservation_id", r.ID), zap.Error(err))
		} else if res.Note != "" {
			s.log.WithContext(ctx).Info("payout not created", zap.String("reservation_id", r.ID), zap.String("note", res.Note))
		}
	}

	span.SetAttributes(attribute.Int("artifact_count", len(artifacts)))
	span.SetStatus(codes.Ok, "")
	return nil
}
