package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
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

// HoldService places, cancels and expires holds on inventory
type HoldService interface {
	// CreateHold reserves capacity for every line in one serializable transaction
	CreateHold(ctx context.Context, actor domain.Actor, in *CreateHoldInput) (*HoldResult, error)

	// CancelHold releases the whole group of an unpaid hold
	CancelHold(ctx context.Context, actor domain.Actor, reservationID string) ([]*domain.Reservation, error)

	// GetReservation returns the pollable view of a reservation
	GetReservation(ctx context.Context, actor domain.Actor, reservationID string) (*domain.ReservationView, error)

	// SweepExpired expires at most limit overdue holds and returns how many were released
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// HoldLine is one requested line of a hold
type HoldLine struct {
	SectionID string
	Quantity  int
	Seats     []string
}

// CreateHoldInput is a hold request
type CreateHoldInput struct {
	UnitID       string
	Lines        []HoldLine
	ResaleItemID string
	// TTL overrides the default hold window, bounded by the configured maximum
	TTL time.Duration
}

// HoldResult is the outcome of a successful hold
type HoldResult struct {
	OK           bool                  `json:"ok"`
	GroupID      string                `json:"group_id"`
	Reservations []*domain.Reservation `json:"reservations"`
}

type holdService struct {
	tx       database.Transactor
	repos    *repository.Repositories
	cache    repository.AvailabilityCache
	identity IdentityProvider
	gateway  PaymentGateway
	clock    clock.Clock
	settings Settings
	log      *logger.Logger
}

// NewHoldService creates a hold service. cache, identity and gateway may be
// nil; without a gateway canceled authorizations are left to lapse.
func NewHoldService(
	tx database.Transactor,
	repos *repository.Repositories,
	cache repository.AvailabilityCache,
	identity IdentityProvider,
	gateway PaymentGateway,
	clk clock.Clock,
	settings Settings,
) HoldService {
	if cache == nil {
		cache = repository.NoopAvailabilityCache{}
	}
	if identity == nil {
		identity = NewUnitOwnerIdentity(repos.Units)
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &holdService{
		tx:       tx,
		repos:    repos,
		cache:    cache,
		identity: identity,
		gateway:  gateway,
		clock:    clk,
		settings: settings,
		log:      logger.Get(),
	}
}

// CreateHold reserves capacity for every line of the request
func (s *holdService) CreateHold(ctx context.Context, actor domain.Actor, in *CreateHoldInput) (*HoldResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.hold.create")
	defer span.End()
	start := time.Now()

	result, err := s.createHold(ctx, actor, in)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordHoldRejected(ctx, domain.CodeOf(err), elapsed)
		recordError(span, err)
		return nil, err
	}

	total := totalQuantity(result.Reservations)
	metrics.RecordHold(ctx, in.UnitID, total, elapsed)
	span.SetAttributes(
		attribute.String("group_id", result.GroupID),
		attribute.Int("quantity", total),
	)
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (s *holdService) createHold(ctx context.Context, actor domain.Actor, in *CreateHoldInput) (*HoldResult, error) {
	if in == nil || strings.TrimSpace(in.UnitID) == "" {
		return nil, domain.ErrUnitNotFound
	}
	lines, err := normalizeLines(in)
	if err != nil {
		return nil, err
	}
	ttl, err := s.holdTTL(in.TTL)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, l := range lines {
		total += l.Quantity
	}

	now := s.clock.Now()
	var created []*domain.Reservation
	groupID := uuid.New().String()

	err = s.tx.WithSerializable(ctx, func(ctx context.Context) error {
		created = nil
		reservations, err := s.placeHold(ctx, actor, in, lines, total, groupID, now, ttl)
		if err != nil {
			return err
		}
		created = reservations
		return nil
	})
	if err != nil {
		if database.IsSerializationFailure(err) {
			return nil, s.resolveConflict(ctx, in.UnitID, total)
		}
		return nil, err
	}

	s.cache.Invalidate(ctx, in.UnitID)
	return &HoldResult{OK: true, GroupID: groupID, Reservations: created}, nil
}

// placeHold runs inside the serializable transaction, checks are ordered
// from cheapest to most specific
func (s *holdService) placeHold(
	ctx context.Context,
	actor domain.Actor,
	in *CreateHoldInput,
	lines []HoldLine,
	total int,
	groupID string,
	now time.Time,
	ttl time.Duration,
) ([]*domain.Reservation, error) {
	unit, err := s.repos.Units.GetForUpdate(ctx, in.UnitID)
	if err != nil {
		return nil, err
	}
	if unit.HasStarted(now) {
		return nil, domain.ErrSaleStarted
	}
	if !unit.OnSale() {
		return nil, domain.ErrUnitNotOnSale
	}
	owner, err := s.identity.IsOwner(ctx, unit.ID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if owner {
		return nil, domain.ErrCannotBuyOwnEvent
	}

	limits, err := s.repos.Limits.Snapshot(ctx, s.settings.DefaultMaxPerPurchase)
	if err != nil {
		return nil, err
	}
	if limit := limits.MaxFor(unit.Category); total > limit {
		return nil, domain.WithDetails(domain.ErrPurchaseLimitExceeded, map[string]any{"max": limit})
	}

	consumed, err := s.repos.Reservations.ConsumedForUnit(ctx, unit.ID, now)
	if err != nil {
		return nil, err
	}
	if remaining := unit.Capacity - consumed; total > remaining {
		return nil, domain.WithDetails(domain.ErrInsufficientStock, map[string]any{"remaining": nonNegative(remaining)})
	}

	sections, err := s.checkSections(ctx, unit, lines, now)
	if err != nil {
		return nil, err
	}

	var item *domain.ResaleItem
	if in.ResaleItemID != "" {
		item, err = s.repos.ResaleItems.GetForUpdate(ctx, in.ResaleItemID)
		if err != nil {
			return nil, err
		}
		if item.UnitID != unit.ID {
			return nil, domain.ErrResaleItemNotFound
		}
		if item.ReservationID != nil {
			return nil, domain.ErrItemAlreadyHeld
		}
	}

	expiresAt := now.Add(ttl)
	reservations := make([]*domain.Reservation, 0, len(lines))
	for i, line := range lines {
		price := unit.UnitPrice
		var sectionID *string
		if sec, ok := sections[line.SectionID]; ok {
			id := sec.ID
			sectionID = &id
			if sec.UnitPrice.IsPositive() {
				price = sec.UnitPrice
			}
		}
		if item != nil && i == 0 {
			price = item.Price
		}

		exp := expiresAt
		r := &domain.Reservation{
			ID:             uuid.New().String(),
			UnitID:         unit.ID,
			SectionID:      sectionID,
			BuyerID:        actor.UserID,
			Quantity:       line.Quantity,
			Amount:         price.Mul(decimal.NewFromInt(int64(line.Quantity))),
			Currency:       unit.Currency,
			Code:           generateReservationCode(),
			Status:         domain.SaleStatusHold,
			RefundStatus:   domain.RefundStatusNone,
			GroupID:        groupID,
			SeatAssignment: domain.FormatSeats(line.Seats),
			ExpiresAt:      &exp,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if item != nil && i == 0 {
			itemID := item.ID
			r.ResaleItemID = &itemID
		}
		if err := s.repos.Reservations.Create(ctx, r); err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}

	if item != nil {
		if err := s.repos.ResaleItems.Link(ctx, item.ID, reservations[0].ID); err != nil {
			return nil, err
		}
	}
	return reservations, nil
}

// checkSections validates section remaining capacity and seat labels.
// Lines targeting the same section are checked against each other too.
func (s *holdService) checkSections(ctx context.Context, unit *domain.InventoryUnit, lines []HoldLine, now time.Time) (map[string]*domain.Section, error) {
	sections := map[string]*domain.Section{}
	requested := map[string]int{}
	taken := map[string]map[string]struct{}{}

	for _, line := range lines {
		if line.SectionID == "" {
			continue
		}
		sec, ok := sections[line.SectionID]
		if !ok {
			var err error
			sec, err = s.repos.Sections.GetByID(ctx, line.SectionID)
			if err != nil {
				return nil, err
			}
			if sec.UnitID != unit.ID {
				return nil, domain.ErrSectionNotFound
			}
			sections[sec.ID] = sec
		}

		consumed, err := s.repos.Reservations.ConsumedForSection(ctx, sec.ID, now)
		if err != nil {
			return nil, err
		}
		available := sec.Capacity - consumed - requested[sec.ID]
		if line.Quantity > available {
			return nil, domain.WithDetails(domain.ErrInsufficientStock, map[string]any{
				"section_id": sec.ID,
				"remaining":  nonNegative(available),
			})
		}
		requested[sec.ID] += line.Quantity

		if len(line.Seats) == 0 {
			continue
		}
		for _, seat := range line.Seats {
			if !sec.HasSeat(seat) {
				return nil, domain.WithDetails(domain.ErrSeatMismatch, map[string]any{"seat": seat})
			}
		}
		if _, ok := taken[sec.ID]; !ok {
			seats, err := s.repos.Reservations.TakenSeats(ctx, sec.ID, now)
			if err != nil {
				return nil, err
			}
			taken[sec.ID] = seats
		}
		if collisions := domain.SeatCollisions(line.Seats, taken[sec.ID]); len(collisions) > 0 {
			return nil, domain.WithDetails(domain.ErrSeatCollision, map[string]any{"seats": collisions})
		}
		for _, seat := range line.Seats {
			taken[sec.ID][seat] = struct{}{}
		}
	}
	return sections, nil
}

// resolveConflict turns a serialization failure into the answer the caller
// can act on: out of stock, or retry
func (s *holdService) resolveConflict(ctx context.Context, unitID string, requested int) error {
	unit, err := s.repos.Units.GetByID(ctx, unitID)
	if err != nil {
		return domain.ErrSerializationConflict
	}
	consumed, err := s.repos.Reservations.ConsumedForUnit(ctx, unitID, s.clock.Now())
	if err != nil {
		return domain.ErrSerializationConflict
	}
	if remaining := unit.Capacity - consumed; remaining < requested {
		return domain.WithDetails(domain.ErrInsufficientStock, map[string]any{"remaining": nonNegative(remaining)})
	}
	return domain.ErrSerializationConflict
}

func (s *holdService) holdTTL(requested time.Duration) (time.Duration, error) {
	switch {
	case requested == 0:
		return s.settings.HoldTTL, nil
	case requested < 0 || requested > s.settings.MaxHoldTTL:
		return 0, domain.WithDetails(domain.ErrInvalidTTL, map[string]any{"max_seconds": int(s.settings.MaxHoldTTL.Seconds())})
	default:
		return requested, nil
	}
}

// normalizeLines validates the shape of the request before any storage access.
// A resale purchase without lines is a single unit line.
func normalizeLines(in *CreateHoldInput) ([]HoldLine, error) {
	lines := in.Lines
	if len(lines) == 0 && in.ResaleItemID != "" {
		lines = []HoldLine{{Quantity: 1}}
	}
	if len(lines) == 0 {
		return nil, domain.ErrNoLines
	}

	out := make([]HoldLine, 0, len(lines))
	seen := map[string]struct{}{}
	total := 0
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		total += l.Quantity
		seats := domain.ParseSeats(strings.Join(l.Seats, ","))
		if len(seats) > 0 {
			if l.SectionID == "" {
				return nil, domain.ErrSeatsRequireSection
			}
			if len(seats) != l.Quantity {
				return nil, domain.WithDetails(domain.ErrSeatMismatch, map[string]any{
					"quantity": l.Quantity,
					"seats":    len(seats),
				})
			}
			for _, seat := range seats {
				key := l.SectionID + "/" + seat
				if _, dup := seen[key]; dup {
					return nil, domain.WithDetails(domain.ErrSeatMismatch, map[string]any{"duplicate": seat})
				}
				seen[key] = struct{}{}
			}
		}
		out = append(out, HoldLine{SectionID: l.SectionID, Quantity: l.Quantity, Seats: seats})
	}
	if in.ResaleItemID != "" && total != 1 {
		return nil, domain.WithDetails(domain.ErrInvalidQuantity, map[string]any{"max": 1})
	}
	return out, nil
}

// CancelHold cancels every unpaid reservation of the group. Holds already
// past their expiry are expired instead.
func (s *holdService) CancelHold(ctx context.Context, actor domain.Actor, reservationID string) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.hold.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	var (
		group          []*domain.Reservation
		authorizations []string
	)
	released := 0
	err := s.tx.WithSerializable(ctx, func(ctx context.Context) error {
		group, authorizations, released = nil, nil, 0
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
		var changed []*domain.Reservation
		for _, g := range locked {
			if g.Status.IsTerminal() {
				continue
			}
			if g.Status == domain.SaleStatusAwaitingCapture && g.AuthorizationID != "" {
				authorizations = appendUnique(authorizations, g.AuthorizationID)
			}
			if g.IsExpiredAt(now) {
				err = g.MarkExpired(now)
			} else {
				err = g.Cancel(now)
			}
			if err != nil {
				return err
			}
			if err := s.repos.Reservations.Update(ctx, g); err != nil {
				return err
			}
			changed = append(changed, g)
		}
		if len(changed) > 0 {
			if _, err := s.repos.ResaleItems.Release(ctx, reservationIDs(changed)); err != nil {
				return err
			}
		}
		group = locked
		released = totalQuantity(changed)
		return nil
	})
	if err != nil {
		if database.IsSerializationFailure(err) {
			err = domain.ErrSerializationConflict
		}
		recordError(span, err)
		return nil, err
	}

	if released > 0 {
		s.cache.Invalidate(ctx, unitIDs(group)...)
		metrics.RecordCancellation(ctx, released)
	}
	s.voidAuthorizations(ctx, authorizations)
	span.SetStatus(codes.Ok, "")
	return group, nil
}

// voidAuthorizations releases card holds of a canceled group. Failures are
// logged only: an unvoided authorization lapses at the PSP on its own.
func (s *holdService) voidAuthorizations(ctx context.Context, ids []string) {
	if s.gateway == nil {
		return
	}
	for _, id := range ids {
		err := retry.Bounded(ctx, s.settings.CaptureTimeout, func(ctx context.Context) error {
			return s.gateway.Void(ctx, id)
		})
		if err != nil {
			s.log.WithContext(ctx).Warn("failed to void authorization",
				zap.String("authorization_id", id),
				zap.Error(err),
			)
		}
	}
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// GetReservation returns the reservation with its artifacts and payout
func (s *holdService) GetReservation(ctx context.Context, actor domain.Actor, reservationID string) (*domain.ReservationView, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.hold.get_reservation")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	r, err := s.repos.Reservations.GetByID(ctx, reservationID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if !isBuyerOrAdmin(actor, r) {
		owner, err := s.identity.IsOwner(ctx, r.UnitID, actor.UserID)
		if err != nil {
			recordError(span, err)
			return nil, err
		}
		if !owner {
			return nil, domain.ErrForbidden
		}
	}

	artifacts, err := s.repos.Artifacts.ListByReservation(ctx, r.ID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	view := &domain.ReservationView{Reservation: r, Artifacts: artifacts}

	payout, err := s.repos.Payouts.GetByReservation(ctx, r.ID)
	switch {
	case err == nil:
		view.Payout = payout
	case !errors.Is(err, domain.ErrPayoutNotFound):
		recordError(span, err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return view, nil
}

// SweepExpired expires overdue holds and unlinks their resale items.
// Rows claimed by a concurrent sweep are skipped, so running it twice
// releases nothing new.
func (s *holdService) SweepExpired(ctx context.Context, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.hold.sweep_expired")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	span.SetAttributes(attribute.Int("limit", limit))

	now := s.clock.Now()
	var expired []*domain.Reservation
	err := s.tx.WithSerializable(ctx, func(ctx context.Context) error {
		var err error
		expired, err = s.repos.Reservations.ExpireDue(ctx, now, limit)
		if err != nil || len(expired) == 0 {
			return err
		}
		_, err = s.repos.ResaleItems.Release(ctx, reservationIDs(expired))
		return err
	})
	if err != nil {
		if database.IsSerializationFailure(err) {
			err = domain.ErrSerializationConflict
		}
		recordError(span, err)
		return 0, err
	}

	if len(expired) > 0 {
		s.cache.Invalidate(ctx, unitIDs(expired)...)
		metrics.RecordExpiration(ctx, len(expired))
		s.log.Info("expired holds released",
			zap.Int("count", len(expired)),
			zap.Int("quantity", totalQuantity(expired)),
		)
	}

	span.SetAttributes(attribute.Int("expired_count", len(expired)))
	span.SetStatus(codes.Ok, "")
	return len(expired), nil
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// generateReservationCode generates a human readable reservation code
func generateReservationCode() string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "RSV-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:10])
	}
	return "RSV-" + strings.ToUpper(hex.EncodeToString(b))
}
