package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/clock"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/repository"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/database"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CapacityService answers availability questions and manages sections
type CapacityService interface {
	// Remaining returns the availability of a whole unit
	Remaining(ctx context.Context, unitID string) (*domain.Availability, error)

	// RemainingInSection returns the availability of one section
	RemainingInSection(ctx context.Context, unitID, sectionID string) (*domain.Availability, error)

	// DefineSection adds a section without exceeding the unit capacity
	DefineSection(ctx context.Context, actor domain.Actor, unitID string, in *DefineSectionInput) (*domain.Section, error)
}

// DefineSectionInput describes a new section
type DefineSectionInput struct {
	Name       string
	Capacity   int
	SeatLabels []string
	UnitPrice  decimal.Decimal
}

type capacityService struct {
	tx       database.Transactor
	repos    *repository.Repositories
	cache    repository.AvailabilityCache
	identity IdentityProvider
	clock    clock.Clock
}

// NewCapacityService creates a capacity service. cache may be nil.
func NewCapacityService(
	tx database.Transactor,
	repos *repository.Repositories,
	cache repository.AvailabilityCache,
	identity IdentityProvider,
	clk clock.Clock,
) CapacityService {
	if cache == nil {
		cache = repository.NoopAvailabilityCache{}
	}
	if identity == nil {
		identity = NewUnitOwnerIdentity(repos.Units)
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &capacityService{tx: tx, repos: repos, cache: cache, identity: identity, clock: clk}
}

// Remaining returns the availability of a unit, served from cache when fresh
func (s *capacityService) Remaining(ctx context.Context, unitID string) (*domain.Availability, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.capacity.remaining")
	defer span.End()
	span.SetAttributes(attribute.String("unit_id", unitID))

	if a, ok := s.cache.Get(ctx, unitID, ""); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return a, nil
	}

	unit, err := s.repos.Units.GetByID(ctx, unitID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	now := s.clock.Now()
	consumed, err := s.repos.Reservations.ConsumedForUnit(ctx, unitID, now)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	a := domain.NewAvailability(unit.ID, "", unit.Capacity, consumed, unit.HasStarted(now))
	s.cache.Set(ctx, a)
	span.SetStatus(codes.Ok, "")
	return &a, nil
}

// RemainingInSection returns the availability of a section of the unit
func (s *capacityService) RemainingInSection(ctx context.Context, unitID, sectionID string) (*domain.Availability, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.capacity.remaining_in_section")
	defer span.End()
	span.SetAttributes(attribute.String("unit_id", unitID), attribute.String("section_id", sectionID))

	if a, ok := s.cache.Get(ctx, unitID, sectionID); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return a, nil
	}

	section, err := s.repos.Sections.GetByID(ctx, sectionID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if section.UnitID != unitID {
		return nil, domain.ErrSectionNotFound
	}
	unit, err := s.repos.Units.GetByID(ctx, unitID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	now := s.clock.Now()
	consumed, err := s.repos.Reservations.ConsumedForSection(ctx, sectionID, now)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	a := domain.NewAvailability(unit.ID, section.ID, section.Capacity, consumed, unit.HasStarted(now))
	s.cache.Set(ctx, a)
	span.SetStatus(codes.Ok, "")
	return &a, nil
}

// DefineSection creates a section. The unit row is locked so concurrent
// definitions cannot together exceed the unit capacity.
func (s *capacityService) DefineSection(ctx context.Context, actor domain.Actor, unitID string, in *DefineSectionInput) (*domain.Section, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.capacity.define_section")
	defer span.End()
	span.SetAttributes(attribute.String("unit_id", unitID))

	if in == nil || strings.TrimSpace(in.Name) == "" {
		return nil, domain.ErrMissingSectionName
	}
	if in.Capacity < 0 {
		return nil, domain.ErrInvalidCapacity
	}
	labels, err := normalizeSeatLabels(in.SeatLabels, in.Capacity)
	if err != nil {
		return nil, err
	}

	section := &domain.Section{
		ID:         uuid.New().String(),
		UnitID:     unitID,
		Name:       strings.TrimSpace(in.Name),
		Capacity:   in.Capacity,
		SeatLabels: labels,
		UnitPrice:  in.UnitPrice,
	}

	err = s.tx.WithSerializable(ctx, func(ctx context.Context) error {
		unit, err := s.repos.Units.GetForUpdate(ctx, unitID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() {
			owner, err := s.identity.IsOwner(ctx, unitID, actor.UserID)
			if err != nil {
				return err
			}
			if !owner {
				return domain.ErrForbidden
			}
		}

		existing, err := s.repos.Sections.ListByUnit(ctx, unitID)
		if err != nil {
			return err
		}
		allocated := 0
		for _, sec := range existing {
			allocated += sec.Capacity
		}
		if allocated+in.Capacity > unit.Capacity {
			return domain.WithDetails(domain.ErrSectionCapacityExceeds, map[string]any{
				"available": unit.Capacity - allocated,
			})
		}
		return s.repos.Sections.Create(ctx, section)
	})
	if err != nil {
		if database.IsSerializationFailure(err) {
			err = domain.ErrSerializationConflict
		}
		recordError(span, err)
		return nil, err
	}

	s.cache.Invalidate(ctx, unitID)
	span.SetStatus(codes.Ok, "")
	return section, nil
}

// normalizeSeatLabels trims labels and requires one unique label per seat
// when a seat map is given
func normalizeSeatLabels(labels []string, capacity int) ([]string, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			return nil, domain.WithDetails(domain.ErrSeatMismatch, map[string]any{"duplicate": l})
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	if len(out) != capacity {
		return nil, domain.WithDetails(domain.ErrSeatMismatch, map[string]any{
			"capacity": capacity,
			"labels":   len(out),
		})
	}
	return out, nil
}
