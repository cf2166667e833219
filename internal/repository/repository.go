package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
)

// UnitRepository reads inventory units
type UnitRepository interface {
	Create(ctx context.Context, unit *domain.InventoryUnit) error
	GetByID(ctx context.Context, id string) (*domain.InventoryUnit, error)
	// GetForUpdate row-locks the unit inside the current transaction
	GetForUpdate(ctx context.Context, id string) (*domain.InventoryUnit, error)
}

// SectionRepository manages sections of a unit
type SectionRepository interface {
	Create(ctx context.Context, section *domain.Section) error
	GetByID(ctx context.Context, id string) (*domain.Section, error)
	ListByUnit(ctx context.Context, unitID string) ([]*domain.Section, error)
}

// LimitRepository loads purchase limits
type LimitRepository interface {
	// Snapshot returns every configured limit, defaulting to defaultMax
	Snapshot(ctx context.Context, defaultMax int) (domain.PurchaseLimits, error)
	Upsert(ctx context.Context, category string, maxPerPurchase int) error
}

// ResaleItemRepository manages marketplace items
type ResaleItemRepository interface {
	Create(ctx context.Context, item *domain.ResaleItem) error
	GetByID(ctx context.Context, id string) (*domain.ResaleItem, error)
	GetForUpdate(ctx context.Context, id string) (*domain.ResaleItem, error)
	// Link claims an unlinked item, ErrItemAlreadyHeld when already claimed
	Link(ctx context.Context, itemID, reservationID string) error
	// Release unlinks every item held by the given reservations
	Release(ctx context.Context, reservationIDs []string) (int, error)
}

// ReservationRepository persists reservations and derives consumption
type ReservationRepository interface {
	Create(ctx context.Context, r *domain.Reservation) error
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Reservation, error)
	Update(ctx context.Context, r *domain.Reservation) error

	// ConsumedForUnit sums PAID plus unpaid holds expiring after now
	ConsumedForUnit(ctx context.Context, unitID string, now time.Time) (int, error)
	// ConsumedForSection applies the same rule to one section
	ConsumedForSection(ctx context.Context, sectionID string, now time.Time) (int, error)
	// TakenSeats returns seat labels of consuming reservations in a section
	TakenSeats(ctx context.Context, sectionID string, now time.Time) (map[string]struct{}, error)

	// LockGroup row-locks and returns every reservation of a group ordered by id
	LockGroup(ctx context.Context, groupID string) ([]*domain.Reservation, error)
	ListGroup(ctx context.Context, groupID string) ([]*domain.Reservation, error)

	// ExpireDue flips at most limit unpaid holds with expires_at <= now to
	// EXPIRED, skipping rows locked by a racing sweep
	ExpireDue(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
	// ClaimMissedDeadlines moves at most limit reservations that missed the
	// upload deadline to refund PENDING and returns them
	ClaimMissedDeadlines(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
}

// PaymentRepository persists settled payments
type PaymentRepository interface {
	Create(ctx context.Context, p *domain.Payment) error
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	GetByReservation(ctx context.Context, reservationID string) (*domain.Payment, error)
	UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus) error
}

// ArtifactRepository persists ticket artifacts
type ArtifactRepository interface {
	CreateBatch(ctx context.Context, artifacts []*domain.TicketArtifact) error
	ListByReservation(ctx context.Context, reservationID string) ([]*domain.TicketArtifact, error)
}

// PayoutAccountRepository reads seller payout destinations
type PayoutAccountRepository interface {
	GetByOwner(ctx context.Context, ownerID string) (*domain.PayoutAccount, error)
	Upsert(ctx context.Context, account *domain.PayoutAccount) error
}

// PayoutRepository persists payout records
type PayoutRepository interface {
	// CreateIfAbsent inserts p unless a payout for the same reservation,
	// payment or idempotency key exists. It reports whether p was inserted.
	CreateIfAbsent(ctx context.Context, p *domain.PayoutRecord) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.PayoutRecord, error)
	// GetForUpdate row-locks the payout inside the current transaction
	GetForUpdate(ctx context.Context, id string) (*domain.PayoutRecord, error)
	GetByReservation(ctx context.Context, reservationID string) (*domain.PayoutRecord, error)
	Update(ctx context.Context, p *domain.PayoutRecord) error
}

// AvailabilityCache caches public availability reads. It never feeds a
// hold transaction.
type AvailabilityCache interface {
	Get(ctx context.Context, unitID, sectionID string) (*domain.Availability, bool)
	Set(ctx context.Context, a domain.Availability)
	Invalidate(ctx context.Context, unitIDs ...string)
}

// Repositories groups every repository used by the services
type Repositories struct {
	Units          UnitRepository
	Sections       SectionRepository
	Limits         LimitRepository
	ResaleItems    ResaleItemRepository
	Reservations   ReservationRepository
	Payments       PaymentRepository
	Artifacts      ArtifactRepository
	PayoutAccounts PayoutAccountRepository
	Payouts        PayoutRepository
}
