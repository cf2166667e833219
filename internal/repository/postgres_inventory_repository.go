package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/database"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// PostgresUnitRepository implements UnitRepository
type PostgresUnitRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresUnitRepository creates a new PostgresUnitRepository
func NewPostgresUnitRepository(pool *pgxpool.Pool) *PostgresUnitRepository {
	return &PostgresUnitRepository{pool: pool}
}

const unitColumns = `id, owner_id, category, title, capacity, starts_at, approved, active,
	fulfillment_mode, unit_price, currency, created_at`

// Create inserts a unit
func (r *PostgresUnitRepository) Create(ctx context.Context, u *domain.InventoryUnit) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.unit.create")
	defer span.End()

	_, err := database.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO inventory_units (`+unitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.OwnerID, u.Category, u.Title, u.Capacity, u.StartsAt, u.Approved, u.Active,
		string(u.FulfillmentMode), u.UnitPrice, u.Currency, u.CreatedAt,
	)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to create unit: %w", err)
	}
	return nil
}

// GetByID returns a unit without locking it
func (r *PostgresUnitRepository) GetByID(ctx context.Context, id string) (*domain.InventoryUnit, error) {
	return r.get(ctx, "repo.postgres.unit.get_by_id", `SELECT `+unitColumns+` FROM inventory_units WHERE id = $1`, id)
}

// GetForUpdate locks the unit row, serializing every hold on the unit
func (r *PostgresUnitRepository) GetForUpdate(ctx context.Context, id string) (*domain.InventoryUnit, error) {
	return r.get(ctx, "repo.postgres.unit.get_for_update", `SELECT `+unitColumns+` FROM inventory_units WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresUnitRepository) get(ctx context.Context, spanName, query, id string) (*domain.InventoryUnit, error) {
	ctx, span := telemetry.StartSpan(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("unit_id", id))

	u := &domain.InventoryUnit{}
	var mode string
	err := database.Conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&u.ID, &u.OwnerID, &u.Category, &u.Title, &u.Capacity, &u.StartsAt, &u.Approved, &u.Active,
		&mode, &u.UnitPrice, &u.Currency, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUnitNotFound
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get unit: %w", err)
	}
	u.FulfillmentMode = domain.FulfillmentMode(mode)
	return u, nil
}

// PostgresSectionRepository implements SectionRepository
type PostgresSectionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSectionRepository creates a new PostgresSectionRepository
func NewPostgresSectionRepository(pool *pgxpool.Pool) *PostgresSectionRepository {
	return &PostgresSectionRepository{pool: pool}
}

// Create inserts a section
func (r *PostgresSectionRepository) Create(ctx context.Context, s *domain.Section) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.section.create")
	defer span.End()

	labels := s.SeatLabels
	if labels == nil {
		labels = []string{}
	}
	_, err := database.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO sections (id, unit_id, name, capacity, seat_labels, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.UnitID, s.Name, s.Capacity, labels, s.UnitPrice,
	)
	if err != nil {
		recordSpanError(span, err)
		if database.IsUniqueViolation(err) {
			return domain.ErrDuplicateSection
		}
		return fmt.Errorf("failed to create section: %w", err)
	}
	return nil
}

// GetByID returns a section
func (r *PostgresSectionRepository) GetByID(ctx context.Context, id string) (*domain.Section, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.section.get_by_id")
	defer span.End()

	s := &domain.Section{}
	err := database.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, unit_id, name, capacity, seat_labels, unit_price
		FROM sections WHERE id = $1`, id,
	).Scan(&s.ID, &s.UnitID, &s.Name, &s.Capacity, &s.SeatLabels, &s.UnitPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSectionNotFound
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get section: %w", err)
	}
	return s, nil
}

// ListByUnit returns every section of a unit
func (r *PostgresSectionRepository) ListByUnit(ctx context.Context, unitID string) ([]*domain.Section, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.section.list_by_unit")
	defer span.End()

	rows, err := database.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, unit_id, name, capacity, seat_labels, unit_price
		FROM sections WHERE unit_id = $1 ORDER BY name`, unitID)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	var sections []*domain.Section
	for rows.Next() {
		s := &domain.Section{}
		if err := rows.Scan(&s.ID, &s.UnitID, &s.Name, &s.Capacity, &s.SeatLabels, &s.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

// PostgresLimitRepository implements LimitRepository
type PostgresLimitRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresLimitRepository creates a new PostgresLimitRepository
func NewPostgresLimitRepository(pool *pgxpool.Pool) *PostgresLimitRepository {
	return &PostgresLimitRepository{pool: pool}
}

// Snapshot loads all purchase limits in one read
func (r *PostgresLimitRepository) Snapshot(ctx context.Context, defaultMax int) (domain.PurchaseLimits, error) {
	limits := domain.PurchaseLimits{Default: defaultMax, PerCategory: map[string]int{}}

	rows, err := database.Conn(ctx, r.pool).Query(ctx, `SELECT category, max_per_purchase FROM purchase_limits`)
	if err != nil {
		return limits, fmt.Errorf("failed to load purchase limits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var max int
		if err := rows.Scan(&category, &max); err != nil {
			return limits, fmt.Errorf("failed to scan purchase limit: %w", err)
		}
		limits.PerCategory[category] = max
	}
	return limits, rows.Err()
}

// Upsert sets the limit of a category
func (r *PostgresLimitRepository) Upsert(ctx context.Context, category string, maxPerPurchase int) error {
	_, err := database.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO purchase_limits (category, max_per_purchase) VALUES ($1, $2)
		ON CONFLICT (category) DO UPDATE SET max_per_purchase = EXCLUDED.max_per_purchase`,
		category, maxPerPurchase)
	if err != nil {
		return fmt.Errorf("failed to upsert purchase limit: %w", err)
	}
	return nil
}

// PostgresResaleItemRepository implements ResaleItemRepository
type PostgresResaleItemRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresResaleItemRepository creates a new PostgresResaleItemRepository
func NewPostgresResaleItemRepository(pool *pgxpool.Pool) *PostgresResaleItemRepository {
	return &PostgresResaleItemRepository{pool: pool}
}

const resaleColumns = `id, unit_id, seller_id, external_ref, artifact_location, price, reservation_id`

// Create inserts a resale item
func (r *PostgresResaleItemRepository) Create(ctx context.Context, item *domain.ResaleItem) error {
	_, err := database.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO resale_items (`+resaleColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		item.ID, item.UnitID, item.SellerID, item.ExternalRef, item.ArtifactLocation, item.Price, item.ReservationID,
	)
	if err != nil {
		return fmt.Errorf("failed to create resale item: %w", err)
	}
	return nil
}

// GetByID returns a resale item
func (r *PostgresResaleItemRepository) GetByID(ctx context.Context, id string) (*domain.ResaleItem, error) {
	return r.get(ctx, `SELECT `+resaleColumns+` FROM resale_items WHERE id = $1`, id)
}

// GetForUpdate locks a resale item
func (r *PostgresResaleItemRepository) GetForUpdate(ctx context.Context, id string) (*domain.ResaleItem, error) {
	return r.get(ctx, `SELECT `+resaleColumns+` FROM resale_items WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresResaleItemRepository) get(ctx context.Context, query, id string) (*domain.ResaleItem, error) {
	item := &domain.ResaleItem{}
	err := database.Conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&item.ID, &item.UnitID, &item.SellerID, &item.ExternalRef, &item.ArtifactLocation, &item.Price, &item.ReservationID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrResaleItemNotFound
		}
		return nil, fmt.Errorf("failed to get resale item: %w", err)
	}
	return item, nil
}

// Link claims the item for a reservation with a conditional update
func (r *PostgresResaleItemRepository) Link(ctx context.Context, itemID, reservationID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.resale_item.link")
	defer span.End()
	span.SetAttributes(attribute.String("item_id", itemID), attribute.String("reservation_id", reservationID))

	tag, err := database.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE resale_items SET reservation_id = $2
		WHERE id = $1 AND reservation_id IS NULL`, itemID, reservationID)
	if err != nil {
		recordSpanError(span, err)
		if database.IsUniqueViolation(err) {
			return domain.ErrItemAlreadyHeld
		}
		return fmt.Errorf("failed to link resale item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, itemID); err != nil {
			return err
		}
		return domain.ErrItemAlreadyHeld
	}
	return nil
}

// Release unlinks items from the given reservations. Items are never deleted.
func (r *PostgresResaleItemRepository) Release(ctx context.Context, reservationIDs []string) (int, error) {
	if len(reservationIDs) == 0 {
		return 0, nil
	}
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE resale_items SET reservation_id = NULL
		WHERE reservation_id = ANY($1)`, reservationIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to release resale items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
