package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/database"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// PostgresReservationRepository implements ReservationRepository using PostgreSQL with pgxpool
type PostgresReservationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresReservationRepository creates a new PostgresReservationRepository
func NewPostgresReservationRepository(pool *pgxpool.Pool) *PostgresReservationRepository {
	return &PostgresReservationRepository{pool: pool}
}

// consumingPredicate is the single consumption rule: PAID, or an unpaid hold
// still inside its window. $2 is the evaluation instant.
const consumingPredicate = `(status = 'PAID' OR (status IN ('HOLD', 'AWAITING_CAPTURE') AND expires_at > $2))`

var reservationFields = []string{
	"id", "unit_id", "section_id", "buyer_id", "quantity", "amount", "currency", "code", "status",
	"fulfillment_status", "refund_status", "group_id", "seat_assignment", "resale_item_id",
	"authorization_id", "capture_token", "expires_at", "paid_at", "upload_deadline", "uploaded_at",
	"artifact_location", "rejection_reason", "created_at", "updated_at",
}

func reservationColumns(alias string) string {
	if alias == "" {
		return strings.Join(reservationFields, ", ")
	}
	cols := make([]string, len(reservationFields))
	for i, f := range reservationFields {
		cols[i] = alias + "." + f
	}
	return strings.Join(cols, ", ")
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	r := &domain.Reservation{}
	var status, refundStatus string
	var fulfillment, seats, authID, captureTok, artifactLocation, rejectionReason *string
	err := row.Scan(
		&r.ID, &r.UnitID, &r.SectionID, &r.BuyerID, &r.Quantity, &r.Amount, &r.Currency, &r.Code, &status,
		&fulfillment, &refundStatus, &r.GroupID, &seats, &r.ResaleItemID,
		&authID, &captureTok, &r.ExpiresAt, &r.PaidAt, &r.UploadDeadline, &r.UploadedAt,
		&artifactLocation, &rejectionReason, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = domain.SaleStatus(status)
	r.RefundStatus = domain.RefundStatus(refundStatus)
	r.FulfillmentStatus = domain.FulfillmentStatus(derefString(fulfillment))
	r.SeatAssignment = derefString(seats)
	r.AuthorizationID = derefString(authID)
	r.CaptureToken = derefString(captureTok)
	r.ArtifactLocation = derefString(artifactLocation)
	r.RejectionReason = derefString(rejectionReason)
	return r, nil
}

func collectReservations(rows pgx.Rows) ([]*domain.Reservation, error) {
	defer rows.Close()
	var out []*domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Create inserts a reservation
func (r *PostgresReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("reservation_id", res.ID),
		attribute.String("unit_id", res.UnitID),
		attribute.Int("quantity", res.Quantity),
	)

	_, err := database.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns("")+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24)`,
		res.ID, res.UnitID, res.SectionID, res.BuyerID, res.Quantity, res.Amount, res.Currency, res.Code,
		string(res.Status), nullString(string(res.FulfillmentStatus)), string(res.RefundStatus), res.GroupID,
		nullString(res.SeatAssignment), res.ResaleItemID, nullString(res.AuthorizationID), nullString(res.CaptureToken),
		res.ExpiresAt, res.PaidAt, res.UploadDeadline, res.UploadedAt,
		nullString(res.ArtifactLocation), nullString(res.RejectionReason), res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

// GetByID retrieves a reservation by its ID
func (r *PostgresReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.get_by_id")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", id))

	res, err := scanReservation(database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+reservationColumns("")+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReservationNotFound
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return res, nil
}

// GetForUpdate row-locks a single reservation
func (r *PostgresReservationRepository) GetForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.get_for_update")
	defer span.End()

	res, err := scanReservation(database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+reservationColumns("")+` FROM reservations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReservationNotFound
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to lock reservation: %w", err)
	}
	return res, nil
}

// Update persists the mutable fields of a reservation
func (r *PostgresReservationRepository) Update(ctx context.Context, res *domain.Reservation) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.update")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", res.ID), attribute.String("status", string(res.Status)))

	tag, err := database.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE reservations SET
			status = $2, fulfillment_status = $3, refund_status = $4,
			authorization_id = $5, capture_token = $6,
			expires_at = $7, paid_at = $8, upload_deadline = $9, uploaded_at = $10,
			artifact_location = $11, rejection_reason = $12, updated_at = $13
		WHERE id = $1`,
		res.ID, string(res.Status), nullString(string(res.FulfillmentStatus)), string(res.RefundStatus),
		nullString(res.AuthorizationID), nullString(res.CaptureToken),
		res.ExpiresAt, res.PaidAt, res.UploadDeadline, res.UploadedAt,
		nullString(res.ArtifactLocation), nullString(res.RejectionReason), res.UpdatedAt,
	)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

// ConsumedForUnit sums consuming reservations of a unit
func (r *PostgresReservationRepository) ConsumedForUnit(ctx context.Context, unitID string, now time.Time) (int, error) {
	return r.sum(ctx, "repo.postgres.reservation.consumed_for_unit",
		`SELECT COALESCE(SUM(quantity), 0) FROM reservations WHERE unit_id = $1 AND `+consumingPredicate, unitID, now)
}

// ConsumedForSection sums consuming reservations of a section
func (r *PostgresReservationRepository) ConsumedForSection(ctx context.Context, sectionID string, now time.Time) (int, error) {
	return r.sum(ctx, "repo.postgres.reservation.consumed_for_section",
		`SELECT COALESCE(SUM(quantity), 0) FROM reservations WHERE section_id = $1 AND `+consumingPredicate, sectionID, now)
}

func (r *PostgresReservationRepository) sum(ctx context.Context, spanName, query, id string, now time.Time) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, spanName)
	defer span.End()

	var total int
	if err := database.Conn(ctx, r.pool).QueryRow(ctx, query, id, now).Scan(&total); err != nil {
		recordSpanError(span, err)
		return 0, fmt.Errorf("failed to sum consumed capacity: %w", err)
	}
	span.SetAttributes(attribute.Int("consumed", total))
	return total, nil
}

// TakenSeats collects seat labels held or sold in a section
func (r *PostgresReservationRepository) TakenSeats(ctx context.Context, sectionID string, now time.Time) (map[string]struct{}, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx, `
		SELECT seat_assignment FROM reservations
		WHERE section_id = $1 AND seat_assignment IS NOT NULL AND `+consumingPredicate, sectionID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load taken seats: %w", err)
	}
	defer rows.Close()

	taken := make(map[string]struct{})
	for rows.Next() {
		var assignment string
		if err := rows.Scan(&assignment); err != nil {
			return nil, fmt.Errorf("failed to scan seat assignment: %w", err)
		}
		for _, seat := range domain.ParseSeats(assignment) {
			taken[seat] = struct{}{}
		}
	}
	return taken, rows.Err()
}

// LockGroup row-locks the reservations of a group
func (r *PostgresReservationRepository) LockGroup(ctx context.Context, groupID string) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.lock_group")
	defer span.End()
	span.SetAttributes(attribute.String("group_id", groupID))

	rows, err := database.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+reservationColumns("")+` FROM reservations WHERE group_id = $1 ORDER BY id FOR UPDATE`, groupID)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to lock reservation group: %w", err)
	}
	return collectReservations(rows)
}

// ListGroup reads the reservations of a group without locking
func (r *PostgresReservationRepository) ListGroup(ctx context.Context, groupID string) ([]*domain.Reservation, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+reservationColumns("")+` FROM reservations WHERE group_id = $1 ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservation group: %w", err)
	}
	return collectReservations(rows)
}

// ExpireDue releases unpaid holds past their expiry. Rows locked by a racing
// sweep are skipped and rows already transitioned are excluded by the
// conditional update, so concurrent sweeps never double count.
func (r *PostgresReservationRepository) ExpireDue(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.expire_due")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	rows, err := database.Conn(ctx, r.pool).Query(ctx, `
		WITH due AS (
			SELECT id FROM reservations
			WHERE status IN ('HOLD', 'AWAITING_CAPTURE') AND expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE reservations r SET status = 'EXPIRED', capture_token = NULL, updated_at = $1
		FROM due
		WHERE r.id = due.id AND r.status IN ('HOLD', 'AWAITING_CAPTURE')
		RETURNING `+reservationColumns("r"), now, limit)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to expire reservations: %w", err)
	}
	expired, err := collectReservations(rows)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("expired", len(expired)))
	return expired, nil
}

// ClaimMissedDeadlines marks refund PENDING on paid manual-upload
// reservations whose deadline passed without an upload
func (r *PostgresReservationRepository) ClaimMissedDeadlines(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.claim_missed_deadlines")
	defer span.End()

	rows, err := database.Conn(ctx, r.pool).Query(ctx, `
		WITH due AS (
			SELECT id FROM reservations
			WHERE status = 'PAID' AND fulfillment_status = 'WAITING'
				AND uploaded_at IS NULL AND refund_status = 'NONE'
				AND upload_deadline < $1
			ORDER BY upload_deadline
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE reservations r SET refund_status = 'PENDING', updated_at = $1
		FROM due
		WHERE r.id = due.id AND r.refund_status = 'NONE'
		RETURNING `+reservationColumns("r"), now, limit)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to claim missed deadlines: %w", err)
	}
	return collectReservations(rows)
}
