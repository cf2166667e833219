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
)

// PostgresPaymentRepository implements PaymentRepository
type PostgresPaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPaymentRepository creates a new PostgresPaymentRepository
func NewPostgresPaymentRepository(pool *pgxpool.Pool) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{pool: pool}
}

const paymentColumns = `id, reservation_id, provider, authorization_id, amount, fee_amount, net_amount, currency, status, captured_at`

// Create inserts a payment. A second payment for the same reservation is ignored.
func (r *PostgresPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.create")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", p.ReservationID))

	_, err := database.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (reservation_id) DO NOTHING`,
		p.ID, p.ReservationID, p.Provider, p.AuthorizationID, p.Amount, p.FeeAmount, p.NetAmount,
		p.Currency, string(p.Status), p.CapturedAt,
	)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByID returns a payment
func (r *PostgresPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

// GetByReservation returns the payment of a reservation
func (r *PostgresPaymentRepository) GetByReservation(ctx context.Context, reservationID string) (*domain.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reservation_id = $1`, reservationID)
}

func (r *PostgresPaymentRepository) get(ctx context.Context, query, arg string) (*domain.Payment, error) {
	p := &domain.Payment{}
	var status string
	err := database.Conn(ctx, r.pool).QueryRow(ctx, query, arg).Scan(
		&p.ID, &p.ReservationID, &p.Provider, &p.AuthorizationID, &p.Amount, &p.FeeAmount, &p.NetAmount,
		&p.Currency, &status, &p.CapturedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	p.Status = domain.PaymentStatus(status)
	return p, nil
}

// UpdateStatus sets the payment status
func (r *PostgresPaymentRepository) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus) error {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, `UPDATE payments SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

// PostgresArtifactRepository implements ArtifactRepository
type PostgresArtifactRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresArtifactRepository creates a new PostgresArtifactRepository
func NewPostgresArtifactRepository(pool *pgxpool.Pool) *PostgresArtifactRepository {
	return &PostgresArtifactRepository{pool: pool}
}

// CreateBatch inserts artifacts. Existing sequences are kept, which makes
// a retried generation task harmless.
func (r *PostgresArtifactRepository) CreateBatch(ctx context.Context, artifacts []*domain.TicketArtifact) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.artifact.create_batch")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(artifacts)))

	conn := database.Conn(ctx, r.pool)
	for _, a := range artifacts {
		_, err := conn.Exec(ctx, `
			INSERT INTO ticket_artifacts (id, reservation_id, sequence, seat_label, scan_code, scanned, scanned_at, location, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (reservation_id, sequence) DO NOTHING`,
			a.ID, a.ReservationID, a.Sequence, a.SeatLabel, a.ScanCode, a.Scanned, a.ScannedAt, a.Location, a.CreatedAt,
		)
		if err != nil {
			recordSpanError(span, err)
			return fmt.Errorf("failed to create artifact: %w", err)
		}
	}
	return nil
}

// ListByReservation returns the artifacts of a reservation in sequence order
func (r *PostgresArtifactRepository) ListByReservation(ctx context.Context, reservationID string) ([]*domain.TicketArtifact, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, reservation_id, sequence, seat_label, scan_code, scanned, scanned_at, location, created_at
		FROM ticket_artifacts WHERE reservation_id = $1 ORDER BY sequence`, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*domain.TicketArtifact
	for rows.Next() {
		a := &domain.TicketArtifact{}
		if err := rows.Scan(&a.ID, &a.ReservationID, &a.Sequence, &a.SeatLabel, &a.ScanCode,
			&a.Scanned, &a.ScannedAt, &a.Location, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// PostgresPayoutAccountRepository implements PayoutAccountRepository
type PostgresPayoutAccountRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPayoutAccountRepository creates a new PostgresPayoutAccountRepository
func NewPostgresPayoutAccountRepository(pool *pgxpool.Pool) *PostgresPayoutAccountRepository {
	return &PostgresPayoutAccountRepository{pool: pool}
}

// GetByOwner returns the payout account of a seller
func (r *PostgresPayoutAccountRepository) GetByOwner(ctx context.Context, ownerID string) (*domain.PayoutAccount, error) {
	a := &domain.PayoutAccount{}
	err := database.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT owner_id, bank_name, account_number, holder_name, external_account_id, payouts_enabled
		FROM payout_accounts WHERE owner_id = $1`, ownerID,
	).Scan(&a.OwnerID, &a.BankName, &a.AccountNumber, &a.HolderName, &a.ExternalAccountID, &a.PayoutsEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPayoutAccountNotFound
		}
		return nil, fmt.Errorf("failed to get payout account: %w", err)
	}
	return a, nil
}

// Upsert creates or replaces a payout account
func (r *PostgresPayoutAccountRepository) Upsert(ctx context.Context, a *domain.PayoutAccount) error {
	_, err := database.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO payout_accounts (owner_id, bank_name, account_number, holder_name, external_account_id, payouts_enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id) DO UPDATE SET
			bank_name = EXCLUDED.bank_name, account_number = EXCLUDED.account_number,
			holder_name = EXCLUDED.holder_name, external_account_id = EXCLUDED.external_account_id,
			payouts_enabled = EXCLUDED.payouts_enabled`,
		a.OwnerID, a.BankName, a.AccountNumber, a.HolderName, a.ExternalAccountID, a.PayoutsEnabled,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert payout account: %w", err)
	}
	return nil
}

// PostgresPayoutRepository implements PayoutRepository
type PostgresPayoutRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPayoutRepository creates a new PostgresPayoutRepository
func NewPostgresPayoutRepository(pool *pgxpool.Pool) *PostgresPayoutRepository {
	return &PostgresPayoutRepository{pool: pool}
}

const payoutColumns = `id, reservation_id, payment_id, account_id, amount, currency, status, idempotency_key,
	external_id, retry_count, last_error, created_at, updated_at`

// CreateIfAbsent inserts a payout guarded by the reservation, payment and
// idempotency key unique constraints
func (r *PostgresPayoutRepository) CreateIfAbsent(ctx context.Context, p *domain.PayoutRecord) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payout.create_if_absent")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", p.ReservationID))

	tag, err := database.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO payouts (`+payoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING`,
		p.ID, p.ReservationID, p.PaymentID, p.AccountID, p.Amount, p.Currency, string(p.Status), p.IdempotencyKey,
		nullString(p.ExternalID), p.RetryCount, nullString(p.LastError), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		recordSpanError(span, err)
		return false, fmt.Errorf("failed to create payout: %w", err)
	}
	inserted := tag.RowsAffected() == 1
	span.SetAttributes(attribute.Bool("inserted", inserted))
	return inserted, nil
}

// GetByID returns a payout
func (r *PostgresPayoutRepository) GetByID(ctx context.Context, id string) (*domain.PayoutRecord, error) {
	return r.get(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)
}

// GetForUpdate row-locks a payout so concurrent status writers serialize
func (r *PostgresPayoutRepository) GetForUpdate(ctx context.Context, id string) (*domain.PayoutRecord, error) {
	return r.get(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1 FOR UPDATE`, id)
}

// GetByReservation returns the payout of a reservation
func (r *PostgresPayoutRepository) GetByReservation(ctx context.Context, reservationID string) (*domain.PayoutRecord, error) {
	return r.get(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE reservation_id = $1`, reservationID)
}

func (r *PostgresPayoutRepository) get(ctx context.Context, query, arg string) (*domain.PayoutRecord, error) {
	p := &domain.PayoutRecord{}
	var (
		status              string
		externalID, lastErr *string
	)
	err := database.Conn(ctx, r.pool).QueryRow(ctx, query, arg).Scan(
		&p.ID, &p.ReservationID, &p.PaymentID, &p.AccountID, &p.Amount, &p.Currency, &status, &p.IdempotencyKey,
		&externalID, &p.RetryCount, &lastErr, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPayoutNotFound
		}
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	p.Status = domain.PayoutStatus(status)
	p.ExternalID = derefString(externalID)
	p.LastError = derefString(lastErr)
	return p, nil
}

// Update persists status, external id and retry bookkeeping
func (r *PostgresPayoutRepository) Update(ctx context.Context, p *domain.PayoutRecord) error {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE payouts SET status = $2, external_id = $3, retry_count = $4, last_error = $5, updated_at = $6
		WHERE id = $1`,
		p.ID, string(p.Status), nullString(p.ExternalID), p.RetryCount, nullString(p.LastError), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPayoutNotFound
	}
	return nil
}
