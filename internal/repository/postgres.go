package repository

import "github.com/jackc/pgx/v5/pgxpool"

// NewPostgresRepositories wires every PostgreSQL repository on one pool
func NewPostgresRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Units:          NewPostgresUnitRepository(pool),
		Sections:       NewPostgresSectionRepository(pool),
		Limits:         NewPostgresLimitRepository(pool),
		ResaleItems:    NewPostgresResaleItemRepository(pool),
		Reservations:   NewPostgresReservationRepository(pool),
		Payments:       NewPostgresPaymentRepository(pool),
		Artifacts:      NewPostgresArtifactRepository(pool),
		PayoutAccounts: NewPostgresPayoutAccountRepository(pool),
		Payouts:        NewPostgresPayoutRepository(pool),
	}
}
