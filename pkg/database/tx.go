package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE codes the engine reacts to
const (
	CodeUniqueViolation      = "23505"
	CodeInvalidTextRepr      = "22P02"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

// ErrSerialization is returned when the database aborted a transaction
// because of a concurrent conflicting one
var ErrSerialization = errors.New("transaction aborted by a concurrent update")

// Querier is the subset of pgx shared by pools and transactions
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Transactor runs fn inside a transaction carried by the context
type Transactor interface {
	// WithSerializable runs fn in a SERIALIZABLE transaction.
	// Serialization failures are reported as ErrSerialization.
	WithSerializable(ctx context.Context, fn func(ctx context.Context) error) error
	// WithTx runs fn in a READ COMMITTED transaction
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// TxManager implements Transactor on a pgx pool
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager creates a transaction manager
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// WithSerializable runs fn in a SERIALIZABLE transaction
func (m *TxManager) WithSerializable(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

// WithTx runs fn in a READ COMMITTED transaction
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (m *TxManager) run(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) error {
	// nested calls join the outer transaction
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := m.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// TxFromContext returns the transaction carried by ctx, if any
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// Conn returns the transaction in ctx or falls back to the pool
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func classify(err error) error {
	if IsSerializationFailure(err) && !errors.Is(err, ErrSerialization) {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return err
}

func hasCode(err error, codes ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	for _, c := range codes {
		if pgErr.Code == c {
			return true
		}
	}
	return false
}

// IsSerializationFailure reports SQLSTATE 40001 or 40P01
func IsSerializationFailure(err error) bool {
	return errors.Is(err, ErrSerialization) || hasCode(err, CodeSerializationFailure, CodeDeadlockDetected)
}

// IsUniqueViolation reports SQLSTATE 23505
func IsUniqueViolation(err error) bool {
	return hasCode(err, CodeUniqueViolation)
}

// IsInvalidInput reports malformed ids such as a bad uuid literal
func IsInvalidInput(err error) bool {
	return hasCode(err, CodeInvalidTextRepr)
}
