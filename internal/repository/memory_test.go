package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func hold(id, unitID string, qty int, status domain.SaleStatus, expiresAt time.Time) *domain.Reservation {
	exp := expiresAt
	return &domain.Reservation{
		ID:           id,
		UnitID:       unitID,
		BuyerID:      "buyer",
		Quantity:     qty,
		Amount:       decimal.NewFromInt(int64(qty * 10)),
		Code:         "CODE-" + id,
		Status:       status,
		RefundStatus: domain.RefundStatusNone,
		GroupID:      "g-" + id,
		ExpiresAt:    &exp,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithSerializable(ctx, func(ctx context.Context) error {
		require.NoError(t, store.Reservations().Create(ctx, hold("r1", "u1", 2, domain.SaleStatusHold, t0.Add(time.Minute))))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Reservations().GetByID(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestMemoryStore_InjectedSerializationFailure(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.FailNextSerializable(1)

	err := store.WithSerializable(ctx, func(ctx context.Context) error {
		return store.Reservations().Create(ctx, hold("r1", "u1", 1, domain.SaleStatusHold, t0.Add(time.Minute)))
	})
	require.Error(t, err)
	assert.True(t, database.IsSerializationFailure(err))

	_, err = store.Reservations().GetByID(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	// read committed transactions are never failed
	store.FailNextSerializable(1)
	assert.NoError(t, store.WithTx(ctx, func(ctx context.Context) error { return nil }))
}

func TestMemoryStore_ConsumedUsesCanonicalRule(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	repo := store.Reservations()

	require.NoError(t, repo.Create(ctx, hold("live", "u1", 2, domain.SaleStatusHold, t0.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, hold("auth", "u1", 1, domain.SaleStatusAwaitingCapture, t0.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, hold("stale", "u1", 5, domain.SaleStatusHold, t0)))
	paid := hold("paid", "u1", 3, domain.SaleStatusPaid, t0)
	paid.ExpiresAt = nil
	require.NoError(t, repo.Create(ctx, paid))
	require.NoError(t, repo.Create(ctx, hold("gone", "u1", 4, domain.SaleStatusExpired, t0.Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, hold("other", "u2", 7, domain.SaleStatusHold, t0.Add(time.Hour))))

	consumed, err := repo.ConsumedForUnit(ctx, "u1", t0)
	require.NoError(t, err)
	assert.Equal(t, 6, consumed)
}

func TestMemoryStore_ExpireDueIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	repo := store.Reservations()

	require.NoError(t, repo.Create(ctx, hold("a", "u1", 1, domain.SaleStatusHold, t0.Add(-2*time.Minute))))
	require.NoError(t, repo.Create(ctx, hold("b", "u1", 1, domain.SaleStatusAwaitingCapture, t0.Add(-time.Minute))))
	require.NoError(t, repo.Create(ctx, hold("c", "u1", 1, domain.SaleStatusHold, t0.Add(time.Minute))))

	first, err := repo.ExpireDue(ctx, t0, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "a", first[0].ID)

	second, err := repo.ExpireDue(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "b", second[0].ID)

	third, err := repo.ExpireDue(ctx, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestMemoryStore_ResaleLinkExclusive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	items := store.ResaleItems()
	require.NoError(t, items.Create(ctx, &domain.ResaleItem{ID: "i1", UnitID: "u1"}))

	require.NoError(t, items.Link(ctx, "i1", "r1"))
	assert.ErrorIs(t, items.Link(ctx, "i1", "r2"), domain.ErrItemAlreadyHeld)
	assert.ErrorIs(t, items.Link(ctx, "missing", "r2"), domain.ErrResaleItemNotFound)

	n, err := items.Release(ctx, []string{"r1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, err := items.GetByID(ctx, "i1")
	require.NoError(t, err)
	assert.Nil(t, item.ReservationID)
}

func TestMemoryStore_PayoutUniqueness(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	payouts := store.Payouts()

	first := &domain.PayoutRecord{ID: "p1", ReservationID: "r1", PaymentID: "pay1", IdempotencyKey: domain.PayoutIdempotencyKey("r1")}
	inserted, err := payouts.CreateIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &domain.PayoutRecord{ID: "p2", ReservationID: "r1", PaymentID: "pay2", IdempotencyKey: "other"}
	inserted, err = payouts.CreateIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := payouts.GetByReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Reservations().Create(ctx, hold("r1", "u1", 1, domain.SaleStatusHold, t0.Add(time.Minute))))

	r, err := store.Reservations().GetByID(ctx, "r1")
	require.NoError(t, err)
	r.Status = domain.SaleStatusPaid

	again, err := store.Reservations().GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusHold, again.Status)
}

func TestMemoryStore_RollbackKeepsOutsideWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("boom")

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.WithSerializable(ctx, func(ctx context.Context) error {
			if err := store.Reservations().Create(ctx, hold("inside", "u1", 1, domain.SaleStatusHold, t0.Add(time.Minute))); err != nil {
				return err
			}
			close(started)
			<-release
			return boom
		})
	}()

	<-started
	inserted, err := store.Payouts().CreateIfAbsent(ctx, &domain.PayoutRecord{ID: "p1", ReservationID: "r1", PaymentID: "pay1", IdempotencyKey: "k1"})
	require.NoError(t, err)
	require.True(t, inserted)
	close(release)
	require.ErrorIs(t, <-done, boom)

	_, err = store.Payouts().GetByID(ctx, "p1")
	assert.NoError(t, err)
	_, err = store.Reservations().GetByID(ctx, "inside")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestMemoryStore_RollbackRestoresUpdatedRows(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Reservations().Create(ctx, hold("r1", "u1", 1, domain.SaleStatusHold, t0.Add(time.Minute))))

	err := store.WithTx(ctx, func(ctx context.Context) error {
		r, err := store.Reservations().GetForUpdate(ctx, "r1")
		if err != nil {
			return err
		}
		r.Status = domain.SaleStatusPaid
		if err := store.Reservations().Update(ctx, r); err != nil {
			return err
		}
		return errors.New("capture failed")
	})
	require.Error(t, err)

	r, err := store.Reservations().GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusHold, r.Status)
}
