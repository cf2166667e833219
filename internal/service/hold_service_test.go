package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateHold_CapacityOneTwoBuyers(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit(func(u *domain.InventoryUnit) { u.Capacity = 1 })

	first := f.hold(buyer, unit.ID, 1)
	assert.True(t, first.OK)
	require.Len(t, first.Reservations, 1)
	assert.Equal(t, domain.SaleStatusHold, first.Reservations[0].Status)

	_, err := f.holds.CreateHold(f.ctx, buyer2, &CreateHoldInput{UnitID: unit.ID, Lines: []HoldLine{{Quantity: 1}}})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 0, domain.DetailsOf(err)["remaining"])
}

func TestCreateHold_NoOversellUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit(func(u *domain.InventoryUnit) { u.Capacity = 10 })

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		granted  int
		rejected int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := domain.Actor{UserID: "buyer-" + string(rune('a'+i%26)) + string(rune('a'+i/26)), Role: domain.RoleBuyer}
			qty := 1 + i%2
			res, err := f.holds.CreateHold(f.ctx, actor, &CreateHoldInput{UnitID: unit.ID, Lines: []HoldLine{{Quantity: qty}}})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.Equal(t, domain.KindConflict, domain.KindOf(err))
				rejected++
				return
			}
			granted += totalQuantity(res.Reservations)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, granted, unit.Capacity)
	assert.Greater(t, rejected, 0)

	consumed, err := f.repos.Reservations.ConsumedForUnit(f.ctx, unit.ID, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, granted, consumed)
}

func TestCreateHold_ValidationOrder(t *testing.T) {
	tests := []struct {
		name    string
		unit    func(*domain.InventoryUnit)
		actor   domain.Actor
		input   *CreateHoldInput
		wantErr error
		details map[string]any
	}{
		{
			name:    "no lines",
			actor:   buyer,
			input:   &CreateHoldInput{UnitID: "unit-1"},
			wantErr: domain.ErrNoLines,
		},
		{
			name:    "zero quantity",
			actor:   buyer,
			input:   &CreateHoldInput{UnitID: "unit-1", Lines: []HoldLine{{Quantity: 0}}},
			wantErr: domain.ErrInvalidQuantity,
		},
		{
			name:    "seats without section",
			actor:   buyer,
			input:   &CreateHoldInput{UnitID: "unit-1", Lines: []HoldLine{{Quantity: 1, Seats: []string{"A1"}}}},
			wantErr: domain.ErrSeatsRequireSection,
		},
		{
			name:    "ttl above max",
			actor:   buyer,
			input:   &CreateHoldInput{UnitID: "unit-1", Lines: []HoldLine{{Quantity: 1}}, TTL: 2 * time.Hour},
			wantErr: domain.ErrInvalidTTL,
		},
		{
			name:    "unknown unit",
			actor:   buyer,
			input:   &CreateHoldInput{UnitID: "missing", Lines: []HoldLine{{Quantity: 1}}},
			wantErr: domain.ErrUnitNotFound,
		},
		{
			name:    "sale started",
			unit:    func(u *domain.InventoryUnit) { u.StartsAt = t0.Add(-time.Minute); u.Approved = false },
			actor:   buyer,
			input:   &CreateHoldInput{UnitID: "unit-1", Lines: []HoldLine{{Quantity: 1}}},
			wantErr: domain.ErrSaleStarted,
		},
		{
			name:    "not approved",
			unit:    func(u *domain.InventoryUnit) { u.Approved = false },
			actor:   organizer,
			input:   &CreateHoldInput{UnitID: "unit-1", Lines: []HoldLine{{Quantity: 1}}},
			wantErr: domain.ErrUnitNotOnSale,
		},
		{
			name:    "owner buys own event",
			actor:   organizer,
			input:   &CreateHoldInput{UnitID: "unit-1", Lines: []HoldLine{{Quantity: 50}}},
			wantErr: domain.ErrCannotBuyOwnEvent,
		},
		{
			name:    "purchase limit before stock",
			unit:    func(u *domain.InventoryUnit) { u.Capacity = 5 },
			actor:   buyer,
			input:   &CreateHoldInput{UnitID: "unit-1", Lines: []HoldLine{{Quantity: 11}}},
			wantErr: domain.ErrPurchaseLimitExceeded,
			details: map[string]any{"max": 10},
		},
		{
			name:    "insufficient stock",
			unit:    func(u *domain.InventoryUnit) { u.Capacity = 3 },
			actor:   buyer,
			input:   &CreateHoldInput{UnitID: "unit-1", Lines: []HoldLine{{Quantity: 4}}},
			wantErr: domain.ErrInsufficientStock,
			details: map[string]any{"remaining": 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.unit != nil {
				f.seedUnit(tt.unit)
			} else {
				f.seedUnit()
			}

			_, err := f.holds.CreateHold(f.ctx, tt.actor, tt.input)
			require.ErrorIs(t, err, tt.wantErr)
			if tt.details != nil {
				assert.Equal(t, tt.details, domain.DetailsOf(err))
			}
		})
	}
}

func TestCreateHold_CategoryLimit(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit()
	require.NoError(t, f.repos.Limits.Upsert(f.ctx, unit.Category, 2))

	_, err := f.holds.CreateHold(f.ctx, buyer, &CreateHoldInput{UnitID: unit.ID, Lines: []HoldLine{{Quantity: 3}}})
	require.ErrorIs(t, err, domain.ErrPurchaseLimitExceeded)
	assert.Equal(t, 2, domain.DetailsOf(err)["max"])
}

func TestCreateHold_Sections(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit()
	vip := f.seedSection(unit.ID, "vip", 3, "A1", "A2", "A3")
	floor := f.seedSection(unit.ID, "floor", 2)

	res, err := f.holds.CreateHold(f.ctx, buyer, &CreateHoldInput{
		UnitID: unit.ID,
		Lines: []HoldLine{
			{SectionID: vip.ID, Quantity: 2, Seats: []string{"A2", "A1"}},
			{SectionID: floor.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Reservations, 2)
	assert.Equal(t, "A1,A2", res.Reservations[0].SeatAssignment)
	assert.Equal(t, res.GroupID, res.Reservations[1].GroupID)

	t.Run("seat collision", func(t *testing.T) {
		_, err := f.holds.CreateHold(f.ctx, buyer2, &CreateHoldInput{
			UnitID: unit.ID,
			Lines:  []HoldLine{{SectionID: vip.ID, Quantity: 1, Seats: []string{"A2"}}},
		})
		require.ErrorIs(t, err, domain.ErrSeatCollision)
		assert.Equal(t, []string{"A2"}, domain.DetailsOf(err)["seats"])
	})

	t.Run("unknown seat label", func(t *testing.T) {
		_, err := f.holds.CreateHold(f.ctx, buyer2, &CreateHoldInput{
			UnitID: unit.ID,
			Lines:  []HoldLine{{SectionID: vip.ID, Quantity: 1, Seats: []string{"Z9"}}},
		})
		require.ErrorIs(t, err, domain.ErrSeatMismatch)
	})

	t.Run("seat count differs from quantity", func(t *testing.T) {
		_, err := f.holds.CreateHold(f.ctx, buyer2, &CreateHoldInput{
			UnitID: unit.ID,
			Lines:  []HoldLine{{SectionID: vip.ID, Quantity: 2, Seats: []string{"A3"}}},
		})
		require.ErrorIs(t, err, domain.ErrSeatMismatch)
	})

	t.Run("section sold out", func(t *testing.T) {
		_, err := f.holds.CreateHold(f.ctx, buyer2, &CreateHoldInput{
			UnitID: unit.ID,
			Lines:  []HoldLine{{SectionID: floor.ID, Quantity: 2}},
		})
		require.ErrorIs(t, err, domain.ErrInsufficientStock)
		assert.Equal(t, map[string]any{"section_id": floor.ID, "remaining": 1}, domain.DetailsOf(err))
	})

	t.Run("section of another unit", func(t *testing.T) {
		_, err := f.holds.CreateHold(f.ctx, buyer2, &CreateHoldInput{
			UnitID: unit.ID,
			Lines:  []HoldLine{{SectionID: "other-section", Quantity: 1}},
		})
		require.ErrorIs(t, err, domain.ErrSectionNotFound)
	})
}

func TestCreateHold_ResaleItemIsExclusive(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit(func(u *domain.InventoryUnit) { u.FulfillmentMode = domain.FulfillmentModeResale })
	require.NoError(t, f.repos.ResaleItems.Create(f.ctx, &domain.ResaleItem{ID: "item-1", UnitID: unit.ID, SellerID: "seller"}))

	res, err := f.holds.CreateHold(f.ctx, buyer, &CreateHoldInput{UnitID: unit.ID, ResaleItemID: "item-1"})
	require.NoError(t, err)
	require.Len(t, res.Reservations, 1)
	require.NotNil(t, res.Reservations[0].ResaleItemID)

	_, err = f.holds.CreateHold(f.ctx, buyer2, &CreateHoldInput{UnitID: unit.ID, ResaleItemID: "item-1"})
	require.ErrorIs(t, err, domain.ErrItemAlreadyHeld)

	_, err = f.holds.CancelHold(f.ctx, buyer, res.Reservations[0].ID)
	require.NoError(t, err)

	_, err = f.holds.CreateHold(f.ctx, buyer2, &CreateHoldInput{UnitID: unit.ID, ResaleItemID: "item-1"})
	assert.NoError(t, err)
}

func TestCreateHold_SerializationFailureIsSurfaced(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit()
	f.store.FailNextSerializable(1)

	_, err := f.holds.CreateHold(f.ctx, buyer, &CreateHoldInput{UnitID: unit.ID, Lines: []HoldLine{{Quantity: 2}}})
	require.ErrorIs(t, err, domain.ErrSerializationConflict)
	assert.Equal(t, "CONCURRENT_UPDATE", domain.CodeOf(err))
	assert.Equal(t, unit.Capacity, f.remaining(unit.ID))
}

func TestResolveConflict_ReportsRemainingWhenShort(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit(func(u *domain.InventoryUnit) { u.Capacity = 3 })
	f.hold(buyer, unit.ID, 2)

	s := f.holds.(*holdService)
	err := s.resolveConflict(f.ctx, unit.ID, 2)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 1, domain.DetailsOf(err)["remaining"])

	assert.ErrorIs(t, s.resolveConflict(f.ctx, unit.ID, 1), domain.ErrSerializationConflict)
}

func TestSweepExpired_ReleasesAfterTTL(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit(func(u *domain.InventoryUnit) { u.Capacity = 5 })

	res, err := f.holds.CreateHold(f.ctx, buyer, &CreateHoldInput{
		UnitID: unit.ID,
		Lines:  []HoldLine{{Quantity: 3}},
		TTL:    10 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, f.remaining(unit.ID))

	f.clock.Advance(11 * time.Minute)

	// an expired hold stops consuming before any sweep runs
	assert.Equal(t, 5, f.remaining(unit.ID))

	released, err := f.holds.SweepExpired(f.ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.Equal(t, domain.SaleStatusExpired, f.reservation(res.Reservations[0].ID).Status)

	again, err := f.holds.SweepExpired(f.ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Equal(t, 5, f.remaining(unit.ID))
}

func TestSweepExpired_UnlinksResaleItems(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit(func(u *domain.InventoryUnit) { u.FulfillmentMode = domain.FulfillmentModeResale })
	require.NoError(t, f.repos.ResaleItems.Create(f.ctx, &domain.ResaleItem{ID: "item-1", UnitID: unit.ID}))

	_, err := f.holds.CreateHold(f.ctx, buyer, &CreateHoldInput{UnitID: unit.ID, ResaleItemID: "item-1"})
	require.NoError(t, err)

	f.clock.Advance(f.settings.HoldTTL + time.Second)
	released, err := f.holds.SweepExpired(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	item, err := f.repos.ResaleItems.GetByID(f.ctx, "item-1")
	require.NoError(t, err)
	assert.Nil(t, item.ReservationID)
}

func TestCancelHold(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit()
	f.seedSection(unit.ID, "a", 5)
	res, err := f.holds.CreateHold(f.ctx, buyer, &CreateHoldInput{
		UnitID: unit.ID,
		Lines:  []HoldLine{{Quantity: 2}, {SectionID: unit.ID + "-a", Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = f.holds.CancelHold(f.ctx, buyer2, res.Reservations[0].ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	group, err := f.holds.CancelHold(f.ctx, buyer, res.Reservations[1].ID)
	require.NoError(t, err)
	require.Len(t, group, 2)
	for _, r := range group {
		assert.Equal(t, domain.SaleStatusCanceled, r.Status)
	}
	assert.Equal(t, unit.Capacity, f.remaining(unit.ID))

	// canceling again changes nothing
	_, err = f.holds.CancelHold(f.ctx, buyer, res.Reservations[0].ID)
	assert.NoError(t, err)
}

func TestCancelHold_VoidsAuthorization(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit()
	id := f.hold(buyer, unit.ID, 1).Reservations[0].ID
	_, err := f.settlement.AuthorizePayment(f.ctx, buyer, id, &AuthorizeInput{AuthorizationID: "pi_1", CaptureToken: "pi_1_secret"})
	require.NoError(t, err)

	f.gateway.voidFn = func(ctx context.Context, authID string) error {
		return errors.New("psp unavailable")
	}
	group, err := f.holds.CancelHold(f.ctx, buyer, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCanceled, group[0].Status)
	// one attempt plus one retry, the cancel stands either way
	assert.Equal(t, []string{"pi_1", "pi_1"}, f.gateway.voidedIDs())
	assert.Equal(t, unit.Capacity, f.remaining(unit.ID))

	// plain holds have nothing to void
	other := f.hold(buyer, unit.ID, 1).Reservations[0].ID
	_, err = f.holds.CancelHold(f.ctx, buyer, other)
	require.NoError(t, err)
	assert.Len(t, f.gateway.voidedIDs(), 2)
}

func TestCancelHold_PaidIsRejected(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit()
	paid := f.paidHold(buyer, unit.ID, 1)

	_, err := f.holds.CancelHold(f.ctx, buyer, paid.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestGetReservation(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit()
	held := f.hold(buyer, unit.ID, 1)
	id := held.Reservations[0].ID

	view, err := f.holds.GetReservation(f.ctx, buyer, id)
	require.NoError(t, err)
	assert.Equal(t, id, view.Reservation.ID)
	assert.Empty(t, view.Artifacts)
	assert.Nil(t, view.Payout)

	_, err = f.holds.GetReservation(f.ctx, organizer, id)
	assert.NoError(t, err)

	_, err = f.holds.GetReservation(f.ctx, buyer2, id)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.holds.GetReservation(f.ctx, buyer, "missing")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}
