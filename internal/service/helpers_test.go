package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/clock"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

var (
	buyer     = domain.Actor{UserID: "buyer-1", Role: domain.RoleBuyer}
	buyer2    = domain.Actor{UserID: "buyer-2", Role: domain.RoleBuyer}
	organizer = domain.Actor{UserID: "organizer-1", Role: domain.RoleOrganizer}
	admin     = domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}
)

type fakeGateway struct {
	mu        sync.Mutex
	captureFn func(ctx context.Context, token string, amount decimal.Decimal) (string, error)
	refundFn  func(ctx context.Context, authID string, amount decimal.Decimal) error
	captures  int
	refunds   int
	voidFn    func(ctx context.Context, authID string) error
	voided    []string
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) ConfirmTestPayment(ctx context.Context, reference string, amount decimal.Decimal, currency string) (string, error) {
	return "test-" + reference, nil
}

func (g *fakeGateway) Capture(ctx context.Context, token string, amount decimal.Decimal, currency string) (string, error) {
	g.mu.Lock()
	g.captures++
	fn := g.captureFn
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, token, amount)
	}
	return "auth-" + token, nil
}

func (g *fakeGateway) Refund(ctx context.Context, authID string, amount decimal.Decimal, currency string) error {
	g.mu.Lock()
	g.refunds++
	fn := g.refundFn
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, authID, amount)
	}
	return nil
}

func (g *fakeGateway) Void(ctx context.Context, authID string) error {
	g.mu.Lock()
	g.voided = append(g.voided, authID)
	fn := g.voidFn
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, authID)
	}
	return nil
}

func (g *fakeGateway) voidedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.voided...)
}

func (g *fakeGateway) captureCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captures
}

type fakePayoutProvider struct {
	mu    sync.Mutex
	payFn func(ctx context.Context, req *PayoutRequest) (*PayoutReceipt, error)
	calls []*PayoutRequest
}

func (p *fakePayoutProvider) Pay(ctx context.Context, req *PayoutRequest) (*PayoutReceipt, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	fn := p.payFn
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &PayoutReceipt{ExternalID: "tr_" + req.PayoutID, Status: domain.PayoutStatusAccepted}, nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	tasks []*domain.Task
}

func (p *recordingPublisher) Publish(ctx context.Context, task *domain.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(taskType domain.TaskType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.tasks {
		if t.Type == taskType {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) last(taskType domain.TaskType) *domain.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.tasks) - 1; i >= 0; i-- {
		if p.tasks[i].Type == taskType {
			return p.tasks[i]
		}
	}
	return nil
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *repository.MemoryStore
	repos    *repository.Repositories
	clock    *clock.Manual
	gateway  *fakeGateway
	provider *fakePayoutProvider
	tasks    *recordingPublisher
	settings Settings

	capacity    CapacityService
	holds       HoldService
	settlement  SettlementService
	fulfillment FulfillmentService
	payouts     PayoutService
}

func newFixture(t *testing.T, tweak ...func(*Settings)) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		store:    repository.NewMemoryStore(),
		clock:    clock.NewManual(t0),
		gateway:  &fakeGateway{},
		provider: &fakePayoutProvider{},
		tasks:    &recordingPublisher{},
		settings: DefaultSettings(),
	}
	f.settings.CaptureTimeout = time.Second
	f.settings.RefundTimeout = time.Second
	f.settings.PayoutTimeout = time.Second
	for _, fn := range tweak {
		fn(&f.settings)
	}
	f.repos = f.store.Repositories()
	identity := NewUnitOwnerIdentity(f.repos.Units)

	f.capacity = NewCapacityService(f.store, f.repos, nil, identity, f.clock)
	f.holds = NewHoldService(f.store, f.repos, nil, identity, f.gateway, f.clock, f.settings)
	f.payouts = NewPayoutService(f.store, f.repos, f.provider, f.tasks, f.clock, f.settings)
	f.settlement = NewSettlementService(f.store, f.repos, SettlementDeps{
		Gateway:  f.gateway,
		Tasks:    f.tasks,
		Payouts:  f.payouts,
		Identity: identity,
		Clock:    f.clock,
	}, f.settings)
	f.fulfillment = NewFulfillmentService(f.store, f.repos, f.gateway, f.payouts, identity, f.clock, f.settings)
	return f
}

func (f *fixture) seedUnit(mutate ...func(*domain.InventoryUnit)) *domain.InventoryUnit {
	f.t.Helper()
	u := &domain.InventoryUnit{
		ID:              "unit-1",
		OwnerID:         organizer.UserID,
		Category:        "concert",
		Title:           "Show",
		Capacity:        10,
		StartsAt:        t0.Add(30 * 24 * time.Hour),
		Approved:        true,
		Active:          true,
		FulfillmentMode: domain.FulfillmentModeOwned,
		UnitPrice:       decimal.NewFromInt(100),
		Currency:        "usd",
		CreatedAt:       t0,
	}
	for _, fn := range mutate {
		fn(u)
	}
	require.NoError(f.t, f.repos.Units.Create(f.ctx, u))
	return u
}

func (f *fixture) seedSection(unitID, name string, capacity int, labels ...string) *domain.Section {
	f.t.Helper()
	sec := &domain.Section{
		ID:         unitID + "-" + name,
		UnitID:     unitID,
		Name:       name,
		Capacity:   capacity,
		SeatLabels: labels,
	}
	require.NoError(f.t, f.repos.Sections.Create(f.ctx, sec))
	return sec
}

func (f *fixture) seedAccount(ownerID string) {
	f.t.Helper()
	require.NoError(f.t, f.repos.PayoutAccounts.Upsert(f.ctx, &domain.PayoutAccount{
		OwnerID:           ownerID,
		BankName:          "Bank",
		AccountNumber:     "000123",
		HolderName:        "Organizer",
		ExternalAccountID: "acct_1",
		PayoutsEnabled:    true,
	}))
}

func (f *fixture) hold(actor domain.Actor, unitID string, qty int) *HoldResult {
	f.t.Helper()
	res, err := f.holds.CreateHold(f.ctx, actor, &CreateHoldInput{
		UnitID: unitID,
		Lines:  []HoldLine{{Quantity: qty}},
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) paidHold(actor domain.Actor, unitID string, qty int) *domain.Reservation {
	f.t.Helper()
	held := f.hold(actor, unitID, qty)
	res, err := f.settlement.ConfirmPayment(f.ctx, actor, held.Reservations[0].ID, &ConfirmInput{CaptureToken: "tok"})
	require.NoError(f.t, err)
	return res.Reservations[0]
}

func (f *fixture) reservation(id string) *domain.Reservation {
	f.t.Helper()
	r, err := f.repos.Reservations.GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) remaining(unitID string) int {
	f.t.Helper()
	a, err := f.capacity.Remaining(f.ctx, unitID)
	require.NoError(f.t, err)
	return a.Remaining
}
