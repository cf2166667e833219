package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/database"
)

// MemoryStore is an in-process implementation of every repository and of
// database.Transactor. Transactions are fully serialized by a store wide
// lock and undo their own writes on error, so it behaves like a
// SERIALIZABLE database for service tests and local runs. Writes made
// outside a transaction commit immediately.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	units        map[string]*domain.InventoryUnit
	sections     map[string]*domain.Section
	limits       map[string]int
	items        map[string]*domain.ResaleItem
	reservations map[string]*domain.Reservation
	payments     map[string]*domain.Payment
	artifacts    map[string][]*domain.TicketArtifact
	accounts     map[string]*domain.PayoutAccount
	payouts      map[string]*domain.PayoutRecord

	serializationFailures int
}

type memTxKey struct{}

// memTx records how to revert every write of one transaction
type memTx struct {
	undo []func()
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		units:        map[string]*domain.InventoryUnit{},
		sections:     map[string]*domain.Section{},
		limits:       map[string]int{},
		items:        map[string]*domain.ResaleItem{},
		reservations: map[string]*domain.Reservation{},
		payments:     map[string]*domain.Payment{},
		artifacts:    map[string][]*domain.TicketArtifact{},
		accounts:     map[string]*domain.PayoutAccount{},
		payouts:      map[string]*domain.PayoutRecord{},
	}
}

var _ database.Transactor = (*MemoryStore)(nil)

// FailNextSerializable makes the next n serializable transactions abort
// with a serialization failure after running their body
func (s *MemoryStore) FailNextSerializable(n int) {
	s.mu.Lock()
	s.serializationFailures = n
	s.mu.Unlock()
}

// WithSerializable runs fn under the store wide transaction lock
func (s *MemoryStore) WithSerializable(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.run(ctx, true, fn)
}

// WithTx runs fn under the store wide transaction lock
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.run(ctx, false, fn)
}

func (s *MemoryStore) run(ctx context.Context, serializable bool, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{}
	err := fn(context.WithValue(ctx, memTxKey{}, tx))
	if err == nil && serializable && s.consumeFailure() {
		err = fmt.Errorf("%w: injected", database.ErrSerialization)
	}
	if err != nil {
		s.rollback(tx)
		return err
	}
	return nil
}

func (s *MemoryStore) rollback(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

func (s *MemoryStore) consumeFailure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serializationFailures > 0 {
		s.serializationFailures--
		return true
	}
	return false
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// put stores v under k, recording an undo entry when ctx carries a
// transaction. Callers hold s.mu.
func put[K comparable, V any](ctx context.Context, m map[K]V, k K, v V) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		prev, existed := m[k]
		tx.undo = append(tx.undo, func() {
			if existed {
				m[k] = prev
			} else {
				delete(m, k)
			}
		})
	}
	m[k] = v
}

func clone[T any](v *T) *T {
	c := *v
	return &c
}

// Units returns the unit repository view
func (s *MemoryStore) Units() UnitRepository { return memUnits{s} }

// Sections returns the section repository view
func (s *MemoryStore) Sections() SectionRepository { return memSections{s} }

// Limits returns the purchase limit repository view
func (s *MemoryStore) Limits() LimitRepository { return memLimits{s} }

// ResaleItems returns the resale item repository view
func (s *MemoryStore) ResaleItems() ResaleItemRepository { return memItems{s} }

// Reservations returns the reservation repository view
func (s *MemoryStore) Reservations() ReservationRepository { return memReservations{s} }

// Payments returns the payment repository view
func (s *MemoryStore) Payments() PaymentRepository { return memPayments{s} }

// Artifacts returns the artifact repository view
func (s *MemoryStore) Artifacts() ArtifactRepository { return memArtifacts{s} }

// PayoutAccounts returns the payout account repository view
func (s *MemoryStore) PayoutAccounts() PayoutAccountRepository { return memAccounts{s} }

// Payouts returns the payout repository view
func (s *MemoryStore) Payouts() PayoutRepository { return memPayouts{s} }

// Repositories returns every repository view of the store
func (s *MemoryStore) Repositories() *Repositories {
	return &Repositories{
		Units:          s.Units(),
		Sections:       s.Sections(),
		Limits:         s.Limits(),
		ResaleItems:    s.ResaleItems(),
		Reservations:   s.Reservations(),
		Payments:       s.Payments(),
		Artifacts:      s.Artifacts(),
		PayoutAccounts: s.PayoutAccounts(),
		Payouts:        s.Payouts(),
	}
}

type memUnits struct{ s *MemoryStore }

func (m memUnits) Create(ctx context.Context, u *domain.InventoryUnit) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.units[u.ID]; ok {
		return fmt.Errorf("failed to create unit: duplicate id %s", u.ID)
	}
	put(ctx, m.s.units, u.ID, clone(u))
	return nil
}

func (m memUnits) GetByID(_ context.Context, id string) (*domain.InventoryUnit, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	u, ok := m.s.units[id]
	if !ok {
		return nil, domain.ErrUnitNotFound
	}
	return clone(u), nil
}

func (m memUnits) GetForUpdate(ctx context.Context, id string) (*domain.InventoryUnit, error) {
	return m.GetByID(ctx, id)
}

type memSections struct{ s *MemoryStore }

func (m memSections) Create(ctx context.Context, sec *domain.Section) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.sections {
		if existing.UnitID == sec.UnitID && existing.Name == sec.Name {
			return domain.ErrDuplicateSection
		}
	}
	put(ctx, m.s.sections, sec.ID, clone(sec))
	return nil
}

func (m memSections) GetByID(_ context.Context, id string) (*domain.Section, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	sec, ok := m.s.sections[id]
	if !ok {
		return nil, domain.ErrSectionNotFound
	}
	return clone(sec), nil
}

func (m memSections) ListByUnit(_ context.Context, unitID string) ([]*domain.Section, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []*domain.Section
	for _, sec := range m.s.sections {
		if sec.UnitID == unitID {
			out = append(out, clone(sec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memLimits struct{ s *MemoryStore }

func (m memLimits) Snapshot(_ context.Context, defaultMax int) (domain.PurchaseLimits, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return domain.PurchaseLimits{Default: defaultMax, PerCategory: copyMap(m.s.limits)}, nil
}

func (m memLimits) Upsert(ctx context.Context, category string, maxPerPurchase int) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	put(ctx, m.s.limits, category, maxPerPurchase)
	return nil
}

type memItems struct{ s *MemoryStore }

func (m memItems) Create(ctx context.Context, item *domain.ResaleItem) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	put(ctx, m.s.items, item.ID, clone(item))
	return nil
}

func (m memItems) GetByID(_ context.Context, id string) (*domain.ResaleItem, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	item, ok := m.s.items[id]
	if !ok {
		return nil, domain.ErrResaleItemNotFound
	}
	return clone(item), nil
}

func (m memItems) GetForUpdate(ctx context.Context, id string) (*domain.ResaleItem, error) {
	return m.GetByID(ctx, id)
}

func (m memItems) Link(ctx context.Context, itemID, reservationID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	item, ok := m.s.items[itemID]
	if !ok {
		return domain.ErrResaleItemNotFound
	}
	if item.ReservationID != nil {
		return domain.ErrItemAlreadyHeld
	}
	linked := clone(item)
	linked.ReservationID = &reservationID
	put(ctx, m.s.items, itemID, linked)
	return nil
}

func (m memItems) Release(ctx context.Context, reservationIDs []string) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	ids := make(map[string]struct{}, len(reservationIDs))
	for _, id := range reservationIDs {
		ids[id] = struct{}{}
	}
	released := 0
	for key, item := range m.s.items {
		if item.ReservationID == nil {
			continue
		}
		if _, ok := ids[*item.ReservationID]; ok {
			unlinked := clone(item)
			unlinked.ReservationID = nil
			put(ctx, m.s.items, key, unlinked)
			released++
		}
	}
	return released, nil
}

type memReservations struct{ s *MemoryStore }

func (m memReservations) Create(ctx context.Context, r *domain.Reservation) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.reservations {
		if existing.ID == r.ID || existing.Code == r.Code {
			return fmt.Errorf("failed to create reservation: duplicate id or code")
		}
	}
	put(ctx, m.s.reservations, r.ID, clone(r))
	return nil
}

func (m memReservations) GetByID(_ context.Context, id string) (*domain.Reservation, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	r, ok := m.s.reservations[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return clone(r), nil
}

func (m memReservations) GetForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	return m.GetByID(ctx, id)
}

func (m memReservations) Update(ctx context.Context, r *domain.Reservation) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.reservations[r.ID]; !ok {
		return domain.ErrReservationNotFound
	}
	put(ctx, m.s.reservations, r.ID, clone(r))
	return nil
}

func (m memReservations) consumed(match func(*domain.Reservation) bool, now time.Time) int {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	total := 0
	for _, r := range m.s.reservations {
		if match(r) && r.ConsumesCapacity(now) {
			total += r.Quantity
		}
	}
	return total
}

func (m memReservations) ConsumedForUnit(_ context.Context, unitID string, now time.Time) (int, error) {
	return m.consumed(func(r *domain.Reservation) bool { return r.UnitID == unitID }, now), nil
}

func (m memReservations) ConsumedForSection(_ context.Context, sectionID string, now time.Time) (int, error) {
	return m.consumed(func(r *domain.Reservation) bool {
		return r.SectionID != nil && *r.SectionID == sectionID
	}, now), nil
}

func (m memReservations) TakenSeats(_ context.Context, sectionID string, now time.Time) (map[string]struct{}, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	taken := map[string]struct{}{}
	for _, r := range m.s.reservations {
		if r.SectionID == nil || *r.SectionID != sectionID || !r.ConsumesCapacity(now) {
			continue
		}
		for _, seat := range r.Seats() {
			taken[seat] = struct{}{}
		}
	}
	return taken, nil
}

func (m memReservations) ListGroup(_ context.Context, groupID string) ([]*domain.Reservation, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []*domain.Reservation
	for _, r := range m.s.reservations {
		if r.GroupID == groupID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memReservations) LockGroup(ctx context.Context, groupID string) ([]*domain.Reservation, error) {
	return m.ListGroup(ctx, groupID)
}

// sweep applies mutate to at most limit matching reservations ordered by key
func (m memReservations) sweep(ctx context.Context, match func(*domain.Reservation) bool, key func(*domain.Reservation) time.Time,
	limit int, mutate func(*domain.Reservation)) []*domain.Reservation {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var due []*domain.Reservation
	for _, r := range m.s.reservations {
		if match(r) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return key(due[i]).Before(key(due[j])) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*domain.Reservation, 0, len(due))
	for _, r := range due {
		updated := clone(r)
		mutate(updated)
		put(ctx, m.s.reservations, r.ID, updated)
		out = append(out, clone(updated))
	}
	return out
}

func (m memReservations) ExpireDue(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	return m.sweep(ctx,
		func(r *domain.Reservation) bool { return r.IsExpiredAt(now) },
		func(r *domain.Reservation) time.Time { return *r.ExpiresAt },
		limit,
		func(r *domain.Reservation) {
			r.Status = domain.SaleStatusExpired
			r.CaptureToken = ""
			r.UpdatedAt = now
		},
	), nil
}

func (m memReservations) ClaimMissedDeadlines(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	return m.sweep(ctx,
		func(r *domain.Reservation) bool { return r.MissedUploadDeadline(now) },
		func(r *domain.Reservation) time.Time { return *r.UploadDeadline },
		limit,
		func(r *domain.Reservation) {
			r.RefundStatus = domain.RefundStatusPending
			r.UpdatedAt = now
		},
	), nil
}

type memPayments struct{ s *MemoryStore }

func (m memPayments) Create(ctx context.Context, p *domain.Payment) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.payments {
		if existing.ReservationID == p.ReservationID {
			return nil
		}
	}
	put(ctx, m.s.payments, p.ID, clone(p))
	return nil
}

func (m memPayments) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	p, ok := m.s.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return clone(p), nil
}

func (m memPayments) GetByReservation(_ context.Context, reservationID string) (*domain.Payment, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, p := range m.s.payments {
		if p.ReservationID == reservationID {
			return clone(p), nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (m memPayments) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	updated := clone(p)
	updated.Status = status
	put(ctx, m.s.payments, id, updated)
	return nil
}

type memArtifacts struct{ s *MemoryStore }

func (m memArtifacts) CreateBatch(ctx context.Context, artifacts []*domain.TicketArtifact) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, a := range artifacts {
		existing := m.s.artifacts[a.ReservationID]
		dup := false
		for _, e := range existing {
			if e.Sequence == a.Sequence {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		next := make([]*domain.TicketArtifact, len(existing), len(existing)+1)
		copy(next, existing)
		put(ctx, m.s.artifacts, a.ReservationID, append(next, clone(a)))
	}
	return nil
}

func (m memArtifacts) ListByReservation(_ context.Context, reservationID string) ([]*domain.TicketArtifact, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []*domain.TicketArtifact
	for _, a := range m.s.artifacts[reservationID] {
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

type memAccounts struct{ s *MemoryStore }

func (m memAccounts) GetByOwner(_ context.Context, ownerID string) (*domain.PayoutAccount, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	a, ok := m.s.accounts[ownerID]
	if !ok {
		return nil, domain.ErrPayoutAccountNotFound
	}
	return clone(a), nil
}

func (m memAccounts) Upsert(ctx context.Context, a *domain.PayoutAccount) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	put(ctx, m.s.accounts, a.OwnerID, clone(a))
	return nil
}

type memPayouts struct{ s *MemoryStore }

func (m memPayouts) CreateIfAbsent(ctx context.Context, p *domain.PayoutRecord) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.payouts {
		if existing.ReservationID == p.ReservationID ||
			existing.PaymentID == p.PaymentID ||
			existing.IdempotencyKey == p.IdempotencyKey {
			return false, nil
		}
	}
	put(ctx, m.s.payouts, p.ID, clone(p))
	return true, nil
}

func (m memPayouts) GetByID(_ context.Context, id string) (*domain.PayoutRecord, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	p, ok := m.s.payouts[id]
	if !ok {
		return nil, domain.ErrPayoutNotFound
	}
	return clone(p), nil
}

func (m memPayouts) GetForUpdate(ctx context.Context, id string) (*domain.PayoutRecord, error) {
	return m.GetByID(ctx, id)
}

func (m memPayouts) GetByReservation(_ context.Context, reservationID string) (*domain.PayoutRecord, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, p := range m.s.payouts {
		if p.ReservationID == reservationID {
			return clone(p), nil
		}
	}
	return nil, domain.ErrPayoutNotFound
}

func (m memPayouts) Update(ctx context.Context, p *domain.PayoutRecord) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.payouts[p.ID]; !ok {
		return domain.ErrPayoutNotFound
	}
	put(ctx, m.s.payouts, p.ID, clone(p))
	return nil
}
