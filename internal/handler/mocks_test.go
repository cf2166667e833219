package handler

import (
	"context"
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/service"
)

// MockCapacityService is a mock implementation of CapacityService for testing
type MockCapacityService struct {
	RemainingFunc          func(ctx context.Context, unitID string) (*domain.Availability, error)
	RemainingInSectionFunc func(ctx context.Context, unitID, sectionID string) (*domain.Availability, error)
	DefineSectionFunc      func(ctx context.Context, actor domain.Actor, unitID string, in *service.DefineSectionInput) (*domain.Section, error)
}

func (m *MockCapacityService) Remaining(ctx context.Context, unitID string) (*domain.Availability, error) {
	if m.RemainingFunc != nil {
		return m.RemainingFunc(ctx, unitID)
	}
	return nil, nil
}

func (m *MockCapacityService) RemainingInSection(ctx context.Context, unitID, sectionID string) (*domain.Availability, error) {
	if m.RemainingInSectionFunc != nil {
		return m.RemainingInSectionFunc(ctx, unitID, sectionID)
	}
	return nil, nil
}

func (m *MockCapacityService) DefineSection(ctx context.Context, actor domain.Actor, unitID string, in *service.DefineSectionInput) (*domain.Section, error) {
	if m.DefineSectionFunc != nil {
		return m.DefineSectionFunc(ctx, actor, unitID, in)
	}
	return nil, nil
}

// MockHoldService is a mock implementation of HoldService for testing
type MockHoldService struct {
	CreateHoldFunc     func(ctx context.Context, actor domain.Actor, in *service.CreateHoldInput) (*service.HoldResult, error)
	CancelHoldFunc     func(ctx context.Context, actor domain.Actor, reservationID string) ([]*domain.Reservation, error)
	GetReservationFunc func(ctx context.Context, actor domain.Actor, reservationID string) (*domain.ReservationView, error)
	SweepExpiredFunc   func(ctx context.Context, limit int) (int, error)
}

func (m *MockHoldService) CreateHold(ctx context.Context, actor domain.Actor, in *service.CreateHoldInput) (*service.HoldResult, error) {
	if m.CreateHoldFunc != nil {
		return m.CreateHoldFunc(ctx, actor, in)
	}
	return nil, nil
}

func (m *MockHoldService) CancelHold(ctx context.Context, actor domain.Actor, reservationID string) ([]*domain.Reservation, error) {
	if m.CancelHoldFunc != nil {
		return m.CancelHoldFunc(ctx, actor, reservationID)
	}
	return nil, nil
}

func (m *MockHoldService) GetReservation(ctx context.Context, actor domain.Actor, reservationID string) (*domain.ReservationView, error) {
	if m.GetReservationFunc != nil {
		return m.GetReservationFunc(ctx, actor, reservationID)
	}
	return nil, nil
}

func (m *MockHoldService) SweepExpired(ctx context.Context, limit int) (int, error) {
	if m.SweepExpiredFunc != nil {
		return m.SweepExpiredFunc(ctx, limit)
	}
	return 0, nil
}

// MockSettlementService is a mock implementation of SettlementService for testing
type MockSettlementService struct {
	AuthorizePaymentFunc  func(ctx context.Context, actor domain.Actor, reservationID string, in *service.AuthorizeInput) ([]*domain.Reservation, error)
	ConfirmPaymentFunc    func(ctx context.Context, actor domain.Actor, reservationID string, in *service.ConfirmInput) (*service.SettlementResult, error)
	GenerateArtifactsFunc func(ctx context.Context, reservationID string) error
}

func (m *MockSettlementService) AuthorizePayment(ctx context.Context, actor domain.Actor, reservationID string, in *service.AuthorizeInput) ([]*domain.Reservation, error) {
	if m.AuthorizePaymentFunc != nil {
		return m.AuthorizePaymentFunc(ctx, actor, reservationID, in)
	}
	return nil, nil
}

func (m *MockSettlementService) ConfirmPayment(ctx context.Context, actor domain.Actor, reservationID string, in *service.ConfirmInput) (*service.SettlementResult, error) {
	if m.ConfirmPaymentFunc != nil {
		return m.ConfirmPaymentFunc(ctx, actor, reservationID, in)
	}
	return &service.SettlementResult{}, nil
}

func (m *MockSettlementService) GenerateArtifacts(ctx context.Context, reservationID string) error {
	if m.GenerateArtifactsFunc != nil {
		return m.GenerateArtifactsFunc(ctx, reservationID)
	}
	return nil
}

// MockFulfillmentService is a mock implementation of FulfillmentService for testing
type MockFulfillmentService struct {
	UploadFunc               func(ctx context.Context, actor domain.Actor, reservationID, location string) (*domain.Reservation, error)
	ApproveFunc              func(ctx context.Context, actor domain.Actor, reservationID string) (*service.ApprovalResult, error)
	RejectFunc               func(ctx context.Context, actor domain.Actor, reservationID, reason string) (*domain.Reservation, error)
	DeliverFunc              func(ctx context.Context, actor domain.Actor, reservationID string) (*domain.Reservation, error)
	DeadlineFunc             func(ctx context.Context, reservationID string) (*time.Time, error)
	SweepMissedDeadlinesFunc func(ctx context.Context, limit int) (*service.SweepResult, error)
	RetryRefundFunc          func(ctx context.Context, actor domain.Actor, reservationID string) (*domain.Reservation, error)
}

func (m *MockFulfillmentService) Upload(ctx context.Context, actor domain.Actor, reservationID, location string) (*domain.Reservation, error) {
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, actor, reservationID, location)
	}
	return nil, nil
}

func (m *MockFulfillmentService) Approve(ctx context.Context, actor domain.Actor, reservationID string) (*service.ApprovalResult, error) {
	if m.ApproveFunc != nil {
		return m.ApproveFunc(ctx, actor, reservationID)
	}
	return nil, nil
}

func (m *MockFulfillmentService) Reject(ctx context.Context, actor domain.Actor, reservationID, reason string) (*domain.Reservation, error) {
	if m.RejectFunc != nil {
		return m.RejectFunc(ctx, actor, reservationID, reason)
	}
	return nil, nil
}

func (m *MockFulfillmentService) Deliver(ctx context.Context, actor domain.Actor, reservationID string) (*domain.Reservation, error) {
	if m.DeliverFunc != nil {
		return m.DeliverFunc(ctx, actor, reservationID)
	}
	return nil, nil
}

func (m *MockFulfillmentService) Deadline(ctx context.Context, reservationID string) (*time.Time, error) {
	if m.DeadlineFunc != nil {
		return m.DeadlineFunc(ctx, reservationID)
	}
	return nil, nil
}

func (m *MockFulfillmentService) SweepMissedDeadlines(ctx context.Context, limit int) (*service.SweepResult, error) {
	if m.SweepMissedDeadlinesFunc != nil {
		return m.SweepMissedDeadlinesFunc(ctx, limit)
	}
	return &service.SweepResult{}, nil
}

func (m *MockFulfillmentService) RetryRefund(ctx context.Context, actor domain.Actor, reservationID string) (*domain.Reservation, error) {
	if m.RetryRefundFunc != nil {
		return m.RetryRefundFunc(ctx, actor, reservationID)
	}
	return nil, nil
}

// MockPayoutService is a mock implementation of PayoutService for testing
type MockPayoutService struct {
	EnsurePayoutFunc        func(ctx context.Context, paymentID string) (*service.PayoutResult, error)
	DispatchFunc            func(ctx context.Context, payoutID string) error
	ApplyProviderUpdateFunc func(ctx context.Context, payoutID, status, externalID string) (*domain.PayoutRecord, error)
}

func (m *MockPayoutService) EnsurePayout(ctx context.Context, paymentID string) (*service.PayoutResult, error) {
	if m.EnsurePayoutFunc != nil {
		return m.EnsurePayoutFunc(ctx, paymentID)
	}
	return nil, nil
}

func (m *MockPayoutService) Dispatch(ctx context.Context, payoutID string) error {
	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, payoutID)
	}
	return nil
}

func (m *MockPayoutService) ApplyProviderUpdate(ctx context.Context, payoutID, status, externalID string) (*domain.PayoutRecord, error) {
	if m.ApplyProviderUpdateFunc != nil {
		return m.ApplyProviderUpdateFunc(ctx, payoutID, status, externalID)
	}
	return &domain.PayoutRecord{ID: payoutID}, nil
}
