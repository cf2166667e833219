package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/clock"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/repository"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/retry"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IdentityProvider answers ownership questions about inventory units
type IdentityProvider interface {
	IsOwner(ctx context.Context, unitID, userID string) (bool, error)
}

// ArtifactGenerator mints proof of entry artifacts for a paid reservation.
// item is only set for resale reservations.
type ArtifactGenerator interface {
	Generate(ctx context.Context, res *domain.Reservation, unit *domain.InventoryUnit, item *domain.ResaleItem) ([]*domain.TicketArtifact, error)
}

// Notifier tells the buyer that a reservation was confirmed
type Notifier interface {
	NotifyConfirmed(ctx context.Context, reservationID string) error
}

// PaymentGateway is the narrow PSP surface used by settlement and refunds
type PaymentGateway interface {
	Name() string
	// ConfirmTestPayment settles without charging, only for non-production use
	ConfirmTestPayment(ctx context.Context, reference string, amount decimal.Decimal, currency string) (string, error)
	// Capture settles an authorized payment and returns the authorization id
	Capture(ctx context.Context, captureToken string, amount decimal.Decimal, currency string) (string, error)
	Refund(ctx context.Context, authorizationID string, amount decimal.Decimal, currency string) error
	// Void releases an authorization that will never be captured
	Void(ctx context.Context, authorizationID string) error
}

// PayoutProvider transfers seller proceeds
type PayoutProvider interface {
	Pay(ctx context.Context, req *PayoutRequest) (*PayoutReceipt, error)
}

// PayoutRequest is one provider transfer
type PayoutRequest struct {
	PayoutID       string
	Amount         decimal.Decimal
	Currency       string
	Account        *domain.PayoutAccount
	IdempotencyKey string
}

// PayoutReceipt is the provider answer to a transfer
type PayoutReceipt struct {
	ExternalID string
	Status     domain.PayoutStatus
}

// UnitOwnerIdentity resolves ownership from the unit owner column
type UnitOwnerIdentity struct {
	units repository.UnitRepository
}

// NewUnitOwnerIdentity creates an identity provider backed by the unit table
func NewUnitOwnerIdentity(units repository.UnitRepository) *UnitOwnerIdentity {
	return &UnitOwnerIdentity{units: units}
}

// IsOwner reports whether userID owns the unit
func (p *UnitOwnerIdentity) IsOwner(ctx context.Context, unitID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	unit, err := p.units.GetByID(ctx, unitID)
	if err != nil {
		return false, err
	}
	return unit.OwnerID == userID, nil
}

// ScanCodeGenerator mints one artifact per seat with a random scan code
type ScanCodeGenerator struct {
	baseURL string
	clock   clock.Clock
}

// NewScanCodeGenerator creates the default artifact generator. Locations are
// rooted at baseURL.
func NewScanCodeGenerator(baseURL string, clk clock.Clock) *ScanCodeGenerator {
	if baseURL == "" {
		baseURL = "/tickets"
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &ScanCodeGenerator{baseURL: baseURL, clock: clk}
}

// Generate returns Quantity artifacts for owned inventory and a single
// artifact wrapping the resale item for resale inventory
func (g *ScanCodeGenerator) Generate(ctx context.Context, res *domain.Reservation, unit *domain.InventoryUnit, item *domain.ResaleItem) ([]*domain.TicketArtifact, error) {
	now := g.clock.Now()
	switch unit.FulfillmentMode {
	case domain.FulfillmentModeResale:
		if item == nil {
			return nil, retry.Permanent(fmt.Errorf("resale reservation %s has no linked item", res.ID))
		}
		location := item.ArtifactLocation
		if location == "" {
			location = fmt.Sprintf("%s/%s/1", g.baseURL, res.ID)
		}
		return []*domain.TicketArtifact{{
			ID:            uuid.New().String(),
			ReservationID: res.ID,
			Sequence:      1,
			ScanCode:      uuid.New().String(),
			Location:      location,
			CreatedAt:     now,
		}}, nil
	case domain.FulfillmentModeOwned:
		seats := res.Seats()
		artifacts := make([]*domain.TicketArtifact, 0, res.Quantity)
		for i := 0; i < res.Quantity; i++ {
			a := &domain.TicketArtifact{
				ID:            uuid.New().String(),
				ReservationID: res.ID,
				Sequence:      i + 1,
				ScanCode:      uuid.New().String(),
				Location:      fmt.Sprintf("%s/%s/%d", g.baseURL, res.ID, i+1),
				CreatedAt:     now,
			}
			if i < len(seats) {
				a.SeatLabel = seats[i]
			}
			artifacts = append(artifacts, a)
		}
		return artifacts, nil
	default:
		return nil, nil
	}
}

// NotificationProducer is satisfied by the kafka producer
type NotificationProducer interface {
	ProduceJSON(ctx context.Context, topic, key string, data any, headers map[string]string) error
}

// KafkaNotifier publishes confirmation notices for the notification service
type KafkaNotifier struct {
	producer     NotificationProducer
	reservations repository.ReservationRepository
	topic        string
	clock        clock.Clock
}

// NewKafkaNotifier creates a notifier publishing to topic
func NewKafkaNotifier(producer NotificationProducer, reservations repository.ReservationRepository, topic string, clk clock.Clock) *KafkaNotifier {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &KafkaNotifier{producer: producer, reservations: reservations, topic: topic, clock: clk}
}

// NotifyConfirmed publishes a ConfirmationNotice keyed by reservation
func (n *KafkaNotifier) NotifyConfirmed(ctx context.Context, reservationID string) error {
	ctx, span := telemetry.StartSpan(ctx, "notifier.kafka.notify_confirmed")
	defer span.End()

	res, err := n.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return err
	}
	notice := &domain.ConfirmationNotice{
		ReservationID: res.ID,
		BuyerID:       res.BuyerID,
		Code:          res.Code,
		UnitID:        res.UnitID,
		Quantity:      res.Quantity,
		Timestamp:     n.clock.Now(),
	}
	headers := map[string]string{
		"event_type":   "reservation.confirmed",
		"content_type": "application/json",
		"source":       "reservation-engine",
	}
	telemetry.InjectHeaders(ctx, headers)
	if err := n.producer.ProduceJSON(ctx, n.topic, res.ID, notice, headers); err != nil {
		return fmt.Errorf("failed to publish confirmation notice: %w", err)
	}
	return nil
}

// LogNotifier only logs confirmations, used when no broker is configured
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a logging notifier
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Get()
	}
	return &LogNotifier{log: log}
}

// NotifyConfirmed logs the confirmation
func (n *LogNotifier) NotifyConfirmed(ctx context.Context, reservationID string) error {
	n.log.WithContext(ctx).Info("reservation confirmed", zap.String("reservation_id", reservationID), zap.Time("at", time.Now().UTC()))
	return nil
}
