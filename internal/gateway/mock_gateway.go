package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/service"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/retry"
	"github.com/shopspring/decimal"
)

// alphanumericChars for generating Stripe-compatible IDs
const alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumericChars[rand.Intn(len(alphanumericChars))]
	}
	return string(b)
}

// MockConfig holds configuration for the in-process gateways
type MockConfig struct {
	// SuccessRate is the probability of a successful call (0.0 to 1.0)
	SuccessRate float64

	// DelayMs is the simulated processing delay in milliseconds
	DelayMs int

	// FailureReasons is a list of possible decline reasons
	FailureReasons []string
}

// DefaultMockConfig returns default configuration
func DefaultMockConfig() *MockConfig {
	return &MockConfig{
		SuccessRate: 1,
		DelayMs:     50,
		FailureReasons: []string{
			"insufficient_funds",
			"card_declined",
			"expired_card",
		},
	}
}

func normalizeMockConfig(config *MockConfig) *MockConfig {
	if config == nil {
		config = DefaultMockConfig()
	}
	if config.SuccessRate < 0 {
		config.SuccessRate = 0
	}
	if config.SuccessRate > 1 {
		config.SuccessRate = 1
	}
	return config
}

type mockBase struct {
	mu     sync.RWMutex
	config *MockConfig
}

func (b *mockBase) wait(ctx context.Context) error {
	b.mu.RLock()
	delay := b.config.DelayMs
	b.mu.RUnlock()
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(delay) * time.Millisecond):
		return nil
	}
}

// decline returns a permanent decline, or nil when the call succeeds
func (b *mockBase) decline(op string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if rand.Float64() < b.config.SuccessRate {
		return nil
	}
	reason := "payment_failed"
	if n := len(b.config.FailureReasons); n > 0 {
		reason = b.config.FailureReasons[rand.Intn(n)]
	}
	return retry.Permanent(fmt.Errorf("%s: %w: %s", op, ErrDeclined, reason))
}

// SetSuccessRate updates the success rate (for testing)
func (b *mockBase) SetSuccessRate(rate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	b.config.SuccessRate = rate
}

// MockGateway implements service.PaymentGateway for local runs and load tests
type MockGateway struct {
	mockBase
	captures sync.Map
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockConfig) *MockGateway {
	return &MockGateway{mockBase: mockBase{config: normalizeMockConfig(config)}}
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return "mock"
}

// Capture simulates capturing an authorization. The same token always
// yields the same authorization id.
func (g *MockGateway) Capture(ctx context.Context, token string, amount decimal.Decimal, currency string) (string, error) {
	if token == "" {
		return "", retry.Permanent(fmt.Errorf("capture token is required"))
	}
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	if id, ok := g.captures.Load(token); ok {
		return id.(string), nil
	}
	if err := g.decline("capture"); err != nil {
		return "", err
	}
	id, _ := g.captures.LoadOrStore(token, fmt.Sprintf("pi_mock_%s", randomAlphanumeric(24)))
	return id.(string), nil
}

// ConfirmTestPayment always succeeds
func (g *MockGateway) ConfirmTestPayment(ctx context.Context, reference string, amount decimal.Decimal, currency string) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("pi_test_%s", randomAlphanumeric(24)), nil
}

// Refund simulates a refund
func (g *MockGateway) Refund(ctx context.Context, authorizationID string, amount decimal.Decimal, currency string) error {
	if authorizationID == "" {
		return retry.Permanent(fmt.Errorf("authorization id is required"))
	}
	if err := g.wait(ctx); err != nil {
		return err
	}
	return g.decline("refund")
}

// Void simulates releasing an authorization
func (g *MockGateway) Void(ctx context.Context, authorizationID string) error {
	if authorizationID == "" {
		return retry.Permanent(fmt.Errorf("authorization id is required"))
	}
	return g.wait(ctx)
}

// MockPayoutProvider implements service.PayoutProvider in process
type MockPayoutProvider struct {
	mockBase
	receipts sync.Map
}

// NewMockPayoutProvider creates a new mock payout provider
func NewMockPayoutProvider(config *MockConfig) *MockPayoutProvider {
	return &MockPayoutProvider{mockBase: mockBase{config: normalizeMockConfig(config)}}
}

// Pay simulates a transfer. Requests sharing an idempotency key return the
// first receipt.
func (p *MockPayoutProvider) Pay(ctx context.Context, req *service.PayoutRequest) (*service.PayoutReceipt, error) {
	if req == nil || req.Account == nil {
		return nil, retry.Permanent(fmt.Errorf("payout destination is required"))
	}
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	if receipt, ok := p.receipts.Load(req.IdempotencyKey); ok {
		return receipt.(*service.PayoutReceipt), nil
	}
	if err := p.decline("transfer"); err != nil {
		return nil, err
	}
	receipt, _ := p.receipts.LoadOrStore(req.IdempotencyKey, &service.PayoutReceipt{
		ExternalID: fmt.Sprintf("tr_mock_%s", randomAlphanumeric(24)),
		Status:     domain.PayoutStatusAccepted,
	})
	return receipt.(*service.PayoutReceipt), nil
}

var (
	_ service.PaymentGateway = (*MockGateway)(nil)
	_ service.PaymentGateway = (*StripeGateway)(nil)
	_ service.PayoutProvider = (*MockPayoutProvider)(nil)
	_ service.PayoutProvider = (*StripePayoutProvider)(nil)
)
