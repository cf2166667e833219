package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test"

func signedRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func setupWebhookRouter(payouts *MockPayoutService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/webhooks/stripe", NewWebhookHandler(payouts, testWebhookSecret).HandleStripeWebhook)
	return router
}

func TestWebhook_AppliesTransferStatus(t *testing.T) {
	var gotID, gotStatus, gotExternal string
	payouts := &MockPayoutService{ApplyProviderUpdateFunc: func(ctx context.Context, id, status, externalID string) (*domain.PayoutRecord, error) {
		gotID, gotStatus, gotExternal = id, status, externalID
		return &domain.PayoutRecord{ID: id}, nil
	}}
	router := setupWebhookRouter(payouts)

	payload := `{"id":"evt_1","object":"event","type":"transfer.reversed","data":{"object":{"id":"tr_1","object":"transfer","metadata":{"payout_id":"po-1"}}}}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(t, payload))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "po-1", gotID)
	assert.Equal(t, string(domain.PayoutStatusFailed), gotStatus)
	assert.Equal(t, "tr_1", gotExternal)
}

func TestWebhook_AcknowledgesIllegalTransition(t *testing.T) {
	payouts := &MockPayoutService{ApplyProviderUpdateFunc: func(ctx context.Context, id, status, externalID string) (*domain.PayoutRecord, error) {
		return nil, domain.ErrIllegalTransition
	}}
	router := setupWebhookRouter(payouts)

	payload := `{"id":"evt_2","object":"event","type":"transfer.created","data":{"object":{"id":"tr_2","object":"transfer","metadata":{"payout_id":"po-2"}}}}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(t, payload))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	router := setupWebhookRouter(&MockPayoutService{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook_IgnoresOtherEvents(t *testing.T) {
	called := false
	payouts := &MockPayoutService{ApplyProviderUpdateFunc: func(ctx context.Context, id, status, externalID string) (*domain.PayoutRecord, error) {
		called = true
		return nil, nil
	}}
	router := setupWebhookRouter(payouts)

	payload := `{"id":"evt_3","object":"event","type":"charge.succeeded","data":{"object":{"id":"ch_1","object":"charge"}}}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(t, payload))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, called)
}
