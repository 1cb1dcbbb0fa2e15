package iyzico

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
	"github.com/shoplink/payment-orchestrator/internal/testutil"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *GatewayAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewGatewayAdapter(&Config{
		BaseURL:    server.URL,
		APIKey:     "test-api-key",
		SecretKey:  "test-secret",
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	}, zap.NewNop())
}

func respondJSON(w http.ResponseWriter, resp gatewayResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func captureRequestFixture() *ports.CaptureRequest {
	return &ports.CaptureRequest{
		TransactionID:  "txn-1",
		ConversationID: "conv-1",
		OrderReference: "order-1",
		Amount:         testutil.Amount("49.9"),
		Currency:       "TRY",
		CardToken:      "tok-1",
		CallbackURL:    "https://pay.example/callback",
	}
}

func TestCaptureAccepted(t *testing.T) {
	var gotPath string
	var gotBody captureRequest
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		assert.Equal(t, "test-api-key", r.Header.Get("X-Api-Key"))
		assert.NotEmpty(t, r.Header.Get("X-Signature"))
		respondJSON(w, gatewayResponse{Status: "success", PaymentID: "gw-1"})
	})

	result, err := adapter.Capture(context.Background(), captureRequestFixture())
	require.NoError(t, err)
	assert.Equal(t, "/payment/auth", gotPath)
	assert.Equal(t, "gw-1", result.GatewayPaymentID)
	assert.False(t, result.Requires3DS)

	// Amounts always go over the wire with two decimal places.
	assert.Equal(t, "49.90", gotBody.Price)
	assert.Equal(t, "conv-1", gotBody.ConversationID)
	assert.Equal(t, "order-1", gotBody.BasketID)
}

func TestCaptureRequires3DS(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, gatewayResponse{Status: "success", ThreeDSRedirectURL: "https://gateway.example/3ds/abc"})
	})

	result, err := adapter.Capture(context.Background(), captureRequestFixture())
	require.NoError(t, err)
	assert.True(t, result.Requires3DS)
	assert.Equal(t, "https://gateway.example/3ds/abc", result.RedirectURL)
}

func TestCaptureRejected(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, gatewayResponse{Status: "failure", ErrorCode: codeInsufficientFunds})
	})

	_, err := adapter.Capture(context.Background(), captureRequestFixture())
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeGatewayRejected))

	var derr *domain.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, codeInsufficientFunds, derr.Details["response_code"])
	assert.Equal(t, "insufficient funds", derr.Details["message"])
}

func TestCaptureIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	adapter := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		respondJSON(w, gatewayResponse{Status: "failure", ErrorCode: codeThrottled})
	})

	_, err := adapter.Capture(context.Background(), captureRequestFixture())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueryRetriesTransientCode(t *testing.T) {
	var calls atomic.Int32
	adapter := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			respondJSON(w, gatewayResponse{Status: "failure", ErrorCode: codeSystemError})
			return
		}
		respondJSON(w, gatewayResponse{Status: "success", PaymentStatus: "SUCCESS", PaymentID: "gw-9"})
	})

	result, err := adapter.QueryPayment(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.True(t, result.Resolved)
	assert.True(t, result.Succeeded)
	assert.Equal(t, "gw-9", result.GatewayPaymentID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueryPaymentStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		resp      gatewayResponse
		resolved  bool
		succeeded bool
	}{
		{"success", gatewayResponse{Status: "success", PaymentStatus: "SUCCESS"}, true, true},
		{"failure", gatewayResponse{Status: "success", PaymentStatus: "FAILURE", ErrorCode: codeDoNotHonor}, true, false},
		{"still in 3ds", gatewayResponse{Status: "success", PaymentStatus: "CALLBACK_THREEDS"}, false, false},
		{"initiated", gatewayResponse{Status: "success", PaymentStatus: "INIT_THREEDS"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
				respondJSON(w, tt.resp)
			})

			result, err := adapter.QueryPayment(context.Background(), "conv-1")
			require.NoError(t, err)
			assert.Equal(t, tt.resolved, result.Resolved)
			assert.Equal(t, tt.succeeded, result.Succeeded)
			if tt.resolved && !tt.succeeded {
				assert.Equal(t, codeDoNotHonor, result.ErrorCode)
				assert.Equal(t, "do not honor", result.ErrorMessage)
			}
		})
	}
}

func TestRefundDeclined(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, gatewayResponse{Status: "failure", ErrorCode: codeInvalidTransaction})
	})

	result, err := adapter.Refund(context.Background(), &ports.RefundRequest{
		GatewayPaymentID: "gw-1",
		ConversationID:   "conv-1",
		Amount:           testutil.Amount("10.00"),
		Currency:         "TRY",
	})
	require.NoError(t, err)
	assert.False(t, result.Succeeded)
	assert.Equal(t, codeInvalidTransaction, result.ResponseCode)
	assert.Equal(t, "transaction not permitted to cardholder", result.Message)
}

func TestTimeoutMapsToGatewayTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		respondJSON(w, gatewayResponse{Status: "success"})
	}))
	t.Cleanup(server.Close)

	adapter := NewGatewayAdapter(&Config{
		BaseURL:   server.URL,
		APIKey:    "key",
		SecretKey: "secret",
		Timeout:   30 * time.Millisecond,
	}, zap.NewNop())

	_, err := adapter.Capture(context.Background(), captureRequestFixture())
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeGatewayTimeout))
}

func TestServerErrorsOpenCircuit(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < int(DefaultCircuitBreakerConfig().MaxFailures); i++ {
		_, err := adapter.Capture(context.Background(), captureRequestFixture())
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, adapter.circuitBreaker.State())

	_, err := adapter.Capture(context.Background(), captureRequestFixture())
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestSignatureRoundTrip(t *testing.T) {
	adapter := NewGatewayAdapter(&Config{SecretKey: "test-secret"}, zap.NewNop())
	payload := []byte(`{"conversationId":"conv-1","status":"success"}`)

	signature := adapter.SignPayload(payload)
	assert.True(t, adapter.VerifySignature(payload, signature))
	assert.False(t, adapter.VerifySignature([]byte(`{"tampered":true}`), signature))
	assert.False(t, adapter.VerifySignature(payload, "deadbeef"))
}

func TestTestConnection(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment/test", r.URL.Path)
		respondJSON(w, gatewayResponse{Status: "success"})
	})
	assert.NoError(t, adapter.TestConnection(context.Background()))
}

func TestMessageForCode(t *testing.T) {
	assert.Equal(t, "insufficient funds", MessageForCode(codeInsufficientFunds))
	assert.Contains(t, MessageForCode("99999"), "99999")
	assert.True(t, isRetryable(codeThrottled))
	assert.True(t, isRetryable(codeSystemError))
	assert.False(t, isRetryable(codeInsufficientFunds))
}
