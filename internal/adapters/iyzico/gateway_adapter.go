package iyzico

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
	"github.com/shoplink/payment-orchestrator/pkg/observability"
	"github.com/shoplink/payment-orchestrator/pkg/resilience"
	"go.uber.org/zap"
)

// Config contains configuration for the iyzico gateway adapter
type Config struct {
	// Base URL for the REST API
	// Sandbox: https://sandbox-api.iyzipay.com
	// Production: https://api.iyzipay.com
	BaseURL string

	// API credentials
	APIKey    string
	SecretKey string

	// HTTP client timeout
	Timeout time.Duration

	// Retry configuration for idempotent calls (query, cancel)
	MaxRetries int
}

// DefaultConfig returns default configuration for the given environment
func DefaultConfig(environment string) *Config {
	baseURL := "https://api.iyzipay.com"
	if environment == "sandbox" {
		baseURL = "https://sandbox-api.iyzipay.com"
	}
	return &Config{
		BaseURL:    baseURL,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// GatewayAdapter implements ports.PaymentGateway against the iyzico REST API.
// All calls run through a circuit breaker; only idempotent operations are
// retried, a capture or refund is never resubmitted automatically.
type GatewayAdapter struct {
	config         *Config
	httpClient     *http.Client
	logger         *zap.Logger
	circuitBreaker *CircuitBreaker
	backoff        resilience.BackoffStrategy
}

// NewGatewayAdapter creates a new iyzico gateway adapter
func NewGatewayAdapter(config *Config, logger *zap.Logger) *GatewayAdapter {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &GatewayAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		logger:         logger,
		circuitBreaker: NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		backoff:        resilience.GatewayBackoff(),
	}
}

// Wire shapes. The provider reports success as status "success" and failures
// as status "failure" with an errorCode from its documented code table.

type captureRequest struct {
	ConversationID string `json:"conversationId"`
	Price          string `json:"price"`
	Currency       string `json:"currency"`
	BasketID       string `json:"basketId"`
	CardToken      string `json:"cardUserKey"`
	CallbackURL    string `json:"callbackUrl"`
}

type refundRequest struct {
	ConversationID string `json:"conversationId"`
	PaymentID      string `json:"paymentId"`
	Price          string `json:"price"`
	Currency       string `json:"currency"`
}

type conversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type gatewayResponse struct {
	Status             string `json:"status"`
	PaymentID          string `json:"paymentId"`
	PaymentStatus      string `json:"paymentStatus"`
	ThreeDSRedirectURL string `json:"threeDSRedirectUrl"`
	ErrorCode          string `json:"errorCode"`
	ErrorMessage       string `json:"errorMessage"`
}

func (r *gatewayResponse) succeeded() bool {
	return r.Status == "success"
}

// Capture starts a payment. The provider answers either with a final
// accept/reject or with a 3DS redirect the shopper must visit.
func (a *GatewayAdapter) Capture(ctx context.Context, req *ports.CaptureRequest) (*ports.CaptureResult, error) {
	body := captureRequest{
		ConversationID: req.ConversationID,
		Price:          req.Amount.StringFixed(2),
		Currency:       req.Currency,
		BasketID:       req.OrderReference,
		CardToken:      req.CardToken,
		CallbackURL:    req.CallbackURL,
	}

	resp, err := a.call(ctx, "capture", "/payment/auth", body, false)
	if err != nil {
		return nil, err
	}

	if !resp.succeeded() {
		return nil, domain.ErrGatewayRejected.
			WithDetail("response_code", resp.ErrorCode).
			WithDetail("message", a.messageFor(resp))
	}

	result := &ports.CaptureResult{
		GatewayPaymentID: resp.PaymentID,
		ResponseCode:     codeSuccess,
		Message:          resp.ErrorMessage,
	}
	if resp.ThreeDSRedirectURL != "" {
		result.Requires3DS = true
		result.RedirectURL = resp.ThreeDSRedirectURL
	}
	return result, nil
}

// Confirm3DS completes a payment whose challenge has been answered.
func (a *GatewayAdapter) Confirm3DS(ctx context.Context, conversationID string) (*ports.ConfirmResult, error) {
	resp, err := a.call(ctx, "confirm_3ds", "/payment/3dsecure/auth", conversationRequest{ConversationID: conversationID}, false)
	if err != nil {
		return nil, err
	}

	if !resp.succeeded() {
		return &ports.ConfirmResult{
			Succeeded: false,
			ErrorCode: resp.ErrorCode,
			Message:   a.messageFor(resp),
		}, nil
	}
	return &ports.ConfirmResult{
		Succeeded:        true,
		GatewayPaymentID: resp.PaymentID,
	}, nil
}

// QueryPayment actively re-queries the outcome of a pending payment.
// Idempotent, so transient failures are retried with backoff.
func (a *GatewayAdapter) QueryPayment(ctx context.Context, conversationID string) (*ports.QueryResult, error) {
	resp, err := a.call(ctx, "query", "/payment/detail", conversationRequest{ConversationID: conversationID}, true)
	if err != nil {
		return nil, err
	}

	result := &ports.QueryResult{GatewayPaymentID: resp.PaymentID}
	switch resp.PaymentStatus {
	case "SUCCESS":
		result.Resolved = true
		result.Succeeded = true
	case "FAILURE":
		result.Resolved = true
		result.ErrorCode = resp.ErrorCode
		result.ErrorMessage = a.messageFor(resp)
	default:
		// CALLBACK_THREEDS, INIT_THREEDS and friends: still in flight.
	}
	return result, nil
}

// Refund returns part or all of a captured amount.
func (a *GatewayAdapter) Refund(ctx context.Context, req *ports.RefundRequest) (*ports.RefundResult, error) {
	body := refundRequest{
		ConversationID: req.ConversationID,
		PaymentID:      req.GatewayPaymentID,
		Price:          req.Amount.StringFixed(2),
		Currency:       req.Currency,
	}

	resp, err := a.call(ctx, "refund", "/payment/refund", body, false)
	if err != nil {
		return nil, err
	}

	if !resp.succeeded() {
		return &ports.RefundResult{
			Succeeded:    false,
			ResponseCode: resp.ErrorCode,
			Message:      a.messageFor(resp),
		}, nil
	}
	return &ports.RefundResult{
		Succeeded:       true,
		GatewayRefundID: resp.PaymentID,
		ResponseCode:    codeSuccess,
	}, nil
}

// Cancel notifies the gateway that the caller abandoned an initiated payment.
func (a *GatewayAdapter) Cancel(ctx context.Context, conversationID string) error {
	_, err := a.call(ctx, "cancel", "/payment/cancel", conversationRequest{ConversationID: conversationID}, true)
	return err
}

// VerifySignature checks the HMAC-SHA256 signature the provider attaches to
// every callback, using a constant-time comparison.
func (a *GatewayAdapter) VerifySignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(a.config.SecretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignPayload produces the callback signature for a payload. Tests and the
// sandbox simulator use it; the verification side is VerifySignature.
func (a *GatewayAdapter) SignPayload(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(a.config.SecretKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// TestConnection probes gateway reachability for the admin diagnostic.
func (a *GatewayAdapter) TestConnection(ctx context.Context) error {
	_, err := a.call(ctx, "test_connection", "/payment/test", struct{}{}, true)
	return err
}

// call executes one authenticated POST through the circuit breaker. When
// retryable is true, transient failures are retried with backoff; calls that
// move money are submitted exactly once.
func (a *GatewayAdapter) call(ctx context.Context, operation, path string, body any, retryable bool) (*gatewayResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway request: %w", err)
	}

	attempts := 1
	if retryable {
		attempts = a.config.MaxRetries + 1
	}

	start := time.Now()
	var resp *gatewayResponse
	err = a.circuitBreaker.Call(func() error {
		var lastErr error
		for attempt := 0; attempt < attempts; attempt++ {
			if attempt > 0 {
				delay := a.backoff.NextDelay(attempt - 1)
				a.logger.Info("retrying gateway call",
					zap.String("operation", operation),
					zap.Int("attempt", attempt),
					zap.Duration("backoff_delay", delay),
				)
				select {
				case <-ctx.Done():
					return fmt.Errorf("retry cancelled: %w", ctx.Err())
				case <-time.After(delay):
				}
			}

			resp, lastErr = a.doPost(ctx, path, payload)
			if lastErr == nil {
				if resp.succeeded() || !isRetryable(resp.ErrorCode) {
					return nil
				}
				lastErr = fmt.Errorf("gateway transient error %s", resp.ErrorCode)
				continue
			}
			if !isTransportRetryable(lastErr) {
				return lastErr
			}
		}
		return lastErr
	})

	elapsed := time.Since(start).Seconds()
	if err != nil {
		outcome := "error"
		if isTimeoutErr(err) {
			outcome = "timeout"
			err = domain.ErrGatewayTimeout.WithDetail("operation", operation)
		}
		observability.RecordGatewayCall(operation, outcome, elapsed)
		a.logger.Warn("gateway call failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
		return nil, err
	}

	outcome := "ok"
	if !resp.succeeded() {
		outcome = "rejected"
	}
	observability.RecordGatewayCall(operation, outcome, elapsed)

	return resp, nil
}

func (a *GatewayAdapter) doPost(ctx context.Context, path string, payload []byte) (*gatewayResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", a.config.APIKey)
	httpReq.Header.Set("X-Signature", a.SignPayload(payload))

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("gateway returned status %d", httpResp.StatusCode)
	}

	var resp gatewayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	return &resp, nil
}

func (a *GatewayAdapter) messageFor(resp *gatewayResponse) string {
	if resp.ErrorMessage != "" {
		return resp.ErrorMessage
	}
	return MessageForCode(resp.ErrorCode)
}

func isTransportRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
