package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
)

// NopLogger is a ports.Logger that discards everything.
type NopLogger struct{}

func (NopLogger) Info(string, ...ports.Field)  {}
func (NopLogger) Error(string, ...ports.Field) {}
func (NopLogger) Warn(string, ...ports.Field)  {}
func (NopLogger) Debug(string, ...ports.Field) {}

// AuditRecorder captures recorded events in memory for assertions.
type AuditRecorder struct {
	mu     sync.Mutex
	events []*domain.DebugEvent
}

func (a *AuditRecorder) Record(kind domain.EventKind, payload map[string]any, transactionID *string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, &domain.DebugEvent{
		Timestamp:     time.Now().UTC(),
		Kind:          kind,
		Payload:       payload,
		TransactionID: transactionID,
	})
}

// Events returns a snapshot of everything recorded so far.
func (a *AuditRecorder) Events() []*domain.DebugEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*domain.DebugEvent(nil), a.events...)
}

// CountKind returns how many events of the given kind were recorded.
func (a *AuditRecorder) CountKind(kind domain.EventKind) int {
	count := 0
	for _, event := range a.Events() {
		if event.Kind == kind {
			count++
		}
	}
	return count
}

// FakeGateway implements ports.PaymentGateway with overridable call hooks.
// The zero value accepts every capture and verifies every signature.
type FakeGateway struct {
	CaptureFn         func(ctx context.Context, req *ports.CaptureRequest) (*ports.CaptureResult, error)
	Confirm3DSFn      func(ctx context.Context, conversationID string) (*ports.ConfirmResult, error)
	QueryPaymentFn    func(ctx context.Context, conversationID string) (*ports.QueryResult, error)
	RefundFn          func(ctx context.Context, req *ports.RefundRequest) (*ports.RefundResult, error)
	CancelFn          func(ctx context.Context, conversationID string) error
	VerifySignatureFn func(payload []byte, signature string) bool
	TestConnectionFn  func(ctx context.Context) error

	mu         sync.Mutex
	queryCalls int
}

func (g *FakeGateway) Capture(ctx context.Context, req *ports.CaptureRequest) (*ports.CaptureResult, error) {
	if g.CaptureFn != nil {
		return g.CaptureFn(ctx, req)
	}
	return &ports.CaptureResult{GatewayPaymentID: "gw-" + req.ConversationID}, nil
}

func (g *FakeGateway) Confirm3DS(ctx context.Context, conversationID string) (*ports.ConfirmResult, error) {
	if g.Confirm3DSFn != nil {
		return g.Confirm3DSFn(ctx, conversationID)
	}
	return &ports.ConfirmResult{Succeeded: true, GatewayPaymentID: "gw-" + conversationID}, nil
}

func (g *FakeGateway) QueryPayment(ctx context.Context, conversationID string) (*ports.QueryResult, error) {
	g.mu.Lock()
	g.queryCalls++
	g.mu.Unlock()
	if g.QueryPaymentFn != nil {
		return g.QueryPaymentFn(ctx, conversationID)
	}
	return &ports.QueryResult{}, nil
}

func (g *FakeGateway) Refund(ctx context.Context, req *ports.RefundRequest) (*ports.RefundResult, error) {
	if g.RefundFn != nil {
		return g.RefundFn(ctx, req)
	}
	return &ports.RefundResult{Succeeded: true, GatewayRefundID: uuid.New().String()}, nil
}

func (g *FakeGateway) Cancel(ctx context.Context, conversationID string) error {
	if g.CancelFn != nil {
		return g.CancelFn(ctx, conversationID)
	}
	return nil
}

func (g *FakeGateway) VerifySignature(payload []byte, signature string) bool {
	if g.VerifySignatureFn != nil {
		return g.VerifySignatureFn(payload, signature)
	}
	return true
}

func (g *FakeGateway) TestConnection(ctx context.Context) error {
	if g.TestConnectionFn != nil {
		return g.TestConnectionFn(ctx)
	}
	return nil
}

// QueryCalls reports how many times QueryPayment ran.
func (g *FakeGateway) QueryCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queryCalls
}

// Amount builds a decimal from a string, panicking on bad test input.
func Amount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
