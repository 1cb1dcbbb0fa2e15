package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplink/payment-orchestrator/internal/adapters/memory"
	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
	"github.com/shoplink/payment-orchestrator/internal/services/ledger"
	"github.com/shoplink/payment-orchestrator/internal/services/threeds"
	"github.com/shoplink/payment-orchestrator/internal/testutil"
)

type fixture struct {
	svc     *Service
	ledger  *ledger.Service
	threeds *threeds.Service
	gateway *testutil.FakeGateway
	audit   *testutil.AuditRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	audit := &testutil.AuditRecorder{}
	ledgerSvc := ledger.NewService(memory.NewTransactionRepository(), audit, testutil.NopLogger{})
	gateway := &testutil.FakeGateway{}
	threedsSvc := threeds.NewService(threeds.Config{JanitorInterval: time.Hour}, ledgerSvc, gateway, audit, testutil.NopLogger{})
	t.Cleanup(threedsSvc.Close)
	svc := NewService(Config{CallbackURL: "https://pay.example/api/v1/payments/callback"},
		ledgerSvc, threedsSvc, gateway, audit, testutil.NopLogger{})
	return &fixture{svc: svc, ledger: ledgerSvc, threeds: threedsSvc, gateway: gateway, audit: audit}
}

func params(orderRef string) InitiateParams {
	return InitiateParams{
		OrderReference: orderRef,
		CardToken:      "tok-1",
		Currency:       "TRY",
		Amount:         testutil.Amount("149.90"),
	}
}

func TestInitiateAccepted(t *testing.T) {
	f := newFixture(t)

	var seen *ports.CaptureRequest
	f.gateway.CaptureFn = func(_ context.Context, req *ports.CaptureRequest) (*ports.CaptureResult, error) {
		seen = req
		return &ports.CaptureResult{GatewayPaymentID: "gw-1"}, nil
	}

	outcome, err := f.svc.Initiate(context.Background(), params("order-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatePendingCallback, outcome.Transaction.State)
	assert.Equal(t, domain.UserCodePaymentPending, outcome.UserCode)
	assert.Empty(t, outcome.RedirectURL)
	require.NotNil(t, outcome.Transaction.GatewayPaymentID)
	assert.Equal(t, "gw-1", *outcome.Transaction.GatewayPaymentID)

	require.NotNil(t, seen)
	assert.Equal(t, "order-1", seen.OrderReference)
	assert.Equal(t, "tok-1", seen.CardToken)
	assert.Equal(t, "https://pay.example/api/v1/payments/callback", seen.CallbackURL)
}

func TestInitiateRequires3DS(t *testing.T) {
	f := newFixture(t)

	f.gateway.CaptureFn = func(_ context.Context, _ *ports.CaptureRequest) (*ports.CaptureResult, error) {
		return &ports.CaptureResult{Requires3DS: true, RedirectURL: "https://gateway.example/3ds/abc"}, nil
	}

	outcome, err := f.svc.Initiate(context.Background(), params("order-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending3DS, outcome.Transaction.State)
	assert.Equal(t, domain.UserCodePaymentPending, outcome.UserCode)
	assert.Equal(t, "https://gateway.example/3ds/abc", outcome.RedirectURL)

	sessions := f.threeds.SessionsSnapshot()
	require.Len(t, sessions, 1)
	assert.Equal(t, outcome.Transaction.ConversationID, sessions[0].ConversationID)
}

func TestInitiateRejected(t *testing.T) {
	f := newFixture(t)

	f.gateway.CaptureFn = func(_ context.Context, _ *ports.CaptureRequest) (*ports.CaptureResult, error) {
		return nil, domain.ErrGatewayRejected.WithDetail("code", "10051")
	}

	outcome, err := f.svc.Initiate(context.Background(), params("order-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, outcome.Transaction.State)
	assert.Equal(t, domain.UserCodePaymentFailed, outcome.UserCode)
	require.NotNil(t, outcome.Transaction.ErrorCode)
	assert.Equal(t, string(domain.ErrorCodeGatewayRejected), *outcome.Transaction.ErrorCode)
}

func TestInitiateTimeoutLeavesTransactionOpen(t *testing.T) {
	f := newFixture(t)

	f.gateway.CaptureFn = func(_ context.Context, _ *ports.CaptureRequest) (*ports.CaptureResult, error) {
		return nil, domain.ErrGatewayTimeout
	}

	outcome, err := f.svc.Initiate(context.Background(), params("order-1"))
	require.NoError(t, err)
	// The gateway may still have taken the money; reconciliation settles it.
	assert.Equal(t, domain.StateInitiated, outcome.Transaction.State)
	assert.Equal(t, domain.UserCodePaymentTimeout, outcome.UserCode)
}

func TestInitiateValidatesCardToken(t *testing.T) {
	f := newFixture(t)

	p := params("order-1")
	p.CardToken = ""
	_, err := f.svc.Initiate(context.Background(), p)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}

func TestInitiateDuplicateOrderReference(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Initiate(context.Background(), params("order-1"))
	require.NoError(t, err)

	_, err = f.svc.Initiate(context.Background(), params("order-1"))
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTxnDuplicateOrderRef))
}

func TestComplete3DS(t *testing.T) {
	f := newFixture(t)

	f.gateway.CaptureFn = func(_ context.Context, _ *ports.CaptureRequest) (*ports.CaptureResult, error) {
		return &ports.CaptureResult{Requires3DS: true, RedirectURL: "https://gateway.example/3ds/abc"}, nil
	}

	outcome, err := f.svc.Initiate(context.Background(), params("order-1"))
	require.NoError(t, err)

	resolved, err := f.svc.Complete3DS(context.Background(), outcome.Transaction.ConversationID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePendingCallback, resolved.State)

	// A page reload swallows the soft error and reports the standing outcome.
	again, err := f.svc.Complete3DS(context.Background(), outcome.Transaction.ConversationID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePendingCallback, again.State)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)

	txn, err := f.ledger.Create(context.Background(), ledger.CreateParams{
		OrderReference: "order-1",
		Amount:         testutil.Amount("10.00"),
		Currency:       "TRY",
	})
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, cancelled.State)

	// The order reference is free again.
	_, err = f.svc.Initiate(context.Background(), params("order-1"))
	require.NoError(t, err)
}

func TestCancelOnlyFromInitiated(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.svc.Initiate(context.Background(), params("order-1"))
	require.NoError(t, err)
	require.Equal(t, domain.StatePendingCallback, outcome.Transaction.State)

	_, err = f.svc.Cancel(context.Background(), outcome.Transaction.ID)
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTxnInvalidTransition))
}
