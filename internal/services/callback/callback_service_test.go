package callback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplink/payment-orchestrator/internal/adapters/memory"
	"github.com/shoplink/payment-orchestrator/internal/domain"
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
	svc := NewService(ledgerSvc, gateway, threedsSvc, audit, testutil.NopLogger{})
	return &fixture{svc: svc, ledger: ledgerSvc, threeds: threedsSvc, gateway: gateway, audit: audit}
}

// pendingTransaction creates a transaction waiting for its callback.
func (f *fixture) pendingTransaction(t *testing.T) *domain.Transaction {
	t.Helper()
	txn, err := f.ledger.Create(context.Background(), ledger.CreateParams{
		OrderReference: "order-" + t.Name(),
		Amount:         testutil.Amount("99.90"),
		Currency:       "TRY",
	})
	require.NoError(t, err)
	txn, err = f.ledger.Transition(context.Background(), txn.ID, domain.EventGatewayAccepted, ledger.Resolution{})
	require.NoError(t, err)
	return txn
}

func successPayload(conversationID string) []byte {
	return []byte(fmt.Sprintf(`{"conversationId":%q,"status":"success","paymentId":"gw-42"}`, conversationID))
}

func TestIngestApplied(t *testing.T) {
	f := newFixture(t)
	txn := f.pendingTransaction(t)

	resolved, err := f.svc.Ingest(context.Background(), successPayload(txn.ConversationID), "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, resolved.State)
	require.NotNil(t, resolved.GatewayPaymentID)
	assert.Equal(t, "gw-42", *resolved.GatewayPaymentID)
	assert.Equal(t, 1, f.audit.CountKind(domain.EventKindCallbackApplied))
}

func TestIngestFailure(t *testing.T) {
	f := newFixture(t)
	txn := f.pendingTransaction(t)

	payload := []byte(fmt.Sprintf(
		`{"conversationId":%q,"status":"failure","errorCode":"10051","errorMessage":"insufficient funds"}`,
		txn.ConversationID))
	resolved, err := f.svc.Ingest(context.Background(), payload, "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, resolved.State)
	require.NotNil(t, resolved.ErrorCode)
	assert.Equal(t, "10051", *resolved.ErrorCode)
	require.NotNil(t, resolved.ErrorMessage)
	assert.Equal(t, "insufficient funds", *resolved.ErrorMessage)
}

func TestIngestFromInitiated(t *testing.T) {
	f := newFixture(t)

	txn, err := f.ledger.Create(context.Background(), ledger.CreateParams{
		OrderReference: "order-" + t.Name(),
		Amount:         testutil.Amount("99.90"),
		Currency:       "TRY",
	})
	require.NoError(t, err)

	// The capture timed out on our side but the gateway took the payment and
	// notified anyway. Ingestion steps the transaction through acceptance
	// instead of bouncing the webhook.
	resolved, err := f.svc.Ingest(context.Background(), successPayload(txn.ConversationID), "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, resolved.State)
	require.NotNil(t, resolved.GatewayPaymentID)
	assert.Equal(t, "gw-42", *resolved.GatewayPaymentID)
	assert.Equal(t, 1, f.audit.CountKind(domain.EventKindCallbackApplied))
}

func TestIngestFailureFromInitiated(t *testing.T) {
	f := newFixture(t)

	txn, err := f.ledger.Create(context.Background(), ledger.CreateParams{
		OrderReference: "order-" + t.Name(),
		Amount:         testutil.Amount("99.90"),
		Currency:       "TRY",
	})
	require.NoError(t, err)

	payload := []byte(fmt.Sprintf(
		`{"conversationId":%q,"status":"failure","errorCode":"10051","errorMessage":"insufficient funds"}`,
		txn.ConversationID))
	resolved, err := f.svc.Ingest(context.Background(), payload, "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, resolved.State)
	require.NotNil(t, resolved.ErrorCode)
	assert.Equal(t, "10051", *resolved.ErrorCode)
}

func TestIngestInvalidSignature(t *testing.T) {
	f := newFixture(t)
	txn := f.pendingTransaction(t)
	f.gateway.VerifySignatureFn = func([]byte, string) bool { return false }

	_, err := f.svc.Ingest(context.Background(), successPayload(txn.ConversationID), "bad-sig")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeCallbackInvalidSignature))
	assert.Equal(t, 1, f.audit.CountKind(domain.EventKindCallbackRejected))

	// Nothing was applied.
	reloaded, gerr := f.ledger.Get(context.Background(), txn.ID)
	require.NoError(t, gerr)
	assert.Equal(t, domain.StatePendingCallback, reloaded.State)
}

func TestIngestMalformedPayload(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ingest(context.Background(), []byte(`{not json`), "sig")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))

	_, err = f.svc.Ingest(context.Background(), []byte(`{"status":"success"}`), "sig")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))

	_, err = f.svc.Ingest(context.Background(), []byte(`{"conversationId":"conv-1","status":"maybe"}`), "sig")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}

func TestIngestUnknownConversation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ingest(context.Background(), successPayload("conv-nobody"), "sig")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeCallbackUnknownTxn))
}

func TestIngestDuplicateSuppressed(t *testing.T) {
	f := newFixture(t)
	txn := f.pendingTransaction(t)
	payload := successPayload(txn.ConversationID)

	first, err := f.svc.Ingest(context.Background(), payload, "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, first.State)

	// The gateway retries the webhook. Same answer, no error, no state change.
	second, err := f.svc.Ingest(context.Background(), payload, "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, second.State)
	assert.Equal(t, first.Version, second.Version)

	assert.Equal(t, 1, f.audit.CountKind(domain.EventKindCallbackApplied))
	assert.Equal(t, 1, f.audit.CountKind(domain.EventKindCallbackDuplicate))
}

func TestIngestStepsThroughPending3DS(t *testing.T) {
	f := newFixture(t)

	txn, err := f.ledger.Create(context.Background(), ledger.CreateParams{
		OrderReference: "order-" + t.Name(),
		Amount:         testutil.Amount("99.90"),
		Currency:       "TRY",
	})
	require.NoError(t, err)
	_, err = f.threeds.BeginChallenge(context.Background(), txn.ID, "https://gateway.example/3ds", 5*time.Minute)
	require.NoError(t, err)

	// The gateway's notification wins the race against the redirect return.
	resolved, err := f.svc.Ingest(context.Background(), successPayload(txn.ConversationID), "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, resolved.State)

	// The session was spent; the late redirect return is a no-op.
	_, err = f.threeds.ResolveChallenge(context.Background(), txn.ConversationID, true)
	require.Error(t, err)
	assert.True(t, domain.IsSoftError(err))

	final, err := f.ledger.Get(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, final.State)
}

func TestIngestFailureWhilePending3DS(t *testing.T) {
	f := newFixture(t)

	txn, err := f.ledger.Create(context.Background(), ledger.CreateParams{
		OrderReference: "order-" + t.Name(),
		Amount:         testutil.Amount("99.90"),
		Currency:       "TRY",
	})
	require.NoError(t, err)
	_, err = f.threeds.BeginChallenge(context.Background(), txn.ID, "https://gateway.example/3ds", 5*time.Minute)
	require.NoError(t, err)

	payload := []byte(fmt.Sprintf(`{"conversationId":%q,"status":"failure","errorCode":"10005"}`, txn.ConversationID))
	resolved, err := f.svc.Ingest(context.Background(), payload, "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, resolved.State)
}
