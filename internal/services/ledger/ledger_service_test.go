package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplink/payment-orchestrator/internal/adapters/memory"
	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/testutil"
)

func newTestService(t *testing.T) (*Service, *testutil.AuditRecorder) {
	t.Helper()
	audit := &testutil.AuditRecorder{}
	svc := NewService(memory.NewTransactionRepository(), audit, testutil.NopLogger{})
	return svc, audit
}

func mustCreate(t *testing.T, svc *Service, orderRef string) *domain.Transaction {
	t.Helper()
	txn, err := svc.Create(context.Background(), CreateParams{
		OrderReference: orderRef,
		Amount:         testutil.Amount("200.00"),
		Currency:       "TRY",
	})
	require.NoError(t, err)
	return txn
}

func TestCreate(t *testing.T) {
	svc, audit := newTestService(t)

	txn := mustCreate(t, svc, "order-1")

	assert.NotEmpty(t, txn.ID)
	assert.NotEmpty(t, txn.ConversationID)
	assert.NotEqual(t, txn.ID, txn.ConversationID)
	assert.Equal(t, domain.StateInitiated, txn.State)
	assert.Equal(t, int64(1), txn.Version)
	assert.Equal(t, "TRY", txn.Currency)
	assert.True(t, txn.RefundedAmount.IsZero())
	assert.Equal(t, 1, audit.CountKind(domain.EventKindTransition))
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateParams{OrderReference: "  ", Amount: testutil.Amount("10"), Currency: "TRY"})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))

	_, err = svc.Create(ctx, CreateParams{OrderReference: "order-1", Amount: testutil.Amount("0"), Currency: "TRY"})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))

	_, err = svc.Create(ctx, CreateParams{OrderReference: "order-1", Amount: testutil.Amount("-5"), Currency: "TRY"})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))

	_, err = svc.Create(ctx, CreateParams{OrderReference: "order-1", Amount: testutil.Amount("10"), Currency: "TL"})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}

func TestCreateNormalizesCurrency(t *testing.T) {
	svc, _ := newTestService(t)

	txn, err := svc.Create(context.Background(), CreateParams{
		OrderReference: "order-1",
		Amount:         testutil.Amount("10"),
		Currency:       "try",
	})
	require.NoError(t, err)
	assert.Equal(t, "TRY", txn.Currency)
}

func TestCreateDuplicateOrderReference(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := mustCreate(t, svc, "order-1")

	_, err := svc.Create(ctx, CreateParams{
		OrderReference: "order-1",
		Amount:         testutil.Amount("200.00"),
		Currency:       "TRY",
	})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTxnDuplicateOrderRef))

	var derr *domain.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, first.ID, derr.Details["existing_transaction_id"])
}

func TestCreateAllowedAfterFailedAttempt(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := mustCreate(t, svc, "order-1")

	code := "10051"
	_, err := svc.Transition(ctx, first.ID, domain.EventGatewayRejected, Resolution{ErrorCode: &code})
	require.NoError(t, err)

	// A failed attempt releases the order reference for a retry.
	second := mustCreate(t, svc, "order-1")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestTransitionHappyPath(t *testing.T) {
	svc, audit := newTestService(t)
	ctx := context.Background()

	txn := mustCreate(t, svc, "order-1")

	paymentID := "gw-123"
	updated, err := svc.Transition(ctx, txn.ID, domain.EventGatewayAccepted, Resolution{GatewayPaymentID: &paymentID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatePendingCallback, updated.State)
	assert.Equal(t, int64(2), updated.Version)
	require.NotNil(t, updated.GatewayPaymentID)
	assert.Equal(t, "gw-123", *updated.GatewayPaymentID)

	updated, err = svc.Transition(ctx, txn.ID, domain.EventPaymentSucceeded, Resolution{})
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, updated.State)
	assert.Equal(t, int64(3), updated.Version)

	// create + two transitions
	assert.Equal(t, 3, audit.CountKind(domain.EventKindTransition))
}

func TestTransitionIllegalEdge(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	txn := mustCreate(t, svc, "order-1")

	_, err := svc.Transition(ctx, txn.ID, domain.EventRefundApplied, Resolution{})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTxnInvalidTransition))

	// State unchanged.
	reloaded, err := svc.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInitiated, reloaded.State)
	assert.Equal(t, int64(1), reloaded.Version)
}

func TestTransitionUnknownTransaction(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Transition(context.Background(), "no-such-id", domain.EventPaymentSucceeded, Resolution{})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTxnNotFound))
}

func TestResolutionRaceHasExactlyOneWinner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	txn := mustCreate(t, svc, "order-1")
	_, err := svc.Transition(ctx, txn.ID, domain.EventGatewayAccepted, Resolution{})
	require.NoError(t, err)

	const racers = 20
	var wg sync.WaitGroup
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			event := domain.EventPaymentSucceeded
			if i%2 == 1 {
				event = domain.EventPaymentFailed
			}
			_, errs[i] = svc.Transition(ctx, txn.ID, event, Resolution{})
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		// Every loser gets the soft already-resolved error, never a hard one.
		assert.True(t, domain.IsSoftError(err), err.Error())
	}
	assert.Equal(t, 1, winners)

	final, err := svc.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.False(t, final.IsPending())
	assert.Equal(t, int64(3), final.Version)
}

func TestLosingResolverGetsAlreadyResolved(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	txn := mustCreate(t, svc, "order-1")
	_, err := svc.Transition(ctx, txn.ID, domain.EventGatewayAccepted, Resolution{})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, txn.ID, domain.EventPaymentSucceeded, Resolution{})
	require.NoError(t, err)

	// The callback arrives again after the poll already resolved the payment.
	current, err := svc.Transition(ctx, txn.ID, domain.EventPaymentFailed, Resolution{})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTxnAlreadyResolved))
	assert.Equal(t, domain.StateSuccess, current.State)
}

func TestWithLockAndTransitionWithin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	txn := mustCreate(t, svc, "order-1")
	_, err := svc.Transition(ctx, txn.ID, domain.EventGatewayAccepted, Resolution{})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, txn.ID, domain.EventPaymentSucceeded, Resolution{})
	require.NoError(t, err)

	total := testutil.Amount("50.00")
	err = svc.WithLock(txn.ID, func() error {
		_, err := svc.TransitionWithin(ctx, txn.ID, domain.EventRefundApplied, Resolution{RefundedAmount: &total})
		return err
	})
	require.NoError(t, err)

	reloaded, err := svc.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePartiallyRefunded, reloaded.State)
	assert.True(t, reloaded.RefundedAmount.Equal(total))
}
