package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
	"github.com/shoplink/payment-orchestrator/pkg/observability"
)

// Service owns the transaction lifecycle. Every state mutation in the system
// goes through Transition (or TransitionWithin under WithLock), so the
// callback path and the polling path cannot disagree about a transaction's
// final state.
type Service struct {
	txns   ports.TransactionRepository
	audit  ports.AuditRecorder
	logger ports.Logger
	locks  *keyedMutex
}

// NewService creates a new ledger service
func NewService(txns ports.TransactionRepository, audit ports.AuditRecorder, logger ports.Logger) *Service {
	return &Service{
		txns:   txns,
		audit:  audit,
		logger: logger,
		locks:  newKeyedMutex(),
	}
}

// CreateParams are the caller-supplied inputs for a new transaction.
type CreateParams struct {
	OrderReference string
	Currency       string
	Amount         decimal.Decimal
}

// Resolution carries the gateway-derived fields that accompany a transition.
type Resolution struct {
	GatewayPaymentID *string
	ErrorCode        *string
	ErrorMessage     *string
	RefundedAmount   *decimal.Decimal
}

// Create allocates a new transaction in INITIATED state. It fails with
// TXN_DUPLICATE_ORDER_REF while a non-FAILED, non-CANCELLED transaction holds
// the same order reference; this is the idempotency boundary that absorbs a
// double-clicked "pay" button.
func (s *Service) Create(ctx context.Context, params CreateParams) (*domain.Transaction, error) {
	if err := validateCreate(params); err != nil {
		return nil, err
	}

	existing, err := s.txns.FindOpenByOrderReference(ctx, params.OrderReference)
	if err != nil && !domain.IsDomainError(err, domain.ErrorCodeTxnNotFound) {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "lookup order reference", err)
	}
	if existing != nil {
		return nil, domain.ErrDuplicateOrderReference.
			WithDetail("order_reference", params.OrderReference).
			WithDetail("existing_transaction_id", existing.ID)
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:             uuid.New().String(),
		OrderReference: params.OrderReference,
		ConversationID: uuid.New().String(),
		Amount:         params.Amount,
		RefundedAmount: decimal.Zero,
		Currency:       strings.ToUpper(params.Currency),
		State:          domain.StateInitiated,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.txns.Create(ctx, txn); err != nil {
		// The store's partial unique index is the backstop for two creates
		// racing past the lookup above.
		if domain.IsDomainError(err, domain.ErrorCodeTxnDuplicateOrderRef) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "create transaction", err)
	}

	s.audit.Record(domain.EventKindTransition, map[string]any{
		"to":              string(domain.StateInitiated),
		"order_reference": txn.OrderReference,
		"conversation_id": txn.ConversationID,
	}, &txn.ID)

	observability.RecordTransactionCreated(txn.Currency)
	s.logger.Info("transaction created",
		ports.String("transaction_id", txn.ID),
		ports.String("order_reference", txn.OrderReference),
		ports.String("amount", txn.Amount.String()),
		ports.String("currency", txn.Currency))

	return txn, nil
}

// Get retrieves a transaction by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.txns.GetByID(ctx, id)
}

// GetByConversationID retrieves a transaction by its gateway correlation key.
func (s *Service) GetByConversationID(ctx context.Context, conversationID string) (*domain.Transaction, error) {
	return s.txns.GetByConversationID(ctx, conversationID)
}

// GetByOrderReference retrieves the latest transaction for an order reference.
func (s *Service) GetByOrderReference(ctx context.Context, orderReference string) (*domain.Transaction, error) {
	return s.txns.GetByOrderReference(ctx, orderReference)
}

// ListRecent returns up to limit transactions, newest first.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	return s.txns.ListRecent(ctx, limit)
}

// WithLock runs fn while holding the per-transaction mutex. Callers that need
// to keep the lock across a gateway round trip (the refund orchestrator) use
// this together with TransitionWithin.
func (s *Service) WithLock(transactionID string, fn func() error) error {
	unlock := s.locks.Lock(transactionID)
	defer unlock()
	return fn()
}

// Transition applies one edge of the state machine under the transaction's
// lock. A losing racer on a resolution event receives TXN_ALREADY_RESOLVED,
// which callers treat as success.
func (s *Service) Transition(ctx context.Context, id string, event domain.TransactionEvent, res Resolution) (*domain.Transaction, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.transitionLocked(ctx, id, event, res)
}

// TransitionWithin is Transition for callers already inside WithLock.
func (s *Service) TransitionWithin(ctx context.Context, id string, event domain.TransactionEvent, res Resolution) (*domain.Transaction, error) {
	return s.transitionLocked(ctx, id, event, res)
}

func (s *Service) transitionLocked(ctx context.Context, id string, event domain.TransactionEvent, res Resolution) (*domain.Transaction, error) {
	txn, err := s.txns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	next, ok := domain.NextState(txn.State, event)
	if !ok {
		return txn, s.illegalTransition(txn, event)
	}

	swap := ports.StateSwap{
		ID:               txn.ID,
		FromState:        txn.State,
		FromVersion:      txn.Version,
		ToState:          next,
		GatewayPaymentID: res.GatewayPaymentID,
		ErrorCode:        res.ErrorCode,
		ErrorMessage:     res.ErrorMessage,
		RefundedAmount:   res.RefundedAmount,
	}

	if err := s.txns.SwapState(ctx, swap); err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			// Another process won the race between our read and write.
			reloaded, rerr := s.txns.GetByID(ctx, id)
			if rerr != nil {
				return nil, rerr
			}
			return reloaded, s.illegalTransition(reloaded, event)
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "swap transaction state", err)
	}

	s.audit.Record(domain.EventKindTransition, map[string]any{
		"from":  string(txn.State),
		"to":    string(next),
		"event": string(event),
	}, &txn.ID)

	observability.RecordTransition(string(txn.State), string(next), string(event))
	s.logger.Info("transaction state transition",
		ports.String("transaction_id", txn.ID),
		ports.String("from", string(txn.State)),
		ports.String("to", string(next)),
		ports.String("event", string(event)))

	updated := *txn
	updated.State = next
	updated.Version = txn.Version + 1
	updated.UpdatedAt = time.Now().UTC()
	if res.GatewayPaymentID != nil {
		updated.GatewayPaymentID = res.GatewayPaymentID
	}
	if res.ErrorCode != nil {
		updated.ErrorCode = res.ErrorCode
	}
	if res.ErrorMessage != nil {
		updated.ErrorMessage = res.ErrorMessage
	}
	if res.RefundedAmount != nil {
		updated.RefundedAmount = *res.RefundedAmount
	}
	return &updated, nil
}

// illegalTransition distinguishes the benign race (a second resolver arriving
// after the transaction left its pending states) from a genuine programming
// error such as refunding an INITIATED transaction.
func (s *Service) illegalTransition(txn *domain.Transaction, event domain.TransactionEvent) error {
	if domain.IsResolutionEvent(event) && !txn.IsPending() {
		return domain.ErrAlreadyResolved.
			WithDetail("transaction_id", txn.ID).
			WithDetail("state", string(txn.State)).
			WithDetail("event", string(event))
	}
	return domain.ErrInvalidTransition.
		WithDetail("transaction_id", txn.ID).
		WithDetail("state", string(txn.State)).
		WithDetail("event", string(event))
}

func validateCreate(params CreateParams) error {
	if strings.TrimSpace(params.OrderReference) == "" {
		return domain.ErrValidationFailed.WithDetail("field", "order_reference")
	}
	if !params.Amount.IsPositive() {
		return domain.ErrValidationFailed.WithDetail("field", "amount")
	}
	if len(params.Currency) != 3 {
		return domain.ErrValidationFailed.WithDetail("field", "currency")
	}
	return nil
}
