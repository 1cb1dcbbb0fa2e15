package status

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
	"github.com/shoplink/payment-orchestrator/internal/services/ledger"
	"github.com/shoplink/payment-orchestrator/pkg/observability"
	"github.com/shoplink/payment-orchestrator/pkg/resilience"
)

// Service answers status queries and doubles as the reconciliation path for
// transactions whose callback never arrived. A status read on a stale pending
// transaction triggers at most one gateway requery per throttle window, so a
// storefront polling every second does not hammer the provider.
type Service struct {
	ledger     *ledger.Service
	gateway    ports.PaymentGateway
	audit      ports.AuditRecorder
	logger     ports.Logger
	throttle   *requeryThrottle
	timeouts   *resilience.TimeoutConfig
	staleAfter time.Duration
}

// Config holds reconciliation settings.
type Config struct {
	// StaleAfter is how long a pending transaction must sit untouched before
	// a status read is allowed to requery the gateway.
	StaleAfter time.Duration
	// RequeryInterval is the minimum spacing between requeries per transaction.
	RequeryInterval time.Duration
	Timeouts        *resilience.TimeoutConfig
}

// NewService creates a new status service
func NewService(cfg Config, ledgerSvc *ledger.Service, gateway ports.PaymentGateway, audit ports.AuditRecorder, logger ports.Logger) *Service {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 60 * time.Second
	}
	if cfg.RequeryInterval <= 0 {
		cfg.RequeryInterval = 30 * time.Second
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = resilience.DefaultTimeoutConfig()
	}
	return &Service{
		ledger:     ledgerSvc,
		gateway:    gateway,
		audit:      audit,
		logger:     logger,
		throttle:   newRequeryThrottle(cfg.RequeryInterval),
		timeouts:   cfg.Timeouts,
		staleAfter: cfg.StaleAfter,
	}
}

// Close stops the throttle's cleanup goroutine.
func (s *Service) Close() {
	s.throttle.stop()
}

// Query identifies the transaction to report on. Exactly one field is used;
// ConversationID wins when both are set.
type Query struct {
	ConversationID string
	OrderReference string
}

// Report is the externally visible status of a transaction.
type Report struct {
	TransactionID    string                  `json:"transaction_id"`
	OrderReference   string                  `json:"order_reference"`
	ConversationID   string                  `json:"conversation_id"`
	State            domain.TransactionState `json:"state"`
	UserCode         domain.UserCode         `json:"user_code"`
	Amount           decimal.Decimal         `json:"amount"`
	RefundedAmount   decimal.Decimal         `json:"refunded_amount"`
	Currency         string                  `json:"currency"`
	GatewayPaymentID *string                 `json:"gateway_payment_id,omitempty"`
	ErrorCode        *string                 `json:"error_code,omitempty"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// GetStatus reports the transaction's current state. A terminal transaction
// is returned as-is with no side effects. A pending transaction older than
// the staleness window is reconciled against the gateway first, subject to
// the per-transaction throttle.
func (s *Service) GetStatus(ctx context.Context, q Query) (*Report, error) {
	txn, err := s.lookup(ctx, q)
	if err != nil {
		return nil, err
	}

	if txn.IsPending() && time.Since(txn.UpdatedAt) >= s.staleAfter && s.throttle.allow(txn.ID) {
		if reconciled, rerr := s.reconcile(ctx, txn); rerr == nil && reconciled != nil {
			txn = reconciled
		}
	}

	return buildReport(txn), nil
}

func (s *Service) lookup(ctx context.Context, q Query) (*domain.Transaction, error) {
	if q.ConversationID != "" {
		return s.ledger.GetByConversationID(ctx, q.ConversationID)
	}
	if q.OrderReference != "" {
		return s.ledger.GetByOrderReference(ctx, q.OrderReference)
	}
	return nil, domain.ErrValidationFailed.WithDetail("field", "conversationId/orderReference")
}

// reconcile asks the gateway for the authoritative payment state and applies
// it through the ledger. An unresolved answer leaves the transaction alone;
// a losing race against a concurrent callback is absorbed as a no-op.
func (s *Service) reconcile(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, error) {
	gctx, cancel := s.timeouts.GatewayQueryContext(ctx)
	defer cancel()

	result, err := s.gateway.QueryPayment(gctx, txn.ConversationID)
	if err != nil {
		s.audit.Record(domain.EventKindPollRequery, map[string]any{
			"outcome": "gateway_error",
			"error":   err.Error(),
		}, &txn.ID)
		observability.RecordRequery("gateway_error")
		s.logger.Warn("status requery failed",
			ports.String("transaction_id", txn.ID),
			ports.Err(err))
		return nil, err
	}

	if !result.Resolved {
		s.audit.Record(domain.EventKindPollRequery, map[string]any{
			"outcome": "still_pending",
		}, &txn.ID)
		observability.RecordRequery("still_pending")
		return txn, nil
	}

	updated, err := s.applyOutcome(ctx, txn, result)
	if err != nil {
		if domain.IsSoftError(err) {
			observability.RecordRequery("lost_race")
			return s.ledger.Get(ctx, txn.ID)
		}
		return nil, err
	}

	s.audit.Record(domain.EventKindPollRequery, map[string]any{
		"outcome": "resolved",
		"state":   string(updated.State),
	}, &txn.ID)
	observability.RecordRequery("resolved")
	s.logger.Info("stale transaction reconciled via gateway query",
		ports.String("transaction_id", txn.ID),
		ports.String("state", string(updated.State)))

	return updated, nil
}

// applyOutcome walks the transaction from wherever it stalled to the queried
// terminal state, using only legal state machine edges.
func (s *Service) applyOutcome(ctx context.Context, txn *domain.Transaction, result *ports.QueryResult) (*domain.Transaction, error) {
	res := ledger.Resolution{}
	if result.GatewayPaymentID != "" {
		res.GatewayPaymentID = &result.GatewayPaymentID
	}
	if result.ErrorCode != "" {
		res.ErrorCode = &result.ErrorCode
	}
	if result.ErrorMessage != "" {
		res.ErrorMessage = &result.ErrorMessage
	}

	current := txn
	switch current.State {
	case domain.StateInitiated:
		// The capture call never reported back; the query is the first word
		// from the gateway.
		if !result.Succeeded {
			return s.ledger.Transition(ctx, current.ID, domain.EventGatewayRejected, res)
		}
		stepped, err := s.step(ctx, current.ID, domain.EventGatewayAccepted, ledger.Resolution{})
		if err != nil {
			return stepped, err
		}
		current = stepped
	case domain.StatePending3DS:
		if !result.Succeeded {
			return s.ledger.Transition(ctx, current.ID, domain.EventChallengeFailed, res)
		}
		stepped, err := s.step(ctx, current.ID, domain.EventChallengeCompleted, res)
		if err != nil {
			return stepped, err
		}
		current = stepped
	}

	event := domain.EventPaymentSucceeded
	if !result.Succeeded {
		event = domain.EventPaymentFailed
	}
	return s.ledger.Transition(ctx, current.ID, event, res)
}

// step applies one intermediate edge, tolerating a concurrent resolver having
// already moved the transaction past it.
func (s *Service) step(ctx context.Context, id string, event domain.TransactionEvent, res ledger.Resolution) (*domain.Transaction, error) {
	stepped, err := s.ledger.Transition(ctx, id, event, res)
	if err != nil {
		if !domain.IsSoftError(err) {
			return stepped, err
		}
		return s.ledger.Get(ctx, id)
	}
	return stepped, nil
}

func buildReport(txn *domain.Transaction) *Report {
	return &Report{
		TransactionID:    txn.ID,
		OrderReference:   txn.OrderReference,
		ConversationID:   txn.ConversationID,
		State:            txn.State,
		UserCode:         domain.UserCodeForState(txn.State),
		Amount:           txn.Amount,
		RefundedAmount:   txn.RefundedAmount,
		Currency:         txn.Currency,
		GatewayPaymentID: txn.GatewayPaymentID,
		ErrorCode:        txn.ErrorCode,
		UpdatedAt:        txn.UpdatedAt,
	}
}
