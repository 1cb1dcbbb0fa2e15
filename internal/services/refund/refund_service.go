package refund

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
	"github.com/shoplink/payment-orchestrator/internal/services/ledger"
	"github.com/shoplink/payment-orchestrator/pkg/observability"
	"github.com/shoplink/payment-orchestrator/pkg/resilience"
)

// Service orchestrates refunds against captured transactions. The whole
// refund, including the gateway round trip, runs under the transaction's
// lock: two concurrent refunds against the same capture serialize, and the
// second one sees the first one's updated refunded amount.
type Service struct {
	ledger   *ledger.Service
	refunds  ports.RefundRepository
	gateway  ports.PaymentGateway
	audit    ports.AuditRecorder
	logger   ports.Logger
	timeouts *resilience.TimeoutConfig
}

// NewService creates a new refund service
func NewService(ledgerSvc *ledger.Service, refunds ports.RefundRepository, gateway ports.PaymentGateway, audit ports.AuditRecorder, logger ports.Logger, timeouts *resilience.TimeoutConfig) *Service {
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	return &Service{
		ledger:   ledgerSvc,
		refunds:  refunds,
		gateway:  gateway,
		audit:    audit,
		logger:   logger,
		timeouts: timeouts,
	}
}

// Refund returns part or all of a captured amount. Validation failures and
// gateway rejections leave the transaction's state and refunded amount
// untouched; a failed attempt is recorded and may simply be retried.
func (s *Service) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*domain.RefundRecord, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrValidationFailed.WithDetail("field", "amount")
	}

	var record *domain.RefundRecord
	err := s.ledger.WithLock(transactionID, func() error {
		txn, err := s.ledger.Get(ctx, transactionID)
		if err != nil {
			return err
		}

		if !txn.IsRefundable() {
			return domain.ErrInvalidState.
				WithDetail("transaction_id", txn.ID).
				WithDetail("state", string(txn.State))
		}

		remaining := txn.RemainingRefundable()
		if amount.GreaterThan(remaining) {
			return domain.ErrExceedsCapturedAmount.
				WithDetail("requested", amount.String()).
				WithDetail("remaining", remaining.String())
		}

		record, err = s.execute(ctx, txn, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// execute runs with the transaction lock held and all invariants checked.
func (s *Service) execute(ctx context.Context, txn *domain.Transaction, amount decimal.Decimal) (*domain.RefundRecord, error) {
	record := &domain.RefundRecord{
		ID:            uuid.New().String(),
		TransactionID: txn.ID,
		Amount:        amount,
		Status:        domain.RefundStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.refunds.Create(ctx, record); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "create refund record", err)
	}

	gctx, cancel := s.timeouts.GatewayContext(ctx)
	defer cancel()

	paymentID := ""
	if txn.GatewayPaymentID != nil {
		paymentID = *txn.GatewayPaymentID
	}
	result, err := s.gateway.Refund(gctx, &ports.RefundRequest{
		GatewayPaymentID: paymentID,
		ConversationID:   txn.ConversationID,
		Amount:           amount,
		Currency:         txn.Currency,
	})
	if err != nil {
		return nil, s.fail(ctx, record, txn, err.Error())
	}
	if !result.Succeeded {
		return nil, s.fail(ctx, record, txn, result.Message)
	}

	// The gateway accepted the refund; the state swap carries the new
	// cumulative amount so ledger state and refund total move atomically.
	newTotal := txn.RefundedAmount.Add(amount)
	event := domain.EventRefundApplied
	if newTotal.Equal(txn.Amount) {
		event = domain.EventRefundCompleted
	}
	if _, err := s.ledger.TransitionWithin(ctx, txn.ID, event, ledger.Resolution{
		RefundedAmount: &newTotal,
	}); err != nil {
		return nil, err
	}

	record.Status = domain.RefundStatusSuccess
	if result.GatewayRefundID != "" {
		record.GatewayRefundID = &result.GatewayRefundID
	}
	if err := s.refunds.UpdateStatus(ctx, record.ID, domain.RefundStatusSuccess, record.GatewayRefundID, nil); err != nil {
		// The ledger already holds the truth; the record catches up on the
		// next listing if this bookkeeping write is lost.
		s.logger.Warn("refund record update failed after successful refund",
			ports.String("refund_id", record.ID),
			ports.Err(err))
	}

	s.audit.Record(domain.EventKindRefundAttempt, map[string]any{
		"refund_id": record.ID,
		"amount":    amount.String(),
		"total":     newTotal.String(),
		"outcome":   "success",
	}, &txn.ID)
	observability.RecordRefund("success")

	s.logger.Info("refund applied",
		ports.String("transaction_id", txn.ID),
		ports.String("refund_id", record.ID),
		ports.String("amount", amount.String()),
		ports.String("refunded_total", newTotal.String()))

	return record, nil
}

// fail marks the attempt FAILED and surfaces a gateway error. The transaction
// itself is untouched so the caller can retry.
func (s *Service) fail(ctx context.Context, record *domain.RefundRecord, txn *domain.Transaction, reason string) error {
	record.Status = domain.RefundStatusFailed
	record.FailureReason = &reason
	if err := s.refunds.UpdateStatus(ctx, record.ID, domain.RefundStatusFailed, nil, &reason); err != nil {
		s.logger.Warn("refund record update failed",
			ports.String("refund_id", record.ID),
			ports.Err(err))
	}

	s.audit.Record(domain.EventKindRefundAttempt, map[string]any{
		"refund_id": record.ID,
		"amount":    record.Amount.String(),
		"outcome":   "gateway_failure",
		"reason":    reason,
	}, &txn.ID)
	observability.RecordRefund("gateway_failure")

	s.logger.Warn("refund rejected by gateway",
		ports.String("transaction_id", txn.ID),
		ports.String("refund_id", record.ID),
		ports.String("reason", reason))

	return domain.ErrGatewayRejected.
		WithDetail("refund_id", record.ID).
		WithDetail("reason", reason)
}

// ListRefunds returns all refund attempts for a transaction.
func (s *Service) ListRefunds(ctx context.Context, transactionID string) ([]*domain.RefundRecord, error) {
	return s.refunds.ListByTransaction(ctx, transactionID)
}
