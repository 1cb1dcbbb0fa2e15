package ports

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/shoplink/payment-orchestrator/internal/domain"
)

// ErrVersionConflict is returned by SwapState when the guarded update matched
// no row: another writer moved the transaction first. The ledger service
// interprets it, repositories never do.
var ErrVersionConflict = errors.New("transaction state version conflict")

// StateSwap describes a guarded state update. The swap applies only if the
// stored row still carries FromState and FromVersion; together with the
// per-transaction lock this prevents lost updates even across restarts.
type StateSwap struct {
	GatewayPaymentID *string
	ErrorCode        *string
	ErrorMessage     *string
	RefundedAmount   *decimal.Decimal
	ID               string
	FromState        domain.TransactionState
	ToState          domain.TransactionState
	FromVersion      int64
}

// TransactionRepository is the ledger's durable store.
type TransactionRepository interface {
	// Create persists a new transaction. The store enforces order-reference
	// uniqueness among open transactions as a second line of defense behind
	// the service-level duplicate check.
	Create(ctx context.Context, txn *domain.Transaction) error

	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	GetByConversationID(ctx context.Context, conversationID string) (*domain.Transaction, error)
	// GetByOrderReference returns the most recently created transaction for
	// the reference.
	GetByOrderReference(ctx context.Context, orderReference string) (*domain.Transaction, error)
	// FindOpenByOrderReference returns the transaction currently reserving
	// the order reference, or ErrTransactionNotFound if none blocks it.
	FindOpenByOrderReference(ctx context.Context, orderReference string) (*domain.Transaction, error)

	// SwapState applies a compare-and-set state update, bumping the version.
	// Returns ErrVersionConflict when the guard does not match.
	SwapState(ctx context.Context, swap StateSwap) error

	// ListRecent returns up to limit transactions, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.Transaction, error)
}

// RefundRepository stores individual refund attempts.
type RefundRepository interface {
	Create(ctx context.Context, record *domain.RefundRecord) error
	UpdateStatus(ctx context.Context, id string, status domain.RefundStatus, gatewayRefundID, failureReason *string) error
	ListByTransaction(ctx context.Context, transactionID string) ([]*domain.RefundRecord, error)
}

// AuditRepository persists debug events. Implementations must be append-only.
type AuditRepository interface {
	Append(ctx context.Context, event *domain.DebugEvent) error
	Recent(ctx context.Context, limit int) ([]*domain.DebugEvent, error)
	ByTransaction(ctx context.Context, transactionID string, limit int) ([]*domain.DebugEvent, error)
}
