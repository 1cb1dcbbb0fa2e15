package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
)

// TransactionRepository is an in-memory ports.TransactionRepository. It backs
// the memory storage mode for local development and gives concurrency tests a
// deterministic store with the same compare-and-set semantics as Postgres.
type TransactionRepository struct {
	mu   sync.RWMutex
	txns map[string]*domain.Transaction
}

// NewTransactionRepository creates an empty in-memory transaction store.
func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{txns: make(map[string]*domain.Transaction)}
}

// Create persists a new transaction, enforcing order-reference uniqueness
// among open transactions the way the Postgres partial index does.
func (r *TransactionRepository) Create(_ context.Context, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.txns {
		if existing.OrderReference == txn.OrderReference && existing.BlocksNewOrder() {
			return domain.ErrDuplicateOrderReference.
				WithDetail("order_reference", txn.OrderReference)
		}
	}

	clone := *txn
	r.txns[txn.ID] = &clone
	return nil
}

// GetByID retrieves a transaction by id.
func (r *TransactionRepository) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	txn, ok := r.txns[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	clone := *txn
	return &clone, nil
}

// GetByConversationID retrieves a transaction by its gateway correlation key.
func (r *TransactionRepository) GetByConversationID(_ context.Context, conversationID string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, txn := range r.txns {
		if txn.ConversationID == conversationID {
			clone := *txn
			return &clone, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

// GetByOrderReference retrieves the most recently created transaction for the
// reference.
func (r *TransactionRepository) GetByOrderReference(_ context.Context, orderReference string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.Transaction
	for _, txn := range r.txns {
		if txn.OrderReference != orderReference {
			continue
		}
		if latest == nil || txn.CreatedAt.After(latest.CreatedAt) {
			latest = txn
		}
	}
	if latest == nil {
		return nil, domain.ErrTransactionNotFound
	}
	clone := *latest
	return &clone, nil
}

// FindOpenByOrderReference returns the transaction currently reserving the
// order reference.
func (r *TransactionRepository) FindOpenByOrderReference(_ context.Context, orderReference string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, txn := range r.txns {
		if txn.OrderReference == orderReference && txn.BlocksNewOrder() {
			clone := *txn
			return &clone, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

// SwapState applies a compare-and-set state update.
func (r *TransactionRepository) SwapState(_ context.Context, swap ports.StateSwap) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.txns[swap.ID]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	if txn.State != swap.FromState || txn.Version != swap.FromVersion {
		return ports.ErrVersionConflict
	}

	txn.State = swap.ToState
	txn.Version++
	txn.UpdatedAt = time.Now().UTC()
	if swap.GatewayPaymentID != nil {
		txn.GatewayPaymentID = swap.GatewayPaymentID
	}
	if swap.ErrorCode != nil {
		txn.ErrorCode = swap.ErrorCode
	}
	if swap.ErrorMessage != nil {
		txn.ErrorMessage = swap.ErrorMessage
	}
	if swap.RefundedAmount != nil {
		txn.RefundedAmount = *swap.RefundedAmount
	}
	return nil
}

// ListRecent returns up to limit transactions, newest first.
func (r *TransactionRepository) ListRecent(_ context.Context, limit int) ([]*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	txns := make([]*domain.Transaction, 0, len(r.txns))
	for _, txn := range r.txns {
		clone := *txn
		txns = append(txns, &clone)
	}
	sort.Slice(txns, func(i, j int) bool {
		return txns[i].CreatedAt.After(txns[j].CreatedAt)
	})
	if limit > 0 && len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}
