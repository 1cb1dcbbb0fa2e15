package memory

import (
	"context"
	"sync"

	"github.com/shoplink/payment-orchestrator/internal/domain"
)

// RefundRepository is an in-memory ports.RefundRepository.
type RefundRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.RefundRecord
	order   []string
}

// NewRefundRepository creates an empty in-memory refund store.
func NewRefundRepository() *RefundRepository {
	return &RefundRepository{records: make(map[string]*domain.RefundRecord)}
}

// Create persists a new refund attempt record.
func (r *RefundRepository) Create(_ context.Context, record *domain.RefundRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *record
	r.records[record.ID] = &clone
	r.order = append(r.order, record.ID)
	return nil
}

// UpdateStatus records the outcome of a refund attempt.
func (r *RefundRepository) UpdateStatus(_ context.Context, id string, status domain.RefundStatus, gatewayRefundID, failureReason *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrTransactionNotFound.WithDetail("refund_id", id)
	}
	record.Status = status
	if gatewayRefundID != nil {
		record.GatewayRefundID = gatewayRefundID
	}
	if failureReason != nil {
		record.FailureReason = failureReason
	}
	return nil
}

// ListByTransaction returns all refund attempts for a transaction, oldest first.
func (r *RefundRepository) ListByTransaction(_ context.Context, transactionID string) ([]*domain.RefundRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*domain.RefundRecord
	for _, id := range r.order {
		record := r.records[id]
		if record.TransactionID == transactionID {
			clone := *record
			records = append(records, &clone)
		}
	}
	return records, nil
}
