package memory

import (
	"context"
	"sync"

	"github.com/shoplink/payment-orchestrator/internal/domain"
)

// AuditRepository is an in-memory append-only ports.AuditRepository.
type AuditRepository struct {
	mu     sync.RWMutex
	events []*domain.DebugEvent
}

// NewAuditRepository creates an empty in-memory audit store.
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

// Append persists one debug event.
func (r *AuditRepository) Append(_ context.Context, event *domain.DebugEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *event
	r.events = append(r.events, &clone)
	return nil
}

// Recent returns up to limit events, newest first.
func (r *AuditRepository) Recent(_ context.Context, limit int) ([]*domain.DebugEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.events) {
		limit = len(r.events)
	}
	events := make([]*domain.DebugEvent, 0, limit)
	for i := len(r.events) - 1; i >= 0 && len(events) < limit; i-- {
		clone := *r.events[i]
		events = append(events, &clone)
	}
	return events, nil
}

// ByTransaction returns up to limit events for one transaction, newest first.
func (r *AuditRepository) ByTransaction(_ context.Context, transactionID string, limit int) ([]*domain.DebugEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var events []*domain.DebugEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		event := r.events[i]
		if event.TransactionID != nil && *event.TransactionID == transactionID {
			clone := *event
			events = append(events, &clone)
			if limit > 0 && len(events) == limit {
				break
			}
		}
	}
	return events, nil
}
