package ports

import "github.com/shoplink/payment-orchestrator/internal/domain"

// AuditRecorder is the append-only debug trail. Implementations must never
// block the caller and never return an error: a logging failure must not
// fail a payment operation.
type AuditRecorder interface {
	Record(kind domain.EventKind, payload map[string]any, transactionID *string)
}
