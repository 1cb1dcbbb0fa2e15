package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundStatus represents the outcome of a single refund attempt.
type RefundStatus string

const (
	RefundStatusPending RefundStatus = "PENDING"
	RefundStatusSuccess RefundStatus = "SUCCESS"
	RefundStatusFailed  RefundStatus = "FAILED"
)

// RefundRecord is one refund attempt against a captured transaction.
// The sum of SUCCESS record amounts for a transaction never exceeds the
// transaction's captured amount; the orchestrator enforces this before the
// gateway is ever called.
type RefundRecord struct {
	CreatedAt       time.Time       `json:"created_at"`
	GatewayRefundID *string         `json:"gateway_refund_id"`
	FailureReason   *string         `json:"failure_reason"`
	ID              string          `json:"id"`
	TransactionID   string          `json:"transaction_id"`
	Status          RefundStatus    `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
}
