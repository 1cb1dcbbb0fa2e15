package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shoplink/payment-orchestrator/internal/domain"
)

// RefundRepository implements ports.RefundRepository on PostgreSQL.
type RefundRepository struct {
	pool *pgxpool.Pool
}

// NewRefundRepository creates a new refund repository
func NewRefundRepository(pool *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{pool: pool}
}

// Create persists a new refund attempt record
func (r *RefundRepository) Create(ctx context.Context, record *domain.RefundRecord) error {
	amount, err := decimalToNumeric(record.Amount)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO refunds (
			id, transaction_id, amount, status, gateway_refund_id,
			failure_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.TransactionID, amount, string(record.Status),
		nullText(record.GatewayRefundID), nullText(record.FailureReason),
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create refund record: %w", err)
	}
	return nil
}

// UpdateStatus records the outcome of a refund attempt
func (r *RefundRepository) UpdateStatus(ctx context.Context, id string, status domain.RefundStatus, gatewayRefundID, failureReason *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE refunds SET
			status = $1,
			gateway_refund_id = COALESCE($2, gateway_refund_id),
			failure_reason = COALESCE($3, failure_reason)
		WHERE id = $4`,
		string(status), nullText(gatewayRefundID), nullText(failureReason), id,
	)
	if err != nil {
		return fmt.Errorf("update refund status: %w", err)
	}
	return nil
}

// ListByTransaction returns all refund attempts for a transaction, oldest first
func (r *RefundRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*domain.RefundRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, transaction_id, amount, status, gateway_refund_id,
		       failure_reason, created_at
		FROM refunds
		WHERE transaction_id = $1
		ORDER BY created_at ASC`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var records []*domain.RefundRecord
	for rows.Next() {
		var (
			record   domain.RefundRecord
			amount   pgtype.Numeric
			status   string
			refundID pgtype.Text
			reason   pgtype.Text
		)
		if err := rows.Scan(
			&record.ID, &record.TransactionID, &amount, &status,
			&refundID, &reason, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan refund record: %w", err)
		}
		if record.Amount, err = numericToDecimal(amount); err != nil {
			return nil, err
		}
		record.Status = domain.RefundStatus(status)
		record.GatewayRefundID = textPtr(refundID)
		record.FailureReason = textPtr(reason)
		records = append(records, &record)
	}
	return records, rows.Err()
}
