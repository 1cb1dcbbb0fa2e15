package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shoplink/payment-orchestrator/internal/domain"
)

// AuditRepository implements ports.AuditRepository on PostgreSQL. Rows are
// only ever inserted; there is no update or delete path.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Append persists one debug event
func (r *AuditRepository) Append(ctx context.Context, event *domain.DebugEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO debug_events (transaction_id, kind, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		nullText(event.TransactionID), string(event.Kind), payload, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append debug event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first
func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]*domain.DebugEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT transaction_id, kind, payload, created_at
		FROM debug_events
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list debug events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ByTransaction returns up to limit events for one transaction, newest first
func (r *AuditRepository) ByTransaction(ctx context.Context, transactionID string, limit int) ([]*domain.DebugEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT transaction_id, kind, payload, created_at
		FROM debug_events
		WHERE transaction_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, transactionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transaction debug events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]*domain.DebugEvent, error) {
	var events []*domain.DebugEvent
	for rows.Next() {
		var (
			event   domain.DebugEvent
			txnID   pgtype.Text
			kind    string
			payload []byte
		)
		if err := rows.Scan(&txnID, &kind, &payload, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan debug event: %w", err)
		}
		event.TransactionID = textPtr(txnID)
		event.Kind = domain.EventKind(kind)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}
