package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
)

const uniqueViolationCode = "23505"

const transactionColumns = `id, order_reference, conversation_id, amount, refunded_amount,
	currency, state, gateway_payment_id, error_code, error_message, version, created_at, updated_at`

// TransactionRepository implements ports.TransactionRepository on PostgreSQL.
// A partial unique index on order_reference over open states backs the
// duplicate-order guarantee even when two creates race across processes.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// Create persists a new transaction
func (r *TransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	amount, err := decimalToNumeric(txn.Amount)
	if err != nil {
		return err
	}
	refunded, err := decimalToNumeric(txn.RefundedAmount)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO transactions (
			id, order_reference, conversation_id, amount, refunded_amount,
			currency, state, gateway_payment_id, error_code, error_message,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		txn.ID, txn.OrderReference, txn.ConversationID, amount, refunded,
		txn.Currency, string(txn.State), nullText(txn.GatewayPaymentID),
		nullText(txn.ErrorCode), nullText(txn.ErrorMessage),
		txn.Version, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.ErrDuplicateOrderReference.
				WithDetail("order_reference", txn.OrderReference)
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by its id
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return r.scanTransaction(row)
}

// GetByConversationID retrieves a transaction by its gateway correlation key
func (r *TransactionRepository) GetByConversationID(ctx context.Context, conversationID string) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE conversation_id = $1`, conversationID)
	return r.scanTransaction(row)
}

// GetByOrderReference retrieves the most recently created transaction for the reference
func (r *TransactionRepository) GetByOrderReference(ctx context.Context, orderReference string) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE order_reference = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, orderReference)
	return r.scanTransaction(row)
}

// FindOpenByOrderReference returns the transaction currently reserving the
// order reference, matching the predicate of the partial unique index.
func (r *TransactionRepository) FindOpenByOrderReference(ctx context.Context, orderReference string) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE order_reference = $1 AND state NOT IN ('FAILED', 'CANCELLED')
		 LIMIT 1`, orderReference)
	return r.scanTransaction(row)
}

// SwapState applies a compare-and-set state update. The WHERE clause guards
// on both state and version; zero rows affected means another writer won.
func (r *TransactionRepository) SwapState(ctx context.Context, swap ports.StateSwap) error {
	var refunded interface{}
	if swap.RefundedAmount != nil {
		n, err := decimalToNumeric(*swap.RefundedAmount)
		if err != nil {
			return err
		}
		refunded = n
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions SET
			state = $1,
			version = version + 1,
			gateway_payment_id = COALESCE($2, gateway_payment_id),
			error_code = COALESCE($3, error_code),
			error_message = COALESCE($4, error_message),
			refunded_amount = COALESCE($5, refunded_amount),
			updated_at = now()
		WHERE id = $6 AND state = $7 AND version = $8`,
		string(swap.ToState), nullText(swap.GatewayPaymentID),
		nullText(swap.ErrorCode), nullText(swap.ErrorMessage), refunded,
		swap.ID, string(swap.FromState), swap.FromVersion,
	)
	if err != nil {
		return fmt.Errorf("swap transaction state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrVersionConflict
	}
	return nil
}

// ListRecent returns up to limit transactions, newest first
func (r *TransactionRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 ORDER BY created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*domain.Transaction
	for rows.Next() {
		txn, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *TransactionRepository) scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		txn              domain.Transaction
		state            string
		amount, refunded pgtype.Numeric
		paymentID        pgtype.Text
		errCode          pgtype.Text
		errMsg           pgtype.Text
	)

	err := row.Scan(
		&txn.ID, &txn.OrderReference, &txn.ConversationID, &amount, &refunded,
		&txn.Currency, &state, &paymentID, &errCode, &errMsg,
		&txn.Version, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	txn.State = domain.TransactionState(state)
	if txn.Amount, err = numericToDecimal(amount); err != nil {
		return nil, err
	}
	if txn.RefundedAmount, err = numericToDecimal(refunded); err != nil {
		return nil, err
	}
	txn.GatewayPaymentID = textPtr(paymentID)
	txn.ErrorCode = textPtr(errCode)
	txn.ErrorMessage = textPtr(errMsg)

	return &txn, nil
}
