package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, type, status, amount, currency, wallet_id, sender_id, recipient_id, booking_id,
		provider_reference, provider_status, description, metadata, created_at, updated_at, processed_at`

// TransactionRepository implements the transaction.Repository interface for PostgreSQL
type TransactionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewTransactionRepository creates a new PostgreSQL transaction repository
func NewTransactionRepository(logger *slog.Logger, db *persistence.PostgresDB) transaction.Repository {
	return &TransactionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a copy bound to tx
func (r *TransactionRepository) WithTx(tx pgx.Tx) transaction.Repository {
	return &TransactionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func scanTransaction(row rowScanner) (*transaction.Transaction, error) {
	var t transaction.Transaction
	err := row.Scan(
		&t.ID,
		&t.Type,
		&t.Status,
		&t.Amount,
		&t.Currency,
		&t.WalletID,
		&t.SenderID,
		&t.RecipientID,
		&t.BookingID,
		&t.ProviderReference,
		&t.ProviderStatus,
		&t.Description,
		&t.Metadata,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	return &t, nil
}

// Create stores a new transaction
func (r *TransactionRepository) Create(ctx context.Context, t *transaction.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.querier.Exec(ctx, query,
		t.ID,
		t.Type,
		t.Status,
		t.Amount,
		t.Currency,
		t.WalletID,
		t.SenderID,
		t.RecipientID,
		t.BookingID,
		t.ProviderReference,
		t.ProviderStatus,
		t.Description,
		t.Metadata,
		t.CreatedAt,
		t.UpdatedAt,
		t.ProcessedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create transaction", "id", t.ID.String(), "error", err)
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by its ID
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	t, err := scanTransaction(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transaction.ErrTransactionNotFound{TransactionID: id}
		}
		r.logger.Error("Failed to get transaction", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// LockForUpdate obtains a row lock on the transaction
func (r *TransactionRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`

	t, err := scanTransaction(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transaction.ErrTransactionNotFound{TransactionID: id}
		}
		r.logger.Error("Failed to lock transaction", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to lock transaction: %w", err)
	}
	return t, nil
}

// LockByProviderReference obtains a row lock on the transaction carrying reference
func (r *TransactionRepository) LockByProviderReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE provider_reference = $1 FOR UPDATE`

	t, err := scanTransaction(r.querier.QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transaction.ErrTransactionNotFound{Reference: reference}
		}
		r.logger.Error("Failed to lock transaction by reference", "reference", reference, "error", err)
		return nil, fmt.Errorf("failed to lock transaction by reference: %w", err)
	}
	return t, nil
}

// Update persists the mutable fields. Type and amount are never written.
func (r *TransactionRepository) Update(ctx context.Context, t *transaction.Transaction) error {
	query := `
		UPDATE transactions
		SET status = $1, provider_reference = $2, provider_status = $3, description = $4,
			metadata = $5, updated_at = $6, processed_at = $7
		WHERE id = $8
	`

	result, err := r.querier.Exec(ctx, query,
		t.Status,
		t.ProviderReference,
		t.ProviderStatus,
		t.Description,
		t.Metadata,
		t.UpdatedAt,
		t.ProcessedAt,
		t.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update transaction", "id", t.ID.String(), "error", err)
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if result.RowsAffected() == 0 {
		return transaction.ErrTransactionNotFound{TransactionID: t.ID}
	}
	return nil
}

// SumCompletedRentalIncome totals the booking's COMPLETED rental income paid to recipientID
func (r *TransactionRepository) SumCompletedRentalIncome(ctx context.Context, bookingID, recipientID uuid.UUID) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE booking_id = $1 AND recipient_id = $2 AND type = $3 AND status = $4
	`

	var sum decimal.Decimal
	err := r.querier.QueryRow(ctx, query,
		bookingID,
		recipientID,
		shared.TransactionTypeRentalIncome,
		shared.TransactionStatusCompleted,
	).Scan(&sum)
	if err != nil {
		r.logger.Error("Failed to sum rental income", "booking_id", bookingID.String(), "error", err)
		return decimal.Zero, fmt.Errorf("failed to sum rental income: %w", err)
	}
	return sum, nil
}

// AvailableBalance is completed credits to the user minus withdrawals that are not failed
// or cancelled. A booking payment counts through the rental income it produced, a
// payment without a booking counts itself.
func (r *TransactionRepository) AvailableBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (
				WHERE recipient_id = $1 AND status = 'COMPLETED' AND (
					type IN ('RENTAL_INCOME', 'DEPOSIT', 'REFUND', 'TRANSFER')
					OR (type = 'PAYMENT' AND booking_id IS NULL)
				)
			), 0)
			- COALESCE(SUM(amount) FILTER (
				WHERE sender_id = $1 AND type = 'WITHDRAWAL' AND status IN ('PENDING', 'PROCESSING', 'CONFIRMED', 'COMPLETED')
			), 0)
		FROM transactions
		WHERE recipient_id = $1 OR sender_id = $1
	`

	var available decimal.Decimal
	if err := r.querier.QueryRow(ctx, query, userID).Scan(&available); err != nil {
		r.logger.Error("Failed to compute available balance", "user_id", userID.String(), "error", err)
		return decimal.Zero, fmt.Errorf("failed to compute available balance: %w", err)
	}
	return available, nil
}

// ListByUser returns a page of transactions sent or received by a user, newest first
func (r *TransactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list transactions", "user_id", userID.String(), "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*transaction.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txns, nil
}
