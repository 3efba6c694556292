package transaction

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Repository defines transaction persistence operations
type Repository interface {
	Create(ctx context.Context, txn *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// LockForUpdate and LockByProviderReference take a row lock for the current transaction
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Transaction, error)
	LockByProviderReference(ctx context.Context, reference string) (*Transaction, error)

	// Update persists the mutable fields: status, provider mirror, description, metadata
	Update(ctx context.Context, txn *Transaction) error

	// SumCompletedRentalIncome totals COMPLETED rental-income credited to recipientID for a booking
	SumCompletedRentalIncome(ctx context.Context, bookingID, recipientID uuid.UUID) (decimal.Decimal, error)

	// AvailableBalance derives a user's withdrawable amount from transaction history
	AvailableBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)

	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Transaction, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrTransactionNotFound indicates a missing transaction, by id or provider reference
type ErrTransactionNotFound struct {
	TransactionID uuid.UUID
	Reference     string
}

func (e ErrTransactionNotFound) Error() string {
	if e.Reference != "" {
		return "transaction not found for provider reference: " + e.Reference
	}
	return "transaction not found: " + e.TransactionID.String()
}

// Is matches any ErrTransactionNotFound when the target is zero
func (e ErrTransactionNotFound) Is(target error) bool {
	t, ok := target.(ErrTransactionNotFound)
	if !ok {
		return false
	}
	if t.TransactionID == uuid.Nil && t.Reference == "" {
		return true
	}
	return e == t
}
