package journal

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists journal entries with pagination support
type Repository interface {
	Append(ctx context.Context, entries ...*Entry) error
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*Entry, error)
	CountByWallet(ctx context.Context, walletID uuid.UUID) (int64, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*Entry, error)
}
