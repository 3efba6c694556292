package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// MovementKind records how a booking's pending income left the pending tier
type MovementKind string

const (
	MovementReleased MovementKind = "RELEASED"
	MovementReversed MovementKind = "REVERSED"
)

// BookingMovement is the per-wallet, per-booking record of a pending release or reversal.
// At most one exists for a (wallet, booking) pair.
type BookingMovement struct {
	WalletID  uuid.UUID       `json:"wallet_id"`
	BookingID uuid.UUID       `json:"booking_id"`
	Kind      MovementKind    `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Shortfall decimal.Decimal `json:"shortfall"`
	CreatedAt time.Time       `json:"created_at"`
}

// Repository defines wallet persistence operations
type Repository interface {
	Create(ctx context.Context, wallet *Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*Wallet, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Wallet, error)

	// Update persists all balance fields, guarded by the previous version
	Update(ctx context.Context, wallet *Wallet) error

	// LockForUpdate and LockByUserID take a row lock for the current transaction
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Wallet, error)
	LockByUserID(ctx context.Context, userID uuid.UUID) (*Wallet, error)

	GetBookingMovement(ctx context.Context, walletID, bookingID uuid.UUID) (*BookingMovement, error)
	CreateBookingMovement(ctx context.Context, movement *BookingMovement) error

	WithTx(tx pgx.Tx) Repository
}

// ErrConcurrentModification indicates optimistic lock failure
type ErrConcurrentModification struct {
	WalletID uuid.UUID
}

func (e ErrConcurrentModification) Error() string {
	return "concurrent modification detected for wallet: " + e.WalletID.String()
}

// ErrWalletNotFound indicates a missing wallet, looked up by wallet or user id
type ErrWalletNotFound struct {
	WalletID uuid.UUID
	UserID   uuid.UUID
}

func (e ErrWalletNotFound) Error() string {
	if e.WalletID == uuid.Nil && e.UserID != uuid.Nil {
		return "wallet not found for user: " + e.UserID.String()
	}
	return "wallet not found: " + e.WalletID.String()
}

// Is matches any ErrWalletNotFound when the target carries no ids
func (e ErrWalletNotFound) Is(target error) bool {
	t, ok := target.(ErrWalletNotFound)
	if !ok {
		return false
	}
	if t.WalletID == uuid.Nil && t.UserID == uuid.Nil {
		return true
	}
	return e.WalletID == t.WalletID && e.UserID == t.UserID
}

// ErrDuplicateMovement indicates the booking was already released or reversed
type ErrDuplicateMovement struct {
	WalletID  uuid.UUID
	BookingID uuid.UUID
}

func (e ErrDuplicateMovement) Error() string {
	return "booking movement already recorded: wallet " + e.WalletID.String() + ", booking " + e.BookingID.String()
}
