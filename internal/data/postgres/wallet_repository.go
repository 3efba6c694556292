// Package postgres provides PostgreSQL implementations of the domain repositories.
// Balance mutations run inside caller-owned transactions via WithTx and rely on
// row locks plus an optimistic version column.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rental-payments-ledger/internal/domain/wallet"
	"github.com/rental-payments-ledger/internal/platform/persistence"
)

const walletColumns = `id, user_id, balance, pending_balance, reserved_balance, currency, is_active, version, created_at, updated_at`

// WalletRepository implements the wallet.Repository interface for PostgreSQL
type WalletRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewWalletRepository creates a new PostgreSQL wallet repository
func NewWalletRepository(logger *slog.Logger, db *persistence.PostgresDB) wallet.Repository {
	return &WalletRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a copy bound to tx
func (r *WalletRepository) WithTx(tx pgx.Tx) wallet.Repository {
	return &WalletRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func scanWallet(row rowScanner) (*wallet.Wallet, error) {
	var w wallet.Wallet
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Balance,
		&w.PendingBalance,
		&w.ReservedBalance,
		&w.Currency,
		&w.Active,
		&w.Version,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Create inserts a wallet. A second wallet for the same user is silently ignored,
// so concurrent first credits converge on one row.
func (r *WalletRepository) Create(ctx context.Context, w *wallet.Wallet) error {
	query := `
		INSERT INTO wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO NOTHING
	`

	_, err := r.querier.Exec(ctx, query,
		w.ID,
		w.UserID,
		w.Balance,
		w.PendingBalance,
		w.ReservedBalance,
		w.Currency,
		w.Active,
		w.Version,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create wallet", "user_id", w.UserID.String(), "error", err)
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

// GetByID retrieves a wallet by its ID
func (r *WalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`

	w, err := scanWallet(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound{WalletID: id}
		}
		r.logger.Error("Failed to get wallet", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// GetByUserID retrieves the wallet of a user
func (r *WalletRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*wallet.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`

	w, err := scanWallet(r.querier.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound{UserID: userID}
		}
		r.logger.Error("Failed to get wallet by user", "user_id", userID.String(), "error", err)
		return nil, fmt.Errorf("failed to get wallet by user: %w", err)
	}
	return w, nil
}

// Update writes all balance fields. The caller has already bumped Version;
// the row must still carry the previous one.
func (r *WalletRepository) Update(ctx context.Context, w *wallet.Wallet) error {
	query := `
		UPDATE wallets
		SET balance = $1, pending_balance = $2, reserved_balance = $3, is_active = $4, version = $5, updated_at = $6
		WHERE id = $7 AND version = $8
	`

	result, err := r.querier.Exec(ctx, query,
		w.Balance,
		w.PendingBalance,
		w.ReservedBalance,
		w.Active,
		w.Version,
		w.UpdatedAt,
		w.ID,
		w.Version-1,
	)
	if err != nil {
		r.logger.Error("Failed to update wallet", "id", w.ID.String(), "error", err)
		return fmt.Errorf("failed to update wallet: %w", err)
	}

	if result.RowsAffected() == 0 {
		return wallet.ErrConcurrentModification{WalletID: w.ID}
	}

	return nil
}

// LockForUpdate obtains a row lock on the wallet and returns its current state
func (r *WalletRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`

	w, err := scanWallet(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound{WalletID: id}
		}
		r.logger.Error("Failed to lock wallet for update", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to lock wallet for update: %w", err)
	}
	return w, nil
}

// LockByUserID obtains a row lock on the wallet of a user
func (r *WalletRepository) LockByUserID(ctx context.Context, userID uuid.UUID) (*wallet.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`

	w, err := scanWallet(r.querier.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound{UserID: userID}
		}
		r.logger.Error("Failed to lock wallet by user", "user_id", userID.String(), "error", err)
		return nil, fmt.Errorf("failed to lock wallet by user: %w", err)
	}
	return w, nil
}

// GetBookingMovement returns nil, nil when the booking has not been released or reversed
func (r *WalletRepository) GetBookingMovement(ctx context.Context, walletID, bookingID uuid.UUID) (*wallet.BookingMovement, error) {
	query := `
		SELECT wallet_id, booking_id, kind, amount, shortfall, created_at
		FROM booking_movements
		WHERE wallet_id = $1 AND booking_id = $2
	`

	var m wallet.BookingMovement
	err := r.querier.QueryRow(ctx, query, walletID, bookingID).Scan(
		&m.WalletID,
		&m.BookingID,
		&m.Kind,
		&m.Amount,
		&m.Shortfall,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get booking movement",
			"wallet_id", walletID.String(),
			"booking_id", bookingID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get booking movement: %w", err)
	}
	return &m, nil
}

// CreateBookingMovement records a release or reversal; the (wallet, booking) pair is unique
func (r *WalletRepository) CreateBookingMovement(ctx context.Context, m *wallet.BookingMovement) error {
	query := `
		INSERT INTO booking_movements (wallet_id, booking_id, kind, amount, shortfall, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.querier.Exec(ctx, query, m.WalletID, m.BookingID, m.Kind, m.Amount, m.Shortfall, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return wallet.ErrDuplicateMovement{WalletID: m.WalletID, BookingID: m.BookingID}
		}
		r.logger.Error("Failed to create booking movement",
			"wallet_id", m.WalletID.String(),
			"booking_id", m.BookingID.String(),
			"error", err)
		return fmt.Errorf("failed to create booking movement: %w", err)
	}
	return nil
}
