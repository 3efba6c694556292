package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rental-payments-ledger/internal/domain/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// anyArgs matches n positional arguments of any value
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var walletColumnNames = []string{"id", "user_id", "balance", "pending_balance", "reserved_balance", "currency", "is_active", "version", "created_at", "updated_at"}

func sampleWallet() *wallet.Wallet {
	now := time.Now().UTC()
	return &wallet.Wallet{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Balance:         decimal.NewFromInt(100),
		PendingBalance:  decimal.NewFromInt(40),
		ReservedBalance: decimal.NewFromInt(60),
		Currency:        "EUR",
		Active:          true,
		Version:         3,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func walletRow(w *wallet.Wallet) *pgxmock.Rows {
	return pgxmock.NewRows(walletColumnNames).
		AddRow(w.ID, w.UserID, w.Balance, w.PendingBalance, w.ReservedBalance, w.Currency, w.Active, w.Version, w.CreatedAt, w.UpdatedAt)
}

func TestWalletRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &WalletRepository{querier: mock, logger: newTestLogger()}
	w := sampleWallet()

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(`(?s)INSERT INTO wallets.+ON CONFLICT \(user_id\) DO NOTHING`).
			WithArgs(w.ID, w.UserID, w.Balance, w.PendingBalance, w.ReservedBalance, w.Currency, w.Active, w.Version, w.CreatedAt, w.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, repo.Create(ctx, w))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		expectedErr := errors.New("db error")
		mock.ExpectExec(`INSERT INTO wallets`).
			WithArgs(anyArgs(10)...).
			WillReturnError(expectedErr)

		err := repo.Create(ctx, w)
		assert.ErrorIs(t, err, expectedErr)
		assert.Contains(t, err.Error(), "failed to create wallet")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletRepository_LockForUpdate(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &WalletRepository{querier: mock, logger: newTestLogger()}
	w := sampleWallet()

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM wallets WHERE id = \$1 FOR UPDATE`).
			WithArgs(w.ID).
			WillReturnRows(walletRow(w))

		got, err := repo.LockForUpdate(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, w, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`FROM wallets WHERE id = \$1 FOR UPDATE`).
			WithArgs(w.ID).
			WillReturnError(pgx.ErrNoRows)

		got, err := repo.LockForUpdate(ctx, w.ID)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, wallet.ErrWalletNotFound{WalletID: w.ID})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletRepository_LockByUserID(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &WalletRepository{querier: mock, logger: newTestLogger()}
	w := sampleWallet()

	mock.ExpectQuery(`FROM wallets WHERE user_id = \$1 FOR UPDATE`).
		WithArgs(w.UserID).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.LockByUserID(ctx, w.UserID)
	var notFound wallet.ErrWalletNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, w.UserID, notFound.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepository_Update(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &WalletRepository{querier: mock, logger: newTestLogger()}
	w := sampleWallet()
	query := `UPDATE wallets\s+SET balance = \$1, pending_balance = \$2, reserved_balance = \$3`

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(w.Balance, w.PendingBalance, w.ReservedBalance, w.Active, w.Version, w.UpdatedAt, w.ID, w.Version-1).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, repo.Update(ctx, w))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(w.Balance, w.PendingBalance, w.ReservedBalance, w.Active, w.Version, w.UpdatedAt, w.ID, w.Version-1).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.Update(ctx, w)
		var conflict wallet.ErrConcurrentModification
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, w.ID, conflict.WalletID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletRepository_BookingMovements(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &WalletRepository{querier: mock, logger: newTestLogger()}
	m := &wallet.BookingMovement{
		WalletID:  uuid.New(),
		BookingID: uuid.New(),
		Kind:      wallet.MovementReleased,
		Amount:    decimal.NewFromInt(100),
		Shortfall: decimal.Zero,
		CreatedAt: time.Now().UTC(),
	}

	t.Run("none recorded", func(t *testing.T) {
		mock.ExpectQuery(`FROM booking_movements`).
			WithArgs(m.WalletID, m.BookingID).
			WillReturnError(pgx.ErrNoRows)

		got, err := repo.GetBookingMovement(ctx, m.WalletID, m.BookingID)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("recorded", func(t *testing.T) {
		mock.ExpectQuery(`FROM booking_movements`).
			WithArgs(m.WalletID, m.BookingID).
			WillReturnRows(pgxmock.NewRows([]string{"wallet_id", "booking_id", "kind", "amount", "shortfall", "created_at"}).
				AddRow(m.WalletID, m.BookingID, m.Kind, m.Amount, m.Shortfall, m.CreatedAt))

		got, err := repo.GetBookingMovement(ctx, m.WalletID, m.BookingID)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	})

	t.Run("create", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO booking_movements`).
			WithArgs(m.WalletID, m.BookingID, m.Kind, m.Amount, m.Shortfall, m.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, repo.CreateBookingMovement(ctx, m))
	})

	t.Run("duplicate", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO booking_movements`).
			WithArgs(m.WalletID, m.BookingID, m.Kind, m.Amount, m.Shortfall, m.CreatedAt).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := repo.CreateBookingMovement(ctx, m)
		var dup wallet.ErrDuplicateMovement
		assert.ErrorAs(t, err, &dup)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
