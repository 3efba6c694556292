package wallet

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestWallet(balance, pending, reserved string) *Wallet {
	return &Wallet{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Balance:         d(balance),
		PendingBalance:  d(pending),
		ReservedBalance: d(reserved),
		Currency:        "EUR",
		Active:          true,
		Version:         1,
	}
}

func TestNewWallet(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	userID := uuid.New()

	w, err := NewWallet(userID, "EUR", now)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, w.ID)
	assert.Equal(t, userID, w.UserID)
	assert.True(t, w.Balance.IsZero())
	assert.True(t, w.PendingBalance.IsZero())
	assert.True(t, w.ReservedBalance.IsZero())
	assert.True(t, w.Active)
	assert.Equal(t, 1, w.Version)
	assert.Equal(t, now, w.CreatedAt)

	_, err = NewWallet(userID, "EURO", now)
	assert.ErrorIs(t, err, ErrInvalidCurrencyFormat)
}

func TestWallet_AddAndDeductFunds(t *testing.T) {
	now := time.Now()

	t.Run("AddFunds", func(t *testing.T) {
		w := newTestWallet("10", "0", "0")
		require.NoError(t, w.AddFunds(d("5.25"), now))
		assert.True(t, d("15.25").Equal(w.Balance))
		assert.Equal(t, 2, w.Version)
		assert.Equal(t, now, w.UpdatedAt)
	})

	t.Run("RejectsNonPositiveAmount", func(t *testing.T) {
		w := newTestWallet("10", "0", "0")
		assert.ErrorIs(t, w.AddFunds(decimal.Zero, now), ErrInvalidAmount)
		assert.ErrorIs(t, w.DeductFunds(d("-1"), now), ErrInvalidAmount)
		assert.Equal(t, 1, w.Version)
	})

	t.Run("DeductFailsClosed", func(t *testing.T) {
		w := newTestWallet("10", "0", "0")
		assert.ErrorIs(t, w.DeductFunds(d("10.01"), now), ErrInsufficientFunds)
		assert.True(t, d("10").Equal(w.Balance), "no partial deduction")

		require.NoError(t, w.DeductFunds(d("10"), now))
		assert.True(t, w.Balance.IsZero())
	})

	t.Run("InactiveWallet", func(t *testing.T) {
		w := newTestWallet("10", "0", "0")
		w.Active = false
		assert.ErrorIs(t, w.AddFunds(d("1"), now), ErrWalletInactive)
	})
}

func TestWallet_ReleasePending(t *testing.T) {
	now := time.Now()

	t.Run("FullRelease", func(t *testing.T) {
		w := newTestWallet("0", "100", "0")
		moved, shortfall, err := w.ReleasePending(d("100"), now)
		require.NoError(t, err)
		assert.True(t, d("100").Equal(moved))
		assert.True(t, shortfall.IsZero())
		assert.True(t, d("100").Equal(w.Balance))
		assert.True(t, w.PendingBalance.IsZero())
		assert.True(t, d("100").Equal(w.ReservedBalance))
	})

	t.Run("ShortfallMovesWhatIsAvailable", func(t *testing.T) {
		w := newTestWallet("0", "40", "0")
		moved, shortfall, err := w.ReleasePending(d("100"), now)
		require.NoError(t, err)
		assert.True(t, d("40").Equal(moved))
		assert.True(t, d("60").Equal(shortfall))
		assert.True(t, w.PendingBalance.IsZero())
		assert.True(t, d("40").Equal(w.ReservedBalance))
		assert.True(t, d("40").Equal(w.Balance))
	})

	t.Run("NothingPending", func(t *testing.T) {
		w := newTestWallet("5", "0", "5")
		moved, shortfall, err := w.ReleasePending(d("10"), now)
		require.NoError(t, err)
		assert.True(t, moved.IsZero())
		assert.True(t, d("10").Equal(shortfall))
		assert.Equal(t, 1, w.Version)
	})
}

func TestWallet_ReversePending(t *testing.T) {
	w := newTestWallet("50", "30", "20")
	reversed, err := w.ReversePending(d("45"), time.Now())
	require.NoError(t, err)
	assert.True(t, d("30").Equal(reversed))
	assert.True(t, w.PendingBalance.IsZero())
	assert.True(t, d("50").Equal(w.Balance), "balance untouched")
	assert.True(t, d("20").Equal(w.ReservedBalance), "reserved untouched")
}

func TestWallet_ReserveAndRestore(t *testing.T) {
	now := time.Now()
	w := newTestWallet("100", "0", "80")

	assert.ErrorIs(t, w.Reserve(d("80.01"), now), ErrInsufficientFunds)
	require.NoError(t, w.Reserve(d("50"), now))
	assert.True(t, d("30").Equal(w.ReservedBalance))
	assert.True(t, d("100").Equal(w.Balance))

	require.NoError(t, w.RestoreReservation(d("50"), now))
	assert.True(t, d("80").Equal(w.ReservedBalance))
	assert.NoError(t, w.Validate())
}

func TestWallet_Validate(t *testing.T) {
	w := newTestWallet("1", "-0.01", "0")
	assert.ErrorIs(t, w.Validate(), ErrNegativeBalance)
}

func TestErrWalletNotFound_Is(t *testing.T) {
	id := uuid.New()
	err := error(ErrWalletNotFound{WalletID: id})
	assert.ErrorIs(t, err, ErrWalletNotFound{})
	assert.ErrorIs(t, err, ErrWalletNotFound{WalletID: id})
	assert.NotErrorIs(t, err, ErrWalletNotFound{WalletID: uuid.New()})
	assert.Contains(t, ErrWalletNotFound{UserID: id}.Error(), "for user")
}
