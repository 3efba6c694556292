// Package wallet models the three-tier user wallet: lifetime balance, pending income
// awaiting booking confirmation, and reserved funds available for withdrawal.
package wallet

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Common errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInvalidCurrencyFormat = errors.New("currency must be a 3-letter code")
	ErrWalletInactive        = errors.New("wallet is inactive")
	ErrNegativeBalance       = errors.New("wallet balances must not be negative")
)

// Wallet holds one user's balances. All amounts are in the wallet currency.
type Wallet struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Balance         decimal.Decimal `json:"balance"`          // cumulative lifetime earnings
	PendingBalance  decimal.Decimal `json:"pending_balance"`  // held until the booking confirms
	ReservedBalance decimal.Decimal `json:"reserved_balance"` // available for withdrawal
	Currency        string          `json:"currency"`
	Active          bool            `json:"active"`
	Version         int             `json:"version"` // For optimistic locking
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewWallet creates an empty active wallet for a user
func NewWallet(userID uuid.UUID, currency string, now time.Time) (*Wallet, error) {
	if len(currency) != 3 {
		return nil, ErrInvalidCurrencyFormat
	}
	return &Wallet{
		ID:              uuid.New(),
		UserID:          userID,
		Balance:         decimal.Zero,
		PendingBalance:  decimal.Zero,
		ReservedBalance: decimal.Zero,
		Currency:        currency,
		Active:          true,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// AddFunds increments the lifetime balance
func (w *Wallet) AddFunds(amount decimal.Decimal, now time.Time) error {
	if err := w.checkMutable(amount); err != nil {
		return err
	}
	w.Balance = w.Balance.Add(amount)
	w.touch(now)
	return nil
}

// DeductFunds decrements the lifetime balance. It fails without partial effect
// when the balance does not cover the amount.
func (w *Wallet) DeductFunds(amount decimal.Decimal, now time.Time) error {
	if err := w.checkMutable(amount); err != nil {
		return err
	}
	if w.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	w.Balance = w.Balance.Sub(amount)
	w.touch(now)
	return nil
}

// CreditAvailable adds settled income that is immediately withdrawable
func (w *Wallet) CreditAvailable(amount decimal.Decimal, now time.Time) error {
	if err := w.checkMutable(amount); err != nil {
		return err
	}
	w.Balance = w.Balance.Add(amount)
	w.ReservedBalance = w.ReservedBalance.Add(amount)
	w.touch(now)
	return nil
}

// AddPendingFunds increments only the pending tier
func (w *Wallet) AddPendingFunds(amount decimal.Decimal, now time.Time) error {
	if err := w.checkMutable(amount); err != nil {
		return err
	}
	w.PendingBalance = w.PendingBalance.Add(amount)
	w.touch(now)
	return nil
}

// ReleasePending moves up to amount from pending into both reserved and balance.
// When pending cannot cover amount it moves what is there and reports the shortfall.
func (w *Wallet) ReleasePending(amount decimal.Decimal, now time.Time) (moved, shortfall decimal.Decimal, err error) {
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrInvalidAmount
	}
	moved = decimal.Min(w.PendingBalance, amount)
	if moved.IsNegative() {
		moved = decimal.Zero
	}
	shortfall = amount.Sub(moved)
	if moved.IsPositive() {
		w.PendingBalance = w.PendingBalance.Sub(moved)
		w.ReservedBalance = w.ReservedBalance.Add(moved)
		w.Balance = w.Balance.Add(moved)
		w.touch(now)
	}
	return moved, shortfall, nil
}

// ReversePending removes up to amount from the pending tier only
func (w *Wallet) ReversePending(amount decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	reversed := decimal.Min(w.PendingBalance, amount)
	if reversed.IsPositive() {
		w.PendingBalance = w.PendingBalance.Sub(reversed)
		w.touch(now)
	} else {
		reversed = decimal.Zero
	}
	return reversed, nil
}

// Reserve takes a withdrawal amount out of the withdrawable tier
func (w *Wallet) Reserve(amount decimal.Decimal, now time.Time) error {
	if err := w.checkMutable(amount); err != nil {
		return err
	}
	if w.ReservedBalance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	w.ReservedBalance = w.ReservedBalance.Sub(amount)
	w.touch(now)
	return nil
}

// RestoreReservation returns the amount of a failed withdrawal to the withdrawable tier
func (w *Wallet) RestoreReservation(amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	w.ReservedBalance = w.ReservedBalance.Add(amount)
	w.touch(now)
	return nil
}

// Validate checks that no tier is negative
func (w *Wallet) Validate() error {
	if w.Balance.IsNegative() || w.PendingBalance.IsNegative() || w.ReservedBalance.IsNegative() {
		return ErrNegativeBalance
	}
	return nil
}

func (w *Wallet) checkMutable(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !w.Active {
		return ErrWalletInactive
	}
	return nil
}

func (w *Wallet) touch(now time.Time) {
	w.UpdatedAt = now
	w.Version++
}
