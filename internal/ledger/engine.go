// Package ledger is the wallet engine. It owns every movement of money between the
// three wallet tiers and the withdrawal reservation, and mirrors each committed
// mutation into the journal.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rental-payments-ledger/internal/config"
	"github.com/rental-payments-ledger/internal/domain/journal"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/domain/wallet"
	"github.com/rental-payments-ledger/internal/platform/clock"
	"github.com/rental-payments-ledger/internal/platform/metrics"
	"github.com/rental-payments-ledger/internal/platform/persistence"
)

var (
	ErrBelowMinimum                 = errors.New("withdrawal amount is below the minimum")
	ErrInsufficientAvailableBalance = errors.New("insufficient available balance")
	ErrCurrencyMismatch             = errors.New("currency does not match the wallet currency")
	ErrNotWithdrawal                = errors.New("transaction is not a withdrawal")
)

// MetaPaymentTransaction links a rental income credit to the payment that produced it
const MetaPaymentTransaction = "payment_transaction_id"

// Engine applies ledger operations as row-locked read-modify-write transactions
type Engine struct {
	db                persistence.TxRunner
	wallets           wallet.Repository
	transactions      transaction.Repository
	journal           journal.Repository
	notifier          shared.Notifier
	minimumWithdrawal decimal.Decimal
	defaultCurrency   string
	clock             clock.Clock
	metrics           *metrics.Metrics
	logger            *slog.Logger
}

func NewEngine(
	logger *slog.Logger,
	db persistence.TxRunner,
	wallets wallet.Repository,
	transactions transaction.Repository,
	journalRepo journal.Repository,
	notifier shared.Notifier,
	cfg config.WithdrawalConfig,
	m *metrics.Metrics,
	clk clock.Clock,
) *Engine {
	return &Engine{
		db:                db,
		wallets:           wallets,
		transactions:      transactions,
		journal:           journalRepo,
		notifier:          notifier,
		minimumWithdrawal: cfg.MinimumAmount,
		defaultCurrency:   strings.ToUpper(cfg.DefaultCurrency),
		clock:             clk,
		metrics:           m,
		logger:            logger.With("component", "ledger"),
	}
}

// MinimumWithdrawal is the smallest amount CreateWithdrawal accepts
func (e *Engine) MinimumWithdrawal() decimal.Decimal {
	return e.minimumWithdrawal
}

func snapshot(w *wallet.Wallet) journal.Snapshot {
	return journal.Snapshot{
		WalletID:        w.ID,
		UserID:          w.UserID,
		Balance:         w.Balance,
		PendingBalance:  w.PendingBalance,
		ReservedBalance: w.ReservedBalance,
	}
}

// Record appends committed entries to the journal. The journal is an audit mirror:
// a failed append is logged and never undoes the ledger mutation.
func (e *Engine) Record(ctx context.Context, entries ...*journal.Entry) {
	if len(entries) == 0 || e.journal == nil {
		return
	}
	if err := e.journal.Append(ctx, entries...); err != nil {
		e.logger.Error("Failed to record journal entries", "count", len(entries), "error", err)
	}
}

// mutate locks the wallet, applies fn and persists the result in one transaction
func (e *Engine) mutate(ctx context.Context, op journal.Operation, walletID uuid.UUID, amount decimal.Decimal,
	fn func(w *wallet.Wallet, now time.Time) error) (*wallet.Wallet, error) {
	var (
		updated *wallet.Wallet
		entry   *journal.Entry
	)

	err := e.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		wallets := e.wallets.WithTx(tx)

		w, err := wallets.LockForUpdate(ctx, walletID)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		if err := fn(w, now); err != nil {
			return err
		}
		if err := w.Validate(); err != nil {
			return err
		}
		if err := wallets.Update(ctx, w); err != nil {
			return err
		}

		updated = w
		entry = journal.NewEntry(op, amount, snapshot(w), now)
		return nil
	})
	e.metrics.ObserveLedgerOperation(string(op), err)
	if err != nil {
		e.logger.Warn("Ledger operation rejected", "operation", op, "wallet_id", walletID.String(), "amount", amount.String(), "error", err)
		return nil, err
	}

	e.Record(ctx, entry)
	e.logger.Info("Ledger operation applied", "operation", op, "wallet_id", walletID.String(), "amount", amount.String())
	return updated, nil
}

// AddFunds increments the lifetime balance
func (e *Engine) AddFunds(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (*wallet.Wallet, error) {
	return e.mutate(ctx, journal.OperationAddFunds, walletID, amount, func(w *wallet.Wallet, now time.Time) error {
		return w.AddFunds(amount, now)
	})
}

// DeductFunds decrements the lifetime balance and fails closed on insufficient funds
func (e *Engine) DeductFunds(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (*wallet.Wallet, error) {
	return e.mutate(ctx, journal.OperationDeductFunds, walletID, amount, func(w *wallet.Wallet, now time.Time) error {
		return w.DeductFunds(amount, now)
	})
}

// AddPendingFunds holds income until its booking confirms
func (e *Engine) AddPendingFunds(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (*wallet.Wallet, error) {
	return e.mutate(ctx, journal.OperationAddPending, walletID, amount, func(w *wallet.Wallet, now time.Time) error {
		return w.AddPendingFunds(amount, now)
	})
}

// MovementResult describes what a booking release or reversal did
type MovementResult struct {
	Wallet    *wallet.Wallet
	Movement  *wallet.BookingMovement
	Requested decimal.Decimal
	Applied   bool // false when the booking was already settled or has no completed income yet
}

// TransferPendingToAvailable releases a booking's completed rental income from the
// pending tier into both the withdrawable tier and the lifetime balance. When the
// pending tier cannot cover the income it moves what is there and records the shortfall.
func (e *Engine) TransferPendingToAvailable(ctx context.Context, walletID, bookingID uuid.UUID) (*MovementResult, error) {
	return e.moveBooking(ctx, walletID, bookingID, wallet.MovementReleased)
}

// WithdrawPendingFunds reverses a cancelled booking's pending income. Only the
// pending tier is touched. A booking already released or reversed is left alone.
func (e *Engine) WithdrawPendingFunds(ctx context.Context, walletID, bookingID uuid.UUID) (*MovementResult, error) {
	return e.moveBooking(ctx, walletID, bookingID, wallet.MovementReversed)
}

func (e *Engine) moveBooking(ctx context.Context, walletID, bookingID uuid.UUID, kind wallet.MovementKind) (*MovementResult, error) {
	op := journal.OperationReleasePending
	if kind == wallet.MovementReversed {
		op = journal.OperationReversePending
	}
	logger := e.logger.With("wallet_id", walletID.String(), "booking_id", bookingID.String(), "operation", op)

	result := &MovementResult{}
	var entry *journal.Entry

	err := e.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		wallets := e.wallets.WithTx(tx)

		w, err := wallets.LockForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		result.Wallet = w

		existing, err := wallets.GetBookingMovement(ctx, walletID, bookingID)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Movement = existing
			return nil
		}

		income, err := e.transactions.WithTx(tx).SumCompletedRentalIncome(ctx, bookingID, w.UserID)
		if err != nil {
			return err
		}
		result.Requested = income
		if !income.IsPositive() {
			// no movement is stored so income from a payment completing later can still be released
			return nil
		}

		now := e.clock.Now()
		movement := &wallet.BookingMovement{
			WalletID:  walletID,
			BookingID: bookingID,
			Kind:      kind,
			Amount:    decimal.Zero,
			Shortfall: decimal.Zero,
			CreatedAt: now,
		}

		switch kind {
		case wallet.MovementReleased:
			moved, shortfall, err := w.ReleasePending(income, now)
			if err != nil {
				return err
			}
			movement.Amount, movement.Shortfall = moved, shortfall
		case wallet.MovementReversed:
			reversed, err := w.ReversePending(income, now)
			if err != nil {
				return err
			}
			movement.Amount, movement.Shortfall = reversed, income.Sub(reversed)
		}

		if movement.Amount.IsPositive() {
			if err := w.Validate(); err != nil {
				return err
			}
			if err := wallets.Update(ctx, w); err != nil {
				return err
			}
			entry = journal.NewEntry(op, movement.Amount, snapshot(w), now)
			entry.BookingID = &bookingID
		}

		if err := wallets.CreateBookingMovement(ctx, movement); err != nil {
			return err
		}

		result.Movement = movement
		result.Applied = true
		return nil
	})
	e.metrics.ObserveLedgerOperation(string(op), err)
	if err != nil {
		var dup wallet.ErrDuplicateMovement
		if errors.As(err, &dup) {
			logger.Info("Booking movement already recorded by a concurrent writer")
			return &MovementResult{Applied: false}, nil
		}
		logger.Error("Failed to move booking funds", "error", err)
		return nil, fmt.Errorf("failed to apply %s for booking %s: %w", strings.ToLower(string(op)), bookingID, err)
	}

	if !result.Applied {
		if result.Movement == nil {
			logger.Info("Booking has no completed rental income yet, nothing to move")
			return result, nil
		}
		logger.Info("Booking already settled, skipping", "existing_kind", result.Movement.Kind)
		return result, nil
	}

	if result.Movement.Shortfall.IsPositive() {
		logger.Warn("Pending balance did not cover booking income",
			"requested", result.Requested.String(),
			"moved", result.Movement.Amount.String(),
			"shortfall", result.Movement.Shortfall.String())
	}

	if entry != nil {
		e.Record(ctx, entry)
	}
	logger.Info("Booking funds moved", "amount", result.Movement.Amount.String())
	return result, nil
}

// WithdrawalRequest is a validated request to pay out withdrawable funds
type WithdrawalRequest struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Method      shared.WithdrawalMethod
	Description string
	Metadata    map[string]string
}

// CreateWithdrawal checks the minimum and the available balance, reserves the amount
// under the wallet lock and creates a PENDING withdrawal paid from and to the user.
func (e *Engine) CreateWithdrawal(ctx context.Context, req WithdrawalRequest) (*transaction.Transaction, error) {
	logger := e.logger.With("user_id", req.UserID.String(), "amount", req.Amount.String())

	if !req.Amount.IsPositive() {
		return nil, wallet.ErrInvalidAmount
	}
	if req.Amount.LessThan(e.minimumWithdrawal) {
		return nil, fmt.Errorf("%w: minimum is %s", ErrBelowMinimum, e.minimumWithdrawal.StringFixed(2))
	}

	var (
		created *transaction.Transaction
		entry   *journal.Entry
	)
	err := e.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		wallets := e.wallets.WithTx(tx)
		transactions := e.transactions.WithTx(tx)

		w, err := wallets.LockByUserID(ctx, req.UserID)
		if err != nil {
			return err
		}

		walletCurrency := w.Currency
		if walletCurrency == "" {
			walletCurrency = e.defaultCurrency
		}
		currency := strings.ToUpper(req.Currency)
		if currency == "" {
			currency = walletCurrency
		}
		if currency != walletCurrency {
			return fmt.Errorf("%w: %s != %s", ErrCurrencyMismatch, currency, walletCurrency)
		}

		history, err := transactions.AvailableBalance(ctx, req.UserID)
		if err != nil {
			return err
		}
		available := decimal.Min(history, w.ReservedBalance)
		if available.LessThan(req.Amount) {
			logger.Warn("Withdrawal exceeds available balance", "available", available.String())
			return ErrInsufficientAvailableBalance
		}

		now := e.clock.Now()
		if err := w.Reserve(req.Amount, now); err != nil {
			return err
		}
		if err := wallets.Update(ctx, w); err != nil {
			return err
		}

		txn, err := transaction.New(shared.TransactionTypeWithdrawal, req.Amount, currency, now)
		if err != nil {
			return err
		}
		txn.WalletID = &w.ID
		txn.SenderID = &req.UserID
		txn.RecipientID = &req.UserID
		txn.Description = req.Description
		for k, v := range req.Metadata {
			txn.SetMeta(k, v)
		}
		if req.Method != "" {
			txn.SetMeta(shared.MetaRail, string(req.Method))
		}
		if err := transactions.Create(ctx, txn); err != nil {
			return err
		}

		created = txn
		entry = journal.NewEntry(journal.OperationReserveWithdrawal, req.Amount, snapshot(w), now)
		entry.TransactionID = &txn.ID
		return nil
	})
	e.metrics.ObserveLedgerOperation(string(journal.OperationReserveWithdrawal), err)
	if err != nil {
		if errors.Is(err, ErrInsufficientAvailableBalance) || errors.Is(err, ErrCurrencyMismatch) ||
			errors.Is(err, wallet.ErrWalletNotFound{}) || errors.Is(err, wallet.ErrWalletInactive) {
			return nil, err
		}
		logger.Error("Failed to create withdrawal", "error", err)
		return nil, fmt.Errorf("failed to create withdrawal: %w", err)
	}

	e.Record(ctx, entry)
	logger.Info("Withdrawal created", "transaction_id", created.ID.String())
	return created, nil
}

// UpdateWithdrawal locks a withdrawal, applies fn and persists it. A withdrawal that
// fn moves to FAILED or CANCELLED gives its reservation back in the same transaction.
func (e *Engine) UpdateWithdrawal(ctx context.Context, id uuid.UUID,
	fn func(txn *transaction.Transaction, now time.Time) error) (*transaction.Transaction, error) {
	var (
		updated *transaction.Transaction
		entries []*journal.Entry
	)

	err := e.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		transactions := e.transactions.WithTx(tx)

		txn, err := transactions.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if txn.Type != shared.TransactionTypeWithdrawal {
			return ErrNotWithdrawal
		}

		before := txn.Status
		now := e.clock.Now()
		if err := fn(txn, now); err != nil {
			return err
		}
		if err := transactions.Update(ctx, txn); err != nil {
			return err
		}

		if !before.IsTerminal() && releasesReservation(txn.Status) {
			entries, err = e.RestoreReservationTx(ctx, tx, txn)
			if err != nil {
				return err
			}
		}

		updated = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Record(ctx, entries...)
	return updated, nil
}

func releasesReservation(status shared.TransactionStatus) bool {
	return status == shared.TransactionStatusFailed || status == shared.TransactionStatusCancelled
}

// RestoreReservationTx returns a failed or cancelled withdrawal's amount to the
// sender's withdrawable tier inside the caller's transaction. The returned entries
// must be recorded after commit.
func (e *Engine) RestoreReservationTx(ctx context.Context, tx pgx.Tx, txn *transaction.Transaction) ([]*journal.Entry, error) {
	if txn.Type != shared.TransactionTypeWithdrawal {
		return nil, ErrNotWithdrawal
	}

	wallets := e.wallets.WithTx(tx)
	var (
		w   *wallet.Wallet
		err error
	)
	switch {
	case txn.WalletID != nil:
		w, err = wallets.LockForUpdate(ctx, *txn.WalletID)
	case txn.SenderID != nil:
		w, err = wallets.LockByUserID(ctx, *txn.SenderID)
	default:
		return nil, fmt.Errorf("withdrawal %s has no wallet", txn.ID)
	}
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	if err := w.RestoreReservation(txn.Amount, now); err != nil {
		return nil, err
	}
	if err := wallets.Update(ctx, w); err != nil {
		return nil, err
	}
	e.metrics.ObserveLedgerOperation(string(journal.OperationRestoreReservation), nil)

	entry := journal.NewEntry(journal.OperationRestoreReservation, txn.Amount, snapshot(w), now)
	entry.TransactionID = &txn.ID
	entry.Note = string(txn.Status)
	return []*journal.Entry{entry}, nil
}

// CreditPaymentTx credits a completed payment to its recipient inside the caller's
// transaction. Booking payments become COMPLETED rental income held in the pending
// tier until the booking completes. Income for a booking that was already released
// goes straight to the withdrawable tier; income for a reversed booking is not
// credited and an operator is notified. Other payments are immediately withdrawable.
func (e *Engine) CreditPaymentTx(ctx context.Context, tx pgx.Tx, payment *transaction.Transaction) ([]*journal.Entry, error) {
	if payment.RecipientID == nil {
		e.logger.Info("Payment has no recipient, nothing to credit", "transaction_id", payment.ID.String())
		return nil, nil
	}

	wallets := e.wallets.WithTx(tx)
	w, err := wallets.LockByUserID(ctx, *payment.RecipientID)
	if err != nil {
		return nil, err
	}
	if payment.Currency != w.Currency {
		return nil, fmt.Errorf("%w: %s != %s", ErrCurrencyMismatch, payment.Currency, w.Currency)
	}

	now := e.clock.Now()
	op := journal.OperationCreditAvailable
	creditedTxID := payment.ID

	if payment.BookingID != nil {
		movement, err := wallets.GetBookingMovement(ctx, w.ID, *payment.BookingID)
		if err != nil {
			return nil, err
		}
		if movement != nil && movement.Kind == wallet.MovementReversed {
			e.notifyReversedBookingPayment(ctx, payment, now)
			return nil, nil
		}

		if payment.Type != shared.TransactionTypeRentalIncome {
			income, err := e.recordRentalIncome(ctx, tx, payment, w, now)
			if err != nil {
				return nil, err
			}
			creditedTxID = income.ID
		}
		if movement == nil {
			op = journal.OperationAddPending
		}
	}

	if op == journal.OperationAddPending {
		err = w.AddPendingFunds(payment.Amount, now)
	} else {
		err = w.CreditAvailable(payment.Amount, now)
	}
	if err != nil {
		return nil, err
	}
	if err := wallets.Update(ctx, w); err != nil {
		return nil, err
	}
	e.metrics.ObserveLedgerOperation(string(op), nil)

	entry := journal.NewEntry(op, payment.Amount, snapshot(w), now)
	entry.TransactionID = &creditedTxID
	entry.BookingID = payment.BookingID
	return []*journal.Entry{entry}, nil
}

func (e *Engine) notifyReversedBookingPayment(ctx context.Context, payment *transaction.Transaction, now time.Time) {
	e.logger.Warn("Payment completed for a cancelled booking, income not credited",
		"transaction_id", payment.ID.String(),
		"booking_id", payment.BookingID.String(),
		"amount", payment.Amount.String())
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, shared.NewNotification(
		"Payment for cancelled booking",
		fmt.Sprintf("Payment %s of %s %s completed after its booking was cancelled; it was not credited and needs a refund.",
			payment.ID, payment.Amount.StringFixed(2), payment.Currency),
		shared.SeverityHigh,
		shared.CategoryLedger,
		now,
	).With("transaction_id", payment.ID.String()).With("booking_id", payment.BookingID.String()))
}

func (e *Engine) recordRentalIncome(ctx context.Context, tx pgx.Tx, payment *transaction.Transaction, w *wallet.Wallet, now time.Time) (*transaction.Transaction, error) {
	income, err := transaction.New(shared.TransactionTypeRentalIncome, payment.Amount, payment.Currency, now)
	if err != nil {
		return nil, err
	}
	income.WalletID = &w.ID
	income.SenderID = payment.SenderID
	income.RecipientID = payment.RecipientID
	income.BookingID = payment.BookingID
	income.Description = "rental income"
	income.SetMeta(MetaPaymentTransaction, payment.ID.String())
	if _, err := income.TransitionTo(shared.TransactionStatusCompleted, now); err != nil {
		return nil, err
	}

	if err := e.transactions.WithTx(tx).Create(ctx, income); err != nil {
		return nil, err
	}
	return income, nil
}
