package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rental-payments-ledger/internal/domain/journal"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/domain/wallet"
	"github.com/rental-payments-ledger/internal/reconciliation"
	"github.com/rental-payments-ledger/internal/withdrawal"
)

// WebhookService accepts signed provider deliveries
type WebhookService interface {
	// Receive runs the intake pipeline. A nil error with Outcome.Duplicate set means
	// the event was seen before and nothing happened.
	Receive(ctx context.Context, delivery reconciliation.Delivery) (*reconciliation.Outcome, error)
}

// CreateWithdrawalInput is a withdrawal request as accepted by the API
type CreateWithdrawalInput struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Method      shared.WithdrawalMethod
	Details     withdrawal.BankDetails
	Description string
}

// WithdrawalService creates and re-drives payouts
type WithdrawalService interface {
	// CreateWithdrawal validates the destination, reserves the amount and routes the payout.
	// Returns withdrawal.ErrTransferFailed when the payout was refused.
	CreateWithdrawal(ctx context.Context, input CreateWithdrawalInput) (*withdrawal.Result, error)

	// RetryWithdrawal routes a withdrawal left PENDING by a transient provider error again
	RetryWithdrawal(ctx context.Context, id uuid.UUID, method shared.WithdrawalMethod, details withdrawal.BankDetails) (*withdrawal.Result, error)

	GetWithdrawal(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error)
}

// WalletView is a wallet with the amount its owner may withdraw now
type WalletView struct {
	Wallet    *wallet.Wallet
	Available decimal.Decimal
}

// WalletService reads wallets and their journal
type WalletService interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (*WalletView, error)

	// GetJournal returns one page of the wallet's journal and the total entry count
	GetJournal(ctx context.Context, userID uuid.UUID, page, perPage int) ([]*journal.Entry, int64, error)
}

// PaymentService handles the card rail's customer authentication callback
type PaymentService interface {
	CompleteAuthentication(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error)
}
