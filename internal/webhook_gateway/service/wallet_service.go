package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rental-payments-ledger/internal/domain/journal"
	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/domain/wallet"
)

// WalletServiceImpl implements the WalletService interface
type WalletServiceImpl struct {
	wallets      wallet.Repository
	transactions transaction.Repository
	journal      journal.Repository
}

// NewWalletService creates a new wallet service
func NewWalletService(wallets wallet.Repository, transactions transaction.Repository, journalRepo journal.Repository) WalletService {
	return &WalletServiceImpl{
		wallets:      wallets,
		transactions: transactions,
		journal:      journalRepo,
	}
}

// GetWallet returns the user's wallet. Available is bounded by both the transaction
// history and the withdrawable tier, the same figure CreateWithdrawal checks against.
func (s *WalletServiceImpl) GetWallet(ctx context.Context, userID uuid.UUID) (*WalletView, error) {
	w, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	history, err := s.transactions.AvailableBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	available := decimal.Min(history, w.ReservedBalance)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return &WalletView{Wallet: w, Available: available}, nil
}

// GetJournal returns the wallet's journal newest first
func (s *WalletServiceImpl) GetJournal(ctx context.Context, userID uuid.UUID, page, perPage int) ([]*journal.Entry, int64, error) {
	w, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	entries, err := s.journal.ListByWallet(ctx, w.ID, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.journal.CountByWallet(ctx, w.ID)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
