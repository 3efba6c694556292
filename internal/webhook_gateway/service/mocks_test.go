package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/rental-payments-ledger/internal/domain/journal"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/domain/wallet"
	"github.com/rental-payments-ledger/internal/ledger"
	"github.com/rental-payments-ledger/internal/platform/providers/cardrail"
	"github.com/rental-payments-ledger/internal/withdrawal"
)

type inlineTx struct{}

func (inlineTx) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type MockWithdrawalLedger struct {
	mock.Mock
}

func (m *MockWithdrawalLedger) CreateWithdrawal(ctx context.Context, req ledger.WithdrawalRequest) (*transaction.Transaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.Transaction), args.Error(1)
}

type MockPayoutRouter struct {
	mock.Mock
}

func (m *MockPayoutRouter) Route(ctx context.Context, txn *transaction.Transaction, method shared.WithdrawalMethod, details withdrawal.BankDetails) (*withdrawal.Result, error) {
	args := m.Called(ctx, txn, method, details)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*withdrawal.Result), args.Error(1)
}

type MockIntentConfirmer struct {
	mock.Mock
}

func (m *MockIntentConfirmer) ConfirmPaymentIntent(ctx context.Context, id string) (*cardrail.PaymentIntent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cardrail.PaymentIntent), args.Error(1)
}

type MockTransactionRepo struct {
	mock.Mock
}

func (m *MockTransactionRepo) Create(ctx context.Context, txn *transaction.Transaction) error {
	return m.Called(ctx, txn).Error(0)
}

func (m *MockTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.Transaction), args.Error(1)
}

func (m *MockTransactionRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.Transaction), args.Error(1)
}

func (m *MockTransactionRepo) LockByProviderReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.Transaction), args.Error(1)
}

func (m *MockTransactionRepo) Update(ctx context.Context, txn *transaction.Transaction) error {
	return m.Called(ctx, txn).Error(0)
}

func (m *MockTransactionRepo) SumCompletedRentalIncome(ctx context.Context, bookingID, recipientID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, bookingID, recipientID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockTransactionRepo) AvailableBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockTransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*transaction.Transaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*transaction.Transaction), args.Error(1)
}

func (m *MockTransactionRepo) WithTx(tx pgx.Tx) transaction.Repository {
	return m
}

// MockWalletRepo only answers lookups by owner
type MockWalletRepo struct {
	mock.Mock
	wallet.Repository
}

func (m *MockWalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*wallet.Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Wallet), args.Error(1)
}

type MockJournalRepo struct {
	mock.Mock
}

func (m *MockJournalRepo) Append(ctx context.Context, entries ...*journal.Entry) error {
	return m.Called(ctx, entries).Error(0)
}

func (m *MockJournalRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*journal.Entry, error) {
	args := m.Called(ctx, walletID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*journal.Entry), args.Error(1)
}

func (m *MockJournalRepo) CountByWallet(ctx context.Context, walletID uuid.UUID) (int64, error) {
	args := m.Called(ctx, walletID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockJournalRepo) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*journal.Entry, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*journal.Entry), args.Error(1)
}
