package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/rental-payments-ledger/internal/domain/journal"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/reconciliation"
	"github.com/rental-payments-ledger/internal/webhook_gateway/middleware"
	"github.com/rental-payments-ledger/internal/webhook_gateway/service"
	"github.com/rental-payments-ledger/internal/withdrawal"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CorrelationID())
	return r
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type MockWebhookService struct {
	mock.Mock
}

func (m *MockWebhookService) Receive(ctx context.Context, d reconciliation.Delivery) (*reconciliation.Outcome, error) {
	args := m.Called(ctx, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.Outcome), args.Error(1)
}

type MockWithdrawalService struct {
	mock.Mock
}

func (m *MockWithdrawalService) CreateWithdrawal(ctx context.Context, input service.CreateWithdrawalInput) (*withdrawal.Result, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*withdrawal.Result), args.Error(1)
}

func (m *MockWithdrawalService) RetryWithdrawal(ctx context.Context, id uuid.UUID, method shared.WithdrawalMethod, details withdrawal.BankDetails) (*withdrawal.Result, error) {
	args := m.Called(ctx, id, method, details)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*withdrawal.Result), args.Error(1)
}

func (m *MockWithdrawalService) GetWithdrawal(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.Transaction), args.Error(1)
}

type MockWalletService struct {
	mock.Mock
}

func (m *MockWalletService) GetWallet(ctx context.Context, userID uuid.UUID) (*service.WalletView, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.WalletView), args.Error(1)
}

func (m *MockWalletService) GetJournal(ctx context.Context, userID uuid.UUID, page, perPage int) ([]*journal.Entry, int64, error) {
	args := m.Called(ctx, userID, page, perPage)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*journal.Entry), args.Get(1).(int64), args.Error(2)
}

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) CompleteAuthentication(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.Transaction), args.Error(1)
}
