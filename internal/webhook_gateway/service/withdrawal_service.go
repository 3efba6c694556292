package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/ledger"
	"github.com/rental-payments-ledger/internal/withdrawal"
)

var (
	ErrNotRetryable     = errors.New("withdrawal is not awaiting a retry")
	ErrNotAWithdrawal   = errors.New("transaction is not a withdrawal")
	ErrMethodNotAllowed = errors.New("withdrawal method must be given explicitly")
)

// WithdrawalLedger reserves withdrawal amounts
type WithdrawalLedger interface {
	CreateWithdrawal(ctx context.Context, req ledger.WithdrawalRequest) (*transaction.Transaction, error)
}

// PayoutRouter sends a reserved withdrawal to its rail
type PayoutRouter interface {
	Route(ctx context.Context, txn *transaction.Transaction, method shared.WithdrawalMethod, details withdrawal.BankDetails) (*withdrawal.Result, error)
}

// WithdrawalServiceImpl implements the WithdrawalService interface
type WithdrawalServiceImpl struct {
	ledger       WithdrawalLedger
	router       PayoutRouter
	transactions transaction.Repository
	inferMethod  bool
	logger       *slog.Logger
}

// NewWithdrawalService creates a withdrawal service. With inferMethod set, a request
// without a method gets one from the details it carries.
func NewWithdrawalService(logger *slog.Logger, ledger WithdrawalLedger, router PayoutRouter, transactions transaction.Repository, inferMethod bool) WithdrawalService {
	return &WithdrawalServiceImpl{
		ledger:       ledger,
		router:       router,
		transactions: transactions,
		inferMethod:  inferMethod,
		logger:       logger.With("component", "withdrawal_service"),
	}
}

func (s *WithdrawalServiceImpl) resolveMethod(method shared.WithdrawalMethod, details withdrawal.BankDetails) (shared.WithdrawalMethod, error) {
	if method != "" {
		return method, nil
	}
	if !s.inferMethod {
		return "", ErrMethodNotAllowed
	}
	return withdrawal.InferMethod(details)
}

// validate rejects a destination before any money is reserved
func validate(method shared.WithdrawalMethod, details withdrawal.BankDetails) error {
	if err := details.Validate(method); err != nil {
		return &withdrawal.ValidationError{Err: err}
	}
	if method == shared.WithdrawalMethodWise {
		if _, err := details.TargetCurrency(); err != nil {
			return &withdrawal.ValidationError{Err: err}
		}
	}
	return nil
}

// CreateWithdrawal validates the destination, reserves the amount and routes the payout
func (s *WithdrawalServiceImpl) CreateWithdrawal(ctx context.Context, input CreateWithdrawalInput) (*withdrawal.Result, error) {
	details := input.Details.Normalize()

	method, err := s.resolveMethod(input.Method, details)
	if err != nil {
		return nil, &withdrawal.ValidationError{Err: err}
	}
	if err := validate(method, details); err != nil {
		return nil, err
	}

	txn, err := s.ledger.CreateWithdrawal(ctx, ledger.WithdrawalRequest{
		UserID:      input.UserID,
		Amount:      input.Amount,
		Currency:    input.Currency,
		Method:      method,
		Description: input.Description,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Withdrawal reserved, routing payout", "transaction_id", txn.ID.String(), "method", string(method))
	return s.router.Route(ctx, txn, method, details)
}

// RetryWithdrawal routes a withdrawal flagged for review again. The rails dedupe on
// the transaction id, so a payout that did reach the provider is not sent twice.
func (s *WithdrawalServiceImpl) RetryWithdrawal(ctx context.Context, id uuid.UUID, method shared.WithdrawalMethod, details withdrawal.BankDetails) (*withdrawal.Result, error) {
	txn, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Type != shared.TransactionTypeWithdrawal {
		return nil, ErrNotAWithdrawal
	}
	if txn.Status != shared.TransactionStatusPending || txn.Meta(shared.MetaRequiresReview) != "true" {
		return nil, ErrNotRetryable
	}

	if method == "" {
		method = shared.WithdrawalMethod(txn.Meta(shared.MetaRail))
	}
	details = details.Normalize()
	if err := validate(method, details); err != nil {
		return nil, err
	}

	s.logger.Info("Retrying withdrawal", "transaction_id", id.String(), "method", string(method))
	return s.router.Route(ctx, txn, method, details)
}

func (s *WithdrawalServiceImpl) GetWithdrawal(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	txn, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Type != shared.TransactionTypeWithdrawal {
		return nil, transaction.ErrTransactionNotFound{TransactionID: id}
	}
	return txn, nil
}
