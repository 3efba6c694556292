package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/platform/clock"
	"github.com/rental-payments-ledger/internal/platform/persistence"
	"github.com/rental-payments-ledger/internal/platform/providers/cardrail"
)

var (
	ErrNotAwaitingAuthentication = errors.New("payment is not awaiting authentication")
	ErrAuthenticationIncomplete  = errors.New("payment authentication is not complete")
)

// IntentConfirmer confirms card rail payment intents
type IntentConfirmer interface {
	ConfirmPaymentIntent(ctx context.Context, id string) (*cardrail.PaymentIntent, error)
}

// PaymentServiceImpl implements the PaymentService interface
type PaymentServiceImpl struct {
	db           persistence.TxRunner
	transactions transaction.Repository
	card         IntentConfirmer
	clock        clock.Clock
	logger       *slog.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(logger *slog.Logger, db persistence.TxRunner, transactions transaction.Repository, card IntentConfirmer, clk clock.Clock) PaymentService {
	return &PaymentServiceImpl{
		db:           db,
		transactions: transactions,
		card:         card,
		clock:        clk,
		logger:       logger.With("component", "payment_service"),
	}
}

// CompleteAuthentication confirms the intent of a payment whose customer finished the
// 3-D Secure challenge and moves it to PROCESSING. Completion itself arrives by webhook.
func (s *PaymentServiceImpl) CompleteAuthentication(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	txn, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Type != shared.TransactionTypePayment || txn.Status != shared.TransactionStatusPending || txn.ProviderReference == "" {
		return nil, ErrNotAwaitingAuthentication
	}

	intent, err := s.card.ConfirmPaymentIntent(ctx, txn.ProviderReference)
	if err != nil {
		s.logger.Error("Failed to confirm payment intent", "transaction_id", id.String(), "error", err)
		return nil, err
	}
	if intent.Status == cardrail.IntentRequiresAction || intent.Status == cardrail.IntentCanceled {
		s.logger.Warn("Payment intent not confirmable", "transaction_id", id.String(), "intent_status", intent.Status)
		return nil, ErrAuthenticationIncomplete
	}

	var updated *transaction.Transaction
	err = s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := s.transactions.WithTx(tx)
		locked, err := repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		updated = locked

		if _, err := locked.TransitionTo(shared.TransactionStatusProcessing, s.clock.Now()); err != nil {
			if errors.Is(err, transaction.ErrInvalidTransition{}) {
				// the provider's webhook already settled it
				return nil
			}
			return err
		}
		locked.ProviderStatus = intent.Status
		locked.UpdatedAt = s.clock.Now()
		return repo.Update(ctx, locked)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment authentication completed", "transaction_id", id.String(), "status", string(updated.Status))
	return updated, nil
}
