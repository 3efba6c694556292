package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rental-payments-ledger/internal/domain/journal"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/domain/webhook"
	"github.com/rental-payments-ledger/internal/platform/clock"
	"github.com/rental-payments-ledger/internal/platform/metrics"
	"github.com/rental-payments-ledger/internal/platform/persistence"
)

// Ledger is the part of the wallet engine the dispatcher drives inside its own transaction
type Ledger interface {
	CreditPaymentTx(ctx context.Context, tx pgx.Tx, payment *transaction.Transaction) ([]*journal.Entry, error)
	RestoreReservationTx(ctx context.Context, tx pgx.Tx, txn *transaction.Transaction) ([]*journal.Entry, error)
	Record(ctx context.Context, entries ...*journal.Entry)
}

// Dispatcher maps an event kind to the transition it drives. Each event is applied
// in one database transaction holding the row lock of the affected transaction.
type Dispatcher struct {
	db           persistence.TxRunner
	transactions transaction.Repository
	ledger       Ledger
	notifier     shared.Notifier
	clock        clock.Clock
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

func NewDispatcher(
	logger *slog.Logger,
	db persistence.TxRunner,
	transactions transaction.Repository,
	ledger Ledger,
	notifier shared.Notifier,
	m *metrics.Metrics,
	clk clock.Clock,
) *Dispatcher {
	return &Dispatcher{
		db:           db,
		transactions: transactions,
		ledger:       ledger,
		notifier:     notifier,
		clock:        clk,
		metrics:      m,
		logger:       logger.With("component", "dispatcher"),
	}
}

// Dispatch applies evt. A handler panic is converted into an error so the caller
// can record the failure like any other.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *webhook.Event) (err error) {
	started := time.Now()
	logger := d.logger.With("event_id", evt.ID, "kind", string(evt.Kind), "provider", string(evt.Provider))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			logger.Error("Recovered from handler panic", "panic", r)
		}
		d.metrics.ObserveDispatch(string(evt.Kind), started, err)
	}()

	switch p := evt.Payload.(type) {
	case webhook.PaymentPayload:
		return d.handlePayment(ctx, logger, evt.Kind, p)
	case webhook.TransferPayload:
		return d.handleTransfer(ctx, logger, evt.Kind, p)
	case webhook.DisputePayload:
		d.handleDispute(ctx, logger, evt, p)
		return nil
	default:
		logger.Info("Acknowledging event of unhandled kind", "raw_kind", evt.RawKind)
		return nil
	}
}

// locate finds the transaction by provider reference, then by the id the provider echoed back
func (d *Dispatcher) locate(ctx context.Context, repo transaction.Repository, reference, echoedID string) (*transaction.Transaction, error) {
	if reference != "" {
		txn, err := repo.LockByProviderReference(ctx, reference)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, transaction.ErrTransactionNotFound{}) {
			return nil, err
		}
	}
	if echoedID != "" {
		id, parseErr := uuid.Parse(echoedID)
		if parseErr == nil {
			return repo.LockForUpdate(ctx, id)
		}
	}
	return nil, transaction.ErrTransactionNotFound{Reference: reference}
}

// transition moves txn to status. Stale transitions out of a terminal state are
// acknowledged without effect so replays and late events never rewind history.
func transition(logger *slog.Logger, txn *transaction.Transaction, status shared.TransactionStatus, now time.Time) (bool, error) {
	changed, err := txn.TransitionTo(status, now)
	if err != nil {
		if errors.Is(err, transaction.ErrInvalidTransition{}) {
			logger.Warn("Ignoring event that would leave the current status",
				"transaction_id", txn.ID.String(), "status", string(txn.Status), "target", string(status))
			return false, nil
		}
		return false, err
	}
	return changed, nil
}

func (d *Dispatcher) handlePayment(ctx context.Context, logger *slog.Logger, kind webhook.Kind, p webhook.PaymentPayload) error {
	var entries []*journal.Entry

	err := d.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := d.transactions.WithTx(tx)
		txn, err := d.locate(ctx, repo, p.IntentID, p.TransactionID)
		if err != nil {
			return err
		}
		log := logger.With("transaction_id", txn.ID.String())
		now := d.clock.Now()

		var changed bool
		switch kind {
		case webhook.KindPaymentAuthorized, webhook.KindPaymentSucceeded:
			changed, err = transition(log, txn, shared.TransactionStatusCompleted, now)
		case webhook.KindPaymentFailed:
			changed, err = transition(log, txn, shared.TransactionStatusFailed, now)
			if changed {
				txn.AppendDescription(p.FailureMessage)
			}
		case webhook.KindPaymentCancelled:
			changed, err = transition(log, txn, shared.TransactionStatusCancelled, now)
		case webhook.KindPaymentRequiresAction:
			// stays PENDING until the challenge completion callback confirms it
			changed = txn.ProviderStatus != p.Status
		default:
			log.Info("Acknowledging payment event without transition")
			return nil
		}
		if err != nil {
			return err
		}
		if !changed {
			log.Info("Payment event already applied", "status", string(txn.Status))
			return nil
		}

		if txn.ProviderReference == "" {
			txn.ProviderReference = p.IntentID
		}
		txn.ProviderStatus = p.Status
		txn.UpdatedAt = now
		if err := repo.Update(ctx, txn); err != nil {
			return err
		}

		if txn.Status == shared.TransactionStatusCompleted {
			entries, err = d.ledger.CreditPaymentTx(ctx, tx, txn)
			if err != nil {
				return fmt.Errorf("failed to credit payment %s: %w", txn.ID, err)
			}
		}
		log.Info("Payment transaction updated", "status", string(txn.Status))
		return nil
	})
	if err != nil {
		return err
	}

	if len(entries) > 0 {
		d.ledger.Record(ctx, entries...)
	}
	return nil
}

func (d *Dispatcher) handleTransfer(ctx context.Context, logger *slog.Logger, kind webhook.Kind, p webhook.TransferPayload) error {
	var entries []*journal.Entry

	err := d.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := d.transactions.WithTx(tx)
		txn, err := d.locate(ctx, repo, p.TransferID, p.TransactionID)
		if err != nil {
			return err
		}
		log := logger.With("transaction_id", txn.ID.String())
		now := d.clock.Now()

		var changed bool
		switch kind {
		case webhook.KindTransferCreated:
			// an unfunded transfer stays PENDING until an operator funds it
			if txn.Meta(shared.MetaRequiresManualFunding) != "true" {
				changed, err = transition(log, txn, shared.TransactionStatusProcessing, now)
			}
			if err == nil && !txn.Status.IsTerminal() && txn.Meta(shared.MetaTransferID) != p.TransferID {
				txn.SetMeta(shared.MetaTransferID, p.TransferID)
				changed = true
			}
		case webhook.KindTransferSettled:
			changed, err = transition(log, txn, shared.TransactionStatusCompleted, now)
			if changed && txn.Meta(shared.MetaRequiresManualFunding) == "true" {
				txn.SetMeta(shared.MetaRequiresManualFunding, "false")
			}
		case webhook.KindTransferFailed:
			changed, err = transition(log, txn, shared.TransactionStatusFailed, now)
			if changed {
				reason := p.FailureReason
				if reason == "" {
					reason = p.State
				}
				txn.AppendDescription("transfer failed: " + reason)
			}
		default:
			log.Info("Acknowledging transfer event without transition")
			return nil
		}
		if err != nil {
			return err
		}
		if !changed {
			log.Info("Transfer event already applied", "status", string(txn.Status))
			return nil
		}

		if txn.ProviderReference == "" {
			txn.ProviderReference = p.TransferID
		}
		txn.ProviderStatus = p.State
		txn.UpdatedAt = now
		if err := repo.Update(ctx, txn); err != nil {
			return err
		}

		if txn.Status == shared.TransactionStatusFailed && txn.Type == shared.TransactionTypeWithdrawal {
			entries, err = d.ledger.RestoreReservationTx(ctx, tx, txn)
			if err != nil {
				return fmt.Errorf("failed to restore reservation of %s: %w", txn.ID, err)
			}
		}
		log.Info("Transfer transaction updated", "status", string(txn.Status))
		return nil
	})
	if err != nil {
		return err
	}

	if len(entries) > 0 {
		d.ledger.Record(ctx, entries...)
		d.notifier.Notify(ctx, shared.NewNotification(
			"Withdrawal failed",
			"A payout was reported failed by the provider; the amount was returned to the wallet",
			shared.SeverityWarning,
			shared.CategoryWithdrawal,
			d.clock.Now(),
		).With("transfer_id", p.TransferID).With("reason", p.FailureReason))
	}
	return nil
}

func (d *Dispatcher) handleDispute(ctx context.Context, logger *slog.Logger, evt *webhook.Event, p webhook.DisputePayload) {
	logger.Warn("Dispute opened", "dispute_id", p.DisputeID, "payment_intent", p.PaymentIntentID, "amount", p.Amount.String())

	d.notifier.Notify(ctx, shared.NewNotification(
		"Dispute opened",
		fmt.Sprintf("Dispute %s opened for %s %s", p.DisputeID, p.Amount.StringFixed(2), p.Currency),
		shared.SeverityHigh,
		shared.CategoryDispute,
		d.clock.Now(),
	).
		With(shared.MetaDisputeID, p.DisputeID).
		With("payment_intent", p.PaymentIntentID).
		With("charge", p.ChargeID).
		With("reason", p.Reason).
		With("event_id", evt.ID))
}
