package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/platform/clock"
	"github.com/rental-payments-ledger/internal/platform/metrics"
	"github.com/rental-payments-ledger/internal/platform/providers"
	"github.com/rental-payments-ledger/internal/platform/providers/banktransfer"
	"github.com/rental-payments-ledger/internal/platform/providers/cardrail"
)

var (
	// ErrTransferFailed is the only failure text shown to API callers
	ErrTransferFailed  = errors.New("transfer failed")
	ErrPayoutsDisabled = errors.New("connected account cannot receive payouts")
)

const fundingTypeBalance = "BALANCE"

// Outcome is the state a routed withdrawal ends in
type Outcome string

const (
	OutcomeFunded        Outcome = "funded"         // money moved synchronously, COMPLETED
	OutcomeManualFunding Outcome = "manual_funding" // transfer exists unfunded, PENDING until an operator funds it
	OutcomeInFlight      Outcome = "in_flight"      // accepted by the rail, PROCESSING until its webhook
	OutcomeDeferred      Outcome = "deferred"       // transient provider error, PENDING and flagged for review
	OutcomeFailed        Outcome = "failed"
)

// Result describes a routed withdrawal
type Result struct {
	Outcome     Outcome
	Rail        shared.WithdrawalMethod
	Reference   string
	Reason      string // sanitized failure reason
	Transaction *transaction.Transaction
}

// ValidationError wraps a rejected payout destination
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "invalid payout details: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// BankRail is the bank transfer gateway surface used for payouts
type BankRail interface {
	CreateQuote(ctx context.Context, params banktransfer.QuoteParams) (*banktransfer.Quote, error)
	CreateRecipient(ctx context.Context, params banktransfer.RecipientParams) (*banktransfer.Recipient, error)
	CreateTransfer(ctx context.Context, params banktransfer.TransferParams) (*banktransfer.Transfer, error)
	FundTransfer(ctx context.Context, transferID int64, fundingType string) (*banktransfer.FundingResult, error)
}

// CardRail is the card network gateway surface used for payouts
type CardRail interface {
	RetrieveAccount(ctx context.Context, accountID string) (*cardrail.Account, error)
	CreateTransfer(ctx context.Context, params cardrail.TransferParams, idempotencyKey string) (*cardrail.Transfer, error)
	CreatePayout(ctx context.Context, params cardrail.PayoutParams, idempotencyKey string) (*cardrail.Payout, error)
}

// Withdrawals persists withdrawal state changes under the transaction row lock
type Withdrawals interface {
	UpdateWithdrawal(ctx context.Context, id uuid.UUID, fn func(txn *transaction.Transaction, now time.Time) error) (*transaction.Transaction, error)
}

type plan struct {
	outcome   Outcome
	rail      shared.WithdrawalMethod
	reference string
	meta      map[string]string
}

// Router sends a PENDING withdrawal to the payout rail its method selects
type Router struct {
	bank        BankRail
	card        CardRail
	withdrawals Withdrawals
	notifier    shared.Notifier
	clock       clock.Clock
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewRouter(
	logger *slog.Logger,
	bank BankRail,
	card CardRail,
	withdrawals Withdrawals,
	notifier shared.Notifier,
	m *metrics.Metrics,
	clk clock.Clock,
) *Router {
	return &Router{
		bank:        bank,
		card:        card,
		withdrawals: withdrawals,
		notifier:    notifier,
		clock:       clk,
		metrics:     m,
		logger:      logger.With("component", "withdrawal_router"),
	}
}

// Route pays txn out through method. A validation or permanent provider error fails
// the withdrawal and returns ErrTransferFailed; a transient one leaves it PENDING.
func (r *Router) Route(ctx context.Context, txn *transaction.Transaction, method shared.WithdrawalMethod, details BankDetails) (*Result, error) {
	logger := r.logger.With("transaction_id", txn.ID.String(), "method", string(method))
	details = details.Normalize()

	if err := details.Validate(method); err != nil {
		return r.fail(ctx, logger, txn, method, &ValidationError{Err: err})
	}

	var (
		p   plan
		err error
	)
	switch method {
	case shared.WithdrawalMethodWise:
		p, err = r.viaBankRail(ctx, logger, txn, details)
	case shared.WithdrawalMethodStripeConnect:
		p, err = r.viaConnectedAccount(ctx, logger, txn, details)
	case shared.WithdrawalMethodStripePayout:
		p, err = r.viaPayout(ctx, txn)
	}
	if err != nil {
		if providers.IsTemporary(err) {
			return r.deferTransient(ctx, logger, txn, method, err)
		}
		return r.fail(ctx, logger, txn, method, err)
	}
	return r.apply(ctx, logger, txn, p)
}

func recipientType(d BankDetails) string {
	switch {
	case d.HasIBAN():
		return "iban"
	case d.SortCode != "":
		return "sort_code"
	default:
		return "aba"
	}
}

// viaBankRail runs quote, recipient, transfer and fund. A funding refusal keeps the
// unfunded transfer and flags it for manual funding.
func (r *Router) viaBankRail(ctx context.Context, logger *slog.Logger, txn *transaction.Transaction, d BankDetails) (plan, error) {
	target, err := d.TargetCurrency()
	if err != nil {
		return plan{}, &ValidationError{Err: err}
	}

	quote, err := r.bank.CreateQuote(ctx, banktransfer.QuoteParams{
		SourceCurrency: txn.Currency,
		TargetCurrency: target,
		SourceAmount:   txn.Amount,
		PayOut:         "BANK_TRANSFER",
	})
	if err != nil {
		return plan{}, err
	}

	details := banktransfer.RecipientDetails{
		LegalType:     "PRIVATE",
		IBAN:          d.IBAN,
		BIC:           d.BIC,
		AccountNumber: d.AccountNumber,
		RoutingNumber: d.RoutingNumber,
		SortCode:      d.SortCode,
	}
	if d.RoutingNumber != "" {
		details.AccountType = "CHECKING"
	}
	recipient, err := r.bank.CreateRecipient(ctx, banktransfer.RecipientParams{
		Currency:          target,
		Type:              recipientType(d),
		AccountHolderName: d.AccountHolderName,
		Details:           details,
	})
	if err != nil {
		return plan{}, err
	}

	transfer, err := r.bank.CreateTransfer(ctx, banktransfer.TransferParams{
		TargetAccount:         recipient.ID,
		QuoteUUID:             quote.ID,
		CustomerTransactionID: txn.ID.String(),
		Reference:             "Payout " + txn.ID.String()[:8],
	})
	if err != nil {
		return plan{}, err
	}

	p := plan{
		outcome:   OutcomeFunded,
		rail:      shared.WithdrawalMethodWise,
		reference: transfer.Reference(),
		meta: map[string]string{
			shared.MetaQuoteID:               quote.ID,
			shared.MetaRecipientID:           strconv.FormatInt(recipient.ID, 10),
			shared.MetaTransferID:            transfer.Reference(),
			shared.MetaTargetCurrency:        target,
			shared.MetaRequiresManualFunding: "false",
		},
	}

	funding, err := r.bank.FundTransfer(ctx, transfer.ID, fundingTypeBalance)
	if err != nil || !funding.Funded() {
		reason := "funding refused"
		if err != nil {
			reason = err.Error()
		} else if funding.ErrorCode != "" {
			reason = funding.ErrorCode
		}
		logger.Warn("Transfer created but not funded, manual funding required", "transfer_id", transfer.Reference(), "reason", reason)
		p.outcome = OutcomeManualFunding
		p.meta[shared.MetaRequiresManualFunding] = "true"
	}
	return p, nil
}

// viaConnectedAccount prefers the bank rail when the connected account's bank account
// can be paid there and falls back to a card rail transfer to the account.
func (r *Router) viaConnectedAccount(ctx context.Context, logger *slog.Logger, txn *transaction.Transaction, d BankDetails) (plan, error) {
	account, err := r.card.RetrieveAccount(ctx, d.ConnectedAccountID)
	if err != nil {
		return plan{}, err
	}

	if ba, ok := account.PrimaryBankAccount(); ok && r.bank != nil {
		cross := BankDetails{
			AccountHolderName: ba.AccountHolderName,
			IBAN:              ba.IBAN,
			BIC:               ba.BIC,
			AccountNumber:     ba.AccountNumber,
			RoutingNumber:     ba.RoutingNumber,
			Country:           ba.Country,
			Currency:          ba.Currency,
		}.Normalize()
		if cross.Validate(shared.WithdrawalMethodWise) == nil {
			p, err := r.viaBankRail(ctx, logger, txn, cross)
			if err == nil {
				p.meta[shared.MetaConnectedAccount] = account.ID
				logger.Info("Routed connected account payout through the bank rail", "connected_account", account.ID)
				return p, nil
			}
			if providers.IsTemporary(err) {
				return plan{}, err
			}
			logger.Warn("Bank rail refused connected account payout, falling back to card rail transfer", "error", err)
		}
	}

	if !account.PayoutsEnabled {
		return plan{}, ErrPayoutsDisabled
	}

	transfer, err := r.card.CreateTransfer(ctx, cardrail.TransferParams{
		Amount:        cardrail.ToMinorUnits(txn.Amount),
		Currency:      strings.ToLower(txn.Currency),
		Destination:   account.ID,
		TransferGroup: txn.ID.String(),
		Metadata:      map[string]string{"transaction_id": txn.ID.String()},
	}, "wd-"+txn.ID.String())
	if err != nil {
		return plan{}, err
	}

	return plan{
		outcome:   OutcomeFunded,
		rail:      shared.WithdrawalMethodStripeConnect,
		reference: transfer.ID,
		meta: map[string]string{
			shared.MetaTransferID:       transfer.ID,
			shared.MetaConnectedAccount: account.ID,
		},
	}, nil
}

func (r *Router) viaPayout(ctx context.Context, txn *transaction.Transaction) (plan, error) {
	payout, err := r.card.CreatePayout(ctx, cardrail.PayoutParams{
		Amount:   cardrail.ToMinorUnits(txn.Amount),
		Currency: strings.ToLower(txn.Currency),
		Method:   "standard",
		Metadata: map[string]string{"transaction_id": txn.ID.String()},
	}, "po-"+txn.ID.String())
	if err != nil {
		return plan{}, err
	}

	return plan{
		outcome:   OutcomeInFlight,
		rail:      shared.WithdrawalMethodStripePayout,
		reference: payout.ID,
		meta:      map[string]string{shared.MetaTransferID: payout.ID},
	}, nil
}

// advance moves txn forward unless a provider event already settled it
func advance(txn *transaction.Transaction, status shared.TransactionStatus, now time.Time) error {
	if _, err := txn.TransitionTo(status, now); err != nil && !errors.Is(err, transaction.ErrInvalidTransition{}) {
		return err
	}
	return nil
}

func (r *Router) apply(ctx context.Context, logger *slog.Logger, txn *transaction.Transaction, p plan) (*Result, error) {
	updated, err := r.withdrawals.UpdateWithdrawal(ctx, txn.ID, func(t *transaction.Transaction, now time.Time) error {
		for k, v := range p.meta {
			t.SetMeta(k, v)
		}
		t.SetMeta(shared.MetaRail, string(p.rail))
		if t.Meta(shared.MetaRequiresReview) == "true" {
			t.SetMeta(shared.MetaRequiresReview, "false")
		}
		if t.ProviderReference == "" {
			t.ProviderReference = p.reference
		}
		t.UpdatedAt = now

		switch p.outcome {
		case OutcomeFunded:
			return advance(t, shared.TransactionStatusCompleted, now)
		case OutcomeInFlight:
			return advance(t, shared.TransactionStatusProcessing, now)
		}
		return nil
	})
	r.metrics.ObserveWithdrawal(string(p.rail), string(p.outcome))
	if err != nil {
		logger.Error("Failed to record routed withdrawal", "reference", p.reference, "outcome", p.outcome, "error", err)
		r.notifier.Notify(ctx, shared.NewNotification(
			"Withdrawal state not recorded",
			fmt.Sprintf("Payout %s was accepted by %s but the withdrawal could not be updated", p.reference, p.rail),
			shared.SeverityCritical,
			shared.CategoryWithdrawal,
			r.clock.Now(),
		).With("transaction_id", txn.ID.String()).With("error", err.Error()))
		return nil, fmt.Errorf("failed to record payout %s: %w", p.reference, err)
	}

	if p.outcome == OutcomeManualFunding {
		r.notifier.Notify(ctx, shared.NewNotification(
			"Withdrawal requires manual funding",
			fmt.Sprintf("Transfer %s for %s %s was created but could not be funded automatically",
				p.reference, txn.Amount.StringFixed(2), txn.Currency),
			shared.SeverityWarning,
			shared.CategoryWithdrawal,
			r.clock.Now(),
		).With("transaction_id", txn.ID.String()).With(shared.MetaTransferID, p.reference))
	}

	logger.Info("Withdrawal routed", "rail", string(p.rail), "outcome", string(p.outcome), "reference", p.reference)
	return &Result{Outcome: p.outcome, Rail: p.rail, Reference: p.reference, Transaction: updated}, nil
}

func describe(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	if errors.Is(err, ErrPayoutsDisabled) {
		return err.Error()
	}
	return providers.Sanitize(err)
}

func (r *Router) fail(ctx context.Context, logger *slog.Logger, txn *transaction.Transaction, method shared.WithdrawalMethod, cause error) (*Result, error) {
	reason := describe(cause)
	logger.Warn("Withdrawal failed", "reason", reason, "error", cause)

	updated, err := r.withdrawals.UpdateWithdrawal(ctx, txn.ID, func(t *transaction.Transaction, now time.Time) error {
		changed, err := t.TransitionTo(shared.TransactionStatusFailed, now)
		if err != nil {
			if errors.Is(err, transaction.ErrInvalidTransition{}) {
				return nil
			}
			return err
		}
		if changed {
			t.AppendDescription("transfer failed: " + reason)
			if method != "" {
				t.SetMeta(shared.MetaRail, string(method))
			}
		}
		return nil
	})
	r.metrics.ObserveWithdrawal(string(method), string(OutcomeFailed))
	if err != nil {
		logger.Error("Failed to mark withdrawal failed", "error", err)
		return nil, fmt.Errorf("failed to mark withdrawal %s failed: %w", txn.ID, err)
	}

	r.notifier.Notify(ctx, shared.NewNotification(
		"Withdrawal failed",
		fmt.Sprintf("Withdrawal of %s %s via %s failed: %s", txn.Amount.StringFixed(2), txn.Currency, method, reason),
		shared.SeverityHigh,
		shared.CategoryWithdrawal,
		r.clock.Now(),
	).With("transaction_id", txn.ID.String()).With("error", cause.Error()))

	return &Result{Outcome: OutcomeFailed, Rail: method, Reason: reason, Transaction: updated}, ErrTransferFailed
}

func (r *Router) deferTransient(ctx context.Context, logger *slog.Logger, txn *transaction.Transaction, method shared.WithdrawalMethod, cause error) (*Result, error) {
	reason := providers.Sanitize(cause)
	logger.Warn("Withdrawal deferred after transient provider error", "reason", reason, "error", cause)

	updated, err := r.withdrawals.UpdateWithdrawal(ctx, txn.ID, func(t *transaction.Transaction, now time.Time) error {
		if t.Status.IsTerminal() {
			return nil
		}
		t.SetMeta(shared.MetaRequiresReview, "true")
		t.SetMeta(shared.MetaRail, string(method))
		t.UpdatedAt = now
		return nil
	})
	r.metrics.ObserveWithdrawal(string(method), string(OutcomeDeferred))
	if err != nil {
		logger.Error("Failed to flag deferred withdrawal", "error", err)
		return nil, fmt.Errorf("failed to flag withdrawal %s for review: %w", txn.ID, err)
	}

	r.notifier.Notify(ctx, shared.NewNotification(
		"Withdrawal deferred",
		fmt.Sprintf("Withdrawal %s is waiting for %s: %s", txn.ID, method, reason),
		shared.SeverityWarning,
		shared.CategoryWithdrawal,
		r.clock.Now(),
	).With("transaction_id", txn.ID.String()).With("error", cause.Error()))

	return &Result{Outcome: OutcomeDeferred, Rail: method, Reason: reason, Transaction: updated}, nil
}
