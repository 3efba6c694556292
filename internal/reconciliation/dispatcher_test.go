package reconciliation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rental-payments-ledger/internal/domain/journal"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/domain/webhook"
	"github.com/rental-payments-ledger/internal/platform/clock"
)

type dispatcherFixture struct {
	dispatcher   *Dispatcher
	transactions *MockTransactionRepo
	ledger       *MockLedger
	notifier     *MockNotifier
}

func newDispatcherFixture() *dispatcherFixture {
	f := &dispatcherFixture{
		transactions: &MockTransactionRepo{},
		ledger:       &MockLedger{},
		notifier:     &MockNotifier{},
	}
	f.dispatcher = NewDispatcher(
		slog.New(slog.NewJSONHandler(io.Discard, nil)),
		inlineTx{},
		f.transactions,
		f.ledger,
		f.notifier,
		nil,
		clock.NewFixed(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)),
	)
	return f
}

func paymentTxn(status shared.TransactionStatus) *transaction.Transaction {
	recipient := uuid.New()
	return &transaction.Transaction{
		ID:                uuid.New(),
		Type:              shared.TransactionTypePayment,
		Status:            status,
		Amount:            decimal.NewFromInt(100),
		Currency:          "EUR",
		RecipientID:       &recipient,
		ProviderReference: "pi_1",
		Metadata:          map[string]string{},
	}
}

func withdrawalTxn(status shared.TransactionStatus, reference string) *transaction.Transaction {
	user := uuid.New()
	return &transaction.Transaction{
		ID:                uuid.New(),
		Type:              shared.TransactionTypeWithdrawal,
		Status:            status,
		Amount:            decimal.NewFromInt(60),
		Currency:          "GBP",
		SenderID:          &user,
		RecipientID:       &user,
		ProviderReference: reference,
		Metadata:          map[string]string{},
	}
}

func paymentEvent(kind webhook.Kind, status string) *webhook.Event {
	return &webhook.Event{
		ID:       "evt_1",
		Provider: shared.ProviderCardRail,
		Kind:     kind,
		Payload:  webhook.PaymentPayload{IntentID: "pi_1", Status: status, FailureMessage: "card declined"},
	}
}

func transferEvent(kind webhook.Kind, state, reason string) *webhook.Event {
	return &webhook.Event{
		ID:       "0f8fad5b-d9cb-469f-a165-70867728950e",
		Provider: shared.ProviderBankTransfer,
		Kind:     kind,
		Payload:  webhook.TransferPayload{TransferID: "4242", State: state, FailureReason: reason},
	}
}

func TestDispatcher_PaymentSucceededCreditsRecipient(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()
	txn := paymentTxn(shared.TransactionStatusProcessing)
	entries := []*journal.Entry{{Operation: journal.OperationAddPending}}

	f.transactions.On("LockByProviderReference", ctx, "pi_1").Return(txn, nil)
	f.transactions.On("Update", ctx, mock.MatchedBy(func(t *transaction.Transaction) bool {
		return t.Status == shared.TransactionStatusCompleted && t.ProcessedAt != nil && t.ProviderStatus == "succeeded"
	})).Return(nil).Once()
	f.ledger.On("CreditPaymentTx", ctx, mock.Anything, txn).Return(entries, nil).Once()
	f.ledger.On("Record", ctx, entries).Once()

	require.NoError(t, f.dispatcher.Dispatch(ctx, paymentEvent(webhook.KindPaymentSucceeded, "succeeded")))

	// replaying the event after completion has no ledger effect
	require.NoError(t, f.dispatcher.Dispatch(ctx, paymentEvent(webhook.KindPaymentSucceeded, "succeeded")))

	f.transactions.AssertNumberOfCalls(t, "Update", 1)
	f.ledger.AssertNumberOfCalls(t, "CreditPaymentTx", 1)
}

func TestDispatcher_PaymentFailedAndCancelled(t *testing.T) {
	ctx := context.Background()

	t.Run("failed", func(t *testing.T) {
		f := newDispatcherFixture()
		txn := paymentTxn(shared.TransactionStatusPending)
		f.transactions.On("LockByProviderReference", ctx, "pi_1").Return(txn, nil)
		f.transactions.On("Update", ctx, txn).Return(nil)
		f.ledger.On("Record", ctx, mock.Anything)

		require.NoError(t, f.dispatcher.Dispatch(ctx, paymentEvent(webhook.KindPaymentFailed, "requires_payment_method")))
		assert.Equal(t, shared.TransactionStatusFailed, txn.Status)
		assert.Equal(t, "card declined", txn.Description)
		f.ledger.AssertNotCalled(t, "CreditPaymentTx", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newDispatcherFixture()
		txn := paymentTxn(shared.TransactionStatusPending)
		f.transactions.On("LockByProviderReference", ctx, "pi_1").Return(txn, nil)
		f.transactions.On("Update", ctx, txn).Return(nil)
		f.ledger.On("Record", ctx, mock.Anything)

		require.NoError(t, f.dispatcher.Dispatch(ctx, paymentEvent(webhook.KindPaymentCancelled, "canceled")))
		assert.Equal(t, shared.TransactionStatusCancelled, txn.Status)
	})

	t.Run("late failure after completion is ignored", func(t *testing.T) {
		f := newDispatcherFixture()
		txn := paymentTxn(shared.TransactionStatusCompleted)
		f.transactions.On("LockByProviderReference", ctx, "pi_1").Return(txn, nil)
		f.ledger.On("Record", ctx, mock.Anything)

		require.NoError(t, f.dispatcher.Dispatch(ctx, paymentEvent(webhook.KindPaymentFailed, "failed")))
		assert.Equal(t, shared.TransactionStatusCompleted, txn.Status)
		f.transactions.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}

func TestDispatcher_PaymentRequiresActionStaysPending(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()
	txn := paymentTxn(shared.TransactionStatusPending)

	f.transactions.On("LockByProviderReference", ctx, "pi_1").Return(txn, nil)
	f.transactions.On("Update", ctx, txn).Return(nil)
	f.ledger.On("Record", ctx, mock.Anything)

	require.NoError(t, f.dispatcher.Dispatch(ctx, paymentEvent(webhook.KindPaymentRequiresAction, "requires_action")))
	assert.Equal(t, shared.TransactionStatusPending, txn.Status)
	assert.Equal(t, "requires_action", txn.ProviderStatus)
}

func TestDispatcher_LocatesByEchoedTransactionID(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()
	txn := paymentTxn(shared.TransactionStatusPending)
	txn.ProviderReference = ""
	evt := paymentEvent(webhook.KindPaymentCancelled, "canceled")
	evt.Payload = webhook.PaymentPayload{IntentID: "pi_1", TransactionID: txn.ID.String()}

	f.transactions.On("LockByProviderReference", ctx, "pi_1").Return(nil, transaction.ErrTransactionNotFound{Reference: "pi_1"})
	f.transactions.On("LockForUpdate", ctx, txn.ID).Return(txn, nil)
	f.transactions.On("Update", ctx, txn).Return(nil)
	f.ledger.On("Record", ctx, mock.Anything)

	require.NoError(t, f.dispatcher.Dispatch(ctx, evt))
	assert.Equal(t, "pi_1", txn.ProviderReference)
}

func TestDispatcher_UnknownReferenceFails(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()
	f.transactions.On("LockByProviderReference", ctx, "pi_1").Return(nil, transaction.ErrTransactionNotFound{Reference: "pi_1"})

	err := f.dispatcher.Dispatch(ctx, paymentEvent(webhook.KindPaymentSucceeded, "succeeded"))
	assert.ErrorIs(t, err, transaction.ErrTransactionNotFound{})
}

func TestDispatcher_TransferLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("created moves to processing", func(t *testing.T) {
		f := newDispatcherFixture()
		txn := withdrawalTxn(shared.TransactionStatusPending, "4242")
		f.transactions.On("LockByProviderReference", ctx, "4242").Return(txn, nil)
		f.transactions.On("Update", ctx, txn).Return(nil)
		f.ledger.On("Record", ctx, mock.Anything)

		require.NoError(t, f.dispatcher.Dispatch(ctx, transferEvent(webhook.KindTransferCreated, "processing", "")))
		assert.Equal(t, shared.TransactionStatusProcessing, txn.Status)
		assert.Equal(t, "4242", txn.Meta(shared.MetaTransferID))
	})

	t.Run("created awaiting manual funding stays pending", func(t *testing.T) {
		f := newDispatcherFixture()
		txn := withdrawalTxn(shared.TransactionStatusPending, "4242")
		txn.SetMeta(shared.MetaRequiresManualFunding, "true")
		f.transactions.On("LockByProviderReference", ctx, "4242").Return(txn, nil)
		f.transactions.On("Update", ctx, txn).Return(nil)
		f.ledger.On("Record", ctx, mock.Anything)

		require.NoError(t, f.dispatcher.Dispatch(ctx, transferEvent(webhook.KindTransferCreated, "incoming_payment_waiting", "")))
		assert.Equal(t, shared.TransactionStatusPending, txn.Status)
		assert.Equal(t, "4242", txn.Meta(shared.MetaTransferID))
	})

	t.Run("settled completes once", func(t *testing.T) {
		f := newDispatcherFixture()
		txn := withdrawalTxn(shared.TransactionStatusProcessing, "4242")
		txn.SetMeta(shared.MetaRequiresManualFunding, "true")
		f.transactions.On("LockByProviderReference", ctx, "4242").Return(txn, nil)
		f.transactions.On("Update", ctx, txn).Return(nil).Once()
		f.ledger.On("Record", ctx, mock.Anything)

		evt := transferEvent(webhook.KindTransferSettled, "outgoing_payment_sent", "")
		require.NoError(t, f.dispatcher.Dispatch(ctx, evt))
		require.NoError(t, f.dispatcher.Dispatch(ctx, evt))

		assert.Equal(t, shared.TransactionStatusCompleted, txn.Status)
		require.NotNil(t, txn.ProcessedAt)
		assert.Equal(t, "false", txn.Meta(shared.MetaRequiresManualFunding))
		f.transactions.AssertNumberOfCalls(t, "Update", 1)
		f.ledger.AssertNotCalled(t, "RestoreReservationTx", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("failed restores reservation and notifies", func(t *testing.T) {
		f := newDispatcherFixture()
		txn := withdrawalTxn(shared.TransactionStatusProcessing, "4242")
		restored := []*journal.Entry{{Operation: journal.OperationRestoreReservation}}
		f.transactions.On("LockByProviderReference", ctx, "4242").Return(txn, nil)
		f.transactions.On("Update", ctx, txn).Return(nil)
		f.ledger.On("RestoreReservationTx", ctx, mock.Anything, txn).Return(restored, nil).Once()
		f.ledger.On("Record", ctx, restored).Once()
		f.notifier.On("Notify", ctx, mock.MatchedBy(func(n shared.Notification) bool {
			return n.Category == shared.CategoryWithdrawal && n.Details["reason"] == "account closed"
		})).Once()

		require.NoError(t, f.dispatcher.Dispatch(ctx, transferEvent(webhook.KindTransferFailed, "bounced_back", "account closed")))
		assert.Equal(t, shared.TransactionStatusFailed, txn.Status)
		assert.Equal(t, "transfer failed: account closed", txn.Description)
		f.ledger.AssertExpectations(t)
		f.notifier.AssertExpectations(t)
	})
}

func TestDispatcher_DisputeNotifiesWithoutStatusChange(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()
	evt := &webhook.Event{
		ID:       "evt_dispute",
		Provider: shared.ProviderCardRail,
		Kind:     webhook.KindDisputeOpened,
		Payload: webhook.DisputePayload{
			DisputeID:       "dp_1",
			PaymentIntentID: "pi_1",
			Amount:          decimal.NewFromInt(100),
			Currency:        "EUR",
			Reason:          "fraudulent",
		},
	}
	f.notifier.On("Notify", ctx, mock.MatchedBy(func(n shared.Notification) bool {
		return n.Severity == shared.SeverityHigh && n.Details[shared.MetaDisputeID] == "dp_1"
	})).Once()

	require.NoError(t, f.dispatcher.Dispatch(ctx, evt))
	f.notifier.AssertExpectations(t)
	f.transactions.AssertNotCalled(t, "LockByProviderReference", mock.Anything, mock.Anything)
}

func TestDispatcher_UnknownKindIsAcknowledged(t *testing.T) {
	f := newDispatcherFixture()
	evt := &webhook.Event{ID: "evt_x", Kind: webhook.KindUnknown, RawKind: "balance.available", Payload: webhook.UnknownPayload{}}
	assert.NoError(t, f.dispatcher.Dispatch(context.Background(), evt))
}

func TestDispatcher_HandlerPanicBecomesError(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()
	f.transactions.On("LockByProviderReference", ctx, "pi_1").Run(func(mock.Arguments) {
		panic("nil map")
	})

	err := f.dispatcher.Dispatch(ctx, paymentEvent(webhook.KindPaymentSucceeded, "succeeded"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panic")
}
