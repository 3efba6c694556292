package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Decode turns a raw provider body into an Event. It only checks structure;
// semantic checks such as timestamp tolerance belong to the validator.
func Decode(provider shared.Provider, raw []byte) (*Event, error) {
	switch provider {
	case shared.ProviderCardRail:
		return decodeCardRail(raw)
	case shared.ProviderBankTransfer:
		return decodeBankTransfer(raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
}

type cardRailEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type cardRailObject struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	FailureMessage   string            `json:"failure_message"`
	Charge           string            `json:"charge"`
	PaymentIntent    string            `json:"payment_intent"`
	Reason           string            `json:"reason"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

var cardRailKinds = map[string]Kind{
	"payment_intent.amount_capturable_updated": KindPaymentAuthorized,
	"payment_intent.succeeded":                 KindPaymentSucceeded,
	"payment_intent.payment_failed":            KindPaymentFailed,
	"payment_intent.canceled":                  KindPaymentCancelled,
	"payment_intent.requires_action":           KindPaymentRequiresAction,
	"payout.created":                           KindTransferCreated,
	"transfer.created":                         KindTransferCreated,
	"payout.paid":                              KindTransferSettled,
	"payout.failed":                            KindTransferFailed,
	"transfer.reversed":                        KindTransferFailed,
	"charge.dispute.created":                   KindDisputeOpened,
}

// minorUnits converts provider integer minor units into a decimal amount
func minorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func decodeCardRail(raw []byte) (*Event, error) {
	var env cardRailEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.ID == "" || env.Type == "" || len(env.Data.Object) == 0 {
		return nil, fmt.Errorf("%w: id, type and data.object are required", ErrMalformedEvent)
	}

	var obj cardRailObject
	if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	kind, ok := cardRailKinds[env.Type]
	if !ok {
		kind = KindUnknown
	}

	evt := &Event{
		ID:        env.ID,
		Provider:  shared.ProviderCardRail,
		Kind:      kind,
		RawKind:   env.Type,
		CreatedAt: time.Unix(env.Created, 0).UTC(),
	}
	currency := strings.ToUpper(obj.Currency)

	switch kind {
	case KindPaymentAuthorized, KindPaymentSucceeded, KindPaymentFailed, KindPaymentCancelled, KindPaymentRequiresAction:
		failure := obj.FailureMessage
		if obj.LastPaymentError != nil && obj.LastPaymentError.Message != "" {
			failure = obj.LastPaymentError.Message
		}
		evt.Payload = PaymentPayload{
			IntentID:       obj.ID,
			TransactionID:  obj.Metadata["transaction_id"],
			Amount:         minorUnits(obj.Amount),
			Currency:       currency,
			Status:         obj.Status,
			FailureMessage: failure,
		}
	case KindTransferCreated, KindTransferSettled, KindTransferFailed:
		evt.Payload = TransferPayload{
			TransferID:    obj.ID,
			TransactionID: obj.Metadata["transaction_id"],
			Amount:        minorUnits(obj.Amount),
			Currency:      currency,
			State:         obj.Status,
			FailureReason: obj.FailureMessage,
		}
	case KindDisputeOpened:
		evt.Payload = DisputePayload{
			DisputeID:       obj.ID,
			ChargeID:        obj.Charge,
			PaymentIntentID: obj.PaymentIntent,
			Amount:          minorUnits(obj.Amount),
			Currency:        currency,
			Reason:          obj.Reason,
		}
	default:
		evt.Payload = UnknownPayload{}
	}

	if p, ok := evt.Payload.(PaymentPayload); ok && p.IntentID == "" {
		return nil, fmt.Errorf("%w: payment object without id", ErrMalformedEvent)
	}
	if p, ok := evt.Payload.(TransferPayload); ok && p.TransferID == "" {
		return nil, fmt.Errorf("%w: transfer object without id", ErrMalformedEvent)
	}

	return evt, nil
}

type bankTransferEnvelope struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	SentAt    time.Time `json:"sent_at"`
	Data      *struct {
		Resource struct {
			ID        json.Number `json:"id"`
			Type      string      `json:"type"`
			Reference string      `json:"reference"`
		} `json:"resource"`
		CurrentState  string          `json:"current_state"`
		PreviousState string          `json:"previous_state"`
		FailureReason string          `json:"failure_reason"`
		Amount        decimal.Decimal `json:"amount"`
		Currency      string          `json:"currency"`
	} `json:"data"`
}

// bankTransferStates maps transfer state-change targets to event kinds
var bankTransferStates = map[string]Kind{
	"incoming_payment_waiting": KindTransferCreated,
	"processing":               KindTransferCreated,
	"outgoing_payment_sent":    KindTransferSettled,
	"funds_refunded":           KindTransferFailed,
	"bounced_back":             KindTransferFailed,
	"cancelled":                KindTransferFailed,
	"charged_back":             KindTransferFailed,
}

func decodeBankTransfer(raw []byte) (*Event, error) {
	var env bankTransferEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.EventID == "" || env.EventType == "" || env.Data == nil {
		return nil, fmt.Errorf("%w: event_id, event_type and data are required", ErrMalformedEvent)
	}

	evt := &Event{
		ID:        env.EventID,
		Provider:  shared.ProviderBankTransfer,
		Kind:      KindUnknown,
		RawKind:   env.EventType,
		CreatedAt: env.SentAt.UTC(),
		Payload:   UnknownPayload{},
	}

	if env.EventType != "transfers#state-change" {
		return evt, nil
	}

	kind, ok := bankTransferStates[env.Data.CurrentState]
	if !ok {
		return evt, nil
	}
	if env.Data.Resource.ID.String() == "" {
		return nil, fmt.Errorf("%w: transfer resource without id", ErrMalformedEvent)
	}

	evt.Kind = kind
	evt.Payload = TransferPayload{
		TransferID:    env.Data.Resource.ID.String(),
		TransactionID: env.Data.Resource.Reference,
		Amount:        env.Data.Amount,
		Currency:      strings.ToUpper(env.Data.Currency),
		State:         env.Data.CurrentState,
		FailureReason: env.Data.FailureReason,
	}
	return evt, nil
}
