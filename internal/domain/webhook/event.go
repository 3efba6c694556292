// Package webhook holds inbound provider events: the typed event union handed to the
// dispatcher and the durable dedup record kept for every delivery.
package webhook

import (
	"errors"
	"time"

	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
)

var (
	ErrMalformedEvent   = errors.New("malformed event")
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Kind is the provider-independent event kind
type Kind string

const (
	KindPaymentAuthorized     Kind = "payment.authorized"
	KindPaymentSucceeded      Kind = "payment.succeeded"
	KindPaymentFailed         Kind = "payment.failed"
	KindPaymentCancelled      Kind = "payment.cancelled"
	KindPaymentRequiresAction Kind = "payment.requires_action"
	KindTransferCreated       Kind = "transfer.created"
	KindTransferSettled       Kind = "transfer.settled"
	KindTransferFailed        Kind = "transfer.failed"
	KindDisputeOpened         Kind = "dispute.opened"
	KindUnknown               Kind = "unknown"
)

// Event is a decoded provider notification. Payload is one of PaymentPayload,
// TransferPayload, DisputePayload or UnknownPayload.
type Event struct {
	ID        string
	Provider  shared.Provider
	Kind      Kind
	RawKind   string // provider's own event type
	CreatedAt time.Time
	Payload   Payload
}

// Payload is the closed set of event payload variants
type Payload interface {
	payload()
}

// PaymentPayload describes a payment intent
type PaymentPayload struct {
	IntentID       string
	TransactionID  string // our id echoed back in provider metadata, if any
	Amount         decimal.Decimal
	Currency       string
	Status         string
	FailureMessage string
}

// TransferPayload describes a payout or bank transfer
type TransferPayload struct {
	TransferID    string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	State         string
	FailureReason string
}

// DisputePayload describes a dispute or chargeback
type DisputePayload struct {
	DisputeID       string
	ChargeID        string
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	Reason          string
}

// UnknownPayload carries nothing; unknown kinds are acknowledged and logged
type UnknownPayload struct{}

func (PaymentPayload) payload()  {}
func (TransferPayload) payload() {}
func (DisputePayload) payload()  {}
func (UnknownPayload) payload()  {}
