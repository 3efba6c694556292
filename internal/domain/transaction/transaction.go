// Package transaction models ledger-visible money movements and their status machine.
package transaction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("transaction amount must be positive")
	ErrInvalidType     = errors.New("invalid transaction type")
	ErrInvalidCurrency = errors.New("currency must be a 3-letter code")
)

// transitions is the status DAG. Terminal states have no outgoing edges.
var transitions = map[shared.TransactionStatus][]shared.TransactionStatus{
	shared.TransactionStatusPending: {
		shared.TransactionStatusProcessing,
		shared.TransactionStatusConfirmed,
		shared.TransactionStatusCompleted,
		shared.TransactionStatusFailed,
		shared.TransactionStatusCancelled,
	},
	shared.TransactionStatusProcessing: {
		shared.TransactionStatusConfirmed,
		shared.TransactionStatusCompleted,
		shared.TransactionStatusFailed,
		shared.TransactionStatusCancelled,
	},
	shared.TransactionStatusConfirmed: {
		shared.TransactionStatusCompleted,
		shared.TransactionStatusFailed,
		shared.TransactionStatusCancelled,
	},
}

// CanTransition reports whether from -> to is an edge of the status DAG
func CanTransition(from, to shared.TransactionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transaction is a money movement. Amount and Type never change after creation.
type Transaction struct {
	ID                uuid.UUID                `json:"id"`
	Type              shared.TransactionType   `json:"type"`
	Status            shared.TransactionStatus `json:"status"`
	Amount            decimal.Decimal          `json:"amount"`
	Currency          string                   `json:"currency"`
	WalletID          *uuid.UUID               `json:"wallet_id,omitempty"`
	SenderID          *uuid.UUID               `json:"sender_id,omitempty"`
	RecipientID       *uuid.UUID               `json:"recipient_id,omitempty"`
	BookingID         *uuid.UUID               `json:"booking_id,omitempty"`
	ProviderReference string                   `json:"provider_reference,omitempty"`
	ProviderStatus    string                   `json:"provider_status,omitempty"`
	Description       string                   `json:"description,omitempty"`
	Metadata          map[string]string        `json:"metadata,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
	ProcessedAt       *time.Time               `json:"processed_at,omitempty"`
}

// New creates a PENDING transaction
func New(txType shared.TransactionType, amount decimal.Decimal, currency string, now time.Time) (*Transaction, error) {
	if !txType.IsValid() {
		return nil, ErrInvalidType
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if len(currency) != 3 {
		return nil, ErrInvalidCurrency
	}
	return &Transaction{
		ID:        uuid.New(),
		Type:      txType,
		Status:    shared.TransactionStatusPending,
		Amount:    amount,
		Currency:  strings.ToUpper(currency),
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// TransitionTo moves the transaction along the DAG. Returns false without error when
// the transaction is already in the target status.
func (t *Transaction) TransitionTo(status shared.TransactionStatus, now time.Time) (bool, error) {
	if t.Status == status {
		return false, nil
	}
	if !CanTransition(t.Status, status) {
		return false, ErrInvalidTransition{TransactionID: t.ID, From: t.Status, To: status}
	}
	t.Status = status
	t.UpdatedAt = now
	if status.IsTerminal() {
		processed := now
		t.ProcessedAt = &processed
	}
	return true, nil
}

// AppendDescription adds a note to the description
func (t *Transaction) AppendDescription(note string) {
	if note == "" {
		return
	}
	if t.Description == "" {
		t.Description = note
		return
	}
	t.Description = t.Description + "; " + note
}

// SetMeta sets one metadata key
func (t *Transaction) SetMeta(key, value string) {
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	t.Metadata[key] = value
}

// Meta returns a metadata value or ""
func (t *Transaction) Meta(key string) string {
	return t.Metadata[key]
}

// ErrInvalidTransition indicates an edge that is not part of the status DAG
type ErrInvalidTransition struct {
	TransactionID uuid.UUID
	From          shared.TransactionStatus
	To            shared.TransactionStatus
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid status transition for transaction %s: %s -> %s", e.TransactionID, e.From, e.To)
}

// Is matches any ErrInvalidTransition when the target is zero
func (e ErrInvalidTransition) Is(target error) bool {
	t, ok := target.(ErrInvalidTransition)
	if !ok {
		return false
	}
	if t.TransactionID == uuid.Nil {
		return true
	}
	return e == t
}
