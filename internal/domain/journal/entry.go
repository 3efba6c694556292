package journal

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Operation names a ledger mutation
type Operation string

const (
	OperationAddFunds           Operation = "ADD_FUNDS"
	OperationDeductFunds        Operation = "DEDUCT_FUNDS"
	OperationCreditAvailable    Operation = "CREDIT_AVAILABLE"
	OperationAddPending         Operation = "ADD_PENDING"
	OperationReleasePending     Operation = "RELEASE_PENDING"
	OperationReversePending     Operation = "REVERSE_PENDING"
	OperationReserveWithdrawal  Operation = "RESERVE_WITHDRAWAL"
	OperationRestoreReservation Operation = "RESTORE_RESERVATION"
)

// Entry is an append-only audit record of one wallet mutation and the
// balances it produced. Amounts are stored as strings to keep exact decimals.
type Entry struct {
	ID              uuid.UUID  `json:"id" bson:"_id"`
	WalletID        uuid.UUID  `json:"wallet_id" bson:"wallet_id"`
	UserID          uuid.UUID  `json:"user_id" bson:"user_id"`
	Operation       Operation  `json:"operation" bson:"operation"`
	Amount          string     `json:"amount" bson:"amount"`
	Balance         string     `json:"balance" bson:"balance"`
	PendingBalance  string     `json:"pending_balance" bson:"pending_balance"`
	ReservedBalance string     `json:"reserved_balance" bson:"reserved_balance"`
	TransactionID   *uuid.UUID `json:"transaction_id,omitempty" bson:"transaction_id,omitempty"`
	BookingID       *uuid.UUID `json:"booking_id,omitempty" bson:"booking_id,omitempty"`
	Note            string     `json:"note,omitempty" bson:"note,omitempty"`
	CreatedAt       time.Time  `json:"created_at" bson:"created_at"`
}

// Snapshot captures balances after a mutation
type Snapshot struct {
	WalletID        uuid.UUID
	UserID          uuid.UUID
	Balance         decimal.Decimal
	PendingBalance  decimal.Decimal
	ReservedBalance decimal.Decimal
}

// NewEntry builds an entry from the post-mutation wallet state
func NewEntry(op Operation, amount decimal.Decimal, snap Snapshot, now time.Time) *Entry {
	return &Entry{
		ID:              uuid.New(),
		WalletID:        snap.WalletID,
		UserID:          snap.UserID,
		Operation:       op,
		Amount:          amount.String(),
		Balance:         snap.Balance.String(),
		PendingBalance:  snap.PendingBalance.String(),
		ReservedBalance: snap.ReservedBalance.String(),
		CreatedAt:       now,
	}
}
