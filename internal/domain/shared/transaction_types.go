package shared

// TransactionType defines the kinds of ledger-visible money movement
type TransactionType string

const (
	TransactionTypeDeposit      TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal   TransactionType = "WITHDRAWAL"
	TransactionTypePayment      TransactionType = "PAYMENT"
	TransactionTypeRefund       TransactionType = "REFUND"
	TransactionTypeRentalIncome TransactionType = "RENTAL_INCOME"
	TransactionTypeTransfer     TransactionType = "TRANSFER"
)

// IsValid reports whether t is a known transaction type
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypePayment,
		TransactionTypeRefund, TransactionTypeRentalIncome, TransactionTypeTransfer:
		return true
	}
	return false
}

// TransactionStatus defines transaction processing states
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusConfirmed  TransactionStatus = "CONFIRMED"
	TransactionStatusCompleted  TransactionStatus = "COMPLETED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
	TransactionStatusCancelled  TransactionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed || s == TransactionStatusCancelled
}

// Provider identifies an external payment provider
type Provider string

const (
	ProviderCardRail     Provider = "card_rail"
	ProviderBankTransfer Provider = "bank_transfer"
)

// WithdrawalMethod selects the payout rail of a withdrawal
type WithdrawalMethod string

const (
	WithdrawalMethodWise          WithdrawalMethod = "wise"
	WithdrawalMethodStripeConnect WithdrawalMethod = "stripe_connect"
	WithdrawalMethodStripePayout  WithdrawalMethod = "stripe_payout"
)

// IsValid reports whether m is a supported payout method
func (m WithdrawalMethod) IsValid() bool {
	switch m {
	case WithdrawalMethodWise, WithdrawalMethodStripeConnect, WithdrawalMethodStripePayout:
		return true
	}
	return false
}

// Metadata keys stored on transactions
const (
	MetaRail                  = "rail"
	MetaRequiresManualFunding = "requires_manual_funding"
	MetaRequiresReview        = "requires_review"
	MetaQuoteID               = "quote_id"
	MetaRecipientID           = "recipient_id"
	MetaTransferID            = "transfer_id"
	MetaConnectedAccount      = "connected_account"
	MetaTargetCurrency        = "target_currency"
	MetaDisputeID             = "dispute_id"
)
