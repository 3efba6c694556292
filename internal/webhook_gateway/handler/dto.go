package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rental-payments-ledger/internal/domain/journal"
	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/webhook_gateway/service"
	"github.com/rental-payments-ledger/internal/withdrawal"
)

// WebhookResponse acknowledges one provider delivery
type WebhookResponse struct {
	Received    bool   `json:"received"`
	EventID     string `json:"event_id,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Status      string `json:"status,omitempty"`
	IsDuplicate bool   `json:"isDuplicate"`
}

// BankDetailsRequest is a payout destination
type BankDetailsRequest struct {
	AccountHolderName  string `json:"account_holder_name"`
	IBAN               string `json:"iban"`
	BIC                string `json:"bic"`
	AccountNumber      string `json:"account_number"`
	RoutingNumber      string `json:"routing_number"`
	SortCode           string `json:"sort_code"`
	Country            string `json:"country"`
	Currency           string `json:"currency"`
	ConnectedAccountID string `json:"connected_account_id"`
}

func (r BankDetailsRequest) toDetails() withdrawal.BankDetails {
	return withdrawal.BankDetails{
		AccountHolderName:  r.AccountHolderName,
		IBAN:               r.IBAN,
		BIC:                r.BIC,
		AccountNumber:      r.AccountNumber,
		RoutingNumber:      r.RoutingNumber,
		SortCode:           r.SortCode,
		Country:            r.Country,
		Currency:           r.Currency,
		ConnectedAccountID: r.ConnectedAccountID,
	}
}

// CreateWithdrawalRequest represents a request to withdraw available funds
type CreateWithdrawalRequest struct {
	UserID      string             `json:"user_id" binding:"required,uuid"`
	Amount      decimal.Decimal    `json:"amount"`
	Currency    string             `json:"currency" binding:"omitempty,len=3"`
	Method      string             `json:"method" binding:"omitempty,oneof=wise stripe_connect stripe_payout"`
	Description string             `json:"description"`
	BankDetails BankDetailsRequest `json:"bank_details"`
}

// RetryWithdrawalRequest re-drives a withdrawal flagged for review
type RetryWithdrawalRequest struct {
	Method      string             `json:"method" binding:"omitempty,oneof=wise stripe_connect stripe_payout"`
	BankDetails BankDetailsRequest `json:"bank_details"`
}

// TransactionResponse represents a transaction in API responses
type TransactionResponse struct {
	TransactionID     string            `json:"transaction_id"`
	Type              string            `json:"type"`
	Status            string            `json:"status"`
	Amount            string            `json:"amount"`
	Currency          string            `json:"currency"`
	ProviderReference string            `json:"provider_reference,omitempty"`
	ProviderStatus    string            `json:"provider_status,omitempty"`
	Description       string            `json:"description,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         string            `json:"created_at"`
	UpdatedAt         string            `json:"updated_at"`
	ProcessedAt       string            `json:"processed_at,omitempty"`
}

// WithdrawalResponse reports where a withdrawal was routed and what state it is in
type WithdrawalResponse struct {
	Outcome     string               `json:"outcome"`
	Rail        string               `json:"rail,omitempty"`
	Reference   string               `json:"reference,omitempty"`
	Transaction *TransactionResponse `json:"transaction,omitempty"`
}

// FailedWithdrawalResponse identifies a withdrawal the provider refused. Provider
// detail stays in logs and operator notifications.
type FailedWithdrawalResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Rail          string `json:"rail,omitempty"`
}

// WalletResponse represents a wallet in API responses
type WalletResponse struct {
	WalletID        string `json:"wallet_id"`
	UserID          string `json:"user_id"`
	Balance         string `json:"balance"`
	PendingBalance  string `json:"pending_balance"`
	ReservedBalance string `json:"reserved_balance"`
	AvailableAmount string `json:"available_balance"`
	Currency        string `json:"currency"`
	UpdatedAt       string `json:"updated_at"`
}

// JournalEntryResponse represents one wallet movement
type JournalEntryResponse struct {
	ID              string `json:"id"`
	Operation       string `json:"operation"`
	Amount          string `json:"amount"`
	Balance         string `json:"balance"`
	PendingBalance  string `json:"pending_balance"`
	ReservedBalance string `json:"reserved_balance"`
	TransactionID   string `json:"transaction_id,omitempty"`
	BookingID       string `json:"booking_id,omitempty"`
	Note            string `json:"note,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=10" binding:"min=1,max=100"`
}

func mapTransaction(txn *transaction.Transaction) *TransactionResponse {
	if txn == nil {
		return nil
	}
	response := &TransactionResponse{
		TransactionID:     txn.ID.String(),
		Type:              string(txn.Type),
		Status:            string(txn.Status),
		Amount:            txn.Amount.StringFixed(2),
		Currency:          txn.Currency,
		ProviderReference: txn.ProviderReference,
		ProviderStatus:    txn.ProviderStatus,
		Description:       txn.Description,
		Metadata:          txn.Metadata,
		CreatedAt:         txn.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         txn.UpdatedAt.Format(time.RFC3339),
	}
	if txn.ProcessedAt != nil {
		response.ProcessedAt = txn.ProcessedAt.Format(time.RFC3339)
	}
	return response
}

func mapWithdrawalResult(res *withdrawal.Result) WithdrawalResponse {
	return WithdrawalResponse{
		Outcome:     string(res.Outcome),
		Rail:        string(res.Rail),
		Reference:   res.Reference,
		Transaction: mapTransaction(res.Transaction),
	}
}

func mapWallet(view *service.WalletView) WalletResponse {
	w := view.Wallet
	return WalletResponse{
		WalletID:        w.ID.String(),
		UserID:          w.UserID.String(),
		Balance:         w.Balance.StringFixed(2),
		PendingBalance:  w.PendingBalance.StringFixed(2),
		ReservedBalance: w.ReservedBalance.StringFixed(2),
		AvailableAmount: view.Available.StringFixed(2),
		Currency:        w.Currency,
		UpdatedAt:       w.UpdatedAt.Format(time.RFC3339),
	}
}

func mapJournalEntry(e *journal.Entry) JournalEntryResponse {
	response := JournalEntryResponse{
		ID:              e.ID.String(),
		Operation:       string(e.Operation),
		Amount:          e.Amount,
		Balance:         e.Balance,
		PendingBalance:  e.PendingBalance,
		ReservedBalance: e.ReservedBalance,
		Note:            e.Note,
		CreatedAt:       e.CreatedAt.Format(time.RFC3339),
	}
	if e.TransactionID != nil {
		response.TransactionID = e.TransactionID.String()
	}
	if e.BookingID != nil {
		response.BookingID = e.BookingID.String()
	}
	return response
}

func mapFailedWithdrawal(res *withdrawal.Result) *FailedWithdrawalResponse {
	if res == nil || res.Transaction == nil {
		return nil
	}
	return &FailedWithdrawalResponse{
		TransactionID: res.Transaction.ID.String(),
		Status:        string(res.Transaction.Status),
		Rail:          string(res.Rail),
	}
}
