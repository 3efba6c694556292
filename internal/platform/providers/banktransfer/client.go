// Package banktransfer is the gateway to the bank-transfer provider: quotes,
// recipients, transfers and their funding, plus profile and balance lookups.
package banktransfer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rental-payments-ledger/internal/config"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/platform/metrics"
	"github.com/rental-payments-ledger/internal/platform/providers"
	"github.com/shopspring/decimal"
)

const providerName = string(shared.ProviderBankTransfer)

// FundingBalance pays a transfer from the profile's multi-currency balance
const FundingBalance = "BALANCE"

// Transfer states reported by the rail
const (
	StateIncomingPaymentWaiting = "incoming_payment_waiting"
	StateProcessing             = "processing"
	StateFundsConverted         = "funds_converted"
	StateOutgoingPaymentSent    = "outgoing_payment_sent"
	StateCancelled              = "cancelled"
	StateFundsRefunded          = "funds_refunded"
	StateBouncedBack            = "bounced_back"
)

type QuoteParams struct {
	SourceCurrency string          `json:"sourceCurrency"`
	TargetCurrency string          `json:"targetCurrency"`
	SourceAmount   decimal.Decimal `json:"sourceAmount"`
	PayOut         string          `json:"payOut"`
}

type Quote struct {
	ID             string          `json:"id"`
	SourceCurrency string          `json:"sourceCurrency"`
	TargetCurrency string          `json:"targetCurrency"`
	SourceAmount   decimal.Decimal `json:"sourceAmount"`
	TargetAmount   decimal.Decimal `json:"targetAmount"`
	Rate           decimal.Decimal `json:"rate"`
}

// RecipientDetails are the rail's bank details fields; which ones apply depends on Type
type RecipientDetails struct {
	LegalType     string `json:"legalType"`
	IBAN          string `json:"iban,omitempty"`
	BIC           string `json:"bic,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	RoutingNumber string `json:"abartn,omitempty"`
	SortCode      string `json:"sortCode,omitempty"`
	AccountType   string `json:"accountType,omitempty"`
}

type RecipientParams struct {
	Currency          string           `json:"currency"`
	Type              string           `json:"type"`
	AccountHolderName string           `json:"accountHolderName"`
	Details           RecipientDetails `json:"details"`
}

type Recipient struct {
	ID       int64  `json:"id"`
	Currency string `json:"currency"`
	Type     string `json:"type"`
}

type TransferParams struct {
	TargetAccount         int64  `json:"targetAccount"`
	QuoteUUID             string `json:"quoteUuid"`
	CustomerTransactionID string `json:"customerTransactionId"`
	Reference             string `json:"reference,omitempty"`
}

type Transfer struct {
	ID             int64           `json:"id"`
	Status         string          `json:"status"`
	SourceCurrency string          `json:"sourceCurrency"`
	TargetCurrency string          `json:"targetCurrency"`
	SourceValue    decimal.Decimal `json:"sourceValue"`
	TargetValue    decimal.Decimal `json:"targetValue"`
}

// Reference is the transfer id as stored on transactions
func (t *Transfer) Reference() string {
	return strconv.FormatInt(t.ID, 10)
}

type FundingResult struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	ErrorCode string `json:"errorCode"`
}

// Funded reports whether the rail accepted the funding
func (f *FundingResult) Funded() bool {
	return f.Status == "COMPLETED"
}

type Profile struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type BalanceAmount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

type Balance struct {
	ID       int64         `json:"id"`
	Currency string        `json:"currency"`
	Amount   BalanceAmount `json:"amount"`
}

type Client struct {
	transport *providers.Transport
	profileID string
}

func NewClient(cfg config.ProviderConfig, logger *slog.Logger, m *metrics.Metrics) *Client {
	return &Client{
		transport: providers.NewTransport(providerName, cfg, decodeError, logger, m),
		profileID: cfg.ProfileID,
	}
}

type errorEnvelope struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeError(status int, body []byte) *providers.Error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	if len(env.Errors) > 0 {
		return providers.NewStatusError(providerName, status, env.Errors[0].Code, env.Errors[0].Message)
	}
	if env.Error != "" {
		return providers.NewStatusError(providerName, status, env.Error, env.ErrorDescription)
	}
	return nil
}

func (c *Client) CreateQuote(ctx context.Context, params QuoteParams) (*Quote, error) {
	var q Quote
	err := c.transport.Do(ctx, providers.Request{
		Method: http.MethodPost,
		Path:   "/v3/profiles/" + c.profileID + "/quotes",
		Body:   params,
	}, &q)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote: %w", err)
	}
	return &q, nil
}

func (c *Client) CreateRecipient(ctx context.Context, params RecipientParams) (*Recipient, error) {
	body := struct {
		Profile string `json:"profile"`
		RecipientParams
	}{Profile: c.profileID, RecipientParams: params}

	var r Recipient
	err := c.transport.Do(ctx, providers.Request{
		Method: http.MethodPost,
		Path:   "/v1/accounts",
		Body:   body,
	}, &r)
	if err != nil {
		return nil, fmt.Errorf("failed to create recipient: %w", err)
	}
	return &r, nil
}

// CreateTransfer creates an unfunded transfer. CustomerTransactionID doubles as the idempotency key.
func (c *Client) CreateTransfer(ctx context.Context, params TransferParams) (*Transfer, error) {
	var t Transfer
	err := c.transport.Do(ctx, providers.Request{
		Method:         http.MethodPost,
		Path:           "/v1/transfers",
		Body:           params,
		IdempotencyKey: params.CustomerTransactionID,
	}, &t)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}
	return &t, nil
}

func (c *Client) FundTransfer(ctx context.Context, transferID int64, fundingType string) (*FundingResult, error) {
	var f FundingResult
	err := c.transport.Do(ctx, providers.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/v3/profiles/%s/transfers/%d/payments", c.profileID, transferID),
		Body:   map[string]string{"type": fundingType},
	}, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to fund transfer: %w", err)
	}
	return &f, nil
}

func (c *Client) GetTransfer(ctx context.Context, transferID int64) (*Transfer, error) {
	var t Transfer
	err := c.transport.Do(ctx, providers.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/v1/transfers/%d", transferID),
	}, &t)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return &t, nil
}

func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var p Profile
	err := c.transport.Do(ctx, providers.Request{
		Method: http.MethodGet,
		Path:   "/v2/profiles/" + c.profileID,
	}, &p)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

func (c *Client) GetBalances(ctx context.Context) ([]Balance, error) {
	var b []Balance
	err := c.transport.Do(ctx, providers.Request{
		Method: http.MethodGet,
		Path:   "/v4/profiles/" + c.profileID + "/balances?types=STANDARD",
	}, &b)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	return b, nil
}
