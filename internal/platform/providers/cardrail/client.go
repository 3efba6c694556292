// Package cardrail is the gateway to the card-network provider: payment intents,
// transfers to connected accounts, payouts, balance and account lookups, and
// webhook signature verification.
package cardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rental-payments-ledger/internal/config"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/platform/metrics"
	"github.com/rental-payments-ledger/internal/platform/providers"
	"github.com/shopspring/decimal"
)

const providerName = string(shared.ProviderCardRail)

// Payment intent statuses mirrored onto transactions
const (
	IntentRequiresAction = "requires_action"
	IntentProcessing     = "processing"
	IntentSucceeded      = "succeeded"
	IntentCanceled       = "canceled"
)

type PaymentIntent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type PaymentIntentParams struct {
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Customer      string            `json:"customer,omitempty"`
	CaptureMethod string            `json:"capture_method,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type Transfer struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
}

type TransferParams struct {
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Destination   string            `json:"destination"`
	TransferGroup string            `json:"transfer_group,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type Payout struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	Destination string `json:"destination,omitempty"`
}

type PayoutParams struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Destination string            `json:"destination,omitempty"`
	Method      string            `json:"method,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type BalanceAmount struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type Balance struct {
	Available []BalanceAmount `json:"available"`
	Pending   []BalanceAmount `json:"pending"`
}

// ExternalAccount is the bank account a connected account pays out to
type ExternalAccount struct {
	ID                string `json:"id"`
	Object            string `json:"object"`
	Country           string `json:"country"`
	Currency          string `json:"currency"`
	AccountHolderName string `json:"account_holder_name"`
	BankName          string `json:"bank_name"`
	IBAN              string `json:"iban,omitempty"`
	BIC               string `json:"bic,omitempty"`
	AccountNumber     string `json:"account_number,omitempty"`
	RoutingNumber     string `json:"routing_number,omitempty"`
	Last4             string `json:"last4"`
}

type Account struct {
	ID               string            `json:"id"`
	Country          string            `json:"country"`
	DefaultCurrency  string            `json:"default_currency"`
	PayoutsEnabled   bool              `json:"payouts_enabled"`
	ExternalAccounts []ExternalAccount `json:"external_accounts"`
}

// PrimaryBankAccount returns the first bank account attached to the account
func (a *Account) PrimaryBankAccount() (ExternalAccount, bool) {
	for _, ea := range a.ExternalAccounts {
		if ea.Object == "" || ea.Object == "bank_account" {
			return ea, true
		}
	}
	return ExternalAccount{}, false
}

type Client struct {
	transport *providers.Transport
}

func NewClient(cfg config.ProviderConfig, logger *slog.Logger, m *metrics.Metrics) *Client {
	return &Client{transport: providers.NewTransport(providerName, cfg, decodeError, logger, m)}
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(status int, body []byte) *providers.Error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || (env.Error.Code == "" && env.Error.Message == "") {
		return nil
	}
	code := env.Error.Code
	if code == "" {
		code = env.Error.Type
	}
	return providers.NewStatusError(providerName, status, code, env.Error.Message)
}

// ToMinorUnits converts a decimal amount to the integer minor units the rail expects
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts rail minor units to a decimal amount
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func (c *Client) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams, idempotencyKey string) (*PaymentIntent, error) {
	var pi PaymentIntent
	err := c.transport.Do(ctx, providers.Request{
		Method:         http.MethodPost,
		Path:           "/v1/payment_intents",
		Body:           params,
		IdempotencyKey: idempotencyKey,
	}, &pi)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return &pi, nil
}

// ConfirmPaymentIntent finishes an intent after the customer completed authentication
func (c *Client) ConfirmPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var pi PaymentIntent
	err := c.transport.Do(ctx, providers.Request{
		Method: http.MethodPost,
		Path:   "/v1/payment_intents/" + url.PathEscape(id) + "/confirm",
	}, &pi)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm payment intent: %w", err)
	}
	return &pi, nil
}

func (c *Client) CapturePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var pi PaymentIntent
	err := c.transport.Do(ctx, providers.Request{
		Method: http.MethodPost,
		Path:   "/v1/payment_intents/" + url.PathEscape(id) + "/capture",
	}, &pi)
	if err != nil {
		return nil, fmt.Errorf("failed to capture payment intent: %w", err)
	}
	return &pi, nil
}

func (c *Client) CancelPaymentIntent(ctx context.Context, id, reason string) (*PaymentIntent, error) {
	var pi PaymentIntent
	err := c.transport.Do(ctx, providers.Request{
		Method: http.MethodPost,
		Path:   "/v1/payment_intents/" + url.PathEscape(id) + "/cancel",
		Body:   map[string]string{"cancellation_reason": reason},
	}, &pi)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel payment intent: %w", err)
	}
	return &pi, nil
}

// CreateTransfer moves platform funds to a connected account
func (c *Client) CreateTransfer(ctx context.Context, params TransferParams, idempotencyKey string) (*Transfer, error) {
	var tr Transfer
	err := c.transport.Do(ctx, providers.Request{
		Method:         http.MethodPost,
		Path:           "/v1/transfers",
		Body:           params,
		IdempotencyKey: idempotencyKey,
	}, &tr)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}
	return &tr, nil
}

// CreatePayout sends funds to a bank account. Settlement is reported later by webhook.
func (c *Client) CreatePayout(ctx context.Context, params PayoutParams, idempotencyKey string) (*Payout, error) {
	var po Payout
	err := c.transport.Do(ctx, providers.Request{
		Method:         http.MethodPost,
		Path:           "/v1/payouts",
		Body:           params,
		IdempotencyKey: idempotencyKey,
	}, &po)
	if err != nil {
		return nil, fmt.Errorf("failed to create payout: %w", err)
	}
	return &po, nil
}

func (c *Client) RetrieveBalance(ctx context.Context) (*Balance, error) {
	var b Balance
	if err := c.transport.Do(ctx, providers.Request{Method: http.MethodGet, Path: "/v1/balance"}, &b); err != nil {
		return nil, fmt.Errorf("failed to retrieve balance: %w", err)
	}
	return &b, nil
}

func (c *Client) RetrieveAccount(ctx context.Context, accountID string) (*Account, error) {
	var a Account
	err := c.transport.Do(ctx, providers.Request{
		Method: http.MethodGet,
		Path:   "/v1/accounts/" + url.PathEscape(accountID),
	}, &a)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve account: %w", err)
	}
	return &a, nil
}
