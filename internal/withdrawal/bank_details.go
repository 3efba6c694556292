// Package withdrawal validates payout destinations and routes withdrawals to a payout rail.
package withdrawal

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/rental-payments-ledger/internal/domain/shared"
)

var (
	ErrInvalidIBAN          = errors.New("invalid IBAN")
	ErrInvalidBIC           = errors.New("invalid BIC")
	ErrMissingAccountNumber = errors.New("account number and routing number are required")
	ErrMissingHolderName    = errors.New("account holder name is required")
	ErrMissingAccountID     = errors.New("connected account id is required")
	ErrMethodRequired       = errors.New("withdrawal method is required")
	ErrUnsupportedMethod    = errors.New("unsupported withdrawal method")
	ErrNoCurrency           = errors.New("cannot derive payout currency")
)

var (
	bicPattern         = regexp.MustCompile(`^[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
	ibanPattern        = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}$`)
	accountNumberChars = regexp.MustCompile(`^[0-9]{4,17}$`)
)

// BankDetails is the payout destination supplied with a withdrawal
type BankDetails struct {
	AccountHolderName  string `json:"account_holder_name"`
	IBAN               string `json:"iban,omitempty"`
	BIC                string `json:"bic,omitempty"`
	AccountNumber      string `json:"account_number,omitempty"`
	RoutingNumber      string `json:"routing_number,omitempty"`
	SortCode           string `json:"sort_code,omitempty"`
	Country            string `json:"country,omitempty"`
	Currency           string `json:"currency,omitempty"`
	ConnectedAccountID string `json:"connected_account_id,omitempty"`
}

// Normalize strips spacing and upper-cases the codes
func (d BankDetails) Normalize() BankDetails {
	d.AccountHolderName = strings.TrimSpace(d.AccountHolderName)
	d.IBAN = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(d.IBAN), " ", ""))
	d.BIC = strings.ToUpper(strings.TrimSpace(d.BIC))
	d.AccountNumber = strings.ReplaceAll(strings.TrimSpace(d.AccountNumber), " ", "")
	d.RoutingNumber = strings.TrimSpace(d.RoutingNumber)
	d.SortCode = strings.ReplaceAll(strings.TrimSpace(d.SortCode), "-", "")
	d.Country = strings.ToUpper(strings.TrimSpace(d.Country))
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	d.ConnectedAccountID = strings.TrimSpace(d.ConnectedAccountID)
	return d
}

// ValidateIBAN checks the structure and the ISO 13616 mod-97 checksum
func ValidateIBAN(iban string) error {
	iban = strings.ToUpper(strings.ReplaceAll(iban, " ", ""))
	if !ibanPattern.MatchString(iban) {
		return fmt.Errorf("%w: malformed", ErrInvalidIBAN)
	}

	rearranged := iban[4:] + iban[:4]
	var digits strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			fmt.Fprintf(&digits, "%d", r-'A'+10)
		}
	}

	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return fmt.Errorf("%w: malformed", ErrInvalidIBAN)
	}
	if new(big.Int).Mod(n, big.NewInt(97)).Int64() != 1 {
		return fmt.Errorf("%w: checksum mismatch", ErrInvalidIBAN)
	}
	return nil
}

// ValidateBIC checks the SWIFT BIC format (8 or 11 characters)
func ValidateBIC(bic string) error {
	if !bicPattern.MatchString(strings.ToUpper(bic)) {
		return ErrInvalidBIC
	}
	return nil
}

// HasIBAN reports whether the destination is addressed by IBAN
func (d BankDetails) HasIBAN() bool {
	return d.IBAN != ""
}

// HasLocalAccount reports whether the destination is addressed by account and routing number
func (d BankDetails) HasLocalAccount() bool {
	return d.AccountNumber != "" && (d.RoutingNumber != "" || d.SortCode != "")
}

// Validate checks the details required by method
func (d BankDetails) Validate(method shared.WithdrawalMethod) error {
	switch method {
	case shared.WithdrawalMethodStripeConnect:
		if d.ConnectedAccountID == "" {
			return ErrMissingAccountID
		}
		return nil
	case shared.WithdrawalMethodWise, shared.WithdrawalMethodStripePayout:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}

	if d.AccountHolderName == "" {
		return ErrMissingHolderName
	}
	if d.HasIBAN() {
		if err := ValidateIBAN(d.IBAN); err != nil {
			return err
		}
		if d.BIC != "" {
			return ValidateBIC(d.BIC)
		}
		return nil
	}
	if !d.HasLocalAccount() || !accountNumberChars.MatchString(d.AccountNumber) {
		return ErrMissingAccountNumber
	}
	return nil
}

// CountryCode returns the destination country: the IBAN prefix or the explicit field
func (d BankDetails) CountryCode() string {
	if len(d.IBAN) >= 2 {
		return d.IBAN[:2]
	}
	return d.Country
}

// TargetCurrency returns the explicit currency, else the currency of the destination country
func (d BankDetails) TargetCurrency() (string, error) {
	if d.Currency != "" {
		return d.Currency, nil
	}
	if c, ok := CurrencyForCountry(d.CountryCode()); ok {
		return c, nil
	}
	return "", ErrNoCurrency
}

// InferMethod picks a rail from the details supplied: a connected account,
// then an IBAN or local account for the bank rail.
func InferMethod(d BankDetails) (shared.WithdrawalMethod, error) {
	switch {
	case d.ConnectedAccountID != "":
		return shared.WithdrawalMethodStripeConnect, nil
	case d.HasIBAN(), d.HasLocalAccount():
		return shared.WithdrawalMethodWise, nil
	}
	return "", ErrMethodRequired
}
