// Package reconciliation ingests provider webhook events and reconciles internal
// transaction and wallet state with them. Intake gates, validates and deduplicates
// deliveries; the Dispatcher applies the state transition of each event kind.
package reconciliation

import (
	"fmt"
	"regexp"
	"time"

	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/webhook"
	"github.com/rental-payments-ledger/internal/platform/clock"
)

var eventIDFormats = map[shared.Provider]*regexp.Regexp{
	shared.ProviderCardRail:     regexp.MustCompile(`^evt_[A-Za-z0-9]+$`),
	shared.ProviderBankTransfer: regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`),
}

// ValidationError describes why a decoded event was refused
type ValidationError struct {
	EventID string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event %q: %s %s", e.EventID, e.Field, e.Reason)
}

// Validator checks decoded events before they reach business logic
type Validator struct {
	maxAge        time.Duration
	maxFutureSkew time.Duration
	clock         clock.Clock
}

func NewValidator(maxAge, maxFutureSkew time.Duration, clk clock.Clock) *Validator {
	return &Validator{
		maxAge:        maxAge,
		maxFutureSkew: maxFutureSkew,
		clock:         clk,
	}
}

// Validate rejects events missing an id, kind or payload, ids that do not match
// the provider's format, and timestamps outside [now-maxAge, now+maxFutureSkew].
func (v *Validator) Validate(evt *webhook.Event) error {
	if evt.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if evt.Kind == "" || evt.RawKind == "" {
		return &ValidationError{EventID: evt.ID, Field: "kind", Reason: "is required"}
	}
	if evt.Payload == nil {
		return &ValidationError{EventID: evt.ID, Field: "payload", Reason: "is required"}
	}

	format, ok := eventIDFormats[evt.Provider]
	if !ok {
		return &ValidationError{EventID: evt.ID, Field: "provider", Reason: "is not supported"}
	}
	if !format.MatchString(evt.ID) {
		return &ValidationError{EventID: evt.ID, Field: "id", Reason: "does not match the provider format"}
	}

	if evt.CreatedAt.IsZero() {
		return &ValidationError{EventID: evt.ID, Field: "created", Reason: "is required"}
	}
	now := v.clock.Now()
	if age := now.Sub(evt.CreatedAt); age > v.maxAge {
		return &ValidationError{EventID: evt.ID, Field: "created", Reason: fmt.Sprintf("is stale by %s", age.Truncate(time.Second))}
	}
	if ahead := evt.CreatedAt.Sub(now); ahead > v.maxFutureSkew {
		return &ValidationError{EventID: evt.ID, Field: "created", Reason: fmt.Sprintf("is %s in the future", ahead.Truncate(time.Second))}
	}
	return nil
}
