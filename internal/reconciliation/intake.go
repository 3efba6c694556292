package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/webhook"
	"github.com/rental-payments-ledger/internal/platform/clock"
	"github.com/rental-payments-ledger/internal/platform/metrics"
	"github.com/rental-payments-ledger/internal/platform/providers/banktransfer"
	"github.com/rental-payments-ledger/internal/platform/providers/cardrail"
	"github.com/rental-payments-ledger/internal/platform/ratelimit"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// Intake outcomes reported to metrics
const (
	outcomeAccepted    = "accepted"
	outcomeDuplicate   = "duplicate"
	outcomeRejected    = "rejected"
	outcomeFailed      = "failed"
	outcomeRateLimited = "rate_limited"
	outcomeUnsigned    = "invalid_signature"
	outcomeMalformed   = "malformed"
)

// Delivery is one inbound webhook request
type Delivery struct {
	Provider      shared.Provider
	Body          []byte
	Signature     string
	SourceAddress string
	UserAgent     string
}

// Outcome is what the caller reports back to the provider
type Outcome struct {
	EventID   string
	Kind      webhook.Kind
	Status    webhook.Status
	Duplicate bool
	Error     string
	Decision  ratelimit.Decision
}

// EventDispatcher applies a validated event
type EventDispatcher interface {
	Dispatch(ctx context.Context, evt *webhook.Event) error
}

// SignatureVerifier checks a provider signature over the raw body
type SignatureVerifier func(body []byte, header string, now time.Time) error

// Verifiers builds the signature checks of both providers from their shared secrets
func Verifiers(cardRailSecret, bankRailSecret string, tolerance time.Duration) map[shared.Provider]SignatureVerifier {
	return map[shared.Provider]SignatureVerifier{
		shared.ProviderCardRail: func(body []byte, header string, now time.Time) error {
			return cardrail.VerifySignature(body, header, cardRailSecret, now, tolerance)
		},
		shared.ProviderBankTransfer: func(body []byte, header string, _ time.Time) error {
			return banktransfer.VerifySignature(body, header, bankRailSecret)
		},
	}
}

// Intake runs a delivery through rate limiting, signature and structure checks,
// deduplication, semantic validation and dispatch.
type Intake struct {
	limiter    *ratelimit.Limiter
	verifiers  map[shared.Provider]SignatureVerifier
	validator  *Validator
	dedup      *DedupStore
	dispatcher EventDispatcher
	notifier   shared.Notifier
	clock      clock.Clock
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewIntake(
	logger *slog.Logger,
	limiter *ratelimit.Limiter,
	verifiers map[shared.Provider]SignatureVerifier,
	validator *Validator,
	dedup *DedupStore,
	dispatcher EventDispatcher,
	notifier shared.Notifier,
	m *metrics.Metrics,
	clk clock.Clock,
) *Intake {
	return &Intake{
		limiter:    limiter,
		verifiers:  verifiers,
		validator:  validator,
		dedup:      dedup,
		dispatcher: dispatcher,
		notifier:   notifier,
		clock:      clk,
		metrics:    m,
		logger:     logger.With("component", "intake"),
	}
}

// Receive handles one delivery. Rate limit, signature and structure failures
// return an error without storing anything. A semantically invalid event is
// stored as REJECTED for audit and returned with a *ValidationError. A dispatch
// failure is not an error: the event is stored as FAILED for the retry scheduler.
func (in *Intake) Receive(ctx context.Context, d Delivery) (*Outcome, error) {
	provider := string(d.Provider)
	logger := in.logger.With("provider", provider, "source_address", d.SourceAddress)
	out := &Outcome{}

	out.Decision = in.limiter.Allow(ctx,
		ratelimit.Check{Scope: ratelimit.ScopeGlobal, Subject: "webhooks"},
		ratelimit.Check{Scope: ratelimit.ScopeAddress, Subject: d.SourceAddress},
	)
	if !out.Decision.Allowed {
		in.metrics.ObserveWebhookEvent(provider, outcomeRateLimited)
		return out, ErrRateLimited
	}

	verify, ok := in.verifiers[d.Provider]
	if !ok {
		in.metrics.ObserveWebhookEvent(provider, outcomeMalformed)
		return out, fmt.Errorf("%w: %s", webhook.ErrUnknownProvider, provider)
	}
	if err := verify(d.Body, d.Signature, in.clock.Now()); err != nil {
		logger.Warn("Rejected webhook with invalid signature", "error", err)
		in.metrics.ObserveWebhookEvent(provider, outcomeUnsigned)
		return out, fmt.Errorf("%w: %v", webhook.ErrInvalidSignature, err)
	}

	evt, err := webhook.Decode(d.Provider, d.Body)
	if err != nil {
		logger.Warn("Rejected malformed webhook", "error", err)
		in.metrics.ObserveWebhookEvent(provider, outcomeMalformed)
		return out, err
	}
	out.EventID, out.Kind = evt.ID, evt.Kind
	logger = logger.With("event_id", evt.ID, "kind", string(evt.Kind))

	kindDecision := in.limiter.Allow(ctx, ratelimit.Check{Scope: ratelimit.ScopeEventKind, Subject: evt.RawKind})
	if !kindDecision.Allowed {
		out.Decision = kindDecision
		in.metrics.ObserveWebhookEvent(provider, outcomeRateLimited)
		return out, ErrRateLimited
	}
	if kindDecision.Limit > 0 && (out.Decision.Limit == 0 || kindDecision.Remaining < out.Decision.Remaining) {
		out.Decision = kindDecision
	}

	prior, err := in.dedup.Lookup(ctx, evt.ID)
	if err != nil {
		logger.Error("Failed to look up webhook event", "error", err)
		return out, fmt.Errorf("failed to look up event %s: %w", evt.ID, err)
	}
	if prior != nil {
		return in.duplicate(logger, out, prior), nil
	}

	now := in.clock.Now()
	rec := webhook.NewRecord(evt, d.Body, d.SourceAddress, d.UserAgent, now)

	validationErr := in.validator.Validate(evt)
	if validationErr != nil {
		reason := validationErr.Error()
		rec.Status = webhook.StatusRejected
		rec.Processed = true
		rec.ProcessingError = &reason
		rec.ProcessedAt = &now
	}

	prior, err = in.dedup.Store(ctx, rec)
	if err != nil {
		if errors.Is(err, webhook.ErrDuplicateEvent{}) {
			if prior == nil {
				prior = &webhook.Record{ID: evt.ID, Kind: evt.Kind, Status: webhook.StatusReceived}
			}
			return in.duplicate(logger, out, prior), nil
		}
		logger.Error("Failed to store webhook event", "error", err)
		return out, fmt.Errorf("failed to store event %s: %w", evt.ID, err)
	}

	if validationErr != nil {
		logger.Warn("Rejected invalid webhook event", "error", validationErr)
		in.metrics.ObserveWebhookEvent(provider, outcomeRejected)
		out.Status = webhook.StatusRejected
		out.Error = validationErr.Error()
		return out, validationErr
	}

	out.Status, out.Error = in.process(ctx, logger, evt)
	if out.Status == webhook.StatusFailed {
		in.metrics.ObserveWebhookEvent(provider, outcomeFailed)
	} else {
		in.metrics.ObserveWebhookEvent(provider, outcomeAccepted)
	}
	return out, nil
}

func (in *Intake) duplicate(logger *slog.Logger, out *Outcome, prior *webhook.Record) *Outcome {
	logger.Info("Duplicate webhook event", "prior_status", string(prior.Status))
	in.metrics.ObserveWebhookEvent(string(prior.Provider), outcomeDuplicate)
	out.Duplicate = true
	out.Status = prior.Status
	out.Error = prior.Error()
	return out
}

// process dispatches a stored event and records the result
func (in *Intake) process(ctx context.Context, logger *slog.Logger, evt *webhook.Event) (webhook.Status, string) {
	if err := in.dispatcher.Dispatch(ctx, evt); err != nil {
		reason := err.Error()
		logger.Error("Failed to dispatch webhook event", "error", err)
		if markErr := in.dedup.MarkFailed(ctx, evt.ID, reason, in.clock.Now()); markErr != nil {
			logger.Error("Failed to mark webhook event failed", "error", markErr)
		}
		in.notifier.Notify(ctx, shared.NewNotification(
			"Webhook processing failed",
			"A provider event could not be applied and was queued for retry",
			shared.SeverityWarning,
			shared.CategoryWebhook,
			in.clock.Now(),
		).With("event_id", evt.ID).With("kind", string(evt.Kind)).With("error", reason))
		return webhook.StatusFailed, reason
	}

	if err := in.dedup.MarkProcessed(ctx, evt.ID, in.clock.Now()); err != nil {
		// the retry scheduler finds the RECEIVED record again; handlers are idempotent
		logger.Error("Failed to mark webhook event processed", "error", err)
	}
	logger.Info("Webhook event processed")
	return webhook.StatusProcessed, ""
}
