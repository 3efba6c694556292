package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rental-payments-ledger/internal/config"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/webhook"
	"github.com/rental-payments-ledger/internal/platform/clock"
	"github.com/rental-payments-ledger/internal/platform/providers/banktransfer"
	"github.com/rental-payments-ledger/internal/platform/providers/cardrail"
	"github.com/rental-payments-ledger/internal/platform/ratelimit"
)

const (
	cardSecret = "whsec_card"
	bankSecret = "whsec_bank"
)

var intakeNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type intakeFixture struct {
	intake     *Intake
	repo       *memoryEventRepo
	dispatcher *MockDispatcher
	notifier   *MockNotifier
	clock      *clock.Fixed
}

func newIntakeFixture(perAddress int) *intakeFixture {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	clk := clock.NewFixed(intakeNow)
	limiter := ratelimit.NewLimiter(logger, ratelimit.NewMemoryStore(), config.RateLimitConfig{
		Global:       config.RateLimitScopeConfig{MaxRequests: 1000, Window: time.Minute},
		PerAddress:   config.RateLimitScopeConfig{MaxRequests: perAddress, Window: time.Minute},
		PerEventKind: config.RateLimitScopeConfig{MaxRequests: 500, Window: time.Minute},
	}, nil, clk)

	f := &intakeFixture{
		repo:       newMemoryEventRepo(),
		dispatcher: &MockDispatcher{},
		notifier:   &MockNotifier{},
		clock:      clk,
	}
	f.intake = NewIntake(
		logger,
		limiter,
		Verifiers(cardSecret, bankSecret, 5*time.Minute),
		NewValidator(5*time.Minute, time.Hour, clk),
		NewDedupStore(logger, f.repo, 1000, 0.01),
		f.dispatcher,
		f.notifier,
		nil,
		clk,
	)
	return f
}

func cardRailBody(id string, created time.Time) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":"payment_intent.succeeded","created":%d,
		"data":{"object":{"id":"pi_1","amount":10000,"currency":"eur","status":"succeeded"}}}`, id, created.Unix()))
}

func signedCardDelivery(body []byte, now time.Time) Delivery {
	return Delivery{
		Provider:      shared.ProviderCardRail,
		Body:          body,
		Signature:     cardrail.Sign(body, cardSecret, now),
		SourceAddress: "10.1.1.1",
		UserAgent:     "provider/1.0",
	}
}

func TestIntake_SameEventDeliveredNTimes(t *testing.T) {
	f := newIntakeFixture(100)
	ctx := context.Background()
	delivery := signedCardDelivery(cardRailBody("evt_repeat", intakeNow), intakeNow)

	f.dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(e *webhook.Event) bool {
		return e.ID == "evt_repeat" && e.Kind == webhook.KindPaymentSucceeded
	})).Return(nil).Once()

	first, err := f.intake.Receive(ctx, delivery)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, webhook.StatusProcessed, first.Status)

	for i := 0; i < 4; i++ {
		out, err := f.intake.Receive(ctx, delivery)
		require.NoError(t, err)
		assert.True(t, out.Duplicate)
		assert.Equal(t, webhook.StatusProcessed, out.Status)
		assert.Equal(t, "evt_repeat", out.EventID)
	}

	f.dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)
	rec, err := f.repo.GetByID(ctx, "evt_repeat")
	require.NoError(t, err)
	assert.True(t, rec.Processed)
	assert.Equal(t, "10.1.1.1", rec.SourceAddress)
}

func TestIntake_ConcurrentDeliveriesDispatchOnce(t *testing.T) {
	f := newIntakeFixture(100)
	ctx := context.Background()
	delivery := signedCardDelivery(cardRailBody("evt_race", intakeNow), intakeNow)

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(nil)

	const deliveries = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	duplicates := 0
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.intake.Receive(ctx, delivery)
			assert.NoError(t, err)
			if out != nil && out.Duplicate {
				mu.Lock()
				duplicates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	f.dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)
	assert.Equal(t, deliveries-1, duplicates)
}

func TestIntake_InvalidSignatureStoresNothing(t *testing.T) {
	f := newIntakeFixture(100)
	delivery := signedCardDelivery(cardRailBody("evt_forged", intakeNow), intakeNow)
	delivery.Signature = cardrail.Sign(delivery.Body, "wrong-secret", intakeNow)

	_, err := f.intake.Receive(context.Background(), delivery)
	assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
	assert.Empty(t, f.repo.records)
	f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestIntake_MalformedBodyStoresNothing(t *testing.T) {
	f := newIntakeFixture(100)
	body := []byte(`{"type":"payment_intent.succeeded"}`)

	_, err := f.intake.Receive(context.Background(), signedCardDelivery(body, intakeNow))
	assert.ErrorIs(t, err, webhook.ErrMalformedEvent)
	assert.Empty(t, f.repo.records)
}

func TestIntake_StaleEventIsRejectedAndKeptForAudit(t *testing.T) {
	f := newIntakeFixture(100)
	ctx := context.Background()
	delivery := signedCardDelivery(cardRailBody("evt_stale", intakeNow.Add(-10*time.Minute)), intakeNow)

	out, err := f.intake.Receive(ctx, delivery)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, webhook.StatusRejected, out.Status)

	rec, err := f.repo.GetByID(ctx, "evt_stale")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusRejected, rec.Status)
	assert.True(t, rec.Processed)
	assert.False(t, rec.Retryable(3))

	again, err := f.intake.Receive(ctx, delivery)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, webhook.StatusRejected, again.Status)
	f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestIntake_DispatchFailureIsQueuedForRetry(t *testing.T) {
	f := newIntakeFixture(100)
	ctx := context.Background()
	delivery := signedCardDelivery(cardRailBody("evt_fail", intakeNow), intakeNow)

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(errors.New("transaction not found for provider reference: pi_1"))
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n shared.Notification) bool {
		return n.Category == shared.CategoryWebhook && n.Details["event_id"] == "evt_fail"
	})).Once()

	out, err := f.intake.Receive(ctx, delivery)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusFailed, out.Status)
	assert.Contains(t, out.Error, "pi_1")

	rec, err := f.repo.GetByID(ctx, "evt_fail")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusFailed, rec.Status)
	assert.True(t, rec.Retryable(3))
	f.notifier.AssertExpectations(t)
}

func TestIntake_RateLimitedBeforeVerification(t *testing.T) {
	f := newIntakeFixture(2)
	ctx := context.Background()
	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(nil)

	for i := 0; i < 2; i++ {
		body := cardRailBody(fmt.Sprintf("evt_rl%d", i), intakeNow)
		out, err := f.intake.Receive(ctx, signedCardDelivery(body, intakeNow))
		require.NoError(t, err)
		assert.Equal(t, 1-i, out.Decision.Remaining)
	}

	out, err := f.intake.Receive(ctx, Delivery{Provider: shared.ProviderCardRail, SourceAddress: "10.1.1.1", Body: []byte("{}")})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, out.Decision.Allowed)
	assert.Equal(t, ratelimit.ScopeAddress, out.Decision.Scope)
	assert.Equal(t, time.Minute, out.Decision.RetryAfter(f.clock.Now()))

	f.clock.Advance(time.Minute)
	body := cardRailBody("evt_afterwindow", f.clock.Now())
	_, err = f.intake.Receive(ctx, signedCardDelivery(body, f.clock.Now()))
	assert.NoError(t, err)
}

func TestIntake_BankRailEvent(t *testing.T) {
	f := newIntakeFixture(100)
	ctx := context.Background()
	body := []byte(`{"event_id":"0f8fad5b-d9cb-469f-a165-70867728950e","event_type":"transfers#state-change",
		"sent_at":"2026-06-01T11:59:00Z","data":{"resource":{"id":4242,"type":"transfer","reference":""},
		"current_state":"outgoing_payment_sent","previous_state":"processing","amount":"75.00","currency":"gbp"}}`)

	f.dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(e *webhook.Event) bool {
		p, ok := e.Payload.(webhook.TransferPayload)
		return ok && e.Kind == webhook.KindTransferSettled && p.TransferID == "4242"
	})).Return(nil).Once()

	out, err := f.intake.Receive(ctx, Delivery{
		Provider:      shared.ProviderBankTransfer,
		Body:          body,
		Signature:     banktransfer.Sign(body, bankSecret),
		SourceAddress: "10.2.2.2",
	})
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessed, out.Status)
	f.dispatcher.AssertExpectations(t)
}
