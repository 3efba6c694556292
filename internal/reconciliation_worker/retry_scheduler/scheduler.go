// Package retry_scheduler re-drives webhook events whose dispatch failed or never
// finished, and purges finished events after the retention window.
package retry_scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/rental-payments-ledger/internal/config"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/webhook"
	"github.com/rental-payments-ledger/internal/platform/clock"
	"github.com/rental-payments-ledger/internal/platform/messaging/producers"
	"github.com/rental-payments-ledger/internal/platform/metrics"
	"github.com/rental-payments-ledger/internal/reconciliation"
)

// Retry outcomes reported to metrics
const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeExhausted = "exhausted"
	outcomeClaimLost = "claim_lost"
)

// Scheduler walks the dedup store on a fixed interval. Events of one batch are
// retried concurrently on a worker pool; attempts of the same event run in order
// with the configured backoff between them.
type Scheduler struct {
	repo       webhook.Repository
	dispatcher reconciliation.EventDispatcher
	dlq        producers.DeadLetterPublisher
	notifier   shared.Notifier
	pool       *ants.Pool
	cfg        config.RetryConfig
	clock      clock.Clock
	metrics    *metrics.Metrics
	logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewScheduler(
	logger *slog.Logger,
	cfg config.RetryConfig,
	poolSize int,
	repo webhook.Repository,
	dispatcher reconciliation.EventDispatcher,
	dlq producers.DeadLetterPublisher,
	notifier shared.Notifier,
	m *metrics.Metrics,
	clk clock.Clock,
) (*Scheduler, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry worker pool: %w", err)
	}

	return &Scheduler{
		repo:       repo,
		dispatcher: dispatcher,
		dlq:        dlq,
		notifier:   notifier,
		pool:       pool,
		cfg:        cfg,
		clock:      clk,
		metrics:    m,
		logger:     logger.With("component", "retry_scheduler"),
		sleep:      sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start runs retry passes until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting Retry Scheduler",
		"interval", s.cfg.Interval.String(),
		"batch_size", s.cfg.BatchSize,
		"max_attempts", s.cfg.MaxAttempts,
		"workers", s.pool.Cap(),
	)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retry Scheduler stopping due to context cancellation")
			return
		case <-ticker.C:
			if err := s.processBatch(ctx); err != nil {
				s.logger.Error("Error during retry pass", "error", err)
			}
		}
	}
}

// StartPurge deletes finished events older than the retention window until ctx is cancelled
func (s *Scheduler) StartPurge(ctx context.Context) {
	s.logger.Info("Starting webhook event purge", "interval", s.cfg.PurgeInterval.String(), "retention", s.cfg.Retention.String())
	ticker := time.NewTicker(s.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.purge(ctx); err != nil {
				s.logger.Error("Error during webhook event purge", "error", err)
			}
		}
	}
}

func (s *Scheduler) purge(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.cfg.Retention)
	deleted, err := s.repo.PurgeProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge webhook events: %w", err)
	}
	s.metrics.ObservePurge(deleted)
	if deleted > 0 {
		s.logger.Info("Purged finished webhook events", "count", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// Shutdown waits for running retries and releases the pool
func (s *Scheduler) Shutdown() {
	s.logger.Info("Shutting down retry worker pool", "running_workers", s.pool.Running())
	s.pool.Release()
}

func (s *Scheduler) processBatch(ctx context.Context) error {
	receivedBefore := s.clock.Now().Add(-s.cfg.GracePeriod)
	records, err := s.repo.ListUnprocessed(ctx, s.cfg.BatchSize, s.cfg.MaxAttempts, receivedBefore)
	if err != nil {
		return fmt.Errorf("failed to list unprocessed webhook events: %w", err)
	}
	if len(records) == 0 {
		s.logger.Debug("No webhook events to retry")
		return nil
	}

	s.logger.Info("Fetched webhook events for retry", "count", len(records))

	var wg sync.WaitGroup
	for _, rec := range records {
		rec := rec
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			s.retryEvent(ctx, rec)
		}); err != nil {
			wg.Done()
			s.logger.Error("Failed to submit retry to worker pool", "event_id", rec.ID, "error", err)
		}
	}
	wg.Wait()
	return nil
}

// backoff is the delay before claiming attempt retryCount+1. Attempts past the
// end of the list reuse its last entry.
func (s *Scheduler) backoff(retryCount int) time.Duration {
	if len(s.cfg.Backoff) == 0 {
		return 0
	}
	i := retryCount
	if i >= len(s.cfg.Backoff) {
		i = len(s.cfg.Backoff) - 1
	}
	return s.cfg.Backoff[i]
}

// retryEvent attempts rec until it succeeds, its budget is spent or another worker
// claims it. Every attempt is claimed with a compare-and-swap on retry_count first.
// A record listed with its budget already spent only gets marked exhausted.
func (s *Scheduler) retryEvent(ctx context.Context, rec *webhook.Record) {
	logger := s.logger.With("event_id", rec.ID, "kind", string(rec.Kind), "provider", string(rec.Provider))

	if rec.RetryCount >= s.cfg.MaxAttempts {
		lastErr := rec.Error()
		if lastErr == "" {
			lastErr = webhook.MaxRetriesExceeded
		}
		s.exhaust(ctx, logger, rec, errors.New(lastErr))
		return
	}

	evt, decodeErr := webhook.Decode(rec.Provider, rec.Payload)

	for rec.RetryCount < s.cfg.MaxAttempts {
		if err := s.sleep(ctx, s.backoff(rec.RetryCount)); err != nil {
			return
		}

		claimed, err := s.repo.IncrementRetry(ctx, rec.ID, rec.RetryCount, s.clock.Now())
		if err != nil {
			logger.Error("Failed to claim retry attempt", "error", err)
			return
		}
		if !claimed {
			logger.Info("Retry attempt claimed elsewhere, skipping")
			s.metrics.ObserveRetry(outcomeClaimLost)
			return
		}
		rec.RetryCount++

		dispatchErr := decodeErr
		if dispatchErr == nil {
			dispatchErr = s.dispatcher.Dispatch(ctx, evt)
		}
		if dispatchErr == nil {
			if err := s.repo.MarkProcessed(ctx, rec.ID, s.clock.Now()); err != nil {
				logger.Error("Failed to mark retried event processed", "error", err)
			}
			logger.Info("Retried webhook event processed", "retry_count", rec.RetryCount)
			s.metrics.ObserveRetry(outcomeSucceeded)
			return
		}

		logger.Warn("Retry attempt failed", "retry_count", rec.RetryCount, "error", dispatchErr)
		if rec.RetryCount >= s.cfg.MaxAttempts {
			s.exhaust(ctx, logger, rec, dispatchErr)
			return
		}

		if err := s.repo.MarkFailed(ctx, rec.ID, dispatchErr.Error(), s.clock.Now()); err != nil {
			logger.Error("Failed to record failed retry", "error", err)
		}
		s.metrics.ObserveRetry(outcomeFailed)
	}
}

// exhaust marks the event terminal, parks it on the DLQ and tells operators
func (s *Scheduler) exhaust(ctx context.Context, logger *slog.Logger, rec *webhook.Record, lastErr error) {
	logger.Error("Webhook event exhausted its retries", "retry_count", rec.RetryCount, "last_error", lastErr)
	s.metrics.ObserveRetry(outcomeExhausted)

	if err := s.repo.MarkExhausted(ctx, rec.ID, webhook.MaxRetriesExceeded, s.clock.Now()); err != nil {
		logger.Error("Failed to mark webhook event exhausted", "error", err)
	}

	if s.dlq != nil {
		reason := fmt.Sprintf("%s: %v", webhook.MaxRetriesExceeded, lastErr)
		if err := s.dlq.PublishToDLQ(ctx, rec.ID, rec.Payload, reason); err != nil {
			logger.Error("Failed to publish exhausted event to DLQ", "error", err)
		}
	}

	s.notifier.Notify(ctx, shared.NewNotification(
		"Webhook event exhausted retries",
		fmt.Sprintf("Event %s could not be applied after %d attempts", rec.ID, rec.RetryCount),
		shared.SeverityCritical,
		shared.CategoryWebhook,
		s.clock.Now(),
	).With("event_id", rec.ID).With("kind", string(rec.Kind)).With("last_error", lastErr.Error()))
}
