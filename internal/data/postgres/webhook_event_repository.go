package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rental-payments-ledger/internal/domain/webhook"
	"github.com/rental-payments-ledger/internal/platform/persistence"
)

const webhookEventColumns = `id, provider, kind, payload, status, processed, processing_error, retry_count,
		last_retry_at, source_address, user_agent, event_created_at, received_at, processed_at`

// WebhookEventRepository is the PostgreSQL deduplication store
type WebhookEventRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewWebhookEventRepository creates a new PostgreSQL webhook event repository
func NewWebhookEventRepository(logger *slog.Logger, db *persistence.PostgresDB) webhook.Repository {
	return &WebhookEventRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func scanWebhookEvent(row rowScanner) (*webhook.Record, error) {
	var rec webhook.Record
	err := row.Scan(
		&rec.ID,
		&rec.Provider,
		&rec.Kind,
		&rec.Payload,
		&rec.Status,
		&rec.Processed,
		&rec.ProcessingError,
		&rec.RetryCount,
		&rec.LastRetryAt,
		&rec.SourceAddress,
		&rec.UserAgent,
		&rec.EventCreatedAt,
		&rec.ReceivedAt,
		&rec.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByID retrieves a stored event
func (r *WebhookEventRepository) GetByID(ctx context.Context, id string) (*webhook.Record, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE id = $1`

	rec, err := scanWebhookEvent(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, webhook.ErrEventNotFound{EventID: id}
		}
		r.logger.Error("Failed to get webhook event", "event_id", id, "error", err)
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return rec, nil
}

// IsProcessed reports the processed flag; unknown ids are not processed
func (r *WebhookEventRepository) IsProcessed(ctx context.Context, id string) (bool, error) {
	query := `SELECT processed FROM webhook_events WHERE id = $1`

	var processed bool
	if err := r.querier.QueryRow(ctx, query, id).Scan(&processed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}
	return processed, nil
}

// Store inserts the record. A known id yields ErrDuplicateEvent and leaves the row untouched.
func (r *WebhookEventRepository) Store(ctx context.Context, rec *webhook.Record) error {
	query := `
		INSERT INTO webhook_events (` + webhookEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.querier.Exec(ctx, query,
		rec.ID,
		rec.Provider,
		rec.Kind,
		rec.Payload,
		rec.Status,
		rec.Processed,
		rec.ProcessingError,
		rec.RetryCount,
		rec.LastRetryAt,
		rec.SourceAddress,
		rec.UserAgent,
		rec.EventCreatedAt,
		rec.ReceivedAt,
		rec.ProcessedAt,
	)
	if err != nil {
		r.logger.Error("Failed to store webhook event", "event_id", rec.ID, "error", err)
		return fmt.Errorf("failed to store webhook event: %w", err)
	}
	if result.RowsAffected() == 0 {
		return webhook.ErrDuplicateEvent{EventID: rec.ID}
	}
	return nil
}

func (r *WebhookEventRepository) finish(ctx context.Context, id string, status webhook.Status, reason *string, now time.Time) error {
	query := `
		UPDATE webhook_events
		SET status = $1, processed = TRUE, processing_error = $2, processed_at = $3
		WHERE id = $4
	`

	result, err := r.querier.Exec(ctx, query, status, reason, now, id)
	if err != nil {
		r.logger.Error("Failed to update webhook event", "event_id", id, "status", string(status), "error", err)
		return fmt.Errorf("failed to update webhook event: %w", err)
	}
	if result.RowsAffected() == 0 {
		return webhook.ErrEventNotFound{EventID: id}
	}
	return nil
}

// MarkProcessed records a successful dispatch and clears any previous error
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id string, now time.Time) error {
	return r.finish(ctx, id, webhook.StatusProcessed, nil, now)
}

// MarkFailed records a failed dispatch; the event stays eligible for retry
func (r *WebhookEventRepository) MarkFailed(ctx context.Context, id string, reason string, now time.Time) error {
	return r.finish(ctx, id, webhook.StatusFailed, &reason, now)
}

// MarkExhausted records the terminal error of an event that ran out of retries
func (r *WebhookEventRepository) MarkExhausted(ctx context.Context, id string, reason string, now time.Time) error {
	return r.finish(ctx, id, webhook.StatusExhausted, &reason, now)
}

// IncrementRetry bumps retry_count only if it still equals expected
func (r *WebhookEventRepository) IncrementRetry(ctx context.Context, id string, expected int, now time.Time) (bool, error) {
	query := `
		UPDATE webhook_events
		SET retry_count = retry_count + 1, last_retry_at = $1
		WHERE id = $2 AND retry_count = $3 AND status IN ('RECEIVED', 'FAILED')
	`

	result, err := r.querier.Exec(ctx, query, now, id, expected)
	if err != nil {
		r.logger.Error("Failed to increment webhook event retry count", "event_id", id, "error", err)
		return false, fmt.Errorf("failed to increment retry count: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ListUnprocessed returns unfinished events. Events whose retry budget is spent
// come first so a failed MarkExhausted is repaired on the next pass.
func (r *WebhookEventRepository) ListUnprocessed(ctx context.Context, limit, maxAttempts int, receivedBefore time.Time) ([]*webhook.Record, error) {
	query := `
		SELECT ` + webhookEventColumns + `
		FROM webhook_events
		WHERE status = 'FAILED' OR (status = 'RECEIVED' AND received_at < $2)
		ORDER BY (retry_count >= $1) DESC, received_at ASC
		LIMIT $3
	`

	rows, err := r.querier.Query(ctx, query, maxAttempts, receivedBefore, limit)
	if err != nil {
		r.logger.Error("Failed to list unprocessed webhook events", "error", err)
		return nil, fmt.Errorf("failed to list unprocessed webhook events: %w", err)
	}
	defer rows.Close()

	var records []*webhook.Record
	for rows.Next() {
		rec, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate webhook events: %w", err)
	}
	return records, nil
}

// PurgeProcessedBefore deletes finished events processed before cutoff
func (r *WebhookEventRepository) PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM webhook_events
		WHERE processed = TRUE
			AND status IN ('PROCESSED', 'REJECTED', 'EXHAUSTED')
			AND processed_at < $1
	`

	result, err := r.querier.Exec(ctx, query, cutoff)
	if err != nil {
		r.logger.Error("Failed to purge webhook events", "cutoff", cutoff, "error", err)
		return 0, fmt.Errorf("failed to purge webhook events: %w", err)
	}
	return result.RowsAffected(), nil
}
