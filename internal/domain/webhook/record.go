package webhook

import (
	"encoding/json"
	"time"

	"github.com/rental-payments-ledger/internal/domain/shared"
)

// Status is the processing outcome of a stored delivery
type Status string

const (
	StatusReceived  Status = "RECEIVED"  // stored, dispatch not finished
	StatusProcessed Status = "PROCESSED" // dispatched successfully
	StatusFailed    Status = "FAILED"    // dispatch failed, eligible for retry
	StatusRejected  Status = "REJECTED"  // failed validation, kept for audit only
	StatusExhausted Status = "EXHAUSTED" // retry budget spent
)

// MaxRetriesExceeded is the terminal error recorded on exhausted events
const MaxRetriesExceeded = "max retries exceeded"

// Record is the durable dedup entry of one provider event id
type Record struct {
	ID              string          `json:"id"`
	Provider        shared.Provider `json:"provider"`
	Kind            Kind            `json:"kind"`
	Payload         json.RawMessage `json:"payload"`
	Status          Status          `json:"status"`
	Processed       bool            `json:"processed"`
	ProcessingError *string         `json:"processing_error,omitempty"`
	RetryCount      int             `json:"retry_count"`
	LastRetryAt     *time.Time      `json:"last_retry_at,omitempty"`
	SourceAddress   string          `json:"source_address"`
	UserAgent       string          `json:"user_agent"`
	EventCreatedAt  time.Time       `json:"event_created_at"`
	ReceivedAt      time.Time       `json:"received_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
}

// NewRecord builds the RECEIVED record of a freshly decoded event
func NewRecord(evt *Event, raw []byte, sourceAddress, userAgent string, now time.Time) *Record {
	return &Record{
		ID:             evt.ID,
		Provider:       evt.Provider,
		Kind:           evt.Kind,
		Payload:        json.RawMessage(raw),
		Status:         StatusReceived,
		SourceAddress:  sourceAddress,
		UserAgent:      userAgent,
		EventCreatedAt: evt.CreatedAt,
		ReceivedAt:     now,
	}
}

// Error returns the processing error or ""
func (r *Record) Error() string {
	if r.ProcessingError == nil {
		return ""
	}
	return *r.ProcessingError
}

// Retryable reports whether the Retry Scheduler may pick the record up
func (r *Record) Retryable(maxAttempts int) bool {
	if r.Status != StatusReceived && r.Status != StatusFailed {
		return false
	}
	return r.RetryCount < maxAttempts
}
