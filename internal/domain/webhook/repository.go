package webhook

import (
	"context"
	"time"
)

// Repository is the deduplication store. The unique event id is the only
// cross-request ordering primitive: Store returns ErrDuplicateEvent for a known id.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Record, error)
	IsProcessed(ctx context.Context, id string) (bool, error)
	Store(ctx context.Context, record *Record) error

	MarkProcessed(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id string, reason string, now time.Time) error
	MarkExhausted(ctx context.Context, id string, reason string, now time.Time) error

	// IncrementRetry claims the next attempt. It returns false when another
	// worker already moved retry_count past expected or finished the event.
	IncrementRetry(ctx context.Context, id string, expected int, now time.Time) (bool, error)

	// ListUnprocessed returns FAILED records and RECEIVED records older than
	// receivedBefore, oldest first. Records with retry_count >= maxAttempts are
	// listed ahead of the rest so the caller can mark them exhausted.
	ListUnprocessed(ctx context.Context, limit, maxAttempts int, receivedBefore time.Time) ([]*Record, error)

	PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ErrEventNotFound indicates an unknown event id
type ErrEventNotFound struct {
	EventID string
}

func (e ErrEventNotFound) Error() string {
	return "webhook event not found: " + e.EventID
}

// Is matches any ErrEventNotFound when the target id is empty
func (e ErrEventNotFound) Is(target error) bool {
	t, ok := target.(ErrEventNotFound)
	if !ok {
		return false
	}
	return t.EventID == "" || t.EventID == e.EventID
}

// ErrDuplicateEvent indicates the id is already stored
type ErrDuplicateEvent struct {
	EventID string
}

func (e ErrDuplicateEvent) Error() string {
	return "duplicate webhook event: " + e.EventID
}

// Is matches any ErrDuplicateEvent when the target id is empty
func (e ErrDuplicateEvent) Is(target error) bool {
	t, ok := target.(ErrDuplicateEvent)
	if !ok {
		return false
	}
	return t.EventID == "" || t.EventID == e.EventID
}
