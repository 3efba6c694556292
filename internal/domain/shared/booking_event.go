package shared

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidBookingStatus = errors.New("invalid booking status")
	ErrMissingBookingID     = errors.New("booking id is required")
)

// BookingStatus is the lifecycle state announced by the booking service
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// BookingEvent defines a Kafka message emitted when a booking changes state
type BookingEvent struct {
	EventID       string        `json:"event_id"`
	BookingID     uuid.UUID     `json:"booking_id"`
	Status        BookingStatus `json:"status"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// Validate checks the message before it reaches the ledger
func (e BookingEvent) Validate() error {
	if e.BookingID == uuid.Nil {
		return ErrMissingBookingID
	}
	switch e.Status {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCompleted, BookingStatusCancelled:
		return nil
	}
	return ErrInvalidBookingStatus
}
