// Package booking is the read-only view of rental bookings needed to credit owners.
package booking

import (
	"context"

	"github.com/google/uuid"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Booking is owned by the booking service; only the fields the ledger needs are read
type Booking struct {
	ID          uuid.UUID            `json:"id"`
	OwnerID     uuid.UUID            `json:"owner_id"`
	RenterID    uuid.UUID            `json:"renter_id"`
	Status      shared.BookingStatus `json:"status"`
	TotalAmount decimal.Decimal      `json:"total_amount"`
	Currency    string               `json:"currency"`
}

// Reader resolves bookings by id
type Reader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
}

// ErrBookingNotFound indicates a missing booking
type ErrBookingNotFound struct {
	BookingID uuid.UUID
}

func (e ErrBookingNotFound) Error() string {
	return "booking not found: " + e.BookingID.String()
}

// Is matches any ErrBookingNotFound when the target id is nil
func (e ErrBookingNotFound) Is(target error) bool {
	t, ok := target.(ErrBookingNotFound)
	if !ok {
		return false
	}
	return t.BookingID == uuid.Nil || t.BookingID == e.BookingID
}
