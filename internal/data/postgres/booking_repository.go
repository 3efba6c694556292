package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rental-payments-ledger/internal/domain/booking"
	"github.com/rental-payments-ledger/internal/platform/persistence"
)

// BookingRepository reads bookings owned by the booking service from the shared database
type BookingRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewBookingRepository creates a read-only booking repository
func NewBookingRepository(logger *slog.Logger, db *persistence.PostgresDB) booking.Reader {
	return &BookingRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// GetByID retrieves a booking by its ID
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	query := `
		SELECT id, owner_id, renter_id, status, total_amount, currency
		FROM bookings
		WHERE id = $1
	`

	var b booking.Booking
	err := r.querier.QueryRow(ctx, query, id).Scan(
		&b.ID,
		&b.OwnerID,
		&b.RenterID,
		&b.Status,
		&b.TotalAmount,
		&b.Currency,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, booking.ErrBookingNotFound{BookingID: id}
		}
		r.logger.Error("Failed to get booking", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}
