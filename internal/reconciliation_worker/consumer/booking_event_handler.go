package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rental-payments-ledger/internal/domain/booking"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/wallet"
	"github.com/rental-payments-ledger/internal/ledger"
	"github.com/rental-payments-ledger/internal/platform/metrics"
)

// PendingLedger moves a booking's income out of the owner's pending tier
type PendingLedger interface {
	TransferPendingToAvailable(ctx context.Context, walletID, bookingID uuid.UUID) (*ledger.MovementResult, error)
	WithdrawPendingFunds(ctx context.Context, walletID, bookingID uuid.UUID) (*ledger.MovementResult, error)
}

// BookingEventHandler applies booking lifecycle messages to the owner's wallet.
// Returned errors park the message on the DLQ.
type BookingEventHandler struct {
	bookings booking.Reader
	wallets  wallet.Repository
	ledger   PendingLedger
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewBookingEventHandler(
	logger *slog.Logger,
	bookings booking.Reader,
	wallets wallet.Repository,
	pending PendingLedger,
	m *metrics.Metrics,
) *BookingEventHandler {
	return &BookingEventHandler{
		bookings: bookings,
		wallets:  wallets,
		ledger:   pending,
		metrics:  m,
		logger:   logger.With("component", "booking_event_handler"),
	}
}

// HandleMessage processes one Kafka message
func (h *BookingEventHandler) HandleMessage(ctx context.Context, key []byte, value []byte) (err error) {
	var event shared.BookingEvent
	if err := json.Unmarshal(value, &event); err != nil {
		h.logger.Error("Failed to unmarshal booking event from Kafka message", "error", err, "message_key", string(key))
		h.metrics.ObserveBookingEvent("malformed", err)
		return fmt.Errorf("failed to unmarshal booking event: %w", err)
	}
	if err := event.Validate(); err != nil {
		h.logger.Error("Rejecting invalid booking event", "error", err, "message_key", string(key), "status", string(event.Status))
		h.metrics.ObserveBookingEvent("malformed", err)
		return fmt.Errorf("invalid booking event %s: %w", event.EventID, err)
	}

	defer func() { h.metrics.ObserveBookingEvent(string(event.Status), err) }()

	logger := h.logger.With("booking_id", event.BookingID.String(), "status", string(event.Status))
	if event.CorrelationID != "" {
		logger = logger.With("correlation_id", event.CorrelationID)
	}

	var move func(ctx context.Context, walletID, bookingID uuid.UUID) (*ledger.MovementResult, error)
	switch event.Status {
	case shared.BookingStatusCompleted:
		move = h.ledger.TransferPendingToAvailable
	case shared.BookingStatusCancelled:
		move = h.ledger.WithdrawPendingFunds
	default:
		logger.Debug("Ignoring booking status without ledger effect")
		return nil
	}

	b, err := h.bookings.GetByID(ctx, event.BookingID)
	if err != nil {
		logger.Error("Failed to resolve booking", "error", err)
		return fmt.Errorf("failed to resolve booking %s: %w", event.BookingID, err)
	}
	w, err := h.wallets.GetByUserID(ctx, b.OwnerID)
	if err != nil {
		logger.Error("Failed to resolve owner wallet", "owner_id", b.OwnerID.String(), "error", err)
		return fmt.Errorf("failed to resolve wallet of owner %s: %w", b.OwnerID, err)
	}

	result, err := move(ctx, w.ID, b.ID)
	if err != nil {
		logger.Error("Failed to apply booking event to wallet", "wallet_id", w.ID.String(), "error", err)
		return fmt.Errorf("failed to apply booking %s %s: %w", b.ID, event.Status, err)
	}

	if !result.Applied {
		logger.Info("Booking already settled for wallet", "wallet_id", w.ID.String())
		return nil
	}
	logger.Info("Applied booking event to wallet",
		"wallet_id", w.ID.String(),
		"requested", result.Requested.String(),
		"moved", result.Movement.Amount.String(),
		"shortfall", result.Movement.Shortfall.String(),
	)
	return nil
}
