package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/platform/providers"
	"github.com/rental-payments-ledger/internal/webhook_gateway/service"
)

// PaymentHandler handles the 3-D Secure completion callback
type PaymentHandler struct {
	payments service.PaymentService
	logger   *slog.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(logger *slog.Logger, payments service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		logger:   logger,
	}
}

// CompleteAuthentication confirms a payment after the customer's challenge
func (h *PaymentHandler) CompleteAuthentication(c *gin.Context) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		RespondBadRequest(c, "Invalid payment ID")
		return
	}

	txn, err := h.payments.CompleteAuthentication(c.Request.Context(), id)
	switch {
	case err == nil:
		RespondAccepted(c, mapTransaction(txn))
	case errors.Is(err, transaction.ErrTransactionNotFound{}):
		RespondNotFound(c, "Payment not found")
	case errors.Is(err, service.ErrNotAwaitingAuthentication):
		RespondConflict(c, err.Error())
	case errors.Is(err, service.ErrAuthenticationIncomplete):
		RespondConflict(c, err.Error())
	case providers.IsTemporary(err):
		h.logger.Warn("Payment confirmation deferred", "id", idParam, "error", err)
		RespondWithError(c, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", providers.Sanitize(err))
	default:
		var providerErr *providers.Error
		if errors.As(err, &providerErr) {
			h.logger.Warn("Payment confirmation refused", "id", idParam, "error", err)
			RespondWithError(c, http.StatusBadGateway, "PROVIDER_ERROR", providers.Sanitize(err))
			return
		}
		h.logger.Error("Failed to complete authentication", "id", idParam, "error", err)
		RespondInternalError(c)
	}
}
