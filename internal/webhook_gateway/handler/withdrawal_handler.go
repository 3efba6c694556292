package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/domain/wallet"
	"github.com/rental-payments-ledger/internal/ledger"
	"github.com/rental-payments-ledger/internal/webhook_gateway/service"
	"github.com/rental-payments-ledger/internal/withdrawal"
)

// WithdrawalHandler handles HTTP requests for withdrawals
type WithdrawalHandler struct {
	withdrawals service.WithdrawalService
	logger      *slog.Logger
}

// NewWithdrawalHandler creates a new withdrawal handler
func NewWithdrawalHandler(logger *slog.Logger, withdrawals service.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{
		withdrawals: withdrawals,
		logger:      logger,
	}
}

// Create reserves and routes a withdrawal
func (h *WithdrawalHandler) Create(c *gin.Context) {
	var req CreateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondBadRequest(c, "Invalid user ID")
		return
	}
	if !req.Amount.IsPositive() {
		RespondBadRequest(c, "Amount must be greater than 0")
		return
	}

	result, err := h.withdrawals.CreateWithdrawal(c.Request.Context(), service.CreateWithdrawalInput{
		UserID:      userID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      shared.WithdrawalMethod(req.Method),
		Details:     req.BankDetails.toDetails(),
		Description: req.Description,
	})
	h.respond(c, result, err)
}

// Retry re-drives a withdrawal left pending by a transient provider error
func (h *WithdrawalHandler) Retry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid withdrawal ID")
		return
	}
	var req RetryWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.withdrawals.RetryWithdrawal(c.Request.Context(), id, shared.WithdrawalMethod(req.Method), req.BankDetails.toDetails())
	h.respond(c, result, err)
}

// GetByID returns a withdrawal transaction
func (h *WithdrawalHandler) GetByID(c *gin.Context) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		RespondBadRequest(c, "Invalid withdrawal ID")
		return
	}

	txn, err := h.withdrawals.GetWithdrawal(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, transaction.ErrTransactionNotFound{}) {
			RespondNotFound(c, "Withdrawal not found")
			return
		}
		h.logger.Error("Failed to get withdrawal", "id", idParam, "error", err)
		RespondInternalError(c)
		return
	}
	RespondOK(c, mapTransaction(txn))
}

func (h *WithdrawalHandler) respond(c *gin.Context, result *withdrawal.Result, err error) {
	var validationErr *withdrawal.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &validationErr):
		RespondWithError(c, http.StatusBadRequest, "INVALID_PAYOUT_DETAILS", validationErr.Error())
		return
	case errors.Is(err, ledger.ErrBelowMinimum):
		RespondWithError(c, http.StatusBadRequest, "BELOW_MINIMUM", err.Error())
		return
	case errors.Is(err, ledger.ErrInsufficientAvailableBalance):
		RespondUnprocessable(c, "INSUFFICIENT_BALANCE", "Insufficient available balance")
		return
	case errors.Is(err, ledger.ErrCurrencyMismatch):
		RespondUnprocessable(c, "CURRENCY_MISMATCH", err.Error())
		return
	case errors.Is(err, wallet.ErrWalletNotFound{}):
		RespondNotFound(c, "Wallet not found")
		return
	case errors.Is(err, transaction.ErrTransactionNotFound{}):
		RespondNotFound(c, "Withdrawal not found")
		return
	case errors.Is(err, service.ErrNotAWithdrawal):
		RespondNotFound(c, "Withdrawal not found")
		return
	case errors.Is(err, service.ErrNotRetryable):
		RespondConflict(c, err.Error())
		return
	case errors.Is(err, withdrawal.ErrTransferFailed):
		var data interface{}
		if failed := mapFailedWithdrawal(result); failed != nil {
			data = failed
		}
		RespondWithErrorData(c, http.StatusBadGateway, "TRANSFER_FAILED", "transfer failed", data)
		return
	default:
		h.logger.Error("Failed to process withdrawal", "error", err)
		RespondInternalError(c)
		return
	}

	if result.Outcome == withdrawal.OutcomeFunded {
		RespondOK(c, mapWithdrawalResult(result))
		return
	}
	RespondAccepted(c, mapWithdrawalResult(result))
}
