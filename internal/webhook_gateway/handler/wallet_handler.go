package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rental-payments-ledger/internal/domain/wallet"
	"github.com/rental-payments-ledger/internal/webhook_gateway/service"
)

// WalletHandler serves wallet balances and the movement journal
type WalletHandler struct {
	wallets service.WalletService
	logger  *slog.Logger
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(logger *slog.Logger, wallets service.WalletService) *WalletHandler {
	return &WalletHandler{
		wallets: wallets,
		logger:  logger,
	}
}

// GetByUserID returns the balances of a user's wallet
func (h *WalletHandler) GetByUserID(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	view, err := h.wallets.GetWallet(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, userID, err)
		return
	}
	RespondOK(c, mapWallet(view))
}

// GetJournal returns a page of the wallet movement journal, newest first
func (h *WalletHandler) GetJournal(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		h.logger.Error("Invalid pagination parameters", "error", err)
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	entries, total, err := h.wallets.GetJournal(c.Request.Context(), userID, pagination.Page, pagination.PerPage)
	if err != nil {
		h.respondError(c, userID, err)
		return
	}

	movements := make([]JournalEntryResponse, 0, len(entries))
	for _, entry := range entries {
		movements = append(movements, mapJournalEntry(entry))
	}
	RespondWithPaginatedData(c, http.StatusOK, movements, pagination.Page, pagination.PerPage, int(total))
}

func (h *WalletHandler) userID(c *gin.Context) (uuid.UUID, bool) {
	param := c.Param("userID")
	userID, err := uuid.Parse(param)
	if err != nil {
		h.logger.Error("Invalid user ID", "user_id", param, "error", err)
		RespondBadRequest(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

func (h *WalletHandler) respondError(c *gin.Context, userID uuid.UUID, err error) {
	if errors.Is(err, wallet.ErrWalletNotFound{}) {
		RespondNotFound(c, "Wallet not found")
		return
	}
	h.logger.Error("Failed to read wallet", "user_id", userID.String(), "error", err)
	RespondInternalError(c)
}
