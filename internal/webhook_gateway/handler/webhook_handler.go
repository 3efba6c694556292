package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/webhook"
	"github.com/rental-payments-ledger/internal/platform/clock"
	"github.com/rental-payments-ledger/internal/platform/providers/banktransfer"
	"github.com/rental-payments-ledger/internal/platform/providers/cardrail"
	"github.com/rental-payments-ledger/internal/platform/ratelimit"
	"github.com/rental-payments-ledger/internal/reconciliation"
	"github.com/rental-payments-ledger/internal/webhook_gateway/middleware"
	"github.com/rental-payments-ledger/internal/webhook_gateway/service"
)

var signatureHeaders = map[shared.Provider]string{
	shared.ProviderCardRail:     cardrail.SignatureHeader,
	shared.ProviderBankTransfer: banktransfer.SignatureHeader,
}

// WebhookHandler receives provider event deliveries
type WebhookHandler struct {
	webhooks service.WebhookService
	clock    clock.Clock
	logger   *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(logger *slog.Logger, webhooks service.WebhookService, clk clock.Clock) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		clock:    clk,
		logger:   logger,
	}
}

// Receive passes the raw body and signature of a delivery to intake. Signature and
// structure failures are client errors with nothing stored; a duplicate is answered
// 200 with isDuplicate; an event stored for retry is answered 202.
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := shared.Provider(c.Param("provider"))
	header, ok := signatureHeaders[provider]
	if !ok {
		RespondNotFound(c, "Unknown provider")
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondPayloadTooLarge(c)
			return
		}
		h.logger.Error("Failed to read webhook body", "provider", string(provider), "error", err)
		RespondBadRequest(c, "Unreadable request body")
		return
	}

	outcome, err := h.webhooks.Receive(c.Request.Context(), reconciliation.Delivery{
		Provider:      provider,
		Body:          body,
		Signature:     c.GetHeader(header),
		SourceAddress: c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
	})
	if outcome != nil {
		h.setRateLimitHeaders(c, outcome.Decision)
	}
	if err != nil {
		h.respondError(c, provider, outcome, err)
		return
	}

	response := WebhookResponse{
		Received:    true,
		EventID:     outcome.EventID,
		Kind:        string(outcome.Kind),
		Status:      string(outcome.Status),
		IsDuplicate: outcome.Duplicate,
	}
	if !outcome.Duplicate && outcome.Status == webhook.StatusFailed {
		RespondAccepted(c, response)
		return
	}
	RespondOK(c, response)
}

func (h *WebhookHandler) respondError(c *gin.Context, provider shared.Provider, outcome *reconciliation.Outcome, err error) {
	var validationErr *reconciliation.ValidationError
	switch {
	case errors.Is(err, reconciliation.ErrRateLimited):
		retryAfter := int(outcome.Decision.RetryAfter(h.clock.Now()).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		RespondTooManyRequests(c, "Rate limit exceeded")
	case errors.Is(err, webhook.ErrInvalidSignature):
		RespondUnauthorized(c, "Invalid signature")
	case errors.Is(err, webhook.ErrUnknownProvider):
		RespondBadRequest(c, "Unknown provider")
	case errors.Is(err, webhook.ErrMalformedEvent):
		RespondBadRequest(c, "Malformed event")
	case errors.As(err, &validationErr):
		RespondWithErrorData(c, http.StatusBadRequest, "INVALID_EVENT", validationErr.Error(), WebhookResponse{
			Received: true,
			EventID:  outcome.EventID,
			Kind:     string(outcome.Kind),
			Status:   string(outcome.Status),
		})
	default:
		h.logger.Error("Failed to receive webhook",
			"provider", string(provider),
			"correlation_id", middleware.GetCorrelationID(c),
			"error", err,
		)
		RespondInternalError(c)
	}
}

func (h *WebhookHandler) setRateLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}
