package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/models"
	"github.com/vacationrental/booking-backend/internal/services"
)

// maxWebhookBody bounds the payload read before signature verification
const maxWebhookBody = 256 << 10

// WebhookProcessor verifies and applies payment processor events
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, rawBody []byte, sigHeader string, meta services.RequestMeta) (*services.WebhookResult, error)
}

// WebhookHandler receives payment processor webhooks
type WebhookHandler struct {
	processor WebhookProcessor
	logger    *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(processor WebhookProcessor, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		logger:    logger,
	}
}

// ============================================================================
// PAYMENT WEBHOOK - POST /api/v1/webhooks/payment
// ============================================================================

// HandlePaymentWebhook verifies the signature over the raw body and reconciles the booking
// @Summary Payment processor webhook
// @Description Verifies the Stripe-Signature header and reconciles booking state. Downstream failures still return 200.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Webhook signature"
// @Success 200 {object} services.WebhookResult
// @Failure 400 {object} map[string]interface{} "Invalid signature or payload"
// @Failure 500 {object} map[string]interface{} "Storage failure, the processor will redeliver"
// @Router /webhooks/payment [post]
func (h *WebhookHandler) HandlePaymentWebhook(c *gin.Context) {
	// The signature covers the exact bytes, so read before any parsing
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		invalidBody(c, err)
		return
	}
	if len(body) > maxWebhookBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":      "webhook payload too large",
			"code":       models.ErrCodeInvalidInput,
			"statusCode": http.StatusRequestEntityTooLarge,
		})
		return
	}

	result, err := h.processor.HandleWebhook(c.Request.Context(), body, c.GetHeader("Stripe-Signature"), requestMeta(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
