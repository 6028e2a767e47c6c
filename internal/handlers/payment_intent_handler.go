package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/models"
	"github.com/vacationrental/booking-backend/internal/services"
)

// PaymentIntentCreator runs the checkout flow
type PaymentIntentCreator interface {
	CreatePaymentIntent(ctx context.Context, req *models.CreatePaymentIntentRequest, meta services.RequestMeta) (*models.CreatePaymentIntentResponse, error)
}

// QuoteProvider prices and validates a stay
type QuoteProvider interface {
	GetQuote(ctx context.Context, req *models.QuoteRequest) (*models.QuoteResponse, error)
}

// CheckoutHandler handles the guest-facing quote and payment endpoints
type CheckoutHandler struct {
	payments PaymentIntentCreator
	quotes   QuoteProvider
	logger   *logrus.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler
func NewCheckoutHandler(payments PaymentIntentCreator, quotes QuoteProvider, logger *logrus.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		payments: payments,
		quotes:   quotes,
		logger:   logger,
	}
}

// ============================================================================
// CREATE PAYMENT INTENT - POST /api/v1/payment-intents
// ============================================================================

// CreatePaymentIntent prices the stay and creates a payment intent
// @Summary Create payment intent
// @Description Prices the stay, creates an idempotent payment intent and records a pending booking
// @Tags Checkout
// @Accept json
// @Produce json
// @Param request body models.CreatePaymentIntentRequest true "Checkout request"
// @Success 200 {object} models.CreatePaymentIntentResponse
// @Failure 400 {object} map[string]interface{} "Missing fields, invalid dates or input"
// @Failure 404 {object} map[string]interface{} "Property not found"
// @Failure 502 {object} map[string]interface{} "Payment processor error"
// @Failure 503 {object} map[string]interface{} "Property data unavailable"
// @Router /payment-intents [post]
func (h *CheckoutHandler) CreatePaymentIntent(c *gin.Context) {
	var req models.CreatePaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}

	response, err := h.payments.CreatePaymentIntent(c.Request.Context(), &req, requestMeta(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ============================================================================
// QUOTE - POST /api/v1/quotes
// ============================================================================

// GetQuote prices and validates a stay without creating anything
// @Summary Quote a stay
// @Description Computes the accommodation total from the rate calendar, validates the stay and returns the price breakdown
// @Tags Checkout
// @Accept json
// @Produce json
// @Param request body models.QuoteRequest true "Quote request"
// @Success 200 {object} models.QuoteResponse
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 404 {object} map[string]interface{} "Property not found"
// @Failure 503 {object} map[string]interface{} "Property data unavailable"
// @Router /quotes [post]
func (h *CheckoutHandler) GetQuote(c *gin.Context) {
	var req models.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}

	response, err := h.quotes.GetQuote(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, response)
}
