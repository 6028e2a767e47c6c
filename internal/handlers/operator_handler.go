package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/middleware"
	"github.com/vacationrental/booking-backend/internal/models"
	"github.com/vacationrental/booking-backend/internal/services"
)

// BookingOperator is the operator-side booking API
type BookingOperator interface {
	ListBookings(ctx context.Context, status models.BookingStatus, limit, offset int) ([]models.Booking, error)
	GetBooking(ctx context.Context, paymentIntentID string) (*models.Booking, error)
	RetryReservation(ctx context.Context, paymentIntentID, operator string) (*models.Booking, error)
	ResolveManualReview(ctx context.Context, paymentIntentID string, req *models.ResolveManualReviewRequest, operator string, meta services.RequestMeta) (*models.Booking, error)
}

// OperatorHandler handles operator endpoints for bookings that need attention
type OperatorHandler struct {
	operator BookingOperator
	logger   *logrus.Logger
}

// NewOperatorHandler creates a new OperatorHandler
func NewOperatorHandler(operator BookingOperator, logger *logrus.Logger) *OperatorHandler {
	return &OperatorHandler{
		operator: operator,
		logger:   logger,
	}
}

// ListBookings lists bookings by status
// @Summary List bookings
// @Tags Operator
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param status query string false "Booking status" default(manual_review)
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{} "Unauthorized"
// @Router /admin/bookings [get]
func (h *OperatorHandler) ListBookings(c *gin.Context) {
	status := models.BookingStatus(c.DefaultQuery("status", string(models.BookingStatusManualReview)))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	bookings, err := h.operator.ListBookings(c.Request.Context(), status, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"count":    len(bookings),
		"status":   status,
	})
}

// GetBooking returns one booking
// @Summary Get booking by payment intent
// @Tags Operator
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param payment_intent_id path string true "Payment intent ID"
// @Success 200 {object} models.Booking
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Router /admin/bookings/{payment_intent_id} [get]
func (h *OperatorHandler) GetBooking(c *gin.Context) {
	booking, err := h.operator.GetBooking(c.Request.Context(), c.Param("payment_intent_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// RetryReservation retries the downstream reservation for a manual-review booking
// @Summary Retry downstream reservation
// @Tags Operator
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param payment_intent_id path string true "Payment intent ID"
// @Success 200 {object} models.Booking
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Failure 409 {object} map[string]interface{} "Booking not in manual_review"
// @Router /admin/bookings/{payment_intent_id}/retry-reservation [post]
func (h *OperatorHandler) RetryReservation(c *gin.Context) {
	opCtx := middleware.MustGetOperatorContext(c)

	booking, err := h.operator.RetryReservation(c.Request.Context(), c.Param("payment_intent_id"), opCtx.Operator)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// ResolveManualReview records a reservation an operator created by hand
// @Summary Resolve manual review
// @Tags Operator
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param payment_intent_id path string true "Payment intent ID"
// @Param request body models.ResolveManualReviewRequest true "Manual reservation"
// @Success 200 {object} models.Booking
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 409 {object} map[string]interface{} "Booking not in manual_review"
// @Router /admin/bookings/{payment_intent_id}/resolve [post]
func (h *OperatorHandler) ResolveManualReview(c *gin.Context) {
	opCtx := middleware.MustGetOperatorContext(c)

	var req models.ResolveManualReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}

	booking, err := h.operator.ResolveManualReview(c.Request.Context(), c.Param("payment_intent_id"), &req, opCtx.Operator, requestMeta(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}
