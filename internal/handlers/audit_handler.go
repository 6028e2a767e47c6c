package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/models"
)

// AuditReader reads the payment audit trail
type AuditReader interface {
	GetByPaymentIntentID(ctx context.Context, paymentIntentID string) ([]*models.PaymentAudit, error)
	GetAmountMismatches(ctx context.Context, limit int) ([]*models.PaymentAudit, error)
}

// AuditHandler exposes the payment audit trail to operators
type AuditHandler struct {
	audits AuditReader
	logger *logrus.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(audits AuditReader, logger *logrus.Logger) *AuditHandler {
	return &AuditHandler{audits: audits, logger: logger}
}

// GetPaymentAudits returns the audit trail of one payment intent
// @Summary Payment audit trail
// @Tags Operator
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param payment_intent_id path string true "Payment intent ID"
// @Success 200 {object} map[string]interface{}
// @Router /admin/bookings/{payment_intent_id}/audits [get]
func (h *AuditHandler) GetPaymentAudits(c *gin.Context) {
	paymentIntentID := c.Param("payment_intent_id")

	audits, err := h.audits.GetByPaymentIntentID(c.Request.Context(), paymentIntentID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_intent_id": paymentIntentID,
		"audits":            audits,
		"count":             len(audits),
	})
}

// GetAmountMismatches lists webhook amounts that did not match the stored total
// @Summary Amount mismatches
// @Tags Operator
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param limit query int false "Max rows" default(50)
// @Success 200 {object} map[string]interface{}
// @Router /admin/audits/mismatches [get]
func (h *AuditHandler) GetAmountMismatches(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		limit = 50
	}

	audits, err := h.audits.GetAmountMismatches(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"audits": audits,
		"count":  len(audits),
	})
}
