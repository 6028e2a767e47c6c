package services

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/models"
	"github.com/vacationrental/booking-backend/internal/utils"
)

// AuditStore persists payment audit entries
type AuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// RequestMeta describes the caller of a payment endpoint
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// AuditService records the payment audit trail. Write failures are logged and
// swallowed; the audit trail must never block a payment flow.
type AuditService struct {
	store  AuditStore
	logger *logrus.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(store AuditStore, logger *logrus.Logger) *AuditService {
	return &AuditService{
		store:  store,
		logger: logger,
	}
}

// Record writes an audit entry, stamping it with the caller's metadata
func (s *AuditService) Record(ctx context.Context, audit *models.PaymentAudit, meta RequestMeta) {
	if s == nil || s.store == nil || audit == nil {
		return
	}

	client := ""
	if meta.UserAgent != "" {
		client = utils.ClientDescriptor(meta.UserAgent)
	}
	audit.SetMetadata(meta.IPAddress, meta.UserAgent, client)

	// Detached from request cancellation so a client hang-up still leaves a trail
	if err := s.store.Log(context.WithoutCancel(ctx), audit); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"audit_id":   audit.ID,
		}).Error("Failed to record payment audit")
	}
}

// RecordSignatureRejected records a webhook whose signature did not verify
func (s *AuditService) RecordSignatureRejected(ctx context.Context, rawBody []byte, reason string, meta RequestMeta) {
	audit := models.NewPaymentAudit(models.PaymentEventSignatureRejected, models.PaymentSourceStripeWebhook).
		SetRawBody(truncate(string(rawBody), 4096)).
		SetHTTPStatus(400).
		SetError(reason, "INVALID_SIGNATURE")
	s.Record(ctx, audit, meta)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
