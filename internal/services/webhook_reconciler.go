package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/database"
	"github.com/vacationrental/booking-backend/internal/metrics"
	"github.com/vacationrental/booking-backend/internal/models"
	"github.com/vacationrental/booking-backend/pkg/channelmanager"
	"github.com/vacationrental/booking-backend/pkg/stripe"
)

// ReconcilerConfig holds the webhook verification and reservation retry policy
type ReconcilerConfig struct {
	WebhookSecret      string
	SignatureTolerance time.Duration
	// AllowUnsigned accepts unverifiable webhooks outside production, logged loudly
	AllowUnsigned    bool
	Production       bool
	Retry            RetryPolicy
	AttemptTimeout   time.Duration
	ReconcileTimeout time.Duration
	Async            bool
}

// WebhookResult is what the webhook endpoint reports back to the processor
type WebhookResult struct {
	Received        bool                 `json:"received"`
	EventID         string               `json:"eventId,omitempty"`
	EventType       string               `json:"eventType,omitempty"`
	PaymentIntentID string               `json:"paymentIntentId,omitempty"`
	BookingStatus   models.BookingStatus `json:"bookingStatus,omitempty"`
	Duplicate       bool                 `json:"duplicate,omitempty"`
	Queued          bool                 `json:"queued,omitempty"`
}

// WebhookReconciler turns processor payment events into booking state, creating the
// downstream reservation once a payment succeeds.
//
// State machine per booking:
//
//	pending_payment --succeeded--> processing_booking --reservation--> confirmed
//	pending_payment --succeeded--> processing_booking --retries exhausted--> manual_review
//	pending_payment --failed/canceled--> cancelled
type WebhookReconciler struct {
	store        BookingStore
	reservations ReservationCreator
	enqueuer     ReservationEnqueuer
	alerts       OperatorNotifier
	audit        *AuditService
	cfg          ReconcilerConfig
	logger       *logrus.Logger
	now          func() time.Time
}

// NewWebhookReconciler creates a new webhook reconciler
func NewWebhookReconciler(
	store BookingStore,
	reservations ReservationCreator,
	alerts OperatorNotifier,
	audit *AuditService,
	cfg ReconcilerConfig,
	logger *logrus.Logger,
) *WebhookReconciler {
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 2
	}
	if cfg.Retry.Backoff == nil {
		cfg.Retry.Backoff = FixedBackoff(time.Second)
	}
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = 10 * time.Second
	}
	if cfg.SignatureTolerance <= 0 {
		cfg.SignatureTolerance = stripe.DefaultTolerance
	}
	return &WebhookReconciler{
		store:        store,
		reservations: reservations,
		alerts:       alerts,
		audit:        audit,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// SetEnqueuer switches reservation creation to the background worker
func (r *WebhookReconciler) SetEnqueuer(enqueuer ReservationEnqueuer) {
	r.enqueuer = enqueuer
}

// HandleWebhook verifies and dispatches a processor event. It only returns an error
// for requests that must be rejected (bad signature, unparseable body); everything
// else is acknowledged so the processor does not redeliver.
func (r *WebhookReconciler) HandleWebhook(ctx context.Context, rawBody []byte, sigHeader string, meta RequestMeta) (*WebhookResult, error) {
	event, err := r.verify(ctx, rawBody, sigHeader, meta)
	if err != nil {
		return nil, err
	}

	result := &WebhookResult{Received: true, EventID: event.ID, EventType: event.Type}

	switch event.Type {
	case stripe.EventPaymentIntentSucceeded:
		return r.handleSucceeded(ctx, event, result, meta)
	case stripe.EventPaymentIntentPaymentFailed, stripe.EventPaymentIntentCanceled:
		return r.handleFailed(ctx, event, result, meta)
	default:
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		r.logger.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
		}).Info("Ignoring unhandled webhook event type")
		return result, nil
	}
}

func (r *WebhookReconciler) verify(ctx context.Context, rawBody []byte, sigHeader string, meta RequestMeta) (*stripe.Event, error) {
	event, err := stripe.ConstructEvent(rawBody, sigHeader, r.cfg.WebhookSecret, r.cfg.SignatureTolerance)
	if err == nil {
		return event, nil
	}

	if r.cfg.AllowUnsigned && !r.cfg.Production {
		event, parseErr := stripe.ParseEvent(rawBody)
		if parseErr != nil {
			metrics.WebhookEventsTotal.WithLabelValues("unknown", "invalid").Inc()
			return nil, &models.AppError{Code: models.ErrCodeInvalidInput, Message: "invalid webhook payload", StatusCode: http.StatusBadRequest, Err: parseErr}
		}
		r.logger.WithError(err).WithFields(logrus.Fields{
			"security_override": true,
			"event_id":          event.ID,
			"event_type":        event.Type,
			"ip_address":        meta.IPAddress,
		}).Error("SECURITY: accepting webhook without a valid signature (ALLOW_UNSIGNED_WEBHOOKS)")
		return event, nil
	}

	metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
	r.logger.WithError(err).WithField("ip_address", meta.IPAddress).Warn("Rejected webhook with invalid signature")
	r.audit.RecordSignatureRejected(ctx, rawBody, err.Error(), meta)
	return nil, &models.AppError{
		Code:       models.ErrCodeInvalidSignature,
		Message:    "webhook signature verification failed",
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// ============================================================================
// payment_intent.succeeded
// ============================================================================

func (r *WebhookReconciler) handleSucceeded(ctx context.Context, event *stripe.Event, result *WebhookResult, meta RequestMeta) (*WebhookResult, error) {
	intent, err := event.ParsePaymentIntent()
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "invalid").Inc()
		return nil, models.NewInvalidInputError(err.Error())
	}
	result.PaymentIntentID = intent.ID
	log := r.logger.WithFields(logrus.Fields{
		"event_id":          event.ID,
		"payment_intent_id": intent.ID,
	})

	received := models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceStripeWebhook).
		SetPaymentIntent(intent.ID).
		SetEvent(event.ID).
		SetPaymentStatus(intent.Status)

	// Idempotency guard: a status past pending_payment means this intent was handled
	processed, err := r.store.IsPaymentIntentProcessed(ctx, intent.ID)
	if err != nil {
		// Let the processor redeliver; nothing was changed
		log.WithError(err).Error("Failed to check payment intent status")
		return nil, models.NewInternalError(err)
	}

	booking, err := r.store.FindByPaymentIntentID(ctx, intent.ID)
	if err != nil {
		log.WithError(err).Error("Failed to load booking")
		return nil, models.NewInternalError(err)
	}
	if booking == nil {
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "booking_not_found").Inc()
		log.Error("CRITICAL: payment succeeded for unknown booking")
		r.audit.Record(ctx, received.SetError("booking not found", models.ErrCodeBookingNotFound), meta)
		r.alerts.NotifyOperator(ctx, SeverityCritical, "Payment succeeded for an unknown booking", map[string]interface{}{
			"payment_intent_id": intent.ID,
			"event_id":          event.ID,
			"amount":            FromMinorUnits(intent.Amount),
			"currency":          intent.Currency,
			"metadata":          intent.Metadata,
		})
		return result, nil
	}
	received.SetBooking(booking.ID)
	result.BookingStatus = booking.BookingStatus

	transition, err := NextState(booking.BookingStatus, EventPaymentSucceeded)
	if err != nil {
		// e.g. a success arriving after the booking was cancelled
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "conflict").Inc()
		log.WithError(err).WithField("booking_status", booking.BookingStatus).Error("Payment succeeded for a booking that cannot accept it")
		r.audit.Record(ctx, received.SetError(err.Error(), "INVALID_TRANSITION"), meta)
		r.alerts.NotifyOperator(ctx, SeverityCritical, "Payment succeeded for a cancelled booking", bookingAlertContext(booking, intent.Amount))
		return result, nil
	}
	if processed || transition.Duplicate {
		return r.duplicate(ctx, event, result, received, meta), nil
	}

	// Amount reconciliation: record and alert, but keep going; the guest has paid
	paid := intent.AmountReceived
	if paid == 0 {
		paid = intent.Amount
	}
	if !received.SetAmounts(ToMinorUnits(booking.GrandTotal), paid, intent.Currency) {
		log.WithFields(logrus.Fields{
			"expected_amount": ToMinorUnits(booking.GrandTotal),
			"received_amount": paid,
		}).Warn("Paid amount differs from booking total")
		mismatch := models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, models.PaymentSourceStripeWebhook).
			SetBooking(booking.ID).
			SetPaymentIntent(intent.ID).
			SetEvent(event.ID)
		mismatch.SetAmounts(ToMinorUnits(booking.GrandTotal), paid, intent.Currency)
		r.audit.Record(ctx, mismatch, meta)
		r.alerts.NotifyOperator(ctx, SeverityWarning, "Paid amount does not match booking total", bookingAlertContext(booking, paid))
	}
	r.audit.Record(ctx, received, meta)

	claimed, err := r.store.ClaimForProcessing(ctx, intent.ID, r.now().UTC())
	if err != nil {
		log.WithError(err).Error("Failed to record payment")
		return nil, models.NewInternalError(err)
	}
	if !claimed {
		// Another delivery won the race
		return r.duplicate(ctx, event, result, nil, meta), nil
	}

	r.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventSuccess, models.PaymentSourceStripeWebhook).
		SetBooking(booking.ID).
		SetPaymentIntent(intent.ID).
		SetEvent(event.ID).
		SetPaymentStatus(string(models.PaymentStatusSucceeded)), meta)
	result.BookingStatus = transition.To
	log.Info("Payment recorded, booking is processing")

	if !transition.Has(EffectCreateReservation) {
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "processed").Inc()
		return result, nil
	}

	if r.cfg.Async && r.enqueuer != nil {
		if err := r.enqueuer.EnqueueReservation(ctx, intent.ID); err == nil {
			metrics.WebhookEventsTotal.WithLabelValues(event.Type, "queued").Inc()
			result.Queued = true
			return result, nil
		} else {
			log.WithError(err).Warn("Failed to enqueue reservation, creating it inline")
		}
	}

	// Detached from the request: a processor hang-up must not abort a half-done reservation
	reconcileCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ReconcileTimeout)
	defer cancel()

	updated, err := r.CompleteReservation(reconcileCtx, intent.ID)
	if err != nil {
		log.WithError(err).Error("Reservation step did not complete")
	}
	if updated != nil {
		result.BookingStatus = updated.BookingStatus
	}
	metrics.WebhookEventsTotal.WithLabelValues(event.Type, "processed").Inc()
	return result, nil
}

func (r *WebhookReconciler) duplicate(ctx context.Context, event *stripe.Event, result *WebhookResult, received *models.PaymentAudit, meta RequestMeta) *WebhookResult {
	metrics.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
	r.logger.WithFields(logrus.Fields{
		"event_id":          event.ID,
		"payment_intent_id": result.PaymentIntentID,
		"booking_status":    result.BookingStatus,
	}).Info("Duplicate webhook delivery, skipping")

	if received != nil {
		r.audit.Record(ctx, received.MarkAsDuplicate(), meta)
	}
	result.Duplicate = true
	return result
}

// ============================================================================
// payment_intent.payment_failed / payment_intent.canceled
// ============================================================================

func (r *WebhookReconciler) handleFailed(ctx context.Context, event *stripe.Event, result *WebhookResult, meta RequestMeta) (*WebhookResult, error) {
	intent, err := event.ParsePaymentIntent()
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "invalid").Inc()
		return nil, models.NewInvalidInputError(err.Error())
	}
	result.PaymentIntentID = intent.ID
	log := r.logger.WithFields(logrus.Fields{
		"event_id":          event.ID,
		"event_type":        event.Type,
		"payment_intent_id": intent.ID,
	})

	booking, err := r.store.FindByPaymentIntentID(ctx, intent.ID)
	if err != nil {
		log.WithError(err).Error("Failed to load booking")
		return nil, models.NewInternalError(err)
	}
	if booking == nil {
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "booking_not_found").Inc()
		log.Warn("Payment failure for unknown booking")
		return result, nil
	}
	result.BookingStatus = booking.BookingStatus

	reason := failureReason(event.Type, intent)
	audit := models.NewPaymentAudit(models.PaymentEventFailed, models.PaymentSourceStripeWebhook).
		SetBooking(booking.ID).
		SetPaymentIntent(intent.ID).
		SetEvent(event.ID).
		SetPaymentStatus(intent.Status).
		SetError(reason, failureCode(intent))

	transition, err := NextState(booking.BookingStatus, EventPaymentFailed)
	if err != nil {
		// A failure event after a success (retried card) changes nothing
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		log.WithField("booking_status", booking.BookingStatus).Info("Ignoring payment failure for a booking past payment")
		r.audit.Record(ctx, audit, meta)
		return result, nil
	}
	if transition.Duplicate {
		return r.duplicate(ctx, event, result, audit, meta), nil
	}

	err = r.store.UpdateBookingStatus(ctx, intent.ID, models.BookingStatusPendingPayment,
		models.PaymentStatusFailed, transition.To, &reason)
	if errors.Is(err, database.ErrStatusConflict) {
		return r.duplicate(ctx, event, result, audit, meta), nil
	}
	if err != nil {
		log.WithError(err).Error("Failed to cancel booking")
		return nil, models.NewInternalError(err)
	}

	r.audit.Record(ctx, audit, meta)
	metrics.WebhookEventsTotal.WithLabelValues(event.Type, "processed").Inc()
	log.WithField("reason", reason).Info("Booking cancelled after payment failure")
	result.BookingStatus = transition.To
	return result, nil
}

func failureReason(eventType string, intent *stripe.PaymentIntent) string {
	if eventType == stripe.EventPaymentIntentCanceled {
		if intent.CancellationNote != "" {
			return "canceled: " + intent.CancellationNote
		}
		return "canceled"
	}
	return intent.LastPaymentError.Reason()
}

func failureCode(intent *stripe.PaymentIntent) string {
	if intent.LastPaymentError == nil {
		return ""
	}
	if intent.LastPaymentError.DeclineCode != "" {
		return intent.LastPaymentError.DeclineCode
	}
	return intent.LastPaymentError.Code
}

// ============================================================================
// DOWNSTREAM RESERVATION
// ============================================================================

// CompleteReservation creates the downstream reservation for a booking in
// processing_booking, retrying per policy. On exhaustion the booking moves to
// manual_review and an operator is alerted; the returned error is informational.
func (r *WebhookReconciler) CompleteReservation(ctx context.Context, paymentIntentID string) (*models.Booking, error) {
	booking, err := r.store.FindByPaymentIntentID(ctx, paymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, fmt.Errorf("booking for payment intent %s not found", paymentIntentID)
	}
	if booking.BookingStatus != models.BookingStatusProcessingBooking {
		// Already confirmed or parked; nothing to do
		return booking, nil
	}

	log := r.logger.WithFields(logrus.Fields{
		"payment_intent_id": paymentIntentID,
		"booking_id":        booking.ID,
		"property_id":       booking.PropertyID,
	})
	req := reservationRequest(booking)

	var reservation *channelmanager.Reservation
	policy := r.cfg.Retry
	policy.OnRetry = func(attempt int, err error) {
		metrics.ReservationAttemptsTotal.WithLabelValues("retry").Inc()
		log.WithError(err).WithField("attempt", attempt).Warn("Reservation attempt failed, retrying")
	}
	err = policy.Do(ctx, func(ctx context.Context) error {
		attemptCtx := ctx
		if r.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
			defer cancel()
		}
		res, err := r.reservations.CreateReservation(attemptCtx, req)
		if err != nil {
			var rejected *channelmanager.RejectedError
			if errors.As(err, &rejected) {
				return Permanent(err)
			}
			return err
		}
		reservation = res
		return nil
	})

	// Store writes must land even if the reconcile budget ran out
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err == nil {
		return r.confirm(storeCtx, booking, reservation.ID, log)
	}
	metrics.ReservationAttemptsTotal.WithLabelValues("failed").Inc()
	return r.parkForReview(storeCtx, booking, err, log)
}

func (r *WebhookReconciler) confirm(ctx context.Context, booking *models.Booking, reservationID string, log *logrus.Entry) (*models.Booking, error) {
	metrics.ReservationAttemptsTotal.WithLabelValues("succeeded").Inc()

	transition, err := NextState(booking.BookingStatus, EventReservationCreated)
	if err != nil {
		return booking, err
	}

	if err := r.store.UpdateWithReservationID(ctx, booking.StripePaymentIntentID, reservationID, transition.To); err != nil {
		// The reservation exists downstream but we could not record it
		log.WithError(err).WithField("reservation_id", reservationID).Error("CRITICAL: reservation created but not stored")
		reason := fmt.Sprintf("reservation %s created downstream but could not be stored: %v", reservationID, err)
		if markErr := r.store.MarkForManualReview(ctx, booking.StripePaymentIntentID, reason); markErr == nil {
			booking.BookingStatus = models.BookingStatusManualReview
		}
		r.alerts.NotifyOperator(ctx, SeverityCritical, "Reservation created but not recorded", mergeContext(
			bookingAlertContext(booking, ToMinorUnits(booking.GrandTotal)),
			map[string]interface{}{"reservation_id": reservationID, "error": err.Error()},
		))
		return booking, err
	}

	booking.BookingStatus = transition.To
	booking.ReservationID = &reservationID
	r.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventBookingConfirmed, models.PaymentSourceSystem).
		SetBooking(booking.ID).
		SetPaymentIntent(booking.StripePaymentIntentID).
		SetResponsePayload(map[string]interface{}{"reservation_id": reservationID}), RequestMeta{})

	log.WithField("reservation_id", reservationID).Info("Booking confirmed")
	return booking, nil
}

func (r *WebhookReconciler) parkForReview(ctx context.Context, booking *models.Booking, cause error, log *logrus.Entry) (*models.Booking, error) {
	transition, err := NextState(booking.BookingStatus, EventReservationFailed)
	if err != nil {
		return booking, err
	}

	attempts := 0
	var retryErr *RetryError
	if errors.As(cause, &retryErr) {
		attempts = retryErr.Attempts
	}
	reason := fmt.Sprintf("downstream reservation failed after %d attempt(s): %v", attempts, errors.Unwrap(cause))
	if IsPermanent(cause) {
		reason = fmt.Sprintf("downstream reservation rejected: %v", errors.Unwrap(cause))
	}

	if transition.Has(EffectMarkManualReview) {
		if err := r.store.MarkForManualReview(ctx, booking.StripePaymentIntentID, reason); err != nil {
			log.WithError(err).Error("CRITICAL: failed to mark booking for manual review")
		} else {
			booking.BookingStatus = transition.To
			booking.FailureReason = &reason
		}
	}

	label := "retries_exhausted"
	if IsPermanent(cause) {
		label = "rejected"
	}
	metrics.ManualReviewTotal.WithLabelValues(label).Inc()

	if transition.Has(EffectAlertOperator) {
		r.alerts.NotifyOperator(ctx, SeverityCritical, "Paid booking needs a manual reservation", mergeContext(
			bookingAlertContext(booking, ToMinorUnits(booking.GrandTotal)),
			map[string]interface{}{"reason": reason, "attempts": attempts},
		))
	}

	r.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventBookingConfirmFailed, models.PaymentSourceSystem).
		SetBooking(booking.ID).
		SetPaymentIntent(booking.StripePaymentIntentID).
		SetError(reason, label), RequestMeta{})

	log.WithField("reason", reason).Error("Booking moved to manual review")
	return booking, cause
}

func reservationRequest(b *models.Booking) channelmanager.ReservationRequest {
	req := channelmanager.ReservationRequest{
		PropertyID:      b.PropertyID,
		CheckIn:         b.CheckIn.Format(models.DateLayout),
		CheckOut:        b.CheckOut.Format(models.DateLayout),
		GuestName:       b.GuestName,
		GuestEmail:      b.GuestEmail,
		NumberOfGuests:  b.Adults + b.Children,
		ExternalRef:     b.StripePaymentIntentID,
		TotalAmount:     strconv.FormatFloat(b.GrandTotal, 'f', 2, 64),
		Currency:        b.Currency,
		PaymentReceived: true,
	}
	if b.GuestPhone != nil {
		req.GuestPhone = *b.GuestPhone
	}
	return req
}

// bookingAlertContext carries everything an operator needs to create the reservation by hand
func bookingAlertContext(b *models.Booking, amountMinor int64) map[string]interface{} {
	ctx := map[string]interface{}{
		"payment_intent_id": b.StripePaymentIntentID,
		"booking_id":        b.ID.String(),
		"property_id":       b.PropertyID,
		"check_in":          b.CheckIn.Format(models.DateLayout),
		"check_out":         b.CheckOut.Format(models.DateLayout),
		"adults":            b.Adults,
		"children":          b.Children,
		"infants":           b.Infants,
		"guest_name":        b.GuestName,
		"guest_email":       b.GuestEmail,
		"amount":            FromMinorUnits(amountMinor),
		"grand_total":       b.GrandTotal,
		"currency":          b.Currency,
		"booking_status":    string(b.BookingStatus),
	}
	if b.GuestPhone != nil {
		ctx["guest_phone"] = *b.GuestPhone
	}
	return ctx
}

func mergeContext(base, extra map[string]interface{}) map[string]interface{} {
	for k, v := range extra {
		base[k] = v
	}
	return base
}
