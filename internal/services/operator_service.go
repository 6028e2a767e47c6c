package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/database"
	"github.com/vacationrental/booking-backend/internal/metrics"
	"github.com/vacationrental/booking-backend/internal/models"
)

// ErrBookingNotFound is returned when no booking exists for a payment intent
var ErrBookingNotFound = errors.New("booking not found")

// OperatorService backs the operator API for bookings that need a human
type OperatorService struct {
	store      BookingStore
	reconciler *WebhookReconciler
	audit      *AuditService
	logger     *logrus.Logger
}

// NewOperatorService creates a new operator service
func NewOperatorService(store BookingStore, reconciler *WebhookReconciler, audit *AuditService, logger *logrus.Logger) *OperatorService {
	return &OperatorService{
		store:      store,
		reconciler: reconciler,
		audit:      audit,
		logger:     logger,
	}
}

// ListBookings returns bookings in the given status
func (s *OperatorService) ListBookings(ctx context.Context, status models.BookingStatus, limit, offset int) ([]models.Booking, error) {
	switch status {
	case models.BookingStatusPendingPayment, models.BookingStatusProcessingBooking, models.BookingStatusConfirmed,
		models.BookingStatusCancelled, models.BookingStatusManualReview:
	default:
		return nil, models.NewInvalidInputError(fmt.Sprintf("unknown booking status %q", status))
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	bookings, err := s.store.ListByStatus(ctx, status, limit, offset)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return bookings, nil
}

// GetBooking returns one booking by payment intent id
func (s *OperatorService) GetBooking(ctx context.Context, paymentIntentID string) (*models.Booking, error) {
	booking, err := s.store.FindByPaymentIntentID(ctx, paymentIntentID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if booking == nil {
		return nil, bookingNotFound(paymentIntentID)
	}
	return booking, nil
}

// RetryReservation reopens a manual_review booking and runs the reservation step again.
// The returned booking is in confirmed or, if it failed again, manual_review.
func (s *OperatorService) RetryReservation(ctx context.Context, paymentIntentID, operator string) (*models.Booking, error) {
	booking, err := s.GetBooking(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	if booking.BookingStatus != models.BookingStatusManualReview {
		return nil, statusConflict(booking)
	}

	reopened, err := s.store.ReopenForRetry(ctx, paymentIntentID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if !reopened {
		return nil, statusConflict(booking)
	}

	s.logger.WithFields(logrus.Fields{
		"payment_intent_id": paymentIntentID,
		"operator":          operator,
	}).Info("Operator retrying reservation")

	updated, err := s.reconciler.CompleteReservation(ctx, paymentIntentID)
	if updated == nil {
		return nil, models.NewInternalError(err)
	}
	return updated, nil
}

// ResolveManualReview confirms a booking whose reservation an operator created by hand
func (s *OperatorService) ResolveManualReview(ctx context.Context, paymentIntentID string, req *models.ResolveManualReviewRequest, operator string, meta RequestMeta) (*models.Booking, error) {
	reservationID := strings.TrimSpace(req.ReservationID)
	if reservationID == "" {
		return nil, models.NewMissingFieldsError([]string{"reservation_id"})
	}

	booking, err := s.GetBooking(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}

	transition, err := NextState(booking.BookingStatus, EventManualResolution)
	if err != nil {
		return nil, statusConflict(booking)
	}
	if transition.Duplicate {
		if booking.ReservationID != nil && *booking.ReservationID == reservationID {
			return booking, nil
		}
		return nil, statusConflict(booking)
	}

	err = s.store.ResolveManualReview(ctx, paymentIntentID, reservationID)
	if errors.Is(err, database.ErrStatusConflict) {
		return nil, statusConflict(booking)
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	metrics.ManualReviewTotal.WithLabelValues("resolved").Inc()
	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventManualResolution, models.PaymentSourceOperator).
		SetBooking(booking.ID).
		SetPaymentIntent(paymentIntentID).
		SetRequestPayload(map[string]interface{}{
			"reservation_id": reservationID,
			"operator":       operator,
			"note":           req.Note,
		}), meta)

	s.logger.WithFields(logrus.Fields{
		"payment_intent_id": paymentIntentID,
		"reservation_id":    reservationID,
		"operator":          operator,
	}).Info("Manual review resolved")

	booking.BookingStatus = transition.To
	booking.ReservationID = &reservationID
	return booking, nil
}

func bookingNotFound(paymentIntentID string) *models.AppError {
	return &models.AppError{
		Code:       models.ErrCodeBookingNotFound,
		Message:    fmt.Sprintf("no booking for payment intent %s", paymentIntentID),
		StatusCode: http.StatusNotFound,
		Err:        ErrBookingNotFound,
	}
}

func statusConflict(b *models.Booking) *models.AppError {
	return &models.AppError{
		Code:       models.ErrCodeStatusConflict,
		Message:    fmt.Sprintf("booking is %s, expected %s", b.BookingStatus, models.BookingStatusManualReview),
		StatusCode: http.StatusConflict,
		Err:        ErrInvalidTransition,
	}
}
