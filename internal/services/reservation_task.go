package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/models"
)

const (
	// TypeReservationCreate creates the downstream reservation for a paid booking
	TypeReservationCreate = "reservation:create"

	reservationQueue = "reservations"
)

// ReservationPayload is the asynq payload of a reservation:create task
type ReservationPayload struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
}

// ReservationCompleter runs the reservation step for a paid booking
type ReservationCompleter interface {
	CompleteReservation(ctx context.Context, paymentIntentID string) (*models.Booking, error)
}

// TaskEnqueuer is the subset of *asynq.Client used to enqueue tasks
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ReservationQueue enqueues reservation tasks, at most one per payment intent
type ReservationQueue struct {
	client  TaskEnqueuer
	timeout time.Duration
	logger  *logrus.Logger
}

// NewReservationQueue creates a new reservation queue
func NewReservationQueue(client TaskEnqueuer, timeout time.Duration, logger *logrus.Logger) *ReservationQueue {
	return &ReservationQueue{client: client, timeout: timeout, logger: logger}
}

// EnqueueReservation implements ReservationEnqueuer. A task already queued for the
// same payment intent counts as success.
func (q *ReservationQueue) EnqueueReservation(ctx context.Context, paymentIntentID string) error {
	payload, err := json.Marshal(ReservationPayload{PaymentIntentID: paymentIntentID})
	if err != nil {
		return fmt.Errorf("failed to marshal reservation payload: %w", err)
	}

	task := asynq.NewTask(TypeReservationCreate, payload)
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.TaskID(paymentIntentID),
		asynq.Queue(reservationQueue),
		asynq.MaxRetry(3),
		asynq.Timeout(q.timeout),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		q.logger.WithField("payment_intent_id", paymentIntentID).Info("Reservation task already queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue reservation task: %w", err)
	}

	q.logger.WithFields(logrus.Fields{
		"payment_intent_id": paymentIntentID,
		"task_id":           info.ID,
		"queue":             info.Queue,
	}).Info("Reservation task enqueued")
	return nil
}

// ReservationTaskHandler processes reservation:create tasks in the worker
type ReservationTaskHandler struct {
	completer ReservationCompleter
	validate  *validator.Validate
	logger    *logrus.Logger
}

// NewReservationTaskHandler creates a new task handler
func NewReservationTaskHandler(completer ReservationCompleter, logger *logrus.Logger) *ReservationTaskHandler {
	return &ReservationTaskHandler{
		completer: completer,
		validate:  validator.New(),
		logger:    logger,
	}
}

// ProcessTask implements asynq.Handler. Reservation failures are already parked in
// manual_review by the completer, so only infrastructure errors are returned for
// asynq to retry.
func (h *ReservationTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ReservationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.WithError(err).Error("error unmarshal reservation payload")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := h.validate.Struct(payload); err != nil {
		h.logger.WithError(err).Error("error validate reservation payload")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	booking, err := h.completer.CompleteReservation(ctx, payload.PaymentIntentID)
	if booking == nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"payment_intent_id": payload.PaymentIntentID,
		"booking_status":    booking.BookingStatus,
	}).Info("Reservation task finished")
	return nil
}

// Register maps the reservation task type on an asynq mux
func (h *ReservationTaskHandler) Register(mux *asynq.ServeMux) {
	mux.Handle(TypeReservationCreate, h)
}
