package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vacationrental/booking-backend/internal/models"
)

// ErrDuplicatePaymentIntent is returned when a booking already exists for a payment intent
var ErrDuplicatePaymentIntent = errors.New("booking already exists for payment intent")

const bookingColumns = `
	id, stripe_payment_intent_id, idempotency_key, property_id, check_in, check_out,
	adults, children, infants, guest_name, guest_email, guest_phone, marketing_consent,
	currency, accommodation_total, cleaning_fee, extra_guest_fee, subtotal, taxes,
	total_tax, grand_total, nights, guests, average_per_night,
	payment_status, booking_status, reservation_id, failure_reason,
	paid_at, confirmed_at, created_at, updated_at`

// BookingRepository handles booking database operations.
// Every mutation is keyed by payment intent ID and guarded by the current status,
// so repeating a call converges on the same row state.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// ============================================================================
// CREATE / READ
// ============================================================================

// CreateBooking inserts a new booking in pending_payment
func (r *BookingRepository) CreateBooking(ctx context.Context, b *models.Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now
	if b.PaymentStatus == "" {
		b.PaymentStatus = models.PaymentStatusPending
	}
	if b.BookingStatus == "" {
		b.BookingStatus = models.BookingStatusPendingPayment
	}

	query := `
		INSERT INTO bookings (` + bookingColumns + `
		) VALUES (
			:id, :stripe_payment_intent_id, :idempotency_key, :property_id, :check_in, :check_out,
			:adults, :children, :infants, :guest_name, :guest_email, :guest_phone, :marketing_consent,
			:currency, :accommodation_total, :cleaning_fee, :extra_guest_fee, :subtotal, :taxes,
			:total_tax, :grand_total, :nights, :guests, :average_per_night,
			:payment_status, :booking_status, :reservation_id, :failure_reason,
			:paid_at, :confirmed_at, :created_at, :updated_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, b); err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicatePaymentIntent
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

// FindByPaymentIntentID returns the booking for a payment intent, or nil if none exists
func (r *BookingRepository) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Booking, error) {
	var b models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE stripe_payment_intent_id = $1`

	err := r.db.GetContext(ctx, &b, query, paymentIntentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

// IsPaymentIntentProcessed reports whether a payment event has already moved the booking past pending_payment
func (r *BookingRepository) IsPaymentIntentProcessed(ctx context.Context, paymentIntentID string) (bool, error) {
	var status models.BookingStatus
	query := `SELECT booking_status FROM bookings WHERE stripe_payment_intent_id = $1`

	err := r.db.GetContext(ctx, &status, query, paymentIntentID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check booking status: %w", err)
	}
	return status != models.BookingStatusPendingPayment, nil
}

// ListByStatus returns bookings in a status, newest first
func (r *BookingRepository) ListByStatus(ctx context.Context, status models.BookingStatus, limit, offset int) ([]models.Booking, error) {
	bookings := []models.Booking{}
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE booking_status = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`

	if err := r.db.SelectContext(ctx, &bookings, query, status, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// ListStaleProcessing returns bookings stuck in processing_booking since before the cutoff
func (r *BookingRepository) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	bookings := []models.Booking{}
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE booking_status = 'processing_booking'
		AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &bookings, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale bookings: %w", err)
	}
	return bookings, nil
}

// ============================================================================
// STATUS TRANSITIONS
// ============================================================================

// ClaimForProcessing atomically moves a booking from pending_payment to processing_booking
// and records the payment. Only one caller per payment intent gets true.
func (r *BookingRepository) ClaimForProcessing(ctx context.Context, paymentIntentID string, paidAt time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET payment_status = 'succeeded',
			booking_status = 'processing_booking',
			paid_at = $2,
			updated_at = $2
		WHERE stripe_payment_intent_id = $1
		AND booking_status = 'pending_payment'`

	result, err := r.db.ExecContext(ctx, query, paymentIntentID, paidAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// UpdateBookingStatus moves a booking from one status to another. A booking already in the
// target state is left untouched and reported as success.
func (r *BookingRepository) UpdateBookingStatus(
	ctx context.Context,
	paymentIntentID string,
	from models.BookingStatus,
	paymentStatus models.PaymentStatus,
	bookingStatus models.BookingStatus,
	failureReason *string,
) error {
	query := `
		UPDATE bookings
		SET payment_status = $3,
			booking_status = $4,
			failure_reason = COALESCE($5, failure_reason),
			updated_at = NOW()
		WHERE stripe_payment_intent_id = $1
		AND (booking_status = $2 OR (booking_status = $4 AND payment_status = $3))`

	result, err := r.db.ExecContext(ctx, query, paymentIntentID, from, paymentStatus, bookingStatus, failureReason)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrStatusConflict
	}
	return nil
}

// UpdateWithReservationID stores the downstream reservation ID and moves the booking to the given status
func (r *BookingRepository) UpdateWithReservationID(
	ctx context.Context,
	paymentIntentID string,
	reservationID string,
	bookingStatus models.BookingStatus,
) error {
	query := `
		UPDATE bookings
		SET reservation_id = $2,
			booking_status = $3,
			confirmed_at = NOW(),
			failure_reason = NULL,
			updated_at = NOW()
		WHERE stripe_payment_intent_id = $1
		AND (booking_status = 'processing_booking' OR (booking_status = $3 AND reservation_id = $2))`

	result, err := r.db.ExecContext(ctx, query, paymentIntentID, reservationID, bookingStatus)
	if err != nil {
		return fmt.Errorf("failed to store reservation id: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkForManualReview parks a paid booking for an operator
func (r *BookingRepository) MarkForManualReview(ctx context.Context, paymentIntentID string, reason string) error {
	query := `
		UPDATE bookings
		SET booking_status = 'manual_review',
			failure_reason = $2,
			updated_at = NOW()
		WHERE stripe_payment_intent_id = $1
		AND booking_status IN ('processing_booking', 'manual_review')`

	result, err := r.db.ExecContext(ctx, query, paymentIntentID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark booking for manual review: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkStaleForManualReview parks a booking the sweep found stuck. It only matches a
// row still in processing_booking and not touched since cutoff, so a booking parked
// or reopened after the sweep listed it is left alone.
func (r *BookingRepository) MarkStaleForManualReview(ctx context.Context, paymentIntentID, reason string, cutoff time.Time) error {
	query := `
		UPDATE bookings
		SET booking_status = 'manual_review',
			failure_reason = $2,
			updated_at = NOW()
		WHERE stripe_payment_intent_id = $1
		AND booking_status = 'processing_booking'
		AND updated_at < $3`

	result, err := r.db.ExecContext(ctx, query, paymentIntentID, reason, cutoff)
	if err != nil {
		return fmt.Errorf("failed to mark stale booking for manual review: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ReopenForRetry moves a manual_review booking back to processing_booking so the
// reservation can be attempted again
func (r *BookingRepository) ReopenForRetry(ctx context.Context, paymentIntentID string) (bool, error) {
	query := `
		UPDATE bookings
		SET booking_status = 'processing_booking',
			updated_at = NOW()
		WHERE stripe_payment_intent_id = $1
		AND booking_status = 'manual_review'`

	result, err := r.db.ExecContext(ctx, query, paymentIntentID)
	if err != nil {
		return false, fmt.Errorf("failed to reopen booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// ResolveManualReview confirms a manual_review booking with a reservation created by an operator
func (r *BookingRepository) ResolveManualReview(ctx context.Context, paymentIntentID, reservationID string) error {
	query := `
		UPDATE bookings
		SET reservation_id = $2,
			booking_status = 'confirmed',
			confirmed_at = NOW(),
			updated_at = NOW()
		WHERE stripe_payment_intent_id = $1
		AND booking_status = 'manual_review'`

	result, err := r.db.ExecContext(ctx, query, paymentIntentID, reservationID)
	if err != nil {
		return fmt.Errorf("failed to resolve booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrStatusConflict
	}
	return nil
}
