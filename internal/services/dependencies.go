package services

import (
	"context"
	"time"

	"github.com/vacationrental/booking-backend/internal/models"
	"github.com/vacationrental/booking-backend/pkg/channelmanager"
	"github.com/vacationrental/booking-backend/pkg/stripe"
)

// PropertyCatalog is the read side of the channel manager
type PropertyCatalog interface {
	GetProperty(ctx context.Context, propertyID string) (*models.Property, error)
	GetPropertyPricingConfig(ctx context.Context, propertyID string) (*models.PropertyPricingConfig, error)
	GetAvailability(ctx context.Context, propertyID string, from, to time.Time) ([]models.CalendarDay, error)
}

// ReservationCreator creates the authoritative downstream reservation
type ReservationCreator interface {
	CreateReservation(ctx context.Context, req channelmanager.ReservationRequest) (*channelmanager.Reservation, error)
}

// PaymentProcessor creates payment intents
type PaymentProcessor interface {
	CreatePaymentIntent(ctx context.Context, params stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// BookingStore is the durable booking record, keyed by payment intent id
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Booking, error)
	IsPaymentIntentProcessed(ctx context.Context, paymentIntentID string) (bool, error)
	ListByStatus(ctx context.Context, status models.BookingStatus, limit, offset int) ([]models.Booking, error)
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error)
	ClaimForProcessing(ctx context.Context, paymentIntentID string, paidAt time.Time) (bool, error)
	UpdateBookingStatus(ctx context.Context, paymentIntentID string, from models.BookingStatus, paymentStatus models.PaymentStatus, bookingStatus models.BookingStatus, failureReason *string) error
	UpdateWithReservationID(ctx context.Context, paymentIntentID, reservationID string, bookingStatus models.BookingStatus) error
	MarkForManualReview(ctx context.Context, paymentIntentID, reason string) error
	MarkStaleForManualReview(ctx context.Context, paymentIntentID, reason string, cutoff time.Time) error
	ReopenForRetry(ctx context.Context, paymentIntentID string) (bool, error)
	ResolveManualReview(ctx context.Context, paymentIntentID, reservationID string) error
}

// ReservationEnqueuer hands reservation creation to a background worker
type ReservationEnqueuer interface {
	EnqueueReservation(ctx context.Context, paymentIntentID string) error
}

// OperatorNotifier raises operator alerts; implementations never fail the caller
type OperatorNotifier interface {
	NotifyOperator(ctx context.Context, severity AlertSeverity, subject string, fields map[string]interface{})
}
