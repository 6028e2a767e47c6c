package services

import (
	"errors"
	"fmt"

	"github.com/vacationrental/booking-backend/internal/models"
)

// BookingEvent is something that happened to a booking
type BookingEvent string

const (
	EventPaymentSucceeded   BookingEvent = "payment_succeeded"
	EventPaymentFailed      BookingEvent = "payment_failed"
	EventReservationCreated BookingEvent = "reservation_created"
	EventReservationFailed  BookingEvent = "reservation_failed"
	EventManualResolution   BookingEvent = "manual_resolution"
)

// SideEffect is an action the caller must perform after a transition
type SideEffect string

const (
	EffectRecordPayment      SideEffect = "record_payment"
	EffectCreateReservation  SideEffect = "create_reservation"
	EffectStoreReservationID SideEffect = "store_reservation_id"
	EffectMarkManualReview   SideEffect = "mark_manual_review"
	EffectAlertOperator      SideEffect = "alert_operator"
	EffectRecordFailure      SideEffect = "record_failure"
)

// ErrInvalidTransition is returned for an event that cannot apply to the current status
var ErrInvalidTransition = errors.New("invalid booking state transition")

// Transition is the outcome of applying an event to a booking status
type Transition struct {
	From    models.BookingStatus
	To      models.BookingStatus
	Effects []SideEffect
	// Duplicate means the event was already applied; perform no effects
	Duplicate bool
}

// Has reports whether the transition requires the given effect
func (t Transition) Has(effect SideEffect) bool {
	for _, e := range t.Effects {
		if e == effect {
			return true
		}
	}
	return false
}

// NextState computes the transition for an event without touching any state.
//
//	pending_payment    --payment_succeeded-->   processing_booking
//	pending_payment    --payment_failed-->      cancelled
//	processing_booking --reservation_created--> confirmed
//	processing_booking --reservation_failed-->  manual_review
//	manual_review      --manual_resolution-->   confirmed
func NextState(current models.BookingStatus, event BookingEvent) (Transition, error) {
	t := Transition{From: current, To: current}

	switch event {
	case EventPaymentSucceeded:
		switch current {
		case models.BookingStatusPendingPayment:
			t.To = models.BookingStatusProcessingBooking
			t.Effects = []SideEffect{EffectRecordPayment, EffectCreateReservation}
			return t, nil
		case models.BookingStatusProcessingBooking, models.BookingStatusConfirmed, models.BookingStatusManualReview:
			t.Duplicate = true
			return t, nil
		}

	case EventPaymentFailed:
		switch current {
		case models.BookingStatusPendingPayment:
			t.To = models.BookingStatusCancelled
			t.Effects = []SideEffect{EffectRecordFailure}
			return t, nil
		case models.BookingStatusCancelled:
			t.Duplicate = true
			return t, nil
		}

	case EventReservationCreated:
		switch current {
		case models.BookingStatusProcessingBooking:
			t.To = models.BookingStatusConfirmed
			t.Effects = []SideEffect{EffectStoreReservationID}
			return t, nil
		case models.BookingStatusConfirmed:
			t.Duplicate = true
			return t, nil
		}

	case EventReservationFailed:
		switch current {
		case models.BookingStatusProcessingBooking:
			t.To = models.BookingStatusManualReview
			t.Effects = []SideEffect{EffectMarkManualReview, EffectAlertOperator}
			return t, nil
		case models.BookingStatusManualReview:
			t.Duplicate = true
			return t, nil
		}

	case EventManualResolution:
		switch current {
		case models.BookingStatusManualReview:
			t.To = models.BookingStatusConfirmed
			t.Effects = []SideEffect{EffectStoreReservationID}
			return t, nil
		case models.BookingStatusConfirmed:
			t.Duplicate = true
			return t, nil
		}

	default:
		return t, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
	}

	return t, fmt.Errorf("%w: %s cannot apply to %s", ErrInvalidTransition, event, current)
}
