package services

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vacationrental/booking-backend/internal/models"
	"github.com/vacationrental/booking-backend/pkg/channelmanager"
	"github.com/vacationrental/booking-backend/pkg/stripe"
)

const webhookSecret = "whsec_test"

type reconcilerFixture struct {
	store        *memoryStore
	reservations *fakeReservations
	alerts       *recordingAlerts
	audit        *memoryAudit
	reconciler   *WebhookReconciler
}

func pendingBooking(pi string) *models.Booking {
	b := &models.Booking{
		ID:                    uuid.New(),
		StripePaymentIntentID: pi,
		IdempotencyKey:        "payment_intent_abc",
		PropertyID:            "villa-1",
		CheckIn:               time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		CheckOut:              time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC),
		Adults:                2,
		Children:              1,
		GuestName:             "Ada Lovelace",
		GuestEmail:            "ada@example.com",
		GuestPhone:            strPtr("+41791234567"),
		PaymentStatus:         models.PaymentStatusPending,
		BookingStatus:         models.BookingStatusPendingPayment,
	}
	b.ApplyPricing(models.PriceBreakdown{Currency: "CHF", AccommodationTotal: 900, CleaningFee: 50, Subtotal: 950, TotalTax: 94, GrandTotal: 1044, Nights: 3, Guests: 3, AveragePerNight: 300})
	return b
}

func setupReconciler(cfg ReconcilerConfig, bookings ...*models.Booking) *reconcilerFixture {
	f := &reconcilerFixture{
		store:        newMemoryStore(bookings...),
		reservations: &fakeReservations{},
		alerts:       &recordingAlerts{},
		audit:        &memoryAudit{},
	}
	cfg.WebhookSecret = webhookSecret
	if cfg.Retry.Backoff == nil {
		cfg.Retry.Backoff = FixedBackoff(0)
	}
	f.reconciler = NewWebhookReconciler(f.store, f.reservations, f.alerts,
		NewAuditService(f.audit, quietLogger()), cfg, quietLogger())
	return f
}

func eventPayload(eventType, pi string, amount int64, extra string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":"evt_%s","type":"%s","created":1700000000,"data":{"object":{"id":"%s","amount":%d,"amount_received":%d,"currency":"chf","status":"succeeded"%s}}}`,
		uuid.NewString()[:8], eventType, pi, amount, amount, extra))
}

func signed(payload []byte) string {
	return stripe.SignPayload(payload, webhookSecret, time.Now())
}

func deliver(t *testing.T, f *reconcilerFixture, payload []byte) *WebhookResult {
	t.Helper()
	result, err := f.reconciler.HandleWebhook(context.Background(), payload, signed(payload), RequestMeta{IPAddress: "54.187.174.169"})
	require.NoError(t, err)
	require.True(t, result.Received)
	return result
}

func TestHandleWebhook_SucceededConfirmsBooking(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{Retry: RetryPolicy{MaxAttempts: 2}}, pendingBooking("pi_123"))

	result := deliver(t, f, eventPayload(stripe.EventPaymentIntentSucceeded, "pi_123", 104400, ""))

	assert.Equal(t, models.BookingStatusConfirmed, result.BookingStatus)
	assert.False(t, result.Duplicate)

	booking := f.store.get("pi_123")
	assert.Equal(t, models.BookingStatusConfirmed, booking.BookingStatus)
	assert.Equal(t, models.PaymentStatusSucceeded, booking.PaymentStatus)
	require.NotNil(t, booking.ReservationID)
	assert.Equal(t, "res_42", *booking.ReservationID)
	assert.NotNil(t, booking.PaidAt)

	require.Equal(t, 1, f.reservations.count())
	req := f.reservations.requests[0]
	assert.Equal(t, "pi_123", req.ExternalRef)
	assert.Equal(t, 3, req.NumberOfGuests)
	assert.Equal(t, "1044.00", req.TotalAmount)
	assert.Equal(t, "2024-07-01", req.CheckIn)
	assert.True(t, req.PaymentReceived)

	assert.Equal(t, []models.PaymentEventType{
		models.PaymentEventWebhookReceived,
		models.PaymentEventSuccess,
		models.PaymentEventBookingConfirmed,
	}, f.audit.events())
	assert.Empty(t, f.alerts.alerts)
}

func TestHandleWebhook_DuplicateDeliveryCreatesOneReservation(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{Retry: RetryPolicy{MaxAttempts: 2}}, pendingBooking("pi_123"))
	payload := eventPayload(stripe.EventPaymentIntentSucceeded, "pi_123", 104400, "")

	first := deliver(t, f, payload)
	second := deliver(t, f, payload)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, models.BookingStatusConfirmed, second.BookingStatus)
	assert.Equal(t, 1, f.reservations.count())
	assert.Equal(t, 1, f.store.claims)
}

func TestHandleWebhook_ConcurrentDeliveries(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{Retry: RetryPolicy{MaxAttempts: 2}}, pendingBooking("pi_123"))
	payload := eventPayload(stripe.EventPaymentIntentSucceeded, "pi_123", 104400, "")
	header := signed(payload)

	done := make(chan *WebhookResult, 5)
	for i := 0; i < 5; i++ {
		go func() {
			result, err := f.reconciler.HandleWebhook(context.Background(), payload, header, RequestMeta{})
			assert.NoError(t, err)
			done <- result
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	assert.Equal(t, 1, f.reservations.count())
	assert.Equal(t, models.BookingStatusConfirmed, f.store.get("pi_123").BookingStatus)
}

func TestHandleWebhook_RetryExhaustionMovesToManualReview(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{Retry: RetryPolicy{MaxAttempts: 2}}, pendingBooking("pi_123"))
	f.reservations.failFirst = 10

	result := deliver(t, f, eventPayload(stripe.EventPaymentIntentSucceeded, "pi_123", 104400, ""))

	assert.Equal(t, models.BookingStatusManualReview, result.BookingStatus)
	assert.Equal(t, 2, f.reservations.count())

	booking := f.store.get("pi_123")
	assert.Equal(t, models.BookingStatusManualReview, booking.BookingStatus)
	assert.Equal(t, models.PaymentStatusSucceeded, booking.PaymentStatus)
	require.NotNil(t, booking.FailureReason)
	assert.Contains(t, *booking.FailureReason, "after 2 attempt(s)")

	critical := f.alerts.bySeverity(SeverityCritical)
	require.Len(t, critical, 1)
	ctx := critical[0].Context
	assert.Equal(t, "pi_123", ctx["payment_intent_id"])
	assert.Equal(t, "ada@example.com", ctx["guest_email"])
	assert.Equal(t, "+41791234567", ctx["guest_phone"])
	assert.Equal(t, "2024-07-01", ctx["check_in"])
	assert.Equal(t, 1044.0, ctx["amount"])

	assert.Contains(t, f.audit.events(), models.PaymentEventBookingConfirmFailed)
}

func TestHandleWebhook_RejectedReservationIsNotRetried(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{Retry: RetryPolicy{MaxAttempts: 3}}, pendingBooking("pi_123"))
	f.reservations.failFirst = 10
	f.reservations.err = &channelmanager.RejectedError{StatusCode: http.StatusConflict, Reason: "dates no longer available"}

	result := deliver(t, f, eventPayload(stripe.EventPaymentIntentSucceeded, "pi_123", 104400, ""))

	assert.Equal(t, models.BookingStatusManualReview, result.BookingStatus)
	assert.Equal(t, 1, f.reservations.count())
	assert.Contains(t, *f.store.get("pi_123").FailureReason, "rejected")
	assert.Len(t, f.alerts.bySeverity(SeverityCritical), 1)
}

func TestHandleWebhook_SecondAttemptSucceeds(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{Retry: RetryPolicy{MaxAttempts: 2}}, pendingBooking("pi_123"))
	f.reservations.failFirst = 1

	result := deliver(t, f, eventPayload(stripe.EventPaymentIntentSucceeded, "pi_123", 104400, ""))

	assert.Equal(t, models.BookingStatusConfirmed, result.BookingStatus)
	assert.Equal(t, 2, f.reservations.count())
	assert.Empty(t, f.alerts.alerts)
}

func TestHandleWebhook_HungAttemptIsCutOff(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{
		Retry:            RetryPolicy{MaxAttempts: 2},
		AttemptTimeout:   20 * time.Millisecond,
		ReconcileTimeout: 5 * time.Second,
	}, pendingBooking("pi_123"))
	f.reservations.hangFirst = 1

	start := time.Now()
	result := deliver(t, f, eventPayload(stripe.EventPaymentIntentSucceeded, "pi_123", 104400, ""))

	assert.Equal(t, models.BookingStatusConfirmed, result.BookingStatus)
	assert.Equal(t, 2, f.reservations.count())
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandleWebhook_AmountMismatchIsRecorded(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{Retry: RetryPolicy{MaxAttempts: 1}}, pendingBooking("pi_123"))

	result := deliver(t, f, eventPayload(stripe.EventPaymentIntentSucceeded, "pi_123", 100000, ""))

	assert.Equal(t, models.BookingStatusConfirmed, result.BookingStatus)
	require.Len(t, f.alerts.bySeverity(SeverityWarning), 1)
	assert.Contains(t, f.audit.events(), models.PaymentEventReconciliationMismatch)

	for _, row := range f.audit.rows {
		if row.EventType == models.PaymentEventReconciliationMismatch {
			assert.Equal(t, int64(104400), *row.ExpectedAmount)
			assert.Equal(t, int64(100000), *row.ReceivedAmount)
			assert.False(t, *row.AmountsMatch)
		}
	}
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{Retry: RetryPolicy{MaxAttempts: 2}}, pendingBooking("pi_123"))
	payload := eventPayload(stripe.EventPaymentIntentSucceeded, "pi_123", 104400, "")

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong secret", header: stripe.SignPayload(payload, "whsec_other", time.Now())},
		{name: "stale timestamp", header: stripe.SignPayload(payload, webhookSecret, time.Now().Add(-time.Hour))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.reconciler.HandleWebhook(context.Background(), payload, tt.header, RequestMeta{})
			assert.Nil(t, result)
			code, status := appErrorCode(t, err)
			assert.Equal(t, models.ErrCodeInvalidSignature, code)
			assert.Equal(t, http.StatusBadRequest, status)
		})
	}

	assert.Equal(t, models.BookingStatusPendingPayment, f.store.get("pi_123").BookingStatus)
	assert.Equal(t, 0, f.reservations.count())
	for _, event := range f.audit.events() {
		assert.Equal(t, models.PaymentEventSignatureRejected, event)
	}
}

func TestHandleWebhook_AllowUnsignedOutsideProduction(t *testing.T) {
	payload := eventPayload(stripe.EventPaymentIntentSucceeded, "pi_123", 104400, "")

	dev := setupReconciler(ReconcilerConfig{AllowUnsigned: true, Retry: RetryPolicy{MaxAttempts: 1}}, pendingBooking("pi_123"))
	result, err := dev.reconciler.HandleWebhook(context.Background(), payload, "", RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, result.BookingStatus)

	prod := setupReconciler(ReconcilerConfig{AllowUnsigned: true, Production: true}, pendingBooking("pi_123"))
	_, err = prod.reconciler.HandleWebhook(context.Background(), payload, "", RequestMeta{})
	code, _ := appErrorCode(t, err)
	assert.Equal(t, models.ErrCodeInvalidSignature, code)
}

func TestHandleWebhook_UnknownBookingAlerts(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{})

	result := deliver(t, f, eventPayload(stripe.EventPaymentIntentSucceeded, "pi_ghost", 5000, ""))

	assert.Equal(t, "pi_ghost", result.PaymentIntentID)
	require.Len(t, f.alerts.bySeverity(SeverityCritical), 1)
	assert.Equal(t, 0, f.reservations.count())
}

func TestHandleWebhook_PaymentFailedCancelsBooking(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{}, pendingBooking("pi_123"))
	payload := eventPayload(stripe.EventPaymentIntentPaymentFailed, "pi_123", 104400,
		`,"last_payment_error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}`)

	result := deliver(t, f, payload)

	assert.Equal(t, models.BookingStatusCancelled, result.BookingStatus)
	booking := f.store.get("pi_123")
	assert.Equal(t, models.BookingStatusCancelled, booking.BookingStatus)
	assert.Equal(t, models.PaymentStatusFailed, booking.PaymentStatus)
	require.NotNil(t, booking.FailureReason)
	assert.Contains(t, *booking.FailureReason, "insufficient_funds")

	again := deliver(t, f, payload)
	assert.True(t, again.Duplicate)
}

func TestHandleWebhook_CanceledIntent(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{}, pendingBooking("pi_123"))

	deliver(t, f, eventPayload(stripe.EventPaymentIntentCanceled, "pi_123", 104400, `,"cancellation_reason":"abandoned"`))

	booking := f.store.get("pi_123")
	assert.Equal(t, models.BookingStatusCancelled, booking.BookingStatus)
	assert.Equal(t, "canceled: abandoned", *booking.FailureReason)
}

func TestHandleWebhook_FailureAfterSuccessIsIgnored(t *testing.T) {
	booking := pendingBooking("pi_123")
	booking.BookingStatus = models.BookingStatusConfirmed
	f := setupReconciler(ReconcilerConfig{}, booking)

	result := deliver(t, f, eventPayload(stripe.EventPaymentIntentPaymentFailed, "pi_123", 104400, ""))

	assert.Equal(t, models.BookingStatusConfirmed, result.BookingStatus)
	assert.Equal(t, models.BookingStatusConfirmed, f.store.get("pi_123").BookingStatus)
}

func TestHandleWebhook_UnhandledEventType(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{}, pendingBooking("pi_123"))

	result := deliver(t, f, eventPayload("charge.refunded", "ch_1", 104400, ""))

	assert.Equal(t, "charge.refunded", result.EventType)
	assert.Equal(t, models.BookingStatusPendingPayment, f.store.get("pi_123").BookingStatus)
}

type recordingEnqueuer struct {
	ids []string
	err error
}

func (r *recordingEnqueuer) EnqueueReservation(_ context.Context, pi string) error {
	r.ids = append(r.ids, pi)
	return r.err
}

func TestHandleWebhook_AsyncModeEnqueues(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{Async: true}, pendingBooking("pi_123"))
	enqueuer := &recordingEnqueuer{}
	f.reconciler.SetEnqueuer(enqueuer)

	result := deliver(t, f, eventPayload(stripe.EventPaymentIntentSucceeded, "pi_123", 104400, ""))

	assert.True(t, result.Queued)
	assert.Equal(t, models.BookingStatusProcessingBooking, result.BookingStatus)
	assert.Equal(t, []string{"pi_123"}, enqueuer.ids)
	assert.Equal(t, 0, f.reservations.count())
}

func TestHandleWebhook_AsyncEnqueueFailureFallsBackInline(t *testing.T) {
	f := setupReconciler(ReconcilerConfig{Async: true, Retry: RetryPolicy{MaxAttempts: 1}}, pendingBooking("pi_123"))
	f.reconciler.SetEnqueuer(&recordingEnqueuer{err: errBoom})

	result := deliver(t, f, eventPayload(stripe.EventPaymentIntentSucceeded, "pi_123", 104400, ""))

	assert.False(t, result.Queued)
	assert.Equal(t, models.BookingStatusConfirmed, result.BookingStatus)
}

func TestCompleteReservation_SkipsSettledBookings(t *testing.T) {
	booking := pendingBooking("pi_123")
	booking.BookingStatus = models.BookingStatusConfirmed
	f := setupReconciler(ReconcilerConfig{}, booking)

	got, err := f.reconciler.CompleteReservation(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, got.BookingStatus)
	assert.Equal(t, 0, f.reservations.count())
}

func TestCompleteReservation_StoreFailureAfterReservation(t *testing.T) {
	booking := pendingBooking("pi_123")
	booking.BookingStatus = models.BookingStatusProcessingBooking
	f := setupReconciler(ReconcilerConfig{}, booking)
	f.store.updateErr = errBoom

	got, err := f.reconciler.CompleteReservation(context.Background(), "pi_123")
	assert.Error(t, err)
	assert.Equal(t, models.BookingStatusManualReview, got.BookingStatus)
	critical := f.alerts.bySeverity(SeverityCritical)
	require.Len(t, critical, 1)
	assert.Equal(t, "res_42", critical[0].Context["reservation_id"])
}
