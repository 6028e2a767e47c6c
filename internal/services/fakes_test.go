package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vacationrental/booking-backend/internal/database"
	"github.com/vacationrental/booking-backend/internal/models"
	"github.com/vacationrental/booking-backend/pkg/channelmanager"
	"github.com/vacationrental/booking-backend/pkg/stripe"
)

// fakeCatalog serves one property from memory
type fakeCatalog struct {
	property *models.Property
	pricing  *models.PropertyPricingConfig
	days     []models.CalendarDay
	err      error
	calls    int
}

func (f *fakeCatalog) GetProperty(_ context.Context, id string) (*models.Property, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.property == nil || f.property.ID != id {
		return nil, channelmanager.ErrNotFound
	}
	return f.property, nil
}

func (f *fakeCatalog) GetPropertyPricingConfig(_ context.Context, id string) (*models.PropertyPricingConfig, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.pricing == nil || f.pricing.PropertyID != id {
		return nil, channelmanager.ErrNotFound
	}
	return f.pricing, nil
}

func (f *fakeCatalog) GetAvailability(_ context.Context, id string, _, _ time.Time) ([]models.CalendarDay, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.days, nil
}

func villaPricing() *models.PropertyPricingConfig {
	return &models.PropertyPricingConfig{
		PropertyID: "villa-1",
		Currency:   "CHF",
		Fees:       extraGuestFeeConfig(2, 25),
		Taxes:      standardTaxes(),
	}
}

// fakeProcessor mimics the processor's idempotency: the same key with the same
// parameters returns the same intent, different parameters are rejected
type fakeProcessor struct {
	mu      sync.Mutex
	byKey   map[string]*stripe.PaymentIntent
	firstBy map[string]stripe.PaymentIntentParams
	params  []stripe.PaymentIntentParams
	err     error
	counter int
}

func (f *fakeProcessor) CreatePaymentIntent(_ context.Context, params stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	if f.byKey == nil {
		f.byKey = map[string]*stripe.PaymentIntent{}
		f.firstBy = map[string]stripe.PaymentIntentParams{}
	}
	if pi, ok := f.byKey[params.IdempotencyKey]; ok {
		if !assert.ObjectsAreEqual(f.firstBy[params.IdempotencyKey], params) {
			return nil, &stripe.Error{
				StatusCode: 400,
				Type:       "idempotency_error",
				Message:    "Keys for idempotent requests can only be used with the same parameters they were first used with.",
			}
		}
		return pi, nil
	}
	f.counter++
	id := "pi_test_" + string(rune('a'+f.counter-1))
	pi := &stripe.PaymentIntent{
		ID:           id,
		Amount:       params.Amount,
		Currency:     params.Currency,
		Status:       "requires_payment_method",
		ClientSecret: id + "_secret_x",
		Metadata:     params.Metadata,
	}
	f.byKey[params.IdempotencyKey] = pi
	f.firstBy[params.IdempotencyKey] = params
	return pi, nil
}

// memoryStore is an in-memory BookingStore with the same conditional-update rules as the
// SQL repository
type memoryStore struct {
	mu        sync.Mutex
	bookings  map[string]*models.Booking
	findErr   error
	createErr error
	updateErr error
	claims    int
	afterList func(s *memoryStore)
}

func newMemoryStore(bookings ...*models.Booking) *memoryStore {
	s := &memoryStore{bookings: map[string]*models.Booking{}}
	for _, b := range bookings {
		s.bookings[b.StripePaymentIntentID] = b
	}
	return s
}

func (s *memoryStore) get(pi string) *models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[pi]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

func (s *memoryStore) CreateBooking(_ context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.bookings[b.StripePaymentIntentID]; ok {
		return database.ErrDuplicatePaymentIntent
	}
	cp := *b
	s.bookings[b.StripePaymentIntentID] = &cp
	return nil
}

func (s *memoryStore) FindByPaymentIntentID(_ context.Context, pi string) (*models.Booking, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.get(pi), nil
}

func (s *memoryStore) IsPaymentIntentProcessed(_ context.Context, pi string) (bool, error) {
	b := s.get(pi)
	return b != nil && b.BookingStatus != models.BookingStatusPendingPayment, nil
}

func (s *memoryStore) ListByStatus(_ context.Context, status models.BookingStatus, limit, offset int) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Booking{}
	for _, b := range s.bookings {
		if b.BookingStatus == status {
			out = append(out, *b)
		}
	}
	if offset >= len(out) {
		return []models.Booking{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) ListStaleProcessing(_ context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	s.mu.Lock()
	out := []models.Booking{}
	for _, b := range s.bookings {
		if b.BookingStatus == models.BookingStatusProcessingBooking && b.UpdatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *b)
		}
	}
	s.mu.Unlock()
	if s.afterList != nil {
		s.afterList(s)
	}
	return out, nil
}

func (s *memoryStore) ClaimForProcessing(_ context.Context, pi string, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
	b, ok := s.bookings[pi]
	if !ok || b.BookingStatus != models.BookingStatusPendingPayment {
		return false, nil
	}
	b.PaymentStatus = models.PaymentStatusSucceeded
	b.BookingStatus = models.BookingStatusProcessingBooking
	b.PaidAt = &paidAt
	b.UpdatedAt = paidAt
	return true, nil
}

func (s *memoryStore) UpdateBookingStatus(_ context.Context, pi string, from models.BookingStatus, paymentStatus models.PaymentStatus, bookingStatus models.BookingStatus, reason *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	b, ok := s.bookings[pi]
	if !ok || b.BookingStatus != from {
		return database.ErrStatusConflict
	}
	b.PaymentStatus = paymentStatus
	b.BookingStatus = bookingStatus
	if reason != nil {
		b.FailureReason = reason
	}
	return nil
}

func (s *memoryStore) UpdateWithReservationID(_ context.Context, pi, reservationID string, status models.BookingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	b, ok := s.bookings[pi]
	if !ok || b.BookingStatus != models.BookingStatusProcessingBooking {
		return database.ErrStatusConflict
	}
	b.ReservationID = &reservationID
	b.BookingStatus = status
	b.FailureReason = nil
	return nil
}

func (s *memoryStore) MarkForManualReview(_ context.Context, pi, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[pi]
	if !ok || (b.BookingStatus != models.BookingStatusProcessingBooking && b.BookingStatus != models.BookingStatusManualReview) {
		return database.ErrStatusConflict
	}
	b.BookingStatus = models.BookingStatusManualReview
	b.FailureReason = &reason
	return nil
}

func (s *memoryStore) MarkStaleForManualReview(_ context.Context, pi, reason string, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[pi]
	if !ok || b.BookingStatus != models.BookingStatusProcessingBooking || !b.UpdatedAt.Before(cutoff) {
		return database.ErrStatusConflict
	}
	b.BookingStatus = models.BookingStatusManualReview
	b.FailureReason = &reason
	return nil
}

func (s *memoryStore) ReopenForRetry(_ context.Context, pi string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[pi]
	if !ok || b.BookingStatus != models.BookingStatusManualReview {
		return false, nil
	}
	b.BookingStatus = models.BookingStatusProcessingBooking
	return true, nil
}

func (s *memoryStore) ResolveManualReview(_ context.Context, pi, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[pi]
	if !ok || b.BookingStatus != models.BookingStatusManualReview {
		return database.ErrStatusConflict
	}
	b.ReservationID = &reservationID
	b.BookingStatus = models.BookingStatusConfirmed
	return nil
}

// fakeReservations fails the first failFirst calls, then succeeds
type fakeReservations struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	hangFirst int
	err       error
	requests  []channelmanager.ReservationRequest
}

func (f *fakeReservations) CreateReservation(ctx context.Context, req channelmanager.ReservationRequest) (*channelmanager.Reservation, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	if f.calls <= f.hangFirst {
		f.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer f.mu.Unlock()
	if f.calls <= f.failFirst {
		if f.err != nil {
			return nil, f.err
		}
		return nil, channelmanager.ErrUnavailable
	}
	return &channelmanager.Reservation{ID: "res_42", Status: "confirmed"}, nil
}

func (f *fakeReservations) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memoryAudit collects audit rows
type memoryAudit struct {
	mu   sync.Mutex
	rows []*models.PaymentAudit
	err  error
}

func (m *memoryAudit) Log(_ context.Context, audit *models.PaymentAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, audit)
	return m.err
}

func (m *memoryAudit) events() []models.PaymentEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PaymentEventType, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r.EventType)
	}
	return out
}

// recordingAlerts implements OperatorNotifier
type recordingAlerts struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingAlerts) NotifyOperator(_ context.Context, severity AlertSeverity, subject string, fields map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, Alert{Severity: severity, Subject: subject, Context: fields})
}

func (r *recordingAlerts) bySeverity(severity AlertSeverity) []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Alert
	for _, a := range r.alerts {
		if a.Severity == severity {
			out = append(out, a)
		}
	}
	return out
}

var errBoom = errors.New("boom")

func strPtr(s string) *string { return &s }

func floatPtr(v float64) *float64 { return &v }
