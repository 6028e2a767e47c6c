package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the processor-side state of a booking's payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPendingPayment    BookingStatus = "pending_payment"    // Intent created, waiting for payment
	BookingStatusProcessingBooking BookingStatus = "processing_booking" // Paid, downstream reservation in flight
	BookingStatusConfirmed         BookingStatus = "confirmed"          // Downstream reservation created
	BookingStatusCancelled         BookingStatus = "cancelled"          // Payment failed or was canceled
	BookingStatusManualReview      BookingStatus = "manual_review"      // Paid, needs an operator to finish the reservation
)

// IsTerminal reports whether no automated transition leaves this status
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusConfirmed, BookingStatusCancelled, BookingStatusManualReview:
		return true
	}
	return false
}

// TaxLines is a JSONB column holding computed tax lines
type TaxLines []TaxLine

// Value implements the driver.Valuer interface
// Returns JSON as string for compatibility with pgx simple protocol mode
func (t TaxLines) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	bytes, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (t *TaxLines) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		return fmt.Errorf("cannot scan %T into TaxLines", value)
	}
}

// Booking is the durable record of a booking, keyed by its payment intent
type Booking struct {
	ID                    uuid.UUID `json:"id" db:"id"`
	StripePaymentIntentID string    `json:"stripe_payment_intent_id" db:"stripe_payment_intent_id"`
	IdempotencyKey        string    `json:"idempotency_key" db:"idempotency_key"`
	PropertyID            string    `json:"property_id" db:"property_id"`
	CheckIn               time.Time `json:"check_in" db:"check_in"`
	CheckOut              time.Time `json:"check_out" db:"check_out"`
	Adults                int       `json:"adults" db:"adults"`
	Children              int       `json:"children" db:"children"`
	Infants               int       `json:"infants" db:"infants"`

	// Guest
	GuestName        string  `json:"guest_name" db:"guest_name"`
	GuestEmail       string  `json:"guest_email" db:"guest_email"`
	GuestPhone       *string `json:"guest_phone,omitempty" db:"guest_phone"`
	MarketingConsent bool    `json:"marketing_consent" db:"marketing_consent"`

	// Pricing snapshot
	Currency           string   `json:"currency" db:"currency"`
	AccommodationTotal float64  `json:"accommodation_total" db:"accommodation_total"`
	CleaningFee        float64  `json:"cleaning_fee" db:"cleaning_fee"`
	ExtraGuestFee      float64  `json:"extra_guest_fee" db:"extra_guest_fee"`
	Subtotal           float64  `json:"subtotal" db:"subtotal"`
	Taxes              TaxLines `json:"taxes" db:"taxes"`
	TotalTax           float64  `json:"total_tax" db:"total_tax"`
	GrandTotal         float64  `json:"grand_total" db:"grand_total"`
	Nights             int      `json:"nights" db:"nights"`
	Guests             int      `json:"guests" db:"guests"`
	AveragePerNight    float64  `json:"average_per_night" db:"average_per_night"`

	// State
	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`
	BookingStatus BookingStatus `json:"booking_status" db:"booking_status"`
	ReservationID *string       `json:"reservation_id,omitempty" db:"reservation_id"`
	FailureReason *string       `json:"failure_reason,omitempty" db:"failure_reason"`

	// Timestamps
	PaidAt      *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Pricing rebuilds the price breakdown stored on the booking
func (b *Booking) Pricing() PriceBreakdown {
	return PriceBreakdown{
		Currency:           b.Currency,
		AccommodationTotal: b.AccommodationTotal,
		CleaningFee:        b.CleaningFee,
		ExtraGuestFee:      b.ExtraGuestFee,
		Subtotal:           b.Subtotal,
		Taxes:              b.Taxes,
		TotalTax:           b.TotalTax,
		GrandTotal:         b.GrandTotal,
		Nights:             b.Nights,
		Guests:             b.Guests,
		AveragePerNight:    b.AveragePerNight,
	}
}

// ApplyPricing copies a price breakdown onto the booking
func (b *Booking) ApplyPricing(p PriceBreakdown) {
	b.Currency = p.Currency
	b.AccommodationTotal = p.AccommodationTotal
	b.CleaningFee = p.CleaningFee
	b.ExtraGuestFee = p.ExtraGuestFee
	b.Subtotal = p.Subtotal
	b.Taxes = p.Taxes
	b.TotalTax = p.TotalTax
	b.GrandTotal = p.GrandTotal
	b.Nights = p.Nights
	b.Guests = p.Guests
	b.AveragePerNight = p.AveragePerNight
}

// ============================================================================
// REQUEST/RESPONSE DTOs
// ============================================================================

// CreatePaymentIntentRequest is the checkout payload for POST /payment-intents
type CreatePaymentIntentRequest struct {
	PropertyID         string   `json:"propertyId"`
	CheckIn            string   `json:"checkIn"`
	CheckOut           string   `json:"checkOut"`
	Adults             int      `json:"adults"`
	Children           int      `json:"children"`
	Infants            int      `json:"infants"`
	GuestName          string   `json:"guestName"`
	GuestEmail         string   `json:"guestEmail"`
	GuestPhone         *string  `json:"guestPhone,omitempty"`
	AccommodationTotal *float64 `json:"accommodationTotal"`
	CleaningFee        float64  `json:"cleaningFee"`
	MarketingConsent   bool     `json:"marketingConsent"`
}

// MissingFields lists required fields that are absent
func (r *CreatePaymentIntentRequest) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(r.PropertyID) == "" {
		missing = append(missing, "propertyId")
	}
	if r.CheckIn == "" {
		missing = append(missing, "checkIn")
	}
	if r.CheckOut == "" {
		missing = append(missing, "checkOut")
	}
	if strings.TrimSpace(r.GuestName) == "" {
		missing = append(missing, "guestName")
	}
	if strings.TrimSpace(r.GuestEmail) == "" {
		missing = append(missing, "guestEmail")
	}
	if r.AccommodationTotal == nil {
		missing = append(missing, "accommodationTotal")
	}
	return missing
}

// StayDates parses and checks the requested date range
func (r *CreatePaymentIntentRequest) StayDates() (time.Time, time.Time, error) {
	checkIn, err := ParseDate(r.CheckIn)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("checkIn must be a YYYY-MM-DD date")
	}
	checkOut, err := ParseDate(r.CheckOut)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("checkOut must be a YYYY-MM-DD date")
	}
	if !checkOut.After(checkIn) {
		return time.Time{}, time.Time{}, fmt.Errorf("checkOut must be after checkIn")
	}
	return checkIn, checkOut, nil
}

// ValidateGuests checks the guest counts
func (r *CreatePaymentIntentRequest) ValidateGuests() error {
	if r.Adults < 1 {
		return fmt.Errorf("at least one adult is required")
	}
	if r.Children < 0 || r.Infants < 0 {
		return fmt.Errorf("guest counts cannot be negative")
	}
	if r.CleaningFee < 0 {
		return fmt.Errorf("cleaningFee cannot be negative")
	}
	if r.AccommodationTotal != nil && *r.AccommodationTotal < 0 {
		return fmt.Errorf("accommodationTotal cannot be negative")
	}
	return nil
}

// CreatePaymentIntentResponse is returned to the checkout client
type CreatePaymentIntentResponse struct {
	ClientSecret    string         `json:"clientSecret"`
	PaymentIntentID string         `json:"paymentIntentId"`
	BookingID       string         `json:"bookingId"`
	Pricing         PriceBreakdown `json:"pricing"`
}

// QuoteRequest is the payload for POST /quotes
type QuoteRequest struct {
	PropertyID  string  `json:"propertyId" binding:"required"`
	CheckIn     string  `json:"checkIn" binding:"required"`
	CheckOut    string  `json:"checkOut" binding:"required"`
	Adults      int     `json:"adults" binding:"required,min=1"`
	Children    int     `json:"children" binding:"min=0"`
	Infants     int     `json:"infants" binding:"min=0"`
	CleaningFee float64 `json:"cleaningFee" binding:"min=0"`
}

// QuoteResponse is the priced and validated stay
type QuoteResponse struct {
	PropertyID   string           `json:"propertyId"`
	CheckIn      string           `json:"checkIn"`
	CheckOut     string           `json:"checkOut"`
	Pricing      *PriceBreakdown  `json:"pricing,omitempty"`
	Validation   ValidationResult `json:"validation"`
	UsedFallback bool             `json:"usedFallback"`
	MissingDates []string         `json:"missingDates"`
}

// ResolveManualReviewRequest is the operator payload for closing a manual-review booking
type ResolveManualReviewRequest struct {
	ReservationID string `json:"reservation_id" binding:"required"`
	Note          string `json:"note"`
}
