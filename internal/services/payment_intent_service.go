package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/database"
	"github.com/vacationrental/booking-backend/internal/metrics"
	"github.com/vacationrental/booking-backend/internal/models"
	"github.com/vacationrental/booking-backend/pkg/channelmanager"
	"github.com/vacationrental/booking-backend/pkg/stripe"
	"github.com/vacationrental/booking-backend/pkg/validator"
)

// PaymentIntentService prices a checkout request, creates the processor payment
// intent and records the pending booking.
//
// Flow:
// 1. Validate request fields, dates and guest counts
// 2. Fetch the property's fee/tax configuration
// 3. Price the stay
// 4. Create the payment intent with a deterministic idempotency key
// 5. Persist the booking keyed by the payment intent id (only after step 4 succeeded)
type PaymentIntentService struct {
	catalog         PropertyCatalog
	processor       PaymentProcessor
	store           BookingStore
	audit           *AuditService
	contacts        *validator.ContactValidator
	defaultCurrency string
	logger          *logrus.Logger
}

// NewPaymentIntentService creates a new payment intent orchestrator
func NewPaymentIntentService(
	catalog PropertyCatalog,
	processor PaymentProcessor,
	store BookingStore,
	audit *AuditService,
	defaultCurrency string,
	logger *logrus.Logger,
) *PaymentIntentService {
	return &PaymentIntentService{
		catalog:         catalog,
		processor:       processor,
		store:           store,
		audit:           audit,
		contacts:        validator.NewContactValidator(),
		defaultCurrency: strings.ToUpper(defaultCurrency),
		logger:          logger,
	}
}

// CreatePaymentIntent runs the checkout flow. Every failure is an *models.AppError.
func (s *PaymentIntentService) CreatePaymentIntent(
	ctx context.Context,
	req *models.CreatePaymentIntentRequest,
	meta RequestMeta,
) (*models.CreatePaymentIntentResponse, error) {
	startTime := time.Now()

	// ============================================================================
	// STEP 1-2: Validate input
	// ============================================================================
	if missing := req.MissingFields(); len(missing) > 0 {
		metrics.PaymentIntentsTotal.WithLabelValues("invalid").Inc()
		return nil, models.NewMissingFieldsError(missing)
	}

	checkIn, checkOut, err := req.StayDates()
	if err != nil {
		metrics.PaymentIntentsTotal.WithLabelValues("invalid").Inc()
		return nil, models.NewInvalidDatesError(err.Error())
	}
	if err := req.ValidateGuests(); err != nil {
		metrics.PaymentIntentsTotal.WithLabelValues("invalid").Inc()
		return nil, models.NewInvalidInputError(err.Error())
	}

	email, err := s.contacts.ValidateEmail(req.GuestEmail)
	if err != nil {
		metrics.PaymentIntentsTotal.WithLabelValues("invalid").Inc()
		return nil, models.NewInvalidInputError(err.Error())
	}
	var phone *string
	if req.GuestPhone != nil && strings.TrimSpace(*req.GuestPhone) != "" {
		normalized, err := s.contacts.ValidatePhone(*req.GuestPhone)
		if err != nil {
			metrics.PaymentIntentsTotal.WithLabelValues("invalid").Inc()
			return nil, models.NewInvalidInputError(err.Error())
		}
		phone = &normalized
	}

	// ============================================================================
	// STEP 3: Property pricing configuration
	// ============================================================================
	pricingConfig, err := s.catalog.GetPropertyPricingConfig(ctx, req.PropertyID)
	if err != nil {
		metrics.PaymentIntentsTotal.WithLabelValues("upstream_error").Inc()
		if errors.Is(err, channelmanager.ErrNotFound) {
			return nil, models.NewPropertyNotFoundError(req.PropertyID)
		}
		s.logger.WithError(err).WithField("property_id", req.PropertyID).Error("Failed to fetch property pricing configuration")
		return nil, models.NewUpstreamUnavailableError(err)
	}

	// ============================================================================
	// STEP 4: Price
	// ============================================================================
	currency := pricingConfig.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}
	pricing, err := CalculateBookingPrice(models.PricingInput{
		AccommodationTotal: *req.AccommodationTotal,
		CleaningFee:        req.CleaningFee,
		Nights:             models.NightsBetween(checkIn, checkOut),
		Adults:             req.Adults,
		Children:           req.Children,
		Infants:            req.Infants,
		Fees:               pricingConfig.Fees,
		Taxes:              pricingConfig.Taxes,
		Currency:           currency,
	})
	if err != nil {
		metrics.PaymentIntentsTotal.WithLabelValues("invalid").Inc()
		return nil, models.NewInvalidInputError(err.Error())
	}

	// ============================================================================
	// STEP 5-6: Payment intent
	// ============================================================================
	idempotencyKey := IdempotencyKey(PurposePaymentIntent, req.PropertyID, req.CheckIn, req.CheckOut, email)
	bookingID := BookingIDForKey(idempotencyKey)

	params := stripe.PaymentIntentParams{
		Amount:         ToMinorUnits(pricing.GrandTotal),
		Currency:       currency,
		Description:    fmt.Sprintf("Stay at %s, %s to %s", req.PropertyID, req.CheckIn, req.CheckOut),
		ReceiptEmail:   email,
		Metadata:       paymentMetadata(bookingID, req, email, pricing),
		IdempotencyKey: idempotencyKey,
	}

	initiated := models.NewPaymentAudit(models.PaymentEventInitiated, models.PaymentSourceBackend).
		SetBooking(bookingID).
		SetIdempotencyKey(idempotencyKey).
		SetRequestPayload(map[string]interface{}{
			"amount":      params.Amount,
			"currency":    params.Currency,
			"property_id": req.PropertyID,
			"check_in":    req.CheckIn,
			"check_out":   req.CheckOut,
		})
	s.audit.Record(ctx, initiated, meta)

	intent, err := s.processor.CreatePaymentIntent(ctx, params)

	response := models.NewPaymentAudit(models.PaymentEventResponse, models.PaymentSourceStripeAPI).
		SetBooking(bookingID).
		SetIdempotencyKey(idempotencyKey).
		SetProcessingTime(startTime)
	if err != nil {
		var procErr *stripe.Error
		if errors.As(err, &procErr) {
			response.SetHTTPStatus(procErr.StatusCode).SetError(procErr.Message, procErr.Code)
		} else {
			response.SetError(err.Error(), "")
		}
		s.audit.Record(ctx, response, meta)
		metrics.PaymentIntentsTotal.WithLabelValues("processor_error").Inc()

		s.logger.WithError(err).WithFields(logrus.Fields{
			"property_id":     req.PropertyID,
			"idempotency_key": idempotencyKey,
		}).Error("Failed to create payment intent")
		return nil, models.NewPaymentProcessorError("payment processor could not create the payment", err)
	}
	response.SetPaymentIntent(intent.ID).SetPaymentStatus(intent.Status).SetHTTPStatus(200)
	s.audit.Record(ctx, response, meta)

	// ============================================================================
	// STEP 7: Persist booking
	// ============================================================================
	if existing, err := s.store.FindByPaymentIntentID(ctx, intent.ID); err != nil {
		metrics.PaymentIntentsTotal.WithLabelValues("store_error").Inc()
		return nil, models.NewInternalError(err)
	} else if existing != nil {
		return s.replayed(existing, intent), nil
	}

	booking := &models.Booking{
		ID:                    bookingID,
		StripePaymentIntentID: intent.ID,
		IdempotencyKey:        idempotencyKey,
		PropertyID:            req.PropertyID,
		CheckIn:               checkIn,
		CheckOut:              checkOut,
		Adults:                req.Adults,
		Children:              req.Children,
		Infants:               req.Infants,
		GuestName:             strings.TrimSpace(req.GuestName),
		GuestEmail:            email,
		GuestPhone:            phone,
		MarketingConsent:      req.MarketingConsent,
		PaymentStatus:         models.PaymentStatusPending,
		BookingStatus:         models.BookingStatusPendingPayment,
	}
	booking.ApplyPricing(*pricing)

	if err := s.store.CreateBooking(ctx, booking); err != nil {
		if errors.Is(err, database.ErrDuplicatePaymentIntent) {
			existing, findErr := s.store.FindByPaymentIntentID(ctx, intent.ID)
			if findErr == nil && existing != nil {
				return s.replayed(existing, intent), nil
			}
		}
		metrics.PaymentIntentsTotal.WithLabelValues("store_error").Inc()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"payment_intent_id": intent.ID,
			"booking_id":        bookingID,
		}).Error("CRITICAL: Payment intent created but booking could not be stored")
		return nil, models.NewInternalError(err)
	}

	metrics.PaymentIntentsTotal.WithLabelValues("created").Inc()
	s.logger.WithFields(logrus.Fields{
		"payment_intent_id": intent.ID,
		"booking_id":        bookingID,
		"property_id":       req.PropertyID,
		"grand_total":       pricing.GrandTotal,
		"currency":          currency,
	}).Info("Payment intent created")

	// ============================================================================
	// STEP 8: Respond
	// ============================================================================
	return &models.CreatePaymentIntentResponse{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		BookingID:       bookingID.String(),
		Pricing:         *pricing,
	}, nil
}

// replayed answers a retried request with the booking stored by the first one
func (s *PaymentIntentService) replayed(existing *models.Booking, intent *stripe.PaymentIntent) *models.CreatePaymentIntentResponse {
	metrics.PaymentIntentsTotal.WithLabelValues("replayed").Inc()
	s.logger.WithFields(logrus.Fields{
		"payment_intent_id": intent.ID,
		"booking_id":        existing.ID,
	}).Info("Idempotent replay of payment intent creation")

	return &models.CreatePaymentIntentResponse{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		BookingID:       existing.ID.String(),
		Pricing:         existing.Pricing(),
	}
}

// paymentMetadata carries the full breakdown so reconciliation never re-derives pricing
func paymentMetadata(bookingID uuid.UUID, req *models.CreatePaymentIntentRequest, email string, p *models.PriceBreakdown) map[string]string {
	money := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

	meta := map[string]string{
		"booking_id":          bookingID.String(),
		"property_id":         req.PropertyID,
		"check_in":            req.CheckIn,
		"check_out":           req.CheckOut,
		"adults":              strconv.Itoa(req.Adults),
		"children":            strconv.Itoa(req.Children),
		"infants":             strconv.Itoa(req.Infants),
		"guests":              strconv.Itoa(p.Guests),
		"nights":              strconv.Itoa(p.Nights),
		"guest_name":          strings.TrimSpace(req.GuestName),
		"guest_email":         email,
		"accommodation_total": money(p.AccommodationTotal),
		"cleaning_fee":        money(p.CleaningFee),
		"extra_guest_fee":     money(p.ExtraGuestFee),
		"subtotal":            money(p.Subtotal),
		"total_tax":           money(p.TotalTax),
		"grand_total":         money(p.GrandTotal),
		"currency":            p.Currency,
	}
	if taxes, err := json.Marshal(p.Taxes); err == nil && len(taxes) <= 500 {
		meta["taxes"] = string(taxes)
	}
	return meta
}
