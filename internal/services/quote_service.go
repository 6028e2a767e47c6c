package services

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/metrics"
	"github.com/vacationrental/booking-backend/internal/models"
	"github.com/vacationrental/booking-backend/pkg/channelmanager"
)

// QuoteService prices and validates a stay before checkout
type QuoteService struct {
	catalog         PropertyCatalog
	alerts          OperatorNotifier
	fallbackRate    float64
	defaultCurrency string
	logger          *logrus.Logger
}

// NewQuoteService creates a new quote service
func NewQuoteService(catalog PropertyCatalog, alerts OperatorNotifier, fallbackRate float64, defaultCurrency string, logger *logrus.Logger) *QuoteService {
	return &QuoteService{
		catalog:         catalog,
		alerts:          alerts,
		fallbackRate:    fallbackRate,
		defaultCurrency: strings.ToUpper(defaultCurrency),
		logger:          logger,
	}
}

// GetQuote computes the accommodation total from the rate calendar, validates the stay
// and prices it. A stay that fails validation still gets a price when one can be computed.
func (s *QuoteService) GetQuote(ctx context.Context, req *models.QuoteRequest) (*models.QuoteResponse, error) {
	checkIn, err := models.ParseDate(req.CheckIn)
	if err != nil {
		return nil, models.NewInvalidDatesError("checkIn must be a YYYY-MM-DD date")
	}
	checkOut, err := models.ParseDate(req.CheckOut)
	if err != nil {
		return nil, models.NewInvalidDatesError("checkOut must be a YYYY-MM-DD date")
	}
	if !checkOut.After(checkIn) {
		return nil, models.NewInvalidDatesError("checkOut must be after checkIn")
	}

	property, err := s.catalog.GetProperty(ctx, req.PropertyID)
	if err != nil {
		return nil, s.upstreamError(req.PropertyID, "property", err)
	}
	// Calendar includes the check-out day for the departure restriction
	days, err := s.catalog.GetAvailability(ctx, req.PropertyID, checkIn, checkOut)
	if err != nil {
		return nil, s.upstreamError(req.PropertyID, "availability", err)
	}
	pricingConfig, err := s.catalog.GetPropertyPricingConfig(ctx, req.PropertyID)
	if err != nil {
		return nil, s.upstreamError(req.PropertyID, "pricing configuration", err)
	}

	calendar := models.NewCalendar(days)
	accommodation := AccommodationFromCalendar(calendar, checkIn, checkOut, s.fallbackRate)

	validation := ValidateBooking(*property, StayRequest{
		CheckIn:      checkIn,
		CheckOut:     checkOut,
		Adults:       req.Adults,
		Children:     req.Children,
		Infants:      req.Infants,
		MissingDates: accommodation.MissingDates,
	}, calendar)

	currency := pricingConfig.Currency
	if currency == "" {
		currency = strings.ToUpper(property.Currency)
	}
	if currency == "" {
		currency = s.defaultCurrency
	}

	cleaningFee := req.CleaningFee
	if cleaningFee == 0 {
		cleaningFee = configuredCleaningFee(pricingConfig.Fees)
	}

	response := &models.QuoteResponse{
		PropertyID:   req.PropertyID,
		CheckIn:      req.CheckIn,
		CheckOut:     req.CheckOut,
		Validation:   validation,
		UsedFallback: accommodation.UsedFallback,
		MissingDates: accommodation.MissingDates,
	}

	pricing, err := CalculateBookingPrice(models.PricingInput{
		AccommodationTotal: accommodation.Total,
		CleaningFee:        cleaningFee,
		Nights:             accommodation.Nights,
		Adults:             req.Adults,
		Children:           req.Children,
		Infants:            req.Infants,
		Fees:               pricingConfig.Fees,
		Taxes:              pricingConfig.Taxes,
		Currency:           currency,
	})
	if err != nil {
		s.logger.WithError(err).WithField("property_id", req.PropertyID).Warn("Quote could not be priced")
	} else {
		response.Pricing = pricing
	}

	if accommodation.UsedFallback {
		metrics.FallbackPricingTotal.Inc()
		s.logger.WithFields(logrus.Fields{
			"property_id":   req.PropertyID,
			"missing_dates": accommodation.MissingDates,
			"fallback_rate": s.fallbackRate,
		}).Warn("Fallback nightly rate used for quote")
		s.alerts.NotifyOperator(ctx, SeverityWarning, "Fallback pricing used: nightly rates missing", map[string]interface{}{
			"property_id":   req.PropertyID,
			"check_in":      req.CheckIn,
			"check_out":     req.CheckOut,
			"missing_dates": strings.Join(accommodation.MissingDates, ", "),
			"fallback_rate": s.fallbackRate,
		})
	}

	return response, nil
}

func (s *QuoteService) upstreamError(propertyID, what string, err error) error {
	if errors.Is(err, channelmanager.ErrNotFound) {
		return models.NewPropertyNotFoundError(propertyID)
	}
	s.logger.WithError(err).WithField("property_id", propertyID).Errorf("Failed to fetch %s", what)
	return models.NewUpstreamUnavailableError(err)
}

// configuredCleaningFee returns the first enabled fixed cleaning fee, or 0
func configuredCleaningFee(fees []models.PropertyFee) float64 {
	for _, fee := range fees {
		if fee.Enabled && fee.Kind == models.FeeKindCleaning && fee.Type != models.AmountTypePercentage {
			return fee.Amount
		}
	}
	return 0
}
