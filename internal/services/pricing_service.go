package services

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vacationrental/booking-backend/internal/models"
)

// ErrInvalidPricingInput is returned when the pricing engine cannot price a stay
var ErrInvalidPricingInput = errors.New("invalid pricing input")

// CalculateBookingPrice turns accommodation nights, guest counts and a property's
// fee/tax configuration into an itemized breakdown. It does no I/O and returns
// identical output for identical input.
func CalculateBookingPrice(in models.PricingInput) (*models.PriceBreakdown, error) {
	if in.AccommodationTotal <= 0 {
		return nil, fmt.Errorf("%w: accommodation total must be positive, got %v", ErrInvalidPricingInput, in.AccommodationTotal)
	}
	if in.Nights <= 0 {
		return nil, fmt.Errorf("%w: nights must be positive, got %d", ErrInvalidPricingInput, in.Nights)
	}
	if in.CleaningFee < 0 {
		return nil, fmt.Errorf("%w: cleaning fee must not be negative", ErrInvalidPricingInput)
	}

	guests := in.TotalGuests()
	extraGuestFee := extraGuestFee(in.Fees, guests)

	// Rounded once so every tax works off the same whole-unit base
	subtotal := math.Round(in.AccommodationTotal + in.CleaningFee + extraGuestFee)

	taxes := make([]models.TaxLine, 0, len(in.Taxes))
	totalTax := 0.0
	for _, tax := range in.Taxes {
		if !tax.Enabled {
			continue
		}
		line, ok := computeTax(tax, subtotal, in.Nights, guests)
		if !ok {
			continue
		}
		taxes = append(taxes, line)
		totalTax += line.Amount
	}
	totalTax = roundCents(totalTax)

	return &models.PriceBreakdown{
		Currency:           in.Currency,
		AccommodationTotal: in.AccommodationTotal,
		CleaningFee:        in.CleaningFee,
		ExtraGuestFee:      extraGuestFee,
		Subtotal:           subtotal,
		Taxes:              taxes,
		TotalTax:           totalTax,
		GrandTotal:         roundCents(subtotal + totalTax),
		Nights:             in.Nights,
		Guests:             guests,
		AveragePerNight:    math.Round(in.AccommodationTotal / float64(in.Nights)),
	}, nil
}

// extraGuestFee charges every guest above the included count of the first enabled
// extra-guest fee
func extraGuestFee(fees []models.PropertyFee, guests int) float64 {
	for _, fee := range fees {
		if !fee.Enabled || fee.Kind != models.FeeKindExtraGuest {
			continue
		}
		included := 0
		if fee.GuestsIncluded != nil {
			included = *fee.GuestsIncluded
		}
		extra := guests - included
		if extra <= 0 {
			return 0
		}
		return float64(extra) * fee.Amount
	}
	return 0
}

func computeTax(tax models.PropertyTax, subtotal float64, nights, guests int) (models.TaxLine, bool) {
	line := models.TaxLine{
		Name: taxName(tax),
		Kind: tax.Kind,
		Type: tax.Type,
	}

	switch tax.Kind {
	case models.TaxKindPerBookingPercentage:
		rate := tax.Amount
		line.Type = models.AmountTypePercentage
		line.Rate = &rate
		line.Amount = roundCents(subtotal * rate / 100)
	case models.TaxKindPerBookingAmount:
		line.Amount = tax.Amount
	case models.TaxKindPerNight:
		n := nights
		line.Nights = &n
		line.Amount = roundCents(tax.Amount * float64(nights))
	case models.TaxKindPerPersonPerNight:
		n, g := nights, guests
		line.Nights = &n
		line.Guests = &g
		line.Amount = roundCents(tax.Amount * float64(guests) * float64(nights))
	case models.TaxKindUnknown:
		return line, false
	default:
		return line, false
	}
	return line, true
}

func taxName(tax models.PropertyTax) string {
	if tax.Name != "" {
		return tax.Name
	}
	return tax.Label
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// ToMinorUnits converts a major-unit amount to integer minor units (cents, rappen)
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromMinorUnits converts integer minor units back to a major-unit amount
func FromMinorUnits(amount int64) float64 {
	return float64(amount) / 100
}

// AccommodationFromCalendar sums the nightly rates for [checkIn, checkOut). Nights
// with no calendar entry or a non-positive rate are charged the fallback rate and
// reported in MissingDates.
func AccommodationFromCalendar(calendar models.Calendar, checkIn, checkOut time.Time, fallbackRate float64) models.AccommodationQuote {
	nights := models.StayNights(checkIn, checkOut)
	quote := models.AccommodationQuote{
		Nights:       len(nights),
		NightlyRates: make(map[string]float64, len(nights)),
		MissingDates: []string{},
	}

	for _, night := range nights {
		date := night.Format(models.DateLayout)
		rate := fallbackRate
		if day, ok := calendar.Day(night); ok && day.Rate > 0 {
			rate = day.Rate
		} else {
			quote.UsedFallback = true
			quote.MissingDates = append(quote.MissingDates, date)
		}
		quote.NightlyRates[date] = rate
		quote.Total += rate
	}
	quote.Total = roundCents(quote.Total)
	return quote
}
