package models

import (
	"strings"
)

// FeeKind is the closed set of property fee kinds the pricing engine understands
type FeeKind string

const (
	FeeKindExtraGuest FeeKind = "extra_guest_charge"
	FeeKindCleaning   FeeKind = "cleaning_fee"
	FeeKindPet        FeeKind = "pet_fee"
	FeeKindUnknown    FeeKind = "unknown"
)

// TaxKind is the closed set of tax kinds the pricing engine understands
type TaxKind string

const (
	TaxKindPerBookingPercentage TaxKind = "per_booking_percentage"
	TaxKindPerBookingAmount     TaxKind = "per_booking_amount"
	TaxKindPerNight             TaxKind = "per_night"
	TaxKindPerPersonPerNight    TaxKind = "per_person_per_night"
	TaxKindUnknown              TaxKind = "unknown"
)

// AmountType says whether an amount is a flat value or a percentage
type AmountType string

const (
	AmountTypeFixed      AmountType = "fixed"
	AmountTypePercentage AmountType = "percentage"
)

// NormalizeLabel lower-cases a channel-manager label and joins words with underscores,
// so "Extra Guest Charge" and "extra-guest-charge" both become "extra_guest_charge".
func NormalizeLabel(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.NewReplacer(" ", "_", "-", "_").Replace(l)
	for strings.Contains(l, "__") {
		l = strings.ReplaceAll(l, "__", "_")
	}
	return l
}

// ParseFeeKind maps a label onto a FeeKind. Unrecognized labels map to FeeKindUnknown.
func ParseFeeKind(label string) FeeKind {
	switch FeeKind(NormalizeLabel(label)) {
	case FeeKindExtraGuest:
		return FeeKindExtraGuest
	case FeeKindCleaning:
		return FeeKindCleaning
	case FeeKindPet:
		return FeeKindPet
	default:
		return FeeKindUnknown
	}
}

// ParseTaxKind maps a label onto a TaxKind. Unrecognized labels map to TaxKindUnknown.
func ParseTaxKind(label string) TaxKind {
	switch TaxKind(NormalizeLabel(label)) {
	case TaxKindPerBookingPercentage:
		return TaxKindPerBookingPercentage
	case TaxKindPerBookingAmount:
		return TaxKindPerBookingAmount
	case TaxKindPerNight:
		return TaxKindPerNight
	case TaxKindPerPersonPerNight:
		return TaxKindPerPersonPerNight
	default:
		return TaxKindUnknown
	}
}

// PropertyFee is one fee entry of a property's pricing configuration
type PropertyFee struct {
	Label          string     `json:"label"`
	Kind           FeeKind    `json:"kind"`
	Type           AmountType `json:"type"`
	Amount         float64    `json:"amount"`
	Enabled        bool       `json:"enabled"`
	GuestsIncluded *int       `json:"guestsIncluded,omitempty"`
}

// PropertyTax is one tax entry of a property's pricing configuration
type PropertyTax struct {
	Label   string     `json:"label"`
	Kind    TaxKind    `json:"kind"`
	Type    AmountType `json:"type"`
	Name    string     `json:"name"`
	Amount  float64    `json:"amount"`
	Enabled bool       `json:"enabled"`
}

// PropertyPricingConfig is an immutable per-request snapshot of a property's fees and taxes
type PropertyPricingConfig struct {
	PropertyID string        `json:"propertyId"`
	Currency   string        `json:"currency"`
	Fees       []PropertyFee `json:"fees"`
	Taxes      []PropertyTax `json:"taxes"`
}

// TaxLine is one computed tax in a price breakdown
type TaxLine struct {
	Name   string     `json:"name"`
	Kind   TaxKind    `json:"kind"`
	Type   AmountType `json:"type"`
	Rate   *float64   `json:"rate,omitempty"`
	Amount float64    `json:"amount"`
	Guests *int       `json:"guests,omitempty"`
	Nights *int       `json:"nights,omitempty"`
}

// PriceBreakdown is the fully itemized output of the pricing engine
type PriceBreakdown struct {
	Currency           string    `json:"currency"`
	AccommodationTotal float64   `json:"accommodationTotal"`
	CleaningFee        float64   `json:"cleaningFee"`
	ExtraGuestFee      float64   `json:"extraGuestFee"`
	Subtotal           float64   `json:"subtotal"`
	Taxes              []TaxLine `json:"taxes"`
	TotalTax           float64   `json:"totalTax"`
	GrandTotal         float64   `json:"grandTotal"`
	Nights             int       `json:"nights"`
	Guests             int       `json:"guests"`
	AveragePerNight    float64   `json:"averagePerNight"`
}

// PricingInput is the argument set of the pricing engine
type PricingInput struct {
	AccommodationTotal float64
	CleaningFee        float64
	Nights             int
	Adults             int
	Children           int
	Infants            int
	Fees               []PropertyFee
	Taxes              []PropertyTax
	Currency           string
}

// TotalGuests counts adults and children. Infants are not priced.
func (p PricingInput) TotalGuests() int {
	return p.Adults + p.Children
}

// AccommodationQuote is the nightly-rate sum for a stay, with fallback tracking
type AccommodationQuote struct {
	Total        float64            `json:"total"`
	Nights       int                `json:"nights"`
	NightlyRates map[string]float64 `json:"nightlyRates"`
	UsedFallback bool               `json:"usedFallback"`
	MissingDates []string           `json:"missingDates"`
}
