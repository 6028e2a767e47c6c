package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/vacationrental/booking-backend/internal/models"
)

// StayRequest is the part of a booking the validator checks
type StayRequest struct {
	CheckIn  time.Time
	CheckOut time.Time
	Adults   int
	Children int
	Infants  int
	// MissingDates are nights priced with the fallback rate
	MissingDates []string
}

// ValidateBooking checks a proposed stay against property constraints and the
// pre-fetched availability calendar. Pure; never calls the network.
func ValidateBooking(property models.Property, stay StayRequest, calendar models.Calendar) models.ValidationResult {
	result := models.ValidationResult{
		Errors:   []models.ValidationIssue{},
		Warnings: []models.ValidationIssue{},
	}
	addError := func(code, msg string, dates ...string) {
		result.Errors = append(result.Errors, models.ValidationIssue{Code: code, Message: msg, Dates: dates})
	}

	if stay.Adults < 1 {
		addError(models.IssueInvalidGuests, "at least one adult is required")
	}
	if stay.Children < 0 || stay.Infants < 0 {
		addError(models.IssueInvalidGuests, "guest counts cannot be negative")
	}

	guests := stay.Adults + stay.Children
	if property.MaxCapacity > 0 && guests > property.MaxCapacity {
		addError(models.IssueCapacityExceeded,
			fmt.Sprintf("%d guests exceed the maximum capacity of %d", guests, property.MaxCapacity))
	}

	if !stay.CheckOut.After(stay.CheckIn) {
		addError(models.IssueInvalidDates, "check-out must be after check-in")
		return result
	}

	nights := models.StayNights(stay.CheckIn, stay.CheckOut)

	minStay := property.MinStay
	if day, ok := calendar.Day(stay.CheckIn); ok && day.MinStay > 0 {
		minStay = day.MinStay
	}
	if minStay > 0 && len(nights) < minStay {
		addError(models.IssueMinStay,
			fmt.Sprintf("minimum stay for %s is %d nights, requested %d", stay.CheckIn.Format(models.DateLayout), minStay, len(nights)),
			stay.CheckIn.Format(models.DateLayout))
	}

	var unavailable []string
	for _, night := range nights {
		if day, ok := calendar.Day(night); ok && !day.Available {
			unavailable = append(unavailable, night.Format(models.DateLayout))
		}
	}
	if len(unavailable) > 0 {
		addError(models.IssueUnavailable,
			fmt.Sprintf("property is not available on %s", strings.Join(unavailable, ", ")),
			unavailable...)
	}

	if day, ok := calendar.Day(stay.CheckIn); ok && day.ClosedForArrival {
		addError(models.IssueClosedForArrival, "arrival is not possible on the selected check-in date", day.Date)
	}
	if day, ok := calendar.Day(stay.CheckOut); ok && day.ClosedForDeparture {
		addError(models.IssueClosedForDeparture, "departure is not possible on the selected check-out date", day.Date)
	}

	if len(stay.MissingDates) > 0 {
		result.Warnings = append(result.Warnings, models.ValidationIssue{
			Code:    models.IssueFallbackPricing,
			Message: fmt.Sprintf("fallback pricing used for %d night(s): %s", len(stay.MissingDates), strings.Join(stay.MissingDates, ", ")),
			Dates:   stay.MissingDates,
		})
	}

	result.Valid = len(result.Errors) == 0
	return result
}
