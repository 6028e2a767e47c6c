package models

// Validation issue codes
const (
	IssueCapacityExceeded   = "capacity_exceeded"
	IssueMinStay            = "min_stay"
	IssueUnavailable        = "unavailable"
	IssueClosedForArrival   = "closed_for_arrival"
	IssueClosedForDeparture = "closed_for_departure"
	IssueInvalidDates       = "invalid_dates"
	IssueInvalidGuests      = "invalid_guests"
	IssueFallbackPricing    = "fallback_pricing"
)

// ValidationIssue is one blocking error or non-blocking warning
type ValidationIssue struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Dates   []string `json:"dates,omitempty"`
}

// ValidationResult is the outcome of validating a proposed booking
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}
