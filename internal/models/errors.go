package models

import (
	"fmt"
	"net/http"
	"strings"
)

// Error codes surfaced to API callers
const (
	ErrCodeMissingFields       = "MISSING_FIELDS"
	ErrCodeInvalidDates        = "INVALID_DATES"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodePropertyNotFound    = "PROPERTY_NOT_FOUND"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodePaymentProcessor    = "PAYMENT_PROCESSOR_ERROR"
	ErrCodeBookingNotFound     = "BOOKING_NOT_FOUND"
	ErrCodeInvalidSignature    = "INVALID_SIGNATURE"
	ErrCodeStatusConflict      = "STATUS_CONFLICT"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// AppError is an error with an API code and HTTP status
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"error"`
	StatusCode int    `json:"statusCode"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewMissingFieldsError reports absent required fields
func NewMissingFieldsError(fields []string) *AppError {
	return &AppError{
		Code:       ErrCodeMissingFields,
		Message:    "missing required fields: " + strings.Join(fields, ", "),
		StatusCode: http.StatusBadRequest,
	}
}

// NewInvalidDatesError reports an unusable date range
func NewInvalidDatesError(msg string) *AppError {
	return &AppError{Code: ErrCodeInvalidDates, Message: msg, StatusCode: http.StatusBadRequest}
}

// NewInvalidInputError reports an input that cannot be priced or processed
func NewInvalidInputError(msg string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: msg, StatusCode: http.StatusBadRequest}
}

// NewPropertyNotFoundError reports a property unknown to the channel manager
func NewPropertyNotFoundError(propertyID string) *AppError {
	return &AppError{
		Code:       ErrCodePropertyNotFound,
		Message:    fmt.Sprintf("property %s not found", propertyID),
		StatusCode: http.StatusNotFound,
	}
}

// NewUpstreamUnavailableError reports a transient upstream failure
func NewUpstreamUnavailableError(err error) *AppError {
	return &AppError{
		Code:       ErrCodeUpstreamUnavailable,
		Message:    "property data is temporarily unavailable, please retry",
		StatusCode: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewPaymentProcessorError reports a processor-side failure with a user-facing message
func NewPaymentProcessorError(msg string, err error) *AppError {
	return &AppError{
		Code:       ErrCodePaymentProcessor,
		Message:    msg,
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

// NewInternalError wraps an unexpected failure
func NewInternalError(err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternal,
		Message:    "internal error",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
