// Package validator validates and normalizes guest contact details
package validator

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrEmptyEmail indicates the email address is empty
	ErrEmptyEmail = errors.New("email address cannot be empty")

	// ErrInvalidEmail indicates the email address is malformed
	ErrInvalidEmail = errors.New("email address is not valid")

	// ErrInvalidPhone indicates the phone number contains invalid characters
	ErrInvalidPhone = errors.New("phone number can only contain digits, spaces, dashes, parentheses and a leading +")

	// ErrInvalidPhoneLength indicates the phone number has too few or too many digits
	ErrInvalidPhoneLength = errors.New("phone number must have between 6 and 15 digits")
)

// phoneRegex matches an optional leading + followed by digits
var phoneRegex = regexp.MustCompile(`^\+?\d+$`)

// ContactValidator handles guest contact validation
type ContactValidator struct {
	validate *validator.Validate
}

// NewContactValidator creates a new contact validator instance
func NewContactValidator() *ContactValidator {
	return &ContactValidator{validate: validator.New()}
}

// ValidateEmail validates an email address and returns it trimmed and lower-cased
func (v *ContactValidator) ValidateEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmptyEmail
	}
	if err := v.validate.Var(email, "email"); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// ValidatePhone validates an international phone number.
// Accepts format: +41 79 123 45 67, 0041-79-123-4567 or (079) 123 4567
// Returns the number with separators removed and "00" rewritten to "+".
func (v *ContactValidator) ValidatePhone(phone string) (string, error) {
	sanitized := v.Sanitize(phone)
	if strings.HasPrefix(sanitized, "00") {
		sanitized = "+" + sanitized[2:]
	}

	if !phoneRegex.MatchString(sanitized) {
		return "", ErrInvalidPhone
	}

	digits := strings.TrimPrefix(sanitized, "+")
	if len(digits) < 6 || len(digits) > 15 {
		return "", ErrInvalidPhoneLength
	}
	return sanitized, nil
}

// Sanitize removes spaces, dashes, dots and parentheses
func (v *ContactValidator) Sanitize(phone string) string {
	return strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
}
