// Package channelmanager is the client for the channel-manager API that owns property
// rates, availability and the authoritative reservations.
package channelmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/models"
)

var (
	// ErrNotFound means the channel manager does not know the requested resource
	ErrNotFound = errors.New("channel manager: not found")
	// ErrUnavailable means a transient failure (transport, 5xx, breaker open, malformed body)
	ErrUnavailable = errors.New("channel manager: unavailable")
)

// RejectedError means the channel manager refused a reservation; retrying will not help
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("channel manager rejected reservation (status %d): %s", e.StatusCode, e.Reason)
}

// Config holds the channel-manager connection settings
type Config struct {
	BaseURL          string
	APIKey           string
	ClientID         string
	Timeout          time.Duration
	BreakerThreshold int64
}

// Client calls the channel-manager API through a circuit breaker. Transport errors
// and 5xx responses count as breaker failures; 4xx responses do not.
type Client struct {
	baseURL  string
	apiKey   string
	clientID string
	http     *http.Client
	breaker  *circuit.Breaker
	validate *validator.Validate
	logger   *logrus.Logger
}

// NewClient creates a channel-manager client
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		clientID: cfg.ClientID,
		http:     &http.Client{Timeout: timeout},
		breaker:  circuit.NewConsecutiveBreaker(threshold),
		validate: validator.New(),
		logger:   logger,
	}
}

// ============================================================================
// RATES & AVAILABILITY
// ============================================================================

type propertyResponse struct {
	Property models.Property `json:"property" validate:"required"`
}

// GetProperty fetches a property's booking constraints
func (c *Client) GetProperty(ctx context.Context, propertyID string) (*models.Property, error) {
	var resp propertyResponse
	path := "/properties/" + url.PathEscape(propertyID)
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Property, nil
}

type pricingResponse struct {
	Currency string     `json:"currency" validate:"required,len=3"`
	Fees     []feeEntry `json:"fees" validate:"dive"`
	Taxes    []taxEntry `json:"taxes" validate:"dive"`
}

type feeEntry struct {
	Label          string  `json:"label" validate:"required"`
	Type           string  `json:"type" validate:"omitempty,oneof=fixed percentage"`
	Amount         float64 `json:"amount" validate:"gte=0"`
	Enabled        *bool   `json:"enabled"`
	GuestsIncluded *int    `json:"guests_included" validate:"omitempty,gte=0"`
}

type taxEntry struct {
	Label   string  `json:"label" validate:"required"`
	Type    string  `json:"type" validate:"omitempty,oneof=fixed percentage"`
	Name    string  `json:"name"`
	Amount  float64 `json:"amount" validate:"gte=0"`
	Enabled *bool   `json:"enabled"`
}

// GetPropertyPricingConfig fetches the fee and tax configuration of a property.
// Labels are mapped onto the known fee and tax kinds; unknown labels are kept as
// the unknown kind and logged.
func (c *Client) GetPropertyPricingConfig(ctx context.Context, propertyID string) (*models.PropertyPricingConfig, error) {
	var resp pricingResponse
	path := "/properties/" + url.PathEscape(propertyID) + "/pricing"
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	cfg := &models.PropertyPricingConfig{
		PropertyID: propertyID,
		Currency:   strings.ToUpper(resp.Currency),
	}
	for _, f := range resp.Fees {
		kind := models.ParseFeeKind(f.Label)
		if kind == models.FeeKindUnknown {
			c.logger.WithFields(logrus.Fields{
				"property_id": propertyID,
				"label":       f.Label,
			}).Warn("Unknown fee label in pricing configuration")
		}
		cfg.Fees = append(cfg.Fees, models.PropertyFee{
			Label:          f.Label,
			Kind:           kind,
			Type:           amountType(f.Type),
			Amount:         f.Amount,
			Enabled:        f.Enabled == nil || *f.Enabled,
			GuestsIncluded: f.GuestsIncluded,
		})
	}
	for _, t := range resp.Taxes {
		kind := models.ParseTaxKind(t.Label)
		if kind == models.TaxKindUnknown {
			c.logger.WithFields(logrus.Fields{
				"property_id": propertyID,
				"label":       t.Label,
			}).Warn("Unknown tax label in pricing configuration")
		}
		cfg.Taxes = append(cfg.Taxes, models.PropertyTax{
			Label:   t.Label,
			Kind:    kind,
			Type:    amountType(t.Type),
			Name:    t.Name,
			Amount:  t.Amount,
			Enabled: t.Enabled == nil || *t.Enabled,
		})
	}
	return cfg, nil
}

type calendarResponse struct {
	Days []models.CalendarDay `json:"days" validate:"dive"`
}

// GetAvailability fetches the rate and availability calendar for [from, to]
func (c *Client) GetAvailability(ctx context.Context, propertyID string, from, to time.Time) ([]models.CalendarDay, error) {
	var resp calendarResponse
	path := "/properties/" + url.PathEscape(propertyID) + "/calendar"
	query := url.Values{}
	query.Set("from", from.Format(models.DateLayout))
	query.Set("to", to.Format(models.DateLayout))
	if err := c.getJSON(ctx, path, query, &resp); err != nil {
		return nil, err
	}
	return resp.Days, nil
}

// ============================================================================
// RESERVATIONS
// ============================================================================

// ReservationRequest is the payload for creating a downstream reservation
type ReservationRequest struct {
	PropertyID      string `json:"property_id"`
	CheckIn         string `json:"check_in"`
	CheckOut        string `json:"check_out"`
	GuestName       string `json:"guest_name"`
	GuestEmail      string `json:"guest_email"`
	GuestPhone      string `json:"guest_phone,omitempty"`
	NumberOfGuests  int    `json:"number_of_guests"`
	ExternalRef     string `json:"external_reference"`
	TotalAmount     string `json:"total_amount"`
	Currency        string `json:"currency"`
	PaymentReceived bool   `json:"payment_received"`
}

// Reservation is the channel manager's reservation record
type Reservation struct {
	ID     string `json:"id" validate:"required"`
	Status string `json:"status"`
}

type reservationResponse struct {
	Booking Reservation `json:"booking" validate:"required"`
}

// CreateReservation creates the authoritative reservation. 409/422 responses are
// returned as *RejectedError; everything else that fails wraps ErrUnavailable.
func (c *Client) CreateReservation(ctx context.Context, reservation ReservationRequest) (*Reservation, error) {
	body, err := json.Marshal(reservation)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reservation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bookings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", reservation.ExternalRef)

	status, respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return nil, &RejectedError{StatusCode: status, Reason: errorMessage(respBody)}
	case status < 200 || status > 299:
		return nil, fmt.Errorf("%w: create reservation returned status %d", ErrUnavailable, status)
	}

	var resp reservationResponse
	if err := c.decode(respBody, &resp); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"reservation_id": resp.Booking.ID,
		"property_id":    reservation.PropertyID,
		"external_ref":   reservation.ExternalRef,
	}).Info("Channel manager reservation created")

	return &resp.Booking, nil
}

// ============================================================================
// TRANSPORT
// ============================================================================

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	status, body, err := c.do(req)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status < 200 || status > 299:
		return fmt.Errorf("%w: GET %s returned status %d", ErrUnavailable, path, status)
	}
	return c.decode(body, out)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.clientID != "" {
		req.Header.Set("X-Client-ID", c.clientID)
	}

	var status int
	var body []byte
	err := c.breaker.Call(func() error {
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		status = resp.StatusCode
		if status >= 500 {
			return fmt.Errorf("server error %d", status)
		}
		return nil
	}, 0)

	if errors.Is(err, circuit.ErrBreakerOpen) {
		c.logger.WithField("path", req.URL.Path).Warn("Channel manager circuit breaker open, skipping call")
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil && status == 0 {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return status, body, nil
}

func (c *Client) decode(body []byte, out interface{}) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	if err := c.validate.Struct(out); err != nil {
		return fmt.Errorf("%w: invalid response: %v", ErrUnavailable, err)
	}
	return nil
}

func amountType(t string) models.AmountType {
	if strings.EqualFold(t, string(models.AmountTypePercentage)) {
		return models.AmountTypePercentage
	}
	return models.AmountTypeFixed
}

func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}
