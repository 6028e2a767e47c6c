package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Event types handled by the service
const (
	EventPaymentIntentSucceeded     = "payment_intent.succeeded"
	EventPaymentIntentPaymentFailed = "payment_intent.payment_failed"
	EventPaymentIntentCanceled      = "payment_intent.canceled"
)

// DefaultTolerance is the maximum accepted age of a signed webhook
const DefaultTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("webhook signature header missing")
	ErrInvalidHeader    = errors.New("webhook signature header malformed")
	ErrInvalidSignature = errors.New("webhook signature does not match")
	ErrTooOld           = errors.New("webhook timestamp outside tolerance")
)

// Event is a processor webhook event
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
	Livemode bool `json:"livemode"`
}

// ConstructEvent verifies the signature header and decodes the event
func ConstructEvent(payload []byte, sigHeader, secret string, tolerance time.Duration) (*Event, error) {
	if err := VerifySignature(payload, sigHeader, secret, tolerance, time.Now()); err != nil {
		return nil, err
	}
	return ParseEvent(payload)
}

// ParseEvent decodes an event without verifying it
func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("invalid webhook payload: missing event type")
	}
	return &event, nil
}

// VerifySignature checks a "t=<unix>,v1=<hex>" header against HMAC-SHA256(secret, "<t>.<payload>")
func VerifySignature(payload []byte, sigHeader, secret string, tolerance time.Duration, now time.Time) error {
	if sigHeader == "" {
		return ErrMissingSignature
	}
	if secret == "" {
		return fmt.Errorf("webhook secret not configured")
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return err
	}

	expected := computeSignature(timestamp, payload, secret)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			matched = true
			break
		}
	}
	if !matched {
		return ErrInvalidSignature
	}

	if tolerance > 0 {
		age := now.Sub(timestamp)
		if age > tolerance || age < -tolerance {
			return ErrTooOld
		}
	}
	return nil
}

// SignPayload builds a signature header for a payload. Used by tests and local tooling.
func SignPayload(payload []byte, secret string, at time.Time) string {
	sig := computeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(sig))
}

// ParsePaymentIntent decodes the payment intent carried by an event
func (e *Event) ParsePaymentIntent() (*PaymentIntent, error) {
	var pi PaymentIntent
	if err := json.Unmarshal(e.Data.Object, &pi); err != nil {
		return nil, fmt.Errorf("invalid payment intent object: %w", err)
	}
	if pi.ID == "" {
		return nil, fmt.Errorf("invalid payment intent object: missing id")
	}
	return &pi, nil
}

func computeSignature(t time.Time, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(t.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (time.Time, [][]byte, error) {
	var timestamp time.Time
	var signatures [][]byte

	for _, pair := range strings.Split(header, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			return time.Time{}, nil, ErrInvalidHeader
		}
		switch parts[0] {
		case "t":
			ts, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return time.Time{}, nil, ErrInvalidHeader
			}
			timestamp = time.Unix(ts, 0)
		case "v1":
			sig, err := hex.DecodeString(parts[1])
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if timestamp.IsZero() || len(signatures) == 0 {
		return time.Time{}, nil, ErrInvalidHeader
	}
	return timestamp, signatures, nil
}
