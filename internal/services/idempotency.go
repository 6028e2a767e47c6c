package services

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// bookingNamespace scopes booking ids derived from idempotency keys
var bookingNamespace = uuid.MustParse("6f0c3a52-8d1e-4b7a-9c43-2e5d7f1a0b96")

// PurposePaymentIntent scopes idempotency keys used for payment intent creation
const PurposePaymentIntent = "payment_intent"

// IdempotencyKey derives a stable key from the fields that identify one logical
// booking attempt. Prices and request time are deliberately not part of it.
func IdempotencyKey(purpose, propertyID, checkIn, checkOut, guestEmail string) string {
	parts := []string{
		purpose,
		strings.TrimSpace(propertyID),
		checkIn,
		checkOut,
		strings.ToLower(strings.TrimSpace(guestEmail)),
	}
	sum := blake2b.Sum256([]byte(strings.Join(parts, "|")))
	return purpose + "_" + hex.EncodeToString(sum[:16])
}

// BookingIDForKey maps an idempotency key to the booking id sent in the intent
// metadata. Retries must send byte-identical parameters under the same key.
func BookingIDForKey(idempotencyKey string) uuid.UUID {
	return uuid.NewSHA1(bookingNamespace, []byte(idempotencyKey))
}
