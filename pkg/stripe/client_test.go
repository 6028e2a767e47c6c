package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePaymentIntent_Success(t *testing.T) {
	var gotKey, gotAuth string
	var gotForm map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"amount":               r.PostForm.Get("amount"),
			"currency":             r.PostForm.Get("currency"),
			"metadata[booking_id]": r.PostForm.Get("metadata[booking_id]"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pi_123","object":"payment_intent","amount":104400,"currency":"chf","status":"requires_payment_method","client_secret":"pi_123_secret_abc"}`))
	}))
	defer server.Close()

	client := NewClient(Config{SecretKey: "sk_test_123", BaseURL: server.URL})
	intent, err := client.CreatePaymentIntent(context.Background(), PaymentIntentParams{
		Amount:         104400,
		Currency:       "CHF",
		Metadata:       map[string]string{"booking_id": "b-1"},
		IdempotencyKey: "booking-abc",
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret_abc", intent.ClientSecret)
	assert.Equal(t, "booking-abc", gotKey)
	assert.Equal(t, "Bearer sk_test_123", gotAuth)
	assert.Equal(t, "104400", gotForm["amount"])
	assert.Equal(t, "chf", gotForm["currency"])
	assert.Equal(t, "b-1", gotForm["metadata[booking_id]"])
}

func TestCreatePaymentIntent_ProcessorError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`))
	}))
	defer server.Close()

	client := NewClient(Config{SecretKey: "sk_test_123", BaseURL: server.URL})
	_, err := client.CreatePaymentIntent(context.Background(), PaymentIntentParams{Amount: 100, Currency: "chf"})

	require.Error(t, err)
	stripeErr, ok := err.(*Error)
	require.True(t, ok, "Error should be *stripe.Error")
	assert.Equal(t, http.StatusPaymentRequired, stripeErr.StatusCode)
	assert.Equal(t, "card_declined", stripeErr.Code)
	assert.Equal(t, "insufficient_funds", stripeErr.DeclineCode)
}

func TestCreatePaymentIntent_Validation(t *testing.T) {
	t.Run("missing secret key", func(t *testing.T) {
		client := NewClient(Config{})
		_, err := client.CreatePaymentIntent(context.Background(), PaymentIntentParams{Amount: 100, Currency: "chf"})
		assert.Error(t, err)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		client := NewClient(Config{SecretKey: "sk_test"})
		_, err := client.CreatePaymentIntent(context.Background(), PaymentIntentParams{Amount: 0, Currency: "chf"})
		assert.Error(t, err)
	})
}

func TestPaymentErrorReason(t *testing.T) {
	var nilErr *PaymentError
	assert.Equal(t, "payment failed", nilErr.Reason())
	assert.Equal(t, "Card declined decline_code=stolen_card",
		(&PaymentError{Message: "Card declined", DeclineCode: "stolen_card", Code: "card_declined"}).Reason())
	assert.Equal(t, "code=expired_card", (&PaymentError{Code: "expired_card"}).Reason())
}
