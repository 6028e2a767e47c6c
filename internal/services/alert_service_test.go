package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeNotifier records alerts in memory
type fakeNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, alert Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func (f *fakeNotifier) last() Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alerts[len(f.alerts)-1]
}

type fakePublisher struct {
	topic    string
	messages []*message.Message
	err      error
}

func (p *fakePublisher) Publish(topic string, messages ...*message.Message) error {
	p.topic = topic
	p.messages = append(p.messages, messages...)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

func TestAlertService_NotifyOperator(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := NewAlertService(notifier, quietLogger())

	svc.NotifyOperator(context.Background(), SeverityCritical, "Reservation failed", map[string]interface{}{
		"payment_intent_id": "pi_123",
	})

	require.Equal(t, 1, notifier.count())
	alert := notifier.last()
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Equal(t, "Reservation failed", alert.Subject)
	assert.Equal(t, "pi_123", alert.Context["payment_intent_id"])
	assert.NotEmpty(t, alert.ID)
}

func TestAlertService_SinkFailureIsSwallowed(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("sink down")}
	svc := NewAlertService(notifier, quietLogger())

	assert.NotPanics(t, func() {
		svc.NotifyOperator(context.Background(), SeverityWarning, "Fallback pricing", nil)
	})
	assert.Equal(t, 1, notifier.count())
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookAlertPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, quietLogger())
	err := notifier.Notify(context.Background(), Alert{
		ID:       "a-1",
		Severity: SeverityCritical,
		Subject:  "Booking needs manual review",
		Context:  map[string]interface{}{"guest_email": "ada@example.com", "amount": 1044},
	})

	require.NoError(t, err)
	assert.Equal(t, "a-1", got.Alert.ID)
	assert.Contains(t, got.Text, "[CRITICAL] Booking needs manual review")
	assert.Contains(t, got.Text, "guest_email: ada@example.com")
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL, quietLogger()).Notify(context.Background(), Alert{Severity: SeverityInfo})
	assert.Error(t, err)
}

func TestAMQPNotifier(t *testing.T) {
	publisher := &fakePublisher{}
	notifier := NewAMQPNotifier(publisher, "operator_alerts")

	err := notifier.Notify(context.Background(), Alert{ID: "a-2", Severity: SeverityWarning, Subject: "Amount mismatch"})
	require.NoError(t, err)

	assert.Equal(t, "operator_alerts", publisher.topic)
	require.Len(t, publisher.messages, 1)
	assert.Equal(t, "warning", publisher.messages[0].Metadata.Get("severity"))

	var decoded Alert
	require.NoError(t, json.Unmarshal(publisher.messages[0].Payload, &decoded))
	assert.Equal(t, "Amount mismatch", decoded.Subject)
}

func TestAMQPNotifier_PublishError(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("connection closed")}
	err := NewAMQPNotifier(publisher, "operator_alerts").Notify(context.Background(), Alert{})
	assert.Error(t, err)
}
