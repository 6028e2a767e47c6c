package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/metrics"
)

// AlertSeverity ranks operator alerts
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a structured operator notification
type Alert struct {
	ID        string                 `json:"id"`
	Severity  AlertSeverity          `json:"severity"`
	Subject   string                 `json:"subject"`
	Context   map[string]interface{} `json:"context"`
	CreatedAt time.Time              `json:"created_at"`
}

// Notifier delivers an alert to one sink
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// AlertService sends operator alerts. Delivery failures are logged and counted,
// never returned, so alerting can not break the booking flow.
type AlertService struct {
	notifier Notifier
	logger   *logrus.Logger
}

// NewAlertService creates a new alert service
func NewAlertService(notifier Notifier, logger *logrus.Logger) *AlertService {
	return &AlertService{
		notifier: notifier,
		logger:   logger,
	}
}

// NotifyOperator fires an alert and returns once the sink has answered
func (s *AlertService) NotifyOperator(ctx context.Context, severity AlertSeverity, subject string, fields map[string]interface{}) {
	alert := Alert{
		ID:        uuid.New().String(),
		Severity:  severity,
		Subject:   subject,
		Context:   fields,
		CreatedAt: time.Now().UTC(),
	}

	if s.notifier == nil {
		metrics.OperatorAlertsTotal.WithLabelValues(string(severity), "dropped").Inc()
		return
	}

	if err := s.notifier.Notify(ctx, alert); err != nil {
		metrics.OperatorAlertsTotal.WithLabelValues(string(severity), "failed").Inc()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"severity": severity,
			"subject":  subject,
		}).Error("Failed to deliver operator alert")
		return
	}
	metrics.OperatorAlertsTotal.WithLabelValues(string(severity), "sent").Inc()
}

// ============================================================================
// SINKS
// ============================================================================

// LogNotifier writes alerts to the application log
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	entry := n.logger.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"severity": alert.Severity,
		"context":  alert.Context,
	})
	switch alert.Severity {
	case SeverityCritical:
		entry.Error("OPERATOR ALERT: " + alert.Subject)
	case SeverityWarning:
		entry.Warn("OPERATOR ALERT: " + alert.Subject)
	default:
		entry.Info("OPERATOR ALERT: " + alert.Subject)
	}
	return nil
}

// WebhookNotifier posts alerts as Slack-compatible JSON
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *logrus.Logger
}

// NewWebhookNotifier creates a notifier posting to an incoming-webhook URL
func NewWebhookNotifier(url string, logger *logrus.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

type webhookAlertPayload struct {
	Text  string `json:"text"`
	Alert Alert  `json:"alert"`
}

// Notify implements Notifier
func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookAlertPayload{
		Text:  formatAlertText(alert),
		Alert: alert,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post alert: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// AMQPNotifier publishes alerts to a message queue
type AMQPNotifier struct {
	publisher message.Publisher
	topic     string
}

// NewAMQPNotifier creates a notifier that publishes on topic
func NewAMQPNotifier(publisher message.Publisher, topic string) *AMQPNotifier {
	return &AMQPNotifier{
		publisher: publisher,
		topic:     topic,
	}
}

// Notify implements Notifier
func (n *AMQPNotifier) Notify(_ context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("severity", string(alert.Severity))
	if err := n.publisher.Publish(n.topic, msg); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

func formatAlertText(alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Subject)

	keys := make([]string, 0, len(alert.Context))
	for k := range alert.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n• %s: %v", k, alert.Context[k])
	}
	return b.String()
}
