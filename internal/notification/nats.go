package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"opsassist/internal/config"
	"opsassist/internal/domain"
	"opsassist/internal/metrics"
)

// NATSNotifier publishes incident notifications as JSON on NATS subjects
// "<prefix>.opened" and "<prefix>.status_changed".
type NATSNotifier struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSNotifier connects to the configured NATS server.
func NewNATSNotifier(cfg *config.NATSConfig, logger *slog.Logger) (*NATSNotifier, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("opsassist"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	logger.Info("connected to NATS", "url", cfg.URL, "subject_prefix", cfg.SubjectPrefix)

	return &NATSNotifier{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		logger: logger,
	}, nil
}

// Subject returns the NATS subject for a notification kind.
func (n *NATSNotifier) Subject(kind string) string {
	return n.prefix + "." + kind
}

// NotifyIncidentOpened publishes a notification for a new incident.
func (n *NATSNotifier) NotifyIncidentOpened(ctx context.Context, incident *domain.Incident) {
	n.publish(buildPayload(KindOpened, incident, ""))
}

// NotifyStatusChanged publishes a notification for a status transition.
func (n *NATSNotifier) NotifyStatusChanged(ctx context.Context, incident *domain.Incident, from domain.Status) {
	n.publish(buildPayload(KindStatusChanged, incident, from))
}

func (n *NATSNotifier) publish(payload *NotificationPayload) {
	subject := n.Subject(payload.Kind)

	data, err := json.Marshal(payload)
	if err != nil {
		n.fail(subject, payload, err)
		return
	}

	if err := n.conn.Publish(subject, data); err != nil {
		n.fail(subject, payload, err)
		return
	}

	metrics.NotificationsSentTotal.WithLabelValues(payload.Kind, "success").Inc()
	metrics.NotificationLatency.Observe(time.Since(payload.UpdatedAt).Seconds())

	n.logger.Debug("published incident notification",
		"subject", subject,
		"incident_id", payload.IncidentID,
	)
}

func (n *NATSNotifier) fail(subject string, payload *NotificationPayload, err error) {
	metrics.NotificationsSentTotal.WithLabelValues(payload.Kind, "failure").Inc()
	n.logger.Warn("failed to publish incident notification",
		"subject", subject,
		"incident_id", payload.IncidentID,
		"error", err,
	)
}

// Close drains pending messages and closes the connection.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
