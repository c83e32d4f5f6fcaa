// Package notification announces incident changes to the outside world.
// Notifications are best effort: a failed delivery is logged and counted,
// never reported to the caller.
package notification

import (
	"context"
	"log/slog"
	"time"

	"opsassist/internal/domain"
	"opsassist/internal/metrics"
)

// Notification kinds.
const (
	KindOpened        = "opened"
	KindStatusChanged = "status_changed"
)

// NotificationPayload represents the data sent for an incident change.
type NotificationPayload struct {
	Kind           string        `json:"kind"`
	IncidentID     string        `json:"incident_id"`
	Service        string        `json:"service"`
	Status         domain.Status `json:"status"`
	PreviousStatus domain.Status `json:"previous_status,omitempty"`
	EventCount     int           `json:"event_count"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Notifier defines the interface for sending incident notifications.
type Notifier interface {
	// NotifyIncidentOpened is called after a new incident has been committed.
	NotifyIncidentOpened(ctx context.Context, incident *domain.Incident)

	// NotifyStatusChanged is called after a status transition has been committed.
	NotifyStatusChanged(ctx context.Context, incident *domain.Incident, from domain.Status)
}

// StubNotifier logs notifications instead of delivering them.
// It is used when no NATS server is configured.
type StubNotifier struct {
	logger *slog.Logger
}

// NewStubNotifier creates a new stub notifier.
func NewStubNotifier(logger *slog.Logger) *StubNotifier {
	return &StubNotifier{
		logger: logger,
	}
}

// NotifyIncidentOpened logs a notification for a new incident.
func (n *StubNotifier) NotifyIncidentOpened(ctx context.Context, incident *domain.Incident) {
	payload := buildPayload(KindOpened, incident, "")

	n.logger.Info("STUB: would send incident opened notification",
		"incident_id", payload.IncidentID,
		"service", payload.Service,
		"event_count", payload.EventCount,
	)

	metrics.NotificationsSentTotal.WithLabelValues(KindOpened, "success").Inc()
	if !incident.CreatedAt.IsZero() {
		metrics.NotificationLatency.Observe(time.Since(incident.CreatedAt).Seconds())
	}
}

// NotifyStatusChanged logs a notification for a status transition.
func (n *StubNotifier) NotifyStatusChanged(ctx context.Context, incident *domain.Incident, from domain.Status) {
	payload := buildPayload(KindStatusChanged, incident, from)

	n.logger.Info("STUB: would send status changed notification",
		"incident_id", payload.IncidentID,
		"service", payload.Service,
		"from", payload.PreviousStatus,
		"to", payload.Status,
	)

	metrics.NotificationsSentTotal.WithLabelValues(KindStatusChanged, "success").Inc()
	metrics.NotificationLatency.Observe(time.Since(incident.UpdatedAt).Seconds())
}

// buildPayload creates a notification payload from an incident.
func buildPayload(kind string, incident *domain.Incident, from domain.Status) *NotificationPayload {
	return &NotificationPayload{
		Kind:           kind,
		IncidentID:     incident.ID,
		Service:        incident.Service,
		Status:         incident.Status,
		PreviousStatus: from,
		EventCount:     incident.EventCount,
		CreatedAt:      incident.CreatedAt,
		UpdatedAt:      incident.UpdatedAt,
		Timestamp:      time.Now().UTC(),
	}
}
