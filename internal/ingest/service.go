// Package ingest provides the event ingestion service.
// It validates incoming events, assigns identity and ingestion time, and
// hands them to the incident grouper.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"opsassist/internal/domain"
	"opsassist/internal/incident"
	"opsassist/internal/metrics"
)

// EventHandler applies the grouping rules to a stored event.
// It is satisfied by *incident.Grouper.
type EventHandler interface {
	HandleIncomingEvent(ctx context.Context, event *domain.Event) (*incident.Outcome, error)
}

// Service handles event ingestion logic.
// It is responsible for:
// - Validating the request payload
// - Assigning the event ID and ingestion timestamp
// - Passing the event to the grouper and reporting its outcome
type Service struct {
	handler EventHandler
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a new ingest service.
func NewService(handler EventHandler, logger *slog.Logger) *Service {
	return &Service{
		handler: handler,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the ingestion clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IngestEvent validates the request, builds the event and applies the
// grouping rules. On success the returned event reflects its incident link.
//
// Errors wrap domain.ErrValidation for bad input, domain.ErrConflict when
// grouping could not settle after retries and domain.ErrUnavailable when
// storage is unreachable.
func (s *Service) IngestEvent(ctx context.Context, req *domain.CreateEventRequest) (*domain.Event, *incident.Outcome, error) {
	ingestStart := time.Now()

	if err := req.Validate(); err != nil {
		metrics.EventsReceivedTotal.WithLabelValues(levelLabel(req.Level), "rejected").Inc()
		return nil, nil, err
	}

	event := req.ToEvent(uuid.New().String(), s.now())

	outcome, err := s.handler.HandleIncomingEvent(ctx, event)
	if err != nil {
		metrics.EventsReceivedTotal.WithLabelValues(string(event.Level), "failed").Inc()
		s.logger.Error("failed to ingest event",
			"event_id", event.ID,
			"service", event.Service,
			"level", event.Level,
			"error", err,
		)
		return nil, nil, fmt.Errorf("failed to ingest event: %w", err)
	}

	metrics.EventsReceivedTotal.WithLabelValues(string(event.Level), string(outcome.Kind)).Inc()
	metrics.EventIngestLatency.Observe(time.Since(ingestStart).Seconds())

	s.logger.Debug("event ingested",
		"event_id", event.ID,
		"service", event.Service,
		"level", event.Level,
		"outcome", outcome.Kind,
		"incident_id", outcome.IncidentID,
	)

	return event, outcome, nil
}

// levelLabel bounds the metric label cardinality for rejected requests.
func levelLabel(raw string) string {
	level, err := domain.ParseLevel(raw)
	if err != nil {
		return "invalid"
	}
	return string(level)
}
