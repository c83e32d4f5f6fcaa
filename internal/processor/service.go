// Package processor runs the classification workers.
// It consumes classification tasks from the message queue, asks the
// configured classifier about each newly opened incident and stores the
// result on the incident.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"opsassist/internal/classifier"
	"opsassist/internal/metrics"
	"opsassist/internal/queue"
	"opsassist/internal/store"
)

// Defaults used when Options leaves a setting unset.
const (
	DefaultWorkers = 4
	DefaultTimeout = 10 * time.Second
)

// Options tunes the worker pool.
type Options struct {
	// Workers is the number of concurrent consumer loops.
	Workers int

	// Timeout bounds a single classifier call.
	Timeout time.Duration

	// MaxContextEvents caps the events handed to the classifier.
	MaxContextEvents int
}

// Service classifies incidents from the queue.
// Classification is best effort: every failure is logged and counted,
// the incident stays unclassified and the task is not retried.
type Service struct {
	consumer   queue.Consumer
	store      store.Store
	classifier classifier.Classifier
	logger     *slog.Logger
	opts       Options
}

// NewService creates a new processor service.
func NewService(
	consumer queue.Consumer,
	st store.Store,
	c classifier.Classifier,
	opts Options,
	logger *slog.Logger,
) *Service {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxContextEvents <= 0 {
		opts.MaxContextEvents = classifier.DefaultMaxEvents
	}

	return &Service{
		consumer:   consumer,
		store:      st,
		classifier: c,
		logger:     logger.With("component", "processor"),
		opts:       opts,
	}
}

// Start runs the worker loops until the context is canceled or a consumer
// fails. Cancellation is a clean shutdown and returns nil.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting processor service",
		"workers", s.opts.Workers,
		"classifier", s.classifier.Name(),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Workers; i++ {
		g.Go(func() error {
			return s.consumer.Start(ctx, s.handleMessage)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handleMessage is the callback for processing each message from the queue.
// It never returns an error, so the queue never redelivers a task.
func (s *Service) handleMessage(ctx context.Context, msg *queue.Message) error {
	task, err := queue.DecodeClassificationTask(msg)
	if err != nil {
		s.logger.Error("failed to decode classification task", "error", err)
		return nil
	}

	s.logger.Debug("processing classification task",
		"incident_id", task.IncidentID,
		"service", task.Service,
		"queued_for", time.Since(task.EnqueuedAt),
	)

	if err := s.ClassifyIncident(ctx, task.IncidentID); err != nil {
		s.logger.Warn("incident left unclassified",
			"incident_id", task.IncidentID,
			"service", task.Service,
			"error", err,
		)
	}
	return nil
}

// ClassifyIncident classifies one incident and stores the result.
// Incidents that already carry a classification are skipped.
func (s *Service) ClassifyIncident(ctx context.Context, incidentID string) error {
	provider := s.classifier.Name()

	incident, err := s.store.Incidents().GetByID(ctx, incidentID)
	if err != nil {
		metrics.ClassificationsTotal.WithLabelValues(provider, "failure").Inc()
		return fmt.Errorf("failed to load incident: %w", err)
	}
	if incident.IsClassified() {
		metrics.ClassificationsTotal.WithLabelValues(provider, "skipped").Inc()
		return nil
	}

	events, err := s.store.Events().ListByIncident(ctx, incidentID)
	if err != nil {
		metrics.ClassificationsTotal.WithLabelValues(provider, "failure").Inc()
		return fmt.Errorf("failed to load incident events: %w", err)
	}

	input := classifier.BuildContext(incident, events, s.opts.MaxContextEvents)

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	start := time.Now()
	result, err := s.classifier.Classify(callCtx, input)
	metrics.ClassificationLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	cancel()
	if err != nil {
		metrics.ClassificationsTotal.WithLabelValues(provider, "failure").Inc()
		return fmt.Errorf("classifier %s failed: %w", provider, err)
	}

	applied, err := s.store.Incidents().SetClassification(ctx, incidentID, result)
	if err != nil {
		metrics.ClassificationsTotal.WithLabelValues(provider, "failure").Inc()
		return fmt.Errorf("failed to store classification: %w", err)
	}
	if !applied {
		metrics.ClassificationsTotal.WithLabelValues(provider, "skipped").Inc()
		s.logger.Debug("incident classified concurrently", "incident_id", incidentID)
		return nil
	}

	metrics.ClassificationsTotal.WithLabelValues(provider, "success").Inc()
	s.logger.Info("incident classified",
		"incident_id", incidentID,
		"service", incident.Service,
		"category", result.Category,
		"severity", result.Severity,
		"events", input.TotalEvents,
	)

	return nil
}

// Stop gracefully stops the processor service.
func (s *Service) Stop() error {
	s.logger.Info("stopping processor service")
	return s.consumer.Close()
}
