package incident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"opsassist/internal/domain"
	"opsassist/internal/metrics"
	"opsassist/internal/notification"
	"opsassist/internal/queue"
	"opsassist/internal/store"
)

// OutcomeKind names the grouping decision taken for an event.
type OutcomeKind string

const (
	// OutcomeNoAction means the event was stored without touching any incident.
	OutcomeNoAction OutcomeKind = "no_action"
	// OutcomeAttached means the event joined the service's open incident.
	OutcomeAttached OutcomeKind = "attached_to_existing"
	// OutcomeOpened means the event completed a detection and a new incident was opened.
	OutcomeOpened OutcomeKind = "new_incident_opened"
)

// Outcome is the result of handling one incoming event.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`

	// IncidentID is set for OutcomeAttached and OutcomeOpened.
	IncidentID string `json:"incident_id,omitempty"`

	// MemberEventIDs lists the events linked by this decision, including the
	// incoming one.
	MemberEventIDs []string `json:"member_event_ids,omitempty"`
}

// Defaults used when GrouperDeps leaves a setting unset.
const (
	DefaultMaxAttempts    = 3
	DefaultLockTimeout    = 5 * time.Second
	DefaultEnqueueTimeout = 2 * time.Second
)

// GrouperDeps holds the collaborators of a Grouper.
type GrouperDeps struct {
	Store    store.Store
	Locker   store.Locker
	Detector *Detector

	// Producer receives a classification task for every opened incident.
	// Optional.
	Producer queue.Producer

	// Notifier is informed of every opened incident. Optional.
	Notifier notification.Notifier

	Logger *slog.Logger

	// MaxAttempts bounds the attempts of a conflicting grouping step.
	// Values below 2 are raised to 2.
	MaxAttempts    int
	LockTimeout    time.Duration
	EnqueueTimeout time.Duration

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

// Grouper decides, atomically and serialized per service, whether an
// incoming event is attached to the open incident, opens a new incident
// or is simply stored.
type Grouper struct {
	store          store.Store
	locker         store.Locker
	detector       *Detector
	producer       queue.Producer
	notifier       notification.Notifier
	logger         *slog.Logger
	maxAttempts    int
	lockTimeout    time.Duration
	enqueueTimeout time.Duration
	now            func() time.Time
	newID          func() string
}

// NewGrouper creates a new Grouper.
func NewGrouper(deps GrouperDeps) *Grouper {
	g := &Grouper{
		store:          deps.Store,
		locker:         deps.Locker,
		detector:       deps.Detector,
		producer:       deps.Producer,
		notifier:       deps.Notifier,
		logger:         deps.Logger,
		maxAttempts:    deps.MaxAttempts,
		lockTimeout:    deps.LockTimeout,
		enqueueTimeout: deps.EnqueueTimeout,
		now:            deps.Now,
		newID:          deps.NewID,
	}

	if g.maxAttempts == 0 {
		g.maxAttempts = DefaultMaxAttempts
	}
	if g.maxAttempts < 2 {
		g.maxAttempts = 2
	}
	if g.lockTimeout <= 0 {
		g.lockTimeout = DefaultLockTimeout
	}
	if g.enqueueTimeout <= 0 {
		g.enqueueTimeout = DefaultEnqueueTimeout
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.newID == nil {
		g.newID = func() string { return uuid.New().String() }
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("component", "grouper")

	return g
}

// HandleIncomingEvent stores the event and applies the grouping rules:
//
//   - non-ERROR events are stored and never touch an incident;
//   - an ERROR event of a service with an open incident is attached to it;
//   - otherwise the detector runs and, if the threshold is met, a new
//     incident is opened claiming every planned event.
//
// The event's IncidentID is updated on success. Side effects after the
// commit (classification task, notification, metrics) never fail the call.
func (g *Grouper) HandleIncomingEvent(ctx context.Context, event *domain.Event) (*Outcome, error) {
	if !event.IsError() {
		if err := g.store.Events().Create(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to store event: %w", err)
		}
		return &Outcome{Kind: OutcomeNoAction}, nil
	}

	var (
		outcome  *Outcome
		incident *domain.Incident
		err      error
	)
	for attempt := 1; ; attempt++ {
		outcome, incident, err = g.lockedGroup(ctx, event)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		if attempt >= g.maxAttempts {
			metrics.GroupingConflictsTotal.WithLabelValues("exhausted").Inc()
			g.logger.Warn("grouping conflict persisted after retries",
				"service", event.Service,
				"event_id", event.ID,
				"attempts", attempt,
				"error", err,
			)
			return nil, err
		}

		metrics.GroupingConflictsTotal.WithLabelValues("retried").Inc()
		g.logger.Debug("grouping conflict, retrying",
			"service", event.Service,
			"event_id", event.ID,
			"attempt", attempt,
		)
	}

	if outcome.IncidentID != "" {
		id := outcome.IncidentID
		event.IncidentID = &id
	}

	g.afterCommit(ctx, outcome, incident)

	return outcome, nil
}

// lockedGroup runs one grouping attempt under the per-service lock. The lock
// is released before any post-commit side effect runs.
func (g *Grouper) lockedGroup(ctx context.Context, event *domain.Event) (*Outcome, *domain.Incident, error) {
	unlock, err := lockService(ctx, g.locker, event.Service, g.lockTimeout)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	return g.group(ctx, event)
}

// group runs one attempt of the attach-or-create step in a transaction.
func (g *Grouper) group(ctx context.Context, event *domain.Event) (*Outcome, *domain.Incident, error) {
	var (
		outcome  *Outcome
		incident *domain.Incident
	)

	now := g.now().UTC()
	if now.Before(event.Timestamp) {
		now = event.Timestamp
	}

	err := g.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		stored := event.Clone()
		stored.IncidentID = nil
		if err := tx.Events().Create(ctx, stored); err != nil {
			return fmt.Errorf("failed to store event: %w", err)
		}

		open, err := tx.Incidents().FindOpenByService(ctx, event.Service)
		if err != nil {
			return fmt.Errorf("failed to find open incident: %w", err)
		}

		if open != nil {
			if err := tx.Events().SetIncidentRef(ctx, stored.ID, open.ID); err != nil {
				return fmt.Errorf("failed to attach event: %w", err)
			}
			open.Touch(now)
			if err := tx.Incidents().Update(ctx, open); err != nil {
				return fmt.Errorf("failed to update incident: %w", err)
			}
			open.EventCount++

			incident = open
			outcome = &Outcome{
				Kind:           OutcomeAttached,
				IncidentID:     open.ID,
				MemberEventIDs: []string{stored.ID},
			}
			return nil
		}

		plan, err := g.detector.Evaluate(ctx, tx.Events(), event.Service, now)
		if err != nil {
			return err
		}
		if plan == nil {
			outcome = &Outcome{Kind: OutcomeNoAction}
			return nil
		}

		created := domain.NewIncident(g.newID(), event.Service, now)
		if err := tx.Incidents().Create(ctx, created); err != nil {
			return fmt.Errorf("failed to create incident: %w", err)
		}
		for _, member := range plan.Events {
			if err := tx.Events().SetIncidentRef(ctx, member.ID, created.ID); err != nil {
				return fmt.Errorf("failed to link event %s: %w", member.ID, err)
			}
		}
		created.EventCount = len(plan.Events)

		incident = created
		outcome = &Outcome{
			Kind:           OutcomeOpened,
			IncidentID:     created.ID,
			MemberEventIDs: plan.EventIDs(),
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return outcome, incident, nil
}

// afterCommit runs the side effects of a committed grouping decision.
func (g *Grouper) afterCommit(ctx context.Context, outcome *Outcome, incident *domain.Incident) {
	switch outcome.Kind {
	case OutcomeAttached:
		metrics.EventsAttachedTotal.Inc()

	case OutcomeOpened:
		metrics.IncidentsOpenedTotal.Inc()
		metrics.IncidentGroupSize.Observe(float64(len(outcome.MemberEventIDs)))

		g.logger.Info("incident opened",
			"incident_id", incident.ID,
			"service", incident.Service,
			"event_count", len(outcome.MemberEventIDs),
		)

		// The caller's cancellation must not drop the follow-up work.
		detached := context.WithoutCancel(ctx)
		g.enqueueClassification(detached, incident)
		if g.notifier != nil {
			g.notifier.NotifyIncidentOpened(detached, incident)
		}
	}
}

// enqueueClassification publishes a classification task with a bounded wait.
// Failures leave the incident unclassified.
func (g *Grouper) enqueueClassification(ctx context.Context, incident *domain.Incident) {
	if g.producer == nil {
		return
	}

	msg, err := queue.NewClassificationMessage(&queue.ClassificationTask{
		IncidentID: incident.ID,
		Service:    incident.Service,
		EnqueuedAt: g.now().UTC(),
	})
	if err != nil {
		metrics.ClassificationTasksEnqueuedTotal.WithLabelValues("failure").Inc()
		g.logger.Error("failed to encode classification task", "incident_id", incident.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.enqueueTimeout)
	defer cancel()

	if err := g.producer.Publish(ctx, msg); err != nil {
		metrics.ClassificationTasksEnqueuedTotal.WithLabelValues("failure").Inc()
		g.logger.Warn("failed to enqueue classification task",
			"incident_id", incident.ID,
			"error", err,
		)
		return
	}

	metrics.ClassificationTasksEnqueuedTotal.WithLabelValues("success").Inc()
}

// lockService acquires the per-service lock with a bounded wait.
// A wait that runs out is reported as a retryable conflict.
func lockService(ctx context.Context, locker store.Locker, service string, timeout time.Duration) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	unlock, err := locker.Lock(lockCtx, service)
	if err != nil {
		if errors.Is(err, store.ErrLockTimeout) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConflict, err)
		}
		return nil, fmt.Errorf("failed to lock service %q: %w", service, err)
	}
	return unlock, nil
}
