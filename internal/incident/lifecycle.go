package incident

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"opsassist/internal/domain"
	"opsassist/internal/metrics"
	"opsassist/internal/notification"
	"opsassist/internal/store"
)

// LifecycleDeps holds the collaborators of a Lifecycle manager.
type LifecycleDeps struct {
	Store    store.Store
	Locker   store.Locker
	Notifier notification.Notifier
	Logger   *slog.Logger

	LockTimeout time.Duration
	Now         func() time.Time
}

// Lifecycle applies operator status transitions to incidents.
// It takes the same per-service lock as the Grouper, so a transition never
// interleaves with a grouping decision for the same service.
type Lifecycle struct {
	store       store.Store
	locker      store.Locker
	notifier    notification.Notifier
	logger      *slog.Logger
	lockTimeout time.Duration
	now         func() time.Time
}

// NewLifecycle creates a new Lifecycle manager.
func NewLifecycle(deps LifecycleDeps) *Lifecycle {
	l := &Lifecycle{
		store:       deps.Store,
		locker:      deps.Locker,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		lockTimeout: deps.LockTimeout,
		now:         deps.Now,
	}
	if l.lockTimeout <= 0 {
		l.lockTimeout = DefaultLockTimeout
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With("component", "lifecycle")
	return l
}

// Transition moves an incident to the target status and bumps its updated
// timestamp. Any status may follow any other, except that reopening an
// incident while another incident of the same service is open fails with
// domain.ErrConflict.
func (l *Lifecycle) Transition(ctx context.Context, incidentID, target string) (*domain.Incident, error) {
	status, err := domain.ParseStatus(target)
	if err != nil {
		return nil, err
	}

	// The service is needed to take the lock; it never changes.
	current, err := l.store.Incidents().GetByID(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	var (
		updated *domain.Incident
		from    domain.Status
	)
	// The lock covers the transaction only; notification runs after release.
	err = func() error {
		unlock, err := lockService(ctx, l.locker, current.Service, l.lockTimeout)
		if err != nil {
			return err
		}
		defer unlock()

		return l.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			incident, err := tx.Incidents().GetByID(ctx, incidentID)
			if err != nil {
				return err
			}

			from = incident.Status
			incident.ApplyStatus(status, l.now())
			if err := tx.Incidents().Update(ctx, incident); err != nil {
				return fmt.Errorf("failed to update incident status: %w", err)
			}

			updated = incident
			return nil
		})
	}()
	if err != nil {
		return nil, err
	}

	metrics.StatusTransitionsTotal.WithLabelValues(string(from), string(status)).Inc()
	l.logger.Info("incident status changed",
		"incident_id", updated.ID,
		"service", updated.Service,
		"from", from,
		"to", status,
	)

	if l.notifier != nil && from != status {
		l.notifier.NotifyStatusChanged(context.WithoutCancel(ctx), updated, from)
	}

	return updated, nil
}
