// Package incident implements incident detection, event grouping and the
// incident lifecycle. It is the only writer of incident membership.
package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"opsassist/internal/domain"
	"opsassist/internal/store"
)

// Detector decides whether enough recent unlinked ERROR events of a service
// exist to open a new incident.
type Detector struct {
	window    time.Duration
	threshold int
}

// NewDetector creates a detector for a sliding window and threshold.
// Both must be positive.
func NewDetector(window time.Duration, threshold int) (*Detector, error) {
	var errs []error
	if window <= 0 {
		errs = append(errs, fmt.Errorf("%w: detection window must be positive, got %s", domain.ErrValidation, window))
	}
	if threshold <= 0 {
		errs = append(errs, fmt.Errorf("%w: detection threshold must be positive, got %d", domain.ErrValidation, threshold))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Detector{window: window, threshold: threshold}, nil
}

// Window returns the sliding window length.
func (d *Detector) Window() time.Duration {
	return d.window
}

// Threshold returns the minimum number of events that opens an incident.
func (d *Detector) Threshold() int {
	return d.threshold
}

// Plan lists the events a new incident would claim.
type Plan struct {
	Service string
	// Events are ordered by timestamp ascending and contain no duplicates.
	Events []*domain.Event
}

// EventIDs returns the IDs of the planned events in order.
func (p *Plan) EventIDs() []string {
	ids := make([]string, 0, len(p.Events))
	for _, e := range p.Events {
		ids = append(ids, e.ID)
	}
	return ids
}

// Evaluate reads unlinked ERROR events of the service with a timestamp in
// [now-window, now] and returns a plan if there are at least threshold of them.
// It returns nil, nil when the threshold is not met. Evaluate is read-only;
// callers pass the repository of their transaction.
func (d *Detector) Evaluate(ctx context.Context, events store.EventRepository, service string, now time.Time) (*Plan, error) {
	since := now.Add(-d.window)

	candidates, err := events.FindUnlinkedErrors(ctx, service, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load unlinked errors: %w", err)
	}

	seen := make(map[string]struct{}, len(candidates))
	matched := make([]*domain.Event, 0, len(candidates))
	for _, e := range candidates {
		if e.Service != service || !e.IsError() || e.IsLinked() {
			continue
		}
		if e.Timestamp.Before(since) || e.Timestamp.After(now) {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		matched = append(matched, e)
	}

	if len(matched) < d.threshold {
		return nil, nil
	}

	return &Plan{Service: service, Events: matched}, nil
}
