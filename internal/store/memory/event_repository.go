package memory

import (
	"context"
	"sort"
	"time"

	"opsassist/internal/domain"
)

// EventRepository is an in-memory implementation of store.EventRepository.
type EventRepository struct {
	s  *Store
	tx *tx
}

// Create stores a new event.
func (r *EventRepository) Create(ctx context.Context, event *domain.Event) error {
	defer guard(r.s, r.tx, true)()

	if _, exists := r.s.events[event.ID]; exists {
		return domain.ErrConflict
	}

	// Store a copy to prevent external modification
	rec := &eventRecord{seq: r.s.nextSeq(), event: event.Clone()}
	r.s.events[event.ID] = rec
	if event.IncidentID != nil {
		r.s.byIncident[*event.IncidentID] = append(r.s.byIncident[*event.IncidentID], event.ID)
	}

	journal(r.tx, func() {
		delete(r.s.events, event.ID)
		if event.IncidentID != nil {
			r.s.byIncident[*event.IncidentID] = removeID(r.s.byIncident[*event.IncidentID], event.ID)
		}
	})
	return nil
}

// GetByID retrieves an event by its ID.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	defer guard(r.s, r.tx, false)()

	rec, exists := r.s.events[id]
	if !exists {
		return nil, domain.ErrEventNotFound
	}
	return rec.event.Clone(), nil
}

// List retrieves events matching the filter, newest first.
func (r *EventRepository) List(ctx context.Context, filter domain.EventFilter) ([]*domain.Event, error) {
	defer guard(r.s, r.tx, false)()

	var matched []*eventRecord
	for _, rec := range r.s.events {
		if filter.Service != "" && rec.event.Service != filter.Service {
			continue
		}
		if filter.Level != "" && rec.event.Level != filter.Level {
			continue
		}
		matched = append(matched, rec)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.event.Timestamp.Equal(b.event.Timestamp) {
			return a.event.Timestamp.After(b.event.Timestamp)
		}
		return a.seq > b.seq
	})

	start, end := paginate(len(matched), filter.Offset, filter.Limit)
	results := make([]*domain.Event, 0, end-start)
	for _, rec := range matched[start:end] {
		results = append(results, rec.event.Clone())
	}
	return results, nil
}

// FindUnlinkedErrors returns unlinked ERROR events of a service at or after since.
func (r *EventRepository) FindUnlinkedErrors(ctx context.Context, service string, since time.Time) ([]*domain.Event, error) {
	defer guard(r.s, r.tx, false)()

	var matched []*eventRecord
	for _, rec := range r.s.events {
		e := rec.event
		if e.Service != service || !e.IsError() || e.IsLinked() {
			continue
		}
		if e.Timestamp.Before(since) {
			continue
		}
		matched = append(matched, rec)
	}

	sortAscending(matched)

	results := make([]*domain.Event, 0, len(matched))
	for _, rec := range matched {
		results = append(results, rec.event.Clone())
	}
	return results, nil
}

// SetIncidentRef links an event to an incident exactly once.
func (r *EventRepository) SetIncidentRef(ctx context.Context, eventID, incidentID string) error {
	defer guard(r.s, r.tx, true)()

	rec, exists := r.s.events[eventID]
	if !exists {
		return domain.ErrEventNotFound
	}
	if rec.event.IncidentID != nil {
		return domain.ErrIncidentRefAlreadySet
	}

	id := incidentID
	rec.event.IncidentID = &id
	r.s.byIncident[incidentID] = append(r.s.byIncident[incidentID], eventID)

	journal(r.tx, func() {
		rec.event.IncidentID = nil
		r.s.byIncident[incidentID] = removeID(r.s.byIncident[incidentID], eventID)
	})
	return nil
}

// ListByIncident returns all events referencing the incident, oldest first.
func (r *EventRepository) ListByIncident(ctx context.Context, incidentID string) ([]*domain.Event, error) {
	defer guard(r.s, r.tx, false)()

	ids := r.s.byIncident[incidentID]
	matched := make([]*eventRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.s.events[id]; ok {
			matched = append(matched, rec)
		}
	}

	sortAscending(matched)

	results := make([]*domain.Event, 0, len(matched))
	for _, rec := range matched {
		results = append(results, rec.event.Clone())
	}
	return results, nil
}

func sortAscending(records []*eventRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.event.Timestamp.Equal(b.event.Timestamp) {
			return a.event.Timestamp.Before(b.event.Timestamp)
		}
		return a.seq < b.seq
	})
}

func removeID(ids []string, id string) []string {
	for i := len(ids) - 1; i >= 0; i-- {
		if ids[i] == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
