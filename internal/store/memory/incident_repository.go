package memory

import (
	"context"
	"sort"

	"opsassist/internal/domain"
)

// IncidentRepository is an in-memory implementation of store.IncidentRepository.
// The open-per-service index mirrors the partial unique index of the SQL schema.
type IncidentRepository struct {
	s  *Store
	tx *tx
}

// Create stores a new incident.
func (r *IncidentRepository) Create(ctx context.Context, incident *domain.Incident) error {
	defer guard(r.s, r.tx, true)()

	if _, exists := r.s.incidents[incident.ID]; exists {
		return domain.ErrConflict
	}
	if incident.IsOpen() {
		if _, exists := r.s.openByService[incident.Service]; exists {
			return domain.ErrOpenIncidentExists
		}
		r.s.openByService[incident.Service] = incident.ID
	}

	rec := &incidentRecord{seq: r.s.nextSeq(), incident: incident.Clone()}
	rec.incident.EventCount = 0
	r.s.incidents[incident.ID] = rec

	journal(r.tx, func() {
		delete(r.s.incidents, incident.ID)
		if r.s.openByService[incident.Service] == incident.ID {
			delete(r.s.openByService, incident.Service)
		}
	})
	return nil
}

// FindOpenByService returns the open incident of a service, or nil if none exists.
func (r *IncidentRepository) FindOpenByService(ctx context.Context, service string) (*domain.Incident, error) {
	defer guard(r.s, r.tx, false)()

	id, exists := r.s.openByService[service]
	if !exists {
		return nil, nil
	}
	return r.view(r.s.incidents[id]), nil
}

// Update persists the status and timestamps of an existing incident.
// Classification fields are owned by SetClassification and left untouched.
func (r *IncidentRepository) Update(ctx context.Context, incident *domain.Incident) error {
	defer guard(r.s, r.tx, true)()

	rec, exists := r.s.incidents[incident.ID]
	if !exists {
		return domain.ErrIncidentNotFound
	}

	current := rec.incident
	if incident.IsOpen() && !current.IsOpen() {
		if other, taken := r.s.openByService[current.Service]; taken && other != current.ID {
			return domain.ErrOpenIncidentExists
		}
	}

	previous := current.Clone()

	current.Status = incident.Status
	current.UpdatedAt = incident.UpdatedAt
	current.ResolvedAt = nil
	if incident.ResolvedAt != nil {
		t := *incident.ResolvedAt
		current.ResolvedAt = &t
	}
	r.syncOpenIndex(previous, current)
	applied := current.Clone()

	journal(r.tx, func() {
		current.Status = previous.Status
		current.UpdatedAt = previous.UpdatedAt
		current.ResolvedAt = previous.ResolvedAt
		r.syncOpenIndex(applied, current)
	})
	return nil
}

// syncOpenIndex keeps openByService consistent after a status change.
func (r *IncidentRepository) syncOpenIndex(before, after *domain.Incident) {
	if before.IsOpen() && !after.IsOpen() && r.s.openByService[after.Service] == after.ID {
		delete(r.s.openByService, after.Service)
	}
	if after.IsOpen() {
		r.s.openByService[after.Service] = after.ID
	}
}

// GetByID retrieves an incident by its ID.
func (r *IncidentRepository) GetByID(ctx context.Context, id string) (*domain.Incident, error) {
	defer guard(r.s, r.tx, false)()

	rec, exists := r.s.incidents[id]
	if !exists {
		return nil, domain.ErrIncidentNotFound
	}
	return r.view(rec), nil
}

// List retrieves incidents matching the filter, newest first.
func (r *IncidentRepository) List(ctx context.Context, filter domain.IncidentFilter) ([]*domain.Incident, error) {
	defer guard(r.s, r.tx, false)()

	var matched []*incidentRecord
	for _, rec := range r.s.incidents {
		if filter.Service != "" && rec.incident.Service != filter.Service {
			continue
		}
		if filter.Status != "" && rec.incident.Status != filter.Status {
			continue
		}
		matched = append(matched, rec)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.incident.CreatedAt.Equal(b.incident.CreatedAt) {
			return a.incident.CreatedAt.After(b.incident.CreatedAt)
		}
		return a.seq > b.seq
	})

	start, end := paginate(len(matched), filter.Offset, filter.Limit)
	results := make([]*domain.Incident, 0, end-start)
	for _, rec := range matched[start:end] {
		results = append(results, r.view(rec))
	}
	return results, nil
}

// SetClassification stores the classification if the incident has none.
func (r *IncidentRepository) SetClassification(ctx context.Context, id string, c *domain.Classification) (bool, error) {
	defer guard(r.s, r.tx, true)()

	rec, exists := r.s.incidents[id]
	if !exists {
		return false, domain.ErrIncidentNotFound
	}

	previous := rec.incident.Clone()
	if !rec.incident.Classify(c) {
		return false, nil
	}

	journal(r.tx, func() {
		rec.incident.Category = previous.Category
		rec.incident.Severity = previous.Severity
		rec.incident.Summary = previous.Summary
		rec.incident.RecommendedActions = previous.RecommendedActions
	})
	return true, nil
}

// view returns a copy of the stored incident with its event count filled in.
func (r *IncidentRepository) view(rec *incidentRecord) *domain.Incident {
	result := rec.incident.Clone()
	result.EventCount = len(r.s.byIncident[rec.incident.ID])
	return result
}
