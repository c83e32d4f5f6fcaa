package store

import (
	"context"
	"time"

	"opsassist/internal/domain"
)

// EventRepository defines the interface for event persistence.
type EventRepository interface {
	// Create stores a new event.
	Create(ctx context.Context, event *domain.Event) error

	// GetByID retrieves an event by its ID.
	GetByID(ctx context.Context, id string) (*domain.Event, error)

	// List retrieves events matching the filter, newest first.
	List(ctx context.Context, filter domain.EventFilter) ([]*domain.Event, error)

	// FindUnlinkedErrors returns ERROR events of the service with a timestamp
	// at or after since that are not yet linked to any incident.
	// Results are ordered by timestamp ascending, ties broken by insertion order.
	FindUnlinkedErrors(ctx context.Context, service string, since time.Time) ([]*domain.Event, error)

	// SetIncidentRef links an event to an incident.
	// Returns domain.ErrIncidentRefAlreadySet if the event is already linked.
	SetIncidentRef(ctx context.Context, eventID, incidentID string) error

	// ListByIncident returns all events referencing the incident, oldest first.
	ListByIncident(ctx context.Context, incidentID string) ([]*domain.Event, error)
}

// IncidentRepository defines the interface for incident persistence.
type IncidentRepository interface {
	// Create stores a new incident.
	// Returns domain.ErrOpenIncidentExists if the incident is open and
	// another open incident already exists for the same service.
	Create(ctx context.Context, incident *domain.Incident) error

	// FindOpenByService returns the open incident of a service.
	// Returns nil, nil if none exists.
	FindOpenByService(ctx context.Context, service string) (*domain.Incident, error)

	// Update persists status and timestamp changes of an existing incident.
	Update(ctx context.Context, incident *domain.Incident) error

	// GetByID retrieves an incident by its ID, including its event count.
	GetByID(ctx context.Context, id string) (*domain.Incident, error)

	// List retrieves incidents matching the filter, newest first.
	List(ctx context.Context, filter domain.IncidentFilter) ([]*domain.Incident, error)

	// SetClassification stores the classification if the incident has none.
	// Returns false if a classification was already present.
	SetClassification(ctx context.Context, id string, c *domain.Classification) (bool, error)
}

// Tx exposes repositories bound to a single unit of work.
type Tx interface {
	Events() EventRepository
	Incidents() IncidentRepository
}

// Store is the entry point to persistence. Repositories obtained directly from
// the Store run each call on its own; WithinTx groups calls atomically.
type Store interface {
	Tx

	// WithinTx runs fn inside a transaction. The transaction commits if fn
	// returns nil and rolls back every change otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Close releases any resources held by the store.
	Close() error
}
