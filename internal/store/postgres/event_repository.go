package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"opsassist/internal/domain"
)

const eventColumns = `id, service, level, message, ts, incident_id`

// EventRepository implements store.EventRepository using PostgreSQL.
type EventRepository struct {
	q querier
}

// Create stores a new event.
func (r *EventRepository) Create(ctx context.Context, event *domain.Event) error {
	query := `
		INSERT INTO events (id, service, level, message, ts, incident_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.q.Exec(ctx, query,
		event.ID,
		event.Service,
		event.Level,
		event.Message,
		event.Timestamp,
		event.IncidentID,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", mapError(err))
	}

	return nil
}

// GetByID retrieves an event by its ID.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

	event, err := scanEvent(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", mapError(err))
	}

	return event, nil
}

// List retrieves events matching the filter, newest first.
func (r *EventRepository) List(ctx context.Context, filter domain.EventFilter) ([]*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.Service != "" {
		query += fmt.Sprintf(" AND service = $%d", argNum)
		args = append(args, filter.Service)
		argNum++
	}

	if filter.Level != "" {
		query += fmt.Sprintf(" AND level = $%d", argNum)
		args = append(args, filter.Level)
		argNum++
	}

	query += " ORDER BY ts DESC, seq DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", mapError(err))
	}
	defer rows.Close()

	return scanEvents(rows)
}

// FindUnlinkedErrors returns unlinked ERROR events of a service at or after since.
// Matching rows are locked until the surrounding transaction ends.
func (r *EventRepository) FindUnlinkedErrors(ctx context.Context, service string, since time.Time) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE service = $1
		  AND level = 'ERROR'
		  AND incident_id IS NULL
		  AND ts >= $2
		ORDER BY ts ASC, seq ASC
		FOR UPDATE
	`

	rows, err := r.q.Query(ctx, query, service, since)
	if err != nil {
		return nil, fmt.Errorf("failed to find unlinked errors: %w", mapError(err))
	}
	defer rows.Close()

	return scanEvents(rows)
}

// SetIncidentRef links an event to an incident exactly once.
func (r *EventRepository) SetIncidentRef(ctx context.Context, eventID, incidentID string) error {
	query := `UPDATE events SET incident_id = $2 WHERE id = $1 AND incident_id IS NULL`

	result, err := r.q.Exec(ctx, query, eventID, incidentID)
	if err != nil {
		return fmt.Errorf("failed to link event: %w", mapError(err))
	}

	if result.RowsAffected() == 0 {
		// Distinguish a missing event from one that was already claimed.
		var exists bool
		if err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE id = $1)`, eventID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check event: %w", mapError(err))
		}
		if !exists {
			return domain.ErrEventNotFound
		}
		return domain.ErrIncidentRefAlreadySet
	}

	return nil
}

// ListByIncident returns all events referencing the incident, oldest first.
func (r *EventRepository) ListByIncident(ctx context.Context, incidentID string) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE incident_id = $1
		ORDER BY ts ASC, seq ASC
	`

	rows, err := r.q.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incident events: %w", mapError(err))
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvent scans a single row into an Event.
func scanEvent(row pgx.Row) (*domain.Event, error) {
	var event domain.Event

	err := row.Scan(
		&event.ID,
		&event.Service,
		&event.Level,
		&event.Message,
		&event.Timestamp,
		&event.IncidentID,
	)
	if err != nil {
		return nil, err
	}

	event.Timestamp = event.Timestamp.UTC()
	return &event, nil
}

// scanEvents scans multiple rows into a slice of Events.
func scanEvents(rows pgx.Rows) ([]*domain.Event, error) {
	events := []*domain.Event{}

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", mapError(err))
	}

	return events, nil
}
