package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"opsassist/internal/domain"
)

const incidentColumns = `
	i.id, i.service, i.status, i.category, i.severity, i.summary,
	i.recommended_actions, i.created_at, i.updated_at, i.resolved_at,
	(SELECT COUNT(*) FROM events e WHERE e.incident_id = i.id)
`

// IncidentRepository implements store.IncidentRepository using PostgreSQL.
type IncidentRepository struct {
	q querier
}

// Create stores a new incident. A second open incident for the same service
// violates uq_incidents_open_service and surfaces as domain.ErrConflict.
func (r *IncidentRepository) Create(ctx context.Context, incident *domain.Incident) error {
	query := `
		INSERT INTO incidents (
			id, service, status, category, severity, summary,
			recommended_actions, created_at, updated_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.q.Exec(ctx, query,
		incident.ID,
		incident.Service,
		incident.Status,
		nullableString(incident.Category),
		nullableString(incident.Severity),
		nullableString(incident.Summary),
		incident.RecommendedActions,
		incident.CreatedAt,
		incident.UpdatedAt,
		incident.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", mapError(err))
	}

	return nil
}

// FindOpenByService returns the open incident of a service, or nil if none exists.
// The row stays locked until the surrounding transaction ends.
func (r *IncidentRepository) FindOpenByService(ctx context.Context, service string) (*domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents i
		WHERE i.service = $1 AND i.status = 'open'
		FOR UPDATE
	`

	incident, err := scanIncident(r.q.QueryRow(ctx, query, service))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find open incident: %w", mapError(err))
	}

	return incident, nil
}

// Update persists the status and timestamps of an existing incident.
// updated_at never moves backwards.
func (r *IncidentRepository) Update(ctx context.Context, incident *domain.Incident) error {
	query := `
		UPDATE incidents SET
			status = $2,
			updated_at = GREATEST(updated_at, $3),
			resolved_at = $4
		WHERE id = $1
	`

	result, err := r.q.Exec(ctx, query,
		incident.ID,
		incident.Status,
		incident.UpdatedAt,
		incident.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", mapError(err))
	}

	if result.RowsAffected() == 0 {
		return domain.ErrIncidentNotFound
	}

	return nil
}

// GetByID retrieves an incident by its ID.
func (r *IncidentRepository) GetByID(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents i WHERE i.id = $1`

	incident, err := scanIncident(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to get incident: %w", mapError(err))
	}

	return incident, nil
}

// List retrieves incidents matching the filter, newest first.
func (r *IncidentRepository) List(ctx context.Context, filter domain.IncidentFilter) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents i WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.Service != "" {
		query += fmt.Sprintf(" AND i.service = $%d", argNum)
		args = append(args, filter.Service)
		argNum++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND i.status = $%d", argNum)
		args = append(args, filter.Status)
		argNum++
	}

	query += " ORDER BY i.created_at DESC, i.seq DESC"

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
		return nil, fmt.Errorf("failed to list incidents: %w", mapError(err))
	}
	defer rows.Close()

	incidents := []*domain.Incident{}
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, incident)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating incidents: %w", mapError(err))
	}

	return incidents, nil
}

// SetClassification stores the classification if the incident has none.
func (r *IncidentRepository) SetClassification(ctx context.Context, id string, c *domain.Classification) (bool, error) {
	query := `
		UPDATE incidents SET
			category = $2,
			severity = $3,
			summary = $4,
			recommended_actions = $5
		WHERE id = $1 AND category IS NULL
	`

	result, err := r.q.Exec(ctx, query,
		id,
		nullableString(c.Category),
		nullableString(c.Severity),
		nullableString(c.Summary),
		c.RecommendedActions,
	)
	if err != nil {
		return false, fmt.Errorf("failed to store classification: %w", mapError(err))
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM incidents WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, fmt.Errorf("failed to check incident: %w", mapError(err))
		}
		if !exists {
			return false, domain.ErrIncidentNotFound
		}
		return false, nil
	}

	return true, nil
}

// scanIncident scans a single row into an Incident.
func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var incident domain.Incident
	var category, severity, summary *string

	err := row.Scan(
		&incident.ID,
		&incident.Service,
		&incident.Status,
		&category,
		&severity,
		&summary,
		&incident.RecommendedActions,
		&incident.CreatedAt,
		&incident.UpdatedAt,
		&incident.ResolvedAt,
		&incident.EventCount,
	)
	if err != nil {
		return nil, err
	}

	if category != nil {
		incident.Category = *category
	}
	if severity != nil {
		incident.Severity = *severity
	}
	if summary != nil {
		incident.Summary = *summary
	}

	return &incident, nil
}
