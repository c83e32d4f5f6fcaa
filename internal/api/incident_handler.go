package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"opsassist/internal/domain"
	"opsassist/internal/incident"
	"opsassist/internal/store"
)

// IncidentHandler handles HTTP requests for incident operations.
// Incidents are created by the grouper; the API reads them and changes
// their status.
type IncidentHandler struct {
	incidents store.IncidentRepository
	events    store.EventRepository
	lifecycle *incident.Lifecycle
	logger    *slog.Logger
}

// NewIncidentHandler creates a new incident handler.
func NewIncidentHandler(
	incidents store.IncidentRepository,
	events store.EventRepository,
	lifecycle *incident.Lifecycle,
	logger *slog.Logger,
) *IncidentHandler {
	return &IncidentHandler{
		incidents: incidents,
		events:    events,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// UpdateStatusRequest is the body of a status change.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// List handles GET /v1/incidents
// Returns incidents matching query parameters, newest first.
func (h *IncidentHandler) List(c *fiber.Ctx) error {
	filter := domain.IncidentFilter{
		Service: c.Query("service"),
	}

	status := c.Query("status")
	if status == "" {
		status = c.Query("status_filter")
	}
	if status != "" {
		st, err := domain.ParseStatus(status)
		if err != nil {
			return ValidationError(c, err.Error())
		}
		filter.Status = st
	}

	filter.Limit, filter.Offset = parsePagination(c)

	incidents, err := h.incidents.List(c.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list incidents", "error", err)
		return FromError(c, err)
	}

	if incidents == nil {
		incidents = []*domain.Incident{}
	}

	return Success(c, incidents)
}

// GetByID handles GET /v1/incidents/:id
// Returns the incident together with every event referencing it.
func (h *IncidentHandler) GetByID(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return BadRequest(c, "id is required")
	}

	inc, err := h.incidents.GetByID(c.Context(), id)
	if err != nil {
		return FromError(c, err)
	}

	events, err := h.events.ListByIncident(c.Context(), id)
	if err != nil {
		h.logger.Error("failed to list incident events", "incident_id", id, "error", err)
		return FromError(c, err)
	}
	if events == nil {
		events = []*domain.Event{}
	}

	return Success(c, domain.IncidentDetail{Incident: inc, Events: events})
}

// UpdateStatus handles PATCH /v1/incidents/:id/status
// The target status comes from the JSON body or the new_status query parameter.
func (h *IncidentHandler) UpdateStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return BadRequest(c, "id is required")
	}

	var req UpdateStatusRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			h.logger.Debug("failed to parse status body", "error", err)
			return BadRequest(c, "invalid request body")
		}
	}
	if req.Status == "" {
		req.Status = c.Query("new_status")
	}
	if req.Status == "" {
		return ValidationError(c, "status is required")
	}

	updated, err := h.lifecycle.Transition(c.Context(), id, req.Status)
	if err != nil {
		return FromError(c, err)
	}

	return Success(c, updated)
}
