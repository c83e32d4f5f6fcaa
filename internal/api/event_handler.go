package api

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"opsassist/internal/domain"
	"opsassist/internal/incident"
	"opsassist/internal/ingest"
	"opsassist/internal/store"
)

// EventHandler handles HTTP requests for event ingestion and lookup.
type EventHandler struct {
	service *ingest.Service
	repo    store.EventRepository
	logger  *slog.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(service *ingest.Service, repo store.EventRepository, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		service: service,
		repo:    repo,
		logger:  logger,
	}
}

// IngestResponse is returned for an accepted event.
type IngestResponse struct {
	Event   *domain.Event     `json:"event"`
	Outcome *incident.Outcome `json:"outcome"`
}

// Ingest handles POST /v1/events
// Stores the event and applies the grouping rules before responding, so the
// returned event already carries its incident link.
func (h *EventHandler) Ingest(c *fiber.Ctx) error {
	var req domain.CreateEventRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse event body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	event, outcome, err := h.service.IngestEvent(c.Context(), &req)
	if err != nil {
		return FromError(c, err)
	}

	h.logger.Debug("event accepted",
		"event_id", event.ID,
		"service", event.Service,
		"outcome", outcome.Kind,
	)

	return Created(c, IngestResponse{Event: event, Outcome: outcome})
}

// List handles GET /v1/events
// Returns events matching query parameters, newest first.
func (h *EventHandler) List(c *fiber.Ctx) error {
	filter := domain.EventFilter{
		Service: c.Query("service"),
	}

	if level := c.Query("level"); level != "" {
		l, err := domain.ParseLevel(level)
		if err != nil {
			return ValidationError(c, err.Error())
		}
		filter.Level = l
	}

	filter.Limit, filter.Offset = parsePagination(c)

	events, err := h.repo.List(c.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list events", "error", err)
		return FromError(c, err)
	}

	if events == nil {
		events = []*domain.Event{}
	}

	return Success(c, events)
}

// GetByID handles GET /v1/events/:id
func (h *EventHandler) GetByID(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return BadRequest(c, "id is required")
	}

	event, err := h.repo.GetByID(c.Context(), id)
	if err != nil {
		return FromError(c, err)
	}

	return Success(c, event)
}

// DefaultPageSize is used when a list request carries no limit.
const DefaultPageSize = 100

// parsePagination reads limit and offset. Malformed values fall back to
// the defaults.
func parsePagination(c *fiber.Ctx) (limit, offset int) {
	limit = DefaultPageSize
	if v := c.Query("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}
	if v := c.Query("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}
