package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the current lifecycle state of an incident.
type Status string

const (
	// StatusOpen is the initial state. At most one incident per service may be open.
	StatusOpen Status = "open"
	// StatusInvestigating indicates an operator is working the incident.
	StatusInvestigating Status = "investigating"
	// StatusResolved indicates the underlying problem has been fixed.
	StatusResolved Status = "resolved"
	// StatusClosed is terminal for reporting purposes; closed incidents are retained for audit.
	StatusClosed Status = "closed"
)

// ErrInvalidStatus is returned for an unknown status token.
var ErrInvalidStatus = fmt.Errorf("%w: status must be one of: open, investigating, resolved, closed", ErrValidation)

// ParseStatus converts a status token to a Status. Matching is case-insensitive.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", ErrInvalidStatus
	}
	return st, nil
}

// IsValid returns true if the status is a known valid value.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusResolved, StatusClosed:
		return true
	default:
		return false
	}
}

// Classification is the enrichment produced by a classifier for an incident.
type Classification struct {
	Category           string   `json:"category"`
	Severity           string   `json:"severity"`
	Summary            string   `json:"summary"`
	RecommendedActions []string `json:"recommended_actions"`
}

// Incident groups related error events representing one operational problem.
// Events reference incidents; an incident does not own its events.
type Incident struct {
	// ID is the unique identifier for this incident.
	ID string `json:"id"`

	// Service is the service the grouped events came from.
	Service string `json:"service"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// Category, Severity, Summary and RecommendedActions are populated at most
	// once by the classifier. Empty while unclassified.
	Category           string   `json:"category,omitempty"`
	Severity           string   `json:"severity,omitempty"`
	Summary            string   `json:"summary,omitempty"`
	RecommendedActions []string `json:"recommended_actions,omitempty"`

	// EventCount is the number of events referencing this incident.
	// Computed by the store on reads.
	EventCount int `json:"event_count"`

	// CreatedAt is when the incident was opened.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is bumped on every event attachment or status change.
	// It never moves backwards.
	UpdatedAt time.Time `json:"updated_at"`

	// ResolvedAt is when the incident last entered the resolved state.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// NewIncident creates a new open incident for a service.
func NewIncident(id, service string, now time.Time) *Incident {
	now = now.UTC()
	return &Incident{
		ID:        id,
		Service:   service,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsOpen returns true if the incident is accepting new events.
func (i *Incident) IsOpen() bool {
	return i.Status == StatusOpen
}

// IsClassified returns true once classification fields have been stored.
func (i *Incident) IsClassified() bool {
	return i.Category != ""
}

// Touch bumps UpdatedAt, never moving it backwards.
func (i *Incident) Touch(now time.Time) {
	now = now.UTC()
	if now.After(i.UpdatedAt) {
		i.UpdatedAt = now
	}
}

// ApplyStatus moves the incident to the target status and bumps UpdatedAt.
// Any status is reachable from any other.
func (i *Incident) ApplyStatus(target Status, now time.Time) {
	i.Status = target
	i.Touch(now)
	switch target {
	case StatusResolved:
		resolved := i.UpdatedAt
		i.ResolvedAt = &resolved
	case StatusOpen, StatusInvestigating:
		i.ResolvedAt = nil
	}
}

// Classify stores the classification if none is present.
// Returns false if the incident was already classified.
func (i *Incident) Classify(c *Classification) bool {
	if i.IsClassified() || c == nil {
		return false
	}
	i.Category = c.Category
	i.Severity = c.Severity
	i.Summary = c.Summary
	i.RecommendedActions = append([]string(nil), c.RecommendedActions...)
	return true
}

// Clone returns a deep copy of the incident.
func (i *Incident) Clone() *Incident {
	c := *i
	if i.RecommendedActions != nil {
		c.RecommendedActions = append([]string(nil), i.RecommendedActions...)
	}
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// IncidentDetail is an incident together with all events referencing it.
type IncidentDetail struct {
	*Incident
	Events []*Event `json:"events"`
}

// IncidentFilter provides filtering options for querying incidents.
type IncidentFilter struct {
	Service string
	Status  Status
	Limit   int
	Offset  int
}
