// Package domain contains the core business entities and value objects for OpsAssist.
// These models represent the ubiquitous language of the incident management domain.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Level represents the log level of an incoming event.
type Level string

const (
	LevelError Level = "ERROR"
	LevelWarn  Level = "WARN"
	LevelInfo  Level = "INFO"
)

// MaxServiceNameLength bounds the service name accepted at ingestion.
const MaxServiceNameLength = 100

// ParseLevel normalizes a level token. Matching is case-insensitive.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if !l.IsValid() {
		return "", ErrInvalidLevel
	}
	return l, nil
}

// IsValid returns true if the level is a known valid value.
func (l Level) IsValid() bool {
	switch l {
	case LevelError, LevelWarn, LevelInfo:
		return true
	default:
		return false
	}
}

// Event is a single reported log/error occurrence from a service.
// Events are immutable once created, except for IncidentID which is set at most once.
type Event struct {
	// ID is the unique identifier assigned at ingestion.
	ID string `json:"id"`

	// Service is the name of the reporting service.
	Service string `json:"service"`

	// Level is the log level (ERROR, WARN, INFO).
	Level Level `json:"level"`

	// Message is the reported log/error text.
	Message string `json:"message"`

	// Timestamp is the ingestion time.
	Timestamp time.Time `json:"timestamp"`

	// IncidentID references the incident this event belongs to.
	// Nil while the event is unlinked.
	IncidentID *string `json:"incident_id"`
}

// IsError returns true if the event takes part in incident detection.
func (e *Event) IsError() bool {
	return e.Level == LevelError
}

// IsLinked returns true if the event has been claimed by an incident.
func (e *Event) IsLinked() bool {
	return e.IncidentID != nil
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	if e.IncidentID != nil {
		id := *e.IncidentID
		c.IncidentID = &id
	}
	return &c
}

// Validation errors for events.
var (
	ErrEmptyService   = fmt.Errorf("%w: service is required", ErrValidation)
	ErrServiceTooLong = fmt.Errorf("%w: service must be at most %d characters", ErrValidation, MaxServiceNameLength)
	ErrEmptyMessage   = fmt.Errorf("%w: message is required", ErrValidation)
	ErrInvalidLevel   = fmt.Errorf("%w: level must be 'ERROR', 'WARN', or 'INFO'", ErrValidation)
)

// CreateEventRequest is the input payload received at the ingestion endpoint.
type CreateEventRequest struct {
	Service string `json:"service"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Validate checks the request has all required fields with valid values.
// Returns an error describing the first validation failure, or nil if valid.
func (r *CreateEventRequest) Validate() error {
	service := strings.TrimSpace(r.Service)
	if service == "" {
		return ErrEmptyService
	}
	if len(service) > MaxServiceNameLength {
		return ErrServiceTooLong
	}
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if _, err := ParseLevel(r.Level); err != nil {
		return err
	}
	return nil
}

// ToEvent converts a validated request to an Event.
func (r *CreateEventRequest) ToEvent(id string, now time.Time) *Event {
	level, _ := ParseLevel(r.Level)
	return &Event{
		ID:        id,
		Service:   strings.TrimSpace(r.Service),
		Level:     level,
		Message:   r.Message,
		Timestamp: now.UTC(),
	}
}

// EventFilter provides filtering options for querying events.
type EventFilter struct {
	Service string
	Level   Level
	Limit   int
	Offset  int
}
