package domain

import (
	"errors"
	"fmt"
)

// Error categories. Every error produced by the domain, the stores and the
// incident engine wraps exactly one of these so callers can branch with errors.Is.
var (
	// ErrValidation marks malformed input rejected before reaching the engine.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an unknown incident or event identifier.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a lost concurrent grouping race. The whole
	// attach-or-create step may be retried with fresh state.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrUnavailable marks an unreachable store or classifier.
	ErrUnavailable = errors.New("collaborator unavailable")
)

// Specific not-found errors.
var (
	ErrEventNotFound    = fmt.Errorf("event %w", ErrNotFound)
	ErrIncidentNotFound = fmt.Errorf("incident %w", ErrNotFound)
)

// Conflict errors raised by stores.
var (
	ErrIncidentRefAlreadySet = fmt.Errorf("%w: event already linked to an incident", ErrConflict)
	ErrOpenIncidentExists    = fmt.Errorf("%w: service already has an open incident", ErrConflict)
)
