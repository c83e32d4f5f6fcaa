package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCreateEventRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateEventRequest
		wantErr error
	}{
		{
			name: "valid event",
			req: CreateEventRequest{
				Service: "payment-service",
				Level:   "ERROR",
				Message: "Database connection timeout",
			},
			wantErr: nil,
		},
		{
			name: "lowercase level accepted",
			req: CreateEventRequest{
				Service: "payment-service",
				Level:   "warn",
				Message: "Slow response",
			},
			wantErr: nil,
		},
		{
			name: "missing service",
			req: CreateEventRequest{
				Level:   "ERROR",
				Message: "boom",
			},
			wantErr: ErrEmptyService,
		},
		{
			name: "blank service",
			req: CreateEventRequest{
				Service: "   ",
				Level:   "ERROR",
				Message: "boom",
			},
			wantErr: ErrEmptyService,
		},
		{
			name: "service too long",
			req: CreateEventRequest{
				Service: strings.Repeat("s", MaxServiceNameLength+1),
				Level:   "ERROR",
				Message: "boom",
			},
			wantErr: ErrServiceTooLong,
		},
		{
			name: "missing message",
			req: CreateEventRequest{
				Service: "auth-api",
				Level:   "ERROR",
			},
			wantErr: ErrEmptyMessage,
		},
		{
			name: "invalid level",
			req: CreateEventRequest{
				Service: "auth-api",
				Level:   "FATAL", // invalid
				Message: "boom",
			},
			wantErr: ErrInvalidLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if err != tt.wantErr {
				t.Errorf("CreateEventRequest.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("error %v should wrap ErrValidation", err)
			}
		})
	}
}

func TestLevel_IsValid(t *testing.T) {
	tests := []struct {
		level Level
		want  bool
	}{
		{LevelError, true},
		{LevelWarn, true},
		{LevelInfo, true},
		{"DEBUG", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := tt.level.IsValid(); got != tt.want {
				t.Errorf("Level.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCreateEventRequest_ToEvent(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	req := CreateEventRequest{
		Service: " auth-api ",
		Level:   "error",
		Message: "token expired",
	}

	event := req.ToEvent("evt-1", now)

	if event.ID != "evt-1" {
		t.Errorf("ID = %v, want evt-1", event.ID)
	}
	if event.Service != "auth-api" {
		t.Errorf("Service = %q, want auth-api", event.Service)
	}
	if event.Level != LevelError {
		t.Errorf("Level = %v, want %v", event.Level, LevelError)
	}
	if !event.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", event.Timestamp, now)
	}
	if event.IsLinked() {
		t.Error("new event should not be linked to an incident")
	}
	if !event.IsError() {
		t.Error("IsError() should return true for ERROR level")
	}
}

func TestEvent_Clone(t *testing.T) {
	incidentID := "inc-1"
	event := &Event{ID: "evt-1", IncidentID: &incidentID}

	clone := event.Clone()
	*clone.IncidentID = "inc-2"

	if *event.IncidentID != "inc-1" {
		t.Error("Clone() should deep copy the incident reference")
	}
}
