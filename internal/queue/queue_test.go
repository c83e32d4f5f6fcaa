package queue

import (
	"testing"
	"time"
)

func TestClassificationMessage(t *testing.T) {
	task := &ClassificationTask{
		IncidentID: "inc-1",
		Service:    "payment-service",
		EnqueuedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	msg, err := NewClassificationMessage(task)
	if err != nil {
		t.Fatalf("NewClassificationMessage error: %v", err)
	}
	if string(msg.Key) != "payment-service" {
		t.Errorf("Key = %s, want payment-service", msg.Key)
	}
	if msg.Headers[HeaderTaskType] != TaskTypeClassify {
		t.Errorf("task type header = %q", msg.Headers[HeaderTaskType])
	}

	decoded, err := DecodeClassificationTask(msg)
	if err != nil {
		t.Fatalf("DecodeClassificationTask error: %v", err)
	}
	if decoded.IncidentID != task.IncidentID || !decoded.EnqueuedAt.Equal(task.EnqueuedAt) {
		t.Errorf("decoded = %+v, want %+v", decoded, task)
	}
}

func TestDecodeClassificationTask_Invalid(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{"malformed json", &Message{Value: []byte("{not json")}},
		{"missing incident id", &Message{Value: []byte(`{"service":"svc"}`)}},
		{"wrong task type", &Message{Value: []byte(`{"incident_id":"inc-1"}`), Headers: map[string]string{HeaderTaskType: "other"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeClassificationTask(tt.msg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
