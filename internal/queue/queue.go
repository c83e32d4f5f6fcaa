// Package queue moves classification tasks from the grouper to the
// classification workers. Kafka and an in-process channel implement it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Message is one task on the wire.
type Message struct {
	// Key selects the partition; tasks with equal keys keep their order.
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer publishes tasks. Safe for concurrent use.
type Producer interface {
	Publish(ctx context.Context, msg *Message) error
	Close() error
}

// MessageHandler processes one task. A returned error is logged by the
// consumer; the task is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Consumer delivers tasks to a handler. Start blocks until ctx is done, the
// consumer is closed, or an unrecoverable error occurs. Several goroutines
// may run Start at once; each task reaches exactly one of them.
type Consumer interface {
	Start(ctx context.Context, handler MessageHandler) error
	Close() error
}

// Header names set on every task message.
const (
	HeaderTaskType    = "task-type"
	HeaderContentType = "content-type"

	TaskTypeClassify = "classify-incident"
)

// ClassificationTask asks the classification workers to enrich a newly
// opened incident.
type ClassificationTask struct {
	IncidentID string    `json:"incident_id"`
	Service    string    `json:"service"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewClassificationMessage encodes a task keyed by service, so tasks of one
// service stay on one partition.
func NewClassificationMessage(task *ClassificationTask) (*Message, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal classification task: %w", err)
	}

	return &Message{
		Key:   []byte(task.Service),
		Value: data,
		Headers: map[string]string{
			HeaderTaskType:    TaskTypeClassify,
			HeaderContentType: "application/json",
		},
	}, nil
}

// DecodeClassificationTask parses a message produced by NewClassificationMessage.
func DecodeClassificationTask(msg *Message) (*ClassificationTask, error) {
	if t := msg.Headers[HeaderTaskType]; t != "" && t != TaskTypeClassify {
		return nil, fmt.Errorf("unexpected task type %q", t)
	}

	var task ClassificationTask
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal classification task: %w", err)
	}
	if task.IncidentID == "" {
		return nil, fmt.Errorf("classification task without incident id")
	}

	return &task, nil
}
