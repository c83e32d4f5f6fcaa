// Package memory runs classification tasks through a buffered channel inside
// the process. It backs the memory storage mode and the tests.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"opsassist/internal/queue"
)

// ErrQueueClosed is returned by Publish after Close.
var ErrQueueClosed = errors.New("queue is closed")

// Queue is both the task producer and the task consumer. Every worker
// calling Start reads from the same channel, so each task is handled once.
type Queue struct {
	tasks  chan *queue.Message
	logger *slog.Logger

	// mu guards closed and worker registration. Publish holds it shared
	// while sending so Close never closes the channel under a sender.
	mu     sync.RWMutex
	closed bool

	workers sync.WaitGroup
}

// NewQueue creates a queue holding at most capacity pending tasks.
// A nil logger discards handler failures.
func NewQueue(capacity int, logger *slog.Logger) *Queue {
	return &Queue{
		tasks:  make(chan *queue.Message, capacity),
		logger: logger,
	}
}

// Publish enqueues a task, waiting for room while ctx allows.
func (q *Queue) Publish(ctx context.Context, msg *queue.Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start feeds tasks to handler until ctx is done or the queue is closed and
// drained. A closed queue ends Start without error, also when Start is
// called after Close.
func (q *Queue) Start(ctx context.Context, handler queue.MessageHandler) error {
	// Registering under mu orders every Add before the Wait in Close.
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.workers.Add(1)
	q.mu.Unlock()
	defer q.workers.Done()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-q.tasks:
			if !ok {
				return nil
			}
			if err := handler(ctx, msg); err != nil && q.logger != nil {
				q.logger.Warn("task handler failed", "key", string(msg.Key), "error", err)
			}
		}
	}
}

// Close stops accepting tasks and waits for running workers to drain the
// buffer. It is safe to call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	q.workers.Wait()
	return nil
}

// Len reports the number of pending tasks.
func (q *Queue) Len() int {
	return len(q.tasks)
}
