package memory

import (
	"context"
	"fmt"
	"sync"

	"opsassist/internal/store"
)

// Locker is an in-memory implementation of store.Locker.
// Lock entries are created on demand and dropped once no goroutine holds
// or waits for them, so the table does not grow with the number of services.
type Locker struct {
	mu sync.Mutex

	// locks stores one semaphore per key
	locks map[string]*lockEntry
}

// lockEntry is a one-slot semaphore with a reference count of holders and waiters.
type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocker creates a new in-memory keyed locker.
func NewLocker() *Locker {
	return &Locker{
		locks: make(map[string]*lockEntry),
	}
}

// Lock blocks until the key is held or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	entry := l.acquireRef(key)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.releaseRef(key, entry)
		return nil, fmt.Errorf("%w %q: %w", store.ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.releaseRef(key, entry)
		})
	}, nil
}

func (l *Locker) acquireRef(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.locks[key]
	if !exists {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *Locker) releaseRef(key string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

// Len returns the number of live lock entries.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}

// Close releases any resources (no-op for in-memory locker).
func (l *Locker) Close() error {
	return nil
}
