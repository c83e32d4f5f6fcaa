// Package store defines interfaces for data persistence and coordination.
// These abstractions allow swapping implementations (Redis, PostgreSQL, in-memory)
// without changing business logic.
package store

import (
	"context"
	"errors"
)

// ErrLockTimeout is returned when a lock could not be acquired before the
// context was done.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// Locker serializes work on a key. The incident engine locks by service name
// so that grouping decisions for one service never interleave.
// All methods must be safe for concurrent use.
type Locker interface {
	// Lock blocks until the key is held or ctx is done.
	// The returned function releases the lock and is safe to call once.
	Lock(ctx context.Context, key string) (unlock func(), err error)

	// Close releases any resources held by the locker.
	Close() error
}
