// Package memory provides in-memory implementations of store interfaces.
// These are useful for testing and development without external dependencies.
package memory

import (
	"context"
	"sync"

	"opsassist/internal/domain"
	"opsassist/internal/store"
)

// Store is an in-memory implementation of store.Store.
//
// Every operation takes the store mutex. A transaction holds the write lock
// for its whole duration and keeps an undo journal that is replayed in reverse
// when the transaction function fails. Repositories obtained from the Store
// itself must not be used inside WithinTx; use the ones on the Tx instead.
type Store struct {
	mu sync.RWMutex

	// seq orders inserts so equal timestamps still have a stable order.
	seq int64

	events    map[string]*eventRecord
	incidents map[string]*incidentRecord

	// byIncident lists linked event IDs per incident in link order.
	byIncident map[string][]string

	// openByService enforces at most one open incident per service.
	openByService map[string]string

	eventRepo    *EventRepository
	incidentRepo *IncidentRepository
}

type eventRecord struct {
	seq   int64
	event *domain.Event
}

type incidentRecord struct {
	seq      int64
	incident *domain.Incident
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	s := &Store{
		events:        make(map[string]*eventRecord),
		incidents:     make(map[string]*incidentRecord),
		byIncident:    make(map[string][]string),
		openByService: make(map[string]string),
	}
	s.eventRepo = &EventRepository{s: s}
	s.incidentRepo = &IncidentRepository{s: s}
	return s
}

// Events returns a non-transactional event repository.
func (s *Store) Events() store.EventRepository {
	return s.eventRepo
}

// Incidents returns a non-transactional incident repository.
func (s *Store) Incidents() store.IncidentRepository {
	return s.incidentRepo
}

// WithinTx runs fn while holding the store lock. Changes made through the
// Tx are undone if fn returns an error or panics. Transactions of different
// services run one at a time; callers hold the store lock only for the
// transaction body, never while waiting on a service lock or the queue.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{}
	t.events = &EventRepository{s: s, tx: t}
	t.incidents = &IncidentRepository{s: s, tx: t}

	defer func() {
		if p := recover(); p != nil {
			t.rollback()
			panic(p)
		}
		if err != nil {
			t.rollback()
		}
	}()

	return fn(ctx, t)
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// nextSeq must be called with the write lock held.
func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// tx is a unit of work bound to a held store lock.
type tx struct {
	events    *EventRepository
	incidents *IncidentRepository

	undo []func()
}

func (t *tx) Events() store.EventRepository {
	return t.events
}

func (t *tx) Incidents() store.IncidentRepository {
	return t.incidents
}

func (t *tx) record(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// guard acquires the store lock for a single operation unless the caller
// is running inside a transaction that already holds it.
func guard(s *Store, t *tx, write bool) func() {
	if t != nil {
		return func() {}
	}
	if write {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// journal records an undo step when running inside a transaction.
func journal(t *tx, fn func()) {
	if t != nil {
		t.record(fn)
	}
}

// paginate applies offset and limit to a sorted slice length.
func paginate(n, offset, limit int) (int, int) {
	start := offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}

	end := n
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return start, end
}
