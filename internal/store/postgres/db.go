// Package postgres provides PostgreSQL-based implementations of the store interfaces.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"opsassist/internal/config"
	"opsassist/internal/domain"
	"opsassist/internal/store"
)

// SQLSTATE codes mapped to domain.ErrConflict.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// connectTimeout bounds the initial dial and ping.
const connectTimeout = 10 * time.Second

// DB owns the pgx connection pool shared by every repository.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB opens the pool and fails fast if the server is unreachable.
func NewDB(ctx context.Context, cfg *config.PostgresConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxOpenConns
	poolConfig.MinConns = min(cfg.MaxIdleConns, cfg.MaxOpenConns)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.HealthCheckPeriod = 30 * time.Second
	poolConfig.ConnConfig.ConnectTimeout = connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create postgres pool: %w", domain.ErrUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping postgres: %w", domain.ErrUnavailable, err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// RunMigrations creates the required database tables.
// The partial unique index enforces at most one open incident per service.
func (db *DB) RunMigrations(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS incidents (
			seq BIGSERIAL UNIQUE,
			id VARCHAR(36) PRIMARY KEY,
			service VARCHAR(100) NOT NULL,
			status VARCHAR(20) NOT NULL,
			category VARCHAR(50),
			severity VARCHAR(10),
			summary TEXT,
			recommended_actions TEXT[],
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
			resolved_at TIMESTAMP WITH TIME ZONE
		);

		CREATE UNIQUE INDEX IF NOT EXISTS uq_incidents_open_service ON incidents(service) WHERE status = 'open';
		CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
		CREATE INDEX IF NOT EXISTS idx_incidents_created_at ON incidents(created_at DESC);

		CREATE TABLE IF NOT EXISTS events (
			seq BIGSERIAL UNIQUE,
			id VARCHAR(36) PRIMARY KEY,
			service VARCHAR(100) NOT NULL,
			level VARCHAR(10) NOT NULL,
			message TEXT NOT NULL,
			ts TIMESTAMP WITH TIME ZONE NOT NULL,
			incident_id VARCHAR(36) REFERENCES incidents(id)
		);

		CREATE INDEX IF NOT EXISTS idx_events_service_ts ON events(service, ts);
		CREATE INDEX IF NOT EXISTS idx_events_incident ON events(incident_id);
		CREATE INDEX IF NOT EXISTS idx_events_unlinked_errors ON events(service, ts)
			WHERE level = 'ERROR' AND incident_id IS NULL;
	`

	_, err := db.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", mapError(err))
	}

	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store on top of a connection pool.
type Store struct {
	db        *DB
	events    *EventRepository
	incidents *IncidentRepository
}

// NewStore creates a new PostgreSQL-backed store.
func NewStore(db *DB) *Store {
	return &Store{
		db:        db,
		events:    &EventRepository{q: db.pool},
		incidents: &IncidentRepository{q: db.pool},
	}
}

// Events returns a non-transactional event repository.
func (s *Store) Events() store.EventRepository {
	return s.events
}

// Incidents returns a non-transactional incident repository.
func (s *Store) Incidents() store.IncidentRepository {
	return s.incidents
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken by the
// repositories plus the partial unique index turn lost races into
// domain.ErrConflict.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.db.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ptx pgx.Tx) error {
		return fn(ctx, &tx{
			events:    &EventRepository{q: ptx},
			incidents: &IncidentRepository{q: ptx},
		})
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

type tx struct {
	events    *EventRepository
	incidents *IncidentRepository
}

func (t *tx) Events() store.EventRepository {
	return t.events
}

func (t *tx) Incidents() store.IncidentRepository {
	return t.incidents
}

// mapError translates driver errors into the domain error taxonomy.
// Errors already carrying a domain category pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{domain.ErrValidation, domain.ErrNotFound, domain.ErrConflict, domain.ErrUnavailable} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.Message)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("%w: postgres: %w", domain.ErrUnavailable, err)
	}

	return err
}

// nullableString stores empty strings as NULL.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
