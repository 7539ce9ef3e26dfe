package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors returned by store operations. Callers translate these to
// gateway codes at the boundary.
var (
	// ErrNotFound means no row matched the lookup within the caller's
	// tenant scope.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateIdempotencyKey means an insert raced another writer using
	// the same (session, idempotency key) pair.
	ErrDuplicateIdempotencyKey = errors.New("store: duplicate idempotency key")

	// ErrDuplicateEmail means a tenant with the given email already exists.
	ErrDuplicateEmail = errors.New("store: duplicate email")
)

// Config holds connection-pool tuning for [New].
type Config struct {
	// URL is the PostgreSQL connection string.
	URL string

	// PoolSize caps concurrent connections. Default 25.
	PoolSize int

	// AcquireTimeout bounds waiting for a free connection. Default 10s.
	AcquireTimeout time.Duration

	// StatementTimeout bounds a single statement server-side. Default 30s.
	StatementTimeout time.Duration
}

// Store is the central PostgreSQL persistence layer. All methods are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New parses cfg, establishes the connection pool, verifies connectivity,
// and runs [Migrate].
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 25
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 10 * time.Second
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = 30 * time.Second
	}

	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pc.MaxConns = int32(cfg.PoolSize)
	pc.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	pc.ConnConfig.RuntimeParams["statement_timeout"] =
		fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool without migrating. Used by tests that
// manage their own schema lifecycle.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for collaborators that need raw access
// (the advisory session lock, health checks).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping verifies database connectivity. Used by the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// isUniqueViolation reports whether err is a violation of the named unique
// constraint. An empty name matches any unique violation.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
