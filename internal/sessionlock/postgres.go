package sessionlock

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Locker with session-scoped advisory locks, for
// deployments that run more than one gateway process against the same
// database. Each held lock pins one pooled connection: advisory session
// locks live and die with their connection, which is also what frees the
// lock if the process crashes.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Locker = (*Postgres)(nil)

// NewPostgres builds an advisory-lock locker over an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// TryAcquire implements [Locker].
func (p *Postgres) TryAcquire(ctx context.Context, sessionID string) (func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("sessionlock: acquire connection: %w", err)
	}

	var got bool
	key := lockKey(sessionID)
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&got)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("sessionlock: try advisory lock: %w", err)
	}
	if !got {
		conn.Release()
		return nil, ErrLocked
	}

	release := func() {
		// Unlock on a fresh context: the caller's ctx may already be
		// cancelled and the conn must still go back to the pool unlocked.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			slog.Warn("advisory unlock failed, hijacking connection",
				"session_id", sessionID, "error", err)
			conn.Hijack().Close(unlockCtx)
			return
		}
		conn.Release()
	}
	return release, nil
}

// lockKey maps a session id onto the advisory-lock keyspace.
func lockKey(sessionID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(sessionID))
	return int64(h.Sum64())
}
