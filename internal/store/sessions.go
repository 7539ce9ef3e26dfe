package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `
	id, tenant_id, agent_id, customer_id, channel, status, demo_mode,
	metadata, created_at, ended_at`

// CreateSession creates a session, honoring the one-ACTIVE-session
// invariant: when an ACTIVE session already exists for the same
// (tenant, agent, customer, demoMode) tuple it is returned unchanged.
//
// The partial unique index closes the check-then-insert race: a loser of a
// concurrent create sees the unique violation and re-reads the winner's row.
func (s *Store) CreateSession(ctx context.Context, sess *Session) (*Session, error) {
	if existing, err := s.findActiveSession(ctx, sess); err == nil {
		return existing, nil
	} else if err != ErrNotFound {
		return nil, err
	}

	sess.ID = uuid.NewString()
	if sess.Channel == "" {
		sess.Channel = ChannelChat
	}
	sess.Status = SessionActive
	const q = `
		INSERT INTO sessions (id, tenant_id, agent_id, customer_id, channel, status, demo_mode, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`
	err := s.pool.QueryRow(ctx, q,
		sess.ID, sess.TenantID, sess.AgentID, sess.CustomerID,
		sess.Channel, sess.Status, sess.DemoMode, sess.Metadata,
	).Scan(&sess.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return s.findActiveSession(ctx, sess)
		}
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	return sess, nil
}

// findActiveSession fetches the ACTIVE session matching sess's uniqueness
// tuple.
func (s *Store) findActiveSession(ctx context.Context, sess *Session) (*Session, error) {
	q := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE tenant_id = $1 AND agent_id = $2 AND customer_id = $3
		  AND demo_mode = $4 AND status = 'ACTIVE'`
	row := s.pool.QueryRow(ctx, q, sess.TenantID, sess.AgentID, sess.CustomerID, sess.DemoMode)
	found, err := scanSession(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find active session: %w", err)
	}
	return found, nil
}

// GetSession fetches a session within its tenant scope.
func (s *Store) GetSession(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 AND tenant_id = $2`
	row := s.pool.QueryRow(ctx, q, sessionID, tenantID)
	sess, err := scanSession(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns a tenant's sessions, newest first, capped at limit.
func (s *Store) ListSessions(ctx context.Context, tenantID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + sessionColumns + `
		FROM sessions WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, q, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Session, error) {
		sess, err := scanSession(row)
		if err != nil {
			return Session{}, err
		}
		return *sess, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan sessions: %w", err)
	}
	return sessions, nil
}

// EndSession transitions a session to ENDED. Ending an already-ended
// session is a no-op returning the current row.
func (s *Store) EndSession(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	const q = `
		UPDATE sessions
		SET    status = 'ENDED', ended_at = COALESCE(ended_at, now())
		WHERE  id = $1 AND tenant_id = $2`
	tag, err := s.pool.Exec(ctx, q, sessionID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetSession(ctx, tenantID, sessionID)
}

// MarkSessionError transitions a session to ERROR. Used when processing
// leaves a session in an unrecoverable state.
func (s *Store) MarkSessionError(ctx context.Context, sessionID string) error {
	const q = `UPDATE sessions SET status = 'ERROR' WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("store: mark session error: %w", err)
	}
	return nil
}

// scanSession scans one session row.
func scanSession(row pgx.Row) (*Session, error) {
	sess := &Session{}
	err := row.Scan(
		&sess.ID, &sess.TenantID, &sess.AgentID, &sess.CustomerID,
		&sess.Channel, &sess.Status, &sess.DemoMode,
		&sess.Metadata, &sess.CreatedAt, &sess.EndedAt)
	if err != nil {
		return nil, err
	}
	return sess, nil
}
