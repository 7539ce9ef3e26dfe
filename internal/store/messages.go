package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/voxbridge/voxbridge/pkg/types"
)

const messageColumns = `
	id, session_id, sequence_number, idempotency_key, role, content,
	tool_calls, provider_call_id, audio_artifact, created_at`

// NextSequence allocates the next monotonic sequence number for a session.
// The SQL function takes a row lock on the session, so concurrent callers
// serialize and the returned numbers are gap-free.
//
// The lock is scoped to this call's implicit transaction. Message inserts go
// through [Store.InsertMessage], which allocates and inserts under one
// transaction; NextSequence exists for administrative paths that need a
// number without an insert.
func (s *Store) NextSequence(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT voxbridge_next_seq($1)`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: next sequence: %w", err)
	}
	return n, nil
}

// InsertMessage allocates the next sequence number and inserts the message
// in a single transaction, so the session row lock held by the allocator
// covers the insert and no gap or duplicate can appear under concurrency.
//
// A unique violation on (session, idempotency key) returns
// [ErrDuplicateIdempotencyKey]: a concurrent caller raced us with the same
// key and the caller should re-drive its idempotent short-circuit.
func (s *Store) InsertMessage(ctx context.Context, m *Message) (*Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: insert message: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, `SELECT voxbridge_next_seq($1)`, m.SessionID).
		Scan(&m.SequenceNumber); err != nil {
		return nil, fmt.Errorf("store: insert message: allocate sequence: %w", err)
	}

	m.ID = uuid.NewString()

	var toolCalls []byte
	if len(m.ToolCalls) > 0 {
		toolCalls, err = json.Marshal(m.ToolCalls)
		if err != nil {
			return nil, fmt.Errorf("store: insert message: encode tool calls: %w", err)
		}
	}

	const q = `
		INSERT INTO messages
		    (id, session_id, sequence_number, idempotency_key, role, content,
		     tool_calls, provider_call_id, audio_artifact)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`
	err = tx.QueryRow(ctx, q,
		m.ID, m.SessionID, m.SequenceNumber, nullIfEmpty(m.IdempotencyKey),
		m.Role, m.Content, toolCalls,
		nullIfEmpty(m.ProviderCallID), nullIfEmpty(m.AudioArtifact),
	).Scan(&m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "uq_messages_session_idem") {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, fmt.Errorf("store: insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: insert message: commit: %w", err)
	}
	return m, nil
}

// RecentMessages returns the most recent limit messages of a session in
// ascending sequence order.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT ` + messageColumns + ` FROM (
		    SELECT ` + messageColumns + `
		    FROM   messages
		    WHERE  session_id = $1
		    ORDER  BY sequence_number DESC
		    LIMIT  $2
		) recent
		ORDER BY sequence_number ASC`
	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}
	return collectMessages(rows)
}

// FindUserMessageByKey looks up the USER message carrying the idempotency
// key on a session. This drives the pipeline's idempotent short-circuit.
func (s *Store) FindUserMessageByKey(ctx context.Context, sessionID, key string) (*Message, error) {
	q := `
		SELECT ` + messageColumns + `
		FROM   messages
		WHERE  session_id = $1 AND idempotency_key = $2 AND role = 'USER'`
	row := s.pool.QueryRow(ctx, q, sessionID, key)
	m, err := scanMessage(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find message by key: %w", err)
	}
	return m, nil
}

// MessageBySequence fetches one message of a session by sequence number.
func (s *Store) MessageBySequence(ctx context.Context, sessionID string, seq int) (*Message, error) {
	q := `
		SELECT ` + messageColumns + `
		FROM   messages
		WHERE  session_id = $1 AND sequence_number = $2`
	row := s.pool.QueryRow(ctx, q, sessionID, seq)
	m, err := scanMessage(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: message by sequence: %w", err)
	}
	return m, nil
}

// CountMessages returns the number of messages on a session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count messages: %w", err)
	}
	return n, nil
}

// collectMessages scans pgx rows into a message slice.
func collectMessages(rows pgx.Rows) ([]Message, error) {
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		m, err := scanMessage(row)
		if err != nil {
			return Message{}, err
		}
		return *m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan messages: %w", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// scanMessage scans one message row, decoding the tool-calls JSON column.
func scanMessage(row pgx.Row) (*Message, error) {
	m := &Message{}
	var (
		idemKey   *string
		toolCalls []byte
		callID    *string
		artifact  *string
	)
	err := row.Scan(
		&m.ID, &m.SessionID, &m.SequenceNumber, &idemKey, &m.Role, &m.Content,
		&toolCalls, &callID, &artifact, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if idemKey != nil {
		m.IdempotencyKey = *idemKey
	}
	if callID != nil {
		m.ProviderCallID = *callID
	}
	if artifact != nil {
		m.AudioArtifact = *artifact
	}
	if len(toolCalls) > 0 {
		if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
	}
	return m, nil
}

// nullIfEmpty maps "" to SQL NULL for nullable text columns.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ToolCallsJSON renders m's tool calls for API responses; an empty list
// renders as [] rather than null.
func (m *Message) ToolCallsJSON() []types.ToolCall {
	if m.ToolCalls == nil {
		return []types.ToolCall{}
	}
	return m.ToolCalls
}
