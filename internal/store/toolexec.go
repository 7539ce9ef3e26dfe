package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InsertToolExecution persists one tool-invocation audit record.
func (s *Store) InsertToolExecution(ctx context.Context, te *ToolExecution) (*ToolExecution, error) {
	te.ID = uuid.NewString()
	const q = `
		INSERT INTO tool_executions
		    (id, session_id, message_id, correlation_id, tool_name, tool_input,
		     tool_output, status, error_message, latency_ms, cost_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`
	err := s.pool.QueryRow(ctx, q,
		te.ID, te.SessionID, te.MessageID, te.CorrelationID, te.ToolName,
		te.ToolInput, te.ToolOutput, te.Status, te.ErrorMessage,
		te.LatencyMs, te.CostCents,
	).Scan(&te.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert tool execution: %w", err)
	}
	return te, nil
}

// SessionToolExecutions returns a session's tool audit trail in order.
func (s *Store) SessionToolExecutions(ctx context.Context, sessionID string) ([]ToolExecution, error) {
	const q = `
		SELECT id, session_id, message_id, correlation_id, tool_name, tool_input,
		       tool_output, status, error_message, latency_ms, cost_cents, created_at
		FROM   tool_executions
		WHERE  session_id = $1
		ORDER  BY created_at`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: session tool executions: %w", err)
	}
	execs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ToolExecution, error) {
		var te ToolExecution
		err := row.Scan(&te.ID, &te.SessionID, &te.MessageID, &te.CorrelationID,
			&te.ToolName, &te.ToolInput, &te.ToolOutput, &te.Status,
			&te.ErrorMessage, &te.LatencyMs, &te.CostCents, &te.CreatedAt)
		return te, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan tool executions: %w", err)
	}
	return execs, nil
}
