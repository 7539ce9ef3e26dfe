package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const providerCallColumns = `
	id, session_id, correlation_id, provider, is_fallback, tokens_in,
	tokens_out, latency_ms, status, error_code, error_message,
	attempt_number, billed, created_at`

// InsertProviderCall persists one vendor attempt. Failed attempts are
// persisted too — analytics must see every try, not just the winners.
func (s *Store) InsertProviderCall(ctx context.Context, pc *ProviderCall) (*ProviderCall, error) {
	pc.ID = uuid.NewString()
	const q = `
		INSERT INTO provider_calls
		    (id, session_id, correlation_id, provider, is_fallback, tokens_in,
		     tokens_out, latency_ms, status, error_code, error_message, attempt_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`
	err := s.pool.QueryRow(ctx, q,
		pc.ID, pc.SessionID, pc.CorrelationID, pc.Provider, pc.IsFallback,
		pc.TokensIn, pc.TokensOut, pc.LatencyMs, pc.Status,
		pc.ErrorCode, pc.ErrorMessage, pc.AttemptNumber,
	).Scan(&pc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert provider call: %w", err)
	}
	return pc, nil
}

// GetProviderCall fetches one provider call by id.
func (s *Store) GetProviderCall(ctx context.Context, id string) (*ProviderCall, error) {
	q := `SELECT ` + providerCallColumns + ` FROM provider_calls WHERE id = $1`
	row := s.pool.QueryRow(ctx, q, id)
	pc, err := scanProviderCall(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get provider call: %w", err)
	}
	return pc, nil
}

// SessionProviderCalls returns a session's calls ordered by creation.
func (s *Store) SessionProviderCalls(ctx context.Context, sessionID string) ([]ProviderCall, error) {
	q := `SELECT ` + providerCallColumns + `
		FROM provider_calls WHERE session_id = $1 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: session provider calls: %w", err)
	}
	calls, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ProviderCall, error) {
		pc, err := scanProviderCall(row)
		if err != nil {
			return ProviderCall{}, err
		}
		return *pc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan provider calls: %w", err)
	}
	return calls, nil
}

// RecordUsageExactlyOnce performs the exactly-once billing transaction for
// one successful provider call:
//
//  1. Conditionally flip provider_calls.billed from false to true. Zero rows
//     affected means another worker won the race; return created=false.
//  2. Insert the usage event. The unique index on provider_call_id is the
//     second-line defense; a violation there is logged and swallowed.
//
// The event's ID and CreatedAt are filled on success.
func (s *Store) RecordUsageExactlyOnce(ctx context.Context, ev *UsageEvent) (created bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("store: record usage: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const claim = `
		UPDATE provider_calls SET billed = true
		WHERE  id = $1 AND billed = false AND status = 'SUCCESS'`
	tag, err := tx.Exec(ctx, claim, ev.ProviderCallID)
	if err != nil {
		return false, fmt.Errorf("store: record usage: claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already billed by a concurrent worker, or the call never
		// succeeded. Either way there is nothing to record.
		return false, nil
	}

	ev.ID = uuid.NewString()
	const ins = `
		INSERT INTO usage_events
		    (id, tenant_id, agent_id, session_id, provider_call_id, provider,
		     tokens_in, tokens_out, total_tokens, cost_cents, pricing_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`
	err = tx.QueryRow(ctx, ins,
		ev.ID, ev.TenantID, ev.AgentID, ev.SessionID, ev.ProviderCallID,
		ev.Provider, ev.TokensIn, ev.TokensOut, ev.TotalTokens,
		ev.CostCents, ev.PricingSnapshot,
	).Scan(&ev.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			// The billed flag and the event table disagreed; the event
			// already exists, so rolling back the flag flip is harmless.
			slog.Warn("usage event already exists for provider call",
				"provider_call_id", ev.ProviderCallID)
			return false, nil
		}
		return false, fmt.Errorf("store: record usage: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("store: record usage: commit: %w", err)
	}
	return true, nil
}

// CountUsageEvents returns how many usage events reference a provider call.
// Tests use it to verify the exactly-once property.
func (s *Store) CountUsageEvents(ctx context.Context, providerCallID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM usage_events WHERE provider_call_id = $1`,
		providerCallID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count usage events: %w", err)
	}
	return n, nil
}

// scanProviderCall scans one provider-call row.
func scanProviderCall(row pgx.Row) (*ProviderCall, error) {
	pc := &ProviderCall{}
	err := row.Scan(
		&pc.ID, &pc.SessionID, &pc.CorrelationID, &pc.Provider, &pc.IsFallback,
		&pc.TokensIn, &pc.TokensOut, &pc.LatencyMs, &pc.Status,
		&pc.ErrorCode, &pc.ErrorMessage, &pc.AttemptNumber, &pc.Billed, &pc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return pc, nil
}
