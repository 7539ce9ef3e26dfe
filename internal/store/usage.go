package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// UsageSummary aggregates a tenant's usage over a window.
type UsageSummary struct {
	Calls       int   `json:"calls"`
	TotalTokens int64 `json:"totalTokens"`
	CostCents   int64 `json:"costCents"`
}

// UsageBucket is one group of a usage breakdown.
type UsageBucket struct {
	Key         string `json:"key"`
	Calls       int    `json:"calls"`
	TotalTokens int64  `json:"totalTokens"`
	CostCents   int64  `json:"costCents"`
}

// UsageWindow bounds usage queries. Zero times mean unbounded.
type UsageWindow struct {
	From time.Time
	To   time.Time
}

// clauses renders the optional window conditions starting at placeholder
// index start.
func (w UsageWindow) clauses(args *[]any) string {
	out := ""
	if !w.From.IsZero() {
		*args = append(*args, w.From)
		out += fmt.Sprintf(" AND created_at >= $%d", len(*args))
	}
	if !w.To.IsZero() {
		*args = append(*args, w.To)
		out += fmt.Sprintf(" AND created_at < $%d", len(*args))
	}
	return out
}

// GetUsageSummary totals a tenant's usage events.
func (s *Store) GetUsageSummary(ctx context.Context, tenantID string, w UsageWindow) (*UsageSummary, error) {
	args := []any{tenantID}
	q := `
		SELECT COUNT(*),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(cost_cents), 0)
		FROM   usage_events
		WHERE  tenant_id = $1` + w.clauses(&args)

	sum := &UsageSummary{}
	err := s.pool.QueryRow(ctx, q, args...).Scan(&sum.Calls, &sum.TotalTokens, &sum.CostCents)
	if err != nil {
		return nil, fmt.Errorf("store: usage summary: %w", err)
	}
	return sum, nil
}

// GetUsageBreakdown groups a tenant's usage by "provider", "agent", or
// "day". Unknown groupings are rejected here so the SQL never interpolates
// caller input.
func (s *Store) GetUsageBreakdown(ctx context.Context, tenantID, groupBy string, w UsageWindow) ([]UsageBucket, error) {
	var keyExpr string
	switch groupBy {
	case "provider":
		keyExpr = "provider"
	case "agent":
		keyExpr = "agent_id"
	case "day":
		keyExpr = "to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
	default:
		return nil, fmt.Errorf("store: usage breakdown: unknown groupBy %q", groupBy)
	}

	args := []any{tenantID}
	q := `
		SELECT ` + keyExpr + ` AS bucket,
		       COUNT(*),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(cost_cents), 0)
		FROM   usage_events
		WHERE  tenant_id = $1` + w.clauses(&args) + `
		GROUP  BY bucket
		ORDER  BY bucket`
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: usage breakdown: %w", err)
	}
	buckets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (UsageBucket, error) {
		var b UsageBucket
		err := row.Scan(&b.Key, &b.Calls, &b.TotalTokens, &b.CostCents)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan usage breakdown: %w", err)
	}
	if buckets == nil {
		buckets = []UsageBucket{}
	}
	return buckets, nil
}

// GetTopAgents returns the tenant's costliest agents, highest spend first.
func (s *Store) GetTopAgents(ctx context.Context, tenantID string, limit int) ([]UsageBucket, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
		SELECT agent_id,
		       COUNT(*),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(cost_cents), 0)
		FROM   usage_events
		WHERE  tenant_id = $1
		GROUP  BY agent_id
		ORDER  BY COALESCE(SUM(cost_cents), 0) DESC
		LIMIT  $2`
	rows, err := s.pool.Query(ctx, q, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: top agents: %w", err)
	}
	buckets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (UsageBucket, error) {
		var b UsageBucket
		err := row.Scan(&b.Key, &b.Calls, &b.TotalTokens, &b.CostCents)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan top agents: %w", err)
	}
	if buckets == nil {
		buckets = []UsageBucket{}
	}
	return buckets, nil
}
