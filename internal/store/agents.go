package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const agentColumns = `
	id, tenant_id, name, description, primary_provider, fallback_provider,
	system_prompt, temperature, max_tokens, enabled_tools, voice_enabled,
	voice_config, is_active, created_at, updated_at`

// CreateAgent inserts an agent configuration. The caller has already
// validated provider names and parameter ranges at the boundary.
func (s *Store) CreateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	a.ID = uuid.NewString()
	const q = `
		INSERT INTO agents
		    (id, tenant_id, name, description, primary_provider, fallback_provider,
		     system_prompt, temperature, max_tokens, enabled_tools, voice_enabled,
		     voice_config, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`
	err := s.pool.QueryRow(ctx, q,
		a.ID, a.TenantID, a.Name, a.Description, a.PrimaryProvider, a.FallbackProvider,
		a.SystemPrompt, a.Temperature, a.MaxTokens, a.EnabledTools, a.VoiceEnabled,
		a.VoiceConfig, a.IsActive,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create agent: %w", err)
	}
	return a, nil
}

// GetAgent fetches an agent within its tenant scope.
func (s *Store) GetAgent(ctx context.Context, tenantID, agentID string) (*Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1 AND tenant_id = $2`
	row := s.pool.QueryRow(ctx, q, agentID, tenantID)
	a, err := scanAgent(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns a tenant's agents, newest first.
func (s *Store) ListAgents(ctx context.Context, tenantID string) ([]Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	agents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Agent, error) {
		a, err := scanAgent(row)
		if err != nil {
			return Agent{}, err
		}
		return *a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan agents: %w", err)
	}
	return agents, nil
}

// UpdateAgent replaces an agent's mutable fields within its tenant scope.
func (s *Store) UpdateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	const q = `
		UPDATE agents SET
		    name = $3, description = $4, primary_provider = $5, fallback_provider = $6,
		    system_prompt = $7, temperature = $8, max_tokens = $9, enabled_tools = $10,
		    voice_enabled = $11, voice_config = $12, is_active = $13, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
		RETURNING created_at, updated_at`
	err := s.pool.QueryRow(ctx, q,
		a.ID, a.TenantID, a.Name, a.Description, a.PrimaryProvider, a.FallbackProvider,
		a.SystemPrompt, a.Temperature, a.MaxTokens, a.EnabledTools, a.VoiceEnabled,
		a.VoiceConfig, a.IsActive,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: update agent: %w", err)
	}
	return a, nil
}

// DeleteAgent removes an agent within its tenant scope. Agents with sessions
// keep their historical rows; only the configuration row is removed.
func (s *Store) DeleteAgent(ctx context.Context, tenantID, agentID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM agents WHERE id = $1 AND tenant_id = $2`, agentID, tenantID)
	if err != nil {
		return fmt.Errorf("store: delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanAgent scans one agent row.
func scanAgent(row pgx.Row) (*Agent, error) {
	a := &Agent{}
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Name, &a.Description, &a.PrimaryProvider, &a.FallbackProvider,
		&a.SystemPrompt, &a.Temperature, &a.MaxTokens, &a.EnabledTools, &a.VoiceEnabled,
		&a.VoiceConfig, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}
