// Package store provides the PostgreSQL-backed persistence layer for
// VoxBridge: tenants, API keys, agents, sessions, transcripts, provider
// calls, usage events, jobs, tool executions, and audio artifacts.
//
// All operations share a single [pgxpool.Pool]. [Migrate] installs the
// schema idempotently on startup via CREATE TABLE IF NOT EXISTS.
//
// Concurrency-sensitive invariants are enforced in the database itself:
//
//   - message sequencing takes a session row lock inside a SQL function
//   - session uniqueness (one ACTIVE per tenant/agent/customer/demo) is a
//     partial unique index
//   - exactly-once billing is a conditional UPDATE plus a unique index on
//     usage_events.provider_call_id
//   - job claiming is a single UPDATE over a SKIP LOCKED candidate row
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTenants = `
CREATE TABLE IF NOT EXISTS tenants (
    id         TEXT        PRIMARY KEY,
    name       TEXT        NOT NULL,
    email      TEXT        NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const ddlAPIKeys = `
CREATE TABLE IF NOT EXISTS api_keys (
    id           TEXT        PRIMARY KEY,
    tenant_id    TEXT        NOT NULL REFERENCES tenants(id),
    prefix       TEXT        NOT NULL,
    hash         TEXT        NOT NULL UNIQUE,
    role         TEXT        NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at   TIMESTAMPTZ,
    revoked_at   TIMESTAMPTZ,
    last_used_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_api_keys_tenant
    ON api_keys (tenant_id);`

const ddlAgents = `
CREATE TABLE IF NOT EXISTS agents (
    id                TEXT        PRIMARY KEY,
    tenant_id         TEXT        NOT NULL REFERENCES tenants(id),
    name              TEXT        NOT NULL,
    description       TEXT        NOT NULL DEFAULT '',
    primary_provider  TEXT        NOT NULL,
    fallback_provider TEXT        NOT NULL DEFAULT '',
    system_prompt     TEXT        NOT NULL,
    temperature       DOUBLE PRECISION NOT NULL DEFAULT 0.7,
    max_tokens        INT         NOT NULL DEFAULT 1024,
    enabled_tools     TEXT[]      NOT NULL DEFAULT '{}',
    voice_enabled     BOOLEAN     NOT NULL DEFAULT false,
    voice_config      JSONB,
    is_active         BOOLEAN     NOT NULL DEFAULT true,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_agents_tenant
    ON agents (tenant_id);`

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT        PRIMARY KEY,
    tenant_id   TEXT        NOT NULL REFERENCES tenants(id),
    agent_id    TEXT        NOT NULL REFERENCES agents(id),
    customer_id TEXT        NOT NULL,
    channel     TEXT        NOT NULL DEFAULT 'CHAT',
    status      TEXT        NOT NULL DEFAULT 'ACTIVE',
    demo_mode   BOOLEAN     NOT NULL DEFAULT false,
    metadata    JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    ended_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sessions_tenant_created
    ON sessions (tenant_id, created_at);

-- One ACTIVE session per (tenant, agent, customer) for each demo flavour.
CREATE UNIQUE INDEX IF NOT EXISTS uq_sessions_active
    ON sessions (tenant_id, agent_id, customer_id)
    WHERE status = 'ACTIVE' AND demo_mode = false;

CREATE UNIQUE INDEX IF NOT EXISTS uq_sessions_active_demo
    ON sessions (tenant_id, agent_id, customer_id)
    WHERE status = 'ACTIVE' AND demo_mode = true;`

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id               TEXT        PRIMARY KEY,
    session_id       TEXT        NOT NULL REFERENCES sessions(id),
    sequence_number  INT         NOT NULL,
    idempotency_key  TEXT,
    role             TEXT        NOT NULL,
    content          TEXT        NOT NULL,
    tool_calls       JSONB,
    provider_call_id TEXT,
    audio_artifact   TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_messages_session_seq
    ON messages (session_id, sequence_number);

CREATE UNIQUE INDEX IF NOT EXISTS uq_messages_session_idem
    ON messages (session_id, idempotency_key)
    WHERE idempotency_key IS NOT NULL;`

const ddlProviderCalls = `
CREATE TABLE IF NOT EXISTS provider_calls (
    id             TEXT        PRIMARY KEY,
    session_id     TEXT        NOT NULL REFERENCES sessions(id),
    correlation_id TEXT        NOT NULL DEFAULT '',
    provider       TEXT        NOT NULL,
    is_fallback    BOOLEAN     NOT NULL DEFAULT false,
    tokens_in      INT         NOT NULL DEFAULT 0,
    tokens_out     INT         NOT NULL DEFAULT 0,
    latency_ms     BIGINT      NOT NULL DEFAULT 0,
    status         TEXT        NOT NULL,
    error_code     TEXT        NOT NULL DEFAULT '',
    error_message  TEXT        NOT NULL DEFAULT '',
    attempt_number INT         NOT NULL DEFAULT 1,
    billed         BOOLEAN     NOT NULL DEFAULT false,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_provider_calls_billed
    ON provider_calls (billed, created_at);

CREATE INDEX IF NOT EXISTS idx_provider_calls_provider_status
    ON provider_calls (provider, status, created_at);

CREATE INDEX IF NOT EXISTS idx_provider_calls_session
    ON provider_calls (session_id, created_at);`

const ddlUsageEvents = `
CREATE TABLE IF NOT EXISTS usage_events (
    id               TEXT        PRIMARY KEY,
    tenant_id        TEXT        NOT NULL REFERENCES tenants(id),
    agent_id         TEXT        NOT NULL,
    session_id       TEXT        NOT NULL,
    provider_call_id TEXT        NOT NULL UNIQUE,
    provider         TEXT        NOT NULL,
    tokens_in        INT         NOT NULL,
    tokens_out       INT         NOT NULL,
    total_tokens     INT         NOT NULL,
    cost_cents       BIGINT      NOT NULL,
    pricing_snapshot JSONB       NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_usage_events_tenant_provider
    ON usage_events (tenant_id, provider, created_at);

CREATE INDEX IF NOT EXISTS idx_usage_events_tenant_agent
    ON usage_events (tenant_id, agent_id, created_at);`

const ddlJobs = `
CREATE TABLE IF NOT EXISTS jobs (
    id              TEXT        PRIMARY KEY,
    tenant_id       TEXT        NOT NULL REFERENCES tenants(id),
    type            TEXT        NOT NULL,
    idempotency_key TEXT,
    input           JSONB       NOT NULL,
    output          JSONB,
    status          TEXT        NOT NULL DEFAULT 'PENDING',
    progress        INT         NOT NULL DEFAULT 0,
    error_message   TEXT        NOT NULL DEFAULT '',
    last_error      TEXT        NOT NULL DEFAULT '',
    callback_url    TEXT        NOT NULL DEFAULT '',
    callback_sent   BOOLEAN     NOT NULL DEFAULT false,
    locked_at       TIMESTAMPTZ,
    locked_by       TEXT        NOT NULL DEFAULT '',
    lock_expires_at TIMESTAMPTZ,
    attempts        INT         NOT NULL DEFAULT 0,
    max_attempts    INT         NOT NULL DEFAULT 3,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at      TIMESTAMPTZ,
    completed_at    TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_jobs_tenant_idem
    ON jobs (tenant_id, idempotency_key)
    WHERE idempotency_key IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_jobs_status_lock
    ON jobs (status, lock_expires_at);

CREATE INDEX IF NOT EXISTS idx_jobs_tenant_created
    ON jobs (tenant_id, created_at);`

const ddlToolExecutions = `
CREATE TABLE IF NOT EXISTS tool_executions (
    id             TEXT        PRIMARY KEY,
    session_id     TEXT        NOT NULL REFERENCES sessions(id),
    message_id     TEXT        NOT NULL DEFAULT '',
    correlation_id TEXT        NOT NULL DEFAULT '',
    tool_name      TEXT        NOT NULL,
    tool_input     JSONB       NOT NULL,
    tool_output    JSONB,
    status         TEXT        NOT NULL,
    error_message  TEXT        NOT NULL DEFAULT '',
    latency_ms     BIGINT      NOT NULL DEFAULT 0,
    cost_cents     BIGINT      NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tool_executions_session
    ON tool_executions (session_id, created_at);`

const ddlAudioArtifacts = `
CREATE TABLE IF NOT EXISTS audio_artifacts (
    id          TEXT        PRIMARY KEY,
    session_id  TEXT        NOT NULL REFERENCES sessions(id),
    type        TEXT        NOT NULL,
    file_path   TEXT        NOT NULL DEFAULT '',
    file_size   BIGINT      NOT NULL DEFAULT 0,
    duration_ms BIGINT      NOT NULL DEFAULT 0,
    format      TEXT        NOT NULL DEFAULT '',
    sample_rate INT         NOT NULL DEFAULT 0,
    provider    TEXT        NOT NULL DEFAULT '',
    transcript  TEXT        NOT NULL DEFAULT '',
    latency_ms  BIGINT      NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audio_artifacts_session
    ON audio_artifacts (session_id, created_at);`

// ddlNextSeq installs the sequence allocator. The session row lock
// serializes concurrent callers for the same session; callers must invoke
// the function inside the transaction that inserts the message so the lock
// covers the insert.
const ddlNextSeq = `
CREATE OR REPLACE FUNCTION voxbridge_next_seq(p_session_id TEXT)
RETURNS INT AS $$
DECLARE
    next_seq INT;
BEGIN
    PERFORM 1 FROM sessions WHERE id = p_session_id FOR UPDATE;
    SELECT COALESCE(MAX(sequence_number), 0) + 1
      INTO next_seq
      FROM messages
     WHERE session_id = p_session_id;
    RETURN next_seq;
END;
$$ LANGUAGE plpgsql;`

// Migrate creates all tables, indexes, and functions if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlTenants,
		ddlAPIKeys,
		ddlAgents,
		ddlSessions,
		ddlMessages,
		ddlProviderCalls,
		ddlUsageEvents,
		ddlJobs,
		ddlToolExecutions,
		ddlAudioArtifacts,
		ddlNextSeq,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store migrate: %w", err)
		}
	}
	return nil
}
