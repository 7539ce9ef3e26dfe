package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const jobColumns = `
	id, tenant_id, type, idempotency_key, input, output, status, progress,
	error_message, last_error, callback_url, callback_sent, locked_at,
	locked_by, lock_expires_at, attempts, max_attempts, created_at,
	started_at, completed_at`

// jobColumnsQualified mirrors jobColumns for the UPDATE … FROM claim, where
// the bare names would be ambiguous.
const jobColumnsQualified = `
	j.id, j.tenant_id, j.type, j.idempotency_key, j.input, j.output,
	j.status, j.progress, j.error_message, j.last_error, j.callback_url,
	j.callback_sent, j.locked_at, j.locked_by, j.lock_expires_at,
	j.attempts, j.max_attempts, j.created_at, j.started_at, j.completed_at`

// EnqueueJob inserts a PENDING job. Tenant-scoped idempotency: when a key is
// supplied and a job with the same (tenant, key) exists, the existing job is
// returned unchanged.
func (s *Store) EnqueueJob(ctx context.Context, j *Job) (*Job, error) {
	if j.IdempotencyKey != "" {
		existing, err := s.findJobByKey(ctx, j.TenantID, j.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if err != ErrNotFound {
			return nil, err
		}
	}

	j.ID = uuid.NewString()
	j.Status = JobPending
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 3
	}
	const q = `
		INSERT INTO jobs (id, tenant_id, type, idempotency_key, input, callback_url, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	err := s.pool.QueryRow(ctx, q,
		j.ID, j.TenantID, j.Type, nullIfEmpty(j.IdempotencyKey),
		j.Input, j.CallbackURL, j.MaxAttempts,
	).Scan(&j.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "uq_jobs_tenant_idem") {
			return s.findJobByKey(ctx, j.TenantID, j.IdempotencyKey)
		}
		return nil, fmt.Errorf("store: enqueue job: %w", err)
	}
	return j, nil
}

// findJobByKey fetches a job by its tenant-scoped idempotency key.
func (s *Store) findJobByKey(ctx context.Context, tenantID, key string) (*Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE tenant_id = $1 AND idempotency_key = $2`
	row := s.pool.QueryRow(ctx, q, tenantID, key)
	j, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find job by key: %w", err)
	}
	return j, nil
}

// ClaimJob atomically claims the oldest eligible job for workerID: a
// PENDING or lease-expired PROCESSING row with remaining attempts. The
// claim pre-increments attempts, sets the lease, and stamps the worker
// identity in one statement, so two workers can never hold the same job.
//
// Returns (nil, nil) when no job is eligible.
func (s *Store) ClaimJob(ctx context.Context, workerID string, lease time.Duration) (*Job, error) {
	q := `
		WITH candidate AS (
		    SELECT id FROM jobs
		    WHERE  status IN ('PENDING', 'PROCESSING')
		      AND  (locked_at IS NULL OR lock_expires_at < now())
		      AND  attempts < max_attempts
		    ORDER  BY created_at
		    FOR UPDATE SKIP LOCKED
		    LIMIT  1
		)
		UPDATE jobs j SET
		    status          = 'PROCESSING',
		    locked_at       = now(),
		    locked_by       = $1,
		    lock_expires_at = now() + $2,
		    attempts        = attempts + 1,
		    started_at      = COALESCE(started_at, now())
		FROM  candidate
		WHERE j.id = candidate.id
		RETURNING ` + jobColumnsQualified
	row := s.pool.QueryRow(ctx, q, workerID, lease)
	j, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: claim job: %w", err)
	}
	return j, nil
}

// CompleteJob marks a job COMPLETED with its output and clears the lock.
func (s *Store) CompleteJob(ctx context.Context, jobID string, output []byte) error {
	const q = `
		UPDATE jobs SET
		    status = 'COMPLETED', progress = 100, output = $2,
		    completed_at = now(), locked_at = NULL, locked_by = '',
		    lock_expires_at = NULL
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, jobID, output)
	if err != nil {
		return fmt.Errorf("store: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed execution. When attempts remain the job returns
// to PENDING with cleared lock fields so any worker can re-claim it;
// otherwise it is terminally FAILED. The returned job reflects the new
// state so the worker can decide whether to fire a failure callback.
func (s *Store) FailJob(ctx context.Context, jobID, execErr string) (*Job, error) {
	q := `
		UPDATE jobs SET
		    last_error      = $2,
		    status          = CASE WHEN attempts < max_attempts THEN 'PENDING' ELSE 'FAILED' END,
		    error_message   = CASE WHEN attempts < max_attempts THEN error_message ELSE $2 END,
		    completed_at    = CASE WHEN attempts < max_attempts THEN completed_at ELSE now() END,
		    locked_at       = NULL,
		    locked_by       = '',
		    lock_expires_at = NULL
		WHERE id = $1
		RETURNING ` + jobColumns
	row := s.pool.QueryRow(ctx, q, jobID, execErr)
	j, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: fail job: %w", err)
	}
	return j, nil
}

// RecoverStaleJobs resets PROCESSING rows whose lease has expired back to
// PENDING, rescuing work abandoned by crashed workers. Returns the number
// of rescued rows.
func (s *Store) RecoverStaleJobs(ctx context.Context) (int64, error) {
	const q = `
		UPDATE jobs SET
		    status = 'PENDING', locked_at = NULL, locked_by = '', lock_expires_at = NULL
		WHERE status = 'PROCESSING' AND lock_expires_at < now()`
	tag, err := s.pool.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("store: recover stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkCallbackSent records a delivered webhook callback.
func (s *Store) MarkCallbackSent(ctx context.Context, jobID string) error {
	const q = `UPDATE jobs SET callback_sent = true WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, jobID); err != nil {
		return fmt.Errorf("store: mark callback sent: %w", err)
	}
	return nil
}

// SetJobProgress updates a job's progress percentage.
func (s *Store) SetJobProgress(ctx context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	const q = `UPDATE jobs SET progress = $2 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, jobID, progress); err != nil {
		return fmt.Errorf("store: set job progress: %w", err)
	}
	return nil
}

// GetJob fetches a job within its tenant scope.
func (s *Store) GetJob(ctx context.Context, tenantID, jobID string) (*Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND tenant_id = $2`
	row := s.pool.QueryRow(ctx, q, jobID, tenantID)
	j, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a tenant's jobs, newest first, optionally filtered by
// status.
func (s *Store) ListJobs(ctx context.Context, tenantID string, status JobStatus, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	args := []any{tenantID}
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE tenant_id = $1`
	if status != "" {
		args = append(args, status)
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Job, error) {
		j, err := scanJob(row)
		if err != nil {
			return Job{}, err
		}
		return *j, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan jobs: %w", err)
	}
	if jobs == nil {
		jobs = []Job{}
	}
	return jobs, nil
}

// scanJob scans one job row.
func scanJob(row pgx.Row) (*Job, error) {
	j := &Job{}
	var idemKey *string
	err := row.Scan(
		&j.ID, &j.TenantID, &j.Type, &idemKey, &j.Input, &j.Output,
		&j.Status, &j.Progress, &j.ErrorMessage, &j.LastError,
		&j.CallbackURL, &j.CallbackSent, &j.LockedAt, &j.LockedBy,
		&j.LockExpiresAt, &j.Attempts, &j.MaxAttempts,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	if idemKey != nil {
		j.IdempotencyKey = *idemKey
	}
	return j, nil
}

