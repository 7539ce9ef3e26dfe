package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateTenant inserts a tenant. Email uniqueness is enforced by the
// database; a duplicate returns [ErrDuplicateEmail].
func (s *Store) CreateTenant(ctx context.Context, name, email string) (*Tenant, error) {
	t := &Tenant{
		ID:    uuid.NewString(),
		Name:  name,
		Email: email,
	}
	const q = `
		INSERT INTO tenants (id, name, email)
		VALUES ($1, $2, $3)
		RETURNING created_at`
	if err := s.pool.QueryRow(ctx, q, t.ID, t.Name, t.Email).Scan(&t.CreatedAt); err != nil {
		if isUniqueViolation(err, "") {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("store: create tenant: %w", err)
	}
	return t, nil
}

// GetTenant fetches a tenant by id.
func (s *Store) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	const q = `SELECT id, name, email, created_at FROM tenants WHERE id = $1`
	t := &Tenant{}
	err := s.pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.Name, &t.Email, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get tenant: %w", err)
	}
	return t, nil
}

// CreateAPIKey inserts a key record. The caller supplies the display prefix
// and the SHA-256 hash; the plaintext never reaches the store.
func (s *Store) CreateAPIKey(ctx context.Context, tenantID, prefix, hash string, role Role, expiresAt *time.Time) (*APIKey, error) {
	k := &APIKey{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Prefix:    prefix,
		Hash:      hash,
		Role:      role,
		ExpiresAt: expiresAt,
	}
	const q = `
		INSERT INTO api_keys (id, tenant_id, prefix, hash, role, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	err := s.pool.QueryRow(ctx, q, k.ID, k.TenantID, k.Prefix, k.Hash, k.Role, k.ExpiresAt).
		Scan(&k.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create api key: %w", err)
	}
	return k, nil
}

// GetAPIKeyByHash looks a key up by its SHA-256 hash. Authentication uses
// this path; validity (revocation, expiry) is the caller's check so that the
// boundary can distinguish "unknown" from "revoked" in logs.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	const q = `
		SELECT id, tenant_id, prefix, hash, role, created_at, expires_at, revoked_at, last_used_at
		FROM   api_keys
		WHERE  hash = $1`
	k := &APIKey{}
	err := s.pool.QueryRow(ctx, q, hash).Scan(
		&k.ID, &k.TenantID, &k.Prefix, &k.Hash, &k.Role,
		&k.CreatedAt, &k.ExpiresAt, &k.RevokedAt, &k.LastUsedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get api key: %w", err)
	}
	return k, nil
}

// ListAPIKeys returns a tenant's keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, tenantID string) ([]APIKey, error) {
	const q = `
		SELECT id, tenant_id, prefix, hash, role, created_at, expires_at, revoked_at, last_used_at
		FROM   api_keys
		WHERE  tenant_id = $1
		ORDER  BY created_at DESC`
	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: list api keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (APIKey, error) {
		var k APIKey
		err := row.Scan(&k.ID, &k.TenantID, &k.Prefix, &k.Hash, &k.Role,
			&k.CreatedAt, &k.ExpiresAt, &k.RevokedAt, &k.LastUsedAt)
		return k, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks a key revoked within its tenant scope.
func (s *Store) RevokeAPIKey(ctx context.Context, tenantID, keyID string) error {
	const q = `
		UPDATE api_keys SET revoked_at = now()
		WHERE  id = $1 AND tenant_id = $2 AND revoked_at IS NULL`
	tag, err := s.pool.Exec(ctx, q, keyID, tenantID)
	if err != nil {
		return fmt.Errorf("store: revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKey updates last_used_at. Callers treat failures as best-effort.
func (s *Store) TouchAPIKey(ctx context.Context, keyID string) error {
	const q = `UPDATE api_keys SET last_used_at = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, keyID); err != nil {
		return fmt.Errorf("store: touch api key: %w", err)
	}
	return nil
}

// RotateAPIKey revokes the old key and inserts its replacement in one
// transaction, preserving the old key's role and expiry.
func (s *Store) RotateAPIKey(ctx context.Context, tenantID, keyID, newPrefix, newHash string) (*APIKey, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: rotate api key: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		role      Role
		expiresAt *time.Time
	)
	const sel = `
		SELECT role, expires_at FROM api_keys
		WHERE  id = $1 AND tenant_id = $2 AND revoked_at IS NULL
		FOR UPDATE`
	err = tx.QueryRow(ctx, sel, keyID, tenantID).Scan(&role, &expiresAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: rotate api key: select: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE api_keys SET revoked_at = now() WHERE id = $1`, keyID); err != nil {
		return nil, fmt.Errorf("store: rotate api key: revoke: %w", err)
	}

	k := &APIKey{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Prefix:    newPrefix,
		Hash:      newHash,
		Role:      role,
		ExpiresAt: expiresAt,
	}
	const ins = `
		INSERT INTO api_keys (id, tenant_id, prefix, hash, role, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	if err := tx.QueryRow(ctx, ins, k.ID, k.TenantID, k.Prefix, k.Hash, k.Role, k.ExpiresAt).Scan(&k.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: rotate api key: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: rotate api key: commit: %w", err)
	}
	return k, nil
}
