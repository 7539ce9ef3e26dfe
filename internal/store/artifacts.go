package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const artifactColumns = `
	id, session_id, type, file_path, file_size, duration_ms, format,
	sample_rate, provider, transcript, latency_ms, created_at`

// InsertAudioArtifact persists a stored-audio record.
func (s *Store) InsertAudioArtifact(ctx context.Context, a *AudioArtifact) (*AudioArtifact, error) {
	a.ID = uuid.NewString()
	const q = `
		INSERT INTO audio_artifacts
		    (id, session_id, type, file_path, file_size, duration_ms, format,
		     sample_rate, provider, transcript, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`
	err := s.pool.QueryRow(ctx, q,
		a.ID, a.SessionID, a.Type, a.FilePath, a.FileSize, a.DurationMs,
		a.Format, a.SampleRate, a.Provider, a.Transcript, a.LatencyMs,
	).Scan(&a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert audio artifact: %w", err)
	}
	return a, nil
}

// GetAudioArtifact fetches an artifact scoped to its session.
func (s *Store) GetAudioArtifact(ctx context.Context, sessionID, artifactID string) (*AudioArtifact, error) {
	q := `SELECT ` + artifactColumns + `
		FROM audio_artifacts WHERE id = $1 AND session_id = $2`
	a := &AudioArtifact{}
	err := s.pool.QueryRow(ctx, q, artifactID, sessionID).Scan(
		&a.ID, &a.SessionID, &a.Type, &a.FilePath, &a.FileSize, &a.DurationMs,
		&a.Format, &a.SampleRate, &a.Provider, &a.Transcript, &a.LatencyMs, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get audio artifact: %w", err)
	}
	return a, nil
}
