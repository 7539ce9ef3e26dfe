package httpapi

import (
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/voxbridge/voxbridge/internal/gateway"
	"github.com/voxbridge/voxbridge/internal/store"
)

type voiceTranscriptRequest struct {
	Transcript string `json:"transcript" validate:"required,max=32768"`

	// ArtifactID optionally links the turn to audio stored beforehand via
	// the store-audio endpoint.
	ArtifactID string `json:"artifactId"`
}

// handleVoiceTranscript runs an already-transcribed voice turn through the
// regular message pipeline. Speech-to-text happens upstream; the gateway
// only carries text and the optional audio linkage.
func (s *Server) handleVoiceTranscript(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	sessionID := mux.Vars(r)["id"]

	var req voiceTranscriptRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.ArtifactID != "" {
		if _, err := s.store.GetSession(r.Context(), p.TenantID, sessionID); err != nil {
			s.fail(w, r, notFoundAs(err, "session"))
			return
		}
		if _, err := s.store.GetAudioArtifact(r.Context(), sessionID, req.ArtifactID); err != nil {
			s.fail(w, r, notFoundAs(err, "audio artifact"))
			return
		}
	}

	s.runTurn(w, r, req.Transcript, req.ArtifactID)
}

type storeAudioRequest struct {
	AudioBase64 string `json:"audioBase64" validate:"required"`
	Format      string `json:"format" validate:"omitempty,oneof=wav mp3 ogg opus flac"`
	SampleRate  int    `json:"sampleRate" validate:"gte=0"`
	DurationMs  int64  `json:"durationMs" validate:"gte=0"`
	Type        string `json:"type" validate:"omitempty,oneof=USER_INPUT ASSISTANT_OUTPUT"`
	Transcript  string `json:"transcript"`
	Provider    string `json:"provider"`
	LatencyMs   int64  `json:"latencyMs" validate:"gte=0"`
}

// handleStoreAudio decodes the uploaded audio, writes it under the
// configured storage directory, and records the artifact row.
func (s *Server) handleStoreAudio(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	sessionID := mux.Vars(r)["id"]

	if s.cfg.AudioDir == "" {
		s.fail(w, r, gateway.New(gateway.CodeValidation, "audio storage is not enabled on this deployment"))
		return
	}

	var req storeAudioRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.store.GetSession(r.Context(), p.TenantID, sessionID); err != nil {
		s.fail(w, r, notFoundAs(err, "session"))
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		s.fail(w, r, gateway.Wrap(gateway.CodeValidation, "audioBase64 is not valid base64", err))
		return
	}

	format := req.Format
	if format == "" {
		format = "wav"
	}
	artifactType := store.ArtifactType(req.Type)
	if artifactType == "" {
		artifactType = store.ArtifactUserInput
	}

	dir := filepath.Join(s.cfg.AudioDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.fail(w, r, err)
		return
	}
	path := filepath.Join(dir, uuid.NewString()+"."+format)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.fail(w, r, err)
		return
	}

	artifact, err := s.store.InsertAudioArtifact(r.Context(), &store.AudioArtifact{
		SessionID:  sessionID,
		Type:       artifactType,
		FilePath:   path,
		FileSize:   int64(len(data)),
		DurationMs: req.DurationMs,
		Format:     format,
		SampleRate: req.SampleRate,
		Provider:   req.Provider,
		Transcript: req.Transcript,
		LatencyMs:  req.LatencyMs,
	})
	if err != nil {
		// The row is the source of truth; don't leave the file orphaned.
		if rmErr := os.Remove(path); rmErr != nil {
			s.log.Warn("orphaned audio file cleanup failed", "path", path, "error", rmErr)
		}
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, toArtifactView(artifact))
}

// loadArtifact resolves a tenant-scoped artifact from the route variables.
func (s *Server) loadArtifact(r *http.Request) (*store.AudioArtifact, error) {
	p, _ := PrincipalFrom(r.Context())
	vars := mux.Vars(r)
	sessionID := vars["id"]

	if _, err := s.store.GetSession(r.Context(), p.TenantID, sessionID); err != nil {
		return nil, notFoundAs(err, "session")
	}
	artifact, err := s.store.GetAudioArtifact(r.Context(), sessionID, vars["artifactId"])
	if err != nil {
		return nil, notFoundAs(err, "audio artifact")
	}
	return artifact, nil
}

// handleGetArtifact streams the stored audio bytes.
func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.loadArtifact(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/"+artifact.Format)
	http.ServeFile(w, r, artifact.FilePath)
}

func (s *Server) handleArtifactMetadata(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.loadArtifact(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, toArtifactView(artifact))
}
