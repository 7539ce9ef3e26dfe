package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/voxbridge/voxbridge/internal/gateway"
	"github.com/voxbridge/voxbridge/internal/store"
)

type createTenantRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email"`
}

type createTenantResponse struct {
	Tenant tenantView    `json:"tenant"`
	APIKey issuedKeyView `json:"apiKey"`
}

// handleCreateTenant bootstraps a tenant together with its first ADMIN key.
// The plaintext key appears in this response and nowhere else, ever.
func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	tenant, err := s.store.CreateTenant(r.Context(), req.Name, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			s.fail(w, r, gateway.New(gateway.CodeConflict, "a tenant with this email already exists"))
			return
		}
		s.fail(w, r, err)
		return
	}

	plaintext, display, hash, err := newKey(s.cfg.KeyPrefix)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	key, err := s.store.CreateAPIKey(r.Context(), tenant.ID, display, hash, store.RoleAdmin, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.respond(w, http.StatusCreated, createTenantResponse{
		Tenant: toTenantView(tenant),
		APIKey: issuedKeyView{apiKeyView: toAPIKeyView(key), Key: plaintext},
	})
}

func (s *Server) handleCurrentTenant(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	tenant, err := s.store.GetTenant(r.Context(), p.TenantID)
	if err != nil {
		s.fail(w, r, notFoundAs(err, "tenant"))
		return
	}
	s.respond(w, http.StatusOK, toTenantView(tenant))
}

type createKeyRequest struct {
	Role      string     `json:"role" validate:"omitempty,oneof=ADMIN ANALYST"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req createKeyRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	role := store.Role(req.Role)
	if role == "" {
		role = store.RoleAnalyst
	}

	plaintext, display, hash, err := newKey(s.cfg.KeyPrefix)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	key, err := s.store.CreateAPIKey(r.Context(), p.TenantID, display, hash, role, req.ExpiresAt)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, issuedKeyView{apiKeyView: toAPIKeyView(key), Key: plaintext})
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	keys, err := s.store.ListAPIKeys(r.Context(), p.TenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]apiKeyView, len(keys))
	for i := range keys {
		views[i] = toAPIKeyView(&keys[i])
	}
	s.respond(w, http.StatusOK, views)
}

func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	keyID := mux.Vars(r)["id"]
	if err := s.store.RevokeAPIKey(r.Context(), p.TenantID, keyID); err != nil {
		s.fail(w, r, notFoundAs(err, "API key"))
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}

// handleRotateAPIKey revokes the key and issues a replacement with the same
// role and expiry. The new plaintext is shown exactly once.
func (s *Server) handleRotateAPIKey(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	keyID := mux.Vars(r)["id"]

	plaintext, display, hash, err := newKey(s.cfg.KeyPrefix)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	key, err := s.store.RotateAPIKey(r.Context(), p.TenantID, keyID, display, hash)
	if err != nil {
		s.fail(w, r, notFoundAs(err, "API key"))
		return
	}
	s.respond(w, http.StatusOK, issuedKeyView{apiKeyView: toAPIKeyView(key), Key: plaintext})
}
