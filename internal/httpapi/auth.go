package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/voxbridge/voxbridge/internal/gateway"
	"github.com/voxbridge/voxbridge/internal/store"
)

// APIKeyHeader carries the plaintext API key on every authenticated request.
const APIKeyHeader = "X-API-Key"

// Principal is the authenticated caller attached to request contexts.
type Principal struct {
	TenantID string
	KeyID    string
	Role     store.Role
}

type principalKey struct{}

// PrincipalFrom extracts the authenticated principal from ctx.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// HashKey returns the hex SHA-256 digest under which a plaintext key is
// stored and looked up.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// newKey mints a plaintext API key. It returns the plaintext (shown to the
// caller exactly once), the display prefix kept for listings, and the hash
// that gets stored.
func newKey(prefix string) (plaintext, display, hash string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("httpapi: generate api key: %w", err)
	}
	plaintext = prefix + hex.EncodeToString(raw)
	display = plaintext[:len(prefix)+6]
	return plaintext, display, HashKey(plaintext), nil
}

// authenticate resolves the X-API-Key header to a principal. The plaintext
// is hashed immediately and never logged.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		plaintext := r.Header.Get(APIKeyHeader)
		if plaintext == "" {
			s.fail(w, r, gateway.New(gateway.CodeUnauthorized, "missing "+APIKeyHeader+" header"))
			return
		}

		key, err := s.store.GetAPIKeyByHash(r.Context(), HashKey(plaintext))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.fail(w, r, gateway.New(gateway.CodeUnauthorized, "unknown API key"))
				return
			}
			s.fail(w, r, fmt.Errorf("httpapi: look up api key: %w", err))
			return
		}
		if !key.Valid(s.now()) {
			s.fail(w, r, gateway.New(gateway.CodeUnauthorized, "API key is revoked or expired"))
			return
		}

		// Best-effort; a failed touch must not block the request.
		if err := s.store.TouchAPIKey(r.Context(), key.ID); err != nil {
			s.log.Debug("api key touch failed", "key_id", key.ID, "error", err)
		}

		p := &Principal{TenantID: key.TenantID, KeyID: key.ID, Role: key.Role}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

// requireAdmin guards write endpoints behind the ADMIN role.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			s.fail(w, r, gateway.New(gateway.CodeUnauthorized, "authentication required"))
			return
		}
		if p.Role != store.RoleAdmin {
			s.fail(w, r, gateway.New(gateway.CodeForbidden, "this operation requires the ADMIN role"))
			return
		}
		next(w, r)
	}
}
