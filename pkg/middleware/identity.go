package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/platinummonkey/trellis/pkg/identity"
	"github.com/platinummonkey/trellis/pkg/observability"
)

// IdentityMiddleware authenticates requests with bearer ID tokens
type IdentityMiddleware struct {
	verifier identity.Verifier
	logger   *observability.Logger
}

// NewIdentityMiddleware creates the authentication middleware
func NewIdentityMiddleware(verifier identity.Verifier, logger *observability.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{verifier: verifier, logger: logger}
}

// Handler wraps an HTTP handler with authentication
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			writeError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		id, err := m.verifier.Verify(r.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			if m.logger != nil {
				m.logger.WithError(err).Debug("token verification failed")
			}
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.NewContext(r.Context(), id)))
	})
}

// RequireSuperuser rejects callers that are not platform superusers
func RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !id.Superuser {
			writeError(w, http.StatusForbidden, "superuser required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
