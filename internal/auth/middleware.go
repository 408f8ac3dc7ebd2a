package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"feedflow/internal/core"
)

// Middleware guards the trigger endpoints with a shared bearer secret
type Middleware struct {
	secret []byte
	logger *core.Logger
}

// NewMiddleware creates new authentication middleware. An empty secret
// rejects every protected request.
func NewMiddleware(secret string, logger *core.Logger) *Middleware {
	if secret == "" {
		logger.Warn("No cron secret configured, protected routes will reject all requests")
	}
	return &Middleware{
		secret: []byte(secret),
		logger: logger,
	}
}

// RequireSecret rejects requests whose Authorization header does not carry
// the shared secret as a bearer token.
func (m *Middleware) RequireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Add Vary header for caching
		w.Header().Add("Vary", "Authorization")

		authorizationHeader := r.Header.Get("Authorization")
		if authorizationHeader == "" {
			m.authenticationRequiredResponse(w, r)
			return
		}

		// Parse Bearer token
		headerParts := strings.Split(authorizationHeader, " ")
		if len(headerParts) != 2 || headerParts[0] != "Bearer" {
			m.invalidAuthenticationTokenResponse(w, r)
			return
		}

		if len(m.secret) == 0 || subtle.ConstantTimeCompare([]byte(headerParts[1]), m.secret) != 1 {
			m.logger.WithContext(r.Context()).Warn("Rejected request with invalid secret", "path", r.URL.Path, "remote", r.RemoteAddr)
			m.invalidAuthenticationTokenResponse(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Response helpers
func (m *Middleware) invalidAuthenticationTokenResponse(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	core.WriteErrorResponse(w, http.StatusUnauthorized, core.NewUnauthorizedError("Invalid authentication token", nil))
}

func (m *Middleware) authenticationRequiredResponse(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	core.WriteErrorResponse(w, http.StatusUnauthorized, core.NewUnauthorizedError("Authentication required", nil))
}
