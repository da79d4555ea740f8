package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"queuematic/internal/models"
	"queuematic/internal/store"
)

type authContextKey struct{}

// AuthMiddleware resolves the bearer token to a login session and puts the
// identity in the request context. Customer and display surfaces stay
// public; everything else needs a session.
func AuthMiddleware(s store.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := sessionTokenFromRequest(r)
		if token == "" {
			writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := s.GetAuthSession(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrSessionNotFound):
				writeError(w, "", http.StatusUnauthorized, "unauthorized", "invalid session")
			case errors.Is(err, store.ErrAuthSessionExpired):
				writeError(w, "", http.StatusUnauthorized, "session_expired", "login session expired")
			default:
				writeError(w, "", http.StatusInternalServerError, "internal_error", "internal server error")
			}
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authFromContext(ctx context.Context) (models.AuthSession, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return models.AuthSession{}, false
	}
	session, ok := value.(models.AuthSession)
	return session, ok
}

func sessionTokenFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch {
	case r.URL.Path == "/healthz", r.URL.Path == "/metrics", r.URL.Path == "/api/login":
		return true
	case r.URL.Path == "/api/tickets" && r.Method == http.MethodPost:
		return true
	case strings.HasPrefix(r.URL.Path, "/api/branches/"):
		return true
	case strings.HasPrefix(r.URL.Path, "/display"):
		return true
	default:
		return r.Method == http.MethodOptions
	}
}
