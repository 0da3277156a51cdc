package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

type ctxKey struct{}

// LoginPath is where unauthenticated browsers are sent.
const LoginPath = "/login"

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session injected by Middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}

// Middleware is an HTTP middleware for authentication.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := m.Current(r)
		if err != nil {
			if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrSessionRevoked) {
				m.clear(w, r)
			}
			m.log.Debug("unauthenticated request", "path", r.URL.Path, "reason", err)
			RedirectToLogin(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}

// EndSession revokes s and clears its cookie, for handlers that learn from
// the ERP that the token is no longer accepted.
func (m *Manager) EndSession(w http.ResponseWriter, r *http.Request, s *Session) {
	if s == nil || s.Bearer {
		return
	}
	m.Revoke(s.ID)
	m.clear(w, r)
}

// RedirectToLogin answers htmx requests with HX-Redirect, API clients with a
// JSON 401 and browsers with a 302.
func RedirectToLogin(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Header.Get("HX-Request") == "true":
		w.Header().Set("HX-Redirect", LoginPath)
		w.WriteHeader(http.StatusUnauthorized)
	case ExtractTokenFromHeader(r) != "" || r.Header.Get("Accept") == "application/json":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "authentication required", "login": LoginPath})
	default:
		http.Redirect(w, r, LoginPath, http.StatusFound)
	}
}
