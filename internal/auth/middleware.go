package auth

import (
	"net/http"
	"strings"
)

// Middleware rejects requests without a valid bearer token.
type Middleware struct {
	secret []byte
	scope  string
}

// NewMiddleware constructs a middleware requiring scope.
func NewMiddleware(secret []byte, scope string) *Middleware {
	return &Middleware{secret: secret, scope: scope}
}

// Wrap guards next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := ParseJWT(token, m.secret, m.scope); err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
