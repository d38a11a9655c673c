package auth

import (
	"fmt"
	"log/slog"
	"net/http"
)

// DefaultRealm is sent in Basic authentication challenges.
const DefaultRealm = "dnsgate"

// Middleware authenticates requests with HTTP Basic credentials.
type Middleware struct {
	verifier Verifier
	realm    string
	logger   *slog.Logger
}

// MiddlewareOption is a functional option for configuring Middleware.
type MiddlewareOption func(*Middleware)

// WithRealm sets the realm sent in challenges.
func WithRealm(realm string) MiddlewareOption {
	return func(m *Middleware) {
		if realm != "" {
			m.realm = realm
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) MiddlewareOption {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMiddleware creates Middleware backed by verifier.
func NewMiddleware(verifier Verifier, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		verifier: verifier,
		realm:    DefaultRealm,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Require rejects requests without valid credentials with a 401 challenge.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := m.authenticate(r)
		if !ok {
			m.challenge(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// Identify attaches the user when valid credentials are present and lets
// every request through.
func (m *Middleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := m.authenticate(r); ok {
			r = r.WithContext(WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) authenticate(r *http.Request) (string, bool) {
	user, password, ok := r.BasicAuth()
	if !ok || user == "" {
		return "", false
	}
	if !m.verifier.Verify(r.Context(), user, password) {
		m.logger.Warn("authentication failed",
			slog.String("user", user),
			slog.String("remote_addr", r.RemoteAddr),
		)
		return "", false
	}
	return user, true
}

func (m *Middleware) challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", m.realm))
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
