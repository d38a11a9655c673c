// Package web exposes the change orchestrator over HTTP: a JSON API under
// /api and a small form-based UI.
package web

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"

	"gitlab.bluewillows.net/root/dnsgate/internal/auth"
	"gitlab.bluewillows.net/root/dnsgate/internal/orchestrator"
)

// DefaultAddr is used when no listen address is configured.
const DefaultAddr = ":5353"

// Server routes API and UI requests to an Orchestrator.
type Server struct {
	orch   *orchestrator.Orchestrator
	auth   *auth.Middleware
	logger *slog.Logger
	pages  *pages

	addr    string
	tlsCert string
	tlsKey  string
	csrfKey []byte

	protect mux.MiddlewareFunc
	router  *mux.Router
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithTLS serves HTTPS with the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.tlsCert = certFile
		s.tlsKey = keyFile
	}
}

// WithCSRFKey sets the key that signs form UI tokens. Without it a random
// key is generated, and pages served before a restart can no longer be
// submitted.
func WithCSRFKey(key []byte) Option {
	return func(s *Server) {
		if len(key) > 0 {
			s.csrfKey = key
		}
	}
}

// New creates a Server. Change and history routes require credentials
// checked by mw; search and index pages accept anonymous callers.
func New(orch *orchestrator.Orchestrator, mw *auth.Middleware, opts ...Option) (*Server, error) {
	s := &Server{
		orch:   orch,
		auth:   mw,
		logger: slog.Default(),
		addr:   DefaultAddr,
	}
	for _, opt := range opts {
		opt(s)
	}

	p, err := loadPages()
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	s.pages = p

	if len(s.csrfKey) == 0 {
		s.csrfKey = make([]byte, 32)
		if _, err := rand.Read(s.csrfKey); err != nil {
			return nil, fmt.Errorf("generating csrf key: %w", err)
		}
	}
	s.protect = s.csrfMiddleware()

	s.router = mux.NewRouter()
	s.router.Use(s.observe)
	s.routeAPI(s.router.PathPrefix("/api").Subrouter())
	s.routeUI(s.router)
	return s, nil
}

// csrfMiddleware requires a valid token on every unsafe UI request. Without
// TLS the request is marked plaintext, which skips the https-only Referer
// check.
func (s *Server) csrfMiddleware() mux.MiddlewareFunc {
	secure := s.tlsCert != ""
	protect := csrf.Protect(s.csrfKey,
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteStrictMode),
		csrf.ErrorHandler(http.HandlerFunc(s.csrfFailure)),
	)
	return func(next http.Handler) http.Handler {
		h := protect(next)
		if secure {
			return h
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
		})
	}
}

func (s *Server) csrfFailure(w http.ResponseWriter, r *http.Request) {
	reason := "missing token"
	if err := csrf.FailureReason(r); err != nil {
		reason = err.Error()
	}
	s.logger.Warn("rejected form submission",
		slog.String("path", r.URL.Path),
		slog.String("origin", r.Header.Get("Origin")),
		slog.String("reason", reason),
	)
	v := s.view(r, "Error")
	v.Error = errorMessage(errFormRejected)
	s.render(w, http.StatusForbidden, pageError, v)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens until ctx is cancelled. It implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("web listener: %w", err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server starting",
			slog.String("addr", ln.Addr().String()),
			slog.Bool("tls", s.tlsCert != ""),
		)
		if s.tlsCert != "" {
			errCh <- srv.ServeTLS(ln, s.tlsCert, s.tlsKey)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("web server shutdown", slog.String("error", err.Error()))
		}
		return ctx.Err()
	}
}

// String names the service in supervisor logs.
func (s *Server) String() string {
	return "web-server"
}

var errFormRejected = errors.New("the form was not submitted from this site or has expired, reload it and try again")

// errorMessage is the text shown for any failed request.
func errorMessage(err error) string {
	return "Error: " + err.Error()
}
