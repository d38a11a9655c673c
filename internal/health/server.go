// Package health serves liveness, readiness and Prometheus metrics on a
// separate port from the change API.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc/pool"
)

// Health status values.
const (
	StatusHealthy  = "healthy"
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// DefaultTimeout bounds a full /ready evaluation.
const DefaultTimeout = 5 * time.Second

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

// ComponentStatus is the result of one checker.
type ComponentStatus struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Error    string `json:"error,omitempty"`
}

// Response is the JSON body of /health and /ready.
type Response struct {
	Status     string            `json:"status"`
	Components []ComponentStatus `json:"components,omitempty"`
}

type check struct {
	fn       Checker
	critical bool
}

// Server provides /health, /ready, and /metrics endpoints.
type Server struct {
	addr    string
	mux     *http.ServeMux
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]check
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTimeout sets the timeout for a readiness evaluation.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.timeout = timeout
	}
}

// New creates a health server listening on port.
func New(port int, opts ...Option) *Server {
	s := &Server{
		addr:    fmt.Sprintf(":%d", port),
		mux:     http.NewServeMux(),
		logger:  slog.Default(),
		timeout: DefaultTimeout,
		checks:  make(map[string]check),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

// RegisterChecker adds a critical check. A failing critical check makes
// /ready answer 503.
func (s *Server) RegisterChecker(name string, fn Checker) {
	s.register(name, check{fn: fn, critical: true})
}

// RegisterDegradedChecker adds a non-critical check. A failure is reported
// as degraded but /ready still answers 200.
func (s *Server) RegisterDegradedChecker(name string, fn Checker) {
	s.register(name, check{fn: fn})
}

func (s *Server) register(name string, c check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
	s.logger.Debug("registered health checker",
		slog.String("name", name),
		slog.Bool("critical", c.critical),
	)
}

// Handler returns the endpoint mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Response{Status: StatusHealthy})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	components := s.evaluate(ctx)

	resp := Response{Status: StatusReady, Components: components}
	code := http.StatusOK
	for _, c := range components {
		if c.Healthy {
			continue
		}
		if c.Critical {
			resp.Status = StatusNotReady
			code = http.StatusServiceUnavailable
			break
		}
		resp.Status = StatusDegraded
	}
	writeJSON(w, code, resp)
}

// evaluate runs every registered check concurrently.
func (s *Server) evaluate(ctx context.Context) []ComponentStatus {
	s.mu.RLock()
	checks := make(map[string]check, len(s.checks))
	for name, c := range s.checks {
		checks[name] = c
	}
	s.mu.RUnlock()

	var (
		mu         sync.Mutex
		components = make([]ComponentStatus, 0, len(checks))
	)
	p := pool.New().WithContext(ctx)
	for name, c := range checks {
		p.Go(func(ctx context.Context) error {
			status := ComponentStatus{Name: name, Healthy: true, Critical: c.critical}
			if err := c.fn(ctx); err != nil {
				status.Healthy = false
				status.Error = err.Error()
				s.logger.Warn("health check failed",
					slog.String("component", name),
					slog.Bool("critical", c.critical),
					slog.String("error", err.Error()),
				)
			}
			mu.Lock()
			components = append(components, status)
			mu.Unlock()
			return nil
		})
	}
	_ = p.Wait()

	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })
	return components
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve listens until ctx is cancelled. It implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health listener: %w", err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("health server starting", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("health server shutdown", slog.String("error", err.Error()))
		}
		return ctx.Err()
	}
}

// String names the service in supervisor logs.
func (s *Server) String() string {
	return "health-server"
}
