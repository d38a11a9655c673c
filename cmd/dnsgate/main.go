// dnsgate is a policy-enforcing front end for dynamic DNS updates. It
// authenticates users, checks every requested change against the allowed
// domains and subnets, and applies accepted changes through a per-user
// backend session that records each user's history.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/thejerf/suture/v4"

	"gitlab.bluewillows.net/root/dnsgate/internal/auth"
	"gitlab.bluewillows.net/root/dnsgate/internal/config"
	"gitlab.bluewillows.net/root/dnsgate/internal/health"
	"gitlab.bluewillows.net/root/dnsgate/internal/metrics"
	"gitlab.bluewillows.net/root/dnsgate/internal/orchestrator"
	"gitlab.bluewillows.net/root/dnsgate/internal/policy"
	"gitlab.bluewillows.net/root/dnsgate/internal/session"
	"gitlab.bluewillows.net/root/dnsgate/internal/web"
	"gitlab.bluewillows.net/root/dnsgate/pkg/backend"
	"gitlab.bluewillows.net/root/dnsgate/pkg/history"
	"gitlab.bluewillows.net/root/dnsgate/providers/memory"
	"gitlab.bluewillows.net/root/dnsgate/providers/rfc2136"
)

// Version and BuildDate are set via ldflags during build.
// Example: -ldflags="-X main.Version=v1.0.0 -X main.BuildDate=2026-10-01"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	metrics.SetBuildInfo(Version, runtime.Version())

	guard, err := policy.New(cfg.PolicySettings())
	if err != nil {
		return fmt.Errorf("building allow-lists: %w", err)
	}

	logger.Info("dnsgate starting",
		slog.String("version", Version),
		slog.String("build_date", BuildDate),
		slog.String("go_version", runtime.Version()),
		slog.String("backend", cfg.Backend.Type),
		slog.String("forward_zone", guard.ForwardZone()),
		slog.Bool("unrestricted", guard.Unrestricted()),
	)

	verifier, err := auth.LoadFile(cfg.Auth.UsersFile)
	if err != nil {
		return fmt.Errorf("loading users: %w", err)
	}
	logger.Info("loaded users", slog.Int("count", len(verifier.Users())))

	store, err := newHistoryStore(cfg.History, logger)
	if err != nil {
		return fmt.Errorf("creating history store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing history store", slog.String("error", err.Error()))
		}
	}()

	provider, err := backends().Build(cfg.Backend.Type, backend.BuildConfig{
		Settings: cfg.BackendSettings(),
		History:  store,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sessions := session.New(provider.Factory,
		session.WithLogger(logger),
		session.WithIdleTimeout(cfg.Sessions.IdleTimeout),
	)
	defer func() {
		if err := sessions.Close(); err != nil {
			logger.Warn("closing sessions", slog.String("error", err.Error()))
		}
	}()

	orch := orchestrator.New(guard, sessions,
		orchestrator.WithLogger(logger),
		orchestrator.WithTimeout(cfg.Backend.Timeout),
		orchestrator.WithResolver(provider.Resolver),
	)

	webOpts := []web.Option{
		web.WithLogger(logger),
		web.WithAddr(cfg.Server.Listen),
		web.WithCSRFKey([]byte(cfg.Server.CSRFKey)),
	}
	if cfg.Server.TLS() {
		webOpts = append(webOpts, web.WithTLS(cfg.Server.TLSCert, cfg.Server.TLSKey))
	}
	webServer, err := web.New(orch, auth.NewMiddleware(verifier, auth.WithLogger(logger)), webOpts...)
	if err != nil {
		return fmt.Errorf("creating web server: %w", err)
	}

	healthServer := health.New(cfg.Server.HealthPort, health.WithLogger(logger))
	if provider.Ping != nil {
		healthServer.RegisterChecker("backend:"+cfg.Backend.Type, provider.Ping)
	}
	healthServer.RegisterDegradedChecker("history:"+cfg.History.Store, store.Ping)

	supervisor := suture.New("dnsgate", suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.Error("supervisor event", slog.String("event", ev.String()))
		},
	})
	supervisor.Add(webServer)
	supervisor.Add(healthServer)
	if cfg.Sessions.IdleTimeout > 0 {
		supervisor.Add(sessions.Janitor())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("dnsgate initialized",
		slog.String("listen", cfg.Server.Listen),
		slog.Int("health_port", cfg.Server.HealthPort),
		slog.Duration("session_idle_timeout", cfg.Sessions.IdleTimeout),
	)

	err = supervisor.Serve(ctx)
	logger.Info("shutting down", slog.Int("sessions", sessions.Len()))
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}

	logger.Info("dnsgate shutdown complete")
	return nil
}

// backends returns the registry of every compiled-in backend type.
func backends() *backend.Registry {
	r := backend.NewRegistry()
	r.Register(rfc2136.TypeName, rfc2136.Builder)
	r.Register(memory.TypeName, memory.Builder)
	return r
}

func newHistoryStore(cfg config.HistoryConfig, logger *slog.Logger) (history.Store, error) {
	switch cfg.Store {
	case "redis":
		return history.NewRedis(history.RedisConfig{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Limit:    cfg.Limit,
		}, history.WithLogger(logger))
	case "memory", "":
		return history.NewMemory(cfg.Limit), nil
	default:
		return nil, fmt.Errorf("unknown history store %q", cfg.Store)
	}
}

// setupLogger builds the process logger. When a log file is configured the
// output also goes to it; the returned func closes the file.
func setupLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	var (
		out     io.Writer = os.Stdout
		closeFn           = func() {}
	)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closeFn = func() { _ = f.Close() }
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler), closeFn, nil
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
