package app

import (
	"context"
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/campusmesh/internal/auth"
	"github.com/vovakirdan/campusmesh/internal/config"
	"github.com/vovakirdan/campusmesh/internal/core"
	"github.com/vovakirdan/campusmesh/internal/metrics"
	transporthttp "github.com/vovakirdan/campusmesh/internal/transport/http"
)

const tokenTTL = 24 * time.Hour

// App wires together the relay hub and its HTTP transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	log             *zerolog.Logger
}

// JWTConfig derives token settings from relay configuration.
func JWTConfig(cfg config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      tokenTTL,
	}
}

// New constructs the relay with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if cfg.JWTRequired && cfg.JWTSecret == "" {
		return nil, errors.New("jwt_required is set but jwt_secret is empty")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []core.Option{
		core.WithMetrics(metrics.NewRelay(reg)),
		core.WithStatusInterval(cfg.StatusInterval),
	}
	if cfg.JWTSecret != "" {
		verifier := auth.NewVerifier(JWTConfig(cfg), cfg.JWTRequired)
		opts = append(opts, core.WithAuthenticator(func(token string, id core.Identity) error {
			return verifier.Verify(token, id.UserID)
		}))
		logger.Info().Bool("required", cfg.JWTRequired).Msg("token verification enabled")
	}

	hub := core.NewHub(logger, opts...)
	server := transporthttp.NewServer(hub, cfg, logger, reg)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go a.hub.Run(hubCtx)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("relay listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-serverErr
	}
}
