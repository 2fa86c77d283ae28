package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/chatrelay/internal/broadcast"
	"github.com/pscheid92/chatrelay/internal/metrics"
	"github.com/pscheid92/chatrelay/internal/platform/config"
)

const upgradeHandshakeTimeout = 10 * time.Second

type Server struct {
	echo   *echo.Echo
	config *config.Config

	relay    broadcast.Relay
	limits   *ConnectionLimits
	upgrader websocket.Upgrader

	metrics      *metrics.HTTPMetrics
	registry     *prometheus.Registry
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, relay broadcast.Relay, reg *prometheus.Registry, httpMetrics *metrics.HTTPMetrics, clock clockwork.Clock, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:   e,
		config: cfg,
		relay:  relay,
		limits: NewConnectionLimits(clock, int64(cfg.MaxConnections), cfg.MaxConnectionsPerIP, cfg.ConnectRate, cfg.ConnectBurst),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: upgradeHandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin:      NewCheckOrigin(cfg.Origins(), cfg.AppEnv != "production"),
		},
		metrics:      httpMetrics,
		registry:     reg,
		healthChecks: healthChecks,
		startTime:    clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Start blocks serving HTTP until Shutdown; it returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port, "relay_mode", s.config.RelayMode)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests. Upgraded connections are hijacked and not waited for;
// they end when the relay stops.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
