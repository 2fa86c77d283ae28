package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/chatrelay/internal/broadcast"
	"github.com/pscheid92/chatrelay/internal/metrics"
	"github.com/pscheid92/chatrelay/internal/platform/config"
	"github.com/pscheid92/chatrelay/internal/platform/logging"
	"github.com/pscheid92/chatrelay/internal/platform/version"
	"github.com/pscheid92/chatrelay/internal/redis"
	"github.com/pscheid92/chatrelay/internal/server"
	goredis "github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout   = 10 * time.Second
	heartbeatInterval = 15 * time.Second
)

// runGracefulShutdown stops the HTTP server and the relay on SIGINT/SIGTERM, then runs
// cleanups in order.
func runGracefulShutdown(srv *server.Server, relay broadcast.Relay, cleanups ...func()) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Clients get a going-away close frame before the bridge stops injecting.
		relay.Stop()
		for _, cleanup := range cleanups {
			cleanup()
		}

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config, m *metrics.RedisMetrics) *goredis.Client {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL, m)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func newRelay(cfg *config.Config, bcfg broadcast.Config) broadcast.Relay {
	if cfg.RelayMode == config.ModeShared {
		return broadcast.NewSharedBroadcaster(bcfg)
	}
	return broadcast.NewBroadcaster(bcfg)
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	reg := metrics.NewRegistry()
	ctx := context.Background()

	relayCfg := broadcast.Config{
		ReadBufferSize: cfg.ReadBufferSize,
		MaxMessageSize: cfg.MaxMessageSize,
		QueueSize:      cfg.QueueSize,
		WriteTimeout:   cfg.WriteTimeout,
		StopTimeout:    cfg.StopTimeout,
		Clock:          clock,
		Metrics:        metrics.NewRelayMetrics(reg),
	}

	var (
		redisClient  *goredis.Client
		redisMetrics *metrics.RedisMetrics
		bridge       *redis.Bridge
		healthChecks []server.HealthCheck
		cleanups     []func()
	)
	if cfg.BridgeEnabled() {
		redisMetrics = metrics.NewRedisMetrics(reg)
		redisClient = setupRedis(ctx, cfg, redisMetrics)
		defer func() { _ = redisClient.Close() }()

		bridge = redis.NewBridge(redisClient, redis.BridgeConfig{Channel: cfg.RedisChannel}, redisMetrics)
		relayCfg.Forwarder = bridge
		healthChecks = append(healthChecks, server.HealthCheck{Name: "redis", Check: bridge.Ping})
	}

	relay := newRelay(cfg, relayCfg)
	healthChecks = append(healthChecks, server.HealthCheck{Name: "relay", Check: func(context.Context) error {
		if relay.ClientCount() < 0 {
			return broadcast.ErrStopped
		}
		return nil
	}})

	if bridge != nil {
		bridge.Start(ctx, relay)
		slog.Info("Redis bridge started", "channel", cfg.RedisChannel, "origin", bridge.Origin())
		cleanups = append(cleanups, bridge.Close)

		instances := redis.NewInstanceRegistry(redisClient, clock, redis.InstanceRegistryConfig{
			InstanceID: bridge.Origin(),
			Version:    version.Version,
			Mode:       cfg.RelayMode,
			Heartbeat:  heartbeatInterval,
			Clients:    relay.ClientCount,
		}, redisMetrics)
		heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
		heartbeatDone := make(chan struct{})
		go func() {
			defer close(heartbeatDone)
			instances.Start(heartbeatCtx)
		}()
		cleanups = append(cleanups, func() {
			stopHeartbeat()
			<-heartbeatDone
		})
	}

	srv := server.NewServer(cfg, relay, reg, metrics.NewHTTPMetrics(reg), clock, healthChecks)

	done := runGracefulShutdown(srv, relay, cleanups...)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
