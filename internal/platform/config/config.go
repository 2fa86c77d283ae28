package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	ModeActor  = "actor"
	ModeShared = "shared"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"7878"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	RelayMode      string        `env:"RELAY_MODE" default:"actor"`
	ReadBufferSize int           `env:"READ_BUFFER_SIZE" default:"4096"`
	MaxMessageSize int           `env:"MAX_MESSAGE_SIZE" default:"1048576"`
	QueueSize      int           `env:"OUTBOUND_QUEUE_SIZE" default:"0"` // 0 = unbounded
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" default:"0s"`      // 0 disables
	StopTimeout    time.Duration `env:"STOP_TIMEOUT" default:"10s"`

	MaxConnections      int     `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectRate         float64 `env:"CONNECT_RATE" default:"10"`
	ConnectBurst        int     `env:"CONNECT_BURST" default:"20"`

	// AllowedOrigins is a comma separated list of browser origins; empty allows any origin.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"REDIS_CHANNEL" default:"chatrelay:broadcast"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Origins returns the parsed ALLOWED_ORIGINS list.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// BridgeEnabled reports whether cross-instance fan-out through Redis is configured.
func (c *Config) BridgeEnabled() bool {
	return c.RedisURL != ""
}

func validate(cfg *Config) error {
	if cfg.RelayMode != ModeActor && cfg.RelayMode != ModeShared {
		return fmt.Errorf("RELAY_MODE must be %q or %q, got %q", ModeActor, ModeShared, cfg.RelayMode)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"READ_BUFFER_SIZE", cfg.ReadBufferSize},
		{"MAX_MESSAGE_SIZE", cfg.MaxMessageSize},
		{"MAX_CONNECTIONS", cfg.MaxConnections},
		{"MAX_CONNECTIONS_PER_IP", cfg.MaxConnectionsPerIP},
		{"CONNECT_BURST", cfg.ConnectBurst},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if cfg.QueueSize < 0 {
		return errors.New("OUTBOUND_QUEUE_SIZE must not be negative")
	}
	if cfg.ConnectRate <= 0 {
		return errors.New("CONNECT_RATE must be positive")
	}
	if cfg.WriteTimeout < 0 {
		return errors.New("WRITE_TIMEOUT must not be negative")
	}
	if cfg.StopTimeout <= 0 {
		return errors.New("STOP_TIMEOUT must be positive")
	}

	if cfg.RedisURL != "" {
		u, err := url.Parse(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("REDIS_URL is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("REDIS_URL must use redis:// or rediss://, got %q", u.Scheme)
		}
		if cfg.AppEnv == "production" && u.Scheme != "rediss" && !isLoopback(u.Hostname()) {
			return errors.New("REDIS_URL must use rediss:// for remote hosts in production")
		}
		if cfg.RedisChannel == "" {
			return errors.New("REDIS_CHANNEL is required when REDIS_URL is set")
		}
	}

	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
