package server

import (
	"errors"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/chatrelay/internal/broadcast"
	apperrors "github.com/pscheid92/chatrelay/internal/platform/errors"
)

// handleWebSocket admits the client against the connection limits, completes the
// handshake and hands the raw stream to the relay. It blocks until the connection is gone.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()
	if ok, reason := s.limits.Acquire(ip); !ok {
		s.metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		return limitError(reason)
	}
	defer s.limits.Release(ip)

	ctx := c.Request().Context()
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		slog.DebugContext(ctx, "WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}

	err = s.relay.ServeConn(ctx, conn.NetConn())
	switch {
	case errors.Is(err, broadcast.ErrStopped):
		slog.DebugContext(ctx, "Connection refused, relay stopped", "remote_ip", ip)
	case err != nil:
		slog.DebugContext(ctx, "Connection ended", "remote_ip", ip, "reason", err)
	default:
		slog.DebugContext(ctx, "Connection closed", "remote_ip", ip)
	}
	return nil
}

func limitError(reason LimitReason) *apperrors.Error {
	if reason == LimitReasonGlobal {
		return apperrors.UnavailableError("server at connection capacity", nil).
			WithContext("reason", string(reason))
	}
	return apperrors.RateLimitedError("too many connections").
		WithContext("reason", string(reason))
}
