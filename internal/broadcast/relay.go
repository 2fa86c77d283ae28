package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/chatrelay/internal/frame"
	"github.com/pscheid92/chatrelay/internal/metrics"
)

var (
	// ErrPeerClosed is returned by the reader loop when the peer closed the stream without a close frame.
	ErrPeerClosed = errors.New("connection closed by remote")
	// ErrRecipientGone is returned when enqueueing to a connection whose writer loop already exited.
	ErrRecipientGone = errors.New("recipient gone")
	// ErrQueueClosed is returned when enqueueing after the producer side was closed.
	ErrQueueClosed = errors.New("outbound queue closed")
	// ErrSlowConsumer is returned when an outbound queue overflowed and its connection is being evicted.
	ErrSlowConsumer = errors.New("slow consumer evicted")
	// ErrStopped is returned once the relay no longer accepts connections or events.
	ErrStopped = errors.New("relay stopped")
)

const (
	defaultReadBufferSize = 4096
	defaultStopTimeout    = 10 * time.Second
	commandTimeout        = 5 * time.Second
	writeBufferSize       = 4096
)

// Relay is implemented by both brokers.
type Relay interface {
	// ServeConn runs the reader and writer loops of one upgraded stream and blocks until
	// the connection is torn down. The returned error describes why the reader stopped.
	ServeConn(ctx context.Context, stream net.Conn) error
	// Inject broadcasts an encoded frame that originated on another instance.
	Inject(payload []byte) error
	// ClientCount returns the number of registered connections, or -1 if unavailable.
	ClientCount() int
	// Stop sends every client a going-away close frame and waits for teardown.
	Stop()
}

// Forwarder receives broadcasts that originated on this instance. Forward must not block.
type Forwarder interface {
	Forward(payload []byte)
}

// Config holds the tunables shared by both brokers.
type Config struct {
	ReadBufferSize int
	MaxMessageSize int
	// QueueSize bounds each outbound queue; zero means unbounded.
	QueueSize    int
	WriteTimeout time.Duration
	StopTimeout  time.Duration
	Clock        clockwork.Clock
	Metrics      *metrics.RelayMetrics
	Forwarder    Forwarder
}

func (c Config) withDefaults() Config {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaultReadBufferSize
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewRelayMetrics(prometheus.NewRegistry())
	}
	return c
}

func goingAwayFrame() []byte {
	return frame.CloseFrame(ws.StatusGoingAway, "server shutting down")
}

// deliver enqueues payload for one connection. Failures are logged and counted, never returned.
func deliver(id uuid.UUID, q *outbox, payload []byte, m *metrics.RelayMetrics) {
	err := q.push(payload)
	switch {
	case err == nil:
		m.DeliveriesTotal.WithLabelValues(metrics.DeliveryOK).Inc()
	case errors.Is(err, ErrSlowConsumer):
		m.DeliveriesTotal.WithLabelValues(metrics.DeliverySlow).Inc()
		slog.Warn("Evicting slow client", "connection_id", id.String())
	default:
		m.DeliveriesTotal.WithLabelValues(metrics.DeliveryGone).Inc()
		slog.Debug("Failed sending to client", "connection_id", id.String(), "error", err)
	}
}

func eventKind(msg Message) string {
	switch {
	case msg.Relayed:
		return "relayed"
	case msg.To.IsAll():
		return "broadcast"
	default:
		return "direct"
	}
}

func teardownReason(err error) string {
	var perr *frame.ProtocolError
	switch {
	case err == nil:
		return "close"
	case errors.Is(err, ErrPeerClosed):
		return "peer_closed"
	case errors.Is(err, ErrStopped), errors.Is(err, net.ErrClosed):
		return "shutdown"
	case errors.As(err, &perr):
		return "protocol"
	default:
		return "read_error"
	}
}
