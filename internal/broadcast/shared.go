package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/chatrelay/internal/frame"
	"github.com/pscheid92/chatrelay/internal/platform/correlation"
)

// SharedBroadcaster is the lock-guarded relay. There is no broker goroutine: every reader
// dispatches its own messages while holding the read lock, and only registration and
// removal take the write lock.
type SharedBroadcaster struct {
	cfg Config

	mu      sync.RWMutex
	clients map[uuid.UUID]*registryEntry
	stopped bool

	// conns counts ServeConn calls that registered successfully.
	conns sync.WaitGroup
}

var _ Relay = (*SharedBroadcaster)(nil)

func NewSharedBroadcaster(cfg Config) *SharedBroadcaster {
	return &SharedBroadcaster{
		cfg:     cfg.withDefaults(),
		clients: make(map[uuid.UUID]*registryEntry),
	}
}

// ServeConn registers stream, reads in a second goroutine and writes in the calling one.
// It returns once both loops have exited and the entry is removed.
func (r *SharedBroadcaster) ServeConn(ctx context.Context, stream net.Conn) error {
	id := uuid.New()
	ctx = correlation.WithID(ctx, id.String())

	q, err := r.register(id, stream)
	if err != nil {
		_ = stream.Close()
		return err
	}
	defer r.conns.Done()
	slog.DebugContext(ctx, "Client registered", "remote_addr", stream.RemoteAddr().String())

	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	readDone := make(chan error, 1)
	go func() {
		err := readLoop(id, stream, r.cfg, r.Dispatch)
		if err != nil {
			slog.DebugContext(ctx, "Reader stopped", "error", err)
			_ = r.Dispatch(Message{Payload: frame.CloseFrameFor(err), To: To(id)})
		}
		readDone <- err
	}()

	if err := writeLoop(stream, q, r.cfg); err != nil {
		slog.DebugContext(ctx, "Writer stopped", "error", err)
	}
	r.disconnect(id)

	readErr := <-readDone
	r.cfg.Metrics.TeardownsTotal.WithLabelValues(teardownReason(readErr)).Inc()
	slog.DebugContext(ctx, "Client terminated")
	return readErr
}

func (r *SharedBroadcaster) register(id uuid.UUID, stream WriteStream) (*outbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil, ErrStopped
	}
	if _, exists := r.clients[id]; exists {
		return nil, fmt.Errorf("connection id %s already registered", id)
	}

	q := newOutbox(r.cfg.QueueSize)
	r.clients[id] = &registryEntry{queue: q, stream: stream}
	r.conns.Add(1)
	r.cfg.Metrics.ConnectionsTotal.Inc()
	r.cfg.Metrics.ConnectedClients.Set(float64(len(r.clients)))
	return q, nil
}

// Dispatch enqueues msg for its recipients under the read lock.
func (r *SharedBroadcaster) Dispatch(msg Message) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		return ErrStopped
	}
	r.cfg.Metrics.EventsTotal.WithLabelValues(eventKind(msg)).Inc()

	if !msg.To.IsAll() {
		if entry, ok := r.clients[msg.To.ID()]; ok {
			deliver(msg.To.ID(), entry.queue, msg.Payload, r.cfg.Metrics)
		}
		return nil
	}

	for id, entry := range r.clients {
		deliver(id, entry.queue, msg.Payload, r.cfg.Metrics)
	}
	if !msg.Relayed && r.cfg.Forwarder != nil {
		r.cfg.Forwarder.Forward(msg.Payload)
	}
	return nil
}

// disconnect removes id and reports whether it was present. Calling it again is a no-op.
func (r *SharedBroadcaster) disconnect(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.clients[id]
	if !ok {
		return false
	}
	delete(r.clients, id)
	entry.queue.close()
	r.cfg.Metrics.ConnectedClients.Set(float64(len(r.clients)))
	return true
}

func (r *SharedBroadcaster) Inject(payload []byte) error {
	return r.Dispatch(Message{Payload: payload, To: All(), Relayed: true})
}

// ClientCount returns -1 once Stop was called.
func (r *SharedBroadcaster) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return -1
	}
	return len(r.clients)
}

// Stop rejects new connections, queues a going-away close frame for every client and
// waits for their teardown or the stop timeout.
func (r *SharedBroadcaster) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		slog.Info("Closing all clients", "count", len(r.clients))
		closing := goingAwayFrame()
		for id, entry := range r.clients {
			deliver(id, entry.queue, closing, r.cfg.Metrics)
			entry.queue.close()
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.conns.Wait()
		close(done)
	}()

	timer := r.cfg.Clock.NewTimer(r.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		slog.Info("Shared broadcaster stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Shared broadcaster stop timeout exceeded", "timeout", r.cfg.StopTimeout)
		r.cfg.Metrics.StopTimeouts.Inc()
	}
}
