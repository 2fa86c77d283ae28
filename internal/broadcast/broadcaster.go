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

const eventBufferSize = 256

type registryEntry struct {
	queue      *outbox
	stream     WriteStream
	terminated chan struct{}
}

// Broadcaster is the actor relay. A single goroutine owns the registry; connections reach it
// only through the event and disconnect channels.
type Broadcaster struct {
	cfg         Config
	events      chan Event
	disconnects chan uuid.UUID
	clients     map[uuid.UUID]*registryEntry
	done        chan struct{}

	// sendMu guards stopped and the close of events against concurrent sends.
	sendMu  sync.RWMutex
	stopped bool
}

var _ Relay = (*Broadcaster)(nil)

// NewBroadcaster starts the broker goroutine.
func NewBroadcaster(cfg Config) *Broadcaster {
	b := &Broadcaster{
		cfg:         cfg.withDefaults(),
		events:      make(chan Event, eventBufferSize),
		disconnects: make(chan uuid.UUID),
		clients:     make(map[uuid.UUID]*registryEntry),
		done:        make(chan struct{}),
	}
	go b.run()
	return b
}

// Send hands an event to the broker. It fails with ErrStopped once Stop was called.
func (b *Broadcaster) Send(ev Event) error {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()

	if b.stopped {
		return ErrStopped
	}
	b.events <- ev
	return nil
}

// ServeConn registers stream, runs its reader loop in the calling goroutine and returns
// after the registry entry is gone.
func (b *Broadcaster) ServeConn(ctx context.Context, stream net.Conn) error {
	id := uuid.New()
	ctx = correlation.WithID(ctx, id.String())
	terminated := make(chan struct{})

	if err := b.Send(NewConnection{ID: id, Stream: stream, Terminated: terminated}); err != nil {
		_ = stream.Close()
		return err
	}
	slog.DebugContext(ctx, "Client registered", "remote_addr", stream.RemoteAddr().String())

	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	readErr := readLoop(id, stream, b.cfg, func(msg Message) error { return b.Send(msg) })
	if readErr != nil {
		slog.DebugContext(ctx, "Reader stopped", "error", readErr)
		if err := b.Send(Message{Payload: frame.CloseFrameFor(readErr), To: To(id)}); err != nil {
			_ = stream.Close()
		}
	}

	<-terminated
	b.cfg.Metrics.TeardownsTotal.WithLabelValues(teardownReason(readErr)).Inc()
	slog.DebugContext(ctx, "Client terminated")
	return readErr
}

// Disconnect asks the broker to drop id. Unknown and repeated ids are ignored.
func (b *Broadcaster) Disconnect(id uuid.UUID) {
	select {
	case b.disconnects <- id:
	case <-b.done:
	}
}

// Inject broadcasts a payload received from another instance.
func (b *Broadcaster) Inject(payload []byte) error {
	return b.Send(Message{Payload: payload, To: All(), Relayed: true})
}

// ClientCount returns the number of registered connections.
// Returns -1 if the broker is stopped or the query times out.
func (b *Broadcaster) ClientCount() int {
	reply := make(chan int, 1)
	if err := b.Send(clientCountQuery{reply: reply}); err != nil {
		return -1
	}

	timer := b.cfg.Clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case n := <-reply:
		return n
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop closes the event channel, which makes the broker send a going-away close frame to
// every client. It blocks until all connections are torn down or the stop timeout elapses.
func (b *Broadcaster) Stop() {
	b.sendMu.Lock()
	if !b.stopped {
		b.stopped = true
		close(b.events)
	}
	b.sendMu.Unlock()

	timer := b.cfg.Clock.NewTimer(b.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-b.done:
		slog.Info("Broadcaster stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Broadcaster stop timeout exceeded", "timeout", b.cfg.StopTimeout)
		b.cfg.Metrics.StopTimeouts.Inc()
	}
}

func (b *Broadcaster) run() {
	defer close(b.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcaster panic recovered", "panic", r)
			b.failClosed()
			b.abortAll()
		}
	}()

	events := b.events
	for events != nil || len(b.clients) > 0 {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				b.closeAll()
				continue
			}
			b.handleEvent(ev)
		case id := <-b.disconnects:
			b.handleDisconnect(id)
		}
	}
}

func (b *Broadcaster) handleEvent(ev Event) {
	switch e := ev.(type) {
	case NewConnection:
		b.handleNewConnection(e)
	case Message:
		b.handleMessage(e)
	case clientCountQuery:
		e.reply <- len(b.clients)
	default:
		slog.Warn("Broadcaster received unknown event type", "event_type", fmt.Sprintf("%T", ev))
	}
}

func (b *Broadcaster) handleNewConnection(e NewConnection) {
	if _, exists := b.clients[e.ID]; exists {
		slog.Error("Rejecting duplicate connection id", "connection_id", e.ID.String())
		_ = e.Stream.Close()
		close(e.Terminated)
		return
	}

	q := newOutbox(b.cfg.QueueSize)
	b.clients[e.ID] = &registryEntry{queue: q, stream: e.Stream, terminated: e.Terminated}
	b.cfg.Metrics.ConnectionsTotal.Inc()
	b.cfg.Metrics.ConnectedClients.Set(float64(len(b.clients)))

	go func() {
		if err := writeLoop(e.Stream, q, b.cfg); err != nil {
			slog.Debug("Writer stopped", "connection_id", e.ID.String(), "error", err)
		}
		b.Disconnect(e.ID)
	}()
}

func (b *Broadcaster) handleMessage(msg Message) {
	b.cfg.Metrics.EventsTotal.WithLabelValues(eventKind(msg)).Inc()

	if !msg.To.IsAll() {
		if entry, ok := b.clients[msg.To.ID()]; ok {
			deliver(msg.To.ID(), entry.queue, msg.Payload, b.cfg.Metrics)
		}
		return
	}

	for id, entry := range b.clients {
		deliver(id, entry.queue, msg.Payload, b.cfg.Metrics)
	}
	if !msg.Relayed && b.cfg.Forwarder != nil {
		b.cfg.Forwarder.Forward(msg.Payload)
	}
}

// handleDisconnect removes id from the registry. Unknown ids are ignored.
func (b *Broadcaster) handleDisconnect(id uuid.UUID) {
	entry, ok := b.clients[id]
	if !ok {
		return
	}
	delete(b.clients, id)
	entry.queue.close()
	close(entry.terminated)
	b.cfg.Metrics.ConnectedClients.Set(float64(len(b.clients)))
}

func (b *Broadcaster) closeAll() {
	slog.Info("Closing all clients", "count", len(b.clients))
	closing := goingAwayFrame()
	for id, entry := range b.clients {
		deliver(id, entry.queue, closing, b.cfg.Metrics)
		entry.queue.close()
	}
}

// failClosed marks the broker stopped after its loop died, so later sends fail with
// ErrStopped. Events still buffered are rejected and their senders released.
func (b *Broadcaster) failClosed() {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range b.events {
			rejectEvent(ev)
		}
	}()

	b.sendMu.Lock()
	if !b.stopped {
		b.stopped = true
		close(b.events)
	}
	b.sendMu.Unlock()
	<-drained
}

func rejectEvent(ev Event) {
	switch e := ev.(type) {
	case NewConnection:
		_ = e.Stream.Close()
		close(e.Terminated)
	case clientCountQuery:
		e.reply <- -1
	}
}

// abortAll is the panic path: streams are closed directly and nobody waits for the writers.
func (b *Broadcaster) abortAll() {
	for id, entry := range b.clients {
		_ = entry.stream.Close()
		close(entry.terminated)
		delete(b.clients, id)
	}
	b.cfg.Metrics.ConnectedClients.Set(0)
}
