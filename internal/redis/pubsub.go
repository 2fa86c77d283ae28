package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/chatrelay/internal/metrics"
	"github.com/pscheid92/chatrelay/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultPublishBuffer  = 256
	defaultPublishTimeout = 2 * time.Second
)

// envelope is the message published via Redis Pub/Sub.
type envelope struct {
	Origin  string `json:"origin"`
	Payload []byte `json:"payload"`
}

// Injector delivers a broadcast that arrived from another instance.
type Injector interface {
	Inject(payload []byte) error
}

type BridgeConfig struct {
	Channel        string
	PublishBuffer  int
	PublishTimeout time.Duration
	Resubscribe    retry.Policy
}

// Bridge fans broadcasts out across relay instances through one Pub/Sub channel.
// Forward is the outgoing half; Start launches the publisher and the subscriber.
type Bridge struct {
	rdb     *goredis.Client
	cfg     BridgeConfig
	origin  string
	metrics *metrics.RedisMetrics

	outgoing chan []byte
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// mu guards sub, the live subscription, so Close can interrupt a blocked receive.
	mu  sync.Mutex
	sub *goredis.PubSub
}

func NewBridge(rdb *goredis.Client, cfg BridgeConfig, m *metrics.RedisMetrics) *Bridge {
	if cfg.PublishBuffer <= 0 {
		cfg.PublishBuffer = defaultPublishBuffer
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Resubscribe.InitialBackoff <= 0 {
		cfg.Resubscribe = retry.Policy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 10 * time.Second}
	}

	return &Bridge{
		rdb:      rdb,
		cfg:      cfg,
		origin:   uuid.NewString(),
		metrics:  m,
		outgoing: make(chan []byte, cfg.PublishBuffer),
	}
}

// Forward queues a locally originated broadcast for publishing. It never blocks;
// payloads are dropped when the publish buffer is full.
func (b *Bridge) Forward(payload []byte) {
	select {
	case b.outgoing <- payload:
	default:
		b.metrics.BridgePublished.WithLabelValues("dropped").Inc()
	}
}

// Start launches the publisher and subscriber goroutines. Received envelopes from other
// instances are handed to relay.
func (b *Bridge) Start(ctx context.Context, relay Injector) {
	ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.publishLoop(ctx)
	}()
	go func() {
		defer b.wg.Done()
		b.subscribeLoop(ctx, relay)
	}()
}

// Close stops both loops and waits for them.
func (b *Bridge) Close() {
	if b.cancel != nil {
		b.cancel()
	}

	b.mu.Lock()
	if b.sub != nil {
		_ = b.sub.Close()
	}
	b.mu.Unlock()

	b.wg.Wait()
}

// Origin identifies this instance in envelopes and in the instance registry.
func (b *Bridge) Origin() string {
	return b.origin
}

// Ping verifies the Redis connection for the readiness probe.
func (b *Bridge) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-b.outgoing:
			if err := b.publish(ctx, payload); err != nil {
				b.metrics.BridgePublished.WithLabelValues("error").Inc()
				slog.Warn("Failed to publish broadcast", "channel", b.cfg.Channel, "error", err)
				continue
			}
			b.metrics.BridgePublished.WithLabelValues("ok").Inc()
		}
	}
}

func (b *Bridge) publish(ctx context.Context, payload []byte) error {
	data, err := b.encode(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	if err := b.rdb.Publish(ctx, b.cfg.Channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

func (b *Bridge) encode(payload []byte) ([]byte, error) {
	data, err := json.Marshal(envelope{Origin: b.origin, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

func (b *Bridge) subscribeLoop(ctx context.Context, relay Injector) {
	for first := true; ctx.Err() == nil; first = false {
		if !first {
			b.metrics.BridgeReconnects.Inc()
		}

		sub, err := retry.Do(ctx, b.cfg.Resubscribe, retry.Always, func() (*goredis.PubSub, error) {
			return b.subscribe(ctx)
		})
		if err != nil {
			// Only a cancelled context ends an unlimited retry.
			return
		}

		if !b.track(ctx, sub) {
			return
		}
		err = b.consume(ctx, sub, relay)
		_ = sub.Close()
		if err != nil && ctx.Err() == nil {
			slog.Warn("Bridge subscription lost", "channel", b.cfg.Channel, "error", err)
		}
	}
}

// track publishes sub for Close. It reports false, closing sub, when the bridge is already closing.
func (b *Bridge) track(ctx context.Context, sub *goredis.PubSub) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ctx.Err() != nil {
		_ = sub.Close()
		return false
	}
	b.sub = sub
	return true
}

func (b *Bridge) subscribe(ctx context.Context) (*goredis.PubSub, error) {
	sub := b.rdb.Subscribe(ctx, b.cfg.Channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		slog.Warn("Failed to subscribe to bridge channel", "channel", b.cfg.Channel, "error", err)
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	slog.Info("Bridge subscribed", "channel", b.cfg.Channel, "origin", b.origin)
	return sub, nil
}

func (b *Bridge) consume(ctx context.Context, sub *goredis.PubSub, relay Injector) error {
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to receive: %w", err)
		}
		b.handle(msg.Payload, relay)
	}
}

func (b *Bridge) handle(raw string, relay Injector) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.metrics.BridgeReceived.WithLabelValues("invalid").Inc()
		slog.Warn("Failed to unmarshal bridge envelope", "error", err)
		return
	}
	if env.Origin == b.origin {
		b.metrics.BridgeReceived.WithLabelValues("own").Inc()
		return
	}
	if err := relay.Inject(env.Payload); err != nil {
		b.metrics.BridgeReceived.WithLabelValues("rejected").Inc()
		slog.Debug("Relay rejected bridged broadcast", "error", err)
		return
	}
	b.metrics.BridgeReceived.WithLabelValues("injected").Inc()
}
