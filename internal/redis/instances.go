package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/chatrelay/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const (
	instancesKey      = "chatrelay:instances"
	instanceStaleness = 60 * time.Second
	unregisterTimeout = 2 * time.Second
)

// InstanceInfo is the heartbeat record of one relay instance.
type InstanceInfo struct {
	InstanceID string `json:"instance_id"`
	Timestamp  int64  `json:"timestamp"`
	Version    string `json:"version"`
	Mode       string `json:"mode"`
	Clients    int    `json:"clients"`
}

// InstanceRegistry keeps a heartbeat for this instance in a shared Redis hash so that
// the instances sharing a bridge channel can see each other.
type InstanceRegistry struct {
	rdb       *goredis.Client
	clock     clockwork.Clock
	heartbeat time.Duration
	self      InstanceInfo
	clients   func() int
	metrics   *metrics.RedisMetrics
}

type InstanceRegistryConfig struct {
	InstanceID string
	Version    string
	Mode       string
	Heartbeat  time.Duration
	// Clients reports the local connection count published with each heartbeat.
	Clients func() int
}

func NewInstanceRegistry(rdb *goredis.Client, clock clockwork.Clock, cfg InstanceRegistryConfig, m *metrics.RedisMetrics) *InstanceRegistry {
	return &InstanceRegistry{
		rdb:       rdb,
		clock:     clock,
		heartbeat: cfg.Heartbeat,
		self:      InstanceInfo{InstanceID: cfg.InstanceID, Version: cfg.Version, Mode: cfg.Mode},
		clients:   cfg.Clients,
		metrics:   m,
	}
}

// Start registers immediately, then heartbeats until ctx is cancelled and unregisters.
func (r *InstanceRegistry) Start(ctx context.Context) {
	r.beat(ctx)

	ticker := r.clock.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.beat(ctx)
		case <-ctx.Done():
			r.unregister()
			return
		}
	}
}

func (r *InstanceRegistry) beat(ctx context.Context) {
	if err := r.register(ctx); err != nil {
		slog.Warn("Failed to send instance heartbeat", "instance_id", r.self.InstanceID, "error", err)
		return
	}

	active, err := r.ActiveInstances(ctx)
	if err != nil {
		slog.Warn("Failed to list instances", "error", err)
		return
	}
	r.metrics.BridgePeers.Set(float64(len(active)))
}

func (r *InstanceRegistry) register(ctx context.Context) error {
	info := r.self
	info.Timestamp = r.clock.Now().Unix()
	if r.clients != nil {
		info.Clients = max(r.clients(), 0)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal instance info: %w", err)
	}
	if err := r.rdb.HSet(ctx, instancesKey, info.InstanceID, data).Err(); err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}
	return nil
}

func (r *InstanceRegistry) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()

	if err := r.rdb.HDel(ctx, instancesKey, r.self.InstanceID).Err(); err != nil {
		slog.Warn("Failed to unregister instance", "instance_id", r.self.InstanceID, "error", err)
	}
}

// ActiveInstances returns the instances whose last heartbeat is recent, ordered by ID.
// Unparseable entries are skipped.
func (r *InstanceRegistry) ActiveInstances(ctx context.Context) ([]InstanceInfo, error) {
	entries, err := r.rdb.HGetAll(ctx, instancesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read instances: %w", err)
	}

	cutoff := r.clock.Now().Add(-instanceStaleness).Unix()
	active := []InstanceInfo{}
	for _, data := range entries {
		var info InstanceInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			continue
		}
		if info.Timestamp > cutoff {
			active = append(active, info)
		}
	}

	sort.Slice(active, func(i, j int) bool { return active[i].InstanceID < active[j].InstanceID })
	return active, nil
}
