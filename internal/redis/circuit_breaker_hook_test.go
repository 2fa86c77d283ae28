package redis

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/chatrelay/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHook() (*CircuitBreakerHook, *metrics.RedisMetrics) {
	m := metrics.NewRedisMetrics(prometheus.NewRegistry())
	return NewCircuitBreakerHook(m), m
}

func failing(context.Context, goredis.Cmder) error { return errors.New("connection refused") }
func succeeding(context.Context, goredis.Cmder) error { return nil }

func publishCmd(ctx context.Context) goredis.Cmder {
	return goredis.NewIntCmd(ctx, "publish", "chan", "msg")
}

func TestCircuitBreakerHook_StaysClosedOnSuccess(t *testing.T) {
	hook, _ := newTestHook()
	ctx := context.Background()

	process := hook.ProcessHook(succeeding)
	for i := 0; i < 10; i++ {
		require.NoError(t, process(ctx, publishCmd(ctx)))
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_NilIsNotAFailure(t *testing.T) {
	hook, _ := newTestHook()
	ctx := context.Background()

	process := hook.ProcessHook(func(context.Context, goredis.Cmder) error { return goredis.Nil })
	for i := 0; i < breakerFailureThreshold+1; i++ {
		assert.ErrorIs(t, process(ctx, publishCmd(ctx)), goredis.Nil)
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_TransientFailures(t *testing.T) {
	hook, _ := newTestHook()
	ctx := context.Background()

	process := hook.ProcessHook(failing)
	for i := 0; i < breakerFailureThreshold-1; i++ {
		err := process(ctx, publishCmd(ctx))
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_OpensAndFailsFast(t *testing.T) {
	hook, m := newTestHook()
	ctx := context.Background()

	process := hook.ProcessHook(failing)
	for i := 0; i < breakerFailureThreshold; i++ {
		_ = process(ctx, publishCmd(ctx))
	}
	require.Equal(t, circuitbreaker.OpenState, hook.State())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitTransitions.WithLabelValues(circuitbreaker.OpenState.String())))

	called := false
	fastFail := hook.ProcessHook(func(context.Context, goredis.Cmder) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, fastFail(ctx, publishCmd(ctx)), circuitbreaker.ErrOpen)
	assert.False(t, called)

	dial := hook.DialHook(func(context.Context, string, string) (net.Conn, error) {
		called = true
		return nil, nil
	})
	_, err := dial(ctx, "tcp", "localhost:6379")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.False(t, called)

	pipeline := hook.ProcessPipelineHook(func(context.Context, []goredis.Cmder) error { return nil })
	assert.ErrorIs(t, pipeline(ctx, nil), circuitbreaker.ErrOpen)
}

func TestMetricsHook_CountsOperations(t *testing.T) {
	m := metrics.NewRedisMetrics(prometheus.NewRegistry())
	hook := &MetricsHook{metrics: m}
	ctx := context.Background()

	_ = hook.ProcessHook(succeeding)(ctx, publishCmd(ctx))
	_ = hook.ProcessHook(failing)(ctx, publishCmd(ctx))
	_ = hook.ProcessHook(func(context.Context, goredis.Cmder) error { return goredis.Nil })(ctx, publishCmd(ctx))
	_, _ = hook.DialHook(func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("refused")
	})(ctx, "tcp", "localhost:1")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OpsTotal.WithLabelValues("publish", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpsTotal.WithLabelValues("publish", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionErrors))
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(context.Background(), "not a url", metrics.NewRedisMetrics(prometheus.NewRegistry()))
	assert.ErrorContains(t, err, "failed to parse redis URL")
}

func TestNewClient_Integration(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()).Err())
}
