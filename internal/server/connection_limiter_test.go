package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestGlobalConnectionLimiter_AcquireRelease(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(3)

	assert.True(t, limiter.Acquire())
	assert.True(t, limiter.Acquire())
	assert.True(t, limiter.Acquire())
	assert.False(t, limiter.Acquire())
	assert.Equal(t, int64(3), limiter.Current())

	limiter.Release()
	assert.Equal(t, int64(2), limiter.Current())
	assert.True(t, limiter.Acquire())
}

func TestGlobalConnectionLimiter_Concurrent(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(100)
	var succeeded, failed atomic.Int64

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if limiter.Acquire() {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(100), succeeded.Load())
	assert.Equal(t, int64(100), failed.Load())
	assert.Equal(t, int64(100), limiter.Current())
}

func TestIPConnectionLimiter_AcquireRelease(t *testing.T) {
	limiter := NewIPConnectionLimiter(2)

	assert.True(t, limiter.Acquire("192.168.1.1"))
	assert.True(t, limiter.Acquire("192.168.1.1"))
	assert.False(t, limiter.Acquire("192.168.1.1"))
	assert.True(t, limiter.Acquire("192.168.1.2"))
	assert.Equal(t, 2, limiter.UniqueIPs())

	limiter.Release("192.168.1.1")
	assert.Equal(t, 1, limiter.Count("192.168.1.1"))
	assert.True(t, limiter.Acquire("192.168.1.1"))
}

func TestIPConnectionLimiter_ReleaseRemovesIdleEntries(t *testing.T) {
	limiter := NewIPConnectionLimiter(5)

	assert.True(t, limiter.Acquire("192.168.1.1"))
	limiter.Release("192.168.1.1")
	limiter.Release("192.168.1.1")

	assert.Equal(t, 0, limiter.UniqueIPs())
	assert.Equal(t, 0, limiter.Count("192.168.1.1"))
}

func TestConnectionRateLimiter_BurstAndRefill(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewConnectionRateLimiter(clock, 10.0, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("192.168.1.1"))
	}
	assert.False(t, limiter.Allow("192.168.1.1"))

	// Other IPs have their own bucket.
	assert.True(t, limiter.Allow("192.168.1.2"))

	clock.Advance(150 * time.Millisecond)
	assert.True(t, limiter.Allow("192.168.1.1"))
	assert.False(t, limiter.Allow("192.168.1.1"))
}

func TestConnectionRateLimiter_CleanupDropsIdleBuckets(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewConnectionRateLimiter(clock, 10.0, 5)

	limiter.Allow("192.168.1.1")
	limiter.Allow("192.168.1.2")
	assert.Equal(t, 2, limiter.ActiveLimiters())

	clock.Advance(rateLimiterIdleExpiry + time.Second)
	limiter.Allow("192.168.1.3")

	assert.Equal(t, 1, limiter.ActiveLimiters())
}

func newTestLimits(globalMax int64, perIP int, perSecond float64, burst int) *ConnectionLimits {
	return NewConnectionLimits(clockwork.NewFakeClock(), globalMax, perIP, perSecond, burst)
}

func TestConnectionLimits_Reasons(t *testing.T) {
	tests := []struct {
		name     string
		limits   *ConnectionLimits
		attempts []string
		want     LimitReason
	}{
		{"global", newTestLimits(2, 100, 100, 100), []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, LimitReasonGlobal},
		{"per ip", newTestLimits(100, 2, 100, 100), []string{"10.0.0.1", "10.0.0.1", "10.0.0.1"}, LimitReasonPerIP},
		{"rate", newTestLimits(100, 100, 1, 2), []string{"10.0.0.1", "10.0.0.1", "10.0.0.1"}, LimitReasonRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			last := len(tt.attempts) - 1
			for _, ip := range tt.attempts[:last] {
				ok, reason := tt.limits.Acquire(ip)
				assert.True(t, ok)
				assert.Empty(t, reason)
			}

			ok, reason := tt.limits.Acquire(tt.attempts[last])
			assert.False(t, ok)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestConnectionLimits_RollbackOnPerIPFailure(t *testing.T) {
	limits := newTestLimits(100, 1, 100, 100)

	ok, _ := limits.Acquire("192.168.1.1")
	assert.True(t, ok)

	ok, reason := limits.Acquire("192.168.1.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)
	assert.Equal(t, int64(1), limits.Global().Current())

	limits.Release("192.168.1.1")
	assert.Equal(t, int64(0), limits.Global().Current())
	assert.Equal(t, 0, limits.PerIP().UniqueIPs())
}

func TestConnectionLimits_Concurrent(t *testing.T) {
	limits := newTestLimits(50, 5, 1000, 1000)

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for ip := 0; ip < 10; ip++ {
		for j := 0; j < 10; j++ {
			wg.Add(1)
			go func(ip string) {
				defer wg.Done()
				if ok, _ := limits.Acquire(ip); ok {
					succeeded.Add(1)
				}
			}(fmt.Sprintf("192.168.1.%d", ip))
		}
	}
	wg.Wait()

	// 10 IPs × 5 per IP exactly fills the global limit.
	assert.Equal(t, int64(50), succeeded.Load())
	assert.Equal(t, int64(50), limits.Global().Current())
}
