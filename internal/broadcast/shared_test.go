package broadcast

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedBroadcaster_DisconnectIsIdempotent(t *testing.T) {
	r := NewSharedBroadcaster(Config{})
	id := uuid.New()
	q, err := r.register(id, &recordingStream{})
	require.NoError(t, err)
	t.Cleanup(r.conns.Done)

	assert.True(t, r.disconnect(id))
	assert.False(t, r.disconnect(id))
	assert.Equal(t, 0, r.ClientCount())

	_, err = q.pop()
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestSharedBroadcaster_RejectsDuplicateID(t *testing.T) {
	r := NewSharedBroadcaster(Config{})
	id := uuid.New()
	_, err := r.register(id, &recordingStream{})
	require.NoError(t, err)
	t.Cleanup(r.conns.Done)

	_, err = r.register(id, &recordingStream{})
	assert.Error(t, err)
	assert.Equal(t, 1, r.ClientCount())
}

func TestSharedBroadcaster_Dispatch(t *testing.T) {
	r := NewSharedBroadcaster(Config{})
	idA, idB := uuid.New(), uuid.New()
	qa, err := r.register(idA, &recordingStream{})
	require.NoError(t, err)
	qb, err := r.register(idB, &recordingStream{})
	require.NoError(t, err)
	t.Cleanup(func() {
		r.conns.Done()
		r.conns.Done()
	})

	require.NoError(t, r.Dispatch(Message{Payload: text("direct"), To: To(idA)}))
	require.NoError(t, r.Dispatch(Message{Payload: text("nobody"), To: To(uuid.New())}))
	assert.Equal(t, 1, qa.len())
	assert.Equal(t, 0, qb.len())

	require.NoError(t, r.Dispatch(Message{Payload: text("all"), To: All()}))
	assert.Equal(t, 2, qa.len())
	assert.Equal(t, 1, qb.len())
}

func TestSharedBroadcaster_RejectsAfterStop(t *testing.T) {
	r := NewSharedBroadcaster(Config{StopTimeout: testTimeout})
	r.Stop()

	_, err := r.register(uuid.New(), &recordingStream{})
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, r.Dispatch(Message{Payload: text("x"), To: All()}), ErrStopped)
	assert.Equal(t, -1, r.ClientCount())
}

func TestSharedBroadcaster_ConcurrentMembershipAndDispatch(t *testing.T) {
	const workers, rounds = 8, 100
	r := NewSharedBroadcaster(Config{})

	stable := uuid.New()
	q, err := r.register(stable, &recordingStream{})
	require.NoError(t, err)
	t.Cleanup(r.conns.Done)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				id := uuid.New()
				if _, err := r.register(id, &recordingStream{}); err == nil {
					r.disconnect(id)
					r.conns.Done()
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				_ = r.Dispatch(Message{Payload: text("tick"), To: All()})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, r.ClientCount())
	assert.Equal(t, workers*rounds, q.len())
}
