package broadcast

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/pscheid92/chatrelay/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStream captures writes. A non-nil block channel makes every Write wait on it.
type recordingStream struct {
	mu          sync.Mutex
	buf         bytes.Buffer
	closed      bool
	writeErr    error
	deadlineErr error
	block       chan struct{}
}

func (s *recordingStream) Write(p []byte) (int, error) {
	if s.block != nil {
		<-s.block
		return 0, io.ErrClosedPipe
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.buf.Write(p)
}

func (s *recordingStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingStream) SetWriteDeadline(time.Time) error { return s.deadlineErr }

func (s *recordingStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *recordingStream) frames(t *testing.T) []ws.Frame {
	t.Helper()
	s.mu.Lock()
	r := bytes.NewReader(s.buf.Bytes())
	s.mu.Unlock()

	var out []ws.Frame
	for r.Len() > 0 {
		f, err := ws.ReadFrame(r)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

func text(s string) []byte {
	return ws.MustCompileFrame(ws.NewTextFrame([]byte(s)))
}

func TestWriteLoop_WritesInOrderUntilQueueCloses(t *testing.T) {
	stream := &recordingStream{}
	q := newOutbox(0)
	for _, s := range []string{"one", "two", "three"} {
		require.NoError(t, q.push(text(s)))
	}
	q.close()

	require.NoError(t, writeLoop(stream, q, testConfig()))

	frames := stream.frames(t)
	require.Len(t, frames, 3)
	for i, want := range []string{"one", "two", "three"} {
		assert.Equal(t, want, string(frames[i].Payload))
	}
	assert.True(t, stream.isClosed())
	assert.ErrorIs(t, q.push(text("late")), ErrRecipientGone)
}

func TestWriteLoop_StopsAfterCloseFrame(t *testing.T) {
	stream := &recordingStream{}
	q := newOutbox(0)
	require.NoError(t, q.push(text("before")))
	require.NoError(t, q.push(frame.CloseFrame(ws.StatusNormalClosure, "")))
	require.NoError(t, q.push(text("after")))

	require.NoError(t, writeLoop(stream, q, testConfig()))

	frames := stream.frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, ws.OpText, frames[0].Header.OpCode)
	assert.Equal(t, ws.OpClose, frames[1].Header.OpCode)
	assert.True(t, stream.isClosed())
}

func TestWriteLoop_WriteError(t *testing.T) {
	stream := &recordingStream{writeErr: errors.New("broken pipe")}
	q := newOutbox(0)
	require.NoError(t, q.push(text("x")))

	err := writeLoop(stream, q, testConfig())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.True(t, stream.isClosed())
	assert.ErrorIs(t, q.push(text("y")), ErrRecipientGone)
}

func TestWriteLoop_SlowConsumerGetsPolicyClose(t *testing.T) {
	stream := &recordingStream{}
	q := newOutbox(1)
	require.NoError(t, q.push(text("a")))
	require.ErrorIs(t, q.push(text("b")), ErrSlowConsumer)

	err := writeLoop(stream, q, testConfig())

	assert.ErrorIs(t, err, ErrSlowConsumer)
	frames := stream.frames(t)
	require.Len(t, frames, 1)
	code, _ := ws.ParseCloseFrameData(frames[0].Payload)
	assert.Equal(t, ws.StatusPolicyViolation, code)
}

func TestWriteLoop_DeadlineError(t *testing.T) {
	stream := &recordingStream{deadlineErr: errors.New("deadline not supported")}
	q := newOutbox(0)
	require.NoError(t, q.push(text("x")))

	cfg := testConfig()
	cfg.WriteTimeout = time.Second
	err := writeLoop(stream, q, cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "set write deadline")
	assert.Empty(t, stream.frames(t))
	assert.True(t, stream.isClosed())
}
