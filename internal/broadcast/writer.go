package broadcast

import (
	"bufio"
	"errors"
	"fmt"

	"github.com/gobwas/ws"
	"github.com/pscheid92/chatrelay/internal/frame"
)

// writeLoop drains q onto stream, one write and flush per payload. It returns nil when the
// queue was closed or a close frame was sent. The stream is closed on exit so the
// connection's reader unblocks, and the queue is abandoned so later pushes fail fast.
func writeLoop(stream WriteStream, q *outbox, cfg Config) error {
	defer func() {
		q.abandon()
		_ = stream.Close()
	}()

	w := bufio.NewWriterSize(stream, writeBufferSize)

	for {
		payload, popErr := q.pop()
		switch {
		case errors.Is(popErr, ErrQueueClosed):
			return nil
		case errors.Is(popErr, ErrSlowConsumer):
			_ = writeOne(w, stream, frame.CloseFrame(ws.StatusPolicyViolation, "slow consumer"), cfg)
			return ErrSlowConsumer
		}

		if err := writeOne(w, stream, payload, cfg); err != nil {
			return err
		}
		if frame.IsClose(payload) {
			return nil
		}
	}
}

func writeOne(w *bufio.Writer, stream WriteStream, payload []byte, cfg Config) error {
	start := cfg.Clock.Now()
	if cfg.WriteTimeout > 0 {
		if err := stream.SetWriteDeadline(start.Add(cfg.WriteTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}

	cfg.Metrics.WriteDuration.Observe(cfg.Clock.Since(start).Seconds())
	return nil
}
