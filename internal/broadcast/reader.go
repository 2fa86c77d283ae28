package broadcast

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pscheid92/chatrelay/internal/frame"
)

// readLoop turns the bytes read from r into Messages for emit. It returns nil after
// a close frame was emitted, ErrPeerClosed when the peer went away without one, and the
// parse, read, or emit error otherwise.
func readLoop(id uuid.UUID, r io.Reader, cfg Config, emit func(Message) error) error {
	var frag frame.Fragments
	buf := make([]byte, 0, cfg.ReadBufferSize)
	chunk := make([]byte, cfg.ReadBufferSize)

	for {
		consumed := 0
		for consumed < len(buf) {
			f, n, err := frame.Parse(buf[consumed:], &frag, cfg.MaxMessageSize)
			if errors.Is(err, frame.ErrNeedMoreData) {
				break
			}
			if err != nil {
				return err
			}
			consumed += n

			if f.Response == nil {
				continue
			}

			msg := Message{Payload: f.Response, To: To(id)}
			if f.IsData() {
				msg.To = All()
			}
			if err := emit(msg); err != nil {
				return fmt.Errorf("emit: %w", err)
			}
			if f.IsClose() {
				return nil
			}
		}

		// Compact so the buffer only ever holds one partial frame.
		buf = buf[:copy(buf, buf[consumed:])]

		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}
		switch {
		case err == nil, errors.Is(err, io.EOF):
			return ErrPeerClosed
		default:
			return fmt.Errorf("read: %w", err)
		}
	}
}
