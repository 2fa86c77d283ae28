package broadcast

import "sync"

// outbox is the per-connection outbound queue. Any number of producers may push;
// the connection's writer loop is the only consumer.
type outbox struct {
	mu     sync.Mutex
	items  [][]byte
	limit  int
	ready  chan struct{}
	closed bool
	gone   bool
	slow   bool
}

// newOutbox creates a queue holding at most limit pending payloads; zero means unbounded.
func newOutbox(limit int) *outbox {
	return &outbox{
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

func (o *outbox) push(payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.gone:
		return ErrRecipientGone
	case o.slow:
		return ErrSlowConsumer
	case o.closed:
		return ErrQueueClosed
	}

	if o.limit > 0 && len(o.items) >= o.limit {
		o.slow = true
		o.items = nil
		o.signal()
		return ErrSlowConsumer
	}

	o.items = append(o.items, payload)
	o.signal()
	return nil
}

// pop blocks until a payload is available. It returns ErrQueueClosed once the producer
// side is closed and every pending payload was handed out, and ErrSlowConsumer after an overflow.
func (o *outbox) pop() ([]byte, error) {
	for {
		o.mu.Lock()
		if o.slow {
			o.mu.Unlock()
			return nil, ErrSlowConsumer
		}
		if len(o.items) > 0 {
			payload := o.items[0]
			o.items[0] = nil
			o.items = o.items[1:]
			o.mu.Unlock()
			return payload, nil
		}
		if o.closed {
			o.mu.Unlock()
			return nil, ErrQueueClosed
		}
		o.mu.Unlock()
		<-o.ready
	}
}

// close marks the producer side as finished. Pending payloads are still delivered.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.signal()
}

// abandon drops pending payloads; later pushes fail with ErrRecipientGone.
func (o *outbox) abandon() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gone = true
	o.items = nil
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// signal must be called with mu held.
func (o *outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}
