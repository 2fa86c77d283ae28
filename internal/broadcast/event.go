package broadcast

import (
	"io"
	"time"

	"github.com/google/uuid"
)

// WriteStream is the writable half of a connection. Closing it tears down the whole stream.
type WriteStream interface {
	io.Writer
	io.Closer
	SetWriteDeadline(t time.Time) error
}

// Recipient selects who receives a Message.
type Recipient struct {
	all bool
	id  uuid.UUID
}

// All addresses every registered connection.
func All() Recipient { return Recipient{all: true} }

// To addresses a single connection.
func To(id uuid.UUID) Recipient { return Recipient{id: id} }

// IsAll reports whether the recipient is a broadcast.
func (r Recipient) IsAll() bool { return r.all }

// ID returns the addressed connection. It is uuid.Nil for broadcasts.
func (r Recipient) ID() uuid.UUID { return r.id }

func (r Recipient) String() string {
	if r.all {
		return "all"
	}
	return r.id.String()
}

// Event is consumed by a broker. The concrete types are NewConnection and Message.
type Event interface{ isEvent() }

type baseEvent struct{}

func (baseEvent) isEvent() {}

// NewConnection announces a connection whose writer loop the broker must start.
// Terminated is closed once the connection's registry entry has been removed.
type NewConnection struct {
	baseEvent
	ID         uuid.UUID
	Stream     WriteStream
	Terminated chan struct{}
}

// Message carries an encoded frame to its recipients.
// Relayed marks payloads that arrived from another instance and must not be forwarded again.
type Message struct {
	baseEvent
	Payload []byte
	To      Recipient
	Relayed bool
}

type clientCountQuery struct {
	baseEvent
	reply chan int
}
