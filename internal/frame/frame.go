package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/gobwas/ws"
)

// ErrNeedMoreData reports that the buffer does not yet hold a complete frame.
var ErrNeedMoreData = errors.New("need more data")

// ProtocolError is a fatal parse failure. Status is the close code to report to the peer.
type ProtocolError struct {
	Status ws.StatusCode
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (%d): %v", e.Status, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolError(status ws.StatusCode, err error) *ProtocolError {
	return &ProtocolError{Status: status, Err: err}
}

// Frame is the result of parsing one wire frame.
type Frame struct {
	OpCode ws.OpCode
	// Continuation is set when this frame completed a fragmented message.
	Continuation bool
	// Response is the encoded frame to send out, nil when the frame produces nothing.
	Response []byte
}

// IsData reports whether the frame carries application data (text, binary or a completed continuation).
func (f Frame) IsData() bool {
	return f.OpCode == ws.OpText || f.OpCode == ws.OpBinary || f.Continuation
}

// IsClose reports whether the frame was a close frame.
func (f Frame) IsClose() bool {
	return f.OpCode == ws.OpClose
}

// Fragments accumulates a message split across continuation frames.
// It belongs to exactly one connection's reader loop.
type Fragments struct {
	op     ws.OpCode
	data   []byte
	active bool
}

// Active reports whether a fragmented message is in progress.
func (f *Fragments) Active() bool {
	return f.active
}

// Reset drops any partially assembled message.
func (f *Fragments) Reset() {
	f.op = 0
	f.data = nil
	f.active = false
}

func (f *Fragments) start(op ws.OpCode, p []byte) {
	f.op = op
	f.data = append(f.data[:0], p...)
	f.active = true
}

// Parse decodes at most one frame from buf. It returns the frame and the number of bytes
// consumed. When buf holds an incomplete frame it returns ErrNeedMoreData and leaves frag
// untouched. maxMessageSize limits a (reassembled) data message; zero disables the check.
func Parse(buf []byte, frag *Fragments, maxMessageSize int) (Frame, int, error) {
	r := bytes.NewReader(buf)
	h, err := ws.ReadHeader(r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, 0, ErrNeedMoreData
		}
		return Frame{}, 0, protocolError(ws.StatusProtocolError, err)
	}

	state := ws.StateServerSide
	if frag.active {
		state = state.Set(ws.StateFragmented)
	}
	if err := ws.CheckHeader(h, state); err != nil {
		return Frame{}, 0, protocolError(ws.StatusProtocolError, err)
	}

	if maxMessageSize > 0 && h.Length > int64(maxMessageSize) {
		return Frame{}, 0, protocolError(ws.StatusMessageTooBig, fmt.Errorf("frame of %d bytes exceeds limit %d", h.Length, maxMessageSize))
	}

	headerSize := len(buf) - r.Len()
	if int64(r.Len()) < h.Length {
		return Frame{}, 0, ErrNeedMoreData
	}
	consumed := headerSize + int(h.Length)

	payload := make([]byte, h.Length)
	copy(payload, buf[headerSize:consumed])
	if h.Masked {
		ws.Cipher(payload, h.Mask, 0)
	}

	f, err := decode(h, payload, frag, maxMessageSize)
	if err != nil {
		return Frame{}, 0, err
	}
	return f, consumed, nil
}

func decode(h ws.Header, payload []byte, frag *Fragments, maxMessageSize int) (Frame, error) {
	switch h.OpCode {
	case ws.OpText, ws.OpBinary:
		if !h.Fin {
			frag.start(h.OpCode, payload)
			return Frame{OpCode: h.OpCode}, nil
		}
		return dataFrame(h.OpCode, false, payload)

	case ws.OpContinuation:
		if maxMessageSize > 0 && len(frag.data)+len(payload) > maxMessageSize {
			return Frame{}, protocolError(ws.StatusMessageTooBig, fmt.Errorf("message exceeds limit %d", maxMessageSize))
		}
		frag.data = append(frag.data, payload...)
		if !h.Fin {
			return Frame{OpCode: ws.OpContinuation}, nil
		}
		op, data := frag.op, frag.data
		frag.Reset()
		return dataFrame(op, true, data)

	case ws.OpPing:
		resp, err := ws.CompileFrame(ws.NewPongFrame(payload))
		if err != nil {
			return Frame{}, fmt.Errorf("compile pong: %w", err)
		}
		return Frame{OpCode: ws.OpPing, Response: resp}, nil

	case ws.OpPong:
		return Frame{OpCode: ws.OpPong}, nil

	case ws.OpClose:
		return closeFrame(payload)
	}

	return Frame{}, protocolError(ws.StatusProtocolError, fmt.Errorf("unexpected opcode %d", h.OpCode))
}

func dataFrame(op ws.OpCode, continuation bool, payload []byte) (Frame, error) {
	if op == ws.OpText && !utf8.Valid(payload) {
		return Frame{}, protocolError(ws.StatusInvalidFramePayloadData, ws.ErrProtocolInvalidUTF8)
	}
	resp, err := ws.CompileFrame(ws.NewFrame(op, true, payload))
	if err != nil {
		return Frame{}, fmt.Errorf("compile data frame: %w", err)
	}
	opCode := op
	if continuation {
		opCode = ws.OpContinuation
	}
	return Frame{OpCode: opCode, Continuation: continuation, Response: resp}, nil
}

func closeFrame(payload []byte) (Frame, error) {
	var body []byte
	switch {
	case len(payload) == 1:
		return Frame{}, protocolError(ws.StatusProtocolError, ws.ErrProtocolControlPayloadOverflow)
	case len(payload) >= 2:
		code, reason := ws.ParseCloseFrameData(payload)
		if err := ws.CheckCloseFrameData(code, reason); err != nil {
			return Frame{}, protocolError(ws.StatusProtocolError, err)
		}
		body = ws.NewCloseFrameBody(code, "")
	}
	resp, err := ws.CompileFrame(ws.NewCloseFrame(body))
	if err != nil {
		return Frame{}, fmt.Errorf("compile close: %w", err)
	}
	return Frame{OpCode: ws.OpClose, Response: resp}, nil
}

// CloseFrame encodes a server close frame with the given status and reason.
func CloseFrame(status ws.StatusCode, reason string) []byte {
	return ws.MustCompileFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(status, reason)))
}

// CloseFrameFor encodes the close frame reported to a peer whose connection failed with err.
func CloseFrameFor(err error) []byte {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return CloseFrame(perr.Status, "")
	}
	return CloseFrame(ws.StatusProtocolError, "")
}

// IsClose reports whether an encoded frame is a close frame.
func IsClose(encoded []byte) bool {
	return len(encoded) > 0 && ws.OpCode(encoded[0]&0x0f) == ws.OpClose
}
