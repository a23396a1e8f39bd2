package transport

import (
	"errors"

	"courier/internal/domain"
)

var (
	// ErrUnavailable means there is no open connection. The caller should
	// reconnect right away; it is not a failure of the relay.
	ErrUnavailable = errors.New("transport: connection unavailable")
	// ErrTimeout means no frame arrived within the read timeout.
	ErrTimeout = errors.New("transport: read timed out")
)

// Frame types exchanged on the envelope stream.
const (
	// FrameEnvelope carries one queued envelope. The client answers with an
	// ack carrying the same ID once the envelope has been processed.
	FrameEnvelope = "envelope"
	// FrameEmpty tells the client the queued backlog has been delivered.
	FrameEmpty = "empty"
	// FrameAck removes an envelope from the relay queue.
	FrameAck = "ack"
)

// Frame is one JSON text message on the stream.
type Frame struct {
	Type     string           `json:"type"`
	ID       string           `json:"id,omitempty"`
	Envelope *domain.Envelope `json:"envelope,omitempty"`
}
