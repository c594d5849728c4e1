package session

import "context"

// Transport is the network side of a session: a one-shot endpoint lookup
// followed by a persistent bidirectional stream. Stream traffic is delivered
// asynchronously on Events, so implementations run their reads on their own
// goroutines.
type Transport interface {
	// LookupEndpoint exchanges the credential for a stream endpoint.
	LookupEndpoint(ctx context.Context, credential string) (string, error)
	// OpenStream connects to an endpoint returned by LookupEndpoint.
	OpenStream(ctx context.Context, endpoint string) (Stream, error)
	// Events delivers stream events. The channel is never closed.
	Events() <-chan Event
}

// Stream is an open connection returned by Transport.OpenStream. Send must
// not retain payload after it returns.
type Stream interface {
	Send(payload []byte) error
	Close() error
}

// EventKind classifies a transport event.
type EventKind uint8

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventText
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventText:
		return "text"
	default:
		return "unknown"
	}
}

// Event is something that happened on a stream.
type Event struct {
	Kind EventKind
	// Stream is the stream the event belongs to.
	Stream Stream
	// Data is the frame payload for EventText, or the endpoint for EventConnected.
	Data []byte
	// Err is the reason for EventDisconnected, if known.
	Err error
}
