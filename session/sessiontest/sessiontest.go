// Package sessiontest provides an in-memory session.Transport for tests.
package sessiontest

import (
	"context"
	"errors"
	"sync"

	"github.com/harveysanders/slackpixels/session"
)

// Inline runs f on the calling goroutine. Use it as session.Config.Go to
// make handshakes complete within the Tick that starts them.
func Inline(f func()) { f() }

// ErrRefused is a handshake failure for tests that don't care about the reason.
var ErrRefused = errors.New("refused")

// Transport records handshakes and hands out Streams.
type Transport struct {
	mu          sync.Mutex
	lookupErr   error
	openErr     error
	block       bool
	hold        chan struct{}
	endpoint    string
	credentials []string
	opens       int
	streams     []*Stream
	events      chan session.Event
}

// New returns a Transport whose handshakes succeed.
func New() *Transport {
	return &Transport{
		endpoint: "wss://stream.test/ws",
		events:   make(chan session.Event, 64),
	}
}

// FailLookups makes every lookup return err until called again with nil.
func (t *Transport) FailLookups(err error) {
	t.mu.Lock()
	t.lookupErr = err
	t.mu.Unlock()
}

// FailOpens makes every stream open return err until called again with nil.
func (t *Transport) FailOpens(err error) {
	t.mu.Lock()
	t.openErr = err
	t.mu.Unlock()
}

// BlockLookups makes lookups wait for their context to end.
func (t *Transport) BlockLookups(block bool) {
	t.mu.Lock()
	t.block = block
	t.mu.Unlock()
}

// HoldLookups makes lookups wait, ignoring their context, until release
// is called.
func (t *Transport) HoldLookups() (release func()) {
	hold := make(chan struct{})
	t.mu.Lock()
	t.hold = hold
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.hold = nil
		t.mu.Unlock()
		close(hold)
	}
}

func (t *Transport) LookupEndpoint(ctx context.Context, credential string) (string, error) {
	t.mu.Lock()
	t.credentials = append(t.credentials, credential)
	block, hold, err, endpoint := t.block, t.hold, t.lookupErr, t.endpoint
	t.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return endpoint, nil
}

func (t *Transport) OpenStream(ctx context.Context, endpoint string) (session.Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	if t.openErr != nil {
		return nil, t.openErr
	}
	s := &Stream{}
	t.streams = append(t.streams, s)
	return s, nil
}

func (t *Transport) Events() <-chan session.Event { return t.events }

// Push queues an event for the consumer of Events.
func (t *Transport) Push(ev session.Event) { t.events <- ev }

// Lookups returns how many lookups were attempted.
func (t *Transport) Lookups() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.credentials)
}

// Credentials returns the credentials passed to each lookup.
func (t *Transport) Credentials() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.credentials...)
}

// Opens returns how many stream opens were attempted.
func (t *Transport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

// Last returns the most recently opened stream, or nil.
func (t *Transport) Last() *Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.streams) == 0 {
		return nil
	}
	return t.streams[len(t.streams)-1]
}

// Stream records what is sent on it.
type Stream struct {
	mu      sync.Mutex
	sent    []string
	closed  bool
	sendErr error
}

func (s *Stream) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, string(payload))
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// FailSends makes Send return err.
func (s *Stream) FailSends(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

// Sent returns every payload sent so far.
func (s *Stream) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
