package bridge

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/harveysanders/slackpixels/session"
	"github.com/harveysanders/slackpixels/session/sessiontest"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	err       error
	calls     int
}

func (p *fakePublisher) Publish(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, string(payload))
	return nil
}

func (p *fakePublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakePublisher) Published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.published...)
}

func newRelay(t *testing.T, pub Publisher) (*Relay, *sessiontest.Transport, time.Time) {
	t.Helper()
	tr := sessiontest.New()
	r := New(tr, pub, Config{
		Session:        session.Config{Credential: "xoxb-test", Go: sessiontest.Inline},
		PublishTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(func() { r.Close() })

	now := time.Now()
	r.Tick(context.Background(), now)
	if r.Session().State() != session.Connected {
		t.Fatalf("expected the first tick to connect, got %s", r.Session().State())
	}
	return r, tr, now
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestForwardsMessagesVerbatim(t *testing.T) {
	pub := &fakePublisher{}
	r, tr, now := newRelay(t, pub)

	frames := []string{
		`{"type":"hello"}`,
		`{"type":"message","channel":"C1","text":"hi &amp; bye"}`,
		`{"type":"user_typing","channel":"C1"}`,
		`{"type":"pong","reply_to":1}`,
		`not json`,
		`{"type":"message","text":"second"}`,
	}
	for _, f := range frames {
		tr.Push(session.Event{Kind: session.EventText, Stream: tr.Last(), Data: []byte(f)})
	}
	r.Tick(context.Background(), now.Add(10*time.Millisecond))

	waitFor(t, "two forwarded frames", func() bool { return r.Forwarded() == 2 })
	want := []string{frames[1], frames[5]}
	if got := pub.Published(); !reflect.DeepEqual(got, want) {
		t.Fatalf("published %q; want %q", got, want)
	}
}

func TestPublishFailureKeepsSession(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	r, tr, now := newRelay(t, pub)

	tr.Push(session.Event{Kind: session.EventText, Stream: tr.Last(), Data: []byte(`{"type":"message","text":"lost"}`)})
	r.Tick(context.Background(), now.Add(10*time.Millisecond))

	waitFor(t, "the publish attempt", func() bool { return pub.Calls() == 1 })
	if r.Forwarded() != 0 {
		t.Fatal("a failed publish must not count as forwarded")
	}
	if r.Session().State() != session.Connected {
		t.Fatalf("state = %s", r.Session().State())
	}
}

// stalledPublisher never finishes a publish until released.
type stalledPublisher struct {
	deadlines chan bool
	release   chan struct{}
}

func (p *stalledPublisher) Publish(ctx context.Context, payload []byte) error {
	_, ok := ctx.Deadline()
	p.deadlines <- ok
	<-p.release
	return ctx.Err()
}

func TestStalledPublisherDoesNotBlockKeepAlives(t *testing.T) {
	pub := &stalledPublisher{deadlines: make(chan bool, 4), release: make(chan struct{})}
	r, tr, now := newRelay(t, pub)
	t.Cleanup(func() { close(pub.release) })
	ctx := context.Background()

	tr.Push(session.Event{Kind: session.EventText, Stream: tr.Last(), Data: []byte(`{"type":"message","text":"stuck"}`)})
	ticked := make(chan struct{})
	go func() {
		r.Tick(ctx, now.Add(10*time.Millisecond))
		close(ticked)
	}()

	select {
	case hasDeadline := <-pub.deadlines:
		if !hasDeadline {
			t.Fatal("publish must run with a deadline")
		}
	case <-time.After(time.Second):
		t.Fatal("publish never started")
	}
	select {
	case <-ticked:
	case <-time.After(time.Second):
		t.Fatal("Tick waited on the publisher")
	}

	r.Tick(ctx, now.Add(session.DefaultKeepAliveInterval))
	if sent := tr.Last().Sent(); len(sent) != 2 {
		t.Fatalf("expected the second keep-alive, sent %q", sent)
	}
}

func TestGoodbyeReconnects(t *testing.T) {
	r, tr, now := newRelay(t, &fakePublisher{})
	first := tr.Last()

	tr.Push(session.Event{Kind: session.EventText, Stream: first, Data: []byte(`{"type":"goodbye"}`)})
	r.Tick(context.Background(), now.Add(10*time.Millisecond))

	if !first.Closed() {
		t.Fatal("goodbye must close the stream")
	}
	if tr.Opens() != 2 || r.Session().State() != session.Connected {
		t.Fatalf("expected a reconnect on the same tick, opens=%d state=%s", tr.Opens(), r.Session().State())
	}
}

func TestDisconnectEventReconnects(t *testing.T) {
	r, tr, now := newRelay(t, &fakePublisher{})

	tr.Push(session.Event{Kind: session.EventDisconnected, Stream: tr.Last(), Err: errors.New("eof")})
	r.Tick(context.Background(), now.Add(10*time.Millisecond))

	if tr.Opens() != 2 {
		t.Fatalf("opens = %d", tr.Opens())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	tr := sessiontest.New()
	r := New(tr, &fakePublisher{}, Config{Session: session.Config{Go: sessiontest.Inline}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v", err)
	}
	if s := tr.Last(); s == nil || !s.Closed() {
		t.Fatal("Run must close the session on exit")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
