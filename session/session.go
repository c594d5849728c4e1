// Package session keeps a live stream to the messaging service. It performs
// the endpoint handshake, sends keep-alives on a fixed cadence and reconnects
// after failures, forever.
//
// A Session is driven by calling Tick from a single loop. The handshake runs
// off the loop so a slow network never stalls the caller; its outcome is
// picked up by a later Tick.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/harveysanders/slackpixels/rtm"
)

const (
	DefaultKeepAliveInterval = 5 * time.Second
	DefaultHandshakeTimeout  = 5 * time.Second
	// MinRetryDelay is the shortest wait between failed handshakes.
	MinRetryDelay = 500 * time.Millisecond
)

// State is the connection state of a Session.
type State uint8

const (
	Disconnected State = iota
	Handshaking
	Connected
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config configures a Session.
type Config struct {
	// Credential is handed to Transport.LookupEndpoint on every handshake.
	Credential string
	// KeepAliveInterval defaults to DefaultKeepAliveInterval.
	KeepAliveInterval time.Duration
	// HandshakeTimeout bounds lookup and stream open together.
	// Defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	// Backoff picks the wait after a failed handshake. Waits shorter than
	// MinRetryDelay are raised to it. Defaults to an exponential policy
	// starting at MinRetryDelay and capped at 30s.
	Backoff backoff.BackOff
	Logger  *slog.Logger
	// Go starts the handshake. Defaults to running it on a new goroutine.
	Go func(func())
}

type handshakeResult struct {
	endpoint string
	stream   Stream
	err      error
}

// Session owns the connection lifecycle.
type Session struct {
	transport Transport
	cfg       Config
	log       *slog.Logger

	state         State
	stream        Stream
	lastKeepAlive time.Time
	nextID        uint64
	retryAt       time.Time

	// results receives the outcome of the handshake started at handshakeAt.
	results     chan handshakeResult
	handshakeAt time.Time
	cancel      context.CancelFunc
	sendBuf     []byte
}

// New returns a disconnected Session. Nothing happens until the first Tick.
func New(t Transport, cfg Config) *Session {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Backoff == nil {
		cfg.Backoff = defaultBackoff()
	}
	if cfg.Go == nil {
		cfg.Go = func(f func()) { go f() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	return &Session{
		transport: t,
		cfg:       cfg,
		log:       logger,
		nextID:    1,
		sendBuf:   make([]byte, 0, 48),
	}
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = MinRetryDelay
	b.Multiplier = 1.5
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// State returns the current connection state.
func (s *Session) State() State { return s.state }

// NextCommandID returns the id the next keep-alive will carry.
func (s *Session) NextCommandID() uint64 { return s.nextID }

// RetryAt returns the earliest time the next handshake may start.
func (s *Session) RetryAt() time.Time { return s.retryAt }

// Tick advances the state machine. While disconnected it starts a handshake
// once the retry delay has passed; while connected it sends a keep-alive when
// one is due.
func (s *Session) Tick(ctx context.Context, now time.Time) {
	switch s.state {
	case Disconnected:
		if now.Before(s.retryAt) {
			return
		}
		s.startHandshake(ctx, now)
		// Handshakes that finish synchronously complete within this tick.
		s.pollHandshake(now)
	case Handshaking:
		s.pollHandshake(now)
	case Connected:
		if now.Sub(s.lastKeepAlive) >= s.cfg.KeepAliveInterval {
			s.sendKeepAlive(now)
		}
	}
}

// HandleDisconnect forces the session to Disconnected after the transport
// reports that stream went away. Events for streams other than the current
// one are stale and ignored. A nil stream always applies. The next Tick
// starts a new handshake.
func (s *Session) HandleDisconnect(stream Stream, reason error) {
	if s.state != Connected {
		return
	}
	if stream != nil && stream != s.stream {
		s.log.Debug("session:stale-disconnect")
		return
	}
	if reason == nil {
		reason = errors.New("stream closed")
	}
	s.drop(reason)
}

// Close tears down the current stream and abandons a pending handshake.
// The Session must not be ticked afterwards.
func (s *Session) Close() error {
	if s.state == Handshaking {
		s.abandonHandshake()
	}
	var err error
	if s.stream != nil {
		err = s.stream.Close()
		s.stream = nil
	}
	s.state = Disconnected
	return err
}

func (s *Session) startHandshake(ctx context.Context, now time.Time) {
	s.state = Handshaking
	s.handshakeAt = now
	s.log.Info("session:handshake-start")

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	s.cancel = cancel
	s.results = make(chan handshakeResult, 1)
	transport, credential, results := s.transport, s.cfg.Credential, s.results
	s.cfg.Go(func() {
		defer cancel()
		results <- handshake(hctx, transport, credential)
	})
}

func handshake(ctx context.Context, t Transport, credential string) handshakeResult {
	endpoint, err := t.LookupEndpoint(ctx, credential)
	if err != nil {
		return handshakeResult{err: errors.New("lookup endpoint:" + err.Error())}
	}
	stream, err := t.OpenStream(ctx, endpoint)
	if err != nil {
		return handshakeResult{err: errors.New("open stream:" + err.Error())}
	}
	return handshakeResult{endpoint: endpoint, stream: stream}
}

// pollHandshake picks up the handshake's outcome. A handshake still running
// after HandshakeTimeout fails even if the transport ignores its context.
func (s *Session) pollHandshake(now time.Time) {
	var res handshakeResult
	select {
	case res = <-s.results:
	default:
		if now.Sub(s.handshakeAt) < s.cfg.HandshakeTimeout {
			return
		}
		s.abandonHandshake()
		s.handshakeFailed(now, errors.New("handshake timed out"))
		return
	}
	s.cancel = nil
	s.results = nil

	if res.err != nil {
		s.handshakeFailed(now, res.err)
		return
	}

	s.cfg.Backoff.Reset()
	s.stream = res.stream
	s.state = Connected
	s.log.Info("session:connected", slog.String("endpoint", res.endpoint))
	s.sendKeepAlive(now)
}

func (s *Session) handshakeFailed(now time.Time, err error) {
	delay := s.cfg.Backoff.NextBackOff()
	if delay == backoff.Stop || delay < MinRetryDelay {
		delay = MinRetryDelay
	}
	s.state = Disconnected
	s.retryAt = now.Add(delay)
	s.log.Error("session:handshake-failed",
		slog.String("err", err.Error()),
		slog.Duration("retry", delay),
	)
}

// abandonHandshake cancels the pending handshake. A stream it opens anyway
// is closed as soon as it arrives.
func (s *Session) abandonHandshake() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	results := s.results
	s.results = nil
	if results == nil {
		return
	}
	go func() {
		if res := <-results; res.stream != nil {
			res.stream.Close()
		}
	}()
}

func (s *Session) sendKeepAlive(now time.Time) {
	id := s.nextID
	s.nextID++
	s.lastKeepAlive = now
	s.sendBuf = rtm.AppendPing(s.sendBuf[:0], id)
	if err := s.stream.Send(s.sendBuf); err != nil {
		s.drop(errors.New("keep-alive:" + err.Error()))
		return
	}
	s.log.Debug("session:keepalive", slog.Uint64("id", id))
}

func (s *Session) drop(reason error) {
	s.log.Warn("session:disconnected", slog.String("reason", reason.Error()))
	if err := s.stream.Close(); err != nil {
		s.log.Debug("session:close-failed", slog.String("err", err.Error()))
	}
	s.stream = nil
	s.state = Disconnected
	s.retryAt = time.Time{}
}
