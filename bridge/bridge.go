// Package bridge forwards Slack message frames from an RTM session to a
// publisher, so boards that cannot reach Slack themselves can follow along.
package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harveysanders/slackpixels/rtm"
	"github.com/harveysanders/slackpixels/session"
)

const (
	maxEventsPerTick = 32

	DefaultPublishTimeout = 5 * time.Second
	DefaultQueueSize      = 16
)

// Publisher sends a frame to the boards.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Config configures a Relay.
type Config struct {
	Session session.Config
	// PublishTimeout bounds each publish, reconnecting included.
	// Defaults to DefaultPublishTimeout.
	PublishTimeout time.Duration
	// QueueSize is how many frames may wait for the publisher before new
	// ones are dropped. Defaults to DefaultQueueSize.
	QueueSize int
	Logger    *slog.Logger
}

type frame struct {
	data []byte
	text string
}

// Relay keeps a session open and republishes every message frame verbatim.
// Publishing runs on its own goroutine so a stalled broker never holds up
// the session's keep-alives.
type Relay struct {
	session *session.Session
	events  <-chan session.Event
	pub     Publisher
	timeout time.Duration
	log     *slog.Logger

	queue     chan frame
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	forwarded atomic.Int64
}

// New returns a Relay reading from t and writing to pub. Close releases it.
func New(t session.Transport, pub Publisher, cfg Config) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = logger
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	r := &Relay{
		session: session.New(t, cfg.Session),
		events:  t.Events(),
		pub:     pub,
		timeout: cfg.PublishTimeout,
		log:     logger,
		queue:   make(chan frame, cfg.QueueSize),
		quit:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.publishLoop()
	return r
}

// Session returns the relay's session.
func (r *Relay) Session() *session.Session { return r.session }

// Forwarded returns how many frames were published.
func (r *Relay) Forwarded() int { return int(r.forwarded.Load()) }

// Run calls Tick every interval until ctx is done, then closes the relay.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer r.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx, time.Now())
		}
	}
}

// Close stops the publisher goroutine, dropping queued frames, and closes
// the session.
func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.quit)
		r.wg.Wait()
		err = r.session.Close()
	})
	return err
}

// Tick handles pending stream events and advances the session. It never
// waits on the publisher.
func (r *Relay) Tick(ctx context.Context, now time.Time) {
	r.drain()
	r.session.Tick(ctx, now)
}

func (r *Relay) drain() {
	for i := 0; i < maxEventsPerTick; i++ {
		select {
		case ev := <-r.events:
			r.handle(ev)
		default:
			return
		}
	}
}

func (r *Relay) handle(ev session.Event) {
	switch ev.Kind {
	case session.EventConnected:
		r.log.Info("relay:stream-open")
	case session.EventDisconnected:
		r.session.HandleDisconnect(ev.Stream, ev.Err)
	case session.EventText:
		msg, err := rtm.Decode(ev.Data)
		if err != nil {
			r.log.Warn("rtm:decode-failed", slog.String("err", err.Error()))
			return
		}
		switch msg.Kind {
		case rtm.KindMessage:
			select {
			case r.queue <- frame{data: ev.Data, text: msg.Text}:
			default:
				r.log.Error("relay:queue-full", slog.String("text", msg.Text))
			}
		case rtm.KindDisconnected:
			r.session.HandleDisconnect(ev.Stream, errors.New("server said goodbye"))
		}
	}
}

func (r *Relay) publishLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.quit:
			return
		case f := <-r.queue:
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			err := r.pub.Publish(ctx, f.data)
			cancel()
			if err != nil {
				r.log.Error("relay:publish-failed", slog.String("reason", err.Error()))
				continue
			}
			r.forwarded.Add(1)
			r.log.Info("relay:forwarded", slog.String("text", f.text))
		}
	}
}
