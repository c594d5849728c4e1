// Package controller runs the driver loop: each tick it drains transport
// events, advances the session, restarts the animation when a new message
// arrived and steps the animation.
package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/harveysanders/slackpixels/display"
	"github.com/harveysanders/slackpixels/rtm"
	"github.com/harveysanders/slackpixels/sequencer"
	"github.com/harveysanders/slackpixels/session"
)

// maxEventsPerTick bounds the time one tick spends draining events.
const maxEventsPerTick = 32

// TextDisplay shows the current message on the character display.
type TextDisplay interface {
	ShowText(text string)
}

// Config configures a Controller.
type Config struct {
	Session   session.Config
	Sequencer sequencer.Config
	// Screen is optional.
	Screen TextDisplay
	Logger *slog.Logger
}

// Controller owns the session, the display buffer and the animation.
type Controller struct {
	session *session.Session
	events  <-chan session.Event
	buffer  display.Buffer
	seq     *sequencer.Sequencer
	screen  TextDisplay
	log     *slog.Logger
}

// New wires a controller to a transport and the LED output.
func New(t session.Transport, out sequencer.Output, cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = logger
	}
	if cfg.Sequencer.Logger == nil {
		cfg.Sequencer.Logger = logger
	}
	return &Controller{
		session: session.New(t, cfg.Session),
		events:  t.Events(),
		seq:     sequencer.New(out, cfg.Sequencer),
		screen:  cfg.Screen,
		log:     logger,
	}
}

// Session returns the controller's session.
func (c *Controller) Session() *session.Session { return c.session }

// Sequencer returns the controller's animation.
func (c *Controller) Sequencer() *sequencer.Sequencer { return c.seq }

// Buffer returns the display buffer.
func (c *Controller) Buffer() *display.Buffer { return &c.buffer }

// Run calls Tick every interval until ctx is done, then closes the session.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer c.session.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx, time.Now())
		}
	}
}

// Tick runs one iteration of the driver loop.
func (c *Controller) Tick(ctx context.Context, now time.Time) {
	c.drain()
	c.session.Tick(ctx, now)

	if text, ok := c.buffer.Consume(); ok {
		if c.screen != nil {
			c.screen.ShowText(string(text))
		}
		c.seq.Restart(text, now)
	}
	c.seq.Step(now)
}

func (c *Controller) drain() {
	for i := 0; i < maxEventsPerTick; i++ {
		select {
		case ev := <-c.events:
			c.handle(ev)
		default:
			return
		}
	}
}

func (c *Controller) handle(ev session.Event) {
	switch ev.Kind {
	case session.EventConnected:
		c.log.Info("ctl:stream-open", slog.String("endpoint", string(ev.Data)))
	case session.EventDisconnected:
		c.session.HandleDisconnect(ev.Stream, ev.Err)
	case session.EventText:
		c.handleFrame(ev)
	}
}

func (c *Controller) handleFrame(ev session.Event) {
	msg, err := rtm.Decode(ev.Data)
	if err != nil {
		c.log.Warn("rtm:decode-failed", slog.String("err", err.Error()))
		return
	}

	switch msg.Kind {
	case rtm.KindMessage:
		truncated := c.buffer.Replace(msg.Text)
		c.log.Info("ctl:message", slog.String("text", msg.Text))
		if truncated || msg.Truncated {
			c.log.Info("ctl:message-truncated", slog.Int("kept", display.Capacity))
		}
	case rtm.KindDisconnected:
		c.session.HandleDisconnect(ev.Stream, errors.New("server said goodbye"))
	case rtm.KindConnected:
		c.log.Info("ctl:hello", slog.String("hint", msg.Hint))
	case rtm.KindPing:
		c.log.Debug("ctl:pong")
	default:
		c.log.Debug("ctl:ignored", slog.String("type", msg.Type))
	}
}
