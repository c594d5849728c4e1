// Package sequencer spells a message on the LED board one character at a
// time. Each mapped character gets a pulse: its LED is lit for the on phase,
// then the board is blank for the off phase. After the last character the
// board stays blank for a trailing pause and the animation ends.
//
// Step never blocks. It compares the time passed in against the start of the
// current phase, so the driver loop keeps servicing the network between
// phases.
package sequencer

import (
	"image/color"
	"io"
	"log/slog"
	"time"

	"github.com/harveysanders/slackpixels/pixelmap"
)

// Output is the LED array being animated.
type Output interface {
	SetAll(c color.RGBA)
	SetOne(index int, c color.RGBA) error
	Flush() error
}

// Timing holds the phase durations.
type Timing struct {
	On       time.Duration
	Off      time.Duration
	Trailing time.Duration
}

// DefaultTiming is 500ms lit, 200ms blank between characters and a 1s pause
// after the message.
var DefaultTiming = Timing{
	On:       500 * time.Millisecond,
	Off:      200 * time.Millisecond,
	Trailing: time.Second,
}

var (
	// White is the default pulse color.
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	// Black turns an LED off.
	Black = color.RGBA{}
)

// Cursor is the position of the animation within its text.
type Cursor struct {
	Index  int
	Active bool
}

type phase uint8

const (
	phaseNext phase = iota // ready to start the character at the cursor
	phaseOn
	phaseOff
	phaseTrailing
)

// Config configures a Sequencer. Zero values use the defaults.
type Config struct {
	Timing Timing
	Color  color.RGBA
	Logger *slog.Logger
}

// Sequencer is the animation state machine.
type Sequencer struct {
	out    Output
	timing Timing
	color  color.RGBA
	log    *slog.Logger

	text   []rune
	cursor Cursor
	phase  phase
	since  time.Time
}

// New returns an idle Sequencer drawing on out.
func New(out Output, cfg Config) *Sequencer {
	if cfg.Timing == (Timing{}) {
		cfg.Timing = DefaultTiming
	}
	if cfg.Color == (color.RGBA{}) {
		cfg.Color = White
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	return &Sequencer{out: out, timing: cfg.Timing, color: cfg.Color, log: logger}
}

// Cursor returns the current cursor.
func (s *Sequencer) Cursor() Cursor { return s.cursor }

// Active reports whether an animation is running.
func (s *Sequencer) Active() bool { return s.cursor.Active }

// Restart abandons any animation in progress and starts spelling text from
// its first character on the next Step. The board is blanked immediately.
func (s *Sequencer) Restart(text []rune, now time.Time) {
	s.text = text
	s.cursor = Cursor{Index: 0, Active: true}
	s.phase = phaseNext
	s.since = now
	s.blank()
}

// Step advances the animation to now. It does nothing while inactive or
// while the current phase has time left.
func (s *Sequencer) Step(now time.Time) {
	for s.cursor.Active {
		switch s.phase {
		case phaseNext:
			if !s.startNext(now) {
				return
			}
		case phaseOn:
			if now.Sub(s.since) < s.timing.On {
				return
			}
			s.blank()
			s.enter(phaseOff, now)
		case phaseOff:
			if now.Sub(s.since) < s.timing.Off {
				return
			}
			s.cursor.Index++
			s.enter(phaseNext, now)
		case phaseTrailing:
			if now.Sub(s.since) < s.timing.Trailing {
				return
			}
			s.cursor = Cursor{}
			s.enter(phaseNext, now)
			s.log.Debug("seq:done")
			return
		}
	}
}

// startNext lights the next mapped character, skipping unmapped ones, or
// begins the trailing pause at the end of the text. It reports whether the
// caller should keep stepping.
func (s *Sequencer) startNext(now time.Time) bool {
	for s.cursor.Index < len(s.text) {
		ch := s.text[s.cursor.Index]
		pos, ok := pixelmap.Lookup(ch, true)
		if !ok {
			s.log.Debug("seq:skip", slog.Int("index", s.cursor.Index))
			s.cursor.Index++
			continue
		}
		s.out.SetAll(Black)
		if err := s.out.SetOne(int(pos), s.color); err != nil {
			s.log.Error("seq:set-failed", slog.String("err", err.Error()))
		}
		s.flush()
		s.enter(phaseOn, now)
		return false
	}
	s.enter(phaseTrailing, now)
	return true
}

func (s *Sequencer) enter(p phase, now time.Time) {
	s.phase = p
	s.since = now
}

func (s *Sequencer) blank() {
	s.out.SetAll(Black)
	s.flush()
}

func (s *Sequencer) flush() {
	if err := s.out.Flush(); err != nil {
		s.log.Error("seq:flush-failed", slog.String("err", err.Error()))
	}
}
