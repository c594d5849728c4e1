package sequencer

import (
	"errors"
	"image/color"
	"reflect"
	"testing"
	"time"

	"github.com/harveysanders/slackpixels/pixelmap"
)

// frame is what the board showed after a flush: the lit LED or -1.
type frame struct {
	at  time.Duration
	lit int
}

type fakeOutput struct {
	cells  [pixelmap.Size]color.RGBA
	t0     time.Time
	now    time.Time
	frames []frame
}

func (f *fakeOutput) SetAll(c color.RGBA) {
	for i := range f.cells {
		f.cells[i] = c
	}
}

func (f *fakeOutput) SetOne(i int, c color.RGBA) error {
	if i < 0 || i >= len(f.cells) {
		return errors.New("out of range")
	}
	f.cells[i] = c
	return nil
}

func (f *fakeOutput) Flush() error {
	lit := -1
	for i, c := range f.cells {
		if c != Black {
			lit = i
		}
	}
	f.frames = append(f.frames, frame{at: f.now.Sub(f.t0), lit: lit})
	return nil
}

// pulses returns the LEDs lit, in order.
func (f *fakeOutput) pulses() []int {
	var out []int
	for _, fr := range f.frames {
		if fr.lit >= 0 {
			out = append(out, fr.lit)
		}
	}
	return out
}

func pos(t *testing.T, ch rune) int {
	t.Helper()
	p, ok := pixelmap.Lookup(ch, true)
	if !ok {
		t.Fatalf("%q is unmapped", ch)
	}
	return int(p)
}

// run steps the sequencer every 10ms from the current time until it goes
// idle or limit passes, and returns the elapsed time.
func run(s *Sequencer, out *fakeOutput, limit time.Duration) time.Duration {
	for elapsed := out.now.Sub(out.t0); elapsed <= limit; elapsed += 10 * time.Millisecond {
		out.now = out.t0.Add(elapsed)
		s.Step(out.now)
		if !s.Active() {
			return elapsed
		}
	}
	return limit
}

func newSequencer() (*Sequencer, *fakeOutput) {
	t0 := time.Now()
	out := &fakeOutput{t0: t0, now: t0}
	return New(out, Config{}), out
}

func TestSpellsMessage(t *testing.T) {
	s, out := newSequencer()
	s.Restart([]rune("hi?"), out.now)

	done := run(s, out, 10*time.Second)

	want := []frame{
		{0, -1}, // restart blanks the board
		{0, pos(t, 'h')},
		{500 * time.Millisecond, -1},
		{700 * time.Millisecond, pos(t, 'i')},
		{1200 * time.Millisecond, -1},
		{1400 * time.Millisecond, pos(t, '?')},
		{1900 * time.Millisecond, -1},
	}
	if !reflect.DeepEqual(out.frames, want) {
		t.Fatalf("frames = %v\nwant     %v", out.frames, want)
	}
	// Trailing pause starts when the last off phase ends at 2100ms.
	if done != 3100*time.Millisecond {
		t.Fatalf("animation ended at %v; want 3.1s", done)
	}
	if c := s.Cursor(); c.Active || c.Index != 0 {
		t.Fatalf("cursor after finishing = %+v", c)
	}
}

func TestSkipsUnmappedCharacters(t *testing.T) {
	s, out := newSequencer()
	s.Restart([]rune("a1b"), out.now)
	run(s, out, 10*time.Second)

	if got, want := out.pulses(), []int{pos(t, 'a'), pos(t, 'b')}; !reflect.DeepEqual(got, want) {
		t.Fatalf("pulses = %v; want %v", got, want)
	}
	// b starts right after a's off phase, no extra gap for the skipped 1.
	var bAt time.Duration
	for _, fr := range out.frames {
		if fr.lit == pos(t, 'b') {
			bAt = fr.at
		}
	}
	if bAt != 700*time.Millisecond {
		t.Fatalf("b lit at %v; want 700ms", bAt)
	}
}

func TestUpperCaseIsNormalized(t *testing.T) {
	s, out := newSequencer()
	s.Restart([]rune("HI"), out.now)
	run(s, out, 10*time.Second)

	if got, want := out.pulses(), []int{pos(t, 'h'), pos(t, 'i')}; !reflect.DeepEqual(got, want) {
		t.Fatalf("pulses = %v; want %v", got, want)
	}
}

func TestStepIsTimeGated(t *testing.T) {
	s, out := newSequencer()
	s.Restart([]rune("ab"), out.now)
	s.Step(out.now)
	n := len(out.frames)

	for _, d := range []time.Duration{1, 100 * time.Millisecond, 499 * time.Millisecond} {
		out.now = out.t0.Add(d)
		s.Step(out.now)
	}
	if len(out.frames) != n {
		t.Fatal("nothing may change before the on phase ends")
	}
	if c := s.Cursor(); c.Index != 0 || !c.Active {
		t.Fatalf("cursor = %+v", c)
	}
}

func TestRestartPreemptsPulse(t *testing.T) {
	s, out := newSequencer()
	s.Restart([]rune("abcde"), out.now)
	run(s, out, 1500*time.Millisecond)
	if s.Cursor().Index != 2 {
		t.Fatalf("expected to be on the third character, cursor %+v", s.Cursor())
	}

	out.frames = nil
	s.Restart([]rune("xy"), out.now)
	if c := s.Cursor(); c.Index != 0 || !c.Active {
		t.Fatalf("cursor after restart = %+v", c)
	}
	run(s, out, 10*time.Second)

	if got, want := out.pulses(), []int{pos(t, 'x'), pos(t, 'y')}; !reflect.DeepEqual(got, want) {
		t.Fatalf("pulses = %v; want %v", got, want)
	}
}

func TestRestartWithSameTextStartsOver(t *testing.T) {
	s, out := newSequencer()
	text := []rune("hello")
	s.Restart(text, out.now)
	run(s, out, 800*time.Millisecond)

	s.Restart(text, out.now)
	if c := s.Cursor(); c.Index != 0 || !c.Active {
		t.Fatalf("cursor after identical restart = %+v", c)
	}
}

func TestEmptyTextOnlyPauses(t *testing.T) {
	s, out := newSequencer()
	s.Restart(nil, out.now)
	done := run(s, out, 10*time.Second)

	if len(out.pulses()) != 0 {
		t.Fatal("empty text must not light anything")
	}
	if done != time.Second {
		t.Fatalf("expected the trailing pause only, ended at %v", done)
	}
}

func TestInactiveStepDoesNothing(t *testing.T) {
	s, out := newSequencer()
	s.Step(out.now.Add(time.Hour))
	if len(out.frames) != 0 || s.Active() {
		t.Fatal("an idle sequencer must not touch the board")
	}
}

func TestCustomTimingAndColor(t *testing.T) {
	t0 := time.Now()
	out := &fakeOutput{t0: t0, now: t0}
	green := color.RGBA{G: 255, A: 255}
	s := New(out, Config{
		Timing: Timing{On: 100 * time.Millisecond, Off: 50 * time.Millisecond, Trailing: 200 * time.Millisecond},
		Color:  green,
	})
	s.Restart([]rune("a"), t0)
	s.Step(t0)
	if out.cells[pos(t, 'a')] != green {
		t.Fatal("expected the configured color")
	}
	if done := run(s, out, time.Second); done != 350*time.Millisecond {
		t.Fatalf("ended at %v; want 350ms", done)
	}
}
