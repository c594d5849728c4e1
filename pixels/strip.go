// Package pixels buffers colors for an addressable LED strip and writes them
// out in one transfer.
package pixels

import (
	"errors"
	"image/color"
)

// ErrOutOfRange is returned by SetOne for an index outside the strip.
var ErrOutOfRange = errors.New("pixels: index out of range")

// Writer sends a full frame to the strip. ws2812.Device implements it.
type Writer interface {
	WriteColors(buf []color.RGBA) error
}

// Order is the byte order the strip's LEDs expect.
type Order uint8

const (
	// OrderGRB is the native WS2812 order and needs no conversion.
	OrderGRB Order = iota
	// OrderRGB is for strips whose red and green channels are swapped.
	OrderRGB
)

// Strip holds one color per LED. Changes are not visible until Flush.
type Strip struct {
	dev   Writer
	order Order
	buf   []color.RGBA
	out   []color.RGBA
}

// New returns a dark strip of n LEDs.
func New(dev Writer, n int, order Order) *Strip {
	return &Strip{
		dev:   dev,
		order: order,
		buf:   make([]color.RGBA, n),
		out:   make([]color.RGBA, n),
	}
}

// Len returns the number of LEDs.
func (s *Strip) Len() int { return len(s.buf) }

// SetAll sets every LED to c.
func (s *Strip) SetAll(c color.RGBA) {
	for i := range s.buf {
		s.buf[i] = c
	}
}

// SetOne sets LED i to c.
func (s *Strip) SetOne(i int, c color.RGBA) error {
	if i < 0 || i >= len(s.buf) {
		return ErrOutOfRange
	}
	s.buf[i] = c
	return nil
}

// At returns the buffered color of LED i.
func (s *Strip) At(i int) color.RGBA {
	if i < 0 || i >= len(s.buf) {
		return color.RGBA{}
	}
	return s.buf[i]
}

// Flush writes the buffered colors to the strip.
func (s *Strip) Flush() error {
	frame := s.buf
	if s.order == OrderRGB {
		// The driver sends G first; swapping makes the strip see R first.
		for i, c := range s.buf {
			s.out[i] = color.RGBA{R: c.G, G: c.R, B: c.B, A: c.A}
		}
		frame = s.out
	}
	if err := s.dev.WriteColors(frame); err != nil {
		return errors.New("pixels:write:" + err.Error())
	}
	return nil
}
