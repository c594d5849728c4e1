// Package lcd provides a channel-based messaging system for HD44780 LCD displays.
//
// Example usage:
//
//	lcdMessages := make(chan lcd.Message, 4)
//	handler := lcd.NewHandler(device, lcdMessages, logger)
//	go handler.Run()
//
//	// Send messages non-blocking. Dropped if the handler is busy.
//	lcd.Send(lcdMessages, "Waiting for", "network")
package lcd

import (
	"errors"
	"io"
	"log/slog"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/hd44780i2c"
)

const (
	rows    = 2
	columns = 16
)

// Message represents a two-line LCD message.
type Message struct {
	Line1 []byte
	Line2 []byte
}

// Device is the subset of *hd44780i2c.Device the handler drives.
type Device interface {
	ClearDisplay()
	SetCursor(col, row uint8)
	Print(data []byte)
}

// Handler processes LCD messages from a channel.
type Handler struct {
	device   Device
	messages <-chan Message
	logger   *slog.Logger
	rows     int
	columns  int
}

// NewHandler creates a new 16x2 LCD message handler.
func NewHandler(device Device, messages <-chan Message, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	return &Handler{
		device:   device,
		messages: messages,
		logger:   logger,
		rows:     rows,
		columns:  columns,
	}
}

// Run processes messages from the channel and updates the LCD.
// Run should be called in a separate goroutine. It returns when the
// channel is closed.
func (h *Handler) Run() {
	for msg := range h.messages {
		h.display(msg)
	}
}

// display prints msg to the LCD.
func (h *Handler) display(msg Message) {
	h.logger.Debug("lcd:display", slog.String("line1", string(msg.Line1)))
	h.device.ClearDisplay()
	h.device.SetCursor(0, 0)

	// Truncate in-place, no allocation
	if len(msg.Line1) > h.columns {
		h.device.Print(msg.Line1[:h.columns])
	} else {
		h.device.Print(msg.Line1)
	}

	h.device.SetCursor(0, 1)
	if len(msg.Line2) > h.columns {
		h.device.Print(msg.Line2[:h.columns])
	} else {
		h.device.Print(msg.Line2)
	}
}

// Send queues a message without blocking. It reports false if the channel
// is full and the message was dropped.
func Send(messages chan<- Message, line1, line2 string) bool {
	select {
	case messages <- Message{Line1: []byte(line1), Line2: []byte(line2)}:
		return true
	default:
		return false
	}
}

// Screen shows whole texts on the LCD through a Handler's channel.
type Screen struct {
	messages chan<- Message
}

// NewScreen returns a Screen feeding messages.
func NewScreen(messages chan<- Message) *Screen {
	return &Screen{messages: messages}
}

// ShowText replaces the LCD content with the first page of text. Text that
// doesn't fit on two lines is cut.
func (s *Screen) ShowText(text string) {
	line1, line2 := Wrap(text, columns)
	Send(s.messages, line1, line2)
}

// Wrap splits text into two lines of at most width bytes, breaking at the
// last space that fits when there is one. Newlines force a break.
func Wrap(text string, width int) (line1, line2 string) {
	line1, rest := cut(text, width)
	line2, _ = cut(rest, width)
	return line1, line2
}

func cut(text string, width int) (line, rest string) {
	for i := 0; i < len(text) && i <= width; i++ {
		if text[i] == '\n' {
			return text[:i], text[i+1:]
		}
	}
	if len(text) <= width {
		return text, ""
	}
	for i := width; i > 0; i-- {
		if text[i] == ' ' {
			return text[:i], text[i+1:]
		}
	}
	return text[:width], text[width:]
}

// Configure takes a preconfigured I2C bus and initializes the first HD44780
// LCD that answers on one of addrs. Common backpack addresses are 0x27 and
// 0x3F.
func Configure(bus drivers.I2C, addrs ...uint8) (*hd44780i2c.Device, error) {
	var probe [1]byte
	for _, a := range addrs {
		if err := bus.Tx(uint16(a), nil, probe[:]); err != nil {
			continue
		}
		dev := hd44780i2c.New(bus, a)
		dev.Configure(hd44780i2c.Config{
			Width:  columns,
			Height: rows,
		})
		return &dev, nil
	}
	return nil, errors.New("LCD not found on any I2C address")
}
