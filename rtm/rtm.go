// Package rtm decodes Slack real time messaging frames and encodes the
// keep-alive command sent back over the stream.
package rtm

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/harveysanders/slackpixels/display"
)

// Kind classifies a decoded frame.
type Kind uint8

const (
	KindUnrecognized Kind = iota
	KindPing
	KindDisconnected
	KindMessage
	KindConnected
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindDisconnected:
		return "disconnected"
	case KindMessage:
		return "message"
	case KindConnected:
		return "connected"
	default:
		return "unrecognized"
	}
}

var (
	// ErrMalformed is returned for frames that are not a JSON object.
	ErrMalformed = errors.New("malformed frame")
	// ErrMissingField is returned when a field the frame type requires is absent.
	ErrMissingField = errors.New("missing field")
)

// DecodeError describes why a frame was rejected.
type DecodeError struct {
	Err    error
	Reason string
}

func (e *DecodeError) Error() string {
	return "rtm:" + e.Err.Error() + ": " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Event is the result of decoding one frame.
type Event struct {
	Kind Kind
	// Type is the raw "type" field of the frame.
	Type string
	// Text is set for KindMessage, unescaped and cut to display.Capacity characters.
	Text string
	// Truncated reports that Text was cut.
	Truncated bool
	// Hint is an endpoint URL carried by KindConnected frames, if any.
	Hint string
}

type frame struct {
	Type *string `json:"type"`
	Text *string `json:"text"`
	URL  string  `json:"url"`
}

var unescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")

// Decode classifies a text frame received on the stream.
func Decode(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Event{}, &DecodeError{Err: ErrMalformed, Reason: err.Error()}
	}
	if f.Type == nil {
		return Event{}, &DecodeError{Err: ErrMissingField, Reason: "type"}
	}

	ev := Event{Type: *f.Type}
	switch ev.Type {
	case "message":
		if f.Text == nil {
			return Event{}, &DecodeError{Err: ErrMissingField, Reason: "text"}
		}
		ev.Kind = KindMessage
		ev.Text, ev.Truncated = truncate(unescaper.Replace(*f.Text), display.Capacity)
	case "ping", "pong":
		ev.Kind = KindPing
	case "goodbye":
		ev.Kind = KindDisconnected
	case "hello", "reconnect_url":
		ev.Kind = KindConnected
		ev.Hint = f.URL
	default:
		ev.Kind = KindUnrecognized
	}
	return ev, nil
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) (string, bool) {
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}

// AppendPing appends the keep-alive command with the given id to dst.
func AppendPing(dst []byte, id uint64) []byte {
	dst = append(dst, `{"type":"ping","id":`...)
	dst = strconv.AppendUint(dst, id, 10)
	return append(dst, '}')
}
