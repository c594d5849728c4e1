// Package slack implements session.Transport for Slack's real time messaging
// API: rtm.connect over HTTPS to obtain a websocket URL, then a websocket
// stream read on its own goroutine.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harveysanders/slackpixels/session"
)

// DefaultBaseURL is Slack's Web API host.
const DefaultBaseURL = "https://slack.com"

// Config configures a Transport. Zero values use defaults.
type Config struct {
	BaseURL      string
	HTTPClient   *http.Client
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Transport connects to Slack.
type Transport struct {
	cfg    Config
	log    *slog.Logger
	events chan session.Event
}

// New returns a Transport.
func New(cfg Config) *Transport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	return &Transport{
		cfg:    cfg,
		log:    logger,
		events: make(chan session.Event, 16),
	}
}

// Events delivers stream events for every stream this Transport opened.
func (t *Transport) Events() <-chan session.Event { return t.events }

type connectResponse struct {
	OK    bool   `json:"ok"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

// LookupEndpoint calls rtm.connect with the bot token and returns the
// websocket URL.
func (t *Transport) LookupEndpoint(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.BaseURL+"/api/rtm.connect", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New("rtm.connect: status " + strconv.Itoa(resp.StatusCode))
	}

	var body connectResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return "", errors.New("rtm.connect: decode:" + err.Error())
	}
	if !body.OK {
		return "", errors.New("rtm.connect: " + body.Error)
	}
	if body.URL == "" {
		return "", errors.New("rtm.connect: empty url")
	}
	return body.URL, nil
}

// OpenStream dials the websocket endpoint. The context only bounds the dial;
// the stream lives until it is closed or the server drops it.
func (t *Transport) OpenStream(ctx context.Context, endpoint string) (session.Stream, error) {
	conn, resp, err := t.cfg.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.New("websocket dial: status " + strconv.Itoa(resp.StatusCode) + ": " + err.Error())
		}
		return nil, errors.New("websocket dial:" + err.Error())
	}

	s := &stream{
		conn:         conn,
		writeTimeout: t.cfg.WriteTimeout,
		done:         make(chan struct{}),
	}
	go t.read(s, endpoint)
	return s, nil
}

// read pumps frames from the websocket into the events channel. It emits
// EventConnected first and exactly one EventDisconnected last.
func (t *Transport) read(s *stream, endpoint string) {
	t.emit(s, session.Event{Kind: session.EventConnected, Stream: s, Data: []byte(endpoint)})
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			s.conn.Close()
			t.log.Info("slack:stream-closed", slog.String("reason", err.Error()))
			t.emit(s, session.Event{Kind: session.EventDisconnected, Stream: s, Err: err})
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		if !t.emit(s, session.Event{Kind: session.EventText, Stream: s, Data: data}) {
			return
		}
	}
}

// emit delivers ev unless the consumer closed the stream first.
func (t *Transport) emit(s *stream, ev session.Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

type stream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (s *stream) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
