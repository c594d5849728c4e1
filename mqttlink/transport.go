package mqttlink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/harveysanders/slackpixels/session"
	mqtt "github.com/soypat/natiu-mqtt"
)

// Transport subscribes to the relay's topic. It implements session.Transport.
type Transport struct {
	cfg    Config
	log    *slog.Logger
	events chan session.Event

	mu       sync.Mutex
	password string
}

// New returns a Transport.
func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		cfg:      cfg,
		log:      cfg.Logger,
		events:   make(chan session.Event, 8),
		password: cfg.Password,
	}
}

// Events delivers stream events for every stream this Transport opened.
func (t *Transport) Events() <-chan session.Event { return t.events }

// LookupEndpoint resolves the broker address. A non-empty credential
// replaces the configured MQTT password.
func (t *Transport) LookupEndpoint(ctx context.Context, credential string) (string, error) {
	if credential != "" {
		t.mu.Lock()
		t.password = credential
		t.mu.Unlock()
	}

	host, portStr, err := SplitHostPort(t.cfg.Broker)
	if err != nil {
		return "", errors.New("broker address " + t.cfg.Broker + ":" + err.Error())
	}
	port := ParsePort(portStr)
	if port == 0 {
		return "", errors.New("broker address " + t.cfg.Broker + ": bad port")
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr, port).String(), nil
	}
	if t.cfg.Resolve == nil {
		return host + ":" + portStr, nil
	}

	t.log.Info("dns:resolving " + host)
	addr, err := t.cfg.Resolve(ctx, host)
	if err != nil {
		return "", errors.New("dns lookup for " + host + ":" + err.Error())
	}
	t.log.Info("resolved IP: " + addr.String())
	return netip.AddrPortFrom(addr, port).String(), nil
}

// OpenStream connects to the broker and subscribes to the frame topic.
func (t *Transport) OpenStream(ctx context.Context, endpoint string) (session.Stream, error) {
	t.mu.Lock()
	password := t.password
	t.mu.Unlock()

	s := &stream{
		keepAliveTopic: []byte(KeepAliveTopic(t.cfg.Topic)),
		done:           make(chan struct{}),
	}
	client, rwc, err := connect(ctx, t.cfg, endpoint, password, mqtt.ClientConfig{
		OnPub: func(_ mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
			payload, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			if string(varPub.TopicName) != t.cfg.Topic {
				return nil
			}
			t.emit(s, session.Event{Kind: session.EventText, Stream: s, Data: payload})
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	s.client, s.rwc = client, rwc

	vsub := mqtt.VariablesSubscribe{
		PacketIdentifier: 1,
		TopicFilters: []mqtt.SubscribeRequest{
			{TopicFilter: []byte(t.cfg.Topic), QoS: mqtt.QoS0},
		},
	}
	d, canDeadline := rwc.(deadliner)
	if deadline, ok := ctx.Deadline(); ok && canDeadline {
		d.SetDeadline(deadline)
	}
	if err := client.Subscribe(ctx, vsub); err != nil {
		rwc.Close()
		return nil, errors.New("mqtt subscribe:" + err.Error())
	}
	if canDeadline {
		d.SetDeadline(time.Time{})
	}
	t.log.Info("mqtt:subscribed", slog.String("topic", t.cfg.Topic))

	go t.read(s, endpoint)
	return s, nil
}

// read handles incoming packets until the connection fails. It emits
// EventConnected first and exactly one EventDisconnected last.
func (t *Transport) read(s *stream, endpoint string) {
	t.emit(s, session.Event{Kind: session.EventConnected, Stream: s, Data: []byte(endpoint)})
	for {
		err := s.client.HandleNext()
		if err == nil && s.client.IsConnected() {
			continue
		}
		if err == nil {
			err = s.client.Err()
		}
		if err == nil {
			err = errors.New("mqtt: disconnected")
		}
		s.closeConn()
		t.log.Error("mqtt:disconnected", slog.String("reason", err.Error()))
		t.emit(s, session.Event{Kind: session.EventDisconnected, Stream: s, Err: err})
		return
	}
}

// emit delivers ev unless the consumer closed the stream first.
func (t *Transport) emit(s *stream, ev session.Event) {
	select {
	case t.events <- ev:
	case <-s.done:
	}
}

type stream struct {
	client         *mqtt.Client
	rwc            io.ReadWriteCloser
	keepAliveTopic []byte

	mu       sync.Mutex
	packetID uint16

	closeOnce sync.Once
	connOnce  sync.Once
	done      chan struct{}
}

// Send publishes payload to the keep-alive topic.
func (s *stream) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.client.IsConnected() {
		return errors.New("mqtt: not connected")
	}
	vp := mqtt.VariablesPublish{
		TopicName:        s.keepAliveTopic,
		PacketIdentifier: nextPacketID(&s.packetID),
	}
	return s.client.PublishPayload(pubFlags, vp, payload)
}

// Close returns without waiting on the network. No MQTT DISCONNECT is sent;
// the broker sees the connection close.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		go s.closeConn()
	})
	return nil
}

func (s *stream) closeConn() {
	s.connOnce.Do(func() { s.rwc.Close() })
}
