package mqttlink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"
)

// Publisher forwards frames to the topic, connecting on first use and
// reconnecting after a failed publish.
type Publisher struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	client   *mqtt.Client
	rwc      io.ReadWriteCloser
	packetID uint16
}

// NewPublisher returns a disconnected Publisher. Its connections announce
// no MQTT keep alive so the broker keeps them open between messages.
func NewPublisher(cfg Config) *Publisher {
	cfg = cfg.withDefaults()
	cfg.KeepAlive = 0
	return &Publisher{cfg: cfg, log: cfg.Logger}
}

// Publish sends payload to the topic. A failed publish is retried once on a
// fresh connection.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if p.client == nil || !p.client.IsConnected() {
			if err = p.connect(ctx); err != nil {
				continue
			}
		}
		vp := mqtt.VariablesPublish{
			TopicName:        []byte(p.cfg.Topic),
			PacketIdentifier: nextPacketID(&p.packetID),
		}
		if deadline, ok := ctx.Deadline(); ok {
			p.setDeadline(deadline)
		}
		if err = p.client.PublishPayload(pubFlags, vp, payload); err == nil {
			p.setDeadline(time.Time{})
			p.log.Debug("mqtt:published", slog.Int("len", len(payload)))
			return nil
		}
		p.log.Error("mqtt:publish-failed", slog.String("reason", err.Error()))
		p.closeLocked()
	}
	return err
}

func (p *Publisher) setDeadline(t time.Time) {
	if d, ok := p.rwc.(deadliner); ok {
		d.SetDeadline(t)
	}
}

func (p *Publisher) connect(ctx context.Context) error {
	p.closeLocked()
	client, rwc, err := connect(ctx, p.cfg, p.cfg.Broker, p.cfg.Password, mqtt.ClientConfig{})
	if err != nil {
		return err
	}
	p.client, p.rwc = client, rwc
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Publisher) closeLocked() error {
	if p.client == nil {
		return nil
	}
	p.client.Disconnect(errors.New("closing"))
	err := p.rwc.Close()
	p.client, p.rwc = nil, nil
	return err
}
