// Package mqttlink carries RTM frames over MQTT. The relay publishes every
// Slack message frame to a topic with a Publisher; the board subscribes to
// that topic through a Transport, which implements session.Transport so the
// board runs the same session and keep-alive logic it would run against
// Slack directly. Keep-alives are published to the topic's /keepalive
// subtopic, which also keeps the MQTT connection from idling out.
package mqttlink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"
)

// DefaultTopic is where the relay publishes frames.
const DefaultTopic = "slackpixels/rtm"

var pubFlags, _ = mqtt.NewPublishFlags(mqtt.QoS0, false, false)

// DialFunc opens a byte stream to addr, a host:port string.
type DialFunc func(ctx context.Context, addr string) (io.ReadWriteCloser, error)

// ResolveFunc looks up the address of a host name.
type ResolveFunc func(ctx context.Context, host string) (netip.Addr, error)

// Config configures a Transport or Publisher.
type Config struct {
	// Broker is the MQTT broker's host:port.
	Broker   string
	ClientID string
	Username string
	// Password is used when the session credential is empty.
	Password string
	// Topic carries RTM frames. Defaults to DefaultTopic.
	Topic string
	// KeepAlive is the MQTT keep alive announced to the broker. Defaults to 30s.
	KeepAlive time.Duration
	// DecoderBufSize bounds topic names and other variable headers. Defaults to 512.
	DecoderBufSize int
	// Resolve is used when Broker names a host rather than an IP. When nil,
	// the host name is passed to Dial unchanged.
	Resolve ResolveFunc
	Dial    DialFunc
	Logger  *slog.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.DecoderBufSize <= 0 {
		cfg.DecoderBufSize = 512
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	return cfg
}

// KeepAliveTopic returns the topic keep-alive commands are published to.
func KeepAliveTopic(topic string) string {
	return topic + "/keepalive"
}

// nextPacketID advances id and returns it, skipping zero, which natiu
// rejects on every PUBLISH regardless of QoS.
func nextPacketID(id *uint16) uint16 {
	*id++
	if *id == 0 {
		*id = 1
	}
	return *id
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// connect opens a connection to endpoint and completes the MQTT handshake.
// The connection's deadline follows ctx during the handshake and is cleared
// afterwards.
func connect(ctx context.Context, cfg Config, endpoint, password string, ccfg mqtt.ClientConfig) (*mqtt.Client, io.ReadWriteCloser, error) {
	if cfg.Dial == nil {
		return nil, nil, errors.New("mqttlink: no dial function")
	}
	rwc, err := cfg.Dial(ctx, endpoint)
	if err != nil {
		return nil, nil, errors.New("dial " + endpoint + ":" + err.Error())
	}

	dl, canDeadline := rwc.(deadliner)
	if deadline, ok := ctx.Deadline(); ok && canDeadline {
		dl.SetDeadline(deadline)
	}

	ccfg.Decoder = mqtt.DecoderNoAlloc{UserBuffer: make([]byte, cfg.DecoderBufSize)}
	client := mqtt.NewClient(ccfg)

	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(cfg.ClientID))
	varconn.KeepAlive = uint16(cfg.KeepAlive / time.Second)
	if cfg.Username != "" {
		varconn.Username = []byte(cfg.Username)
		if password != "" {
			varconn.Password = []byte(password)
		}
	}

	cfg.Logger.Info("mqtt:start-connecting", slog.String("broker", endpoint))
	if err := client.StartConnect(rwc, &varconn); err != nil {
		rwc.Close()
		return nil, nil, errors.New("mqtt connect:" + err.Error())
	}
	for !client.IsConnected() {
		if ctx.Err() != nil {
			rwc.Close()
			return nil, nil, errors.New("mqtt connect:" + ctx.Err().Error())
		}
		if err := client.HandleNext(); err != nil {
			rwc.Close()
			return nil, nil, errors.New("mqtt connect:" + err.Error())
		}
	}

	if canDeadline {
		dl.SetDeadline(time.Time{})
	}
	return client, rwc, nil
}

// SplitHostPort splits a broker address into host and port. IPv6 hosts are
// written in brackets, "[::1]:1883", and returned without them.
func SplitHostPort(addr string) (host, port string, err error) {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return "", "", errors.New("missing port in address")
	}
	host, port = addr[:i], addr[i+1:]
	if strings.HasPrefix(host, "[") {
		if !strings.HasSuffix(host, "]") {
			return "", "", errors.New("missing ']' in address")
		}
		host = host[1 : len(host)-1]
	} else if strings.IndexByte(host, ':') >= 0 {
		return "", "", errors.New("IPv6 address must be in brackets")
	}
	switch {
	case host == "":
		return "", "", errors.New("empty host")
	case port == "":
		return "", "", errors.New("empty port")
	}
	return host, port, nil
}

// ParsePort converts a port string to uint16.
// Returns 0 if parsing fails (caller should validate).
func ParsePort(portStr string) uint16 {
	var port uint32
	for i := 0; i < len(portStr); i++ {
		if portStr[i] < '0' || portStr[i] > '9' {
			return 0
		}
		port = port*10 + uint32(portStr[i]-'0')
		if port > 65535 {
			return 0
		}
	}
	return uint16(port)
}
