//go:build tinygo

// Package cyw43439 brings up WiFi on the Pico W's CYW43439 chip and exposes
// the lneto stack as the dial and resolve functions the MQTT transport needs.
//
// Device and stack setup follow the examples in the soypat/cyw43439
// repository: https://github.com/soypat/cyw43439/tree/main/examples/common
package cyw43439

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/lneto/tcp"
	"github.com/soypat/lneto/x/xnet"
)

const (
	mtu      = cyw43439.MTU
	pollTime = 5 * time.Millisecond
)

// StackConfig configures the lneto stack.
type StackConfig struct {
	// Hostname is used for DHCP requests.
	Hostname string
	// MaxTCPPorts is the number of TCP ports to open for the stack.
	MaxTCPPorts int
	// TCPBufSize sizes each connection's receive and transmit buffers.
	// Defaults to 2030 (MTU - ethhdr - iphdr - tcphdr).
	TCPBufSize int
	Logger     *slog.Logger
	// RandSeed is an optional random seed for the stack's PRNG.
	RandSeed int64
}

// Stack wraps the lneto StackAsync and CYW43439 device for network operations.
type Stack struct {
	s          xnet.StackAsync
	dev        *cyw43439.Device
	log        *slog.Logger
	sendbuf    []byte
	tcpBufSize int
}

// NewConfiguredPicoWithStack initializes the CYW43439, joins the network and
// prepares the stack. Joining retries every 5 seconds until it succeeds.
func NewConfiguredPicoWithStack(ssid, pass string, cfg StackConfig) (*Stack, error) {
	if cfg.Hostname == "" {
		return nil, errors.New("empty hostname")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127), // Make temporary logger that does no logging.
		}))
	}

	start := time.Now()
	dev := cyw43439.NewPicoWDevice()
	dev.SetLogger(logger)

	logger.Info("wifi:init")
	if err := dev.Init(cyw43439.DefaultWifiConfig()); err != nil {
		return nil, errors.New("wifi init failed:" + err.Error())
	}
	logger.Info("cyw43439:Init", slog.Duration("duration", time.Since(start)))

	if len(pass) == 0 {
		logger.Info("wifi:joining open network", slog.String("ssid", ssid))
	} else {
		logger.Info("wifi:joining WPA secure network", slog.String("ssid", ssid), slog.Int("passlen", len(pass)))
	}
	for {
		err := dev.JoinWPA2(ssid, pass)
		if err == nil {
			break
		}
		logger.Error("wifi:join-failed", slog.String("err", err.Error()))
		time.Sleep(5 * time.Second)
	}

	mac, err := dev.HardwareAddr6()
	if err != nil {
		return nil, errors.New("get hardware address:" + err.Error())
	}
	logger.Info("wifi:joined", slog.String("mac", net.HardwareAddr(mac[:]).String()))

	stack := &Stack{
		dev:        dev,
		log:        logger,
		sendbuf:    make([]byte, mtu),
		tcpBufSize: cfg.TCPBufSize,
	}
	if stack.tcpBufSize <= 0 {
		stack.tcpBufSize = 2030
	}

	maxTCP := cfg.MaxTCPPorts
	if maxTCP < 1 {
		maxTCP = 1
	}
	err = stack.s.Reset(xnet.StackConfig{
		Hostname:        cfg.Hostname,
		MaxTCPConns:     maxTCP,
		RandSeed:        time.Since(start).Nanoseconds() ^ cfg.RandSeed,
		HardwareAddress: mac,
		MTU:             mtu,
	})
	if err != nil {
		return nil, errors.New("stack reset:" + err.Error())
	}

	dev.RecvEthHandle(func(pkt []byte) error {
		return stack.s.Demux(pkt, 0)
	})
	return stack, nil
}

// SetupWithDHCP requests an IPv4 address and the gateway's hardware address.
func (s *Stack) SetupWithDHCP() (*xnet.DHCPResults, error) {
	rstack := s.s.StackRetrying(50 * time.Millisecond)

	s.log.Info("DHCP:starting")
	results, err := rstack.DoDHCPv4([4]byte{}, 3*time.Second, 3)
	if err != nil {
		return nil, errors.New("dhcp failed:" + err.Error())
	}
	if err := s.s.AssimilateDHCPResults(results); err != nil {
		return nil, errors.New("assimilate dhcp:" + err.Error())
	}

	gatewayHW, err := rstack.DoResolveHardwareAddress6(results.Router, 500*time.Millisecond, 4)
	if err != nil {
		return nil, errors.New("resolve gateway:" + err.Error())
	}
	s.s.SetGateway6(gatewayHW)

	s.log.Info("DHCP:complete",
		slog.String("ourIP", results.AssignedAddr.String()),
		slog.String("router", results.Router.String()),
		slog.Uint64("lease_sec", uint64(results.TLease)),
	)
	return results, nil
}

// Serve moves packets between the device and the stack until ctx is done.
func (s *Stack) Serve(ctx context.Context) {
	for ctx.Err() == nil {
		send, recv, _ := s.recvAndSend()
		if send == 0 && recv == 0 {
			time.Sleep(pollTime)
		}
	}
}

func (s *Stack) recvAndSend() (send, recv int, err error) {
	gotPacket, errRecv := s.dev.PollOne()
	if gotPacket {
		recv = 1
	}
	if errRecv != nil {
		s.log.Error("RecvAndSend:PollOne", slog.String("err", errRecv.Error()))
	}

	send, err = s.s.Encapsulate(s.sendbuf, -1, 0)
	if err != nil {
		s.log.Error("RecvAndSend:Encapsulate", slog.Int("plen", send), slog.String("err", err.Error()))
	} else {
		err = errRecv
	}
	if send == 0 {
		return send, recv, err
	}

	err = s.dev.SendEth(s.sendbuf[:send])
	if err != nil {
		s.log.Error("RecvAndSend:SendEth", slog.Int("plen", send), slog.String("err", err.Error()))
	}
	return send, recv, err
}

// LookupIP resolves host over DNS. It has the shape of mqttlink.ResolveFunc.
func (s *Stack) LookupIP(ctx context.Context, host string) (netip.Addr, error) {
	if err := ctx.Err(); err != nil {
		return netip.Addr{}, err
	}
	const retries = 3
	addrs, err := s.s.StackRetrying(pollTime).DoLookupIP(host, attemptTimeout(ctx, 5*time.Second, retries), retries)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(addrs) == 0 {
		return netip.Addr{}, errors.New("no addresses returned")
	}
	return addrs[0], nil
}

// DialTCP opens a TCP connection to addr, an ip:port string, from a random
// local port. It has the shape of mqttlink.DialFunc.
func (s *Stack) DialTCP(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raddr, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, errors.New("dial " + addr + ":" + err.Error())
	}

	c := &conn{log: s.log}
	err = c.Conn.Configure(tcp.ConnConfig{
		RxBuf:             make([]byte, s.tcpBufSize),
		TxBuf:             make([]byte, s.tcpBufSize),
		TxPacketQueueSize: 3,
	})
	if err != nil {
		return nil, errors.New("tcp configure:" + err.Error())
	}

	localPort := uint16(s.s.Prand32()>>17) + 1024
	s.log.Info("socket:dialing", slog.String("addr", addr), slog.Uint64("localPort", uint64(localPort)))
	const retries = 3
	err = s.s.StackRetrying(pollTime).DoDialTCP(&c.Conn, localPort, raddr, attemptTimeout(ctx, 10*time.Second, retries), retries)
	if err != nil {
		c.Close()
		return nil, err
	}
	s.log.Info("tcp:connected", slog.String("state", c.State().String()))
	return c, nil
}

// attemptTimeout splits what is left of ctx across retries, capped at limit.
func attemptTimeout(ctx context.Context, limit time.Duration, retries int) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return limit
	}
	per := time.Until(deadline) / time.Duration(retries)
	if per < 100*time.Millisecond {
		per = 100 * time.Millisecond
	}
	return min(per, limit)
}

// Addr returns the current IP address of the stack.
func (s *Stack) Addr() netip.Addr {
	return s.s.Addr()
}

// conn closes gracefully, aborting if the peer does not finish the close
// within five seconds.
type conn struct {
	tcp.Conn
	log *slog.Logger
}

func (c *conn) Close() error {
	c.log.Info("tcpconn:closing")
	c.Conn.Close()
	for i := 0; i < 50 && !c.State().IsClosed(); i++ {
		time.Sleep(100 * time.Millisecond)
	}
	c.Conn.Abort()
	return nil
}
