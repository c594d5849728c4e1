// Command relay holds the Slack token, follows the workspace over the RTM
// API and republishes every message frame to MQTT for the boards.
//
// Settings come from the environment or a .env file:
//
//	SLACK_TOKEN    bot token used for rtm.connect (required)
//	MQTT_BROKER    host:port of the broker (default localhost:1883)
//	MQTT_USERNAME  broker username (optional)
//	MQTT_PASSWORD  broker password (optional, requires MQTT_USERNAME)
//	MQTT_TOPIC     topic the boards subscribe to (default slackpixels/rtm)
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/harveysanders/slackpixels/bridge"
	"github.com/harveysanders/slackpixels/config"
	"github.com/harveysanders/slackpixels/mqttlink"
	"github.com/harveysanders/slackpixels/session"
	"github.com/harveysanders/slackpixels/slack"
)

const tickInterval = 50 * time.Millisecond

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg := config.FromEnv()
	if err := cfg.ValidateRelay(); err != nil {
		logger.Error("config", slog.String("reason", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dialer net.Dialer
	pub := mqttlink.NewPublisher(mqttlink.Config{
		Broker:   cfg.Broker,
		ClientID: "slackpixels-relay-" + uuid.NewString(),
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
		Topic:    cfg.Topic,
		Dial: func(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
			return dialer.DialContext(ctx, "tcp", addr)
		},
		Logger: logger,
	})
	defer pub.Close()

	r := bridge.New(slack.New(slack.Config{Logger: logger}), pub, bridge.Config{
		Session: session.Config{Credential: cfg.SlackToken},
		Logger:  logger,
	})

	logger.Info("relay:starting", slog.String("broker", cfg.Broker))
	err := r.Run(ctx, tickInterval)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay:stopped", slog.String("reason", err.Error()))
		os.Exit(1)
	}
	logger.Info("relay:stopped", slog.Int("forwarded", r.Forwarded()))
}
