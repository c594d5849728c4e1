//go:build tinygo

// Command firmware runs the LED message board on a Raspberry Pi Pico W. It
// subscribes to the relay's MQTT topic and spells out every Slack message on
// the LED array, one character at a time, while the LCD shows the full text.
package main

import (
	"context"
	"log/slog"
	"machine"
	"time"

	"github.com/harveysanders/slackpixels/config"
	"github.com/harveysanders/slackpixels/controller"
	"github.com/harveysanders/slackpixels/firmware/cyw43439"
	"github.com/harveysanders/slackpixels/lcd"
	"github.com/harveysanders/slackpixels/mqttlink"
	"github.com/harveysanders/slackpixels/pixelmap"
	"github.com/harveysanders/slackpixels/pixels"
	"github.com/harveysanders/slackpixels/sequencer"
	"github.com/harveysanders/slackpixels/session"
	"tinygo.org/x/drivers/ws2812"
)

const (
	hostname     = "slackpixels"
	clientID     = "slackpixels-board"
	ledPin       = machine.GP2
	tickInterval = 20 * time.Millisecond
)

func main() {
	// Give the serial monitor a moment to attach.
	time.Sleep(2 * time.Second)
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg := config.FromBuild()
	if err := cfg.ValidateBoard(); err != nil {
		printErrForever(logger, "config", slog.String("reason", err.Error()))
	}

	// Setup LCD display over I2C
	err := machine.I2C0.Configure(machine.I2CConfig{
		SDA: machine.GP4,
		SCL: machine.GP5,
	})
	if err != nil {
		printErrForever(logger, "configure I2C", slog.String("reason", err.Error()))
	}
	screen, err := lcd.Configure(machine.I2C0, 0x27, 0x3F)
	if err != nil {
		printErrForever(logger, "configure LCD", slog.String("reason", err.Error()))
	}
	lcdMessages := make(chan lcd.Message, 4)
	go lcd.NewHandler(screen, lcdMessages, logger).Run()
	lcd.Send(lcdMessages, "Starting...", "")

	ledPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	leds := ws2812.New(ledPin)
	strip := pixels.New(&leds, pixelmap.Size, pixels.OrderRGB)
	strip.SetAll(sequencer.Black)
	if err := strip.Flush(); err != nil {
		logger.Error("leds:flush-failed", slog.String("reason", err.Error()))
	}

	lcd.Send(lcdMessages, "Waiting for", "network")
	stack, err := cyw43439.NewConfiguredPicoWithStack(cfg.SSID, cfg.WiFiPassword, cyw43439.StackConfig{
		Hostname:    hostname,
		MaxTCPPorts: 1,
		Logger:      logger,
	})
	if err != nil {
		printErrForever(logger, "setup wifi", slog.String("reason", err.Error()))
	}

	ctx := context.Background()
	go stack.Serve(ctx)

	for {
		_, err := stack.SetupWithDHCP()
		if err == nil {
			break
		}
		logger.Error("dhcp:failed", slog.String("reason", err.Error()))
		time.Sleep(2 * time.Second)
	}

	transport := mqttlink.New(mqttlink.Config{
		Broker:   cfg.Broker,
		ClientID: clientID,
		Username: cfg.MQTTUsername,
		Topic:    cfg.Topic,
		Resolve:  stack.LookupIP,
		Dial:     stack.DialTCP,
		Logger:   logger,
	})
	ctrl := controller.New(transport, strip, controller.Config{
		Session: session.Config{Credential: cfg.MQTTPassword},
		Screen:  lcd.NewScreen(lcdMessages),
		Logger:  logger,
	})

	lcd.Send(lcdMessages, "Ready", stack.Addr().String())
	logger.Info("board:ready", slog.String("ip", stack.Addr().String()))
	if err := ctrl.Run(ctx, tickInterval); err != nil {
		printErrForever(logger, "controller stopped", slog.String("reason", err.Error()))
	}
}

// printErrForever prints a string to serial @ 1hz. It blocks forever.
func printErrForever(logger *slog.Logger, msg string, args ...any) {
	for {
		logger.Error(msg, args...)
		time.Sleep(time.Second)
	}
}
