// Package config holds the settings both programs boot with. The board reads
// them from values linked into the binary, the relay from its environment.
package config

import "errors"

// Set with linker flags, e.g.
//
//	tinygo flash -target=pico-w -ldflags="-X github.com/harveysanders/slackpixels/config.ssid=home" ./firmware
var (
	ssid     string
	pass     string
	broker   string
	mqttUser string
	mqttPass string
	topic    string
)

var (
	ErrMissingSSID   = errors.New("config: missing WiFi SSID")
	ErrMissingToken  = errors.New("config: missing Slack token")
	ErrMissingBroker = errors.New("config: missing MQTT broker address")
)

// Config is read once at boot and never changes afterwards.
type Config struct {
	SSID         string
	WiFiPassword string
	// SlackToken is only read from the environment.
	SlackToken string
	// Broker is the MQTT broker's host:port.
	Broker       string
	MQTTUsername string
	MQTTPassword string
	// Topic is empty when the default topic is used.
	Topic string
}

// FromBuild returns the values linked into the binary.
func FromBuild() Config {
	return Config{
		SSID:         ssid,
		WiFiPassword: pass,
		Broker:       broker,
		MQTTUsername: mqttUser,
		MQTTPassword: mqttPass,
		Topic:        topic,
	}
}

// ValidateBoard reports the first setting the board cannot run without.
func (c Config) ValidateBoard() error {
	if c.SSID == "" {
		return ErrMissingSSID
	}
	if c.Broker == "" {
		return ErrMissingBroker
	}
	return nil
}

// ValidateRelay reports the first setting the relay cannot run without.
func (c Config) ValidateRelay() error {
	if c.SlackToken == "" {
		return ErrMissingToken
	}
	if c.Broker == "" {
		return ErrMissingBroker
	}
	return nil
}
