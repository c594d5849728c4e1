//go:build !tinygo

package config

import (
	"os"
	"path/filepath"
	"testing"
)

// unsetEnv clears key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func TestFromEnv(t *testing.T) {
	for _, key := range []string{"SLACK_TOKEN", "MQTT_BROKER", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_TOPIC"} {
		unsetEnv(t, key)
	}
	t.Setenv("SLACK_TOKEN", "xoxb-env")

	path := filepath.Join(t.TempDir(), ".env")
	dotenv := "SLACK_TOKEN=xoxb-file\nMQTT_USERNAME=relay\nMQTT_TOPIC=office/board\n"
	if err := os.WriteFile(path, []byte(dotenv), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := FromEnv(path)
	if cfg.SlackToken != "xoxb-env" {
		t.Errorf("SlackToken = %q; the environment must win over the file", cfg.SlackToken)
	}
	if cfg.MQTTUsername != "relay" || cfg.Topic != "office/board" {
		t.Errorf("file values not loaded: %+v", cfg)
	}
	if cfg.Broker != "localhost:1883" {
		t.Errorf("Broker = %q; want the default", cfg.Broker)
	}
	if err := cfg.ValidateRelay(); err != nil {
		t.Errorf("ValidateRelay: %v", err)
	}
}

func TestFromEnvMissingFile(t *testing.T) {
	unsetEnv(t, "SLACK_TOKEN")
	t.Setenv("MQTT_BROKER", "broker.local:1883")

	cfg := FromEnv(filepath.Join(t.TempDir(), "missing.env"))
	if cfg.Broker != "broker.local:1883" {
		t.Errorf("Broker = %q", cfg.Broker)
	}
	if err := cfg.ValidateRelay(); err != ErrMissingToken {
		t.Errorf("ValidateRelay() = %v; want ErrMissingToken", err)
	}
}
