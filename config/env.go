//go:build !tinygo

package config

import (
	"os"

	"github.com/joho/godotenv"
)

// FromEnv reads the relay's settings from the environment. Variables found in
// the given .env files (or ./.env when none are named) fill in anything the
// environment does not already set.
func FromEnv(filenames ...string) Config {
	_ = godotenv.Load(filenames...)

	return Config{
		SlackToken:   os.Getenv("SLACK_TOKEN"),
		Broker:       getEnv("MQTT_BROKER", "localhost:1883"),
		MQTTUsername: os.Getenv("MQTT_USERNAME"),
		MQTTPassword: os.Getenv("MQTT_PASSWORD"),
		Topic:        os.Getenv("MQTT_TOPIC"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
