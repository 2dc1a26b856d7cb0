// Package config defines the bridge's command-line flags and their
// environment variable fallbacks.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

const (
	DefaultBrokerURL      = "tcp://35.154.62.193:1883"
	DefaultCommandTopic   = "farmbot/command"
	DefaultTelemetryTopic = "farmbot/soil"
	DefaultPort           = 5000
)

type Config struct {
	BrokerURL      string
	ClientID       string
	CommandTopic   string
	TelemetryTopic string
	QoS            int
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration

	Port          int
	PollInterval  time.Duration
	ReplayCurrent bool

	LogLevel string
	Console  bool
}

// BrokerFlags are shared by every binary that talks to the broker.
func BrokerFlags(cfg *Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "broker",
			Usage:       "MQTT broker URL",
			Value:       DefaultBrokerURL,
			EnvVars:     []string{"BROKER_URL"},
			Destination: &cfg.BrokerURL,
		},
		&cli.StringFlag{
			Name:        "client-id",
			Usage:       "MQTT client identifier, generated when empty",
			EnvVars:     []string{"CLIENT_ID"},
			Destination: &cfg.ClientID,
		},
		&cli.StringFlag{
			Name:        "command-topic",
			Usage:       "topic commands are published on",
			Value:       DefaultCommandTopic,
			EnvVars:     []string{"COMMAND_TOPIC"},
			Destination: &cfg.CommandTopic,
		},
		&cli.StringFlag{
			Name:        "telemetry-topic",
			Usage:       "topic soil readings arrive on",
			Value:       DefaultTelemetryTopic,
			EnvVars:     []string{"TELEMETRY_TOPIC"},
			Destination: &cfg.TelemetryTopic,
		},
		&cli.IntFlag{
			Name:        "qos",
			Usage:       "MQTT quality of service for publish and subscribe",
			Value:       0,
			EnvVars:     []string{"MQTT_QOS"},
			Destination: &cfg.QoS,
		},
		&cli.DurationFlag{
			Name:        "keepalive",
			Usage:       "MQTT keepalive interval",
			Value:       60 * time.Second,
			EnvVars:     []string{"MQTT_KEEPALIVE"},
			Destination: &cfg.KeepAlive,
		},
		&cli.DurationFlag{
			Name:        "connect-timeout",
			Usage:       "how long a single connect attempt may take",
			Value:       10 * time.Second,
			EnvVars:     []string{"MQTT_CONNECT_TIMEOUT"},
			Destination: &cfg.ConnectTimeout,
		},
		&cli.DurationFlag{
			Name:        "publish-timeout",
			Usage:       "how long to wait for the broker to accept a publish",
			Value:       5 * time.Second,
			EnvVars:     []string{"MQTT_PUBLISH_TIMEOUT"},
			Destination: &cfg.PublishTimeout,
		},
		&cli.DurationFlag{
			Name:        "reconnect-min",
			Usage:       "first delay before redialing the broker",
			Value:       time.Second,
			EnvVars:     []string{"MQTT_RECONNECT_MIN"},
			Destination: &cfg.ReconnectMin,
		},
		&cli.DurationFlag{
			Name:        "reconnect-max",
			Usage:       "upper bound for the redial delay",
			Value:       30 * time.Second,
			EnvVars:     []string{"MQTT_RECONNECT_MAX"},
			Destination: &cfg.ReconnectMax,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "debug, info, warn or error",
			Value:       "info",
			EnvVars:     []string{"LOG_LEVEL"},
			Destination: &cfg.LogLevel,
		},
		&cli.BoolFlag{
			Name:        "console",
			Usage:       "human readable logs instead of JSON",
			EnvVars:     []string{"CONSOLE"},
			Destination: &cfg.Console,
		},
	}
}

// ServerFlags adds the HTTP and stream settings of the bridge.
func ServerFlags(cfg *Config) []cli.Flag {
	return append(BrokerFlags(cfg),
		&cli.IntFlag{
			Name:        "port",
			Usage:       "HTTP port to listen on",
			Value:       DefaultPort,
			EnvVars:     []string{"PORT"},
			Destination: &cfg.Port,
		},
		&cli.DurationFlag{
			Name:        "poll-interval",
			Usage:       "how often a stream re-checks the cache without a change notification",
			Value:       time.Second,
			EnvVars:     []string{"STREAM_POLL_INTERVAL"},
			Destination: &cfg.PollInterval,
		},
		&cli.BoolFlag{
			Name:        "replay-current",
			Usage:       "send the current reading to a stream as soon as it opens",
			EnvVars:     []string{"STREAM_REPLAY_CURRENT"},
			Destination: &cfg.ReplayCurrent,
		},
	)
}

// ValidateBroker checks the settings used by BrokerFlags.
func (c *Config) ValidateBroker() error {
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ws":
	default:
		return fmt.Errorf("broker: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("broker: missing host")
	}

	for name, topic := range map[string]string{
		"command-topic":   c.CommandTopic,
		"telemetry-topic": c.TelemetryTopic,
	} {
		if topic == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	if strings.ContainsAny(c.CommandTopic, "+#") {
		return fmt.Errorf("command-topic %q must not contain wildcards", c.CommandTopic)
	}
	if c.QoS < 0 || c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.ReconnectMin <= 0 {
		return errors.New("reconnect-min must be positive")
	}
	if c.ReconnectMax < c.ReconnectMin {
		return fmt.Errorf("reconnect-max (%v) is below reconnect-min (%v)", c.ReconnectMax, c.ReconnectMin)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	return nil
}

// Validate checks every setting of the bridge.
func (c *Config) Validate() error {
	if err := c.ValidateBroker(); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.PollInterval <= 0 {
		return errors.New("poll-interval must be positive")
	}
	return nil
}

// Level returns the parsed log level, info when it cannot be parsed.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
