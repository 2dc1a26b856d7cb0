package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// parse runs args through a cli.App carrying ServerFlags and returns the
// resulting Config.
func parse(t *testing.T, args ...string) Config {
	t.Helper()
	var cfg Config
	app := &cli.App{
		Name:   "test",
		Flags:  ServerFlags(&cfg),
		Action: func(*cli.Context) error { return nil },
	}
	require.NoError(t, app.Run(append([]string{"test"}, args...)))
	return cfg
}

func TestFlags_Defaults(t *testing.T) {
	cfg := parse(t)

	assert.Equal(t, DefaultBrokerURL, cfg.BrokerURL)
	assert.Equal(t, "farmbot/command", cfg.CommandTopic)
	assert.Equal(t, "farmbot/soil", cfg.TelemetryTopic)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.KeepAlive)
	assert.False(t, cfg.ReplayCurrent)
	assert.NoError(t, cfg.Validate())
}

func TestFlags_Overrides(t *testing.T) {
	cfg := parse(t,
		"--broker", "tcp://localhost:1883",
		"--telemetry-topic", "lab/soil",
		"--port", "8080",
		"--poll-interval", "250ms",
		"--replay-current",
	)

	assert.Equal(t, "tcp://localhost:1883", cfg.BrokerURL)
	assert.Equal(t, "lab/soil", cfg.TelemetryTopic)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.True(t, cfg.ReplayCurrent)
}

func TestFlags_EnvFallback(t *testing.T) {
	t.Setenv("COMMAND_TOPIC", "lab/command")
	t.Setenv("PORT", "9000")

	cfg := parse(t)
	assert.Equal(t, "lab/command", cfg.CommandTopic)
	assert.Equal(t, 9000, cfg.Port)
}

func TestValidate(t *testing.T) {
	valid := func() Config { return parse(t) }

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad scheme", func(c *Config) { c.BrokerURL = "http://broker:1883" }},
		{"no host", func(c *Config) { c.BrokerURL = "tcp://" }},
		{"empty command topic", func(c *Config) { c.CommandTopic = "" }},
		{"empty telemetry topic", func(c *Config) { c.TelemetryTopic = "" }},
		{"wildcard command topic", func(c *Config) { c.CommandTopic = "farmbot/#" }},
		{"qos", func(c *Config) { c.QoS = 3 }},
		{"reconnect min", func(c *Config) { c.ReconnectMin = 0 }},
		{"reconnect max", func(c *Config) { c.ReconnectMax = c.ReconnectMin / 2 }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"port", func(c *Config) { c.Port = 70000 }},
		{"poll interval", func(c *Config) { c.PollInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLevel(t *testing.T) {
	cfg := Config{LogLevel: "debug"}
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())

	cfg.LogLevel = ""
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}
