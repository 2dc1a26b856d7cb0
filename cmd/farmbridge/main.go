package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/farmbridge/internal/command"
	"github.com/farmbridge/internal/config"
	"github.com/farmbridge/internal/ingestion"
	"github.com/farmbridge/internal/logging"
	"github.com/farmbridge/internal/metrics"
	"github.com/farmbridge/internal/mqttclient"
	"github.com/farmbridge/internal/server"
	"github.com/farmbridge/internal/stream"
	"github.com/farmbridge/internal/telemetry"
	"github.com/farmbridge/internal/websocket"
)

const serviceName = "farmbridge"

var cfg config.Config

func main() {
	app := &cli.App{
		Name:    serviceName,
		Usage:   "bridge farmbot MQTT telemetry and commands to the browser",
		Version: logging.CommitHash(),
		Flags:   config.ServerFlags(&cfg),
		Before: func(*cli.Context) error {
			return cfg.Validate()
		},
		Action: action,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func action(c *cli.Context) error {
	logger := logging.New(serviceName, cfg.Level(), cfg.Console)
	mqttclient.RoutePahoLogs(logger)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("farmbridge-%d", time.Now().UnixNano())
	}
	logger.Info().
		Str("broker", cfg.BrokerURL).
		Str("client_id", clientID).
		Str("telemetry_topic", cfg.TelemetryTopic).
		Str("command_topic", cfg.CommandTopic).
		Msg("starting bridge")

	link := mqttclient.New(
		mqttclient.PahoDialer(mqttclient.PahoOptions{
			BrokerURL:      cfg.BrokerURL,
			ClientID:       clientID,
			KeepAlive:      cfg.KeepAlive,
			ConnectTimeout: cfg.ConnectTimeout,
			PublishTimeout: cfg.PublishTimeout,
		}),
		mqttclient.Options{
			Topic:      cfg.TelemetryTopic,
			QoS:        byte(cfg.QoS),
			MinBackoff: cfg.ReconnectMin,
			MaxBackoff: cfg.ReconnectMax,
			OnStateChange: func(s mqttclient.State) {
				m.BrokerUp(s == mqttclient.Connected)
			},
		},
		logger,
	)

	cache := telemetry.NewCache(nil)
	ingest := ingestion.New(link, cache, cfg.TelemetryTopic, m, logger)

	sse := stream.NewHub(cache, stream.Options{
		PollInterval:  cfg.PollInterval,
		ReplayCurrent: cfg.ReplayCurrent,
	}, m, logger)
	ws := websocket.NewHub(cache, telemetry.SessionOptions{
		PollInterval:  cfg.PollInterval,
		ReplayCurrent: cfg.ReplayCurrent,
	}, m, logger)

	srv := server.New(fmt.Sprintf(":%d", cfg.Port), server.Deps{
		Commands:          command.New(link, cfg.CommandTopic, m, logger),
		Stream:            sse,
		WebSocket:         ws,
		StreamSessions:    sse,
		WebSocketSessions: ws,
		Cache:             cache,
		Broker:            link,
		Metrics:           metrics.Handler(reg),
	}, logger)

	logger.Info().Msgf("access the app on: http://localhost:%d", cfg.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return link.Run(gctx) })
	g.Go(func() error { return ingest.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	err := g.Wait()
	logger.Info().Msg("shutting down")
	if err != nil {
		logger.Error().Err(err).Msg("bridge stopped")
		return err
	}
	return nil
}
