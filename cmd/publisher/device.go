package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/farmbridge/internal/config"
	"github.com/farmbridge/internal/logging"
	"github.com/farmbridge/internal/mqttclient"
)

// The publisher stands in for the farm device: it publishes soil readings on
// the telemetry topic and logs every command the bridge forwards to it.

const serviceName = "farmbot-publisher"

var cfg config.Config

var opts struct {
	Interval time.Duration
}

// produceFunc feeds readings to publish until ctx ends.
type produceFunc func(ctx context.Context, logger zerolog.Logger, publish func(string)) error

func newApp(produce produceFunc, flags ...cli.Flag) *cli.App {
	flags = append(config.BrokerFlags(&cfg), flags...)
	flags = append(flags, &cli.DurationFlag{
		Name:        "interval",
		Usage:       "time between simulated readings",
		Value:       time.Second,
		EnvVars:     []string{"PUBLISH_INTERVAL"},
		Destination: &opts.Interval,
	})
	return &cli.App{
		Name:    serviceName,
		Usage:   "publish soil readings and receive farmbot commands",
		Version: logging.CommitHash(),
		Flags:   flags,
		Before: func(*cli.Context) error {
			return cfg.ValidateBroker()
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, produce)
		},
	}
}

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(parent context.Context, produce produceFunc) error {
	logger := logging.New(serviceName, cfg.Level(), cfg.Console)
	mqttclient.RoutePahoLogs(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("arduino-pub-%d", time.Now().UnixNano())
	}
	link := mqttclient.New(
		mqttclient.PahoDialer(mqttclient.PahoOptions{
			BrokerURL:      cfg.BrokerURL,
			ClientID:       clientID,
			KeepAlive:      cfg.KeepAlive,
			ConnectTimeout: cfg.ConnectTimeout,
			PublishTimeout: cfg.PublishTimeout,
		}),
		mqttclient.Options{
			Topic:      cfg.CommandTopic,
			QoS:        byte(cfg.QoS),
			MinBackoff: cfg.ReconnectMin,
			MaxBackoff: cfg.ReconnectMax,
		},
		logger,
	)

	publish := func(payload string) {
		if err := link.Publish(cfg.TelemetryTopic, []byte(payload)); err != nil {
			logger.Warn().Err(err).Msg("publish failed")
			return
		}
		logger.Info().Str("payload", payload).Msg("published soil reading")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return link.Run(gctx) })
	g.Go(func() error {
		for msg := range link.Messages() {
			logger.Info().Str("topic", msg.Topic).Str("action", string(msg.Payload)).Msg("received command")
		}
		return nil
	})
	g.Go(func() error { return produce(gctx, logger, publish) })
	return g.Wait()
}

// simulate publishes a random raw moisture value every opts.Interval.
func simulate(ctx context.Context, logger zerolog.Logger, publish func(string)) error {
	logger.Info().Dur("interval", opts.Interval).Msg("simulating soil sensor")
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			publish(strconv.Itoa(300 + rand.Intn(500)))
		}
	}
}
