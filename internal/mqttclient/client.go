package mqttclient

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// PahoOptions configures the paho transport.
type PahoOptions struct {
	BrokerURL      string
	ClientID       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

type pahoSession struct {
	raw     mqtt.Client
	timeout time.Duration
}

// PahoDialer returns a Dialer that opens a fresh paho client per attempt.
// Paho's own reconnect logic is switched off; the Link decides when to dial.
func PahoDialer(opts PahoOptions) Dialer {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}

	return func(ctx context.Context, onLost func(error)) (Session, error) {
		o := mqtt.NewClientOptions()
		o.AddBroker(opts.BrokerURL)
		o.SetClientID(opts.ClientID)
		if opts.KeepAlive > 0 {
			o.SetKeepAlive(opts.KeepAlive)
		}
		o.SetConnectTimeout(opts.ConnectTimeout)
		o.SetAutoReconnect(false)
		o.SetConnectRetry(false)
		o.SetCleanSession(true)
		o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			onLost(err)
		})
		c := mqtt.NewClient(o)

		if err := wait(ctx, c.Connect(), opts.ConnectTimeout); err != nil {
			c.Disconnect(0)
			return nil, fmt.Errorf("connect to %s: %w", opts.BrokerURL, err)
		}
		return &pahoSession{raw: c, timeout: opts.PublishTimeout}, nil
	}
}

func (s *pahoSession) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := s.raw.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	return wait(context.Background(), token, s.timeout)
}

func (s *pahoSession) Publish(topic string, qos byte, payload []byte) error {
	return wait(context.Background(), s.raw.Publish(topic, qos, false, payload), s.timeout)
}

func (s *pahoSession) Close() {
	s.raw.Disconnect(250)
}

// wait blocks until the token completes, the timeout passes or ctx ends.
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	done := make(chan bool, 1)
	go func() { done <- token.WaitTimeout(timeout) }()

	select {
	case ok := <-done:
		if !ok {
			return ErrTimeout
		}
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pahoLogger adapts zerolog to paho's package-level Logger interface.
type pahoLogger struct {
	event func() *zerolog.Event
}

func (p pahoLogger) Println(v ...interface{}) {
	p.event().Msg(fmt.Sprint(v...))
}

func (p pahoLogger) Printf(format string, v ...interface{}) {
	p.event().Msgf(format, v...)
}

// RoutePahoLogs sends paho's warnings and errors to logger.
func RoutePahoLogs(logger zerolog.Logger) {
	l := logger.With().Str("component", "paho").Logger()
	mqtt.CRITICAL = pahoLogger{event: l.Error}
	mqtt.ERROR = pahoLogger{event: l.Error}
	mqtt.WARN = pahoLogger{event: l.Warn}
}
