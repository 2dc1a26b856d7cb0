package ingestion

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/farmbridge/internal/models"
	"github.com/farmbridge/internal/mqttclient"
)

// MessageSource is the inbound side of the broker link.
type MessageSource interface {
	Messages() <-chan mqttclient.Message
}

// Setter stores a new telemetry payload.
type Setter interface {
	Set(payload string) models.Reading
}

// Counter records ingestion outcomes; nil disables counting.
type Counter interface {
	Accepted()
	Ignored()
}

// Service is the single consumer of broker messages. It feeds payloads from
// the telemetry topic into the cache and ignores everything else.
type Service struct {
	source  MessageSource
	cache   Setter
	topic   string
	counter Counter
	log     zerolog.Logger
}

func New(source MessageSource, cache Setter, topic string, counter Counter, logger zerolog.Logger) *Service {
	return &Service{
		source:  source,
		cache:   cache,
		topic:   topic,
		counter: counter,
		log:     logger.With().Str("component", "ingestion").Logger(),
	}
}

// Run drains messages until the source closes its channel or ctx ends.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info().Str("topic", s.topic).Msg("ingestion service started")
	msgs := s.source.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			s.handle(msg)
		}
	}
}

func (s *Service) handle(msg mqttclient.Message) {
	if msg.Topic != s.topic {
		s.log.Debug().Str("topic", msg.Topic).Msg("ignoring message on unrecognized topic")
		if s.counter != nil {
			s.counter.Ignored()
		}
		return
	}

	r := s.cache.Set(string(msg.Payload))
	if s.counter != nil {
		s.counter.Accepted()
	}
	s.log.Info().Str("payload", r.Payload).Uint64("version", r.Version).Msg("soil moisture")
}
