// Package command forwards user actions from the web UI to the device.
//
// Commands are fire-and-forget: the handler always answers 204 No Content,
// whether or not the publish reached the broker. A command that cannot be
// published is logged and dropped; it is a momentary user intent, not work
// to be queued.
package command

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/farmbridge/internal/models"
)

// FormField is the form field carrying the action.
const FormField = "action"

// Publisher sends a payload to the broker.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Recorder counts command outcomes; nil disables it.
type Recorder interface {
	CommandForwarded()
	CommandFailed()
}

type Gateway struct {
	publisher Publisher
	topic     string
	recorder  Recorder
	log       zerolog.Logger
}

func New(publisher Publisher, topic string, recorder Recorder, logger zerolog.Logger) *Gateway {
	return &Gateway{
		publisher: publisher,
		topic:     topic,
		recorder:  recorder,
		log:       logger.With().Str("component", "command").Logger(),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cmd := models.Command{Action: r.PostFormValue(FormField)}
	if cmd.Valid() {
		g.Forward(cmd)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Forward publishes cmd on the command topic and reports whether it was sent.
func (g *Gateway) Forward(cmd models.Command) bool {
	if err := g.publisher.Publish(g.topic, []byte(cmd.Action)); err != nil {
		g.log.Warn().Err(err).Str("action", cmd.Action).Msg("command dropped")
		if g.recorder != nil {
			g.recorder.CommandFailed()
		}
		return false
	}
	g.log.Info().Str("action", cmd.Action).Str("topic", g.topic).Msg("sent command")
	if g.recorder != nil {
		g.recorder.CommandForwarded()
	}
	return true
}
