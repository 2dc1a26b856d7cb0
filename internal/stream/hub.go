package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/farmbridge/internal/telemetry"
)

const transport = "sse"

// DefaultPollInterval bounds how stale a session can get if a change
// notification is ever missed.
const DefaultPollInterval = time.Second

// Recorder observes session activity; nil disables it.
type Recorder interface {
	SessionOpened(transport string)
	SessionClosed(transport string)
	EventSent(transport string)
}

type Options struct {
	PollInterval  time.Duration
	ReplayCurrent bool
	Clock         clockwork.Clock
}

// WriteError means the client connection broke while an event was written.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("stream write: %v", e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

type Hub struct {
	cache    *telemetry.Cache
	opts     Options
	recorder Recorder
	log      zerolog.Logger
	active   atomic.Int64
}

func NewHub(cache *telemetry.Cache, opts Options, recorder Recorder, logger zerolog.Logger) *Hub {
	if opts.PollInterval < 0 {
		opts.PollInterval = 0
	} else if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Hub{
		cache:    cache,
		opts:     opts,
		recorder: recorder,
		log:      logger.With().Str("component", "stream").Logger(),
	}
}

// Sessions returns the number of open streams.
func (h *Hub) Sessions() int {
	return int(h.active.Load())
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sess := h.cache.NewSession(telemetry.SessionOptions{
		ReplayCurrent: h.opts.ReplayCurrent,
		PollInterval:  h.opts.PollInterval,
		Clock:         h.opts.Clock,
	})
	defer sess.Close()

	id := uuid.NewString()
	log := h.log.With().Str("session", id).Str("remote", r.RemoteAddr).Logger()
	h.opened()
	defer h.closed()
	log.Debug().Uint64("version", sess.LastSent()).Msg("stream opened")

	err := h.pump(r.Context(), w, flusher, sess)
	var werr *WriteError
	switch {
	case errors.As(err, &werr):
		log.Debug().Err(err).Msg("stream closed on write error")
	default:
		log.Debug().Msg("stream closed by client")
	}
}

func (h *Hub) pump(ctx context.Context, w io.Writer, flusher http.Flusher, sess *telemetry.Session) error {
	for {
		reading, err := sess.Next(ctx)
		if err != nil {
			return err
		}
		if err := WriteEvent(w, reading.Payload); err != nil {
			return err
		}
		flusher.Flush()
		if h.recorder != nil {
			h.recorder.EventSent(transport)
		}
	}
}

func (h *Hub) opened() {
	h.active.Add(1)
	if h.recorder != nil {
		h.recorder.SessionOpened(transport)
	}
}

func (h *Hub) closed() {
	h.active.Add(-1)
	if h.recorder != nil {
		h.recorder.SessionClosed(transport)
	}
}

// lineBreaks folds every SSE line terminator into \n.
var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// WriteEvent writes payload as one SSE event. A payload spanning several
// lines becomes several data lines so the browser rebuilds it with \n
// between them. CR and CRLF count as line breaks, as they do for the
// browser's parser.
func WriteEvent(w io.Writer, payload string) error {
	var b strings.Builder
	for _, line := range strings.Split(lineBreaks.Replace(payload), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(w, b.String()); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}
