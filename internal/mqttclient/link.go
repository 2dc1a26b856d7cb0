// Package mqttclient owns the single broker connection of the process.
//
// A Link dials through a Dialer, subscribes to its topic on every successful
// connect, and redials with exponential backoff whenever the connection is
// lost. Inbound messages are pushed onto the channel returned by Messages.
package mqttclient

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Session is one established broker connection.
type Session interface {
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Publish(topic string, qos byte, payload []byte) error
	Close()
}

// Dialer opens a Session. onLost must be called at most once, when the
// session drops without Close having been called.
type Dialer func(ctx context.Context, onLost func(error)) (Session, error)

// State is the connection state of a Link.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Message is an inbound publish.
type Message struct {
	Topic   string
	Payload []byte
}

type Options struct {
	// Topic is subscribed after every connect. Empty means publish only.
	Topic      string
	QoS        byte
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// Buffer is the capacity of the Messages channel.
	Buffer int
	Clock  clockwork.Clock
	// OnStateChange, if set, is called on every state transition.
	OnStateChange func(State)
}

type lostEvent struct {
	generation uint64
	err        error
}

type Link struct {
	dial Dialer
	opts Options
	log  zerolog.Logger

	lost chan lostEvent
	done chan struct{}

	deliverMu sync.RWMutex
	closed    bool
	messages  chan Message

	mu         sync.RWMutex
	session    Session
	state      State
	generation uint64
}

func New(dial Dialer, opts Options, logger zerolog.Logger) *Link {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
		if opts.MaxBackoff < opts.MinBackoff {
			opts.MaxBackoff = opts.MinBackoff
		}
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Link{
		dial:     dial,
		opts:     opts,
		log:      logger.With().Str("component", "mqtt").Logger(),
		lost:     make(chan lostEvent, 1),
		done:     make(chan struct{}),
		messages: make(chan Message, opts.Buffer),
	}
}

// Messages delivers every message received on the subscribed topic. It is
// closed when Run returns.
func (l *Link) Messages() <-chan Message {
	return l.messages
}

func (l *Link) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Link) Connected() bool {
	return l.State() == Connected
}

// Run connects and keeps the link connected until ctx is cancelled. It
// retries forever; the only way out is cancellation.
//
// Every redial, whether after a failed dial or a lost session, waits the
// current backoff. The backoff resets only once a session has stayed up for
// MaxBackoff, so a broker that accepts and then drops the client is retried
// at the same growing pace as one that refuses it.
func (l *Link) Run(ctx context.Context) error {
	defer l.shutdown()

	backoff := l.opts.MinBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		up := l.opts.Clock.Now()
		gen, err := l.connect(ctx)
		if err != nil {
			l.log.Warn().Err(err).Dur("retry_in", backoff).Msg("broker unavailable")
		} else {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-l.waitLost(gen):
				if l.opts.Clock.Since(up) >= l.opts.MaxBackoff {
					backoff = l.opts.MinBackoff
				}
				l.log.Warn().Err(&ConnectionError{Op: "connection", Err: ev.err}).Dur("retry_in", backoff).Msg("broker connection lost, reconnecting")
			}
		}

		if !l.sleep(ctx, backoff) {
			return nil
		}
		backoff = nextBackoff(backoff, l.opts.MaxBackoff)
	}
}

// sleep waits d on the link clock. It reports false if ctx ended first.
func (l *Link) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-l.opts.Clock.After(d):
		return true
	}
}

// Publish sends payload on topic over the current session. It fails with
// ErrNotConnected instead of waiting when the link is down.
func (l *Link) Publish(topic string, payload []byte) error {
	l.mu.RLock()
	sess, state := l.session, l.state
	l.mu.RUnlock()

	if sess == nil || state != Connected {
		return &PublishError{Topic: topic, Err: ErrNotConnected}
	}
	if err := sess.Publish(topic, l.opts.QoS, payload); err != nil {
		return &PublishError{Topic: topic, Err: err}
	}
	return nil
}

func (l *Link) connect(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	l.generation++
	gen := l.generation
	l.setStateLocked(Connecting)
	l.mu.Unlock()

	sess, err := l.dial(ctx, func(err error) { l.connectionLost(gen, err) })
	if err != nil {
		l.setState(Disconnected)
		return 0, &ConnectionError{Op: "connect", Err: err}
	}

	l.mu.Lock()
	l.session = sess
	l.setStateLocked(Connected)
	l.mu.Unlock()
	l.log.Info().Uint64("generation", gen).Msg("connected to broker")

	if l.opts.Topic == "" {
		return gen, nil
	}
	if err := sess.Subscribe(l.opts.Topic, l.opts.QoS, l.deliver); err != nil {
		l.drop(gen)
		sess.Close()
		return 0, &ConnectionError{Op: "subscribe " + l.opts.Topic, Err: err}
	}
	l.log.Info().Str("topic", l.opts.Topic).Msg("subscribed")
	return gen, nil
}

// waitLost returns a channel that yields the first loss of generation gen,
// skipping losses reported by older sessions.
func (l *Link) waitLost(gen uint64) <-chan lostEvent {
	out := make(chan lostEvent, 1)
	go func() {
		for {
			select {
			case ev := <-l.lost:
				if ev.generation == gen {
					out <- ev
					return
				}
			case <-l.done:
				return
			}
		}
	}()
	return out
}

func (l *Link) connectionLost(gen uint64, err error) {
	if !l.drop(gen) {
		return
	}
	select {
	case l.lost <- lostEvent{generation: gen, err: err}:
	case <-l.done:
	}
}

// drop forgets the session of generation gen. It reports false when a newer
// session has already replaced it.
func (l *Link) drop(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.generation {
		return false
	}
	l.session = nil
	l.setStateLocked(Disconnected)
	return true
}

func (l *Link) deliver(topic string, payload []byte) {
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}

	l.deliverMu.RLock()
	defer l.deliverMu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.messages <- msg:
	case <-l.done:
	}
}

func (l *Link) shutdown() {
	l.mu.Lock()
	sess := l.session
	l.session = nil
	l.generation++
	l.setStateLocked(Disconnected)
	l.mu.Unlock()

	close(l.done)
	if sess != nil {
		sess.Close()
	}

	l.deliverMu.Lock()
	l.closed = true
	close(l.messages)
	l.deliverMu.Unlock()
	l.log.Info().Msg("broker link stopped")
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setStateLocked(s)
}

func (l *Link) setStateLocked(s State) {
	if l.state == s {
		return
	}
	l.state = s
	if l.opts.OnStateChange != nil {
		l.opts.OnStateChange(s)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
