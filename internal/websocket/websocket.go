// Package websocket streams soil readings over WebSocket, one text frame per
// reading, with the same session rules as the SSE stream.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/farmbridge/internal/models"
	"github.com/farmbridge/internal/telemetry"
)

const transport = "ws"

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Recorder observes session activity; nil disables it.
type Recorder interface {
	SessionOpened(transport string)
	SessionClosed(transport string)
	EventSent(transport string)
}

type Hub struct {
	cache    *telemetry.Cache
	opts     telemetry.SessionOptions
	recorder Recorder
	log      zerolog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
}

type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(cache *telemetry.Cache, opts telemetry.SessionOptions, recorder Recorder, logger zerolog.Logger) *Hub {
	return &Hub{
		cache:    cache,
		opts:     opts,
		recorder: recorder,
		log:      logger.With().Str("component", "websocket").Logger(),
		clients:  make(map[*Client]bool),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	// The session is created before the client is visible so the starting
	// version is fixed once GetClientCount includes it.
	sess := h.cache.NewSession(h.opts)

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
	h.register(client)

	go client.writePump(sess)
	go client.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	if h.recorder != nil {
		h.recorder.SessionOpened(transport)
	}
	h.log.Debug().Str("client", c.id).Int("clients", n).Msg("client connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	if h.recorder != nil {
		h.recorder.SessionClosed(transport)
	}
	h.log.Debug().Str("client", c.id).Int("clients", n).Msg("client disconnected")
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump discards inbound frames; its only job is noticing the peer leave.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Str("client", c.id).Msg("error reading message")
			}
			break
		}
	}
}

func (c *Client) writePump(sess *telemetry.Session) {
	ticker := time.NewTicker(pingPeriod)
	readings := c.follow(sess)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case reading, ok := <-readings:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(reading.Payload)); err != nil {
				return
			}
			if c.hub.recorder != nil {
				c.hub.recorder.EventSent(transport)
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// follow runs sess on its own goroutine and hands readings to the writer.
func (c *Client) follow(sess *telemetry.Session) <-chan models.Reading {
	out := make(chan models.Reading)
	go func() {
		defer close(out)
		defer sess.Close()
		for {
			r, err := sess.Next(c.ctx)
			if err != nil {
				return
			}
			select {
			case out <- r:
			case <-c.ctx.Done():
				return
			}
		}
	}()
	return out
}

// Sessions is GetClientCount under the name the stats endpoint expects.
func (h *Hub) Sessions() int {
	return h.GetClientCount()
}
