// Package server wires the bridge's HTTP surface onto a chi router.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/farmbridge/internal/mqttclient"
	"github.com/farmbridge/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// BrokerStatus reports the broker link state.
type BrokerStatus interface {
	State() mqttclient.State
}

// SessionCounter reports how many viewers a stream transport is serving.
type SessionCounter interface {
	Sessions() int
}

// Deps are the handlers and state the routes need. Metrics is optional.
type Deps struct {
	Commands  http.Handler
	Stream    http.Handler
	WebSocket http.Handler

	StreamSessions    SessionCounter
	WebSocketSessions SessionCounter

	Cache   *telemetry.Cache
	Broker  BrokerStatus
	Metrics http.Handler
}

type Server struct {
	addr   string
	deps   Deps
	log    zerolog.Logger
	router chi.Router
}

func New(addr string, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		addr: addr,
		deps: deps,
		log:  logger.With().Str("component", "http").Logger(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		withCORS(),
		withLogger(s.log),
		middleware.Recoverer,
	)

	r.Post("/command", s.deps.Commands.ServeHTTP)
	r.Get("/stream", s.deps.Stream.ServeHTTP)
	if s.deps.WebSocket != nil {
		r.Get("/ws", s.deps.WebSocket.ServeHTTP)
	}
	r.Get("/stats", s.handleStats)
	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully. Open
// streams end when their request contexts are cancelled by the shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type stats struct {
	ConnectedClients int    `json:"connected_clients"`
	StreamClients    int    `json:"stream_clients"`
	WebSocketClients int    `json:"websocket_clients"`
	Broker           string `json:"broker"`
	LatestVersion    uint64 `json:"latest_version"`
	Timestamp        int64  `json:"timestamp"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := stats{
		Broker:        s.deps.Broker.State().String(),
		LatestVersion: s.deps.Cache.Version(),
		Timestamp:     time.Now().Unix(),
	}
	if s.deps.StreamSessions != nil {
		st.StreamClients = s.deps.StreamSessions.Sessions()
	}
	if s.deps.WebSocketSessions != nil {
		st.WebSocketClients = s.deps.WebSocketSessions.Sessions()
	}
	st.ConnectedClients = st.StreamClients + st.WebSocketClients

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("failed to write stats")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.deps.Broker.State()
	w.Header().Set("Content-Type", "application/json")
	if state != mqttclient.Connected {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]string{"broker": state.String()})
}

func withCORS() func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Cache-Control"},
	})
}

func withLogger(logger zerolog.Logger) func(handler http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			l := logger.With().Str("request_id", middleware.GetReqID(req.Context())).Logger()
			req = req.WithContext(l.WithContext(req.Context()))
			handler.ServeHTTP(w, req)
		})
	}
}
