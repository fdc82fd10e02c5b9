// Package server exposes live training metrics over a websocket so
// external visualization clients can follow a run in realtime. It is a
// pure consumer of the trainer's per-episode stats; nothing here feeds
// back into training.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gridroute/gridroute/trainer"
)

const writeWait = time.Second

var upgrader = websocket.Upgrader{
	// Metrics are read-only and unauthenticated; local tooling connects
	// from arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Update is the JSON message pushed to every connected client after each
// episode.
type Update struct {
	RunID      string  `json:"run_id"`
	Episode    int     `json:"episode"`
	Return     float64 `json:"return"`
	AvgLoss    float64 `json:"avg_loss"`
	Collisions int     `json:"collisions"`
	Epsilon    float64 `json:"epsilon"`
	Converged  bool    `json:"converged"`
}

// Server broadcasts episode updates to websocket subscribers.
type Server struct {
	runID string
	log   *slog.Logger

	httpServer *http.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// New creates a metrics server for one run.
func New(addr, runID string, log *slog.Logger) *Server {
	s := &Server{
		runID:   runID,
		log:     log,
		clients: make(map[*websocket.Conn]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving in the background. The returned error channel
// yields the terminal ListenAndServe error, if any.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

// Shutdown closes all client connections and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for conn := range s.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "run finished"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()
	s.log.Info("metrics client connected", "remote", conn.RemoteAddr().String())

	// Drain the reader so close frames are processed; clients never send
	// application data.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.drop(conn)
				return
			}
		}
	}()
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[conn] {
		delete(s.clients, conn)
		_ = conn.Close()
	}
}

// Publish pushes one episode's stats to every connected client. Slow or
// dead clients are dropped rather than blocking the training loop.
func (s *Server) Publish(stats trainer.EpisodeStats) {
	msg, err := json.Marshal(Update{
		RunID:      s.runID,
		Episode:    stats.Episode,
		Return:     stats.Return,
		AvgLoss:    stats.AvgLoss,
		Collisions: stats.Collisions,
		Epsilon:    stats.Epsilon,
		Converged:  stats.Converged,
	})
	if err != nil {
		return
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.drop(conn)
		}
	}
}
