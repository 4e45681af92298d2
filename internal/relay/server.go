package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"cotext/internal/config"
	"cotext/internal/logx"
)

// Server is the relay's HTTP surface: the WebSocket upgrade endpoint plus
// the two collaborator HTTP endpoints from spec.md §6.
type Server struct {
	hub      *Hub
	cfg      config.Config
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	start    time.Time
	stop     chan struct{}
}

// NewServer wires a Hub behind an http.Handler, configured from cfg.
func NewServer(cfg config.Config) *Server {
	s := &Server{
		hub:   NewHub(),
		cfg:   cfg,
		start: time.Now(),
		stop:  make(chan struct{}),
		mux:   http.NewServeMux(),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.AllowedOrigin == "*" || r.Header.Get("Origin") == cfg.AllowedOrigin
		},
	}

	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/documents/", s.handleDocument)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Error("relay: websocket upgrade failed: %v", err)
		return
	}

	transport := NewWSConn(conn, s.cfg.MaxMessageSize, s.cfg.ReadTimeout, s.cfg.WriteTimeout)
	c := NewConnection(s.hub, transport, s.cfg.BroadcastBufferSize)
	go s.keepAlive(c, transport)
	c.Run()
}

// keepAlive pings an idle connection so its read deadline keeps getting
// pushed out, mirroring the teacher's writePump ping ticker. It exits
// once the ping fails (the connection's transport has closed) or the
// server is shutting down.
func (s *Server) keepAlive(c *Connection, transport *WSConn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := transport.Ping(); err != nil {
				return
			}
		case <-s.stop:
			return
		}
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Documents int    `json:"documents"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Documents: s.hub.DocumentCount(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type documentResponse struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Version     uint64 `json:"version"`
	ActiveUsers int    `json:"active_users"`
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	if id == "" {
		http.Error(w, "document id required", http.StatusBadRequest)
		return
	}

	snapshot, ok := s.hub.DocumentSnapshot(id)
	if !ok {
		http.Error(w, "unknown document", http.StatusNotFound)
		return
	}

	resp := documentResponse{
		ID:          id,
		Content:     snapshot.Content,
		Version:     snapshot.Version,
		ActiveUsers: len(snapshot.Users),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// StartCleaner runs the idle-document sweep until ctx is cancelled.
func (s *Server) StartCleaner(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.sweepIdle(s.cfg.DocumentIdleTimeout)
		}
	}
}

// Shutdown signals background goroutines (keepalive pingers) to stop.
func (s *Server) Shutdown() {
	close(s.stop)
}
