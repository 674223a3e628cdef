package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

// RunFunc starts one agent run and streams its events through onEvent.
// Wired by the caller so the gateway stays transport-only.
type RunFunc func(ctx context.Context, sessionID, message string, onEvent func(protocol.StreamEvent)) error

// Server exposes agent runs over WebSocket. One connection is one session:
// the client sends run requests, the server streams the event sequence back
// in production order.
type Server struct {
	addr string
	run  RunFunc

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client

	httpServer *http.Server
}

type client struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
}

// runRequest is the client → server message.
type runRequest struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewServer(addr string, run RunFunc) *Server {
	s := &Server{
		addr:    addr,
		run:     run,
		clients: make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Local tool; no cross-origin surface to defend.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","clients":%d}`, s.clientCount())
	})

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("gateway serve: %w", err)
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	slog.Info("client connected", "client", c.id, "remote", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		conn.Close()
		slog.Info("client disconnected", "client", c.id)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "client", c.id, "error", err)
			}
			return
		}

		var req runRequest
		if err := json.Unmarshal(raw, &req); err != nil || req.Type != "run" || req.Message == "" {
			c.send(protocol.StreamEvent{
				Type: protocol.EventError,
				Data: map[string]any{"error": "expected {\"type\":\"run\",\"message\":...}"},
			})
			continue
		}

		// Runs are sequential per connection: the event sequence for one
		// request finishes before the next request is read.
		if err := s.run(r.Context(), c.id, req.Message, c.send); err != nil {
			slog.Warn("run failed", "client", c.id, "error", err)
		}
	}
}

func (c *client) send(ev protocol.StreamEvent) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(ev); err != nil {
		slog.Debug("websocket write failed", "client", c.id, "error", err)
	}
}

// Broadcast sends an event to every connected client.
func (s *Server) Broadcast(ev protocol.StreamEvent) {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		c.send(ev)
	}
}
