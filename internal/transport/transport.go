// Package transport exposes the Query surface as JSON endpoints and the
// Streaming surface as a WebSocket upgrade. CORS and static-asset
// serving are out of scope; the token-based authorize check and origin
// allowlist are retained as ambient hygiene.
package transport

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/sessiontrace/backend/internal/config"
	"github.com/sessiontrace/backend/internal/eventbus"
	"github.com/sessiontrace/backend/internal/query"
)

// Server wires the Query surface and event bus onto an http.ServeMux.
type Server struct {
	cfg     *config.Config
	surface *query.Surface
	bus     *eventbus.Bus

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

// New returns a Server ready to have its routes registered.
func New(cfg *config.Config, surface *query.Surface, bus *eventbus.Bus) *Server {
	s := &Server{
		cfg:            cfg,
		surface:        surface,
		bus:            bus,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetupRoutes registers every handler on mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, s.surface.ListEmittedSessions())
}

// handleSessionRoutes dispatches /api/sessions/{id} and
// /api/sessions/{id}/messages.
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 2)
	sessionID, err := url.PathUnescape(parts[0])
	if err != nil || sessionID == "" {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	if len(parts) == 2 && parts[1] == "messages" {
		msgs := s.surface.SessionMessages(sessionID)
		if msgs == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, msgs)
		return
	}

	if len(parts) == 1 {
		summary, msgs := s.surface.SessionDetail(sessionID)
		if summary == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, query.DetailResponse{Summary: summary, Messages: msgs})
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query().Get("q")
	var scopes []query.Scope
	for _, sc := range strings.Split(r.URL.Query().Get("scope"), ",") {
		sc = strings.TrimSpace(sc)
		if sc != "" {
			scopes = append(scopes, query.Scope(sc))
		}
	}

	resp, err := s.surface.Search(q, scopes)
	if err != nil {
		http.Error(w, "invalid query", http.StatusBadRequest)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	sub, err := s.bus.Attach()
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		conn.Close()
		return
	}
	log.Printf("ws client connected: %s", r.RemoteAddr)

	go s.writeLoop(conn, sub)
	s.readLoop(conn, sub)

	s.bus.Detach(sub)
	conn.Close()
	log.Printf("ws client disconnected: %s", r.RemoteAddr)
}

// writeLoop fans both of a subscriber's channels onto the one WebSocket
// connection, since gorilla/websocket requires a single writer goroutine.
func (s *Server) writeLoop(conn *websocket.Conn, sub *eventbus.Subscriber) {
	for {
		var env eventbus.Envelope
		select {
		case e, ok := <-sub.Broadcast():
			if !ok {
				return
			}
			env = e
		case e, ok := <-sub.Messages():
			if !ok {
				return
			}
			env = e
		}
		if err := conn.WriteJSON(env); err != nil {
			return
		}
	}
}

// controlMessage is a client-to-server subscribe:session or
// unsubscribe:session request.
type controlMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// readLoop drains client control frames until the connection drops. An
// unparseable or unrecognized frame is ignored; the connection stays open.
func (s *Server) readLoop(conn *websocket.Conn, sub *eventbus.Subscriber) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe:session":
			s.bus.SubscribeSession(sub, msg.SessionID)
		case "unsubscribe:session":
			s.bus.UnsubscribeSession(sub, msg.SessionID)
		}
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	if r.Header.Get("X-SessionTrace-Token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("response encode error: %v", err)
	}
}

// ListenAndServe starts the HTTP server on cfg's bound address.
func ListenAndServe(cfg *config.Config, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
