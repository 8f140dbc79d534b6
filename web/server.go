// Package web exposes the feed server over HTTP: a JSON status API and a
// websocket carrying the same sentence stream as the TCP port.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Bucknalla/go-nmea-server/nmea"
)

// Server is the HTTP control plane for a feed server
type Server struct {
	feed     *nmea.Server
	upgrader websocket.Upgrader
	router   *mux.Router
	logger   *log.Logger
}

// NewServer creates the HTTP server for feed
func NewServer(feed *nmea.Server) *Server {
	ws := &Server{
		feed: feed,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // test fixture, any origin may watch the feed
			},
		},
		logger: log.Default(),
	}

	// Routes live on the root router; a method mismatch on a subrouter
	// answers 404 rather than 405
	r := mux.NewRouter()
	r.HandleFunc("/api/status", ws.handleGetStatus).Methods("GET")
	r.HandleFunc("/api/vessel", ws.handleGetVessel).Methods("GET")
	r.HandleFunc("/api/sessions", ws.handleGetSessions).Methods("GET")
	r.HandleFunc("/api/ws", ws.handleWebSocket).Methods("GET")
	ws.router = r

	return ws
}

// SetLogger sets the logger for HTTP events
func (ws *Server) SetLogger(logger *log.Logger) {
	ws.logger = logger
}

// Handler returns the HTTP handler
func (ws *Server) Handler() http.Handler {
	return ws.router
}

// ListenAndServe serves HTTP on addr until ctx is cancelled
func (ws *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:        addr,
		Handler:     ws.router,
		ReadTimeout: 15 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	})
	defer stop()

	ws.logger.Printf("HTTP control server listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (ws *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ws.feed.GetStatus())
}

func (ws *Server) handleGetVessel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ws.feed.Vessel())
}

func (ws *Server) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ws.feed.Sessions())
}

// handleWebSocket streams the feed to a websocket client, one text message
// per sentence. Like the TCP port, the stream is push-only; any read failure
// ends the session.
func (ws *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	ws.feed.Stream(ctx, &messageWriter{conn: conn}, "ws:"+r.RemoteAddr)
}

// messageWriter sends each Write as one websocket text message
type messageWriter struct {
	conn *websocket.Conn
}

func (m *messageWriter) Write(p []byte) (int, error) {
	if err := m.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
