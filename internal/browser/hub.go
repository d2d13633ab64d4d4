// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vambridge/internal/bridge"
	"vambridge/internal/logger"
)

// Hub serves the browser side of the bridge: WebSocket connections on the
// root path plus health and status endpoints for operators.
type Hub struct {
	addr       string
	queueSize  int
	maxMessage int64
	registry   *bridge.Registry
	router     *bridge.Router
	upgrader   websocket.Upgrader
	log        zerolog.Logger

	server    *http.Server
	ln        net.Listener
	startedAt time.Time
	wg        sync.WaitGroup

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// NewHub creates a browser hub over the shared registry and router.
func NewHub(config *bridge.Config, registry *bridge.Registry, router *bridge.Router) *Hub {
	return &Hub{
		addr:       config.Browser.Listen,
		queueSize:  config.Browser.SendQueueSize,
		maxMessage: int64(config.Browser.MaxMessageBytes),
		registry:   registry,
		router:     router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bridge binds to loopback; browsers connect from file:// and
			// local pages that send unpredictable Origin headers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     logger.New(),
		clients: make(map[string]*Client),
	}
}

// Start binds the listen address and begins serving. It returns once the
// address is bound; serving runs in the background.
func (h *Hub) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.ln = ln
	h.startedAt = time.Now()

	h.server = &http.Server{
		Handler:      h.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	h.log.Info().
		Str("address", ln.Addr().String()).
		Msg("Browser hub started")

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error().Err(err).Msg("Browser hub serve failed")
		}
	}()

	return nil
}

// Addr returns the bound listen address, which differs from the configured
// address when listening on port 0.
func (h *Hub) Addr() string {
	if h.ln == nil {
		return h.addr
	}
	return h.ln.Addr().String()
}

// Broadcast fans a payload out to every identified browser. It satisfies the
// announcer the plugin listener uses for handshake announcements.
func (h *Hub) Broadcast(payload []byte) {
	h.router.Broadcast(payload)
}

// Stop closes the HTTP server and every live browser connection, then waits
// for the connection goroutines to drain. Safe to call more than once.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	var err error
	if h.server != nil {
		err = h.server.Close()
	}
	// Upgraded connections are hijacked from the server, so they have to be
	// closed individually.
	for _, client := range clients {
		_ = client.Close()
	}
	h.wg.Wait()

	h.log.Info().Msg("Browser hub stopped")
	return err
}

func (h *Hub) routes() http.Handler {
	routes := mux.NewRouter()
	routes.Use(h.loggingMiddleware)

	routes.HandleFunc("/healthz", h.handleHealthz).Methods("GET")
	routes.HandleFunc("/status", h.handleStatus).Methods("GET")
	routes.HandleFunc("/", h.handleWebSocket)

	return routes
}

func (h *Hub) addClient(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client.Key()] = client
	// One count per pump goroutine; handleWebSocket starts both.
	h.wg.Add(2)
	return true
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.Key())
}

// Middleware
func (h *Hub) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// Response helpers
func (h *Hub) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().
			Err(err).
			Str("remote", r.RemoteAddr).
			Msg("WebSocket upgrade failed")
		return
	}

	client := newClient(ws, h)
	if !h.addClient(client) {
		_ = client.Close()
		return
	}

	h.log.Info().
		Str("conn", client.Key()).
		Str("remote", client.RemoteAddr()).
		Msg("Browser connected")

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	h.sendJSON(w, http.StatusOK, health)
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "running",
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"plugins":   h.registry.Count(bridge.SidePlugin),
		"browsers":  h.registry.Count(bridge.SideBrowser),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	h.sendJSON(w, http.StatusOK, status)
}
