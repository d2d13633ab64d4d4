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

package plugin

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"vambridge/internal/bridge"
	"vambridge/internal/logger"
)

// Listener accepts plugin TCP connections and runs one receive loop per
// connection.
type Listener struct {
	addr     string
	maxFrame uint32
	registry *bridge.Registry
	router   *bridge.Router
	announce bridge.Announcer
	log      zerolog.Logger

	ln net.Listener
	wg sync.WaitGroup

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
}

// NewListener creates a plugin listener. Connections it accepts register
// into the shared registry and route through the shared router; handshake
// acknowledgements are announced to browsers through announce.
func NewListener(config *bridge.Config, registry *bridge.Registry, router *bridge.Router, announce bridge.Announcer) *Listener {
	return &Listener{
		addr:     config.Plugin.Listen,
		maxFrame: config.Plugin.MaxFrameBytes,
		registry: registry,
		router:   router,
		announce: announce,
		log:      logger.New(),
		conns:    make(map[string]*Conn),
	}
}

// Start binds the listen address and begins accepting connections. It
// returns once the address is bound; accepting runs in the background.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.addr, err)
	}
	l.ln = ln

	l.log.Info().
		Str("address", ln.Addr().String()).
		Msg("Plugin listener started")

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.acceptLoop()
	}()

	return nil
}

// Addr returns the bound listen address, which differs from the configured
// address when listening on port 0.
func (l *Listener) Addr() string {
	if l.ln == nil {
		return l.addr
	}
	return l.ln.Addr().String()
}

func (l *Listener) acceptLoop() {
	for {
		sock, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || l.isClosed() {
				return
			}
			l.log.Warn().Err(err).Msg("Failed to accept plugin connection")
			continue
		}

		conn := newConn(sock, l.registry, l.router, l.announce, l.maxFrame)
		if !l.track(conn) {
			// Accepted while Stop was running; Stop never saw this
			// connection, so it is closed here.
			_ = conn.Close()
			return
		}

		l.log.Info().
			Str("conn", conn.Key()).
			Str("remote", conn.RemoteAddr()).
			Msg("Plugin connected")

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			conn.readLoop()
			l.untrack(conn)
		}()
	}
}

func (l *Listener) track(conn *Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conns[conn.Key()] = conn
	return true
}

func (l *Listener) untrack(conn *Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, conn.Key())
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Stop closes the listener and every live plugin connection, then waits for
// the connection goroutines to drain. Safe to call more than once.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conns := make([]*Conn, 0, len(l.conns))
	for _, conn := range l.conns {
		conns = append(conns, conn)
	}
	l.mu.Unlock()

	var err error
	if l.ln != nil {
		err = l.ln.Close()
	}
	for _, conn := range conns {
		_ = conn.Close()
	}
	l.wg.Wait()

	l.log.Info().Msg("Plugin listener stopped")
	return err
}
