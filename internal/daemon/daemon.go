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

package daemon

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"vambridge/internal/bridge"
	"vambridge/internal/browser"
	"vambridge/internal/logger"
	"vambridge/internal/plugin"
)

// Daemon owns the full bridge: one registry and router shared by the plugin
// listener and the browser hub.
type Daemon struct {
	config   *bridge.Config
	registry *bridge.Registry
	router   *bridge.Router
	hub      *browser.Hub
	listener *plugin.Listener
	logger   zerolog.Logger

	running bool
	mutex   sync.RWMutex
}

// NewDaemon wires the bridge components together. The hub doubles as the
// announcer the plugin listener broadcasts handshake acknowledgements
// through.
func NewDaemon(config *bridge.Config) *Daemon {
	registry := bridge.NewRegistry()
	router := bridge.NewRouter(registry)
	hub := browser.NewHub(config, registry, router)
	listener := plugin.NewListener(config, registry, router, hub)

	return &Daemon{
		config:   config,
		registry: registry,
		router:   router,
		hub:      hub,
		listener: listener,
		logger:   logger.New(),
	}
}

// Start brings up the browser hub and the plugin listener. It returns once
// both are bound; serving runs in the background.
func (d *Daemon) Start() error {
	d.mutex.Lock()
	if d.running {
		d.mutex.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.mutex.Unlock()

	d.logger.Info().Msg("Starting bridge daemon")

	if err := d.hub.Start(); err != nil {
		d.setRunning(false)
		return fmt.Errorf("failed to start browser hub: %w", err)
	}

	if err := d.listener.Start(); err != nil {
		_ = d.hub.Stop()
		d.setRunning(false)
		return fmt.Errorf("failed to start plugin listener: %w", err)
	}

	d.logger.Info().
		Str("plugin_address", d.listener.Addr()).
		Str("browser_address", d.hub.Addr()).
		Msg("Bridge daemon started successfully")

	return nil
}

// Stop shuts the bridge down gracefully. Safe to call more than once.
func (d *Daemon) Stop() error {
	d.mutex.Lock()
	if !d.running {
		d.mutex.Unlock()
		return nil
	}
	d.running = false
	d.mutex.Unlock()

	d.logger.Info().Msg("Stopping bridge daemon")

	if err := d.listener.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Error stopping plugin listener")
	}
	if err := d.hub.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Error stopping browser hub")
	}

	d.logger.Info().Msg("Bridge daemon stopped")
	return nil
}

// IsRunning returns whether the daemon is currently running.
func (d *Daemon) IsRunning() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.running
}

// PluginAddr returns the bound plugin listen address.
func (d *Daemon) PluginAddr() string {
	return d.listener.Addr()
}

// BrowserAddr returns the bound browser listen address.
func (d *Daemon) BrowserAddr() string {
	return d.hub.Addr()
}

// GetStatus returns the current status of the daemon.
func (d *Daemon) GetStatus() map[string]interface{} {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	return map[string]interface{}{
		"running":         d.running,
		"plugins":         d.registry.Count(bridge.SidePlugin),
		"browsers":        d.registry.Count(bridge.SideBrowser),
		"plugin_address":  d.listener.Addr(),
		"browser_address": d.hub.Addr(),
	}
}

func (d *Daemon) setRunning(running bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.running = running
}
