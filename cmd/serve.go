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

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vambridge/internal/bridge"
	"vambridge/internal/daemon"
	"vambridge/internal/logger"
)

var (
	serveConfigPath  string
	servePluginAddr  string
	serveBrowserAddr string
	serveDebugFlag   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge daemon",
	Long: `Start the bridge daemon with both transport endpoints: the TCP listener
VaM plugins connect to and the WebSocket endpoint browser pages connect to.
The daemon runs until it receives SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadServeConfiguration()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger.SetLevel(config.Logging.Level)
		if serveDebugFlag || verbose {
			logger.SetLevel("debug")
		}

		log := logger.New()
		log.Info().
			Str("config_file", serveConfigPath).
			Str("plugin_address", config.Plugin.Listen).
			Str("browser_address", config.Browser.Listen).
			Str("log_level", config.Logging.Level).
			Msg("Starting VaM bridge daemon")

		d := daemon.NewDaemon(config)
		if err := d.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start bridge daemon")
			return fmt.Errorf("failed to start bridge daemon: %w", err)
		}

		// Handle graceful shutdown
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		sig := <-sigChan
		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")

		return d.Stop()
	},
}

// loadServeConfiguration loads configuration from file and applies CLI flag
// overrides. A missing config file falls back to defaults.
func loadServeConfiguration() (*bridge.Config, error) {
	var config *bridge.Config
	var err error

	if _, statErr := os.Stat(serveConfigPath); statErr == nil {
		config, err = bridge.LoadConfig(serveConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else if !os.IsNotExist(statErr) {
		return nil, fmt.Errorf("failed to check config file: %w", statErr)
	}

	if config == nil {
		config = bridge.NewDefaultConfig()
	}

	// Apply CLI flag overrides
	if servePluginAddr != "" {
		config.Plugin.Listen = servePluginAddr
	}
	if serveBrowserAddr != "" {
		config.Browser.Listen = serveBrowserAddr
	}
	if serveDebugFlag {
		config.Logging.Level = "debug"
	}

	return config, nil
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "vambridge.yml", "Path to bridge configuration file")
	serveCmd.Flags().StringVar(&servePluginAddr, "plugin-addr", "", "Override the plugin TCP listen address")
	serveCmd.Flags().StringVar(&serveBrowserAddr, "browser-addr", "", "Override the browser WebSocket listen address")
	serveCmd.Flags().BoolVarP(&serveDebugFlag, "debug", "d", false, "Enable debug logging")
}
