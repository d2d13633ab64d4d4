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

package bridge

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"vambridge/internal/protocol"
)

// Config represents the bridge configuration structure
type Config struct {
	Plugin  PluginConfig  `yaml:"plugin"`
	Browser BrowserConfig `yaml:"browser"`
	Logging LoggingConfig `yaml:"logging"`
}

// PluginConfig contains the TCP listener settings for plugin clients
type PluginConfig struct {
	Listen        string `yaml:"listen"`
	MaxFrameBytes uint32 `yaml:"max_frame_bytes"`
}

// BrowserConfig contains the WebSocket server settings for browser clients
type BrowserConfig struct {
	Listen          string `yaml:"listen"`
	SendQueueSize   int    `yaml:"send_queue_size"`
	MaxMessageBytes uint32 `yaml:"max_message_bytes"`
}

// LoggingConfig contains log output settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig loads configuration from a YAML file, filling unset fields
// with defaults.
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefaultConfig creates the default loopback bridge configuration
func NewDefaultConfig() *Config {
	config := &Config{}
	config.setDefaults()
	return config
}

func (c *Config) setDefaults() {
	if c.Plugin.Listen == "" {
		c.Plugin.Listen = "127.0.0.1:5101"
	}
	if c.Plugin.MaxFrameBytes == 0 {
		c.Plugin.MaxFrameBytes = protocol.DefaultMaxFrameBytes
	}
	if c.Browser.Listen == "" {
		c.Browser.Listen = "127.0.0.1:5102"
	}
	if c.Browser.SendQueueSize == 0 {
		c.Browser.SendQueueSize = 256
	}
	if c.Browser.MaxMessageBytes == 0 {
		c.Browser.MaxMessageBytes = protocol.DefaultMaxFrameBytes
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Plugin.Listen); err != nil {
		return fmt.Errorf("plugin.listen is not a valid host:port: %w", err)
	}
	if _, _, err := net.SplitHostPort(c.Browser.Listen); err != nil {
		return fmt.Errorf("browser.listen is not a valid host:port: %w", err)
	}

	if c.Plugin.Listen == c.Browser.Listen {
		// Port 0 binds resolve to distinct ephemeral ports.
		if _, port, _ := net.SplitHostPort(c.Plugin.Listen); port != "0" {
			return fmt.Errorf("plugin.listen and browser.listen must differ")
		}
	}

	if c.Browser.SendQueueSize < 1 {
		return fmt.Errorf("browser.send_queue_size must be positive")
	}

	return nil
}
