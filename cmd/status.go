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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vambridge/internal/bridge"
)

var (
	statusConfigPath  string
	statusBrowserAddr string
	statusJSONFlag    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check bridge daemon status",
	Long:  `Check the status of the running bridge daemon via its HTTP endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkBridgeStatus(cmd)
	},
}

// checkBridgeStatus queries the running daemon's status and health endpoints.
func checkBridgeStatus(cmd *cobra.Command) error {
	config, configPath, err := loadStatusConfiguration()
	if err != nil {
		cmd.Printf("⚠ Warning: Could not load configuration: %v\n", err)
		cmd.Printf("Using default settings\n\n")
		config = bridge.NewDefaultConfig()
		configPath = "vambridge.yml (default)"
	}

	baseURL := browserBaseURL(config.Browser.Listen)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	statusResp, statusErr := makeHTTPRequest(client, baseURL+"/status")
	healthResp, healthErr := makeHTTPRequest(client, baseURL+"/healthz")

	if statusJSONFlag {
		return displayJSONStatus(cmd, config, configPath, statusResp, healthResp, statusErr, healthErr)
	}
	return displayCompactStatus(cmd, config, configPath, statusResp, healthResp, statusErr, healthErr)
}

// loadStatusConfiguration loads configuration for status checking, falling
// back to defaults when the file is missing.
func loadStatusConfiguration() (*bridge.Config, string, error) {
	var config *bridge.Config
	var err error
	configPath := statusConfigPath

	if _, statErr := os.Stat(configPath); statErr == nil {
		config, err = bridge.LoadConfig(configPath)
		if err != nil {
			return nil, configPath, fmt.Errorf("failed to load config file: %w", err)
		}
	} else if !os.IsNotExist(statErr) {
		return nil, configPath, fmt.Errorf("failed to check config file: %w", statErr)
	} else {
		config = bridge.NewDefaultConfig()
		configPath = statusConfigPath + " (not found, using defaults)"
	}

	// Apply CLI flag overrides
	if statusBrowserAddr != "" {
		config.Browser.Listen = statusBrowserAddr
		configPath += " (with CLI overrides)"
	}

	return config, configPath, nil
}

// browserBaseURL turns a listen address into a base URL for HTTP requests.
func browserBaseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// makeHTTPRequest makes an HTTP GET request and returns the decoded body.
func makeHTTPRequest(client *http.Client, url string) (map[string]interface{}, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return result, nil
}

// displayCompactStatus displays a user-friendly compact status.
func displayCompactStatus(cmd *cobra.Command, config *bridge.Config, configPath string, statusResp, healthResp map[string]interface{}, statusErr, healthErr error) error {
	isOnline := statusErr == nil && healthErr == nil

	if isOnline {
		cmd.Printf("Bridge Status: ✓ RUNNING\n")
	} else {
		cmd.Printf("Bridge Status: ✗ OFFLINE\n")
		if statusErr != nil {
			cmd.Printf("Connection Error: %v\n", statusErr)
		}
		return nil
	}

	cmd.Printf("Plugin Address: %s\n", config.Plugin.Listen)
	cmd.Printf("Browser Address: %s\n", config.Browser.Listen)
	cmd.Printf("Configuration: %s\n", configPath)

	if statusResp != nil {
		if plugins, ok := statusResp["plugins"].(float64); ok {
			cmd.Printf("Connected Plugins: %.0f\n", plugins)
		}
		if browsers, ok := statusResp["browsers"].(float64); ok {
			cmd.Printf("Connected Browsers: %.0f\n", browsers)
		}
		if uptime, ok := statusResp["uptime"].(string); ok {
			cmd.Printf("Uptime: %s\n", uptime)
		}
	}

	if healthResp != nil {
		if statusStr, ok := healthResp["status"].(string); ok {
			icon := "✓"
			if statusStr != "healthy" {
				icon = "✗"
			}
			cmd.Printf("Health: %s %s\n", icon, titleCase(statusStr))
		}
	}

	return nil
}

// displayJSONStatus displays detailed JSON status information.
func displayJSONStatus(cmd *cobra.Command, config *bridge.Config, configPath string, statusResp, healthResp map[string]interface{}, statusErr, healthErr error) error {
	result := map[string]interface{}{
		"online": statusErr == nil && healthErr == nil,
		"config": map[string]interface{}{
			"file":            configPath,
			"plugin_address":  config.Plugin.Listen,
			"browser_address": config.Browser.Listen,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if statusErr != nil {
		result["status_error"] = statusErr.Error()
	} else {
		result["status"] = statusResp
	}

	if healthErr != nil {
		result["health_error"] = healthErr.Error()
	} else {
		result["health"] = healthResp
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// titleCase converts a string to title case (capitalize first letter).
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func init() {
	statusCmd.Flags().StringVarP(&statusConfigPath, "config", "c", "vambridge.yml", "Path to bridge configuration file")
	statusCmd.Flags().StringVar(&statusBrowserAddr, "browser-addr", "", "Override the browser address to query")
	statusCmd.Flags().BoolVar(&statusJSONFlag, "json", false, "Output status as JSON")
}
