package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"vambridge/internal/bridge"
)

var configPath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage bridge configuration",
	Long:  `Generate or validate bridge configuration files.`,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Generate default configuration file",
	Long:  `Generate a default configuration file with the standard bridge settings.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		defaultConfig := bridge.NewDefaultConfig()
		if err := bridge.SaveConfig(defaultConfig, path); err != nil {
			return fmt.Errorf("failed to save default config: %w", err)
		}

		cmd.Printf("Default configuration saved to: %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate a bridge configuration file for syntax and required fields.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		config, err := bridge.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		cmd.Printf("Configuration file is valid: %s\n", path)
		cmd.Printf("Plugin listen address: %s\n", config.Plugin.Listen)
		cmd.Printf("Browser listen address: %s\n", config.Browser.Listen)
		cmd.Printf("Max frame bytes: %d\n", config.Plugin.MaxFrameBytes)
		cmd.Printf("Browser send queue size: %d\n", config.Browser.SendQueueSize)
		cmd.Printf("Log level: %s\n", config.Logging.Level)

		return nil
	},
}

func init() {
	configCmd.AddCommand(configGenerateCmd)
	configCmd.AddCommand(configValidateCmd)

	configGenerateCmd.Flags().StringVarP(&configPath, "config", "c", "vambridge.yml", "Path for generated configuration file")
	configValidateCmd.Flags().StringVarP(&configPath, "config", "c", "vambridge.yml", "Path to configuration file to validate")
}
