package cmd

import (
	"github.com/spf13/cobra"

	"vambridge/internal/logger"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "vambridge",
	Short: "VaM bridge - route messages between VaM plugins and browsers",
	Long: `VaM bridge is a local message router between Virt-A-Mate plugins speaking
length-framed JSON over TCP and browser pages speaking JSON over WebSocket.
Plugin messages fan out to every connected browser; browser messages are
forwarded to the plugin instance they address.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel("debug")
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}
