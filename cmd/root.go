// Package cmd provides the vigil command-line interface.
package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	configFile string
	noColor    bool
)

// NewRootCmd creates the vigil command. Without a subcommand it runs the server.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vigil",
		Short: "Local detection and response service",
		Long: `vigil ingests log events, evaluates detection rules and threat indicators,
raises alerts, tracks incidents and queues response actions for endpoint agents.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configFile)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRulesCmd())
	return rootCmd
}
