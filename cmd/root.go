// Package cmd implements the sngrep command-line entry points. Argument
// parsing itself sits outside this module's specified scope, but the
// commands that glue configuration to the engine are grounded on the
// teacher's cmd/root.go persistent-flag pattern.
package cmd

import (
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "sngrep",
	Short: "sngrep - SIP dialog analyzer",
	Long: `sngrep captures SIP traffic from a live interface, an offline
capture file, or a HEP listener, correlates it into calls, and tracks
the RTP/RTCP media streams an SDP exchange negotiates.`,
	Version: "0.1.0",
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (YAML/JSON/TOML)")
}
