package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/otus-project/sngrep/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without starting a capture.

Examples:
  sngrep validate -c sngrep.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// runValidate loads path and reports the result to out, following the
// teacher's pattern of an injectable writer so the command body is
// testable without a live process.
func runValidate(path string, out io.Writer) error {
	if path == "" {
		return fmt.Errorf("no config file given (-c)")
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(out, "INVALID: %v\n", err)
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Fprintf(out, "VALID: capture=%q storage.max_queue_size=%d hep.listen_url=%q\n",
		cfg.Capture.Interface, cfg.Storage.MaxQueueSize, cfg.HEP.ListenURL)
	return nil
}
