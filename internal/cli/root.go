// Package cli wires the perch commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perchlabs/perch/internal/config"
)

var configFlag string

// rootCmd is the base perch command.
var rootCmd = &cobra.Command{
	Use:   "perch",
	Short: "Fleet SSH monitoring watcher",
	Long: `perch keeps persistent SSH sessions to a fleet of servers, collects
CPU/memory/disk/uptime and process-manager stats over them, and streams
live snapshots to dashboard WebSocket clients.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to config file")
}

// loadConfig resolves the effective configuration for a command run.
func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(configFlag)
}
