// Package cmd provides the CLI commands for Pace Gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pace-erp/pace-gate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pace-gate",
	Short: "Pace Gate - enterprise login gateway",
	Long: `Pace Gate fronts the PACE ERP login surface with an ordered
request-security pipeline (CORS, CSRF, rate limiting, session resolution,
access control) and a server-authoritative session lifecycle.

Quick start:
  1. Create a config file: pace-gate.yaml with security.allowed_origins
     and security.cookie_domain set.
  2. Run: pace-gate start

Configuration:
  Config is loaded from pace-gate.yaml in the current directory,
  $HOME/.pace-gate/, or /etc/pace-gate/.

  Environment variables can override config values with the PACE_GATE_ prefix.
  Example: PACE_GATE_SERVER_ADDR=:8443

Commands:
  start            Start the gateway server
  hash-credential  Generate an argon2id hash for seeding a credential
  version          Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./pace-gate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
