// Package cmd provides the CLI commands for the AILink Gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ailink/gateway/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "aigw",
	Short: "AILink Gateway - policy-enforcing LLM reverse proxy",
	Long: `AILink Gateway sits between AI agents and upstream LLM providers.

It issues short-lived virtual tokens in place of real provider API keys,
evaluates CEL-based policies against every request and response, enforces
per-project spend caps, and routes risky calls to a human-in-the-loop
approval queue — all without the agent ever holding a real credential.

Quick start:
  1. Create a config file: ailink-gateway.yaml
  2. Run: aigw start

Configuration:
  Config is loaded from ailink-gateway.yaml in the current directory,
  $HOME/.ailink-gateway/, or /etc/ailink-gateway/.

  Environment variables can override config values with the AILINK_ prefix.
  Example: AILINK_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the gateway server
  stop        Stop the running server
  reset       Remove the sqlite database and start fresh
  hash-key    Generate an Argon2id hash for a bootstrap admin key
  version     Print version information`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./ailink-gateway.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
