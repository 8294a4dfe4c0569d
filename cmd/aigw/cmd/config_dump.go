package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ailink/gateway/internal/config"
)

var configDumpRaw bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the effective configuration as YAML",
	Long: `Loads the config file and environment overrides the same way
"aigw start" does, applies defaults, and prints the result as YAML.

Useful for checking what a deployment actually resolves to once
AILINK_* environment variables and config-file values are merged. The
vault master key itself is never part of the config (only the name of
the environment variable holding it), so this is safe to paste into a
bug report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg *config.GatewayConfig
		var err error
		if configDumpRaw {
			cfg, err = config.LoadConfigRaw()
		} else {
			cfg, err = config.LoadConfig()
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		if source := config.ConfigFileUsed(); source != "" {
			fmt.Fprintf(os.Stderr, "# source: %s\n", source)
		} else {
			fmt.Fprintln(os.Stderr, "# source: environment/defaults only, no config file found")
		}
		return enc.Encode(cfg)
	},
}

func init() {
	configDumpCmd.Flags().BoolVar(&configDumpRaw, "raw", false, "skip dev-default and validation passes")
	configCmd.AddCommand(configDumpCmd)
	rootCmd.AddCommand(configCmd)
}
