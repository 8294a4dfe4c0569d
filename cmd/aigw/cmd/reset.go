package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ailink/gateway/internal/config"
)

var (
	resetIncludeCerts bool
	resetForce        bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove the sqlite database and start fresh",
	Long: `Reset the AILink Gateway by removing its sqlite database.

This clears every token, credential, policy, upstream service, spend
ledger entry, and approval request the gateway has ever seen. On next
start, the database is recreated empty and re-seeded from
bootstrap.admin_key_hash / bootstrap.policies in the config file, if
set.

Optional flags:
  --include-certs   Also remove TLS inspection CA certificates
  --force           Skip confirmation prompt

Examples:
  # Reset the database only (interactive confirmation)
  aigw reset

  # Reset everything without prompting
  aigw reset --include-certs --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetIncludeCerts, "include-certs", false, "Also remove TLS inspection CA certificates (~/.ailink-gateway/)")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigForReset()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	type target struct {
		path string
		desc string
	}
	var targets []target

	dbPath := cfg.Database.Path
	if dbPath != "" {
		targets = append(targets, target{dbPath, "sqlite database"})
		targets = append(targets, target{dbPath + "-wal", "sqlite WAL"})
		targets = append(targets, target{dbPath + "-shm", "sqlite shared memory"})
	}

	if resetIncludeCerts {
		if home, err := os.UserHomeDir(); err == nil {
			certDir := filepath.Join(home, ".ailink-gateway", "certs")
			targets = append(targets, target{certDir, "TLS certificates"})
		}
	}

	var existing []target
	for _, t := range targets {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}

	if len(existing) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to reset — no database found.")
		return nil
	}

	fmt.Fprintln(os.Stderr, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(os.Stderr, "  - %s (%s)\n", t.path, t.desc)
	}

	if !resetForce {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	var errors int
	for _, t := range existing {
		if err := os.RemoveAll(t.path); err != nil {
			fmt.Fprintf(os.Stderr, "  ERROR removing %s: %v\n", t.path, err)
			errors++
		} else {
			fmt.Fprintf(os.Stderr, "  Removed %s\n", t.path)
		}
	}

	if errors > 0 {
		return fmt.Errorf("%d file(s) could not be removed", errors)
	}

	fmt.Fprintln(os.Stderr, "\nReset complete. The gateway will start fresh on next launch.")
	return nil
}

// loadConfigForReset loads config to discover the database path.
// Returns a defaulted zero config on error (non-fatal for reset).
func loadConfigForReset() (*config.GatewayConfig, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		cfg = &config.GatewayConfig{}
		cfg.SetDefaults()
		return cfg, nil
	}
	cfg.SetDefaults()
	return cfg, nil
}
