package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ailink/gateway/internal/domain/token"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [admin-key]",
	Short: "Generate an Argon2id hash for a bootstrap admin key",
	Long: `Generate an Argon2id hash of an admin key, for use as
bootstrap.admin_key_hash in ailink-gateway.yaml.

The hash seeds the token store's first admin key on an otherwise-empty
database; every boot after that is a no-op for this field. Admin keys
minted later through normal operation live in the management API, not
in YAML.

Example:
  aigw hash-key "my-admin-key"
  # Output: $argon2id$v=19$...

Security note: the key will appear in shell history. Consider clearing
history after use or passing it via an environment variable:
  aigw hash-key "$AILINK_ADMIN_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := token.HashKeyArgon2id(args[0])
		if err != nil {
			return fmt.Errorf("failed to hash key: %w", err)
		}
		fmt.Fprintln(os.Stdout, hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
