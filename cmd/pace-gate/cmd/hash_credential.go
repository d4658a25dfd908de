package cmd

import (
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/spf13/cobra"
)

var hashCredentialCmd = &cobra.Command{
	Use:   "hash-credential [secret]",
	Short: "Generate an argon2id hash for seeding a credential",
	Long: `Generate an argon2id hash of a plaintext secret for seeding a user
row in the Directory database.

Example:
  pace-gate hash-credential "initial-secret"

Security note: The secret will appear in shell history.
Consider using an environment variable:
  pace-gate hash-credential "$INITIAL_SECRET"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := argon2id.CreateHash(args[0], argon2id.DefaultParams)
		if err != nil {
			return fmt.Errorf("hash credential: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashCredentialCmd)
}
