package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thruflo/botloop/internal/auth"
	"github.com/thruflo/botloop/internal/config"
)

var hashPasswordSave bool

// passwordInput is where hash-password reads the password from.
var passwordInput = os.Stdin

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a password for the camera viewer",
	Long: `Prompts for a password and prints its argon2id hash for
viewer.password_hash. With --save the hash is written to the config file.`,
	Args: cobra.NoArgs,
	RunE: runHashPassword,
}

func init() {
	hashPasswordCmd.Flags().BoolVar(&hashPasswordSave, "save", false, "store the hash in the config file")

	rootCmd.AddCommand(hashPasswordCmd)
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	password, err := auth.NewPrompter(passwordInput, cmd.ErrOrStderr()).PromptAndConfirm()
	if err != nil {
		return fmt.Errorf("password setup failed: %w", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if !hashPasswordSave {
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	}

	// Reload without flag overrides so only the hash changes.
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Viewer == nil {
		cfg.Viewer = config.DefaultViewerConfig()
	}
	cfg.Viewer.PasswordHash = hash
	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Password saved to %s\n", configPath)
	return nil
}
