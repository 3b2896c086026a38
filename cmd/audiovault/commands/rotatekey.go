package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"github.com/audiovault/audiovault/pkg/config"
)

var rotateKeyCmd = &cobra.Command{
	Use:   "rotate-key",
	Short: "Rotate the DRM token signing key",
	Long: `Generate a fresh token signing key and write it to the configured
token_signing_key_file.

A running server watches that file and picks the new key up without a
restart. Every previously issued stream token is invalidated; clients
re-request their tokens through the DRM endpoints.`,
	RunE: runRotateKey,
}

func runRotateKey(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	path := cfg.DRM.TokenSigningKeyFile
	if path == "" {
		return fmt.Errorf("drm.token_signing_key_file is not configured; rotation needs a key file the server can watch")
	}

	key, err := randomSecret(32)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	// Atomic replace so the watcher never sees a partial key.
	if err := renameio.WriteFile(path, []byte(key+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write signing key: %w", err)
	}

	fmt.Printf("New signing key written to %s\n", path)
	fmt.Println("A running server will adopt it automatically; previously issued tokens are now invalid.")
	return nil
}
