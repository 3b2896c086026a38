package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiovault/audiovault/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample AudioVault configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/audiovault/config.yaml. Use --config to specify a custom
path.

Examples:
  # Initialize with default location
  audiovault init

  # Initialize with custom path
  audiovault init --config /etc/audiovault/config.yaml

  # Force overwrite existing config
  audiovault init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Export the chapter encryption master key:")
	fmt.Println("       export ROOT_KEY=$(openssl rand -hex 32)")
	fmt.Println("  3. Start the server with: audiovault start")
	fmt.Println("\nSecurity note:")
	fmt.Println("  The ROOT_KEY is never written to the config file. Store it in your")
	fmt.Println("  secret manager; losing it makes all encrypted chapters unreadable.")

	return nil
}
