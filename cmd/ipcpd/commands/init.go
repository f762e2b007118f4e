package commands

import (
	"fmt"
	"os"

	"github.com/rina-project/ipcpd/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample ipcpd configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/ipcpd/config.yaml. Use --config to specify a custom path.

Examples:
  # Initialize with default location
  ipcpd init

  # Initialize with custom path
  ipcpd init --config /etc/ipcpd/config.yaml

  # Force overwrite existing config
  ipcpd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file: set ipcp.apn, ipcp.dif_name and")
	fmt.Println("     address_pool to values for your DIF")
	fmt.Printf("  2. Start the daemon with: ipcpd start --config %s\n", configPath)

	return nil
}
