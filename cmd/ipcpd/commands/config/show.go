package config

import (
	"os"

	"github.com/rina-project/ipcpd/internal/cli/output"
	"github.com/rina-project/ipcpd/pkg/config"
	"github.com/spf13/cobra"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the loaded configuration",
	Long: `Display ipcpd's configuration as loaded from file, environment and
defaults. Outputs YAML by default.

Examples:
  # Show default config as YAML
  ipcpd config show

  # Show as JSON
  ipcpd config show --output json

  # Show a specific config file
  ipcpd config show --config /etc/ipcpd/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, cfg)
	default:
		return output.PrintYAML(os.Stdout, cfg)
	}
}
