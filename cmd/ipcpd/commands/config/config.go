// Package config implements ipcpd's "config" subcommand tree.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Inspect ipcpd configuration files.

Use 'ipcpd init' to create a new configuration file.`,
}

func init() {
	Cmd.AddCommand(showCmd)
}
