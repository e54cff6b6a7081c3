// Package commands implements the CLI for the dittofs-core server binary:
// start the protocol adapters, or print version information.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// cfgFile is the path to the YAML config file, empty to rely on
	// environment variables and defaults only.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "dittofs",
	Short: "dittofs-core - multi-protocol file server (FTP/FTPS, NFSv3, SMB2/3)",
	Long: `dittofs-core serves a set of shares over FTP/FTPS, NFSv3, and SMB2/3
from a single process, sharing one filesystem-driver abstraction across all
three protocol engines.

Use "dittofs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment + built-in defaults)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
}

// GetConfigFile returns the config file path from the global --config flag.
func GetConfigFile() string {
	return cfgFile
}
