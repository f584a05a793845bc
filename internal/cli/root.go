// Package cli is the escrow server's command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Collateralized capital-matching and trading escrow",
	Long: `Runs the escrow engine: Managers post collateral-backed agreements,
Investors commit capital against them, the Manager trades the pooled funds
through an exchange venue, and settlement pays Investors their guaranteed
return out of trading proceeds and then the Manager's collateral.

Without a subcommand the HTTP server is started.

Examples:
  server --config configs/config.yaml
  server demo
  server version`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is configs/config.yaml)")
}
