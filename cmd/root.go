// Package cmd provides the module's minimal cobra entry point. The
// trading-action front end (new-order, take, release, and the rest of
// §4.H) is out of this module's scope; this binary only reports what it
// is and which version it carries.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mostro-client",
	Short: "Library core for a Mostro P2P Lightning trading client",
	Long: `mostro-client derives trade keys, builds and unwraps gift-wrapped
protocol messages, parses the order book, and enforces trading limits
for a Mostro coordinator over relay pub/sub. It does not hold funds or
pay Lightning invoices.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("mostro-client", Version)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the client's JSON configuration file")
}
