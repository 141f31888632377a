package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/citizenweb/kraken/cmd/kraken/commands"
)

var rootCmd = &cobra.Command{
	Use:   "kraken",
	Short: "Kraken - async job execution and realtime notification backend",
	Long: `Kraken - the asynchronous core of the management REST backend.

Kraken runs administrative jobs off the request path, tracks their status,
fans notifications and model-record changes out to websocket clients and
buffers them for polling clients.

Available commands:
  serve   - Start the Kraken server
  am      - Manage Kraken configuration ("I am")
  version - Show version information

Examples:
  kraken serve              # Start the server
  kraken am show            # Show current configuration
  kraken am show -f json    # Show configuration as JSON`,
}

func init() {
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
