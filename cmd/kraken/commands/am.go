package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage Kraken configuration",
	Long: `am — Manage Kraken configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (KRAKEN_* prefix)
2. File named by KRAKEN_CONFIG
3. Project config (./kraken.toml)
4. User config (~/.config/kraken/kraken.toml)
5. System config (/etc/kraken/kraken.toml)
6. Default values`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the resolved Kraken configuration from all sources",
	RunE:  runAmShow,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVarP(&configFormat, "format", "f", "toml", "Output format: toml, json")
	AmCmd.AddCommand(amShowCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("# Kraken configuration\n%s", string(data))
	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json)", configFormat)
	}
	return nil
}
