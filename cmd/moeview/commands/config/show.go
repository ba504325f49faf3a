package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/moeview/moeview/internal/cli/output"
	"github.com/moeview/moeview/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the current moeview configuration with defaults applied.

By default outputs YAML format. Use --output to change format.

Examples:
  # Show effective config as YAML
  moeview config show

  # Show as JSON
  moeview config show --output json

  # Show a specific config file
  moeview config show --config /etc/moeview/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Config path comes from the root command's persistent flag.
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
