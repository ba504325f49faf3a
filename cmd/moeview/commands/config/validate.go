package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moeview/moeview/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the moeview configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  moeview config validate

  # Validate specific config file
  moeview config validate --config /etc/moeview/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Config path comes from the root command's persistent flag.
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Cache.DiskPath == "" {
		warnings = append(warnings, "Disk cache path not configured - cache is memory-only")
	}
	if cfg.Session.Path == "" {
		warnings = append(warnings, "Session database path not configured - sessions will not persist")
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Board URL:       %s\n", cfg.Source.BaseURL)
	fmt.Printf("  Memory budget:   %s\n", cfg.Cache.MemoryBudget)
	fmt.Printf("  Disk budget:     %s\n", cfg.Cache.DiskBudget)
	fmt.Printf("  Disk path:       %s\n", cfg.Cache.DiskPath)
	fmt.Printf("  Workers:         %d\n", cfg.Download.Workers)
	fmt.Printf("  Forward window:  %d\n", cfg.Preload.ForwardWindow)
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)
	return nil
}
