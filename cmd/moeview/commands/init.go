package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moeview/moeview/internal/cli/prompt"
	"github.com/moeview/moeview/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Initialize a moeview configuration file interactively.

By default, the configuration file is created at
$XDG_CONFIG_HOME/moeview/config.yaml. Use --config to specify a custom
path.

Examples:
  # Initialize with default location
  moeview init

  # Initialize with custom path
  moeview init --config /etc/moeview/config.yaml

  # Force overwrite existing config
  moeview init --force`,
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

	if _, err := os.Stat(configPath); err == nil && !initForce {
		overwrite, err := prompt.Confirm(
			fmt.Sprintf("Config file %s already exists. Overwrite", configPath), false)
		if err != nil {
			if prompt.IsAborted(err) {
				return nil
			}
			return err
		}
		if !overwrite {
			return nil
		}
	}

	cfg := config.GetDefaultConfig()

	baseURL, err := prompt.Input("Board URL", cfg.Source.BaseURL)
	if err != nil {
		if prompt.IsAborted(err) {
			return nil
		}
		return err
	}
	cfg.Source.BaseURL = baseURL

	diskPath, err := prompt.Input("Disk cache directory", cfg.Cache.DiskPath)
	if err != nil {
		if prompt.IsAborted(err) {
			return nil
		}
		return err
	}
	cfg.Cache.DiskPath = diskPath

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start browsing with: moeview browse")
	return nil
}
