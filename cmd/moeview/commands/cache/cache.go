// Package cache implements content cache management subcommands.
package cache

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moeview/moeview/pkg/cache"
	"github.com/moeview/moeview/pkg/config"
)

// Cmd is the cache subcommand.
var Cmd = &cobra.Command{
	Use:   "cache",
	Short: "Content cache management",
	Long: `Inspect and manage the on-disk content cache.

Subcommands:
  ls     List cached items
  stats  Show cache statistics
  clear  Remove cached items`,
}

func init() {
	Cmd.AddCommand(lsCmd)
	Cmd.AddCommand(statsCmd)
	Cmd.AddCommand(clearCmd)
}

// openCache opens the tiered cache from the configuration. The memory
// tier starts empty in a fresh process, so these commands mostly inspect
// the disk tier.
func openCache(cmd *cobra.Command) (*cache.TieredCache, *config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return nil, nil, err
	}

	tc, err := cache.New(cache.Config{
		MemoryBudget:   cfg.Cache.MemoryBudget.Uint64(),
		DiskBudget:     cfg.Cache.DiskBudget.Uint64(),
		DiskPath:       cfg.Cache.DiskPath,
		FreeSpaceFloor: cfg.Cache.FreeSpaceFloor.Uint64(),
		Compression:    cfg.Cache.CompressionEnabled(),
	}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return tc, cfg, nil
}
