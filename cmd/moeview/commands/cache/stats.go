package cache

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/moeview/moeview/internal/cli/output"
)

var statsOutput string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Long: `Show byte usage, budgets and item counts for the content cache.

Examples:
  # Show stats as a table
  moeview cache stats

  # Show stats as JSON
  moeview cache stats --output json`,
	RunE: runCacheStats,
}

func init() {
	statsCmd.Flags().StringVarP(&statsOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	tc, _, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = tc.Close() }()

	stats := tc.Stats()

	format, err := output.ParseFormat(statsOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, stats)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, stats)
	default:
		table := output.NewTableData("TIER", "ITEMS", "BYTES", "BUDGET")
		table.AddRow("memory",
			strconv.Itoa(stats.MemoryItems),
			strconv.FormatUint(stats.MemoryBytes, 10),
			strconv.FormatUint(stats.MemoryBudget, 10))
		table.AddRow("disk",
			strconv.Itoa(stats.DiskItems),
			strconv.FormatUint(stats.DiskBytes, 10),
			strconv.FormatUint(stats.DiskBudget, 10))
		return output.PrintTable(os.Stdout, table)
	}
}
