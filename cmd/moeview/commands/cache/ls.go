package cache

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/moeview/moeview/internal/cli/output"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached items",
	Long: `List the items resident in the disk cache, most recently used
first.

Examples:
  # List cached posts
  moeview cache ls`,
	RunE: runCacheLs,
}

func runCacheLs(cmd *cobra.Command, args []string) error {
	tc, _, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = tc.Close() }()

	occ := tc.Occupancy()
	if len(occ.Disk.Items) == 0 {
		fmt.Println("Cache is empty.")
		return nil
	}

	table := output.NewTableData("POST", "TIER")
	for _, id := range occ.Disk.Items {
		table.AddRow(strconv.FormatInt(int64(id), 10), occ.Disk.Tier.String())
	}
	if err := output.PrintTable(os.Stdout, table); err != nil {
		return err
	}

	fmt.Printf("\n%d items, %d bytes\n", len(occ.Disk.Items), occ.Disk.Bytes)
	return nil
}
