package cache

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/moeview/moeview/internal/cli/prompt"
	"github.com/moeview/moeview/pkg/booru"
)

var clearForce bool

var clearCmd = &cobra.Command{
	Use:   "clear [post-id...]",
	Short: "Remove cached items",
	Long: `Remove items from the content cache.

Without arguments, clears the whole cache after confirmation. With post
identifiers, removes only those items.

Examples:
  # Clear everything
  moeview cache clear

  # Remove two specific posts
  moeview cache clear 12345 67890`,
	RunE: runCacheClear,
}

func init() {
	clearCmd.Flags().BoolVar(&clearForce, "force", false, "Skip confirmation prompt")
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	tc, _, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = tc.Close() }()

	var ids []booru.ItemID
	if len(args) > 0 {
		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid post id %q: %w", arg, err)
			}
			ids = append(ids, booru.ItemID(id))
		}
	} else {
		occ := tc.Occupancy()
		ids = append(ids, occ.Memory.Items...)
		ids = append(ids, occ.Disk.Items...)
		if len(ids) == 0 {
			fmt.Println("Cache is already empty.")
			return nil
		}

		if !clearForce {
			ok, err := prompt.Confirm(
				fmt.Sprintf("Remove all %d cached items", len(ids)), false)
			if err != nil {
				if prompt.IsAborted(err) {
					return nil
				}
				return err
			}
			if !ok {
				return nil
			}
		}
	}

	for _, id := range ids {
		tc.Invalidate(id)
	}
	fmt.Printf("Removed %d items.\n", len(ids))
	return nil
}
