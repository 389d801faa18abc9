package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/crccache"
)

var pullCmd = &cobra.Command{
	Use:   "pull <ref>",
	Short: "Pull a cache snapshot from a registry",
	Long:  "Merge a snapshot image into the local cache. Entries already cached locally are kept.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	ref := args[0]
	return withCache(func(c *crccache.Cache) error {
		fmt.Fprintf(os.Stderr, "Pulling %s...\n", ref)
		added, err := c.Pull(cmd.Context(), ref)
		if err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Done. %d entries added\n", added)
		return nil
	})
}
