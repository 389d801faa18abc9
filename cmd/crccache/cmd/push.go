package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/crccache"
)

var pushCmd = &cobra.Command{
	Use:   "push <ref>",
	Short: "Push a cache snapshot to a registry",
	Long:  "Push every cached entry to an OCI registry as a snapshot image.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) error {
	ref := args[0]
	return withCache(func(c *crccache.Cache) error {
		fmt.Fprintf(os.Stderr, "Pushing %s...\n", ref)
		id, err := c.Push(cmd.Context(), ref)
		if err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Done. Snapshot: %s\n", id)
		return nil
	})
}
