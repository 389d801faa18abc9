package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aweris/crccache"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache statistics and entries",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringP("output", "o", "text", "output format: text or yaml")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	return withCache(func(c *crccache.Cache) error {
		switch format {
		case "text":
			return c.PrintStatus(cmd.OutOrStdout())
		case "yaml":
			stats, err := c.Stats()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(stats)
		default:
			return fmt.Errorf("unknown output format %q", format)
		}
	})
}
