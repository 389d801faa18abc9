package cmd

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/aweris/crccache"
	"github.com/aweris/crccache/internal/sfv"
)

var sfvCmd = &cobra.Command{
	Use:   "sfv",
	Short: "Manage cached SFV listings",
}

var sfvImportCmd = &cobra.Command{
	Use:   "import <file.sfv>",
	Short: "Cache the listing of an SFV file under its directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runSFVImport,
}

var sfvShowCmd = &cobra.Command{
	Use:   "show <dir>",
	Short: "Print the cached listing of a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runSFVShow,
}

var sfvRmCmd = &cobra.Command{
	Use:   "rm <dir>",
	Short: "Forget the cached listing of a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runSFVRm,
}

func init() {
	sfvCmd.AddCommand(sfvImportCmd, sfvShowCmd, sfvRmCmd)
	rootCmd.AddCommand(sfvCmd)
}

func runSFVImport(cmd *cobra.Command, args []string) error {
	m, err := sfv.ParseFile(args[0])
	if err != nil {
		return err
	}
	dir := filepath.Dir(args[0])
	return withCache(func(c *crccache.Cache) error {
		if err := c.PutChecksumMap(dir, m); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d entries cached for %s\n", len(m), dir)
		return nil
	})
}

func runSFVShow(cmd *cobra.Command, args []string) error {
	return withCache(func(c *crccache.Cache) error {
		m, ok, err := c.GetChecksumMap(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: no cached listing", args[0])
		}
		for _, name := range slices.Sorted(maps.Keys(m)) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", name, m[name])
		}
		return nil
	})
}

func runSFVRm(cmd *cobra.Command, args []string) error {
	return withCache(func(c *crccache.Cache) error {
		return c.RemoveChecksumMap(args[0])
	})
}
