package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/crccache"
	"github.com/aweris/crccache/internal/sfv"
)

var putCmd = &cobra.Command{
	Use:   "put <file> [crc]",
	Short: "Cache a file checksum",
	Long:  "Cache the CRC32 of a file. The checksum is computed from the file unless given.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runPut,
}

var getCmd = &cobra.Command{
	Use:   "get <file>",
	Short: "Print a cached file checksum",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var rmCmd = &cobra.Command{
	Use:   "rm <file>",
	Short: "Forget a cached file checksum",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

func init() {
	rootCmd.AddCommand(putCmd, getCmd, rmCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	path := args[0]
	var crc crccache.Checksum
	var err error
	if len(args) > 1 {
		crc, err = sfv.ParseCRC(args[1])
	} else {
		crc, err = sfv.FileCRC(path)
	}
	if err != nil {
		return err
	}
	return withCache(func(c *crccache.Cache) error {
		if err := c.PutChecksum(path, crc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", crc, path)
		return nil
	})
}

func runGet(cmd *cobra.Command, args []string) error {
	return withCache(func(c *crccache.Cache) error {
		crc, ok, err := c.GetChecksum(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: not cached", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), crc)
		return nil
	})
}

func runRm(cmd *cobra.Command, args []string) error {
	return withCache(func(c *crccache.Cache) error {
		return c.RemoveChecksum(args[0])
	})
}
