package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aweris/crccache"
	"github.com/aweris/crccache/internal/sfv"
)

var errMismatch = errors.New("checksum mismatch")

var verifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Check a file against its directory's SFV listing",
	Long: "Check a file against the cached SFV listing of its directory. The file checksum " +
		"is taken from the cache, or computed and cached when missing.",
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

// verdict is the outcome of checking one file.
type verdict struct {
	Path     string
	Actual   crccache.Checksum
	Expected string
	Listed   bool
	Cached   bool
}

func (v verdict) OK() bool {
	return v.Listed && strings.EqualFold(v.Actual.String(), v.Expected)
}

func (v verdict) String() string {
	switch {
	case !v.Listed:
		return fmt.Sprintf("MISSING %s %s", v.Path, v.Actual)
	case v.OK():
		return fmt.Sprintf("OK      %s %s", v.Path, v.Actual)
	default:
		return fmt.Sprintf("BAD     %s %s (want %s)", v.Path, v.Actual, strings.ToLower(v.Expected))
	}
}

func verifyFile(c *crccache.Cache, path string) (verdict, error) {
	v := verdict{Path: path}
	crc, ok, err := c.GetChecksum(path)
	if err != nil {
		return v, err
	}
	if !ok {
		if crc, err = sfv.FileCRC(path); err != nil {
			return v, err
		}
		if err := c.PutChecksum(path, crc); err != nil {
			return v, err
		}
	}
	v.Actual, v.Cached = crc, ok

	listing, ok, err := c.GetChecksumMap(filepath.Dir(path))
	if err != nil || !ok {
		return v, err
	}
	v.Expected, v.Listed = listing[filepath.Base(path)]
	return v, nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	return withCache(func(c *crccache.Cache) error {
		v, err := verifyFile(c, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		if v.Listed && !v.OK() {
			return fmt.Errorf("%s: %w", args[0], errMismatch)
		}
		return nil
	})
}
