package crccache

import (
	"fmt"
	"io"
)

// PrintStatus writes a header line per cache followed by one indented line
// per live entry:
//
//	crcCache: 3 412 0
//	  [ key = file:/srv/a.r00, value=deadbeef, tier=memory ]
//
// Entries are read without promotion, so printing does not disturb the
// eviction order.
func (c *Cache) PrintStatus(w io.Writer) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	s := c.stats()
	if _, err := fmt.Fprintf(w, "%s: %d %d %d\n", s.Name, s.Entries, s.MemoryBytes, s.DiskBytes); err != nil {
		return err
	}
	for _, k := range c.rawKeys() {
		e, ok := c.peek(k)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(w, "  %s\n", e); err != nil {
			return err
		}
	}
	return nil
}
