// Package crccache provides a bounded, typed cache for file checksums.
//
// Two namespaces share one cache: "file:" keys hold the CRC32 of a single
// file and "sfv:" keys hold the checksum listing of a directory's SFV file.
// Entries live in a size-bounded memory tier; when disk spillover is enabled,
// entries evicted from memory move to a disk tier instead of being dropped
// and are promoted back on access.
//
// Basic usage (memory only):
//
//	c, _ := crccache.Open(crccache.WithMaxEntries(10_000))
//	defer c.Shutdown()
//
//	c.PutChecksum("/srv/ftp/release.r00", 0xdeadbeef)
//	crc, ok, _ := c.GetChecksum("/srv/ftp/release.r00")
//
//	// SFV listings
//	c.PutChecksumMap("/srv/ftp", crccache.ChecksumMap{"release.r00": "deadbeef"})
//	m, ok, _ := c.GetChecksumMap("/srv/ftp")
//
// With disk spillover:
//
//	c, _ := crccache.Open(
//	    crccache.WithMemoryCapacity(8<<20),
//	    crccache.WithDisk("/var/cache/crccache"),
//	    crccache.WithDiskCapacity(1<<30),
//	)
//	c.Flush()    // write buffered spills out
//	c.Shutdown() // demote memory to disk, flush, release the directory lock
//
// Sharing a warm cache between hosts:
//
//	c.Push(ctx, "ttl.sh/myorg/crccache:main")
//	c.Pull(ctx, "ttl.sh/myorg/crccache:main")
//
// A Cache moves through Uninitialized, Initialized and ShutDown. Only an
// initialized cache serves requests; anything else fails with ErrClosed.
package crccache
