package crccache

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"

	"github.com/aweris/crccache/internal/remote"
)

// Disk backends
const (
	BackendFS     = "fs"
	BackendPebble = "pebble"
)

const (
	DefaultName           = "crcCache"
	DefaultMemoryCapacity = 16 << 20
	DefaultWriteBuffer    = 32
)

// Authenticator provides credentials for remote registries.
type Authenticator = remote.Authenticator

// Options configures a Cache.
type Options struct {
	Name           string
	MemoryCapacity int64 // bytes, 0 = unbounded
	MaxEntries     int   // 0 = unbounded
	TimeToIdle     time.Duration

	DiskEnabled   bool
	DiskDir       string
	DiskBackend   string
	DiskCapacity  int64 // bytes, 0 = unbounded
	Persistent    bool
	Compression   bool
	WriteBuffer   int
	DiskFS        billy.Filesystem
	PebbleOptions *pebble.Options

	Concurrency int
	Auth        Authenticator
	Insecure    bool

	Logger log.FieldLogger
	Clock  func() time.Time
}

// Option is a functional option for configuring a Cache.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Name:           DefaultName,
		MemoryCapacity: DefaultMemoryCapacity,
		DiskDir:        defaultDiskDir(),
		DiskBackend:    BackendFS,
		Persistent:     true,
		Compression:    true,
		WriteBuffer:    DefaultWriteBuffer,
		Concurrency:    remote.DefaultConcurrency,
		Logger:         log.StandardLogger(),
		Clock:          time.Now,
	}
}

// WithName sets the name reported by Stats and PrintStatus.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithMemoryCapacity caps the estimated size of the memory tier.
func WithMemoryCapacity(bytes int64) Option {
	return func(o *Options) { o.MemoryCapacity = bytes }
}

// WithMaxEntries caps the number of entries in the memory tier.
func WithMaxEntries(n int) Option {
	return func(o *Options) { o.MaxEntries = n }
}

// WithTimeToIdle expires entries not accessed for d, in both tiers.
func WithTimeToIdle(d time.Duration) Option {
	return func(o *Options) { o.TimeToIdle = d }
}

// WithDisk enables disk spillover in dir. An empty dir keeps the default.
func WithDisk(dir string) Option {
	return func(o *Options) {
		o.DiskEnabled = true
		if dir != "" {
			o.DiskDir = dir
		}
	}
}

// WithDiskBackend selects BackendFS or BackendPebble.
func WithDiskBackend(name string) Option {
	return func(o *Options) { o.DiskBackend = name }
}

// WithDiskCapacity caps the encoded size of the disk tier.
func WithDiskCapacity(bytes int64) Option {
	return func(o *Options) { o.DiskCapacity = bytes }
}

// WithPersistence controls whether the disk tier survives Shutdown. When
// off, the disk tier only holds overflow and is emptied on Init and Shutdown.
func WithPersistence(on bool) Option {
	return func(o *Options) { o.Persistent = on }
}

// WithCompression toggles zstd compression of disk records.
func WithCompression(on bool) Option {
	return func(o *Options) { o.Compression = on }
}

// WithWriteBuffer sets how many spilled entries are buffered before they
// are written out. 1 writes through.
func WithWriteBuffer(n int) Option {
	return func(o *Options) { o.WriteBuffer = n }
}

// WithDiskFilesystem enables disk spillover on fs with the file backend.
// No directory lock is taken.
func WithDiskFilesystem(fs billy.Filesystem) Option {
	return func(o *Options) {
		o.DiskEnabled = true
		o.DiskBackend = BackendFS
		o.DiskFS = fs
	}
}

// WithPebbleOptions passes options to the pebble backend.
func WithPebbleOptions(opts *pebble.Options) Option {
	return func(o *Options) { o.PebbleOptions = opts }
}

// WithConcurrency sets the number of parallel disk and registry operations.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithAuth sets custom registry authentication.
func WithAuth(auth Authenticator) Option {
	return func(o *Options) { o.Auth = auth }
}

// WithInsecureRegistry talks plain http to registries.
func WithInsecureRegistry() Option {
	return func(o *Options) { o.Insecure = true }
}

func WithLogger(l log.FieldLogger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Clock = now
		}
	}
}

func defaultDiskDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "crccache")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "crccache")
	}
	return ".crccache"
}
