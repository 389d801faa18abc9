package crccache

import (
	"fmt"
	"time"
)

// Config is the file and environment form of Options, decoded by viper.
type Config struct {
	Name        string       `mapstructure:"name" yaml:"name"`
	Memory      MemoryConfig `mapstructure:"memory" yaml:"memory"`
	Disk        DiskConfig   `mapstructure:"disk" yaml:"disk"`
	Concurrency int          `mapstructure:"concurrency" yaml:"concurrency"`
	Insecure    bool         `mapstructure:"insecure" yaml:"insecure"`
	LogLevel    string       `mapstructure:"log_level" yaml:"log_level"`
}

type MemoryConfig struct {
	CapacityBytes int64         `mapstructure:"capacity_bytes" yaml:"capacity_bytes"`
	MaxEntries    int           `mapstructure:"max_entries" yaml:"max_entries"`
	TimeToIdle    time.Duration `mapstructure:"time_to_idle" yaml:"time_to_idle"`
}

type DiskConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir           string `mapstructure:"dir" yaml:"dir"`
	Backend       string `mapstructure:"backend" yaml:"backend"`
	CapacityBytes int64  `mapstructure:"capacity_bytes" yaml:"capacity_bytes"`
	Persistent    bool   `mapstructure:"persistent" yaml:"persistent"`
	Compression   bool   `mapstructure:"compression" yaml:"compression"`
	WriteBuffer   int    `mapstructure:"write_buffer" yaml:"write_buffer"`
}

// DefaultConfig mirrors the defaults of New.
func DefaultConfig() Config {
	o := defaultOptions()
	return Config{
		Name: o.Name,
		Memory: MemoryConfig{
			CapacityBytes: o.MemoryCapacity,
		},
		Disk: DiskConfig{
			Dir:         o.DiskDir,
			Backend:     o.DiskBackend,
			Persistent:  o.Persistent,
			Compression: o.Compression,
			WriteBuffer: o.WriteBuffer,
		},
		Concurrency: o.Concurrency,
		LogLevel:    "info",
	}
}

// Validate checks values New would otherwise reject at Init.
func (c Config) Validate() error {
	switch c.Disk.Backend {
	case "", BackendFS, BackendPebble:
	default:
		return fmt.Errorf("crccache: unknown disk backend %q", c.Disk.Backend)
	}
	if c.Memory.CapacityBytes < 0 || c.Disk.CapacityBytes < 0 || c.Memory.MaxEntries < 0 {
		return fmt.Errorf("crccache: capacities must not be negative")
	}
	return nil
}

// Options converts c to functional options.
func (c Config) Options() []Option {
	opts := []Option{
		WithMemoryCapacity(c.Memory.CapacityBytes),
		WithMaxEntries(c.Memory.MaxEntries),
		WithTimeToIdle(c.Memory.TimeToIdle),
		WithConcurrency(c.Concurrency),
	}
	if c.Name != "" {
		opts = append(opts, WithName(c.Name))
	}
	if c.Disk.Enabled {
		opts = append(opts,
			WithDisk(c.Disk.Dir),
			WithDiskCapacity(c.Disk.CapacityBytes),
			WithPersistence(c.Disk.Persistent),
			WithCompression(c.Disk.Compression),
		)
		if c.Disk.Backend != "" {
			opts = append(opts, WithDiskBackend(c.Disk.Backend))
		}
		if c.Disk.WriteBuffer > 0 {
			opts = append(opts, WithWriteBuffer(c.Disk.WriteBuffer))
		}
	}
	if c.Insecure {
		opts = append(opts, WithInsecureRegistry())
	}
	return opts
}
