package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/crccache"
)

var rootCmd = &cobra.Command{
	Use:           "crccache",
	Short:         "Checksum cache CLI",
	Long:          "CLI for inspecting and filling a crccache disk tier and syncing it with OCI registries.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/crccache/config.yaml)")
	rootCmd.PersistentFlags().String("disk-dir", "", "disk tier directory (default: ~/.cache/crccache)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn")
	rootCmd.PersistentFlags().Bool("insecure", false, "use plain http for registries")

	viper.BindPFlag("disk.dir", rootCmd.PersistentFlags().Lookup("disk-dir"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("insecure", rootCmd.PersistentFlags().Lookup("insecure"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CRCCACHE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.WithError(err).Warn("reading config")
		}
	}
}

// setDefaults registers every key so env overrides apply even when no
// config file mentions them. The CLI always runs with the disk tier on;
// without it nothing would outlive the process.
func setDefaults(v *viper.Viper) {
	d := crccache.DefaultConfig()
	v.SetDefault("name", d.Name)
	v.SetDefault("memory.capacity_bytes", d.Memory.CapacityBytes)
	v.SetDefault("memory.max_entries", d.Memory.MaxEntries)
	v.SetDefault("memory.time_to_idle", d.Memory.TimeToIdle)
	v.SetDefault("disk.enabled", true)
	v.SetDefault("disk.dir", d.Disk.Dir)
	v.SetDefault("disk.backend", d.Disk.Backend)
	v.SetDefault("disk.capacity_bytes", d.Disk.CapacityBytes)
	v.SetDefault("disk.persistent", d.Disk.Persistent)
	v.SetDefault("disk.compression", d.Disk.Compression)
	v.SetDefault("disk.write_buffer", d.Disk.WriteBuffer)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("insecure", d.Insecure)
	v.SetDefault("log_level", d.LogLevel)
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "crccache")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "crccache")
	}
	return ".crccache"
}

func loadConfig(v *viper.Viper) (crccache.Config, error) {
	var cfg crccache.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cfg, fmt.Errorf("log_level: %w", err)
	}
	log.SetLevel(level)
	return cfg, nil
}

// withCache opens the configured cache, runs fn and shuts the cache down.
func withCache(fn func(c *crccache.Cache) error) (err error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	opts := append(cfg.Options(), crccache.WithLogger(log.StandardLogger()))
	c, err := crccache.Open(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Shutdown(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(c)
}
