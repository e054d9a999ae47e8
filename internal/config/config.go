// Package config loads tiercache settings from a YAML/TOML file, TIERCACHE_*
// environment variables and bound command-line flags, in viper's usual
// precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TIERCACHE_DISK_SIZE.
const EnvPrefix = "TIERCACHE"

// Config is the full runtime configuration.
type Config struct {
	CacheDir    string       `mapstructure:"cache_dir"`
	MetricsAddr string       `mapstructure:"metrics_addr"`
	Memory      MemoryConfig `mapstructure:"memory"`
	Disk        DiskConfig   `mapstructure:"disk"`
	Fetch       FetchConfig  `mapstructure:"fetch"`
	Log         LogConfig    `mapstructure:"log"`
}

// MemoryConfig sizes the decoded-value tier.
type MemoryConfig struct {
	Size   ByteSize      `mapstructure:"size"`
	Policy string        `mapstructure:"policy"` // lru | fifo
	Shards int           `mapstructure:"shards"`
	TTL    time.Duration `mapstructure:"ttl"` // 0 disables expiry
}

// DiskConfig sizes the file tier. MaxFiles > 0 selects a count limit and
// Size is ignored; otherwise Size bounds bytes (0 means unlimited).
type DiskConfig struct {
	Size     ByteSize      `mapstructure:"size"`
	MaxFiles int64         `mapstructure:"max_files"`
	Naming   string        `mapstructure:"naming"` // hash | md5
	TTL      time.Duration `mapstructure:"ttl"`
}

// FetchConfig controls how sources are downloaded.
type FetchConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	Workers   int           `mapstructure:"workers"`
	UserAgent string        `mapstructure:"user_agent"`
}

// LogConfig mirrors the rotation knobs of lumberjack.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// New returns a viper instance with defaults and environment overrides set
// up. Callers may bind flags to it before Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache_dir", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("memory.size", "64MiB")
	v.SetDefault("memory.policy", "lru")
	v.SetDefault("memory.shards", 0)
	v.SetDefault("memory.ttl", "0s")
	v.SetDefault("disk.size", "256MiB")
	v.SetDefault("disk.max_files", 0)
	v.SetDefault("disk.naming", "hash")
	v.SetDefault("disk.ttl", "0s")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.workers", 4)
	v.SetDefault("fetch.user_agent", "tiercache/1")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.compress", true)
}

// Load reads path (when non-empty) into v, decodes and validates the result.
// An empty CacheDir resolves to the per-user cache directory.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if cfg.CacheDir == "" {
		dir, err := DefaultCacheDir()
		if err != nil {
			return nil, err
		}
		cfg.CacheDir = dir
	}
	abs, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve cache_dir: %w", err)
	}
	cfg.CacheDir = abs

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultCacheDir is the per-user cache location, e.g. ~/.cache/tiercache.
func DefaultCacheDir() (string, error) {
	dir, err := gap.NewScope(gap.User, "tiercache").CacheDir()
	if err != nil {
		return "", fmt.Errorf("config: locate user cache dir: %w", err)
	}
	return dir, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Memory.Size <= 0 {
		errs = append(errs, errors.New("memory.size must be > 0"))
	}
	switch c.Memory.Policy {
	case "lru", "fifo":
	default:
		errs = append(errs, fmt.Errorf("memory.policy %q: want lru or fifo", c.Memory.Policy))
	}
	if c.Memory.Shards < 0 {
		errs = append(errs, errors.New("memory.shards must be >= 0"))
	}
	if c.Memory.TTL < 0 || c.Disk.TTL < 0 {
		errs = append(errs, errors.New("ttl must be >= 0"))
	}
	if c.Disk.Size < 0 || c.Disk.MaxFiles < 0 {
		errs = append(errs, errors.New("disk limits must be >= 0"))
	}
	switch c.Disk.Naming {
	case "hash", "md5":
	default:
		errs = append(errs, fmt.Errorf("disk.naming %q: want hash or md5", c.Disk.Naming))
	}
	if c.Fetch.Workers <= 0 {
		errs = append(errs, errors.New("fetch.workers must be > 0"))
	}
	if c.Fetch.Timeout < 0 {
		errs = append(errs, errors.New("fetch.timeout must be >= 0"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// DiskLimit returns the effective disk limit and whether it counts files.
func (c *Config) DiskLimit() (limit int64, countFiles bool) {
	if c.Disk.MaxFiles > 0 {
		return c.Disk.MaxFiles, true
	}
	return int64(c.Disk.Size), false
}
