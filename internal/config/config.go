package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BadgerOps/reflector/internal/metadata"
	"github.com/BadgerOps/reflector/internal/mirror"
	"github.com/BadgerOps/reflector/internal/rank"
	"github.com/BadgerOps/reflector/internal/rate"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	URL      string         `yaml:"url"`
	Cache    CacheConfig    `yaml:"cache"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Rate     RateConfig     `yaml:"rate"`
	Filters  FiltersConfig  `yaml:"filters"`
	Sort     string         `yaml:"sort"`
	Save     string         `yaml:"save"`
}

// CacheConfig controls the on-disk copy of the mirror status
type CacheConfig struct {
	// Path of the cache file; empty resolves to the user cache directory.
	Path string `yaml:"path"`
	// TTL in seconds.
	TTL int `yaml:"ttl"`
}

// TimeoutsConfig holds network timeouts in seconds
type TimeoutsConfig struct {
	Connection int `yaml:"connection"`
	Download   int `yaml:"download"`
}

// RateConfig holds rate benchmark settings
type RateConfig struct {
	// Threads is the number of concurrent probes; 0 means unlimited.
	Threads     int    `yaml:"threads"`
	ProbePath   string `yaml:"probe_path"`
	RsyncBinary string `yaml:"rsync_binary"`
}

// FiltersConfig holds the inclusive mirror filters and result caps
type FiltersConfig struct {
	// Age in hours; 0 disables the check.
	Age float64 `yaml:"age"`
	// Delay in hours; nil disables the check.
	Delay             *float64 `yaml:"delay,omitempty"`
	Countries         []string `yaml:"countries"`
	Protocols         []string `yaml:"protocols"`
	Include           []string `yaml:"include"`
	Exclude           []string `yaml:"exclude"`
	CompletionPercent int      `yaml:"completion_percent"`
	ISOs              bool     `yaml:"isos"`
	IPv4              bool     `yaml:"ipv4"`
	IPv6              bool     `yaml:"ipv6"`
	Fastest           int      `yaml:"fastest"`
	Latest            int      `yaml:"latest"`
	Score             int      `yaml:"score"`
	Number            int      `yaml:"number"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		URL: metadata.DefaultURL,
		Cache: CacheConfig{
			TTL: 300,
		},
		Timeouts: TimeoutsConfig{
			Connection: 5,
			Download:   5,
		},
		Rate: RateConfig{
			Threads:     0,
			ProbePath:   rate.DefaultProbePath,
			RsyncBinary: "rsync",
		},
		Filters: FiltersConfig{
			CompletionPercent: 100,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"reflector.yaml",
		"/etc/reflector/reflector.yaml",
	}

	// Add user config path
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "reflector", "reflector.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks values that would otherwise fail deep inside the pipeline
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url must not be empty")
	}
	if _, err := rank.ParseKey(c.Sort); err != nil {
		return err
	}
	if _, err := c.ParsedProtocols(); err != nil {
		return err
	}
	if p := c.Filters.CompletionPercent; p < 0 || p > 100 {
		return fmt.Errorf("completion_percent must be within [0, 100], got %d", p)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must not be negative, got %d", c.Cache.TTL)
	}
	if c.Timeouts.Connection < 0 || c.Timeouts.Download < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Rate.Threads < 0 {
		return fmt.Errorf("rate threads must not be negative, got %d", c.Rate.Threads)
	}
	return nil
}

// ParsedProtocols converts the protocol allow-list into typed values
func (c *Config) ParsedProtocols() ([]mirror.Protocol, error) {
	var out []mirror.Protocol
	for _, s := range c.Filters.Protocols {
		p, err := mirror.ParseProtocol(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// CacheTTL returns the cache TTL as a duration
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTL) * time.Second
}

// ConnectionTimeout returns the connection timeout as a duration
func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.Timeouts.Connection) * time.Second
}

// DownloadTimeout returns the download timeout as a duration
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Download) * time.Second
}

// CachePath returns the configured cache file, falling back to the platform
// cache directory
func (c *Config) CachePath() (string, error) {
	if c.Cache.Path != "" {
		return c.Cache.Path, nil
	}
	return metadata.DefaultCachePath()
}
