package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BadgerOps/reflector/internal/mirror"
	"github.com/google/go-cmp/cmp"
)

// TestDefaultConfig verifies that DefaultConfig returns sensible defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		getValue func(*Config) any
		want     any
	}{
		{"url", func(c *Config) any { return c.URL }, "https://archlinux.org/mirrors/status/json/"},
		{"cache path", func(c *Config) any { return c.Cache.Path }, ""},
		{"cache ttl", func(c *Config) any { return c.Cache.TTL }, 300},
		{"connection timeout", func(c *Config) any { return c.Timeouts.Connection }, 5},
		{"download timeout", func(c *Config) any { return c.Timeouts.Download }, 5},
		{"threads", func(c *Config) any { return c.Rate.Threads }, 0},
		{"probe path", func(c *Config) any { return c.Rate.ProbePath }, "extra/os/x86_64/extra.db"},
		{"rsync binary", func(c *Config) any { return c.Rate.RsyncBinary }, "rsync"},
		{"completion percent", func(c *Config) any { return c.Filters.CompletionPercent }, 100},
		{"sort", func(c *Config) any { return c.Sort }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.getValue(cfg)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if cfg.Filters.Delay != nil {
		t.Errorf("Filters.Delay = %v, want nil", *cfg.Filters.Delay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

// TestLoad tests loading a valid config file
func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "reflector.yaml")

	configContent := `
url: "https://mirrors.example.org/status/json/"
cache:
  path: "/tmp/reflector/status.json"
  ttl: 900
timeouts:
  connection: 3
  download: 10
rate:
  threads: 8
  rsync_binary: "/usr/local/bin/rsync"
filters:
  age: 12
  delay: 0.25
  countries: ["France", "de"]
  protocols: ["https", "rsync"]
  exclude: ["\\.example\\.invalid/"]
  completion_percent: 95
  ipv6: true
  latest: 20
  number: 10
sort: rate
save: "/etc/pacman.d/mirrorlist"
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.URL != "https://mirrors.example.org/status/json/" {
		t.Errorf("URL = %q", cfg.URL)
	}
	if cfg.Cache.Path != "/tmp/reflector/status.json" || cfg.CacheTTL() != 15*time.Minute {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.ConnectionTimeout() != 3*time.Second || cfg.DownloadTimeout() != 10*time.Second {
		t.Errorf("Timeouts = %+v", cfg.Timeouts)
	}
	if cfg.Rate.Threads != 8 || cfg.Rate.RsyncBinary != "/usr/local/bin/rsync" {
		t.Errorf("Rate = %+v", cfg.Rate)
	}
	// Unset keys keep their defaults.
	if cfg.Rate.ProbePath != "extra/os/x86_64/extra.db" {
		t.Errorf("Rate.ProbePath = %q, want default", cfg.Rate.ProbePath)
	}

	f := cfg.Filters
	if f.Age != 12 || f.Delay == nil || *f.Delay != 0.25 || f.CompletionPercent != 95 || !f.IPv6 || f.Latest != 20 || f.Number != 10 {
		t.Errorf("Filters = %+v", f)
	}
	if diff := cmp.Diff([]string{"France", "de"}, f.Countries); diff != "" {
		t.Errorf("Countries mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{`\.example\.invalid/`}, f.Exclude); diff != "" {
		t.Errorf("Exclude mismatch (-want +got):\n%s", diff)
	}

	protocols, err := cfg.ParsedProtocols()
	if err != nil {
		t.Fatalf("ParsedProtocols() failed: %v", err)
	}
	if diff := cmp.Diff([]mirror.Protocol{mirror.ProtocolHTTPS, mirror.ProtocolRsync}, protocols); diff != "" {
		t.Errorf("protocols mismatch (-want +got):\n%s", diff)
	}

	if cfg.Sort != "rate" || cfg.Save != "/etc/pacman.d/mirrorlist" {
		t.Errorf("Sort = %q, Save = %q", cfg.Sort, cfg.Save)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

// TestLoadInvalidYAML tests that Load returns an error for invalid YAML
func TestLoadInvalidYAML(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "invalid.yaml")

	invalidContent := `
cache:
  ttl: 300
  invalid: [unclosed bracket
`

	if err := os.WriteFile(configFile, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configFile)
	if err == nil {
		t.Fatal("Load() succeeded, want error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestLoadNonexistentFile tests that Load returns an error for missing files
func TestLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/to/reflector.yaml")
	if err == nil {
		t.Fatal("Load() succeeded, want error for nonexistent file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestFindConfigFileFound tests that FindConfigFile returns the found config
func TestFindConfigFileFound(t *testing.T) {
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	tempDir := t.TempDir()
	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	})

	configFile := filepath.Join(tempDir, "reflector.yaml")
	if err := os.WriteFile(configFile, []byte("sort: age\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	found, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() failed: %v", err)
	}
	if found != "reflector.yaml" {
		t.Errorf("FindConfigFile() = %q, want reflector.yaml", found)
	}
}

// TestValidate covers the values Validate rejects
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown sort key", func(c *Config) { c.Sort = "speed" }, "unknown sort key"},
		{"unknown protocol", func(c *Config) { c.Filters.Protocols = []string{"ftp"} }, "valid protocol"},
		{"completion above 100", func(c *Config) { c.Filters.CompletionPercent = 101 }, "completion_percent"},
		{"negative completion", func(c *Config) { c.Filters.CompletionPercent = -1 }, "completion_percent"},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -5 }, "ttl"},
		{"negative threads", func(c *Config) { c.Rate.Threads = -2 }, "threads"},
		{"empty url", func(c *Config) { c.URL = "" }, "url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

// TestCachePath tests the explicit and default cache locations
func TestCachePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Path = "/var/cache/reflector/status.json"
	got, err := cfg.CachePath()
	if err != nil || got != "/var/cache/reflector/status.json" {
		t.Errorf("CachePath() = %q, %v", got, err)
	}

	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	cfg.Cache.Path = ""
	got, err = cfg.CachePath()
	if err != nil {
		t.Fatalf("CachePath() failed: %v", err)
	}
	if filepath.Base(got) != "mirrorstatus.json" {
		t.Errorf("CachePath() = %q, want mirrorstatus.json in the cache dir", got)
	}
}
