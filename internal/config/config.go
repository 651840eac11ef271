// Package config loads and validates the TOML configuration file shared by
// the cache node and the proxy node.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/bcdn-project/bcdn/internal/jobqueue"
)

var (
	// ErrConfigMissing is returned when the config file cannot be read.
	ErrConfigMissing = errors.New("config: file not found")
	// ErrInvalid is returned when a loaded config fails validation.
	ErrInvalid = errors.New("config: invalid")
)

var entryNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config is the top-level TOML document.
type Config struct {
	Cache   CacheConfig            `toml:"cache"`
	Proxy   ProxyConfig            `toml:"proxy"`
	Entries map[string]EntryConfig `toml:"entries"`
}

// CacheConfig configures the cache node.
type CacheConfig struct {
	Bind         string `toml:"bind"`
	RootPath     string `toml:"root_path"`
	MaxDownloads int    `toml:"max_downloads"`
	OnFailure    string `toml:"on_failure"`
}

// ProxyConfig configures the proxy node.
type ProxyConfig struct {
	Bind  string   `toml:"bind"`
	Nodes []string `toml:"nodes"`
}

// EntryConfig describes one mirrored upstream.
type EntryConfig struct {
	BaseURL  string   `toml:"base_url"`
	Patterns []string `toml:"patterns"`
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
	}

	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Cache.MaxDownloads == 0 {
		c.Cache.MaxDownloads = 4
	}
	if c.Cache.OnFailure == "" {
		c.Cache.OnFailure = "drop"
	}
	for name, e := range c.Entries {
		if len(e.Patterns) == 0 {
			e.Patterns = []string{"*"}
			c.Entries[name] = e
		}
	}
}

// OnFailurePolicy parses the configured retry policy knob.
func (c CacheConfig) OnFailurePolicy() (jobqueue.OnFailure, error) {
	switch strings.ToLower(c.OnFailure) {
	case "drop", "":
		return jobqueue.OnFailureDrop, nil
	case "retry":
		return jobqueue.OnFailureRetry, nil
	default:
		return 0, fmt.Errorf("%w: on_failure: unknown policy %q", ErrInvalid, c.OnFailure)
	}
}

// Validate checks structural invariants that TOML decoding alone cannot.
func (c *Config) Validate() error {
	if c.Cache.Bind != "" {
		if c.Cache.RootPath == "" {
			return fmt.Errorf("%w: cache.root_path is required", ErrInvalid)
		}
		if _, err := c.Cache.OnFailurePolicy(); err != nil {
			return err
		}
		if c.Cache.MaxDownloads < 1 {
			return fmt.Errorf("%w: cache.max_downloads must be >= 1", ErrInvalid)
		}
	}
	if c.Proxy.Bind != "" && len(c.Proxy.Nodes) == 0 {
		return fmt.Errorf("%w: proxy.nodes must be non-empty", ErrInvalid)
	}
	for name, e := range c.Entries {
		if !entryNameRe.MatchString(name) {
			return fmt.Errorf("%w: entry name %q: must match [A-Za-z0-9_-]+", ErrInvalid, name)
		}
		if !strings.HasPrefix(e.BaseURL, "http://") && !strings.HasPrefix(e.BaseURL, "https://") {
			return fmt.Errorf("%w: entries.%s.base_url must be absolute http(s)", ErrInvalid, name)
		}
		if !strings.HasSuffix(e.BaseURL, "/") {
			return fmt.Errorf("%w: entries.%s.base_url must end in \"/\"", ErrInvalid, name)
		}
	}
	return nil
}
