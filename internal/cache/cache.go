// Package cache implements one entry's view of the world: the set of files
// it has mirrored from its upstream, rebuilt from disk at startup and kept
// in memory afterward.
package cache

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/bcdn-project/bcdn/internal/config"
	"github.com/bcdn-project/bcdn/internal/digest"
	"github.com/bcdn-project/bcdn/internal/globset"
)

// Result classifies the outcome of a Get lookup.
type Result int

const (
	// ResultNotFound means filename does not match the entry's patterns.
	ResultNotFound Result = iota
	// ResultOK means a verified digest is on disk and ready to serve.
	ResultOK
	// ResultNotCached means filename is allowed but not yet mirrored.
	ResultNotCached
)

// Cache is one configured entry: an upstream base URL, an allow-list of
// file name patterns, and the index of files currently mirrored under root.
type Cache struct {
	name     string
	baseURL  *url.URL
	patterns globset.Set
	root     string

	mu    sync.RWMutex
	index map[string]digest.Digest
}

// New constructs a Cache for one configured entry, scanning root for
// existing, verifiable digests. Unreadable or hash-mismatched entries are
// logged and skipped rather than failing the whole scan.
func New(name string, ec config.EntryConfig, root string) (*Cache, error) {
	u, err := url.Parse(ec.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("cache: %s: parse base_url: %w", name, err)
	}

	set, err := globset.Compile(ec.Patterns)
	if err != nil {
		return nil, fmt.Errorf("cache: %s: %w", name, err)
	}

	entryRoot := filepath.Join(root, name)
	if err := os.MkdirAll(entryRoot, 0o755); err != nil {
		return nil, fmt.Errorf("cache: %s: mkdir %s: %w", name, entryRoot, err)
	}

	c := &Cache{
		name:     name,
		baseURL:  u,
		patterns: set,
		root:     entryRoot,
		index:    make(map[string]digest.Digest),
	}

	if err := c.scan(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) scan() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("cache: %s: scan %s: %w", c.name, c.root, err)
	}

	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if filepath.Ext(name) == ".digest" || filepath.Ext(name) == ".download" {
			continue
		}
		if name[0] == '.' {
			continue
		}

		d, err := digest.ForPath(filepath.Join(c.root, name))
		if err != nil {
			log.Warn().Err(err).Str("entry", c.name).Str("file", name).Msg("cache: skipping file without a valid digest")
			continue
		}
		if err := d.Verify(); err != nil {
			log.Warn().Err(err).Str("entry", c.name).Str("file", name).Msg("cache: skipping file that failed verification")
			continue
		}
		c.index[name] = d
	}
	return nil
}

// Name is the configured entry name.
func (c *Cache) Name() string { return c.name }

// Root is the on-disk directory this entry mirrors into.
func (c *Cache) Root() string { return c.root }

// BaseURL is the upstream this entry mirrors from.
func (c *Cache) BaseURL() *url.URL { return c.baseURL }

// Allowed reports whether filename matches this entry's pattern allow-list.
func (c *Cache) Allowed(filename string) bool {
	return c.patterns.Match(filename)
}

// Get looks filename up in the index.
func (c *Cache) Get(filename string) (Result, digest.Digest) {
	if !c.Allowed(filename) {
		return ResultNotFound, digest.Digest{}
	}
	c.mu.RLock()
	d, ok := c.index[filename]
	c.mu.RUnlock()
	if !ok {
		return ResultNotCached, digest.Digest{}
	}
	return ResultOK, d
}

// UpstreamURL builds the URL to fetch filename from the configured upstream.
func (c *Cache) UpstreamURL(filename string) string {
	return c.baseURL.String() + filename
}

// LocalPath is the path filename would occupy on disk once mirrored.
func (c *Cache) LocalPath(filename string) string {
	return filepath.Join(c.root, filename)
}

// Promote admits d into the index, making it visible to subsequent Gets.
func (c *Cache) Promote(d digest.Digest) {
	c.mu.Lock()
	c.index[d.FileName] = d
	c.mu.Unlock()
}
