// SPDX-License-Identifier: MIT

// Package cache provides a keyed, expiring, checksum-verified blob store on
// disk. Entries live at <root>/<service>/<key>.json and are shared through a
// per-(service, key, version) handle map.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

var (
	// ErrVersionMismatch indicates the on-disk entry was written by a
	// different payload version. Callers typically delete and refill.
	ErrVersionMismatch = errors.New("cache: version mismatch")

	// ErrChecksumMismatch indicates the entry failed crc32 verification.
	ErrChecksumMismatch = errors.New("cache: checksum mismatch")
)

// payload is the on-disk JSON layout. CRC32 covers the JSON serialization
// of the first three fields in declaration order.
type payload struct {
	Data       any    `json:"data"`
	Expiration *string `json:"expiration"`
	Version    int    `json:"version"`
	CRC32      uint32 `json:"crc32"`
}

func (p payload) checksum() (uint32, error) {
	body, err := json.Marshal(struct {
		Data       any    `json:"data"`
		Expiration *string `json:"expiration"`
		Version    int    `json:"version"`
	}{p.Data, p.Expiration, p.Version})
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(body), nil
}

// Cache is a handle to one (service, key) entry.
type Cache struct {
	mu         sync.Mutex
	path       string
	version    int
	data       any
	expiration *time.Time
	loaded     bool
}

// Store hands out shared Cache handles below a root directory.
type Store struct {
	mu      sync.Mutex
	root    string
	handles map[string]*Cache
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{
		root:    dir,
		handles: make(map[string]*Cache),
	}
}

// Get returns the shared handle for (service, key, version), reading and
// verifying the on-disk entry if one exists. A missing file yields an empty
// handle; a corrupt or mismatched file yields ErrChecksumMismatch or
// ErrVersionMismatch so the caller can delete and refill.
func (s *Store) Get(service, key string, version int) (*Cache, error) {
	s.mu.Lock()
	id := fmt.Sprintf("%s/%s@%d", service, key, version)
	c, ok := s.handles[id]
	if !ok {
		c = &Cache{
			path:    filepath.Join(s.root, service, key+".json"),
			version: version,
		}
		s.handles[id] = c
	}
	s.mu.Unlock()

	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes the entry for (service, key) from disk and drops any
// shared handles for it.
func (s *Store) Delete(service, key string) error {
	s.mu.Lock()
	prefix := service + "/" + key + "@"
	for id := range s.handles {
		if len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			delete(s.handles, id)
		}
	}
	s.mu.Unlock()

	path := filepath.Join(s.root, service, key+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: delete %s: %w", path, err)
	}
	return nil
}

func (c *Cache) load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}

	raw, err := os.ReadFile(c.path) // #nosec G304 -- path is derived from the configured cache root
	if err != nil {
		if os.IsNotExist(err) {
			c.loaded = true
			return nil
		}
		return fmt.Errorf("cache: read %s: %w", c.path, err)
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, c.path)
	}
	sum, err := p.checksum()
	if err != nil || sum != p.CRC32 {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, c.path)
	}
	if p.Version != c.version {
		return fmt.Errorf("%w: %s has version %d, want %d", ErrVersionMismatch, c.path, p.Version, c.version)
	}

	c.data = p.Data
	c.expiration = nil
	if p.Expiration != nil {
		if ts, err := ParseTimestamp(*p.Expiration); err == nil {
			c.expiration = ts
		}
	}
	c.loaded = true
	return nil
}

// Data returns the cached value, or nil if the entry is empty.
func (c *Cache) Data() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// Expiration returns the entry's expiration time if one is set.
func (c *Cache) Expiration() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiration == nil {
		return nil
	}
	t := *c.expiration
	return &t
}

// Expired reports whether an expiration is set and precedes now.
func (c *Cache) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiration != nil && c.expiration.Before(time.Now())
}

// Set stores data with an optional expiration and writes the entry
// atomically. When expiration is nil the data is probed for a JWT exp
// claim; if none is found the entry never expires. The stored data is
// returned for call chaining.
func (c *Cache) Set(data any, expiration any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expAt *time.Time
	if expiration != nil {
		ts, err := ParseTimestamp(expiration)
		if err != nil {
			return nil, fmt.Errorf("cache: parse expiration: %w", err)
		}
		expAt = ts
	} else if token, ok := data.(string); ok {
		if exp, ok := jwtExpiration(token); ok {
			expAt = &exp
		}
	}

	var expStr *string
	if expAt != nil {
		s := expAt.UTC().Format(time.RFC3339)
		expStr = &s
	}

	p := payload{Data: data, Expiration: expStr, Version: c.version}
	sum, err := p.checksum()
	if err != nil {
		return nil, fmt.Errorf("cache: serialize entry: %w", err)
	}
	p.CRC32 = sum

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("cache: serialize entry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	if err := renameio.WriteFile(c.path, raw, 0o640); err != nil {
		return nil, fmt.Errorf("cache: write %s: %w", c.path, err)
	}

	c.data = data
	c.expiration = expAt
	c.loaded = true
	return data, nil
}
