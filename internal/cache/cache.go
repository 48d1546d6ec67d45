// Package cache is a small TTL cache backed by one JSON file per key. It is
// meant for remote API responses: entries are cheap to rebuild, so every
// read or decode failure is treated as a miss.
package cache

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type envelope struct {
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Cache stores JSON payloads under a directory, validity decided per read.
type Cache struct {
	mu  sync.Mutex
	dir string

	now func() time.Time
}

// New creates the cache directory if needed.
func New(dir string) (*Cache, error) {
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		dir = filepath.Join(base, "animedb-helper")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir, now: time.Now}, nil
}

// Key builds a stable cache key from a function name and its arguments.
func Key(fn string, args ...any) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, fn)
	for _, a := range args {
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	return strings.Join(parts, "_")
}

// Get decodes the payload for key into dst when the entry exists and is
// younger than ttl. Expired entries are deleted on read.
func (c *Cache) Get(key string, ttl time.Duration, dst any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.path(key)
	data, err := os.ReadFile(path) // #nosec G304 - path derives from the cache dir
	if err != nil {
		return false
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[cache] Corrupt entry %q: %v", key, err)
		_ = os.Remove(path)
		return false
	}
	if c.now().Sub(env.Timestamp) >= ttl {
		_ = os.Remove(path)
		return false
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return false
	}
	return true
}

// Put stores payload under key with the current timestamp.
func (c *Cache) Put(key string, payload any) bool {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[cache] Failed to marshal %q: %v", key, err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(envelope{Timestamp: c.now(), Payload: raw})
	if err != nil {
		return false
	}
	if err := os.WriteFile(c.path(key), data, 0o600); err != nil {
		log.Printf("[cache] Failed to write %q: %v", key, err)
		return false
	}
	return true
}

// Delete removes a single entry.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = os.Remove(c.path(key))
}

// Clear removes every entry file. Returns the number of entries removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return 0
	}
	removed := 0
	for _, m := range matches {
		if os.Remove(m) == nil {
			removed++
		}
	}
	return removed
}

// path maps a key to a filename: printable characters kept, the rest
// replaced, plus a short hash so distinct keys never collide.
func (c *Cache) path(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	name := b.String()
	if len(name) > 120 {
		name = name[:120]
	}
	return filepath.Join(c.dir, fmt.Sprintf("%s_%08x.json", name, h.Sum32()))
}
