package roster

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CacheEntry is the persisted roster blob.
type CacheEntry struct {
	Students  []Student `json:"students"`
	Timestamp time.Time `json:"timestamp"`
}

// Cache stores a single roster entry.
type Cache interface {
	Get() (CacheEntry, bool, error)
	Put(entry CacheEntry) error
	Clear() error
}

// FileCache keeps the entry as a JSON file.
type FileCache struct {
	path string
	mu   sync.Mutex
}

// NewFileCache creates a cache writing to path.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Get reads the entry. A missing or unreadable file is a miss.
func (c *FileCache) Get() (CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("roster cache: read: %w", err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Put replaces the entry atomically via rename.
func (c *FileCache) Put(entry CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("roster cache: encode: %w", err)
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("roster cache: mkdir: %w", err)
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("roster cache: write: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// Clear removes the entry.
func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("roster cache: remove: %w", err)
	}
	return nil
}
