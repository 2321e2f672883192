package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sasha-s/go-deadlock"
)

// Config is a plugin's private key-value store, persisted as one JSON
// object next to the plugin directories.
type Config struct {
	mu     deadlock.RWMutex
	path   string
	values map[string]json.RawMessage
}

// LoadConfig reads path if it exists. A missing file yields an empty store.
func LoadConfig(path string) (*Config, error) {
	c := &Config{path: path, values: map[string]json.RawMessage{}}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugin config: %w", err)
	}
	if err := json.Unmarshal(b, &c.values); err != nil {
		return nil, fmt.Errorf("decode plugin config %s: %w", path, err)
	}
	return c, nil
}

// Get unmarshals the value at key into out.
// Returns (found=false, nil) if not present.
func (c *Config) Get(key string, out any) (bool, error) {
	c.mu.RLock()
	raw, ok := c.values[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("unmarshal config %q: %w", key, err)
	}
	return true, nil
}

func (c *Config) Set(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal config %q: %w", key, err)
	}
	c.mu.Lock()
	c.values[key] = b
	c.mu.Unlock()
	return nil
}

func (c *Config) Delete(key string) {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}

func (c *Config) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save writes the store through a temp file and rename.
func (c *Config) Save() error {
	c.mu.RLock()
	b, err := json.MarshalIndent(c.values, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal plugin config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create plugin config dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write plugin config: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace plugin config: %w", err)
	}
	return nil
}
