package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// WarmPattern pre-populates one cache entry from a known prompt shape and
// its precomputed response.
type WarmPattern struct {
	Prompt      string        `yaml:"prompt"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Response    string        `yaml:"response"`
	Type        ResponseType  `yaml:"type,omitempty"`
	TTL         time.Duration `yaml:"ttl,omitempty"`
}

// WarmCache installs the given patterns and returns how many were
// installed. Patterns missing a prompt or response are skipped.
func (c *Cache) WarmCache(patterns []WarmPattern) int {
	installed := 0
	for _, p := range patterns {
		if p.Prompt == "" || p.Response == "" {
			continue
		}
		responseType := p.Type
		if responseType == "" {
			responseType = TypeOther
		}
		key := Key{Prompt: p.Prompt, Model: p.Model, Temperature: p.Temperature}
		c.Put(key, p.Response, p.TTL, responseType, nil)
		installed++
	}
	return installed
}

// warmFile is the YAML shape of a warm pattern file.
type warmFile struct {
	Patterns []WarmPattern `yaml:"patterns"`
}

// LoadWarmPatterns reads a pattern file and installs its entries.
func (c *Cache) LoadWarmPatterns(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read warm patterns: %w", err)
	}

	var file warmFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse warm patterns: %w", err)
	}

	installed := c.WarmCache(file.Patterns)
	c.logger.Info("Warm patterns installed", "path", path, "count", installed)
	return installed, nil
}

// WatchWarmPatterns loads path and reloads it whenever the file changes.
// The returned stop function releases the watcher.
func (c *Cache) WatchWarmPatterns(path string) (func(), error) {
	if _, err := c.LoadWarmPatterns(path); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops a
	// watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if _, err := c.LoadWarmPatterns(path); err != nil {
					c.logger.Warn("Warm pattern reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("Warm pattern watcher error", "error", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
