package cache

import (
	"fmt"
	"time"

	"github.com/signalmesh/signalmesh/storage"
)

// snapshotVersion tags the on-disk cache format.
const snapshotVersion = 1

// snapshot is the on-disk cache format.
type snapshot struct {
	Entries   []*Entry  `json:"entries"`
	LastSaved time.Time `json:"last_saved"`
	Version   int       `json:"version"`
}

// Save persists hot entries (hitCount at or above the persistence
// threshold) to the configured store path.
func (c *Cache) Save() error {
	if c.storePath == "" {
		return nil
	}

	c.mu.Lock()
	snap := snapshot{
		Entries:   make([]*Entry, 0),
		LastSaved: c.now(),
		Version:   snapshotVersion,
	}
	for _, entry := range c.entries {
		if entry.HitCount >= hotThreshold && c.live(entry) {
			copied := *entry
			snap.Entries = append(snap.Entries, &copied)
		}
	}
	c.mu.Unlock()

	if err := storage.SaveJSON(c.storePath, snap); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	c.logger.Debug("Cache saved", "hot_entries", len(snap.Entries))
	return nil
}

// Load restores previously saved hot entries. Entries that expired while
// the process was down are skipped.
func (c *Cache) Load() (int, error) {
	if c.storePath == "" {
		return 0, nil
	}

	var snap snapshot
	found, err := storage.LoadJSON(c.storePath, &snap)
	if err != nil {
		return 0, fmt.Errorf("load cache: %w", err)
	}
	if !found {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	restored := 0
	for _, entry := range snap.Entries {
		if !c.live(entry) {
			continue
		}
		c.entries[entry.Fingerprint] = entry
		restored++
	}
	c.logger.Info("Cache restored", "entries", restored)
	return restored, nil
}
