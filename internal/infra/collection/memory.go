package collection

import (
	"strings"
	"sync"

	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/trackkey"
)

// MemoryCollection is an in-memory Collection. It backs tests, the
// file-watcher path, and the snapshot side of the MPD adapter. It is safe
// for concurrent access.
type MemoryCollection struct {
	mu       sync.RWMutex
	records  []Record
	byKey    map[string]int
	byLegacy map[string]int
}

// NewMemoryCollection creates a collection holding the given records in
// order. Record keys are derived from paths when absent.
func NewMemoryCollection(records ...Record) *MemoryCollection {
	c := &MemoryCollection{}
	c.Replace(records)
	return c
}

// Replace swaps the entire record population, preserving the given order.
func (c *MemoryCollection) Replace(records []Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = make([]Record, 0, len(records))
	c.byKey = make(map[string]int, len(records))
	c.byLegacy = make(map[string]int, len(records))
	for _, rec := range records {
		c.appendLocked(rec)
	}
}

// Add appends a record to the collection.
func (c *MemoryCollection) Add(rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(rec)
}

func (c *MemoryCollection) appendLocked(rec Record) {
	if rec.Key == "" {
		rec.Key = trackkey.Canonicalize(rec.Path)
	}
	if _, exists := c.byKey[rec.Key]; exists {
		return
	}
	idx := len(c.records)
	c.records = append(c.records, rec)
	c.byKey[rec.Key] = idx
	if legacy := strings.ToLower(rec.Key); legacy != rec.Key {
		c.byLegacy[legacy] = idx
	}
}

// Remove deletes the record for the given path or key, reporting whether
// anything was removed.
func (c *MemoryCollection) Remove(pathOrKey string) (Record, bool) {
	key := trackkey.Canonicalize(pathOrKey)

	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.byKey[key]
	if !ok {
		idx, ok = c.byLegacy[strings.ToLower(key)]
	}
	if !ok {
		return Record{}, false
	}

	removed := c.records[idx]
	c.records = append(c.records[:idx], c.records[idx+1:]...)

	// Rebuild indices past the removal point.
	c.byKey = make(map[string]int, len(c.records))
	c.byLegacy = make(map[string]int, len(c.records))
	for i, rec := range c.records {
		c.byKey[rec.Key] = i
		if legacy := strings.ToLower(rec.Key); legacy != rec.Key {
			c.byLegacy[legacy] = i
		}
	}
	return removed, true
}

// AllRecords returns a copy of the records in physical order.
func (c *MemoryCollection) AllRecords() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Len returns the number of records.
func (c *MemoryCollection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// RecordAt returns the record at a physical index.
func (c *MemoryCollection) RecordAt(i int) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i < 0 || i >= len(c.records) {
		return Record{}, false
	}
	return c.records[i], true
}

// RecordForKey resolves a canonical key to its record, falling back to
// the legacy case-folded index so records stored under older key formats
// are still found.
func (c *MemoryCollection) RecordForKey(key string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if idx, ok := c.byKey[key]; ok {
		return c.records[idx], true
	}
	if idx, ok := c.byLegacy[strings.ToLower(key)]; ok {
		return c.records[idx], true
	}
	return Record{}, false
}

// IndexOf returns the physical index of a key.
func (c *MemoryCollection) IndexOf(key string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if idx, ok := c.byKey[key]; ok {
		return idx, true
	}
	if idx, ok := c.byLegacy[strings.ToLower(key)]; ok {
		return idx, true
	}
	return 0, false
}

// Keys returns all canonical keys in physical order.
func (c *MemoryCollection) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, len(c.records))
	for i, rec := range c.records {
		keys[i] = rec.Key
	}
	return keys
}

// Contains reports whether a key resolves to a record.
func (c *MemoryCollection) Contains(key string) bool {
	_, ok := c.RecordForKey(key)
	return ok
}
