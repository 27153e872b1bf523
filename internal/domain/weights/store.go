// Package weights manages per-track selection weights.
//
// A weight is a discrete level 0-4 mapped to a fixed selection-probability
// multiplier. Level 0 is the default and is never persisted: absence means
// default, which keeps the store sparse. Queue-scope and playlist-scope
// weights live in fully isolated namespaces.
package weights

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/scope"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/trackkey"
)

const (
	// MinLevel is the default weight level; it is never stored.
	MinLevel = 0
	// MaxLevel is the strongest weight level.
	MaxLevel = 4

	storeFileName = "weights.json"
	storeVersion  = 1

	defaultFlushWindow = 1 * time.Second
)

// multipliers maps weight levels to selection-probability multipliers.
var multipliers = [MaxLevel + 1]float64{1.0, 1.6, 3.2, 4.8, 6.4}

// MultiplierForLevel returns the selection multiplier for a level,
// clamping out-of-range input.
func MultiplierForLevel(level int) float64 {
	return multipliers[clampLevel(level)]
}

func clampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// persistedStore is the on-disk JSON document.
type persistedStore struct {
	Version        int                       `json:"version"`
	QueueLevels    map[string]int            `json:"queueLevels"`
	PlaylistLevels map[string]map[string]int `json:"playlistLevels"`
}

// Store is the persistent weight store. All mutations are serialized
// behind a single lock; persistence writes are debounced so rapid
// successive edits coalesce into one disk write.
type Store struct {
	mu             sync.Mutex
	filePath       string
	queueLevels    map[string]int
	playlistLevels map[string]map[string]int
	revision       uint64
	flushWindow    time.Duration
	flushTimer     *time.Timer
	closed         bool

	onChange     func()
	onFlushError func(error)
}

// NewStore creates a store persisting under dataDir and loads any existing
// document. A missing or corrupt file loads as empty; the next flush
// rewrites it in the current format.
func NewStore(dataDir string) *Store {
	s := &Store{
		filePath:       filepath.Join(dataDir, storeFileName),
		queueLevels:    make(map[string]int),
		playlistLevels: make(map[string]map[string]int),
		flushWindow:    defaultFlushWindow,
	}
	s.load()
	return s
}

// SetFlushWindow overrides the debounce window for persistence writes.
func (s *Store) SetFlushWindow(window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushWindow = window
}

// SetOnChange registers a callback invoked synchronously after every
// mutation that changed effective weights. Consumers treat it as
// "invalidate cached permutation".
func (s *Store) SetOnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// SetOnFlushError registers a callback for persistence failures, surfaced
// as advisory events; in-memory state stays authoritative.
func (s *Store) SetOnFlushError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFlushError = fn
}

// Revision returns the monotonically increasing mutation counter.
func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Level returns the weight level for a track in the given scope, 0 if
// absent. A record found only under a legacy lookup key is migrated to
// the canonical form in place.
func (s *Store) Level(path string, sel scope.Selection) int {
	keys := trackkey.LookupKeys(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	levels := s.levelsFor(sel, false)
	if levels == nil {
		return MinLevel
	}

	if level, ok := levels[keys[0]]; ok {
		return level
	}

	for _, legacy := range keys[1:] {
		level, ok := levels[legacy]
		if !ok {
			continue
		}
		// Lazy migration: rewrite the entry under its canonical key.
		delete(levels, legacy)
		levels[keys[0]] = level
		log.Debug().Str("from", legacy).Str("to", keys[0]).Msg("Migrated legacy weight key")
		s.scheduleFlushLocked()
		return level
	}

	return MinLevel
}

// Multiplier returns the selection multiplier for a track in the given
// scope.
func (s *Store) Multiplier(path string, sel scope.Selection) float64 {
	return MultiplierForLevel(s.Level(path, sel))
}

// SetLevel assigns a weight level, clamped to [0,4]. Level 0 deletes the
// entry. The write is persisted through the debounced flush.
func (s *Store) SetLevel(level int, path string, sel scope.Selection) {
	level = clampLevel(level)
	keys := trackkey.LookupKeys(path)

	s.mu.Lock()
	levels := s.levelsFor(sel, level != MinLevel)

	changed := false
	if levels != nil {
		// Drop legacy spellings so the entry exists at most once.
		for _, legacy := range keys[1:] {
			if _, ok := levels[legacy]; ok {
				delete(levels, legacy)
				changed = true
			}
		}
		if level == MinLevel {
			if _, ok := levels[keys[0]]; ok {
				delete(levels, keys[0])
				changed = true
			}
		} else if levels[keys[0]] != level {
			levels[keys[0]] = level
			changed = true
		}
	}

	if changed {
		s.revision++
		s.scheduleFlushLocked()
	}
	fn := s.onChange
	s.mu.Unlock()

	if changed {
		log.Debug().Str("key", keys[0]).Int("level", level).Str("scope", string(sel.Kind)).Msg("Weight level set")
		if fn != nil {
			fn()
		}
	}
}

// Clear removes every weight in the given scope.
func (s *Store) Clear(sel scope.Selection) {
	s.mu.Lock()
	changed := false
	if sel.IsPlaylist() {
		if _, ok := s.playlistLevels[sel.PlaylistID]; ok {
			delete(s.playlistLevels, sel.PlaylistID)
			changed = true
		}
	} else if len(s.queueLevels) > 0 {
		s.queueLevels = make(map[string]int)
		changed = true
	}
	if changed {
		s.revision++
	}
	fn := s.onChange
	s.mu.Unlock()

	if changed {
		// Bulk deletions flush immediately instead of waiting on the
		// debounce timer.
		if err := s.Flush(); err != nil {
			log.Warn().Err(err).Msg("Flush after scope clear failed")
		}
		if fn != nil {
			fn()
		}
	}
}

// RemoveTrack deletes a track's weight from the given scope, e.g. when the
// track leaves the collection or a playlist.
func (s *Store) RemoveTrack(path string, sel scope.Selection) {
	keys := trackkey.LookupKeys(path)

	s.mu.Lock()
	changed := false
	if levels := s.levelsFor(sel, false); levels != nil {
		for _, key := range keys {
			if _, ok := levels[key]; ok {
				delete(levels, key)
				changed = true
			}
		}
	}
	if changed {
		s.revision++
	}
	fn := s.onChange
	s.mu.Unlock()

	if changed {
		if err := s.Flush(); err != nil {
			log.Warn().Err(err).Msg("Flush after track removal failed")
		}
		if fn != nil {
			fn()
		}
	}
}

// RemovePlaylist deletes all weights scoped to the given playlist.
func (s *Store) RemovePlaylist(id string) {
	s.Clear(scope.Playlist(id))
}

// SyncOverridesToQueue copies non-default levels from a playlist scope
// into the queue scope. It reports how many overrides were found and how
// many queue entries actually changed. Queue entries are never reset to
// default just because the playlist holds no override for them.
func (s *Store) SyncOverridesToQueue(playlistID string) (found, changed int) {
	s.mu.Lock()
	src := s.playlistLevels[playlistID]
	found = len(src)
	for key, level := range src {
		if s.queueLevels[key] != level {
			s.queueLevels[key] = level
			changed++
		}
	}
	if changed > 0 {
		s.revision++
		s.scheduleFlushLocked()
	}
	fn := s.onChange
	s.mu.Unlock()

	log.Info().
		Str("playlist", playlistID).
		Int("found", found).
		Int("changed", changed).
		Msg("Synced playlist weight overrides to queue")

	if changed > 0 && fn != nil {
		fn()
	}
	return found, changed
}

// Flush forces a synchronous persistence write, cancelling any pending
// debounced flush. Shutdown and scope-clear paths use it instead of
// waiting on the debounce timer.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	doc := persistedStore{
		Version:        storeVersion,
		QueueLevels:    copyLevels(s.queueLevels),
		PlaylistLevels: make(map[string]map[string]int, len(s.playlistLevels)),
	}
	for id, levels := range s.playlistLevels {
		if len(levels) > 0 {
			doc.PlaylistLevels[id] = copyLevels(levels)
		}
	}
	path := s.filePath
	onFlushError := s.onFlushError
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode weight store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return s.reportFlushError(onFlushError, fmt.Errorf("failed to create data directory: %w", err))
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return s.reportFlushError(onFlushError, fmt.Errorf("failed to write weight store: %w", err))
	}

	log.Debug().Str("file", path).Msg("Weight store flushed")
	return nil
}

// Close flushes pending changes and stops the debounce timer.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.mu.Unlock()
	return s.Flush()
}

func (s *Store) reportFlushError(fn func(error), err error) error {
	log.Error().Err(err).Msg("Weight store persistence failed")
	if fn != nil {
		fn(err)
	}
	return err
}

// levelsFor returns the level map for a scope. With create set, a missing
// playlist namespace is allocated.
func (s *Store) levelsFor(sel scope.Selection, create bool) map[string]int {
	if !sel.IsPlaylist() {
		return s.queueLevels
	}
	levels, ok := s.playlistLevels[sel.PlaylistID]
	if !ok && create {
		levels = make(map[string]int)
		s.playlistLevels[sel.PlaylistID] = levels
	}
	return levels
}

// scheduleFlushLocked arms or re-arms the debounce timer. Must hold mu.
func (s *Store) scheduleFlushLocked() {
	if s.closed {
		return
	}
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushTimer = time.AfterFunc(s.flushWindow, func() {
		if err := s.Flush(); err != nil {
			log.Warn().Err(err).Msg("Debounced weight flush failed")
		}
	})
}

// load reads the persisted document, dropping invalid entries. A corrupt
// file is treated as absent.
func (s *Store) load() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", s.filePath).Msg("Failed to read weight store")
		}
		return
	}

	var doc persistedStore
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn().Err(err).Str("file", s.filePath).Msg("Corrupt weight store, starting empty")
		return
	}

	for key, level := range doc.QueueLevels {
		if level > MinLevel && level <= MaxLevel {
			s.queueLevels[key] = level
		}
	}
	for id, levels := range doc.PlaylistLevels {
		for key, level := range levels {
			if level > MinLevel && level <= MaxLevel {
				if s.playlistLevels[id] == nil {
					s.playlistLevels[id] = make(map[string]int)
				}
				s.playlistLevels[id][key] = level
			}
		}
	}

	log.Info().
		Int("queue", len(s.queueLevels)).
		Int("playlists", len(s.playlistLevels)).
		Msg("Loaded weight store")
}

func copyLevels(levels map[string]int) map[string]int {
	out := make(map[string]int, len(levels))
	for key, level := range levels {
		out[key] = level
	}
	return out
}
