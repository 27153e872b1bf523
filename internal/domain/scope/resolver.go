package scope

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/trackkey"
)

const selectionFileName = "scope.json"

// Resolver owns the active scope, the playlist membership index and the
// persisted scope selector. It is safe for concurrent access.
type Resolver struct {
	mu            sync.RWMutex
	filePath      string
	sel           Selection
	trackKeys     []string
	positionByKey map[string]int
}

// NewResolver creates a resolver persisting its selection under dataDir.
// The initial scope is Queue; call Restore to re-derive the persisted one.
func NewResolver(dataDir string) *Resolver {
	return &Resolver{
		filePath: filepath.Join(dataDir, selectionFileName),
		sel:      Queue(),
	}
}

// Current returns the active selection.
func (r *Resolver) Current() Selection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sel
}

// Kind returns the active scope kind.
func (r *Resolver) Kind() Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sel.Kind
}

// SetQueue switches the active scope to the flat queue and persists the
// selection. Playlist membership state is discarded.
func (r *Resolver) SetQueue() {
	r.mu.Lock()
	r.sel = Queue()
	r.trackKeys = nil
	r.positionByKey = nil
	r.mu.Unlock()

	log.Info().Msg("Scope set to queue")
	r.save()
}

// SetPlaylist switches the active scope to the given playlist, capturing
// its ordered member keys and building the key position index.
func (r *Resolver) SetPlaylist(id string, orderedMemberKeys []string) {
	keys := make([]string, len(orderedMemberKeys))
	copy(keys, orderedMemberKeys)

	r.mu.Lock()
	r.sel = Playlist(id)
	r.trackKeys = keys
	r.positionByKey = buildPositionIndex(keys)
	r.mu.Unlock()

	log.Info().Str("playlist", id).Int("members", len(keys)).Msg("Scope set to playlist")
	r.save()
}

// UpdateMembersIfActive replaces the membership of the given playlist if it
// is the active scope, returning the key-set delta so the caller can
// reconcile live shuffle state instead of discarding it. When the playlist
// is not active the call is a no-op.
func (r *Resolver) UpdateMembersIfActive(id string, newOrderedMemberKeys []string) (added, removed []string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sel.Kind != KindPlaylist || r.sel.PlaylistID != id {
		return nil, nil, false
	}

	newSet := make(map[string]struct{}, len(newOrderedMemberKeys))
	for _, key := range newOrderedMemberKeys {
		newSet[key] = struct{}{}
	}
	for _, key := range r.trackKeys {
		if _, ok := newSet[key]; !ok {
			removed = append(removed, key)
		}
	}
	for _, key := range newOrderedMemberKeys {
		if _, ok := r.positionByKey[key]; !ok {
			added = append(added, key)
		}
	}

	r.trackKeys = make([]string, len(newOrderedMemberKeys))
	copy(r.trackKeys, newOrderedMemberKeys)
	r.positionByKey = buildPositionIndex(r.trackKeys)

	log.Debug().
		Str("playlist", id).
		Int("added", len(added)).
		Int("removed", len(removed)).
		Msg("Active playlist membership updated")

	return added, removed, true
}

// Restore re-derives the active scope from the persisted selection. A
// playlist scope is resolved through source; if the playlist no longer
// exists or has no resolvable members the resolver falls back to Queue.
// The effective selection is returned.
func (r *Resolver) Restore(source PlaylistSource) Selection {
	sel := r.loadSelection()

	if sel.Kind != KindPlaylist {
		r.mu.Lock()
		r.sel = Selection{Kind: KindQueue, Position: sel.Position}
		r.trackKeys = nil
		r.positionByKey = nil
		r.mu.Unlock()
		return r.Current()
	}

	if source == nil || !source.Exists(sel.PlaylistID) {
		log.Warn().Str("playlist", sel.PlaylistID).Msg("Persisted playlist scope no longer exists, falling back to queue")
		r.SetQueue()
		return r.Current()
	}

	members := source.MembersInOrder(sel.PlaylistID)
	keys := make([]string, 0, len(members))
	for _, path := range members {
		keys = append(keys, trackkey.Canonicalize(path))
	}
	if len(keys) == 0 {
		log.Warn().Str("playlist", sel.PlaylistID).Msg("Persisted playlist scope has no resolvable members, falling back to queue")
		r.SetQueue()
		return r.Current()
	}

	position := sel.Position
	if position < 0 || position >= len(keys) {
		position = 0
	}

	r.mu.Lock()
	r.sel = Selection{Kind: KindPlaylist, PlaylistID: sel.PlaylistID, Position: position}
	r.trackKeys = keys
	r.positionByKey = buildPositionIndex(keys)
	r.mu.Unlock()

	log.Info().Str("playlist", sel.PlaylistID).Int("members", len(keys)).Msg("Restored playlist scope")
	return r.Current()
}

// Position returns the member index of the given key in the active
// playlist, used to compute sequential next/previous without rebuilding
// the permutation. The second result is false for queue scope or unknown
// keys.
func (r *Resolver) Position(key string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.positionByKey == nil {
		return 0, false
	}
	pos, ok := r.positionByKey[key]
	return pos, ok
}

// Members returns a copy of the active playlist's ordered member keys.
// It is nil for queue scope.
func (r *Resolver) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.trackKeys == nil {
		return nil
	}
	keys := make([]string, len(r.trackKeys))
	copy(keys, r.trackKeys)
	return keys
}

// MemberCount returns the active playlist's membership size, 0 for queue.
func (r *Resolver) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trackKeys)
}

// SetResumeIndex records and persists the current logical position so a
// restart resumes at the same place.
func (r *Resolver) SetResumeIndex(i int) {
	r.mu.Lock()
	r.sel.Position = i
	r.mu.Unlock()
	r.save()
}

// ResumeIndex returns the persisted logical position pointer.
func (r *Resolver) ResumeIndex() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sel.Position
}

// PlayableCount counts scope members that resolve to a physical record and
// are not marked unplayable.
func (r *Resolver) PlayableCount(population Population, isUnplayable func(key string) bool) int {
	r.mu.RLock()
	kind := r.sel.Kind
	members := r.trackKeys
	r.mu.RUnlock()

	count := 0
	if kind == KindPlaylist {
		for _, key := range members {
			if population.Contains(key) && !isUnplayable(key) {
				count++
			}
		}
		return count
	}

	for _, key := range population.Keys() {
		if !isUnplayable(key) {
			count++
		}
	}
	return count
}

func buildPositionIndex(keys []string) map[string]int {
	index := make(map[string]int, len(keys))
	for i, key := range keys {
		// First occurrence wins for duplicate members.
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}
	return index
}

// loadSelection reads the persisted selector, treating a missing or
// corrupt file as "queue scope" rather than an error.
func (r *Resolver) loadSelection() Selection {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", r.filePath).Msg("Failed to read scope selection")
		}
		return Queue()
	}

	var sel Selection
	if err := json.Unmarshal(data, &sel); err != nil {
		log.Warn().Err(err).Str("file", r.filePath).Msg("Corrupt scope selection, using queue")
		return Queue()
	}
	if sel.Kind != KindQueue && sel.Kind != KindPlaylist {
		return Queue()
	}
	return sel
}

// save persists the current selection. Write failures are logged and
// otherwise ignored; in-memory state stays authoritative.
func (r *Resolver) save() {
	r.mu.RLock()
	sel := r.sel
	r.mu.RUnlock()

	data, err := json.MarshalIndent(sel, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode scope selection")
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.filePath), 0755); err != nil {
		log.Error().Err(err).Msg("Failed to create data directory")
		return
	}
	if err := os.WriteFile(r.filePath, data, 0644); err != nil {
		log.Error().Err(err).Str("file", r.filePath).Msg("Failed to save scope selection")
	}
}
