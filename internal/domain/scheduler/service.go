// Package scheduler decides which track plays next.
//
// The service composes the scope resolver, weight store, unplayability
// tracker and shuffle engine. Selection calls are lightweight, in-memory
// and funneled through a single lock, making the service the sole owner
// of the shuffle state: no other goroutine traverses or patches it.
// Weight-store persistence and playlist hydration run in the background
// and never block a selection; a selection always operates on the latest
// committed in-memory state.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/scope"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/shuffle"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/trackkey"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/unplayable"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/weights"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/infra/collection"
)

// Mode selects the traversal policy.
type Mode string

const (
	// ModeSequential walks the scope population in order, wrapping around.
	ModeSequential Mode = "sequential"
	// ModeRandom walks a weighted random permutation.
	ModeRandom Mode = "random"
)

// CacheWarmer pre-resolves metadata for newly scoped members in the
// background. The context is cancelled when the user switches scope again
// before warming completes; partial results for the abandoned scope must
// be discarded, never merged.
type CacheWarmer func(ctx context.Context, keys []string)

// Service is the composition root for track selection.
type Service struct {
	mu         sync.Mutex
	col        collection.Collection
	scopes     *scope.Resolver
	weights    *weights.Store
	unplayable *unplayable.Tracker
	playlists  scope.PlaylistSource
	rng        *rand.Rand

	state         *shuffle.State
	currentKey    string
	mode          Mode
	warm          CacheWarmer
	hydrateCancel context.CancelFunc
}

// NewService wires the scheduler. A nil rng gets a time-seeded one.
// The service registers itself for weight and unplayability change
// events; both invalidate the cached permutation.
func NewService(col collection.Collection, scopes *scope.Resolver, weightStore *weights.Store, tracker *unplayable.Tracker, playlistSource scope.PlaylistSource, rng *rand.Rand) *Service {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s := &Service{
		col:        col,
		scopes:     scopes,
		weights:    weightStore,
		unplayable: tracker,
		playlists:  playlistSource,
		rng:        rng,
		mode:       ModeSequential,
	}
	weightStore.SetOnChange(s.InvalidateShuffle)
	tracker.SetOnChange(s.InvalidateShuffle)
	return s
}

// SetCacheWarmer registers the background hydration hook for playlist
// scope switches.
func (s *Service) SetCacheWarmer(fn CacheWarmer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warm = fn
}

// Mode returns the stored traversal mode.
func (s *Service) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode stores the traversal mode used by transport-driven calls.
func (s *Service) SetMode(mode Mode) {
	if mode != ModeSequential && mode != ModeRandom {
		return
	}
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	log.Info().Str("mode", string(mode)).Msg("Traversal mode set")
}

// InvalidateShuffle discards the cached permutation. It is the
// synchronous consumer of weight and unplayability change events; the
// next random-mode access rebuilds lazily.
func (s *Service) InvalidateShuffle() {
	s.mu.Lock()
	had := s.state != nil
	s.state = nil
	s.mu.Unlock()

	if had {
		log.Debug().Msg("Shuffle state invalidated")
	}
}

// Next selects the next playable track under the given mode. An empty
// result means the scope has no playable candidate; it is never an error.
func (s *Service) Next(mode Mode) (collection.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == ModeRandom {
		key, ok := s.randomKeyLocked(true)
		if !ok {
			return collection.Record{}, false
		}
		return s.commitLocked(key)
	}
	return s.sequentialStepLocked(1, true)
}

// Previous selects the previous playable track. In random mode it walks
// consumed shuffle history only and never rebuilds.
func (s *Service) Previous(mode Mode) (collection.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == ModeRandom {
		if s.state == nil {
			return collection.Record{}, false
		}
		key, ok := s.state.Previous(s.playableFnLocked())
		if !ok {
			return collection.Record{}, false
		}
		return s.commitLocked(key)
	}
	return s.sequentialStepLocked(-1, true)
}

// PeekNext returns what Next would select without committing the
// selection, for pre-buffering by the playback transport.
func (s *Service) PeekNext(mode Mode) (collection.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == ModeRandom {
		key, ok := s.randomKeyLocked(false)
		if !ok {
			return collection.Record{}, false
		}
		return s.resolveLocked(key)
	}
	return s.sequentialStepLocked(1, false)
}

// SelectAt selects the track at a logical scope position: a playlist
// member index or a physical queue index.
func (s *Service) SelectAt(position int) (collection.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key string
	if s.scopes.Kind() == scope.KindPlaylist {
		members := s.scopes.Members()
		if position < 0 || position >= len(members) {
			return collection.Record{}, false
		}
		key = members[position]
	} else {
		rec, ok := s.col.RecordAt(position)
		if !ok {
			return collection.Record{}, false
		}
		key = rec.Key
	}
	return s.commitLocked(key)
}

// RandomFirst builds a fresh weighted permutation and selects its first
// playable element, seeding the cursor past it.
func (s *Service) RandomFirst() (collection.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pop := s.populationKeysLocked()
	if len(pop) == 0 {
		return collection.Record{}, false
	}

	s.state = shuffle.Build(pop, s.weightFnLocked(), s.rng)
	key, ok := s.state.Next(s.playableFnLocked())
	if !ok {
		return collection.Record{}, false
	}
	return s.commitLocked(key)
}

// RandomExcludingCurrent makes a one-shot weighted draw from the scope,
// excluding the current track. It requires at least two playable
// candidates and does not advance the shuffle cursor.
func (s *Service) RandomExcludingCurrent() (collection.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scopes.PlayableCount(s.col, s.unplayable.IsUnplayable) < 2 {
		return collection.Record{}, false
	}

	key, ok := shuffle.DrawExcluding(
		s.populationKeysLocked(),
		s.currentKey,
		s.weightFnLocked(),
		s.playableFnLocked(),
		s.rng,
	)
	if !ok {
		return collection.Record{}, false
	}
	return s.commitLocked(key)
}

// Current returns the record of the current track, if any.
func (s *Service) Current() (collection.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentKey == "" {
		return collection.Record{}, false
	}
	return s.resolveLocked(s.currentKey)
}

// PlayableCount counts scope members that resolve to a record and are
// not marked unplayable.
func (s *Service) PlayableCount() int {
	return s.scopes.PlayableCount(s.col, s.unplayable.IsUnplayable)
}

// SetScopeQueue switches the active scope to the flat queue. Any pending
// playlist hydration is cancelled and playlist shuffle state discarded.
func (s *Service) SetScopeQueue() {
	s.mu.Lock()
	s.cancelHydrationLocked()
	s.scopes.SetQueue()
	s.state = nil
	s.mu.Unlock()
}

// SetScopePlaylist switches the active scope to the given playlist,
// resolving its members through the playlist store. It reports false when
// the playlist is missing or has no resolvable members, leaving the
// current scope untouched. Member hydration runs in the background and is
// cancelled by a subsequent scope switch.
func (s *Service) SetScopePlaylist(id string) bool {
	members := s.playlists.MembersInOrder(id)
	keys := make([]string, 0, len(members))
	for _, path := range members {
		keys = append(keys, trackkey.Canonicalize(path))
	}
	if len(keys) == 0 {
		log.Warn().Str("playlist", id).Msg("Refusing scope switch to empty or missing playlist")
		return false
	}

	s.mu.Lock()
	s.cancelHydrationLocked()
	s.scopes.SetPlaylist(id, keys)
	s.state = nil
	warm := s.warm
	var ctx context.Context
	if warm != nil {
		ctx, s.hydrateCancel = context.WithCancel(context.Background())
	}
	s.mu.Unlock()

	if warm != nil {
		go func() {
			warm(ctx, keys)
			if ctx.Err() != nil {
				log.Debug().Str("playlist", id).Msg("Playlist hydration abandoned")
			}
		}()
	}
	return true
}

// Restore re-derives the persisted scope on startup.
func (s *Service) Restore() scope.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel := s.scopes.Restore(s.playlists)
	s.state = nil
	s.currentKey = ""
	return sel
}

// UpdatePlaylistMembers reconciles an externally edited playlist. When it
// is the active scope, the membership index is replaced and the live
// shuffle state is patched against the key-set delta instead of being
// discarded.
func (s *Service) UpdatePlaylistMembers(id string, memberPaths []string) {
	keys := make([]string, 0, len(memberPaths))
	for _, path := range memberPaths {
		keys = append(keys, trackkey.Canonicalize(path))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added, removed, active := s.scopes.UpdateMembersIfActive(id, keys)
	if !active {
		return
	}
	if s.state != nil && (len(added) > 0 || len(removed) > 0) {
		s.state.Integrate(added, removed, s.weightFnLocked(), s.rng)
	}
}

// IntegrateTracks reconciles a physical collection mutation (tracks added
// to or removed from disk) with the live shuffle state. The caller must
// have already applied the mutation to the collection so scope and
// shuffle observe one consistent population snapshot. Marks for removed
// tracks are cleared since they left the collection entirely.
func (s *Service) IntegrateTracks(addedPaths, removedPaths []string) {
	// Clearing fires the unplayability change callback for tracks that
	// were actually marked, which invalidates the permutation; unmarked
	// removals keep the incremental patch below worthwhile.
	for _, path := range removedPaths {
		s.unplayable.ClearMark(path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scopes.Kind() != scope.KindQueue || s.state == nil {
		return
	}

	added := make([]string, 0, len(addedPaths))
	for _, path := range addedPaths {
		added = append(added, trackkey.Canonicalize(path))
	}
	removed := make([]string, 0, len(removedPaths))
	for _, path := range removedPaths {
		removed = append(removed, trackkey.Canonicalize(path))
	}
	s.state.Integrate(added, removed, s.weightFnLocked(), s.rng)

	log.Debug().Int("added", len(added)).Int("removed", len(removed)).Msg("Shuffle state patched")
}

// Close cancels any pending hydration.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelHydrationLocked()
}

// sequentialStepLocked walks the scope population by direction modulo its
// size, skipping unresolvable and unplayable entries, bounded by one full
// cycle.
func (s *Service) sequentialStepLocked(direction int, commit bool) (collection.Record, bool) {
	pop := s.populationKeysLocked()
	n := len(pop)
	if n == 0 {
		return collection.Record{}, false
	}

	start := s.logicalIndexLocked(pop)
	playable := s.playableFnLocked()
	for i := 1; i <= n; i++ {
		idx := ((start+direction*i)%n + n) % n
		key := pop[idx]
		if !playable(key) {
			continue
		}
		if commit {
			return s.commitLocked(key)
		}
		return s.resolveLocked(key)
	}
	return collection.Record{}, false
}

// logicalIndexLocked returns the current track's index in the population,
// falling back to the persisted resume pointer.
func (s *Service) logicalIndexLocked(pop []string) int {
	if s.currentKey != "" {
		if s.scopes.Kind() == scope.KindPlaylist {
			if pos, ok := s.scopes.Position(s.currentKey); ok {
				return pos
			}
		} else if idx, ok := s.col.IndexOf(s.currentKey); ok {
			return idx
		}
	}
	resume := s.scopes.ResumeIndex()
	if resume < 0 || resume >= len(pop) {
		return 0
	}
	return resume
}

// randomKeyLocked draws the next key from the permutation, rebuilding
// once on exhaustion ("reshuffle and continue").
func (s *Service) randomKeyLocked(advance bool) (string, bool) {
	s.ensureStateLocked()
	if s.state == nil {
		return "", false
	}

	playable := s.playableFnLocked()
	key, ok := s.stepStateLocked(s.state, advance, playable)
	if ok {
		return key, true
	}

	pop := s.populationKeysLocked()
	if len(pop) == 0 {
		return "", false
	}
	fresh := shuffle.Build(pop, s.weightFnLocked(), s.rng)
	key, ok = s.stepStateLocked(fresh, advance, playable)
	if !ok {
		return "", false
	}
	s.state = fresh
	return key, true
}

func (s *Service) stepStateLocked(state *shuffle.State, advance bool, playable shuffle.PlayableFunc) (string, bool) {
	if advance {
		return state.Next(playable)
	}
	return state.Peek(playable)
}

// ensureStateLocked lazily builds the permutation on first random-mode
// access.
func (s *Service) ensureStateLocked() {
	if s.state != nil {
		return
	}
	pop := s.populationKeysLocked()
	if len(pop) == 0 {
		return
	}
	s.state = shuffle.Build(pop, s.weightFnLocked(), s.rng)
	log.Debug().Int("population", len(pop)).Msg("Built shuffle state")
}

// populationKeysLocked returns the candidate keys for the active scope.
func (s *Service) populationKeysLocked() []string {
	if s.scopes.Kind() == scope.KindPlaylist {
		return s.scopes.Members()
	}
	return s.col.Keys()
}

// weightFnLocked resolves selection weights against the active scope's
// weight namespace.
func (s *Service) weightFnLocked() shuffle.WeightFunc {
	sel := s.scopes.Current()
	return func(key string) float64 {
		return s.weights.Multiplier(key, sel)
	}
}

// playableFnLocked filters keys that no longer resolve to a physical
// record (deleted externally; skipped, not fatal) or are marked
// unplayable.
func (s *Service) playableFnLocked() shuffle.PlayableFunc {
	return func(key string) bool {
		if _, ok := s.col.RecordForKey(key); !ok {
			return false
		}
		return !s.unplayable.IsUnplayable(key)
	}
}

// resolveLocked maps a key back to its physical record.
func (s *Service) resolveLocked(key string) (collection.Record, bool) {
	return s.col.RecordForKey(key)
}

// commitLocked records a successful selection and persists the resume
// pointer.
func (s *Service) commitLocked(key string) (collection.Record, bool) {
	rec, ok := s.resolveLocked(key)
	if !ok {
		return collection.Record{}, false
	}

	s.currentKey = rec.Key
	if s.scopes.Kind() == scope.KindPlaylist {
		if pos, ok := s.scopes.Position(rec.Key); ok {
			s.scopes.SetResumeIndex(pos)
		}
	} else if idx, ok := s.col.IndexOf(rec.Key); ok {
		s.scopes.SetResumeIndex(idx)
	}

	log.Debug().Str("key", rec.Key).Msg("Track selected")
	return rec, true
}

func (s *Service) cancelHydrationLocked() {
	if s.hydrateCancel != nil {
		s.hydrateCancel()
		s.hydrateCancel = nil
	}
}
