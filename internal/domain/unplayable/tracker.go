// Package unplayable tracks tracks that failed to play and why.
//
// Entries are created when a playback attempt fails and cleared when a
// later attempt on the same track succeeds or the track leaves the
// collection. The tracker is scope-independent: a track that cannot be
// decoded is unplayable no matter which scope selected it.
package unplayable

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/trackkey"
)

// Tracker is an in-memory map from canonical track key to failure reason.
// It is safe for concurrent access.
type Tracker struct {
	mu       sync.RWMutex
	reasons  map[string]string
	onChange func()
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		reasons: make(map[string]string),
	}
}

// SetOnChange registers a callback invoked synchronously after every
// mutation that changed the unplayable set. The scheduler uses it to
// invalidate cached shuffle state.
func (t *Tracker) SetOnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Mark records a playback failure for the given path.
func (t *Tracker) Mark(path, reason string) {
	key := trackkey.Canonicalize(path)

	t.mu.Lock()
	prev, existed := t.reasons[key]
	t.reasons[key] = reason
	changed := !existed || prev != reason
	fn := t.onChange
	t.mu.Unlock()

	if !changed {
		return
	}

	log.Info().Str("key", key).Str("reason", reason).Msg("Track marked unplayable")
	if fn != nil {
		fn()
	}
}

// ClearMark removes the failure record for the given path, typically after
// a successful playback attempt. Clearing an unmarked track is a no-op.
func (t *Tracker) ClearMark(path string) {
	key := trackkey.Canonicalize(path)

	t.mu.Lock()
	_, existed := t.reasons[key]
	if existed {
		delete(t.reasons, key)
	}
	fn := t.onChange
	t.mu.Unlock()

	if !existed {
		return
	}

	log.Debug().Str("key", key).Msg("Unplayable mark cleared")
	if fn != nil {
		fn()
	}
}

// Reason returns the recorded failure reason for the given path.
func (t *Tracker) Reason(path string) (string, bool) {
	key := trackkey.Canonicalize(path)

	t.mu.RLock()
	defer t.mu.RUnlock()
	reason, ok := t.reasons[key]
	return reason, ok
}

// IsUnplayable reports whether the given path is currently marked.
func (t *Tracker) IsUnplayable(path string) bool {
	_, ok := t.Reason(path)
	return ok
}

// Count returns the number of marked tracks.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.reasons)
}

// Clear removes all marks.
func (t *Tracker) Clear() {
	t.mu.Lock()
	changed := len(t.reasons) > 0
	t.reasons = make(map[string]string)
	fn := t.onChange
	t.mu.Unlock()

	if changed && fn != nil {
		fn()
	}
}
