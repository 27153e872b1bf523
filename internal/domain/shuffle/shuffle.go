// Package shuffle builds and walks weighted random permutations of track
// keys.
//
// Fresh permutations use Efraimidis-Spirakis sampling: each key draws
// u ~ Uniform(0,1) and sorts ascending by -ln(u)/w. At every prefix of the
// resulting order, the probability that a given remaining key comes next
// is proportional to its weight relative to the remaining pool, so the
// whole order is a draw without replacement with probability proportional
// to weight and no per-draw re-normalization.
//
// A State is confined to a single logical owner (the scheduler funnels all
// calls through one lock); it does no locking of its own.
package shuffle

import (
	"math"
	"math/rand"
	"sort"
)

// weightEpsilon floors weights so a zero or negative weight cannot divide
// the sort key to infinity.
const weightEpsilon = 1e-9

// WeightFunc returns the selection weight for a key.
type WeightFunc func(key string) float64

// PlayableFunc reports whether a key currently resolves to a playable
// record.
type PlayableFunc func(key string) bool

// State is a weighted permutation plus a traversal cursor. Keys before the
// cursor are consumed history; keys at or after it are the remaining pool.
type State struct {
	order  []string
	cursor int
}

// Build creates a fresh weighted permutation of the given keys.
func Build(keys []string, weight WeightFunc, rng *rand.Rand) *State {
	type entry struct {
		key     string
		sortKey float64
	}

	entries := make([]entry, len(keys))
	for i, key := range keys {
		w := clampWeight(weight(key))
		u := rng.Float64()
		if u <= 0 {
			u = math.SmallestNonzeroFloat64
		}
		entries[i] = entry{key: key, sortKey: -math.Log(u) / w}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].sortKey < entries[j].sortKey })

	order := make([]string, len(entries))
	for i, e := range entries {
		order[i] = e.key
	}
	return &State{order: order}
}

// Len returns the permutation size.
func (s *State) Len() int {
	return len(s.order)
}

// Remaining returns the number of not-yet-consumed keys.
func (s *State) Remaining() int {
	return len(s.order) - s.cursor
}

// Current returns the most recently consumed key.
func (s *State) Current() (string, bool) {
	if s.cursor == 0 {
		return "", false
	}
	return s.order[s.cursor-1], true
}

// Next advances the cursor to the next playable key. Unplayable keys are
// consumed as it skips over them; the scan is bounded by the population
// size, so it terminates even when every key is unplayable. A false result
// means the permutation is exhausted and the caller decides whether to
// reshuffle and continue.
func (s *State) Next(playable PlayableFunc) (string, bool) {
	for i := s.cursor; i < len(s.order); i++ {
		if playable(s.order[i]) {
			s.cursor = i + 1
			return s.order[i], true
		}
	}
	s.cursor = len(s.order)
	return "", false
}

// Peek returns what Next would select without moving the cursor.
func (s *State) Peek(playable PlayableFunc) (string, bool) {
	for i := s.cursor; i < len(s.order); i++ {
		if playable(s.order[i]) {
			return s.order[i], true
		}
	}
	return "", false
}

// Previous steps the cursor back through consumed history to the nearest
// playable key. History is finite and fixed; Previous never rebuilds.
func (s *State) Previous(playable PlayableFunc) (string, bool) {
	for i := s.cursor - 2; i >= 0; i-- {
		if playable(s.order[i]) {
			s.cursor = i + 1
			return s.order[i], true
		}
	}
	return "", false
}

// Reset rewinds the cursor so the next call to Next starts from the top of
// the permutation.
func (s *State) Reset() {
	s.cursor = 0
}

// Integrate patches the permutation in place when the population mutates
// mid-traversal, preserving the consumed prefix instead of discarding it.
//
// Removed keys are deleted from both the consumed and remaining portions
// and the cursor is clamped. Each added key draws u ~ Uniform(0,1) and is
// inserted at cursor + floor(u^w * (remaining+1)): a higher weight biases
// the fraction toward 0 and the key toward earlier replay. The relative
// order of surviving keys is untouched, and the patch costs O(inserted)
// rather than a full O(n log n) rebuild.
func (s *State) Integrate(added, removed []string, weight WeightFunc, rng *rand.Rand) {
	if len(removed) > 0 {
		gone := make(map[string]struct{}, len(removed))
		for _, key := range removed {
			gone[key] = struct{}{}
		}

		kept := s.order[:0]
		cursor := s.cursor
		for i, key := range s.order {
			if _, ok := gone[key]; ok {
				if i < s.cursor {
					cursor--
				}
				continue
			}
			kept = append(kept, key)
		}
		s.order = kept
		if cursor < 0 {
			cursor = 0
		}
		if cursor > len(s.order) {
			cursor = len(s.order)
		}
		s.cursor = cursor
	}

	for _, key := range added {
		w := clampWeight(weight(key))
		fraction := math.Pow(rng.Float64(), w)
		remaining := len(s.order) - s.cursor
		pos := s.cursor + int(fraction*float64(remaining+1))
		if pos > len(s.order) {
			pos = len(s.order)
		}
		s.order = append(s.order, "")
		copy(s.order[pos+1:], s.order[pos:])
		s.order[pos] = key
	}
}

// DrawExcluding makes a one-shot weighted draw from candidates, skipping
// exclude and any unplayable key, via a cumulative-weight pick. It does
// not touch any permutation or cursor.
func DrawExcluding(candidates []string, exclude string, weight WeightFunc, playable PlayableFunc, rng *rand.Rand) (string, bool) {
	total := 0.0
	for _, key := range candidates {
		if key == exclude || !playable(key) {
			continue
		}
		total += clampWeight(weight(key))
	}
	if total <= 0 {
		return "", false
	}

	draw := rng.Float64() * total
	acc := 0.0
	last := ""
	for _, key := range candidates {
		if key == exclude || !playable(key) {
			continue
		}
		acc += clampWeight(weight(key))
		last = key
		if draw < acc {
			return key, true
		}
	}
	// Floating point slack on the final accumulation.
	return last, last != ""
}

func clampWeight(w float64) float64 {
	if w < weightEpsilon {
		return weightEpsilon
	}
	return w
}
