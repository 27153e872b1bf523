package scheduler

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/scope"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/unplayable"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/weights"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/infra/collection"
)

type fakePlaylists struct {
	members map[string][]string
}

func (f *fakePlaylists) Exists(id string) bool {
	_, ok := f.members[id]
	return ok
}

func (f *fakePlaylists) MembersInOrder(id string) []string {
	return f.members[id]
}

type env struct {
	svc       *Service
	col       *collection.MemoryCollection
	weights   *weights.Store
	tracker   *unplayable.Tracker
	scopes    *scope.Resolver
	playlists *fakePlaylists
}

func newTestEnv(t *testing.T, paths ...string) *env {
	t.Helper()
	dataDir := t.TempDir()

	records := make([]collection.Record, len(paths))
	for i, path := range paths {
		records[i] = collection.Record{Path: path, Title: path}
	}
	col := collection.NewMemoryCollection(records...)

	store := weights.NewStore(dataDir)
	t.Cleanup(func() { store.Close() })

	tracker := unplayable.NewTracker()
	scopes := scope.NewResolver(dataDir)
	playlists := &fakePlaylists{members: map[string][]string{}}

	svc := NewService(col, scopes, store, tracker, playlists, rand.New(rand.NewSource(7)))
	t.Cleanup(svc.Close)

	return &env{svc: svc, col: col, weights: store, tracker: tracker, scopes: scopes, playlists: playlists}
}

func TestSequentialNextWrapsAround(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac")

	want := []string{"/m/b.flac", "/m/c.flac", "/m/a.flac", "/m/b.flac"}
	if _, ok := e.svc.SelectAt(0); !ok {
		t.Fatal("SelectAt(0) failed")
	}
	for i, key := range want {
		rec, ok := e.svc.Next(ModeSequential)
		if !ok || rec.Key != key {
			t.Fatalf("Next #%d = (%s, %v), want %s", i, rec.Key, ok, key)
		}
	}
}

func TestSequentialPreviousWrapsAround(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac")

	if _, ok := e.svc.SelectAt(1); !ok {
		t.Fatal("SelectAt(1) failed")
	}
	rec, ok := e.svc.Previous(ModeSequential)
	if !ok || rec.Key != "/m/a.flac" {
		t.Fatalf("Previous = (%s, %v), want /m/a.flac", rec.Key, ok)
	}
	rec, ok = e.svc.Previous(ModeSequential)
	if !ok || rec.Key != "/m/c.flac" {
		t.Fatalf("Previous at start = (%s, %v), want wrap to /m/c.flac", rec.Key, ok)
	}
}

func TestSequentialNextSkipsUnplayable(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac")

	e.svc.SelectAt(0)
	e.tracker.Mark("/m/b.flac", "decode error")

	rec, ok := e.svc.Next(ModeSequential)
	if !ok || rec.Key != "/m/c.flac" {
		t.Fatalf("Next = (%s, %v), want /m/c.flac", rec.Key, ok)
	}
}

func TestNextWithNoPlayableCandidate(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac")
	e.tracker.Mark("/m/a.flac", "gone")
	e.tracker.Mark("/m/b.flac", "gone")

	if _, ok := e.svc.Next(ModeSequential); ok {
		t.Error("sequential Next selected an unplayable track")
	}
	if _, ok := e.svc.Next(ModeRandom); ok {
		t.Error("random Next selected an unplayable track")
	}
}

func TestNextOnEmptyCollection(t *testing.T) {
	e := newTestEnv(t)

	if _, ok := e.svc.Next(ModeSequential); ok {
		t.Error("sequential Next on empty collection succeeded")
	}
	if _, ok := e.svc.Next(ModeRandom); ok {
		t.Error("random Next on empty collection succeeded")
	}
}

func TestRandomNextVisitsEachTrackOnce(t *testing.T) {
	paths := []string{"/m/a.flac", "/m/b.flac", "/m/c.flac", "/m/d.flac", "/m/e.flac"}
	e := newTestEnv(t, paths...)

	seen := make([]string, 0, len(paths))
	for range paths {
		rec, ok := e.svc.Next(ModeRandom)
		if !ok {
			t.Fatal("Next exhausted before one full pass")
		}
		seen = append(seen, rec.Key)
	}

	sort.Strings(seen)
	for i, path := range paths {
		if seen[i] != path {
			t.Fatalf("pass visited %v, want each of %v exactly once", seen, paths)
		}
	}

	// The pass is exhausted; the next call reshuffles and keeps going.
	if _, ok := e.svc.Next(ModeRandom); !ok {
		t.Error("Next after exhaustion did not reshuffle and continue")
	}
}

func TestRandomPreviousWalksHistoryOnly(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac")

	first, _ := e.svc.Next(ModeRandom)
	second, _ := e.svc.Next(ModeRandom)

	rec, ok := e.svc.Previous(ModeRandom)
	if !ok || rec.Key != first.Key {
		t.Fatalf("Previous = (%s, %v), want %s", rec.Key, ok, first.Key)
	}
	// At the top of history there is nothing further back.
	if _, ok := e.svc.Previous(ModeRandom); ok {
		t.Error("Previous past the start of history succeeded")
	}
	// Forward again replays the same order.
	rec, ok = e.svc.Next(ModeRandom)
	if !ok || rec.Key != second.Key {
		t.Errorf("Next after Previous = (%s, %v), want replay of %s", rec.Key, ok, second.Key)
	}
}

func TestPeekNextDoesNotCommit(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac")

	peeked, ok := e.svc.PeekNext(ModeRandom)
	if !ok {
		t.Fatal("PeekNext failed")
	}
	if _, ok := e.svc.Current(); ok {
		t.Error("PeekNext committed a current track")
	}
	rec, ok := e.svc.Next(ModeRandom)
	if !ok || rec.Key != peeked.Key {
		t.Errorf("Next = (%s, %v), want the peeked %s", rec.Key, ok, peeked.Key)
	}

	e.svc.SelectAt(0)
	peeked, ok = e.svc.PeekNext(ModeSequential)
	if !ok || peeked.Key != "/m/b.flac" {
		t.Fatalf("sequential PeekNext = (%s, %v), want /m/b.flac", peeked.Key, ok)
	}
	if cur, _ := e.svc.Current(); cur.Key != "/m/a.flac" {
		t.Errorf("sequential PeekNext moved current to %s", cur.Key)
	}
}

func TestSelectAtQueuePosition(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac")

	rec, ok := e.svc.SelectAt(2)
	if !ok || rec.Key != "/m/c.flac" {
		t.Fatalf("SelectAt(2) = (%s, %v), want /m/c.flac", rec.Key, ok)
	}
	if e.scopes.ResumeIndex() != 2 {
		t.Errorf("resume index = %d, want 2", e.scopes.ResumeIndex())
	}
	if _, ok := e.svc.SelectAt(99); ok {
		t.Error("SelectAt out of range succeeded")
	}
}

func TestPlaylistScopeTraversal(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac", "/m/d.flac")
	e.playlists.members["mix"] = []string{"/m/c.flac", "/m/a.flac", "/m/gone.flac"}

	if !e.svc.SetScopePlaylist("mix") {
		t.Fatal("SetScopePlaylist failed")
	}

	rec, ok := e.svc.SelectAt(0)
	if !ok || rec.Key != "/m/c.flac" {
		t.Fatalf("SelectAt(0) = (%s, %v), want /m/c.flac", rec.Key, ok)
	}
	// Member order governs, not queue order; the unresolvable member is
	// skipped and traversal wraps.
	rec, ok = e.svc.Next(ModeSequential)
	if !ok || rec.Key != "/m/a.flac" {
		t.Fatalf("Next = (%s, %v), want /m/a.flac", rec.Key, ok)
	}
	rec, ok = e.svc.Next(ModeSequential)
	if !ok || rec.Key != "/m/c.flac" {
		t.Fatalf("Next = (%s, %v), want wrap to /m/c.flac", rec.Key, ok)
	}

	if got := e.svc.PlayableCount(); got != 2 {
		t.Errorf("PlayableCount = %d, want 2", got)
	}
}

func TestSetScopePlaylistRejectsMissing(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac")

	if e.svc.SetScopePlaylist("ghost") {
		t.Error("SetScopePlaylist accepted a missing playlist")
	}
	if e.scopes.Kind() != scope.KindQueue {
		t.Error("failed scope switch changed the active scope")
	}
}

func TestSetScopeQueueDiscardsPlaylistState(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac")
	e.playlists.members["mix"] = []string{"/m/b.flac"}

	e.svc.SetScopePlaylist("mix")
	e.svc.Next(ModeRandom)
	e.svc.SetScopeQueue()

	if e.scopes.Kind() != scope.KindQueue {
		t.Fatal("scope is not queue")
	}
	// The playlist permutation is gone; random history with it.
	if _, ok := e.svc.Previous(ModeRandom); ok {
		t.Error("Previous survived a scope switch")
	}
}

func TestRandomFirstSeedsTraversal(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac")

	rec, ok := e.svc.RandomFirst()
	if !ok {
		t.Fatal("RandomFirst failed")
	}
	if cur, _ := e.svc.Current(); cur.Key != rec.Key {
		t.Errorf("current = %s, want %s", cur.Key, rec.Key)
	}
	// The first draw is consumed; Previous has no earlier history and the
	// following Next moves on.
	if _, ok := e.svc.Previous(ModeRandom); ok {
		t.Error("Previous before any history succeeded")
	}
	next, ok := e.svc.Next(ModeRandom)
	if !ok || next.Key == rec.Key {
		t.Errorf("Next after RandomFirst = (%s, %v), want a different track", next.Key, ok)
	}
}

func TestRandomExcludingCurrent(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac")
	e.svc.SelectAt(0)

	for i := 0; i < 50; i++ {
		rec, ok := e.svc.RandomExcludingCurrent()
		if !ok {
			t.Fatal("RandomExcludingCurrent failed")
		}
		if prev, _ := e.svc.Previous(ModeRandom); prev.Key != "" {
			t.Fatal("one-shot draw advanced the shuffle cursor")
		}
		_ = rec
	}
}

func TestRandomExcludingCurrentNeverRepeats(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac")
	e.svc.SelectAt(0)

	for i := 0; i < 20; i++ {
		rec, ok := e.svc.RandomExcludingCurrent()
		if !ok {
			t.Fatal("RandomExcludingCurrent failed")
		}
		cur, _ := e.svc.Current()
		if rec.Key != cur.Key {
			t.Fatal("draw did not become current")
		}
	}
}

func TestRandomExcludingCurrentNeedsTwoPlayable(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac")
	e.svc.SelectAt(0)
	e.tracker.Mark("/m/b.flac", "broken")

	if _, ok := e.svc.RandomExcludingCurrent(); ok {
		t.Error("draw succeeded with a single playable candidate")
	}
}

func TestWeightChangeInvalidatesShuffle(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac")

	e.svc.Next(ModeRandom)
	e.svc.Next(ModeRandom)
	e.weights.SetLevel(3, "/m/a.flac", scope.Queue())

	// History died with the permutation.
	if _, ok := e.svc.Previous(ModeRandom); ok {
		t.Error("Previous survived a weight change")
	}
	// Forward traversal still works on a fresh permutation.
	if _, ok := e.svc.Next(ModeRandom); !ok {
		t.Error("Next failed after invalidation")
	}
}

func TestUnplayableChangeInvalidatesShuffle(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac")

	e.svc.Next(ModeRandom)
	e.svc.Next(ModeRandom)
	e.tracker.Mark("/m/c.flac", "read error")

	if _, ok := e.svc.Previous(ModeRandom); ok {
		t.Error("Previous survived an unplayability change")
	}
}

func TestIntegrateTracksPatchesLiveState(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac")

	first, _ := e.svc.Next(ModeRandom)

	e.col.Add(collection.Record{Path: "/m/new.flac", Title: "New"})
	e.svc.IntegrateTracks([]string{"/m/new.flac"}, nil)

	// History survives the patch.
	if cur, _ := e.svc.Current(); cur.Key != first.Key {
		t.Errorf("current = %s, want %s", cur.Key, first.Key)
	}

	// The added track shows up within the rest of the pass.
	seen := map[string]bool{first.Key: true}
	for i := 0; i < 3; i++ {
		rec, ok := e.svc.Next(ModeRandom)
		if !ok {
			t.Fatal("Next exhausted early")
		}
		if seen[rec.Key] {
			t.Fatalf("track %s repeated within a pass", rec.Key)
		}
		seen[rec.Key] = true
	}
	if !seen["/m/new.flac"] {
		t.Error("added track never appeared in the pass")
	}
}

func TestIntegrateTracksRemoval(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac")

	e.svc.Next(ModeRandom)

	e.col.Remove("/m/b.flac")
	e.svc.IntegrateTracks(nil, []string{"/m/b.flac"})

	for i := 0; i < 2; i++ {
		if rec, ok := e.svc.Next(ModeRandom); ok && rec.Key == "/m/b.flac" {
			t.Fatal("removed track was selected")
		}
	}
}

func TestIntegrateTracksClearsMarksForRemoved(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac")
	e.tracker.Mark("/m/b.flac", "corrupt file")

	e.col.Remove("/m/b.flac")
	e.svc.IntegrateTracks(nil, []string{"/m/b.flac"})

	if e.tracker.Count() != 0 {
		t.Errorf("mark count = %d, want 0 after the track left the collection", e.tracker.Count())
	}
}

func TestUpdatePlaylistMembersReconcilesActiveScope(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac")
	e.playlists.members["mix"] = []string{"/m/a.flac", "/m/b.flac"}
	e.svc.SetScopePlaylist("mix")

	first, _ := e.svc.Next(ModeRandom)

	e.svc.UpdatePlaylistMembers("mix", []string{"/m/a.flac", "/m/b.flac", "/m/c.flac"})

	if e.scopes.MemberCount() != 3 {
		t.Fatalf("member count = %d, want 3", e.scopes.MemberCount())
	}
	// The consumed draw survives reconciliation.
	if cur, _ := e.svc.Current(); cur.Key != first.Key {
		t.Errorf("current = %s, want %s", cur.Key, first.Key)
	}

	// An update for a non-active playlist is ignored.
	e.svc.UpdatePlaylistMembers("other", []string{"/m/c.flac"})
	if e.scopes.MemberCount() != 3 {
		t.Error("update for inactive playlist changed the active membership")
	}
}

func TestResumePointerPersists(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac", "/m/b.flac", "/m/c.flac")

	e.svc.SelectAt(1)
	e.svc.Next(ModeSequential)

	if e.scopes.ResumeIndex() != 2 {
		t.Errorf("resume index = %d, want 2", e.scopes.ResumeIndex())
	}
}

func TestRestoreFallsBackToQueue(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac")
	e.playlists.members["mix"] = []string{"/m/a.flac"}
	e.svc.SetScopePlaylist("mix")

	delete(e.playlists.members, "mix")
	sel := e.svc.Restore()

	if sel.Kind != scope.KindQueue {
		t.Errorf("restored scope = %+v, want queue fallback", sel)
	}
}

func TestSetModeValidation(t *testing.T) {
	e := newTestEnv(t, "/m/a.flac")

	e.svc.SetMode(ModeRandom)
	if e.svc.Mode() != ModeRandom {
		t.Fatal("SetMode(random) did not stick")
	}
	e.svc.SetMode(Mode("bogus"))
	if e.svc.Mode() != ModeRandom {
		t.Error("invalid mode overwrote the stored one")
	}
}
