package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type batchRecorder struct {
	mu      sync.Mutex
	added   []string
	removed []string
	fired   chan struct{}
}

func newBatchRecorder() *batchRecorder {
	return &batchRecorder{fired: make(chan struct{}, 16)}
}

func (r *batchRecorder) record(added, removed []string) {
	r.mu.Lock()
	r.added = append(r.added, added...)
	r.removed = append(r.removed, removed...)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *batchRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a batch")
	}
}

func startWatcher(t *testing.T, dir string, rec *batchRecorder) *Watcher {
	t.Helper()
	w, err := New(dir, rec.record)
	if err != nil {
		t.Fatal(err)
	}
	w.SetSettleWindow(50 * time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestWatcherReportsNewAudioFile(t *testing.T) {
	dir := t.TempDir()
	rec := newBatchRecorder()
	startWatcher(t, dir, rec)

	path := filepath.Join(dir, "song.flac")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	rec.wait(t)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.added) != 1 || rec.added[0] != path {
		t.Errorf("added = %v, want [%s]", rec.added, path)
	}
}

func TestWatcherIgnoresNonAudioFiles(t *testing.T) {
	dir := t.TempDir()
	rec := newBatchRecorder()
	startWatcher(t, dir, rec)

	if err := os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "song.mp3"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	rec.wait(t)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, path := range rec.added {
		if filepath.Ext(path) == ".jpg" {
			t.Errorf("non-audio file reported: %s", path)
		}
	}
}

func TestWatcherReportsRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "song.ogg")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	rec := newBatchRecorder()
	startWatcher(t, dir, rec)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	rec.wait(t)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.removed) != 1 || rec.removed[0] != path {
		t.Errorf("removed = %v, want [%s]", rec.removed, path)
	}
}

func TestWatcherCoalescesAddThenRemove(t *testing.T) {
	dir := t.TempDir()
	rec := newBatchRecorder()
	startWatcher(t, dir, rec)

	path := filepath.Join(dir, "blip.wav")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	rec.wait(t)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, p := range rec.added {
		if p == path {
			t.Error("file removed within the settle window still reported as added")
		}
	}
}

func TestWatcherPicksUpNewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	rec := newBatchRecorder()
	startWatcher(t, dir, rec)

	sub := filepath.Join(dir, "album")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	// Give the watch registration a moment before writing into the tree.
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(sub, "track.flac")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	rec.wait(t)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	found := false
	for _, p := range rec.added {
		if p == path {
			found = true
		}
	}
	if !found {
		t.Errorf("file in new subdirectory not reported, added = %v", rec.added)
	}
}
