// Package watcher observes the music directory for track files appearing
// and disappearing, coalescing bursts of filesystem events into batches.
package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultSettleWindow = 2 * time.Second

var audioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".opus": true,
	".wav":  true,
	".aac":  true,
	".m4a":  true,
	".aiff": true,
	".dsf":  true,
	".dff":  true,
}

// BatchFunc receives one settled batch of added and removed track paths.
type BatchFunc func(added, removed []string)

// Watcher watches a music directory tree recursively. File events settle
// for a window before the batch callback fires, so a large copy or delete
// lands as one reconciliation instead of thousands.
type Watcher struct {
	root    string
	fs      *fsnotify.Watcher
	onBatch BatchFunc
	settle  time.Duration

	mu      sync.Mutex
	added   map[string]struct{}
	removed map[string]struct{}
	timer   *time.Timer
	closed  bool

	done chan struct{}
}

// New creates a watcher over the given directory tree. Call Start to
// begin watching.
func New(root string, onBatch BatchFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:    root,
		fs:      fsw,
		onBatch: onBatch,
		settle:  defaultSettleWindow,
		added:   make(map[string]struct{}),
		removed: make(map[string]struct{}),
		done:    make(chan struct{}),
	}, nil
}

// SetSettleWindow overrides the event settle window, for tests.
func (w *Watcher) SetSettleWindow(d time.Duration) {
	w.mu.Lock()
	w.settle = d
	w.mu.Unlock()
}

// Start registers the directory tree and begins dispatching events.
func (w *Watcher) Start() error {
	if err := w.watchTree(w.root); err != nil {
		return err
	}
	go w.loop()
	log.Info().Str("dir", w.root).Msg("Watching music directory")
	return nil
}

// Close stops the watcher and discards any pending batch.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	err := w.fs.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Music directory watch error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	switch {
	case event.Op&fsnotify.Create != 0:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// A new subtree: watch it and pick up any files that
			// landed before the watch was in place.
			if err := w.watchTree(event.Name); err != nil {
				log.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch new directory")
			}
			w.collectExisting(event.Name)
			return
		}
		if isAudioFile(event.Name) {
			w.queue(event.Name, true)
		}
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// The path is gone, so it cannot be stat'ed; queue any
		// audio-looking name and let the collection decide.
		if isAudioFile(event.Name) {
			w.queue(event.Name, false)
		}
	}
}

// queue records one path change and (re)arms the settle timer.
func (w *Watcher) queue(path string, added bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if added {
		delete(w.removed, path)
		w.added[path] = struct{}{}
	} else {
		delete(w.added, path)
		w.removed[path] = struct{}{}
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.settle, w.flush)
}

// flush delivers the settled batch.
func (w *Watcher) flush() {
	w.mu.Lock()
	if w.closed || (len(w.added) == 0 && len(w.removed) == 0) {
		w.mu.Unlock()
		return
	}
	added := make([]string, 0, len(w.added))
	for path := range w.added {
		added = append(added, path)
	}
	removed := make([]string, 0, len(w.removed))
	for path := range w.removed {
		removed = append(removed, path)
	}
	w.added = make(map[string]struct{})
	w.removed = make(map[string]struct{})
	w.mu.Unlock()

	log.Info().Int("added", len(added)).Int("removed", len(removed)).Msg("Music directory changed")
	w.onBatch(added, removed)
}

// watchTree registers watches on dir and every subdirectory.
func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fs.Add(path)
		}
		return nil
	})
}

// collectExisting queues audio files already present under a directory
// that appeared as a whole (moved or extracted into place).
func (w *Watcher) collectExisting(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && isAudioFile(path) {
			w.queue(path, true)
		}
		return nil
	})
}

func isAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}
