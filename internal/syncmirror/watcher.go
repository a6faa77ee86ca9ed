package syncmirror

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher pushes the local tree up whenever it settles after a change.
type Watcher struct {
	mirror   *Mirror
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onSync   func(bool)

	stopCh    chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher watches m's local tree. onSync, which may be nil, is called
// with the result of every triggered SyncUp.
func NewWatcher(m *Mirror, debounce time.Duration, onSync func(bool)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	w := &Watcher{
		mirror:   m,
		watcher:  fw,
		debounce: debounce,
		onSync:   onSync,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := w.watchDirRecursive(m.local); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// watchDirRecursive adds root and every non-ignored directory below it.
func (w *Watcher) watchDirRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.mirror.ignore.MatchName(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.mirror.logger.Debug("cannot watch directory", "path", path, "error", err.Error())
		}
		return nil
	})
}

// Start begins processing events. Calls after the first, or after Close,
// do nothing.
func (w *Watcher) Start() {
	w.startOnce.Do(func() { go w.watchLoop() })
}

// Close stops the watcher and waits for an in-flight sync to finish.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		// A loop that never started has nothing to wait for.
		w.startOnce.Do(func() { close(w.done) })
	})
	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
	}
	return err
}

func (w *Watcher) relevant(path string) bool {
	rel, err := filepath.Rel(w.mirror.local, path)
	if err != nil || rel == "." {
		return false
	}
	return !w.mirror.ignore.Match(filepath.ToSlash(rel))
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	// Editors and scripts produce bursts of events for one logical change.
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-w.stopCh:
			timer.Stop()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.watchDirRecursive(ev.Name)
				}
			}
			pending = true
			timer.Reset(w.debounce)

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			ok := w.mirror.SyncUp()
			if w.onSync != nil {
				w.onSync(ok)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.mirror.logger.Warn("watch error", "error", err.Error())
		}
	}
}
