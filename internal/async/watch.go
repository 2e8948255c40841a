package async

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CacheInvalidator is the subset of the catalog's record cache the root
// watcher needs: a wholesale purge when a foreign writer is detected.
type CacheInvalidator interface {
	Invalidate()
}

// RootWatcher watches a catalog's index directory for write.lock and
// last-added.txt changes made by another process sharing the same root,
// invalidating the record cache so a long-lived catalog handle does not
// keep serving stale hydration results. It is never the importer's
// directory walker (that collaborator stays out of scope); it watches
// exactly the two marker files the catalog itself writes.
type RootWatcher struct {
	dir   string
	cache CacheInvalidator

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopped bool
	doneCh  chan struct{}
}

// NewRootWatcher builds a watcher over dir (the catalog's <root>/<index-dir>)
// that invalidates cache whenever write.lock or last-added.txt changes.
// The watcher is not started until Start is called.
func NewRootWatcher(dir string, cache CacheInvalidator) *RootWatcher {
	return &RootWatcher{dir: dir, cache: cache}
}

// Start begins watching in a background goroutine. If the underlying
// fsnotify watcher cannot be created (e.g. inotify instance exhaustion),
// Start logs a warning and returns nil: cache invalidation degrades to
// "stale until next mutation on this handle", which is tolerable since
// search always re-hydrates from the record store on a cache miss.
func (w *RootWatcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("root watcher: fsnotify unavailable, external writers will not invalidate the cache proactively",
			slog.String("error", err.Error()))
		return nil
	}
	if err := fsw.Add(w.dir); err != nil {
		slog.Warn("root watcher: failed to watch index directory",
			slog.String("dir", w.dir), slog.String("error", err.Error()))
		_ = fsw.Close()
		return nil
	}

	w.mu.Lock()
	w.watcher = fsw
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.run(fsw)
	return nil
}

func (w *RootWatcher) run(fsw *fsnotify.Watcher) {
	defer close(w.doneCh)
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("root watcher: fsnotify error", slog.String("error", err.Error()))
		}
	}
}

func (w *RootWatcher) handle(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if name != "write.lock" && name != "last-added.txt" {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	slog.Debug("root watcher: detected external writer, invalidating record cache",
		slog.String("file", name), slog.String("op", event.Op.String()))
	w.cache.Invalidate()
}

// Stop closes the underlying fsnotify watcher and waits for the run loop
// to exit. Safe to call on a watcher that never started.
func (w *RootWatcher) Stop() {
	w.mu.Lock()
	fsw := w.watcher
	done := w.doneCh
	if w.stopped || fsw == nil {
		w.stopped = true
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	_ = fsw.Close()
	if done != nil {
		<-done
	}
}
