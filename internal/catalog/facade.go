// Package catalog implements the state machine, locking protocol, and
// mutating operations that tie the record store, index family, video
// sidecar store, and negative-match store into one coherent unit.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nightshadow92/cbird/internal/async"
	"github.com/nightshadow92/cbird/internal/config"
	cerrors "github.com/nightshadow92/cbird/internal/errors"
	"github.com/nightshadow92/cbird/internal/index"
	"github.com/nightshadow92/cbird/internal/lock"
	"github.com/nightshadow92/cbird/internal/search"
	"github.com/nightshadow92/cbird/internal/store"
)

// lifecycle states a catalog instance passes through.
type lifecycle int

const (
	stateUninitialized lifecycle = iota
	stateOpenUnloaded
	stateOpenLoaded
	stateClosed
)

// Catalog ties the record store, index family, video sidecar store and
// negative-match store into one unit, serializing mutations through an
// in-process reader/writer lock plus a cross-process advisory lock file.
type Catalog struct {
	cfg *config.Config
	dir string // <root>/<index-dir>

	rw    sync.RWMutex
	state lifecycle

	media    *store.CachedMediaStore
	negative *store.NegativeMatchStore
	videos   *store.VideoStore
	registry *index.Registry
	indices  map[index.Algo]index.Index

	writeLock *lock.WriteLock
	engine    *search.Engine
	watcher   *async.RootWatcher
	pathIdx   *store.PathIndex
	vacuumer  *async.VacuumScheduler
	cancelBg  context.CancelFunc
}

// Open creates or attaches to a catalog rooted at cfg.Root.Path, but does
// not load any index: it enters Open (indices not loaded). Indices load
// lazily on first use of an algo, under a double-checked write lock.
func Open(cfg *config.Config) (*Catalog, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	dir := filepath.Join(cfg.Root.Path, cfg.Root.IndexDir)

	media, err := store.OpenMediaStore(filepath.Join(dir, "index.db"), cfg.Performance.BusyTimeoutMS)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFileNotFound, "failed to open record store", err)
	}
	cached, err := store.NewCachedMediaStore(media, cfg.Performance.RecordCacheSize)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeInternal, "failed to build record cache", err)
	}

	negative, err := store.OpenNegativeMatchStore(filepath.Join(dir, "neg.dat"))
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFileNotFound, "failed to open negative-match store", err)
	}

	videos, err := store.NewVideoStore(filepath.Join(dir, "video"))
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFileNotFound, "failed to open video sidecar store", err)
	}

	registry := index.NewRegistry()
	registry.Register(index.AlgoDctImage, func() index.Index { return index.NewDctImageIndex(cfg.Index.DctPartitionBits) })
	registry.Register(index.AlgoColor, func() index.Index {
		return index.NewColorIndex(index.ColorIndexConfig{
			HNSWEnabled:   cfg.Index.ColorHNSWEnabled,
			HNSWThreshold: cfg.Index.ColorHNSWThreshold,
		})
	})
	registry.Register(index.AlgoVideo, func() index.Index { return index.NewVideoIndex() })

	c := &Catalog{
		cfg:       cfg,
		dir:       dir,
		state:     stateOpenUnloaded,
		media:     cached,
		negative:  negative,
		videos:    videos,
		registry:  registry,
		indices:   make(map[index.Algo]index.Index),
		writeLock: lock.New(dir),
	}
	c.engine = search.NewEngine(c, negative, cfg.Performance.SearchWorkers, cfg.Root.Path)

	if cfg.Index.PathIndexEnabled {
		pathIdx, err := store.OpenPathIndex(filepath.Join(dir, "cache", "path.bleve"))
		if err != nil {
			return nil, cerrors.New(cerrors.ErrCodeInternal, "failed to open path index", err)
		}
		c.pathIdx = pathIdx
	}

	if cfg.Performance.WatchEnabled {
		c.watcher = async.NewRootWatcher(dir, cached)
		if err := c.watcher.Start(); err != nil {
			return nil, cerrors.New(cerrors.ErrCodeInternal, "failed to start root watcher", err)
		}
	}

	if cfg.Vacuum.Enabled {
		interval, err := time.ParseDuration(cfg.Vacuum.Interval)
		if err != nil {
			return nil, cerrors.New(cerrors.ErrCodeConfigInvalid, "invalid vacuum.interval", err)
		}
		idleTimeout, err := time.ParseDuration(cfg.Vacuum.IdleTimeout)
		if err != nil {
			return nil, cerrors.New(cerrors.ErrCodeConfigInvalid, "invalid vacuum.idle_timeout", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		c.cancelBg = cancel
		c.vacuumer = async.NewVacuumScheduler(c, interval, idleTimeout)
		c.vacuumer.Start(ctx)
	}

	return c, nil
}

// ByKind and ByIDs satisfy search.HaystackSource directly over the cached
// record store, so the catalog itself is passed as the search engine's
// haystack source.
func (c *Catalog) ByKind(ctx context.Context, kinds store.Kind) ([]*store.MediaRecord, error) {
	return c.media.ByKind(ctx, kinds)
}

func (c *Catalog) ByIDs(ctx context.Context, ids []store.MediaID) ([]*store.MediaRecord, error) {
	return c.media.ByIDs(ctx, ids)
}

// Close releases durable resources. The catalog is unusable afterward.
func (c *Catalog) Close() error {
	c.rw.Lock()
	defer c.rw.Unlock()
	if c.state == stateClosed {
		return nil
	}
	c.state = stateClosed
	if c.vacuumer != nil {
		c.vacuumer.Stop()
	}
	if c.cancelBg != nil {
		c.cancelBg()
	}
	if c.watcher != nil {
		c.watcher.Stop()
	}
	if c.pathIdx != nil {
		_ = c.pathIdx.Close()
	}
	return c.media.Close()
}

// LastActivity returns the mtime of last-added.txt, the marker touched by
// every successful Add, or the zero time if the catalog has never added a
// record. The background vacuum scheduler uses this to decide whether the
// catalog has been idle long enough.
func (c *Catalog) LastActivity() time.Time {
	info, err := os.Stat(filepath.Join(c.dir, "last-added.txt"))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Dir returns the catalog's index directory, rooted under Root.Path.
func (c *Catalog) Dir() string { return c.dir }

// Count reports the number of records of the given kind mask.
func (c *Catalog) Count(ctx context.Context, kinds store.Kind) (int, error) {
	return c.media.Count(ctx, kinds)
}

// MediaWithID looks up a record by id, going through the LRU cache first.
func (c *Catalog) MediaWithID(ctx context.Context, id store.MediaID) (*store.MediaRecord, error) {
	return c.media.ByIDCached(ctx, id)
}

// MediaWithPath looks up a record by relPath, going through the LRU cache.
func (c *Catalog) MediaWithPath(ctx context.Context, relPath string) (*store.MediaRecord, error) {
	return c.media.ByPathCached(ctx, relPath)
}

// MediaWithMD5 returns every record sharing the given content hash.
func (c *Catalog) MediaWithMD5(ctx context.Context, md5 string) ([]*store.MediaRecord, error) {
	return c.media.ByMD5(ctx, md5)
}

// MediaWithKind returns every record matching the kind bitmask.
func (c *Catalog) MediaWithKind(ctx context.Context, kinds store.Kind) ([]*store.MediaRecord, error) {
	return c.media.ByKind(ctx, kinds)
}

// SearchPath runs a free-text query over relPath using the bleve-backed
// path index and hydrates the matches, best-scored first. It returns an
// ErrCodeInternal "not enabled" error when the path index was not turned
// on for this catalog (cfg.Index.PathIndexEnabled). MediaWithPath never
// depends on this accelerator.
func (c *Catalog) SearchPath(ctx context.Context, query string, limit int) ([]*store.MediaRecord, error) {
	if c.pathIdx == nil {
		return nil, cerrors.New(cerrors.ErrCodeInternal, "path index is not enabled for this catalog", nil)
	}
	ids, err := c.pathIdx.Search(query, limit)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeInternal, "path index search failed", err)
	}
	return c.media.ByIDs(ctx, ids)
}

// RebuildPathIndex discards and repopulates the bleve path index from the
// record store, the authoritative source. Safe to call whenever the
// catalog believes the accelerator has drifted (e.g. after restoring a
// record store backup without its cache/ directory).
func (c *Catalog) RebuildPathIndex(ctx context.Context) error {
	if c.pathIdx == nil {
		return cerrors.New(cerrors.ErrCodeInternal, "path index is not enabled for this catalog", nil)
	}
	all, err := c.media.ByKind(ctx, store.KindAll)
	if err != nil {
		return cerrors.New(cerrors.ErrCodeInternal, "failed to load records for path index rebuild", err)
	}
	rebuilt, err := store.Rebuild(filepath.Join(c.dir, "cache", "path.bleve"), all)
	if err != nil {
		return cerrors.New(cerrors.ErrCodeInternal, "path index rebuild failed", err)
	}
	c.rw.Lock()
	old := c.pathIdx
	c.pathIdx = rebuilt
	c.rw.Unlock()
	_ = old.Close()
	return nil
}

// loadedIndex returns idx's in-memory index, lazily loading it under a
// double-checked write lock on first use (the double-checked-lock
// suspension point). Callers must not already hold c.rw — use
// loadedIndexLocked from inside a section that already holds the write
// lock (e.g. Add/Remove, which acquire it via acquireWriteLock).
func (c *Catalog) loadedIndex(algo index.Algo) (index.Index, error) {
	c.rw.RLock()
	if idx, ok := c.indices[algo]; ok && idx.IsLoaded() {
		c.rw.RUnlock()
		return idx, nil
	}
	c.rw.RUnlock()

	c.rw.Lock()
	defer c.rw.Unlock()
	return c.loadedIndexLocked(algo)
}

// loadedIndexLocked is loadedIndex's construct-and-load step, factored out
// so a caller that already holds c.rw (Add/Remove, via acquireWriteLock)
// can ensure every registered index is loaded without recursively
// acquiring a non-reentrant lock.
func (c *Catalog) loadedIndexLocked(algo index.Algo) (index.Index, error) {
	if idx, ok := c.indices[algo]; ok && idx.IsLoaded() {
		return idx, nil
	}

	idx, err := c.registry.New(algo)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeUnknownAlgo, fmt.Sprintf("unknown algo %s", algo), err)
	}
	if err := idx.CreateTables(c.dir); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeSchemaMismatch, "index schema mismatch", err)
	}
	dataDir := c.dir
	if algo == index.AlgoVideo {
		dataDir = filepath.Join(c.dir, "video")
	}
	if err := idx.Load(c.dir, dataDir); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeCorruptIndex, "failed to load index", err)
	}

	c.indices[algo] = idx
	c.state = stateOpenLoaded
	return idx, nil
}

// acquireWriteLock takes the in-process writer lock, then tries the
// cross-process write.lock non-blocking; it aborts with
// ErrCodeWriteLockHeld if another process already holds it.
func (c *Catalog) acquireWriteLock() (func(), error) {
	c.rw.Lock()
	acquired, err := c.writeLock.TryLock()
	if err != nil {
		c.rw.Unlock()
		return nil, cerrors.New(cerrors.ErrCodeLockUnavailable, "failed to acquire cross-process write lock", err)
	}
	if !acquired {
		c.rw.Unlock()
		return nil, cerrors.New(cerrors.ErrCodeWriteLockHeld, "another process is writing", nil)
	}
	return func() {
		_ = c.writeLock.Unlock()
		c.rw.Unlock()
	}, nil
}
