package store

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedMediaStore wraps a MediaStore with a bounded LRU in front of the
// byId/byPath hydration path used by the search pipeline's hot loop. Every
// mutating catalog operation invalidates it, wholesale or per id, and the
// catalog's root watcher purges it when an external writer is detected.
type CachedMediaStore struct {
	*MediaStore

	mu     sync.Mutex
	byID   *lru.Cache[MediaID, *MediaRecord]
	byPath *lru.Cache[string, *MediaRecord]
}

// NewCachedMediaStore wraps store with an LRU of the given capacity per
// lookup direction.
func NewCachedMediaStore(s *MediaStore, size int) (*CachedMediaStore, error) {
	if size <= 0 {
		size = 4096
	}
	byID, err := lru.New[MediaID, *MediaRecord](size)
	if err != nil {
		return nil, err
	}
	byPath, err := lru.New[string, *MediaRecord](size)
	if err != nil {
		return nil, err
	}
	return &CachedMediaStore{MediaStore: s, byID: byID, byPath: byPath}, nil
}

// ByIDCached hydrates a record by id, consulting the LRU before the
// underlying store.
func (c *CachedMediaStore) ByIDCached(ctx context.Context, id MediaID) (*MediaRecord, error) {
	c.mu.Lock()
	if r, ok := c.byID.Get(id); ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	r, err := c.MediaStore.ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.byID.Add(id, r)
	c.byPath.Add(r.RelPath, r)
	c.mu.Unlock()
	return r, nil
}

// ByPathCached hydrates a record by relPath, consulting the LRU before the
// underlying store.
func (c *CachedMediaStore) ByPathCached(ctx context.Context, relPath string) (*MediaRecord, error) {
	c.mu.Lock()
	if r, ok := c.byPath.Get(relPath); ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	r, err := c.MediaStore.ByPath(ctx, relPath)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.byPath.Add(relPath, r)
	c.byID.Add(r.ID, r)
	c.mu.Unlock()
	return r, nil
}

// Invalidate drops every cached entry. Called after batch mutations (Add,
// MoveDir) and whenever the root watcher observes a foreign writer.
func (c *CachedMediaStore) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID.Purge()
	c.byPath.Purge()
}

// InvalidateID drops a single cached record, used after a targeted update
// such as setMd5 or a path rename.
func (c *CachedMediaStore) InvalidateID(id MediaID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.byID.Get(id); ok {
		c.byPath.Remove(r.RelPath)
	}
	c.byID.Remove(id)
}
