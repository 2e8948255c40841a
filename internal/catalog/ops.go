package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	cerrors "github.com/nightshadow92/cbird/internal/errors"
	"github.com/nightshadow92/cbird/internal/index"
	"github.com/nightshadow92/cbird/internal/store"
)

// Add reserves sequential ids starting at the record store's next id,
// commits the record store and every index's durable store, and only then
// performs the in-memory index insert. A failed durable index insert
// removes the batch again from every index's durable store and from the
// record store before returning the error; once committed the in-memory
// step always proceeds (a reader hydrating via the record store tolerates
// a momentarily stale index with a warning). Add writes no video sidecar:
// MediaRecord carries no frame-hash sequence to persist.
func (c *Catalog) Add(ctx context.Context, drafts []*store.MediaRecord) ([]store.MediaID, error) {
	release, err := c.acquireWriteLock()
	if err != nil {
		return nil, err
	}
	defer release()

	if len(drafts) == 0 {
		return nil, nil
	}

	next, err := c.media.MediaStore.NextID(ctx)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeInternal, "failed to reserve id range", err)
	}
	for i, r := range drafts {
		r.ID = next + store.MediaID(i)
	}

	if err := c.media.MediaStore.InsertBatch(ctx, drafts); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeCommitFailed, "record store insert failed", err)
	}

	// Every registered index family member gets the durable write, not
	// just the ones already resident in memory: loadedIndexLocked lazily
	// creates/loads an index on first touch, so a fresh catalog that has
	// never run a search still gets its algo<N>.db rows populated here.
	// Locked variant: acquireWriteLock above already holds c.rw.
	indices := make([]index.Index, 0, len(c.registry.Algos()))
	for _, algo := range c.registry.Algos() {
		idx, err := c.loadedIndexLocked(algo)
		if err != nil {
			return nil, err
		}
		indices = append(indices, idx)
	}

	{
		g, _ := errgroup.WithContext(ctx)
		for _, idx := range indices {
			idx := idx
			g.Go(func() error {
				if err := idx.AddRecords(c.dir, drafts); err != nil {
					return cerrors.New(cerrors.ErrCodeCommitFailed,
						"index durable insert failed ("+idx.ID().String()+")", err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			ids := make([]store.MediaID, len(drafts))
			for i, r := range drafts {
				ids[i] = r.ID
			}
			for _, idx := range indices {
				if rerr := idx.RemoveRecords(c.dir, ids); rerr != nil {
					slog.Warn("catalog: index rollback after failed add", slog.String("algo", idx.ID().String()), slog.String("error", rerr.Error()))
				}
			}
			if _, derr := c.media.MediaStore.Delete(ctx, ids); derr != nil {
				slog.Warn("catalog: record store rollback after failed add", slog.String("error", derr.Error()))
			}
			return nil, err
		}
	}

	// Video sidecar persistence happens at the importer's frame-hash
	// step, once ids are assigned; Add only guarantees the id exists by
	// the time that step runs.

	{
		g, _ := errgroup.WithContext(ctx)
		for _, idx := range indices {
			idx := idx
			g.Go(func() error {
				if err := idx.Add(drafts); err != nil {
					slog.Warn("catalog: in-memory index insert failed after durable commit",
						slog.String("algo", idx.ID().String()), slog.String("error", err.Error()))
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	c.media.Invalidate()
	c.touchLastAdded()

	if c.pathIdx != nil {
		if err := c.pathIdx.Index(drafts); err != nil {
			slog.Warn("catalog: path index update failed after add", slog.String("error", err.Error()))
		}
	}

	ids := make([]store.MediaID, len(drafts))
	for i, r := range drafts {
		ids[i] = r.ID
	}
	return ids, nil
}

// Remove deletes ids from the record store, then from every registered
// index's durable state (loading an index first if this catalog handle
// hasn't touched it yet), then deletes any video sidecar, then removes
// the ids from each index's in-memory state. Deletion of id 0 is rejected.
func (c *Catalog) Remove(ctx context.Context, ids []store.MediaID) error {
	for _, id := range ids {
		if id == 0 {
			slog.Warn("catalog: rejecting delete of id 0")
			return cerrors.New(cerrors.ErrCodeDeleteIDZero, "id 0 cannot be deleted", nil)
		}
	}

	release, err := c.acquireWriteLock()
	if err != nil {
		return err
	}
	defer release()

	deleted, err := c.media.MediaStore.Delete(ctx, ids)
	if err != nil {
		return cerrors.New(cerrors.ErrCodeCommitFailed, "record store delete failed", err)
	}

	// Every registered index family member gets the durable delete, not
	// just the ones already resident in memory — see Add's identical
	// reasoning above.
	indices := make([]index.Index, 0, len(c.registry.Algos()))
	for _, algo := range c.registry.Algos() {
		idx, err := c.loadedIndexLocked(algo)
		if err != nil {
			return err
		}
		indices = append(indices, idx)
	}

	{
		g, _ := errgroup.WithContext(ctx)
		for _, idx := range indices {
			idx := idx
			g.Go(func() error {
				if err := idx.RemoveRecords(c.dir, deleted); err != nil {
					return cerrors.New(cerrors.ErrCodeCommitFailed,
						"index durable delete failed ("+idx.ID().String()+")", err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	for _, id := range deleted {
		if err := c.videos.Delete(id); err != nil && !os.IsNotExist(err) {
			slog.Warn("catalog: failed to delete video sidecar", slog.Int("id", int(id)), slog.String("error", err.Error()))
		}
	}

	{
		g, _ := errgroup.WithContext(ctx)
		for _, idx := range indices {
			idx := idx
			g.Go(func() error {
				if err := idx.Remove(deleted); err != nil {
					slog.Warn("catalog: in-memory index delete failed",
						slog.String("algo", idx.ID().String()), slog.String("error", err.Error()))
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, id := range deleted {
		c.media.InvalidateID(id)
	}

	if c.pathIdx != nil {
		if err := c.pathIdx.Remove(deleted); err != nil {
			slog.Warn("catalog: path index update failed after remove", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Move renames record's file on disk into destDir, then updates its
// relPath to match.
func (c *Catalog) Move(ctx context.Context, record *store.MediaRecord, destDir string) error {
	newPath := filepath.Join(destDir, filepath.Base(record.RelPath))
	return c.moveOnDiskThenUpdatePath(ctx, record, newPath)
}

// Rename renames record's file on disk to newName within its current
// directory, then updates its relPath to match.
func (c *Catalog) Rename(ctx context.Context, record *store.MediaRecord, newName string) error {
	newPath := filepath.Join(filepath.Dir(record.RelPath), newName)
	return c.moveOnDiskThenUpdatePath(ctx, record, newPath)
}

func (c *Catalog) moveOnDiskThenUpdatePath(ctx context.Context, record *store.MediaRecord, newRelPath string) error {
	root := c.cfg.Root.Path
	if err := os.Rename(filepath.Join(root, record.RelPath), filepath.Join(root, newRelPath)); err != nil {
		return cerrors.New(cerrors.ErrCodeFilePermission, "filesystem move/rename failed", err)
	}

	release, err := c.acquireWriteLock()
	if err != nil {
		return err
	}
	defer release()

	if err := c.media.MediaStore.UpdatePaths(ctx, []store.PathUpdate{{ID: record.ID, NewPath: newRelPath}}); err != nil {
		return cerrors.New(cerrors.ErrCodeCommitFailed, "path update failed", err)
	}
	record.RelPath = newRelPath
	c.media.InvalidateID(record.ID)

	if c.pathIdx != nil {
		if err := c.pathIdx.Index([]*store.MediaRecord{record}); err != nil {
			slog.Warn("catalog: path index update failed after move/rename", slog.String("error", err.Error()))
		}
	}
	return nil
}

// MoveDir renames a directory or archive file on disk, then rewrites
// every record whose relPath starts with the old prefix in a single
// transaction. The prefix is LIKE-escaped so archive names containing
// literal '%' or '_' are not mistaken for wildcards.
func (c *Catalog) MoveDir(ctx context.Context, srcRelPath, dstRelPath string) (int, error) {
	root := c.cfg.Root.Path
	if err := os.Rename(filepath.Join(root, srcRelPath), filepath.Join(root, dstRelPath)); err != nil {
		return 0, cerrors.New(cerrors.ErrCodeFilePermission, "filesystem moveDir failed", err)
	}

	release, err := c.acquireWriteLock()
	if err != nil {
		return 0, err
	}
	defer release()

	n, err := c.media.MediaStore.UpdatePathsByPrefix(ctx, srcRelPath, dstRelPath)
	if err != nil {
		return 0, cerrors.New(cerrors.ErrCodeCommitFailed, "moveDir path rewrite failed", err)
	}
	c.media.Invalidate()

	if c.pathIdx != nil && n > 0 {
		moved, err := c.media.MediaStore.ByPathLike(ctx, store.EscapeLike(dstRelPath)+"%")
		if err != nil {
			slog.Warn("catalog: failed to reload moved records for path index", slog.String("error", err.Error()))
		} else if err := c.pathIdx.Index(moved); err != nil {
			slog.Warn("catalog: path index update failed after moveDir", slog.String("error", err.Error()))
		}
	}
	return n, nil
}

// SetMD5 rewrites a single record's content hash, the operation an
// importer uses after re-hashing a file it believes changed in place.
func (c *Catalog) SetMD5(ctx context.Context, id store.MediaID, md5 string) error {
	release, err := c.acquireWriteLock()
	if err != nil {
		return err
	}
	defer release()

	if err := c.media.MediaStore.SetMD5(ctx, id, md5); err != nil {
		return cerrors.New(cerrors.ErrCodeCommitFailed, "setMd5 failed", err)
	}
	c.media.InvalidateID(id)
	return nil
}

// AddNegativeMatch records that a and b's md5s must never be reported as
// a match.
func (c *Catalog) AddNegativeMatch(a, b string) error {
	if a == b {
		return cerrors.New(cerrors.ErrCodeBadNegativeMatch, "cannot add a negative match between identical md5s", nil)
	}
	c.rw.Lock()
	defer c.rw.Unlock()
	if err := c.negative.Add(a, b); err != nil {
		return cerrors.New(cerrors.ErrCodeBadNegativeMatch, "failed to record negative match", err)
	}
	return nil
}

// IsNegativeMatch reports whether a and b are in the negative-match relation.
func (c *Catalog) IsNegativeMatch(a, b string) bool {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return c.negative.IsNegativeMatch(a, b)
}

// Vacuum compacts the record store and sweeps orphaned state: index
// entries referencing ids the record store no longer has, and orphaned
// video sidecars. It never runs concurrently with a foreground mutation
// because it goes through the same write-lock acquisition path.
func (c *Catalog) Vacuum(ctx context.Context) (*index.CheckResult, error) {
	release, err := c.acquireWriteLock()
	if err != nil {
		return nil, err
	}
	defer release()

	loaded := make([]index.Index, 0, len(c.indices))
	for _, idx := range c.indices {
		if idx.IsLoaded() {
			loaded = append(loaded, idx)
		}
	}

	checker := index.NewConsistencyChecker(c.media.MediaStore, loaded, c.videos)
	result, err := checker.Check(ctx)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeVacuumFailed, "consistency check failed", err)
	}
	if len(result.Inconsistencies) > 0 {
		if err := checker.Repair(c.dir, result.Inconsistencies); err != nil {
			return nil, cerrors.New(cerrors.ErrCodeVacuumFailed, "consistency repair failed", err)
		}
	}

	if err := c.media.MediaStore.Vacuum(ctx); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeVacuumFailed, "record store vacuum failed", err)
	}
	return result, nil
}

func (c *Catalog) touchLastAdded() {
	path := filepath.Join(c.dir, "last-added.txt")
	_ = os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)), 0644)
}
