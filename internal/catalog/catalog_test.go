package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightshadow92/cbird/internal/config"
	"github.com/nightshadow92/cbird/internal/store"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Root.Path = t.TempDir()
	cfg.Performance.SearchWorkers = 2

	c, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCatalog_AddAndMediaWithID(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	ids, err := c.Add(ctx, []*store.MediaRecord{
		{Kind: store.KindImage, RelPath: "a.jpg", MD5: "aaa", DctHash: 1},
		{Kind: store.KindImage, RelPath: "b.jpg", MD5: "bbb", DctHash: 2},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Equal(t, store.MediaID(1), ids[0])
	require.Equal(t, store.MediaID(2), ids[1])

	rec, err := c.MediaWithID(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, "a.jpg", rec.RelPath)

	count, err := c.Count(ctx, store.KindAll)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestCatalog_RemoveRejectsIDZero(t *testing.T) {
	c := newTestCatalog(t)
	err := c.Remove(context.Background(), []store.MediaID{0})
	require.Error(t, err)
}

func TestCatalog_RemoveDeletesRecord(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	ids, err := c.Add(ctx, []*store.MediaRecord{{Kind: store.KindImage, RelPath: "a.jpg", MD5: "aaa"}})
	require.NoError(t, err)

	require.NoError(t, c.Remove(ctx, ids))

	_, err = c.MediaWithID(ctx, ids[0])
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCatalog_SimilarFindsMatchingPair(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	_, err := c.Add(ctx, []*store.MediaRecord{
		{Kind: store.KindImage, RelPath: "a.jpg", MD5: "aaa", DctHash: 0},
		{Kind: store.KindImage, RelPath: "b.jpg", MD5: "bbb", DctHash: 0},
		{Kind: store.KindImage, RelPath: "c.jpg", MD5: "ccc", DctHash: 0xFFFFFFFFFFFFFFFF},
	})
	require.NoError(t, err)

	params := store.DefaultSearchParams()
	params.QueryTypes = store.KindImage
	params.DctThresh = 0

	groups, err := c.Similar(ctx, params)
	require.NoError(t, err)
	require.Len(t, groups, 2)
}

func TestCatalog_AddNegativeMatchExcludesHit(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	ids, err := c.Add(ctx, []*store.MediaRecord{
		{Kind: store.KindImage, RelPath: "a.jpg", MD5: "aaa", DctHash: 0},
		{Kind: store.KindImage, RelPath: "b.jpg", MD5: "bbb", DctHash: 0},
	})
	require.NoError(t, err)

	require.NoError(t, c.AddNegativeMatch("aaa", "bbb"))
	require.True(t, c.IsNegativeMatch("aaa", "bbb"))

	needle, err := c.MediaWithID(ctx, ids[0])
	require.NoError(t, err)

	params := store.DefaultSearchParams()
	params.DctThresh = 0
	params.NegativeMatch = true

	hits, err := c.SimilarTo(ctx, needle, params)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestCatalog_DupsByMd5(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	_, err := c.Add(ctx, []*store.MediaRecord{
		{Kind: store.KindImage, RelPath: "a.jpg", MD5: "same"},
		{Kind: store.KindImage, RelPath: "b.jpg", MD5: "same"},
	})
	require.NoError(t, err)

	params := store.DefaultSearchParams()
	params.QueryTypes = store.KindImage

	groups, err := c.DupsByMd5(ctx, params)
	require.NoError(t, err)
	require.Len(t, groups, 1)
}

func TestCatalog_VacuumReportsNothingOnConsistentCatalog(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	ids, err := c.Add(ctx, []*store.MediaRecord{{Kind: store.KindImage, RelPath: "a.jpg", MD5: "aaa", DctHash: 1}})
	require.NoError(t, err)

	result, err := c.Vacuum(ctx)
	require.NoError(t, err)
	require.Empty(t, result.Inconsistencies)
	require.Equal(t, 1, result.Checked)
	_ = ids
}

func TestCatalog_SearchPathFindsIndexedRecord(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Root.Path = t.TempDir()
	cfg.Index.PathIndexEnabled = true

	c, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	_, err = c.Add(ctx, []*store.MediaRecord{
		{Kind: store.KindImage, RelPath: "vacation/beach.jpg", MD5: "aaa"},
		{Kind: store.KindImage, RelPath: "work/slides.png", MD5: "bbb"},
	})
	require.NoError(t, err)

	hits, err := c.SearchPath(ctx, "beach", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "vacation/beach.jpg", hits[0].RelPath)
}

func TestCatalog_SearchPathDisabledByDefault(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.SearchPath(context.Background(), "beach", 10)
	require.Error(t, err)
}

func TestCatalog_SetMD5(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	ids, err := c.Add(ctx, []*store.MediaRecord{{Kind: store.KindImage, RelPath: "a.jpg", MD5: "old"}})
	require.NoError(t, err)

	require.NoError(t, c.SetMD5(ctx, ids[0], "new"))

	rec, err := c.MediaWithID(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, "new", rec.MD5)
}

func TestCatalog_MediaWithMD5AndKind(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	_, err := c.Add(ctx, []*store.MediaRecord{
		{Kind: store.KindImage, RelPath: "a.jpg", MD5: "dup"},
		{Kind: store.KindImage, RelPath: "b.jpg", MD5: "dup"},
		{Kind: store.KindVideo, RelPath: "c.mp4", MD5: "other"},
	})
	require.NoError(t, err)

	byMD5, err := c.MediaWithMD5(ctx, "dup")
	require.NoError(t, err)
	require.Len(t, byMD5, 2)

	videos, err := c.MediaWithKind(ctx, store.KindVideo)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	require.Equal(t, "c.mp4", videos[0].RelPath)
}

func TestCatalog_SecondWriterAbortsWhileLockHeld(t *testing.T) {
	cfg1 := config.NewConfig()
	cfg1.Root.Path = t.TempDir()
	c1, err := Open(cfg1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c1.Close() })

	cfg2 := config.NewConfig()
	cfg2.Root.Path = cfg1.Root.Path
	c2, err := Open(cfg2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c2.Close() })

	ctx := context.Background()
	require.NoError(t, c1.writeLock.Lock())

	_, err = c2.Add(ctx, []*store.MediaRecord{{Kind: store.KindImage, RelPath: "a.jpg", MD5: "aaa"}})
	require.Error(t, err, "a second catalog over the same root must abort while write.lock is held")

	n, countErr := c2.Count(ctx, store.KindAll)
	require.NoError(t, countErr)
	require.Zero(t, n, "the aborted add must not have touched the stores")

	require.NoError(t, c1.writeLock.Unlock())

	_, err = c2.Add(ctx, []*store.MediaRecord{{Kind: store.KindImage, RelPath: "a.jpg", MD5: "aaa"}})
	require.NoError(t, err)
}

func TestCatalog_MoveDirRewritesPaths(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(c.cfg.Root.Path, "old"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(c.cfg.Root.Path, "old", "a.jpg"), []byte("x"), 0644))

	ids, err := c.Add(ctx, []*store.MediaRecord{{Kind: store.KindImage, RelPath: "old/a.jpg", MD5: "aaa"}})
	require.NoError(t, err)

	n, err := c.MoveDir(ctx, "old", "new")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, err := c.MediaWithID(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, "new/a.jpg", rec.RelPath)
}
