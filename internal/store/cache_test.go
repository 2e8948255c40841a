package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCachedStore(t *testing.T) *CachedMediaStore {
	t.Helper()
	c, err := NewCachedMediaStore(newTestMediaStore(t), 16)
	require.NoError(t, err)
	return c
}

func TestCachedMediaStore_ByIDCached(t *testing.T) {
	c := newTestCachedStore(t)
	ctx := context.Background()

	require.NoError(t, c.InsertBatch(ctx, []*MediaRecord{{ID: 1, RelPath: "a.jpg", MD5: "aaa"}}))

	first, err := c.ByIDCached(ctx, 1)
	require.NoError(t, err)

	second, err := c.ByIDCached(ctx, 1)
	require.NoError(t, err)
	require.Same(t, first, second, "a repeat lookup should come from the cache")
}

func TestCachedMediaStore_ByPathCachedPrimesIDLookup(t *testing.T) {
	c := newTestCachedStore(t)
	ctx := context.Background()

	require.NoError(t, c.InsertBatch(ctx, []*MediaRecord{{ID: 1, RelPath: "a.jpg"}}))

	byPath, err := c.ByPathCached(ctx, "a.jpg")
	require.NoError(t, err)

	byID, err := c.ByIDCached(ctx, 1)
	require.NoError(t, err)
	require.Same(t, byPath, byID)
}

func TestCachedMediaStore_InvalidateDropsEverything(t *testing.T) {
	c := newTestCachedStore(t)
	ctx := context.Background()

	require.NoError(t, c.InsertBatch(ctx, []*MediaRecord{{ID: 1, RelPath: "a.jpg"}}))

	stale, err := c.ByIDCached(ctx, 1)
	require.NoError(t, err)

	c.Invalidate()

	fresh, err := c.ByIDCached(ctx, 1)
	require.NoError(t, err)
	require.NotSame(t, stale, fresh, "invalidation must force a re-hydration")
}

func TestCachedMediaStore_InvalidateIDDropsBothDirections(t *testing.T) {
	c := newTestCachedStore(t)
	ctx := context.Background()

	require.NoError(t, c.InsertBatch(ctx, []*MediaRecord{{ID: 1, RelPath: "a.jpg"}}))

	staleID, err := c.ByIDCached(ctx, 1)
	require.NoError(t, err)

	c.InvalidateID(1)

	freshID, err := c.ByIDCached(ctx, 1)
	require.NoError(t, err)
	require.NotSame(t, staleID, freshID)

	c.InvalidateID(1)

	freshPath, err := c.ByPathCached(ctx, "a.jpg")
	require.NoError(t, err)
	require.NotSame(t, freshID, freshPath)
}

func TestCachedMediaStore_MissIsNotCached(t *testing.T) {
	c := newTestCachedStore(t)
	ctx := context.Background()

	_, err := c.ByIDCached(ctx, 99)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.InsertBatch(ctx, []*MediaRecord{{ID: 99, RelPath: "late.jpg"}}))

	got, err := c.ByIDCached(ctx, 99)
	require.NoError(t, err)
	require.Equal(t, "late.jpg", got.RelPath)
}

func BenchmarkCachedMediaStore_ByIDCached(b *testing.B) {
	s, err := OpenMediaStore("", 5000)
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	records := make([]*MediaRecord, 1000)
	for i := range records {
		records[i] = &MediaRecord{
			ID:      MediaID(i + 1),
			Kind:    KindImage,
			RelPath: fmt.Sprintf("bench/img_%04d.jpg", i),
		}
	}
	if err := s.InsertBatch(ctx, records); err != nil {
		b.Fatal(err)
	}

	c, err := NewCachedMediaStore(s, 4096)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.ByIDCached(ctx, MediaID(i%1000+1)); err != nil {
			b.Fatal(err)
		}
	}
}
