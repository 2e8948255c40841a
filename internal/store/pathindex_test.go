package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathIndex_IndexAndSearch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "path.bleve")
	p, err := OpenPathIndex(dir)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Index([]*MediaRecord{
		{ID: 1, RelPath: "vacation/beach.jpg"},
		{ID: 2, RelPath: "work/slides.png"},
	}))

	ids, err := p.Search("beach", 10)
	require.NoError(t, err)
	require.Contains(t, ids, MediaID(1))
	require.NotContains(t, ids, MediaID(2))
}

func TestPathIndex_Remove(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "path.bleve")
	p, err := OpenPathIndex(dir)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Index([]*MediaRecord{{ID: 1, RelPath: "vacation/beach.jpg"}}))
	require.NoError(t, p.Remove([]MediaID{1}))

	ids, err := p.Search("beach", 10)
	require.NoError(t, err)
	require.NotContains(t, ids, MediaID(1))
}

func TestRebuild_RepopulatesFromAuthoritativeRecords(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "path.bleve")
	p, err := OpenPathIndex(dir)
	require.NoError(t, err)
	require.NoError(t, p.Index([]*MediaRecord{{ID: 1, RelPath: "stale.jpg"}}))
	require.NoError(t, p.Close())

	rebuilt, err := Rebuild(dir, []*MediaRecord{{ID: 2, RelPath: "fresh.jpg"}})
	require.NoError(t, err)
	defer rebuilt.Close()

	ids, err := rebuilt.Search("fresh", 10)
	require.NoError(t, err)
	require.Contains(t, ids, MediaID(2))

	ids, err = rebuilt.Search("stale", 10)
	require.NoError(t, err)
	require.NotContains(t, ids, MediaID(1))
}
