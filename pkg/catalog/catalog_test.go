package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightshadow92/cbird/pkg/catalog"
)

func TestCatalog_PublicBoundaryAddAndSearch(t *testing.T) {
	cfg := catalog.NewConfig()
	cfg.Root.Path = t.TempDir()

	cat, err := catalog.Open(cfg)
	require.NoError(t, err)
	defer cat.Close()

	ctx := context.Background()
	ids, err := cat.Add(ctx, []*catalog.MediaRecord{
		{Kind: catalog.KindImage, RelPath: "a.jpg", MD5: "aaa", DctHash: 0},
		{Kind: catalog.KindImage, RelPath: "b.jpg", MD5: "bbb", DctHash: 0},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	params := catalog.DefaultSearchParams()
	params.DctThresh = 0
	groups, err := cat.Similar(ctx, params)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	count, err := cat.Count(ctx, catalog.KindAll)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
