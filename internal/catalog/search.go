package catalog

import (
	"context"

	"github.com/nightshadow92/cbird/internal/async"
	cerrors "github.com/nightshadow92/cbird/internal/errors"
	"github.com/nightshadow92/cbird/internal/index"
	"github.com/nightshadow92/cbird/internal/search"
	"github.com/nightshadow92/cbird/internal/store"
)

func (c *Catalog) algoFor(params store.SearchParams) (index.Algo, error) {
	switch params.Algo {
	case "", "dct-image":
		return index.AlgoDctImage, nil
	case "color":
		return index.AlgoColor, nil
	case "video":
		return index.AlgoVideo, nil
	default:
		return 0, cerrors.New(cerrors.ErrCodeUnknownAlgo, "unknown search algo: "+params.Algo, nil)
	}
}

// Similar runs a haystack-wide scan over params.Algo's index.
func (c *Catalog) Similar(ctx context.Context, params store.SearchParams) ([]store.Group, error) {
	algo, err := c.algoFor(params)
	if err != nil {
		return nil, err
	}
	idx, err := c.loadedIndex(algo)
	if err != nil {
		return nil, err
	}
	return c.engine.Similar(ctx, idx, params)
}

// SimilarTo runs the single-needle variant against params.Algo's index.
func (c *Catalog) SimilarTo(ctx context.Context, needle *store.MediaRecord, params store.SearchParams) ([]store.GroupMember, error) {
	algo, err := c.algoFor(params)
	if err != nil {
		return nil, err
	}
	idx, err := c.loadedIndex(algo)
	if err != nil {
		return nil, err
	}
	return c.engine.SimilarTo(ctx, idx, needle, params)
}

// DupsByMd5 groups every record sharing an md5, ignoring params.Algo.
func (c *Catalog) DupsByMd5(ctx context.Context, params store.SearchParams) ([]store.Group, error) {
	return c.engine.DupsByMd5(ctx, params)
}

var (
	_ search.HaystackSource = (*Catalog)(nil)
	_ async.VacuumTarget    = (*Catalog)(nil)
)
