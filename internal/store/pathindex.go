package store

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
)

// PathIndex is an optional accelerated path search over relPath, built
// alongside byPathLike/byPathRegexp. It is never a second source of
// truth: it can be rebuilt from the media store at any time. A lookup
// miss here returns no ids; nothing falls back to the SQL LIKE primitive.
type PathIndex struct {
	dir   string
	index bleve.Index
}

type pathDoc struct {
	Path string `json:"path"`
}

// OpenPathIndex opens (or creates) the bleve index rooted at dir
// (typically <index-dir>/cache/path.bleve).
func OpenPathIndex(dir string) (*PathIndex, error) {
	idx, err := bleve.Open(dir)
	if err == bleve.ErrorIndexPathDoesNotExist {
		mapping := bleve.NewIndexMapping()
		// Split relPaths on every non-letter ('/', '.', '_', ...) so a
		// query for "beach" finds "vacation/beach.jpg".
		mapping.DefaultAnalyzer = simple.Name
		idx, err = bleve.New(dir, mapping)
	}
	if err != nil {
		return nil, fmt.Errorf("path index: open %s: %w", dir, err)
	}
	return &PathIndex{dir: dir, index: idx}, nil
}

// Close releases the underlying bleve index.
func (p *PathIndex) Close() error {
	return p.index.Close()
}

// Index adds or replaces the path entries for the given records.
func (p *PathIndex) Index(records []*MediaRecord) error {
	batch := p.index.NewBatch()
	for _, r := range records {
		if err := batch.Index(fmt.Sprintf("%d", r.ID), pathDoc{Path: r.RelPath}); err != nil {
			return fmt.Errorf("path index: batch: %w", err)
		}
	}
	return p.index.Batch(batch)
}

// Remove deletes path entries for the given ids.
func (p *PathIndex) Remove(ids []MediaID) error {
	batch := p.index.NewBatch()
	for _, id := range ids {
		batch.Delete(fmt.Sprintf("%d", id))
	}
	return p.index.Batch(batch)
}

// Search runs a free-text query over relPath and returns matching ids,
// best-scored first, capped at limit.
func (p *PathIndex) Search(query string, limit int) ([]MediaID, error) {
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := p.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("path index: search: %w", err)
	}

	ids := make([]MediaID, 0, len(res.Hits))
	for _, hit := range res.Hits {
		var id uint32
		if _, err := fmt.Sscanf(hit.ID, "%d", &id); err == nil {
			ids = append(ids, MediaID(id))
		}
	}
	return ids, nil
}

// Rebuild discards the existing index and reindexes every record from the
// authoritative store.
func Rebuild(dir string, all []*MediaRecord) (*PathIndex, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("path index: rebuild cleanup: %w", err)
	}
	p, err := OpenPathIndex(dir)
	if err != nil {
		return nil, err
	}
	if err := p.Index(all); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}
