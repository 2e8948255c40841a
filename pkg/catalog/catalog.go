package catalog

import (
	"context"
	"time"

	"github.com/nightshadow92/cbird/internal/catalog"
	"github.com/nightshadow92/cbird/internal/config"
	"github.com/nightshadow92/cbird/internal/index"
	"github.com/nightshadow92/cbird/internal/store"
)

// Type aliases give callers the catalog's data model without importing
// internal/store directly; the internal package remains the single
// definition so the façade and this boundary never drift apart.
type (
	Kind         = store.Kind
	MediaID      = store.MediaID
	MediaRecord  = store.MediaRecord
	Match        = store.Match
	MatchRange   = store.MatchRange
	MatchFlags   = store.MatchFlags
	GroupMember  = store.GroupMember
	Group        = store.Group
	SearchParams = store.SearchParams
	PathUpdate   = store.PathUpdate
	CheckResult  = index.CheckResult
	Config       = config.Config
)

const (
	KindImage = store.KindImage
	KindVideo = store.KindVideo
	KindAudio = store.KindAudio
	KindAll   = store.KindAll

	FlagExactMD5         = store.FlagExactMD5
	FlagBiggerDimensions = store.FlagBiggerDimensions
	FlagLessCompressed   = store.FlagLessCompressed
	FlagBiggerFile       = store.FlagBiggerFile
)

// DefaultSearchParams returns the catalog's baseline query configuration.
func DefaultSearchParams() SearchParams { return store.DefaultSearchParams() }

// NewConfig returns a Config populated with the catalog's defaults.
func NewConfig() *Config { return config.NewConfig() }

// Catalog is the public boundary a host application — a CLI, an import
// job, or a network service — programs against. It wraps the internal
// façade one-for-one; see package doc for usage.
type Catalog struct {
	inner *catalog.Catalog
}

// Open creates or attaches to a catalog rooted at cfg.Root.Path. See
// internal/catalog.Open for the lifecycle this establishes.
func Open(cfg *Config) (*Catalog, error) {
	inner, err := catalog.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Catalog{inner: inner}, nil
}

// Close releases durable resources. The catalog is unusable afterward.
func (c *Catalog) Close() error { return c.inner.Close() }

// Count reports the number of records of the given kind mask.
func (c *Catalog) Count(ctx context.Context, kinds Kind) (int, error) {
	return c.inner.Count(ctx, kinds)
}

// MediaWithID looks up a record by id.
func (c *Catalog) MediaWithID(ctx context.Context, id MediaID) (*MediaRecord, error) {
	return c.inner.MediaWithID(ctx, id)
}

// MediaWithPath looks up a record by relPath.
func (c *Catalog) MediaWithPath(ctx context.Context, relPath string) (*MediaRecord, error) {
	return c.inner.MediaWithPath(ctx, relPath)
}

// MediaWithMD5 returns every record sharing the given content hash.
func (c *Catalog) MediaWithMD5(ctx context.Context, md5 string) ([]*MediaRecord, error) {
	return c.inner.MediaWithMD5(ctx, md5)
}

// MediaWithKind returns every record matching the kind bitmask.
func (c *Catalog) MediaWithKind(ctx context.Context, kinds Kind) ([]*MediaRecord, error) {
	return c.inner.MediaWithKind(ctx, kinds)
}

// SetMD5 rewrites a single record's content hash.
func (c *Catalog) SetMD5(ctx context.Context, id MediaID, md5 string) error {
	return c.inner.SetMD5(ctx, id, md5)
}

// SearchPath runs a free-text query over relPath via the optional bleve
// path-search accelerator (cfg.Index.PathIndexEnabled).
func (c *Catalog) SearchPath(ctx context.Context, query string, limit int) ([]*MediaRecord, error) {
	return c.inner.SearchPath(ctx, query, limit)
}

// RebuildPathIndex repopulates the path-search accelerator from the
// record store, the authoritative source.
func (c *Catalog) RebuildPathIndex(ctx context.Context) error {
	return c.inner.RebuildPathIndex(ctx)
}

// Add reserves ids, persists records across every store, and returns the
// ids assigned in input order.
func (c *Catalog) Add(ctx context.Context, drafts []*MediaRecord) ([]MediaID, error) {
	return c.inner.Add(ctx, drafts)
}

// Remove deletes ids from the record store, every index, and any video
// sidecar. Deleting id 0 is rejected.
func (c *Catalog) Remove(ctx context.Context, ids []MediaID) error {
	return c.inner.Remove(ctx, ids)
}

// Move renames record's file into destDir and updates its relPath.
func (c *Catalog) Move(ctx context.Context, record *MediaRecord, destDir string) error {
	return c.inner.Move(ctx, record, destDir)
}

// Rename renames record's file within its current directory and updates
// its relPath.
func (c *Catalog) Rename(ctx context.Context, record *MediaRecord, newName string) error {
	return c.inner.Rename(ctx, record, newName)
}

// MoveDir renames a directory or archive file and rewrites every record
// under the old prefix in a single transaction, returning the count
// updated.
func (c *Catalog) MoveDir(ctx context.Context, srcRelPath, dstRelPath string) (int, error) {
	return c.inner.MoveDir(ctx, srcRelPath, dstRelPath)
}

// Vacuum compacts the record store and sweeps orphaned index/sidecar state.
func (c *Catalog) Vacuum(ctx context.Context) (*CheckResult, error) {
	return c.inner.Vacuum(ctx)
}

// LastActivity returns the mtime of last-added.txt, or the zero time if
// the catalog has never added a record.
func (c *Catalog) LastActivity() time.Time { return c.inner.LastActivity() }

// Dir returns the catalog's index directory, rooted under Root.Path.
func (c *Catalog) Dir() string { return c.inner.Dir() }

// Similar drives a haystack-wide scan against params.Algo's index.
func (c *Catalog) Similar(ctx context.Context, params SearchParams) ([]Group, error) {
	return c.inner.Similar(ctx, params)
}

// SimilarTo runs the single-needle variant against params.Algo's index.
func (c *Catalog) SimilarTo(ctx context.Context, needle *MediaRecord, params SearchParams) ([]GroupMember, error) {
	return c.inner.SimilarTo(ctx, needle, params)
}

// DupsByMD5 groups every record sharing an md5, ignoring params.Algo.
func (c *Catalog) DupsByMD5(ctx context.Context, params SearchParams) ([]Group, error) {
	return c.inner.DupsByMd5(ctx, params)
}

// AddNegativeMatch records that a and b's md5s must never be reported as
// a match. Refused when a == b or the pair is already present.
func (c *Catalog) AddNegativeMatch(a, b string) error {
	return c.inner.AddNegativeMatch(a, b)
}

// IsNegativeMatch reports whether a and b are in the negative-match relation.
func (c *Catalog) IsNegativeMatch(a, b string) bool {
	return c.inner.IsNegativeMatch(a, b)
}
