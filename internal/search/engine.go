// Package search implements the catalog's haystack-wide and single-needle
// similarity search pipelines over the index family, plus the md5-based
// exact-duplicate grouping entry point.
package search

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	cerrors "github.com/nightshadow92/cbird/internal/errors"
	"github.com/nightshadow92/cbird/internal/index"
	"github.com/nightshadow92/cbird/internal/store"
)

// HaystackSource supplies the record population a search runs over. The
// catalog façade implements this directly over its record store.
type HaystackSource interface {
	ByKind(ctx context.Context, kinds store.Kind) ([]*store.MediaRecord, error)
	ByIDs(ctx context.Context, ids []store.MediaID) ([]*store.MediaRecord, error)
}

// NegativeMatchChecker reports whether two md5s are in the negative-match
// relation. The catalog's NegativeMatchStore implements this directly.
type NegativeMatchChecker interface {
	IsNegativeMatch(a, b string) bool
}

// Engine drives similar/similarTo/dupsByMd5 over one index family.
type Engine struct {
	haystack HaystackSource
	negative NegativeMatchChecker
	workers  int
	root     string
}

// NewEngine builds an Engine. workers bounds the errgroup's concurrency for
// Similar's parallel fan-out; zero means "let errgroup run unbounded". root
// is the catalog's filesystem root, consulted only to compare on-disk file
// sizes for SimilarTo's FlagBiggerFile annotation; a zero value degrades
// that one bit to always-unset rather than failing the query.
func NewEngine(haystack HaystackSource, negative NegativeMatchChecker, workers int, root string) *Engine {
	return &Engine{haystack: haystack, negative: negative, workers: workers, root: root}
}

// Similar runs a haystack-wide scan: every record matching params.QueryTypes
// (or params.Set, when params.InSet) is used as a needle against idx, fanned
// out across a bounded worker pool, then collapsed through filterMatch and
// filterMatches.
func (e *Engine) Similar(ctx context.Context, idx index.Index, params store.SearchParams) ([]store.Group, error) {
	haystack, err := e.loadHaystack(ctx, params)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeSearchFailed, "failed to build search haystack", err)
	}
	if len(haystack) == 0 {
		return nil, nil
	}

	idByID := make(map[store.MediaID]*store.MediaRecord, len(haystack))
	for _, r := range haystack {
		idByID[r.ID] = r
	}

	searchIdx := idx
	if params.InSet {
		ids := make(map[store.MediaID]struct{}, len(haystack))
		for _, r := range haystack {
			ids[r.ID] = struct{}{}
		}
		if sliced := idx.Slice(ids); sliced != nil {
			searchIdx = sliced
		}
	}

	results := make([]*store.Group, len(haystack))
	var next int64

	g, gctx := errgroup.WithContext(ctx)
	if e.workers > 0 {
		g.SetLimit(e.workers)
	}

	for _, needle := range haystack {
		needle := needle
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			group, err := e.searchIndex(gctx, searchIdx, needle, params, idByID)
			if err != nil {
				return err
			}
			slot := atomic.AddInt64(&next, 1) - 1
			results[slot] = group
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeSearchFailed, "search pipeline failed", err)
	}

	out := make([]store.Group, 0, len(results))
	for _, group := range results {
		if group == nil {
			continue
		}
		if !filterMatch(params, e.negative, group) {
			continue
		}
		out = append(out, *group)
	}
	return filterMatches(params, out), nil
}

// SimilarTo runs the single-needle variant: no parallel fan-out, and the
// needle is removed from the returned group with each hit annotated by
// match-flag bits relative to the needle. As in Similar, the index is
// sliced to params.Set at most once per query when params.InSet.
func (e *Engine) SimilarTo(ctx context.Context, idx index.Index, needle *store.MediaRecord, params store.SearchParams) ([]store.GroupMember, error) {
	idByID := map[store.MediaID]*store.MediaRecord{needle.ID: needle}
	searchIdx := idx
	if params.InSet {
		recs, err := e.haystack.ByIDs(ctx, params.Set)
		if err != nil {
			return nil, cerrors.New(cerrors.ErrCodeSearchFailed, "failed to resolve search set", err)
		}
		for _, r := range recs {
			idByID[r.ID] = r
		}
		ids := make(map[store.MediaID]struct{}, len(params.Set))
		for _, id := range params.Set {
			ids[id] = struct{}{}
		}
		if sliced := idx.Slice(ids); sliced != nil {
			searchIdx = sliced
		}
	}

	group, err := e.searchIndex(ctx, searchIdx, needle, params, idByID)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeSearchFailed, "similarTo failed", err)
	}
	if group == nil || !filterMatch(params, e.negative, group) {
		return nil, nil
	}

	hits := group.Hits()
	for i := range hits {
		hits[i].Flags = e.matchFlags(needle, hits[i].Record)
	}
	return hits, nil
}

// DupsByMd5 groups every haystack record sharing an md5, ignoring
// params.Algo entirely since md5 equality needs no index. It applies the
// same filterMatch/filterMatches pass as Similar.
func (e *Engine) DupsByMd5(ctx context.Context, params store.SearchParams) ([]store.Group, error) {
	haystack, err := e.loadHaystack(ctx, params)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeSearchFailed, "failed to build search haystack", err)
	}

	byMD5 := make(map[string][]*store.MediaRecord)
	for _, r := range haystack {
		if r.MD5 == "" {
			continue
		}
		byMD5[r.MD5] = append(byMD5[r.MD5], r)
	}

	var out []store.Group
	for _, recs := range byMD5 {
		if len(recs) < 2 {
			continue
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].RelPath < recs[j].RelPath })
		members := make([]store.GroupMember, len(recs))
		for i, r := range recs {
			members[i] = store.GroupMember{Record: r, Flags: e.matchFlags(recs[0], r)}
		}
		group := store.Group{Members: members}
		if filterMatch(params, e.negative, &group) {
			out = append(out, group)
		}
	}
	return filterMatches(params, out), nil
}

func (e *Engine) loadHaystack(ctx context.Context, params store.SearchParams) ([]*store.MediaRecord, error) {
	if params.InSet {
		return e.haystack.ByIDs(ctx, params.Set)
	}
	return e.haystack.ByKind(ctx, params.QueryTypes)
}

// searchIndex runs one needle against idx: find, sort ascending by score,
// truncate to maxMatches, hydrate each candidate (via the idMap when
// present, batched through the record store otherwise, skipping and
// warning on a stale index reference), and assemble a group with the
// needle prepended.
func (e *Engine) searchIndex(ctx context.Context, idx index.Index, needle *store.MediaRecord, params store.SearchParams, idByID map[store.MediaID]*store.MediaRecord) (*store.Group, error) {
	matches, err := idx.Find(needle, params)
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score < matches[j].Score })
	if params.MaxMatches > 0 && len(matches) > params.MaxMatches {
		matches = matches[:params.MaxMatches]
	}

	// idByID is shared across the parallel fan-out's workers, so records
	// hydrated here go into a per-call overlay instead of the shared map.
	var missing []store.MediaID
	for _, m := range matches {
		if params.FilterSelf && m.MediaID == needle.ID {
			continue
		}
		if _, ok := idByID[m.MediaID]; !ok {
			missing = append(missing, m.MediaID)
		}
	}
	var hydrated map[store.MediaID]*store.MediaRecord
	if len(missing) > 0 {
		recs, err := e.haystack.ByIDs(ctx, missing)
		if err != nil {
			slog.Warn("search: candidate hydration failed", slog.String("error", err.Error()))
		} else {
			hydrated = make(map[store.MediaID]*store.MediaRecord, len(recs))
			for _, r := range recs {
				hydrated[r.ID] = r
			}
		}
	}

	members := make([]store.GroupMember, 0, len(matches)+1)
	members = append(members, store.GroupMember{Record: needle})

	for _, m := range matches {
		if params.FilterSelf && m.MediaID == needle.ID {
			continue
		}
		rec, ok := idByID[m.MediaID]
		if !ok {
			rec, ok = hydrated[m.MediaID]
		}
		if !ok {
			slog.Warn("search: stale index entry skipped", slog.Int("id", int(m.MediaID)))
			continue
		}
		members = append(members, store.GroupMember{Record: rec, Score: m.Score, Range: m.Range})
	}

	return &store.Group{Members: members}, nil
}

// matchFlags computes the cheap comparative facts a SimilarTo hit carries
// relative to the needle. FlagLessCompressed is never set: estimating jpeg
// quality requires decoding the image, and the image-decoding library is
// an external collaborator this subsystem never calls, so there is no
// owned way to compute it here.
func (e *Engine) matchFlags(needle, candidate *store.MediaRecord) store.MatchFlags {
	var flags store.MatchFlags
	if needle.MD5 != "" && needle.MD5 == candidate.MD5 {
		flags |= store.FlagExactMD5
	}
	if candidate.Width*candidate.Height > needle.Width*needle.Height {
		flags |= store.FlagBiggerDimensions
	}
	if e.root != "" {
		if needleSize, ok := e.fileSize(needle.RelPath); ok {
			if candSize, ok := e.fileSize(candidate.RelPath); ok && candSize > needleSize {
				flags |= store.FlagBiggerFile
			}
		}
	}
	return flags
}

// fileSize stats relPath under the engine's catalog root. A stat failure
// (archive member paths are not real files on disk, for instance) just
// means the bit stays unset, matching the per-item warning policy the
// search pipeline uses for every other data-dependent annotation.
func (e *Engine) fileSize(relPath string) (int64, bool) {
	info, err := os.Stat(filepath.Join(e.root, relPath))
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}
