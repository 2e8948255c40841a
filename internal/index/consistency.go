package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/nightshadow92/cbird/internal/store"
)

// InconsistencyType categorizes a detected vacuum-time issue.
type InconsistencyType int

const (
	// InconsistencyOrphanIndexEntry indicates an index entry referencing
	// an id the record store no longer has.
	InconsistencyOrphanIndexEntry InconsistencyType = iota
	// InconsistencyOrphanSidecar indicates a video sidecar file with no
	// matching record.
	InconsistencyOrphanSidecar
	// InconsistencyMissingSidecar indicates a video record whose sidecar
	// file is absent even though the video index reports it loaded.
	InconsistencyMissingSidecar
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanIndexEntry:
		return "orphan_index_entry"
	case InconsistencyOrphanSidecar:
		return "orphan_sidecar"
	case InconsistencyMissingSidecar:
		return "missing_sidecar"
	default:
		return "unknown"
	}
}

// Inconsistency represents one detected cross-store issue.
type Inconsistency struct {
	Type    InconsistencyType
	MediaID store.MediaID
	Algo    Algo
	Details string
}

// CheckResult is the outcome of a consistency sweep.
type CheckResult struct {
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// ConsistencyChecker validates the record store against every loaded
// index and the video sidecar store, the work vacuum performs before
// compacting storage.
type ConsistencyChecker struct {
	media   *store.MediaStore
	indices []Index
	videos  *store.VideoStore
}

// NewConsistencyChecker builds a checker over the given stores.
func NewConsistencyChecker(media *store.MediaStore, indices []Index, videos *store.VideoStore) *ConsistencyChecker {
	return &ConsistencyChecker{media: media, indices: indices, videos: videos}
}

// Check scans the record store's id set against every loaded index's
// in-memory id set and the sidecar directory, in O(n) where n is the
// number of records plus index entries plus sidecar files.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	recordIDs, err := c.media.AllIDs(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[store.MediaID]struct{}, len(recordIDs))
	for _, id := range recordIDs {
		known[id] = struct{}{}
	}

	// index entries referencing ids the record store no longer has.
	for _, idx := range c.indices {
		if !idx.IsLoaded() {
			continue
		}
		for _, id := range indexKnownIDs(idx) {
			if _, ok := known[id]; !ok {
				issues = append(issues, Inconsistency{
					Type:    InconsistencyOrphanIndexEntry,
					MediaID: id,
					Algo:    idx.ID(),
					Details: "index entry references an id the record store no longer has",
				})
			}
		}
	}

	// video sidecars with no matching record.
	if c.videos != nil {
		sidecarIDs, err := c.videos.IDs()
		if err != nil {
			slog.Warn("consistency check: failed to list video sidecars", slog.String("error", err.Error()))
		} else {
			for _, id := range sidecarIDs {
				if _, ok := known[id]; !ok {
					issues = append(issues, Inconsistency{
						Type:    InconsistencyOrphanSidecar,
						MediaID: id,
						Details: "video sidecar file has no matching record",
					})
				}
			}
		}
	}

	return &CheckResult{Checked: len(recordIDs), Inconsistencies: issues, Duration: time.Since(start)}, nil
}

// indexKnownIDs lists the ids an index holds in memory; only concrete
// index types expose this via Slice/Count today, so we fall back to a
// type switch rather than widening the public Index capability set for a
// maintenance-only operation.
func indexKnownIDs(idx Index) []store.MediaID {
	switch v := idx.(type) {
	case *DctImageIndex:
		v.mu.RLock()
		defer v.mu.RUnlock()
		ids := make([]store.MediaID, 0, len(v.hashes))
		for id := range v.hashes {
			ids = append(ids, id)
		}
		return ids
	case *ColorIndex:
		v.mu.RLock()
		defer v.mu.RUnlock()
		ids := make([]store.MediaID, 0, len(v.descs))
		for id := range v.descs {
			ids = append(ids, id)
		}
		return ids
	case *VideoIndex:
		v.mu.RLock()
		defer v.mu.RUnlock()
		ids := make([]store.MediaID, 0, len(v.ids))
		for id := range v.ids {
			ids = append(ids, id)
		}
		return ids
	default:
		return nil
	}
}

// Repair drops orphaned index entries from their owning index's durable
// store and deletes orphaned sidecar files. Missing-sidecar issues are
// logged only: they require a re-index to fix, which is out of the
// catalog's own scope.
func (c *ConsistencyChecker) Repair(dir string, issues []Inconsistency) error {
	byAlgo := make(map[Algo][]store.MediaID)
	var orphanSidecars []store.MediaID

	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanIndexEntry:
			byAlgo[issue.Algo] = append(byAlgo[issue.Algo], issue.MediaID)
		case InconsistencyOrphanSidecar:
			orphanSidecars = append(orphanSidecars, issue.MediaID)
		case InconsistencyMissingSidecar:
			slog.Warn("video record is missing its sidecar file; re-index to repair", slog.Int("id", int(issue.MediaID)))
		}
	}

	for _, idx := range c.indices {
		ids := byAlgo[idx.ID()]
		if len(ids) == 0 {
			continue
		}
		if err := idx.RemoveRecords(dir, ids); err != nil {
			slog.Warn("failed to drop orphan index entries", slog.String("algo", idx.ID().String()), slog.String("error", err.Error()))
			continue
		}
		if err := idx.Remove(ids); err != nil {
			slog.Warn("failed to drop orphan in-memory entries", slog.String("algo", idx.ID().String()), slog.String("error", err.Error()))
		}
		slog.Info("vacuum: dropped orphan index entries", slog.String("algo", idx.ID().String()), slog.Int("count", len(ids)))
	}

	if c.videos != nil {
		for _, id := range orphanSidecars {
			if err := c.videos.Delete(id); err != nil {
				slog.Warn("failed to delete orphan sidecar", slog.Int("id", int(id)), slog.String("error", err.Error()))
			}
		}
		if len(orphanSidecars) > 0 {
			slog.Info("vacuum: deleted orphan video sidecars", slog.Int("count", len(orphanSidecars)))
		}
	}

	return nil
}
