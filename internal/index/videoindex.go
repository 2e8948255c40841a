package index

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/nightshadow92/cbird/internal/fingerprint"
	"github.com/nightshadow92/cbird/internal/store"
)

// VideoIndex matches a needle's per-frame hash sequence against every
// candidate's sidecar, reporting the longest run of temporally consecutive
// matching frames.
type VideoIndex struct {
	mu     sync.RWMutex
	ids    map[store.MediaID]struct{} // durable knowledge of which ids have a sidecar
	videos *store.VideoStore
	loaded bool
}

var _ Index = (*VideoIndex)(nil)

// NewVideoIndex constructs an unloaded index.
func NewVideoIndex() *VideoIndex {
	return &VideoIndex{ids: make(map[store.MediaID]struct{})}
}

func (x *VideoIndex) DatabaseID() int { return int(AlgoVideo) }
func (x *VideoIndex) ID() Algo        { return AlgoVideo }
func (x *VideoIndex) IsLoaded() bool  { x.mu.RLock(); defer x.mu.RUnlock(); return x.loaded }
func (x *VideoIndex) Count() int      { x.mu.RLock(); defer x.mu.RUnlock(); return len(x.ids) }

func (x *VideoIndex) dbPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("algo%d.db", AlgoVideo))
}

func (x *VideoIndex) openDB(dir string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", x.dbPath(dir)+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("video index: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (x *VideoIndex) CreateTables(dir string) error {
	db, err := x.openDB(dir)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS video_ids (id INTEGER PRIMARY KEY NOT NULL)`)
	if err != nil {
		return fmt.Errorf("video index: schema mismatch: %w", err)
	}
	return nil
}

// Load reads the set of known video ids from the durable table and opens
// the sidecar directory for on-demand frame-hash reads.
func (x *VideoIndex) Load(dir, dataDir string) error {
	db, err := x.openDB(dir)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT id FROM video_ids`)
	if err != nil {
		return fmt.Errorf("video index: load: %w", err)
	}
	defer rows.Close()

	x.mu.Lock()
	defer x.mu.Unlock()

	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("video index: scan: %w", err)
		}
		x.ids[store.MediaID(id)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("video index: iterate: %w", err)
	}

	videos, err := store.NewVideoStore(dataDir)
	if err != nil {
		return fmt.Errorf("video index: open sidecar dir: %w", err)
	}
	x.videos = videos
	x.loaded = true
	return nil
}

// Save is a no-op: the durable id set is maintained incrementally by
// AddRecords/RemoveRecords, and the sidecar files are written through
// store.VideoStore, not buffered in memory here (the catalog's Add does
// not write them).
func (x *VideoIndex) Save(dir string) error { return nil }

func (x *VideoIndex) AddRecords(dir string, records []*store.MediaRecord) error {
	db, err := x.openDB(dir)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("video index: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO video_ids(id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("video index: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if !r.Kind.Has(store.KindVideo) {
			continue
		}
		if _, err := stmt.Exec(r.ID); err != nil {
			return fmt.Errorf("video index: insert %d: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (x *VideoIndex) RemoveRecords(dir string, ids []store.MediaID) error {
	db, err := x.openDB(dir)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("video index: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`DELETE FROM video_ids WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("video index: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("video index: delete %d: %w", id, err)
		}
	}
	return tx.Commit()
}

func (x *VideoIndex) Add(records []*store.MediaRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, r := range records {
		if r.Kind.Has(store.KindVideo) {
			x.ids[r.ID] = struct{}{}
		}
	}
	return nil
}

func (x *VideoIndex) Remove(ids []store.MediaID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		delete(x.ids, id)
	}
	return nil
}

// Find matches needle against every known video. If needle is itself a
// video with a frame-hash sequence, it computes the longest run of
// temporally consecutive matching frames per candidate. If needle is an
// image, it returns the best individual frame hit per video.
func (x *VideoIndex) Find(needle *store.MediaRecord, params store.SearchParams) ([]store.Match, error) {
	x.mu.RLock()
	ids := make([]store.MediaID, 0, len(x.ids))
	for id := range x.ids {
		ids = append(ids, id)
	}
	videos := x.videos
	x.mu.RUnlock()

	if videos == nil {
		return nil, nil
	}

	var needleFrames []store.FrameHash
	if needle.Kind.Has(store.KindVideo) {
		fp, err := videos.Load(needle.ID)
		if err == nil {
			needleFrames = fp.Frames
		}
	} else {
		needleFrames = []store.FrameHash{{Hash: needle.DctHash, FrameNo: 0}}
	}
	if len(needleFrames) == 0 {
		return nil, nil
	}

	matches := make([]store.Match, 0, len(ids))
	for _, id := range ids {
		if id == needle.ID {
			continue
		}
		candidate, err := videos.Load(id)
		if err != nil || len(candidate.Frames) == 0 {
			continue
		}

		if needle.Kind.Has(store.KindVideo) {
			rng, dist := longestMatchingRun(needleFrames, candidate.Frames, params.DctThresh)
			if rng.Len > 0 {
				matches = append(matches, store.Match{MediaID: id, Score: dist, Range: rng})
			}
		} else {
			best, dist := bestFrameHit(needleFrames[0].Hash, candidate.Frames, params.DctThresh)
			if best != nil {
				matches = append(matches, store.Match{
					MediaID: id,
					Score:   dist,
					Range:   store.MatchRange{SrcIn: 0, DstIn: int(best.FrameNo), Len: 1},
				})
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score < matches[j].Score })
	return matches, nil
}

// longestMatchingRun finds the longest run of consecutive (src[i], dst[i+k])
// frame pairs whose Hamming distance is within thresh, scanning every
// relative offset k between the two sequences. Returns the run and the
// average distance across it.
func longestMatchingRun(src, dst []store.FrameHash, thresh int) (store.MatchRange, int) {
	bestLen := 0
	var bestRange store.MatchRange
	bestDistSum := 0

	for offset := -len(dst) + 1; offset < len(src); offset++ {
		runStart := -1
		runDistSum := 0
		flush := func(end int) {
			length := end - runStart
			if length > bestLen {
				bestLen = length
				bestDistSum = runDistSum
				bestRange = store.MatchRange{
					SrcIn: int(src[runStart].FrameNo),
					DstIn: int(dst[runStart-offset].FrameNo),
					Len:   length,
				}
			}
		}

		for i := 0; i < len(src); i++ {
			j := i - offset
			matched := false
			if j >= 0 && j < len(dst) {
				d := fingerprint.Hamming(src[i].Hash, dst[j].Hash)
				if d <= thresh {
					matched = true
					if runStart < 0 {
						runStart = i
						runDistSum = 0
					}
					runDistSum += d
				}
			}
			if !matched && runStart >= 0 {
				flush(i)
				runStart = -1
			}
		}
		if runStart >= 0 {
			flush(len(src))
		}
	}

	avgDist := 0
	if bestLen > 0 {
		avgDist = bestDistSum / bestLen
	}
	return bestRange, avgDist
}

func bestFrameHit(needle uint64, frames []store.FrameHash, thresh int) (*store.FrameHash, int) {
	var best *store.FrameHash
	bestDist := thresh + 1
	for i := range frames {
		d := fingerprint.Hamming(needle, frames[i].Hash)
		if d <= thresh && d < bestDist {
			bestDist = d
			best = &frames[i]
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestDist
}

// Slice returns a restricted view whose Find only considers the given ids.
func (x *VideoIndex) Slice(ids map[store.MediaID]struct{}) Index {
	x.mu.RLock()
	defer x.mu.RUnlock()

	sliced := NewVideoIndex()
	sliced.loaded = x.loaded
	sliced.videos = x.videos
	for id := range ids {
		if _, ok := x.ids[id]; ok {
			sliced.ids[id] = struct{}{}
		}
	}
	return sliced
}

func (x *VideoIndex) MemoryUsage() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return int64(len(x.ids)) * 4
}
