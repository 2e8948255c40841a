package index

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	_ "modernc.org/sqlite"

	"github.com/nightshadow92/cbird/internal/fingerprint"
	"github.com/nightshadow92/cbird/internal/store"
)

// ColorIndexConfig controls the optional HNSW acceleration path.
type ColorIndexConfig struct {
	// HNSWEnabled turns on the accelerated path once the haystack grows
	// past HNSWThreshold entries.
	HNSWEnabled   bool
	HNSWThreshold int
}

// ColorIndex does a brute-force scan of weighted-color descriptors by
// default. When configured with HNSW enabled and the catalog has grown
// past the threshold, find first narrows the haystack through an
// approximate-nearest-neighbor graph keyed directly by media id (cast to
// uint64, per the domain stack note — no string<->uint64 id map needed
// since MediaID already is an unsigned integer), then applies the exact
// weighted-color distance to that narrowed set. It falls back to a full
// brute-force scan whenever the accelerator is absent, stale, or returns
// an empty set.
type ColorIndex struct {
	mu     sync.RWMutex
	cfg    ColorIndexConfig
	descs  map[store.MediaID]fingerprint.ColorDescriptor
	graph  *hnsw.Graph[uint64]
	loaded bool
}

var _ Index = (*ColorIndex)(nil)

// NewColorIndex constructs an unloaded index. cfg.HNSWThreshold defaults
// to 100000 when zero.
func NewColorIndex(cfg ColorIndexConfig) *ColorIndex {
	if cfg.HNSWThreshold == 0 {
		cfg.HNSWThreshold = 100000
	}
	return &ColorIndex{cfg: cfg, descs: make(map[store.MediaID]fingerprint.ColorDescriptor)}
}

func (x *ColorIndex) DatabaseID() int { return int(AlgoColor) }
func (x *ColorIndex) ID() Algo        { return AlgoColor }
func (x *ColorIndex) IsLoaded() bool  { x.mu.RLock(); defer x.mu.RUnlock(); return x.loaded }
func (x *ColorIndex) Count() int      { x.mu.RLock(); defer x.mu.RUnlock(); return len(x.descs) }

func (x *ColorIndex) dbPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("algo%d.db", AlgoColor))
}

func (x *ColorIndex) openDB(dir string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", x.dbPath(dir)+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("color index: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (x *ColorIndex) CreateTables(dir string) error {
	db, err := x.openDB(dir)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS color_desc (id INTEGER PRIMARY KEY NOT NULL, descriptor BLOB NOT NULL)`)
	if err != nil {
		return fmt.Errorf("color index: schema mismatch: %w", err)
	}
	return nil
}

func encodeDescriptor(d fingerprint.ColorDescriptor) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeDescriptor(data []byte) (fingerprint.ColorDescriptor, error) {
	var d fingerprint.ColorDescriptor
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&d); err != nil {
		return d, err
	}
	return d, nil
}

func (x *ColorIndex) Load(dir, _ string) error {
	db, err := x.openDB(dir)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT id, descriptor FROM color_desc`)
	if err != nil {
		return fmt.Errorf("color index: load: %w", err)
	}
	defer rows.Close()

	x.mu.Lock()
	defer x.mu.Unlock()

	for rows.Next() {
		var id uint32
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("color index: scan: %w", err)
		}
		desc, err := decodeDescriptor(blob)
		if err != nil {
			slog.Warn("color index: skipping corrupt descriptor", slog.Int("id", int(id)), slog.String("error", err.Error()))
			continue
		}
		x.descs[store.MediaID(id)] = desc
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("color index: iterate: %w", err)
	}

	x.rebuildGraphLocked()
	x.loaded = true
	return nil
}

func (x *ColorIndex) Save(dir string) error {
	db, err := x.openDB(dir)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("color index: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM color_desc`); err != nil {
		return fmt.Errorf("color index: clear: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO color_desc(id, descriptor) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("color index: prepare: %w", err)
	}
	defer stmt.Close()

	x.mu.RLock()
	defer x.mu.RUnlock()
	for id, desc := range x.descs {
		blob, err := encodeDescriptor(desc)
		if err != nil {
			return fmt.Errorf("color index: encode %d: %w", id, err)
		}
		if _, err := stmt.Exec(id, blob); err != nil {
			return fmt.Errorf("color index: insert %d: %w", id, err)
		}
	}

	return tx.Commit()
}

func (x *ColorIndex) AddRecords(dir string, records []*store.MediaRecord) error {
	db, err := x.openDB(dir)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("color index: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO color_desc(id, descriptor) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("color index: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.Color == nil {
			continue
		}
		blob, err := encodeDescriptor(*r.Color)
		if err != nil {
			return fmt.Errorf("color index: encode %d: %w", r.ID, err)
		}
		if _, err := stmt.Exec(r.ID, blob); err != nil {
			return fmt.Errorf("color index: insert %d: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (x *ColorIndex) RemoveRecords(dir string, ids []store.MediaID) error {
	db, err := x.openDB(dir)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("color index: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`DELETE FROM color_desc WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("color index: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("color index: delete %d: %w", id, err)
		}
	}
	return tx.Commit()
}

func (x *ColorIndex) Add(records []*store.MediaRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, r := range records {
		if r.Color == nil {
			continue
		}
		x.descs[r.ID] = *r.Color
	}
	x.maybeBuildGraphLocked()
	return nil
}

func (x *ColorIndex) Remove(ids []store.MediaID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		delete(x.descs, id)
	}
	x.maybeBuildGraphLocked()
	return nil
}

// maybeBuildGraphLocked (re)builds the HNSW accelerator once the haystack
// crosses cfg.HNSWThreshold. Below the threshold the graph stays nil and
// Find always falls back to brute force.
func (x *ColorIndex) maybeBuildGraphLocked() {
	if !x.cfg.HNSWEnabled {
		return
	}
	if len(x.descs) < x.cfg.HNSWThreshold {
		x.graph = nil
		return
	}
	x.rebuildGraphLocked()
}

func (x *ColorIndex) rebuildGraphLocked() {
	if !x.cfg.HNSWEnabled || len(x.descs) < x.cfg.HNSWThreshold {
		x.graph = nil
		return
	}
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.EuclideanDistance
	for id, desc := range x.descs {
		vec := flattenDescriptor(desc)
		if vec == nil {
			continue
		}
		graph.Add(hnsw.MakeNode(uint64(id), vec))
	}
	x.graph = graph
}

// flattenDescriptor packs a color descriptor's colors and weights into one
// fixed-width vector (padded/truncated to fingerprint.MaxColors entries)
// so it can serve as an HNSW node value.
func flattenDescriptor(d fingerprint.ColorDescriptor) []float32 {
	vec := make([]float32, fingerprint.MaxColors*4)
	for i := 0; i < len(d.Colors) && i < fingerprint.MaxColors; i++ {
		vec[i*4+0] = float32(d.Colors[i][0])
		vec[i*4+1] = float32(d.Colors[i][1])
		vec[i*4+2] = float32(d.Colors[i][2])
		vec[i*4+3] = float32(d.Weights[i])
	}
	return vec
}

// Find scans (or, when the accelerator applies, narrows then scans)
// descriptors for the closest color matches to needle.
func (x *ColorIndex) Find(needle *store.MediaRecord, params store.SearchParams) ([]store.Match, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if needle.Color == nil {
		return nil, nil
	}

	candidateIDs := x.narrowViaHNSWLocked(*needle.Color)
	if candidateIDs == nil {
		for id := range x.descs {
			candidateIDs = append(candidateIDs, id)
		}
	}

	matches := make([]store.Match, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		desc, ok := x.descs[id]
		if !ok {
			continue
		}
		dist := fingerprint.ColorDistance(*needle.Color, desc)
		matches = append(matches, store.Match{MediaID: id, Score: int(dist * 1000)})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score < matches[j].Score })
	return matches, nil
}

// narrowViaHNSWLocked returns an approximate candidate set from the graph,
// or nil when the accelerator is absent, stale, or yields nothing — the
// caller then falls back to a full brute-force scan.
func (x *ColorIndex) narrowViaHNSWLocked(needle fingerprint.ColorDescriptor) []store.MediaID {
	if x.graph == nil || x.graph.Len() == 0 {
		return nil
	}
	vec := flattenDescriptor(needle)
	k := 256
	if k > x.graph.Len() {
		k = x.graph.Len()
	}
	nodes := x.graph.Search(vec, k)
	if len(nodes) == 0 {
		return nil
	}
	ids := make([]store.MediaID, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, store.MediaID(n.Key))
	}
	return ids
}

// Slice returns a restricted view whose Find only considers the given ids.
// The slice never rebuilds the HNSW graph; it always falls back to brute
// force over the narrowed descriptor set, which is small by construction.
func (x *ColorIndex) Slice(ids map[store.MediaID]struct{}) Index {
	x.mu.RLock()
	defer x.mu.RUnlock()

	sliced := NewColorIndex(ColorIndexConfig{}) // HNSW disabled: slices are small
	sliced.loaded = x.loaded
	for id := range ids {
		if desc, ok := x.descs[id]; ok {
			sliced.descs[id] = desc
		}
	}
	return sliced
}

func (x *ColorIndex) MemoryUsage() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	perEntry := int64(fingerprint.MaxColors * (3 + 1) * 8)
	return perEntry * int64(len(x.descs))
}
