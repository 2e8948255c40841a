// Package index implements the pluggable family of similarity indices
// built over the record store, plus the cross-store consistency checker
// the catalog's vacuum operation relies on.
package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nightshadow92/cbird/internal/store"
)

// Algo identifies a concrete index implementation.
type Algo int

const (
	AlgoDctImage Algo = 1
	AlgoColor    Algo = 2
	AlgoVideo    Algo = 3
)

func (a Algo) String() string {
	switch a {
	case AlgoDctImage:
		return "dct-image"
	case AlgoColor:
		return "color"
	case AlgoVideo:
		return "video"
	default:
		return fmt.Sprintf("algo(%d)", int(a))
	}
}

// Index is the capability set every concrete similarity index implements.
// Each index owns its durable store (a per-algo SQLite file named
// algo<id>.db under the index directory, matching the on-disk layout); the
// catalog never opens that file itself, it only tells the index where to
// live.
type Index interface {
	DatabaseID() int
	ID() Algo
	// CreateTables installs the index's own schema in dir.
	CreateTables(dir string) error
	// Load builds the in-memory structure from durable state. dataDir is
	// used by the video index for its sidecar directory.
	Load(dir, dataDir string) error
	// Save persists in-memory mutations back to dir.
	Save(dir string) error
	// AddRecords performs the durable insert only.
	AddRecords(dir string, records []*store.MediaRecord) error
	// Add performs the in-memory insert only.
	Add(records []*store.MediaRecord) error
	// RemoveRecords performs the durable delete only.
	RemoveRecords(dir string, ids []store.MediaID) error
	// Remove performs the in-memory delete only.
	Remove(ids []store.MediaID) error
	Find(needle *store.MediaRecord, params store.SearchParams) ([]store.Match, error)
	Slice(ids map[store.MediaID]struct{}) Index // nil means "unsupported; search the full index"
	MemoryUsage() int64
	IsLoaded() bool
	Count() int
}

// Constructor builds a fresh, unloaded index instance.
type Constructor func() Index

// Registry resolves an Algo to a Constructor. Registering a duplicate
// algo-id is a programmer error caught at registration time;
// resolving an unknown algo-id at query time is a fatal façade error.
type Registry struct {
	mu           sync.RWMutex
	constructors map[Algo]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[Algo]Constructor)}
}

// Register associates algo with a constructor. It panics if algo is
// already registered, since this is always a coding error, never a
// runtime condition.
func (r *Registry) Register(algo Algo, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[algo]; exists {
		panic(fmt.Sprintf("index: algo %s already registered", algo))
	}
	r.constructors[algo] = ctor
}

// New constructs a fresh index for algo, or an error if algo is unknown.
func (r *Registry) New(algo Algo) (Index, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[algo]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("index: unknown algo id %s", algo)
	}
	return ctor(), nil
}

// Algos lists every registered algo id, in ascending order. The catalog
// façade uses this to fan a durable write out to every index family
// member regardless of whether that member has been loaded into memory
// yet (loading is lazy; durable writes are not).
func (r *Registry) Algos() []Algo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	algos := make([]Algo, 0, len(r.constructors))
	for algo := range r.constructors {
		algos = append(algos, algo)
	}
	sort.Slice(algos, func(i, j int) bool { return algos[i] < algos[j] })
	return algos
}

// NewDefaultRegistry registers the built-in DctImage, Color and Video
// indices under their canonical algo ids.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(AlgoDctImage, func() Index { return NewDctImageIndex(DefaultPartitionBits) })
	r.Register(AlgoColor, func() Index { return NewColorIndex(ColorIndexConfig{}) })
	r.Register(AlgoVideo, func() Index { return NewVideoIndex() })
	return r
}
