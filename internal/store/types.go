// Package store provides the durable media record store, the video
// fingerprint sidecar store, and the negative-match store backing the
// catalog.
package store

import (
	"fmt"

	"github.com/nightshadow92/cbird/internal/fingerprint"
)

// Kind enumerates the media types a record can represent. Queries carry
// a bitmask of Kind so a single search may target several kinds at once.
type Kind uint8

const (
	KindImage Kind = 1 << iota
	KindVideo
	KindAudio // reserved; not yet produced by any importer
)

// KindAll matches every known kind.
const KindAll = KindImage | KindVideo | KindAudio

// Has reports whether mask includes k.
func (k Kind) Has(mask Kind) bool {
	return mask&k != 0
}

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MediaID identifies a record within a catalog. 0 is reserved as "no id".
type MediaID uint32

// MediaRecord is the durable unit the catalog stores per cataloged file.
type MediaRecord struct {
	ID      MediaID
	Kind    Kind
	RelPath string // relative to the catalog root; unique; no "//"
	Width   int
	Height  int
	MD5     string // lowercase hex
	DctHash uint64 // perceptual hash; 0 means "not computed"

	// Derived attributes: not persisted by the record store, loaded or
	// computed on demand by the fingerprint package.
	Color    *fingerprint.ColorDescriptor
	Duration float64 // seconds, video only
	FPS      float64 // video only
}

// ErrNotFound is returned by lookup operations that find no matching record.
var ErrNotFound = fmt.Errorf("media: record not found")

// ErrPathCollision is returned by insertBatch/updatePaths when a relPath
// would no longer be unique.
var ErrPathCollision = fmt.Errorf("media: relPath already in use")

// ErrInvalidPath is returned for a relPath violating the store's invariants
// (empty, contains "//", or begins with "/").
var ErrInvalidPath = fmt.Errorf("media: invalid relPath")

// MatchRange describes where two fingerprint sequences agree, used by the
// video index to report a temporal run of matching frames. For a non-video
// hit, Len is 1 and SrcIn/DstIn are both 0.
type MatchRange struct {
	SrcIn int // starting frame number in the needle
	DstIn int // starting frame number in the candidate
	Len   int // number of consecutive matching frames
}

// Match is one candidate hit returned by Index.Find, sorted ascending by
// Score (lower is better).
type Match struct {
	MediaID MediaID
	Score   int // Hamming distance, or a scaled color/video distance
	Range   MatchRange
}

// MatchFlags annotates a SimilarTo hit with cheap comparative facts about
// the candidate relative to the needle.
type MatchFlags uint8

const (
	FlagExactMD5 MatchFlags = 1 << iota
	FlagBiggerDimensions
	FlagLessCompressed
	FlagBiggerFile
)

// GroupMember is one element of a match Group: the needle (Index 0) or a
// scored hit.
type GroupMember struct {
	Record *MediaRecord
	Score  int
	Range  MatchRange
	Flags  MatchFlags
}

// Group is an ordered match: element 0 is the needle, the remainder are
// candidate hits, by convention of the search pipeline.
type Group struct {
	Members []GroupMember
}

// Needle returns the group's first member, or nil for an empty group.
func (g Group) Needle() *GroupMember {
	if len(g.Members) == 0 {
		return nil
	}
	return &g.Members[0]
}

// Hits returns every member after the needle.
func (g Group) Hits() []GroupMember {
	if len(g.Members) <= 1 {
		return nil
	}
	return g.Members[1:]
}

// SearchParams carries every recognized option threaded through a query.
type SearchParams struct {
	Algo             string
	QueryTypes       Kind
	InSet            bool
	Set              []MediaID
	DctThresh        int
	MaxMatches       int
	MinMatches       int
	FilterSelf       bool
	FilterParent     bool
	FilterGroups     bool
	MergeGroups      bool
	ExpandGroups     bool
	NegativeMatch    bool
	Path             string
	InPath           bool
	TemplateMatch    bool
	MirrorMask       uint64
	Verbose          bool
	ProgressInterval int
}

// DefaultSearchParams returns the catalog's baseline query configuration.
func DefaultSearchParams() SearchParams {
	return SearchParams{
		QueryTypes: KindAll,
		DctThresh:  8,
		MaxMatches: 50,
		MinMatches: 1,
		FilterSelf: true,
	}
}
