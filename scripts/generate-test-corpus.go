//go:build ignore

// Package main generates a synthetic media catalog for benchmarking Add,
// Similar, and DupsByMd5 at scale.
// Usage: go run scripts/generate-test-corpus.go -records 100000 -output testdata/bench/corpus.jsonl
package main

import (
	"bufio"
	"crypto/md5"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

var (
	numRecords   = flag.Int("records", 100000, "Number of media records to generate")
	outputPath   = flag.String("output", "testdata/bench/corpus.jsonl", "Output JSONL file")
	seed         = flag.Int64("seed", 42, "Random seed for reproducibility")
	dupFraction  = flag.Float64("dup-fraction", 0.05, "Fraction of records that are exact duplicates of an earlier one")
	nearFraction = flag.Float64("near-fraction", 0.1, "Fraction of records whose DCT hash is a few bit-flips from an earlier one")
)

// corpusRecord mirrors the shape internal/store.MediaRecord needs for a
// bulk Add, without importing the package: this tool runs standalone via
// `go run`, outside the module's own build.
type corpusRecord struct {
	Kind    string `json:"kind"`
	RelPath string `json:"rel_path"`
	MD5     string `json:"md5"`
	DctHash uint64 `json:"dct_hash"`
	SizeB   int64  `json:"size_bytes"`
}

var kinds = []string{"image", "video"}

var extByKind = map[string][]string{
	"image": {".jpg", ".png", ".webp"},
	"video": {".mp4", ".mkv", ".webm"},
}

var dirs = []string{
	"vacation/2019", "vacation/2021", "work/screenshots", "family/reunion",
	"downloads", "camera-roll", "archive/old-phone", "projects/logo-drafts",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(filepath.Dir(*outputPath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output directory: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Create(*outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating output file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()
	enc := json.NewEncoder(w)

	var seen []corpusRecord
	for i := 0; i < *numRecords; i++ {
		var rec corpusRecord
		switch {
		case len(seen) > 0 && rng.Float64() < *dupFraction:
			rec = duplicateOf(seen[rng.Intn(len(seen))], i)
		case len(seen) > 0 && rng.Float64() < *nearFraction:
			rec = nearDuplicateOf(seen[rng.Intn(len(seen))], i, rng)
		default:
			rec = freshRecord(i, rng)
		}
		if err := enc.Encode(rec); err != nil {
			fmt.Fprintf(os.Stderr, "error encoding record %d: %v\n", i, err)
			os.Exit(1)
		}
		seen = append(seen, rec)
	}

	fmt.Printf("generated %d records (%.0f%% exact dup, %.0f%% near dup) into %s\n",
		*numRecords, *dupFraction*100, *nearFraction*100, *outputPath)
}

func freshRecord(i int, rng *rand.Rand) corpusRecord {
	kind := kinds[rng.Intn(len(kinds))]
	dir := dirs[rng.Intn(len(dirs))]
	ext := extByKind[kind][rng.Intn(len(extByKind[kind]))]
	relPath := fmt.Sprintf("%s/img_%06d%s", dir, i, ext)

	sum := md5.Sum([]byte(relPath))
	return corpusRecord{
		Kind:    kind,
		RelPath: relPath,
		MD5:     fmt.Sprintf("%x", sum),
		DctHash: rng.Uint64(),
		SizeB:   int64(rng.Intn(20_000_000) + 1024),
	}
}

func duplicateOf(src corpusRecord, i int) corpusRecord {
	dup := src
	dup.RelPath = fmt.Sprintf("%s.dup%06d%s", trimExt(src.RelPath), i, filepath.Ext(src.RelPath))
	return dup
}

func nearDuplicateOf(src corpusRecord, i int, rng *rand.Rand) corpusRecord {
	near := src
	near.RelPath = fmt.Sprintf("%s.near%06d%s", trimExt(src.RelPath), i, filepath.Ext(src.RelPath))
	near.MD5 = fmt.Sprintf("%x", md5.Sum([]byte(near.RelPath)))
	// flip a handful of bits so it lands within the default Hamming threshold.
	for n := 0; n < 1+rng.Intn(3); n++ {
		near.DctHash ^= 1 << uint(rng.Intn(64))
	}
	return near
}

func trimExt(p string) string {
	return p[:len(p)-len(filepath.Ext(p))]
}
