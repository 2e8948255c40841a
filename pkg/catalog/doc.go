// Package catalog is the public boundary a host application — a CLI, an
// import job, or a network service — programs against. It re-exports the
// record, group, and search-parameter types from internal/store and
// wraps internal/catalog.Catalog with the same method names the design
// document uses: Open/Close/Count/MediaWithID/MediaWithPath/Add/Remove/
// Move/Rename/MoveDir/Vacuum, Similar/SimilarTo/DupsByMD5, and
// AddNegativeMatch/IsNegativeMatch.
//
// # Usage
//
//	cfg := catalog.NewConfig()
//	cfg.Root.Path = "/photos"
//
//	cat, err := catalog.Open(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cat.Close()
//
//	ids, err := cat.Add(ctx, []*catalog.MediaRecord{
//	    {Kind: catalog.KindImage, RelPath: "a.jpg", MD5: "...", DctHash: h},
//	})
//
//	groups, err := cat.Similar(ctx, catalog.DefaultSearchParams())
//
// # Thread safety
//
// Catalog is safe for concurrent use: search operations run as readers
// under an internal reader/writer lock, mutating operations as the
// single writer, and a second process over the same root is kept out by
// a cross-process advisory lock file.
package catalog
