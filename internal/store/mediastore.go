package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)
)

// MediaStore persists MediaRecords and serves the lookups the search
// pipeline and catalog façade need.
type MediaStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// OpenMediaStore opens (creating if absent) the record store at path, in
// WAL mode with a case-sensitive LIKE pragma and a bounded busy timeout.
func OpenMediaStore(path string, busyTimeoutMS int) (*MediaStore, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("media store: create directory: %w", err)
		}
	}

	dsn := ":memory:"
	if path != "" {
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", path, busyTimeoutMS)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("media store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`PRAGMA case_sensitive_like = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("media store: case_sensitive_like: %w", err)
	}

	s := &MediaStore{db: db, path: path}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MediaStore) createTables() error {
	const schema = `
CREATE TABLE IF NOT EXISTS media (
	id        INTEGER PRIMARY KEY NOT NULL,
	type      INTEGER NOT NULL,
	path      TEXT NOT NULL,
	width     INTEGER NOT NULL,
	height    INTEGER NOT NULL,
	md5       TEXT NOT NULL,
	phash_dct INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS media_path_idx ON media(path);
CREATE INDEX IF NOT EXISTS media_md5_idx ON media(md5);
CREATE INDEX IF NOT EXISTS media_type_idx ON media(type);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("media store: schema mismatch: %w", err)
	}
	return nil
}

// Path returns the underlying database file, or "" for an in-memory store.
func (s *MediaStore) Path() string {
	return s.path
}

// Close releases the underlying connection pool.
func (s *MediaStore) Close() error {
	return s.db.Close()
}

// NextID returns max(id)+1, read under the caller's write lock.
func (s *MediaStore) NextID(ctx context.Context) (MediaID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM media`).Scan(&max); err != nil {
		return 0, fmt.Errorf("media store: nextId: %w", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return MediaID(max.Int64) + 1, nil
}

func validRelPath(p string) bool {
	return p != "" && !strings.HasPrefix(p, "/") && !strings.Contains(p, "//")
}

// InsertBatch inserts every record within a single transaction. It fails
// atomically if any record's relPath collides with an existing one or
// violates the path invariants.
func (s *MediaStore) InsertBatch(ctx context.Context, records []*MediaRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if !validRelPath(r.RelPath) {
			return fmt.Errorf("%w: %q", ErrInvalidPath, r.RelPath)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("media store: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO media(id, type, path, width, height, md5, phash_dct) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("media store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Kind, r.RelPath, r.Width, r.Height, r.MD5, int64(r.DctHash)); err != nil {
			if isUniqueConstraint(err) {
				return fmt.Errorf("%w: %q", ErrPathCollision, r.RelPath)
			}
			return fmt.Errorf("media store: insert %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("media store: commit failed: %w", err)
	}
	return nil
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// Delete removes the given ids and returns the subset actually present.
func (s *MediaStore) Delete(ctx context.Context, ids []MediaID) ([]MediaID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("media store: begin: %w", err)
	}
	defer tx.Rollback()

	var deleted []MediaID
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM media WHERE id = ?`)
	if err != nil {
		return nil, fmt.Errorf("media store: prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("media store: delete %d: %w", id, err)
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			deleted = append(deleted, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("media store: commit failed: %w", err)
	}
	return deleted, nil
}

// SetMD5 updates a single record's content hash.
func (s *MediaStore) SetMD5(ctx context.Context, id MediaID, md5 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE media SET md5 = ? WHERE id = ?`, md5, id)
	if err != nil {
		return fmt.Errorf("media store: setMd5 %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PathUpdate is one (id, newRelPath) pair for UpdatePaths.
type PathUpdate struct {
	ID      MediaID
	NewPath string
}

// UpdatePaths applies every pair within a single transaction, rolling back
// on the first failure.
func (s *MediaStore) UpdatePaths(ctx context.Context, updates []PathUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		if !validRelPath(u.NewPath) {
			return fmt.Errorf("%w: %q", ErrInvalidPath, u.NewPath)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("media store: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE media SET path = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("media store: prepare update: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.NewPath, u.ID); err != nil {
			if isUniqueConstraint(err) {
				return fmt.Errorf("%w: %q", ErrPathCollision, u.NewPath)
			}
			return fmt.Errorf("media store: updatePaths %d: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("media store: commit failed: %w", err)
	}
	return nil
}

// UpdatePathsByPrefix renames every relPath under oldPrefix to sit under
// newPrefix instead, in a single transaction. A record is under the
// prefix when its path is the prefix itself (the moved archive file's
// own record) or continues it with a literal separator: '/' for a
// directory entry, ':' for an archive member. Requiring the separator
// keeps sibling paths that merely share the prefix as a string
// ("oldfile.jpg" next to "old/") untouched, and probing both separators
// handles a prefix that itself combines archive and subdir segments.
// '%', '_' and '\' in oldPrefix are escaped so they are not interpreted
// as LIKE meta-characters.
func (s *MediaStore) UpdatePathsByPrefix(ctx context.Context, oldPrefix, newPrefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	escaped := EscapeLike(oldPrefix)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path FROM media WHERE path = ? OR path LIKE ? ESCAPE '\' OR path LIKE ? ESCAPE '\' `,
		oldPrefix, escaped+"/%", escaped+":%")
	if err != nil {
		return 0, fmt.Errorf("media store: select prefix: %w", err)
	}
	type pair struct {
		id   MediaID
		path string
	}
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.id, &p.path); err != nil {
			rows.Close()
			return 0, fmt.Errorf("media store: scan prefix: %w", err)
		}
		pairs = append(pairs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("media store: iterate prefix: %w", err)
	}

	if len(pairs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("media store: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE media SET path = ? WHERE id = ?`)
	if err != nil {
		return 0, fmt.Errorf("media store: prepare prefix update: %w", err)
	}
	defer stmt.Close()

	for _, p := range pairs {
		newPath := newPrefix + strings.TrimPrefix(p.path, oldPrefix)
		if _, err := stmt.ExecContext(ctx, newPath, p.id); err != nil {
			return 0, fmt.Errorf("media store: moveDir %d: %w", p.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("media store: commit failed: %w", err)
	}
	return len(pairs), nil
}

// EscapeLike escapes '%', '_' and '\' for use inside a LIKE pattern with
// ESCAPE '\'. Exported so callers outside the store (e.g. the catalog
// façade reloading a moved prefix for the path index) can build the same
// pattern ByPathLike expects without duplicating the escaping rule.
func EscapeLike(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', '%', '_':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func scanRecord(row interface{ Scan(...any) error }) (*MediaRecord, error) {
	var r MediaRecord
	var dct int64
	if err := row.Scan(&r.ID, &r.Kind, &r.RelPath, &r.Width, &r.Height, &r.MD5, &dct); err != nil {
		return nil, err
	}
	r.DctHash = uint64(dct)
	return &r, nil
}

// ByID fetches a single record.
func (s *MediaStore) ByID(ctx context.Context, id MediaID) (*MediaRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, path, width, height, md5, phash_dct FROM media WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("media store: byId %d: %w", id, err)
	}
	return r, nil
}

// ByIDs fetches every record named, skipping ids that no longer exist.
func (s *MediaStore) ByIDs(ctx context.Context, ids []MediaID) ([]*MediaRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, path, width, height, md5, phash_dct FROM media WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("media store: byIds: %w", err)
	}
	defer rows.Close()

	var out []*MediaRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("media store: scan byIds: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ByPath fetches the record with the given exact relPath.
func (s *MediaStore) ByPath(ctx context.Context, relPath string) (*MediaRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, path, width, height, md5, phash_dct FROM media WHERE path = ?`, relPath)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("media store: byPath %q: %w", relPath, err)
	}
	return r, nil
}

// ByPathLike runs a case-sensitive glob query over relPath, honoring a
// backslash escape for literal '_' and '%' in pattern.
func (s *MediaStore) ByPathLike(ctx context.Context, pattern string) ([]*MediaRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, path, width, height, md5, phash_dct FROM media WHERE path LIKE ? ESCAPE '\' `, pattern)
	if err != nil {
		return nil, fmt.Errorf("media store: byPathLike: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// ByPathRegexp filters every record whose relPath matches re, evaluated in
// Go since SQLite has no native regex operator; case-sensitivity matches
// the store's LIKE regime.
func (s *MediaStore) ByPathRegexp(ctx context.Context, matches func(string) bool) ([]*MediaRecord, error) {
	all, err := s.AllPaths(ctx)
	if err != nil {
		return nil, err
	}
	var matched []MediaID
	for id, path := range all {
		if matches(path) {
			matched = append(matched, id)
		}
	}
	return s.ByIDs(ctx, matched)
}

// ByMD5 fetches every record sharing the given content hash.
func (s *MediaStore) ByMD5(ctx context.Context, md5 string) ([]*MediaRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, path, width, height, md5, phash_dct FROM media WHERE md5 = ?`, md5)
	if err != nil {
		return nil, fmt.Errorf("media store: byMd5: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// ByKind fetches every record matching the kind bitmask.
func (s *MediaStore) ByKind(ctx context.Context, mask Kind) ([]*MediaRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, path, width, height, md5, phash_dct FROM media WHERE (type & ?) != 0`, mask)
	if err != nil {
		return nil, fmt.Errorf("media store: byKind: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// Count returns the number of records matching the kind bitmask.
func (s *MediaStore) Count(ctx context.Context, mask Kind) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media WHERE (type & ?) != 0`, mask).Scan(&n); err != nil {
		return 0, fmt.Errorf("media store: count: %w", err)
	}
	return n, nil
}

// AllPaths returns every record's relPath keyed by id, for a caller doing
// its own filtering (e.g. regexp matching, MD5s, or an importer's
// modified-since scan).
func (s *MediaStore) AllPaths(ctx context.Context) (map[MediaID]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, path FROM media`)
	if err != nil {
		return nil, fmt.Errorf("media store: allPaths: %w", err)
	}
	defer rows.Close()

	out := make(map[MediaID]string)
	for rows.Next() {
		var id MediaID
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, fmt.Errorf("media store: scan allPaths: %w", err)
		}
		out[id] = path
	}
	return out, rows.Err()
}

// AllIDs returns every known media id, ascending.
func (s *MediaStore) AllIDs(ctx context.Context) ([]MediaID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM media ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("media store: allIds: %w", err)
	}
	defer rows.Close()
	var ids []MediaID
	for rows.Next() {
		var id MediaID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("media store: scan allIds: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanAll(rows *sql.Rows) ([]*MediaRecord, error) {
	var out []*MediaRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("media store: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Vacuum compacts on-disk storage. The caller must hold the catalog's
// write lock; this call does not acquire it itself.
func (s *MediaStore) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		slog.Error("media store vacuum failed", slog.String("error", err.Error()))
		return fmt.Errorf("media store: vacuum failed: %w", err)
	}
	return nil
}
