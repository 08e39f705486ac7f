// Package catalog is the persistence layer for image metadata and raw
// descriptors (spec §2 C2, §4.2). It wraps a WAL-mode SQLite database
// opened through modernc.org/sqlite (pure Go, no CGO), mirroring the
// teacher's internal/store SQLite usage.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/lolishinshi/imsearch-go/internal/ierrors"
)

// Store is the catalog database: image metadata, per-image descriptor
// blobs, and each image's running descriptor count (cumulative_count).
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the catalog database at path.
// An empty path opens an in-memory database, used by tests.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, fmt.Errorf("open %s: %w", path, err))
	}

	// Single writer, the way the teacher's SQLiteBM25Index serializes
	// writes through one connection under WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, fmt.Errorf("pragma %q: %w", p, err))
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS image (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		hash    TEXT NOT NULL UNIQUE,
		path    TEXT NOT NULL,
		added_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vector_stats (
		image_id         INTEGER PRIMARY KEY REFERENCES image(id) ON DELETE CASCADE,
		vector_count     INTEGER NOT NULL,
		cumulative_count INTEGER NOT NULL,
		indexed          INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS vector (
		id       INTEGER PRIMARY KEY,
		image_id INTEGER NOT NULL REFERENCES image(id) ON DELETE CASCADE,
		blob     BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS image_path (
		image_id INTEGER NOT NULL REFERENCES image(id) ON DELETE CASCADE,
		path     TEXT NOT NULL,
		PRIMARY KEY (image_id, path)
	);

	CREATE INDEX IF NOT EXISTS idx_vector_stats_cumulative ON vector_stats(cumulative_count);
	CREATE INDEX IF NOT EXISTS idx_vector_stats_indexed ON vector_stats(indexed);
	CREATE INDEX IF NOT EXISTS idx_vector_image_id ON vector(image_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return ierrors.Wrap(ierrors.ErrCodeCatalogIO, fmt.Errorf("init schema: %w", err))
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Exists reports whether an image with the given content hash is
// already catalogued (spec §4.2 dedupe-by-hash).
func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM image WHERE hash = ?`, hash).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	return true, nil
}
