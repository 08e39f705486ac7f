package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lolishinshi/imsearch-go/internal/ierrors"
)

// AddImage persists one image and its descriptor blobs atomically: the
// image row, its vector_stats row (seeded from the current cumulative
// total), and one row per descriptor in vector. Each vector row's own
// id is assigned sequentially starting at the prior cumulative count
// (spec §3's "global descriptor offset", satisfying I3); the id the
// IVF index later stores for that descriptor is its parent image's id
// instead (spec §4.4 step 2), assigned when the segment is built.
func (s *Store) AddImage(ctx context.Context, hash, path string, descriptors [][]byte) (Image, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Image{}, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevCumulative int64
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(cumulative_count), 0) FROM vector_stats`).Scan(&prevCumulative)
	if err != nil {
		return Image{}, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}

	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx, `INSERT INTO image (hash, path, added_at) VALUES (?, ?, ?)`, hash, path, now)
	if err != nil {
		if isUniqueConstraint(err) {
			return Image{}, ierrors.New(ierrors.ErrCodeDuplicateHash, "image hash already catalogued", err).WithDetail("hash", hash)
		}
		return Image{}, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	imageID, err := res.LastInsertId()
	if err != nil {
		return Image{}, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO image_path (image_id, path) VALUES (?, ?)`, imageID, path); err != nil {
		return Image{}, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}

	cumulative := prevCumulative
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO vector (id, image_id, blob) VALUES (?, ?, ?)`)
	if err != nil {
		return Image{}, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	defer stmt.Close()

	for _, desc := range descriptors {
		if _, err := stmt.ExecContext(ctx, cumulative, imageID, desc); err != nil {
			return Image{}, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
		}
		cumulative++
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO vector_stats (image_id, vector_count, cumulative_count, indexed) VALUES (?, ?, ?, 0)`,
		imageID, len(descriptors), cumulative,
	)
	if err != nil {
		return Image{}, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}

	if err := tx.Commit(); err != nil {
		return Image{}, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}

	return Image{ID: imageID, Hash: hash, Path: path, Paths: []string{path}, AddedAt: time.Unix(now, 0)}, nil
}

// UpsertImage implements the catalog's dedupe-by-hash contract (spec
// §4.2 upsert_image): if hash already exists, path is appended to the
// image's path set (duplicates suppressed) and the existing id is
// returned with inserted=false, unless overwrite is true, in which
// case the descriptor blob is replaced and the image is forced back to
// indexed=false so the next build re-adds it to the index. Otherwise a
// new image row is allocated and inserted=true.
func (s *Store) UpsertImage(ctx context.Context, hash, path string, descriptors [][]byte, overwrite bool) (Image, bool, error) {
	existing, err := s.findByHash(ctx, hash)
	if err != nil {
		return Image{}, false, err
	}
	if existing == nil {
		img, err := s.AddImage(ctx, hash, path, descriptors)
		return img, true, err
	}

	if overwrite {
		if err := s.replaceDescriptors(ctx, existing.ID, descriptors); err != nil {
			return Image{}, false, err
		}
	}
	if err := s.AppendPath(ctx, existing.ID, path); err != nil {
		return Image{}, false, err
	}

	img, err := s.ResolveImage(ctx, existing.ID)
	return img, false, err
}

// ImageIDForHash returns the id of the image catalogued under hash, or
// 0 if none exists.
func (s *Store) ImageIDForHash(ctx context.Context, hash string) (int64, error) {
	img, err := s.findByHash(ctx, hash)
	if err != nil {
		return 0, err
	}
	if img == nil {
		return 0, nil
	}
	return img.ID, nil
}

func (s *Store) findByHash(ctx context.Context, hash string) (*Image, error) {
	var img Image
	var addedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT id, hash, path, added_at FROM image WHERE hash = ?`, hash).
		Scan(&img.ID, &img.Hash, &img.Path, &addedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	img.AddedAt = time.Unix(addedAt, 0)
	return &img, nil
}

// AppendPath adds path to imageID's path set (spec §4.2: "duplicates
// suppressed"); a path already present is a silent no-op (P4: "paths-set
// grows by at most one").
func (s *Store) AppendPath(ctx context.Context, imageID int64, path string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO image_path (image_id, path) VALUES (?, ?) ON CONFLICT (image_id, path) DO NOTHING`,
		imageID, path,
	)
	return ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
}

// Paths returns the full ordered path set for an image (spec §3: "paths:
// non-empty ordered set").
func (s *Store) Paths(ctx context.Context, imageID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM image_path WHERE image_id = ? ORDER BY rowid ASC`, imageID)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// replaceDescriptors deletes an image's stored vector rows and
// reinserts descriptors, reusing the same id range as the original
// insert so cumulative_count bookkeeping stays monotone, then forces
// the image back to indexed=false (spec §4.2 "--overwrite ingest",
// I4). Run within its own transaction since it does not allocate a
// new image row.
func (s *Store) replaceDescriptors(ctx context.Context, imageID int64, descriptors [][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	defer func() { _ = tx.Rollback() }()

	var firstID int64
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MIN(id), 0) FROM vector WHERE image_id = ?`, imageID).Scan(&firstID)
	if err != nil {
		return ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	if firstID == 0 {
		err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(cumulative_count), 0) FROM vector_stats WHERE image_id != ?`, imageID).Scan(&firstID)
		if err != nil {
			return ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vector WHERE image_id = ?`, imageID); err != nil {
		return ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO vector (id, image_id, blob) VALUES (?, ?, ?)`)
	if err != nil {
		return ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	defer stmt.Close()

	cumulative := firstID
	for _, desc := range descriptors {
		if _, err := stmt.ExecContext(ctx, cumulative, imageID, desc); err != nil {
			return ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
		}
		cumulative++
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE vector_stats SET vector_count = ?, cumulative_count = ?, indexed = 0 WHERE image_id = ?`,
		len(descriptors), cumulative, imageID,
	)
	if err != nil {
		return ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}

	if err := tx.Commit(); err != nil {
		return ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	return nil
}

// UnindexedDescriptors returns every descriptor row of up to limit
// images not yet folded into a built segment (spec §4.4: each build
// consumes descriptors added since the last build). limit counts
// images, not rows, so one image's descriptors never span two
// segments; images with no descriptors are not counted.
func (s *Store) UnindexedDescriptors(ctx context.Context, limit int) ([]Descriptor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.image_id, v.blob
		FROM vector v
		WHERE v.image_id IN (
			SELECT image_id FROM vector_stats
			WHERE indexed = 0 AND vector_count > 0
			ORDER BY image_id ASC
			LIMIT ?
		)
		ORDER BY v.id ASC
	`, limit)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	defer rows.Close()

	var out []Descriptor
	for rows.Next() {
		var d Descriptor
		if err := rows.Scan(&d.ID, &d.ImageID, &d.Blob); err != nil {
			return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkIndexed flags the given image ids as folded into a built
// segment so a later build does not reprocess their descriptors.
func (s *Store) MarkIndexed(ctx context.Context, imageIDs []int64) error {
	if len(imageIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE vector_stats SET indexed = 1 WHERE image_id = ?`)
	if err != nil {
		return ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	defer stmt.Close()

	for _, id := range imageIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	return nil
}

// Resolve maps one of a descriptor's own storage ids (the vector
// table's own sequential id, spec §3's "global descriptor offset") back
// to its owning image. Search hit resolution no longer needs this: the
// IVF already stores the image id directly (spec §4.4 step 2); this
// remains for callers that only have a raw descriptor offset, e.g.
// inspecting vector_stats.cumulative_count ranges directly.
func (s *Store) Resolve(ctx context.Context, vectorID int64) (Image, error) {
	var img Image
	var addedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.hash, i.path, i.added_at
		FROM vector v
		JOIN image i ON i.id = v.image_id
		WHERE v.id = ?
	`, vectorID).Scan(&img.ID, &img.Hash, &img.Path, &addedAt)
	if err == sql.ErrNoRows {
		return Image{}, ierrors.New(ierrors.ErrCodeImageNotFound, "no image for vector id", err).
			WithDetail("vector_id", fmt.Sprintf("%d", vectorID))
	}
	if err != nil {
		return Image{}, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	img.AddedAt = time.Unix(addedAt, 0)
	paths, err := s.Paths(ctx, img.ID)
	if err != nil {
		return Image{}, err
	}
	img.Paths = paths
	return img, nil
}

// ResolveImage looks up a catalogued image by its id, used when
// hydrating aggregated search hits into full matches (spec §4.5).
func (s *Store) ResolveImage(ctx context.Context, imageID int64) (Image, error) {
	var img Image
	var addedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT id, hash, path, added_at FROM image WHERE id = ?`, imageID).
		Scan(&img.ID, &img.Hash, &img.Path, &addedAt)
	if err == sql.ErrNoRows {
		return Image{}, ierrors.New(ierrors.ErrCodeImageNotFound, "no image with that id", err).
			WithDetail("image_id", fmt.Sprintf("%d", imageID))
	}
	if err != nil {
		return Image{}, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	img.AddedAt = time.Unix(addedAt, 0)
	paths, err := s.Paths(ctx, img.ID)
	if err != nil {
		return Image{}, err
	}
	img.Paths = paths
	return img, nil
}

// CumulativeCount returns the total number of descriptors ever stored,
// i.e. the next vector id that will be assigned.
func (s *Store) CumulativeCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(cumulative_count), 0) FROM vector_stats`).Scan(&count)
	if err != nil {
		return 0, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	return count, nil
}

// SampleDescriptors returns up to limit descriptor blobs spread across
// the catalog, for training a coarse quantizer offline (spec §6 `train
// -c K -i N`, spec §3 "Training of the coarse quantizer is external").
// Sampling strides across the full id range rather than taking the
// first N rows so a training set spans the whole corpus instead of
// just the earliest-ingested images.
func (s *Store) SampleDescriptors(ctx context.Context, limit int) ([][]byte, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector`).Scan(&total); err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	if total == 0 {
		return nil, nil
	}

	stride := int64(1)
	if limit > 0 && int64(limit) < total {
		stride = total / int64(limit)
		if stride < 1 {
			stride = 1
		}
	}
	sqlLimit := int64(-1)
	if limit > 0 {
		sqlLimit = int64(limit)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT blob FROM (
			SELECT blob, ROW_NUMBER() OVER (ORDER BY id ASC) - 1 AS rn FROM vector
		) WHERE rn % ? = 0
		ORDER BY rn ASC
		LIMIT ?
	`, stride, sqlLimit)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
		}
		out = append(out, blob)
	}
	return out, rows.Err()
}

// ExportRecord is one row of the `export` subcommand's output: an
// image's catalog metadata joined with its indexing status.
type ExportRecord struct {
	ID          int64    `json:"id"`
	Hash        string   `json:"hash"`
	Paths       []string `json:"paths"`
	VectorCount int      `json:"vector_count"`
	Indexed     bool     `json:"indexed"`
}

// ExportAll streams every catalogued image's metadata in id order
// (spec §6 `export`), for offline backup/audit of the catalog
// independent of the opaque index files.
func (s *Store) ExportAll(ctx context.Context) ([]ExportRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.hash, COALESCE(vs.vector_count, 0), COALESCE(vs.indexed, 0)
		FROM image i
		LEFT JOIN vector_stats vs ON vs.image_id = i.id
		ORDER BY i.id ASC
	`)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	defer rows.Close()

	var out []ExportRecord
	for rows.Next() {
		var rec ExportRecord
		var indexed int
		if err := rows.Scan(&rec.ID, &rec.Hash, &rec.VectorCount, &indexed); err != nil {
			return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
		}
		rec.Indexed = indexed != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}

	for i := range out {
		paths, err := s.Paths(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Paths = paths
	}
	return out, nil
}

// ImageCount returns the number of catalogued images.
func (s *Store) ImageCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM image`).Scan(&count)
	if err != nil {
		return 0, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	return count, nil
}

// AllImageIDs returns every catalogued image id in ascending order. It
// backs the search engine's in-memory hot-path cache (spec §4.5: "the
// engine loads all image-ids into an in-memory sorted structure to
// avoid a database round-trip per hit resolution").
func (s *Store) AllImageIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM image ORDER BY id ASC`)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "constraint")
}
