package ingest

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lolishinshi/imsearch-go/internal/catalog"
	"github.com/lolishinshi/imsearch-go/internal/extract"
	"github.com/lolishinshi/imsearch-go/internal/ierrors"
)

// Ingester walks a directory and persists every new image's
// descriptors to the catalog, fanning extraction out across a bounded
// worker pool the way the teacher's scanner channel-feeds a worker
// group (internal/scanner.Scan).
type Ingester struct {
	Catalog  *catalog.Store
	Pipeline *extract.Pipeline
	Workers  int
	Log      *slog.Logger

	// Overwrite forces a hash match's descriptors to be replaced and
	// the image reset to indexed=false (spec §4.2 "--overwrite").
	Overwrite bool
	// Replace normalizes a path before it is stored in the catalog
	// (spec §4.2 "replace rule"); nil leaves paths unmodified.
	Replace *ReplaceRule
	// HashAlgorithm selects the content-hash function (spec §3
	// "configurable algorithm (default BLAKE3)"); empty defaults to blake3.
	HashAlgorithm string
}

// New constructs an Ingester; workers <= 0 defaults to 4.
func New(store *catalog.Store, pipeline *extract.Pipeline, workers int, log *slog.Logger) *Ingester {
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingester{Catalog: store, Pipeline: pipeline, Workers: workers, Log: log}
}

// Run walks root for files with the given extensions and ingests
// each one. A per-file failure (decode error, duplicate hash, filtered
// by size) is recorded in Stats and does not abort the run; only a
// directory-walk or context error does.
func (ing *Ingester) Run(ctx context.Context, root string, extensions []string) (Stats, error) {
	paths, err := Walk(ctx, root, extensions)
	if err != nil {
		return Stats{}, err
	}

	var mu sync.Mutex
	stats := Stats{}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < ing.Workers; i++ {
		g.Go(func() error {
			for path := range paths {
				outcome := ing.ingestOne(gctx, path)
				mu.Lock()
				stats.Scanned++
				stats.BytesRead += outcome.bytesRead
				switch outcome.kind {
				case outcomeAdded:
					stats.Added++
					stats.DescriptorsExtracted += outcome.descriptors
				case outcomeSkipped:
					stats.Skipped++
					stats.Errors = append(stats.Errors, FileError{Path: path, Err: outcome.err.Error()})
				case outcomeFailed:
					stats.Failed++
					stats.Errors = append(stats.Errors, FileError{Path: path, Err: outcome.err.Error()})
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

type outcomeKind int

const (
	outcomeAdded outcomeKind = iota
	outcomeSkipped
	outcomeFailed
)

type outcome struct {
	kind        outcomeKind
	err         error
	bytesRead   int64
	descriptors int64
}

func (ing *Ingester) ingestOne(ctx context.Context, path string) outcome {
	return ing.ingestBytes(ctx, path, nil)
}

// AddBytes ingests one already-in-memory image (spec §4.6 POST /add),
// the HTTP-upload counterpart to the directory/archive walks Run and
// RunArchive drive. It returns whether the image was newly added
// (false for a skipped duplicate or an image the pipeline rejected as
// input, such as a decode failure or a size filter) and any hard failure.
func (ing *Ingester) AddBytes(ctx context.Context, name string, data []byte) (bool, error) {
	out := ing.ingestBytes(ctx, name, data)
	switch out.kind {
	case outcomeAdded:
		return true, nil
	case outcomeSkipped:
		return false, nil
	default:
		return false, out.err
	}
}

// ingestBytes ingests one image's raw bytes. path is the filesystem or
// archive-member path; if data is nil it is read from disk (the
// directory-walk case), otherwise it comes from an already-opened
// archive member.
func (ing *Ingester) ingestBytes(ctx context.Context, path string, data []byte) outcome {
	if data == nil {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return outcome{kind: outcomeFailed, err: err}
		}
	}
	bytesRead := int64(len(data))

	storedPath := path
	if ing.Replace != nil {
		storedPath = ing.Replace.Apply(path)
	}

	hash := catalog.HashBytesWith(ing.HashAlgorithm, data)

	if !ing.Overwrite {
		id, err := ing.Catalog.ImageIDForHash(ctx, hash)
		if err != nil {
			return outcome{kind: outcomeFailed, err: err, bytesRead: bytesRead}
		}
		if id != 0 {
			if err := ing.Catalog.AppendPath(ctx, id, storedPath); err != nil {
				return outcome{kind: outcomeFailed, err: err, bytesRead: bytesRead}
			}
			return outcome{kind: outcomeSkipped, err: ierrors.New(ierrors.ErrCodeDuplicateHash, "already catalogued", nil), bytesRead: bytesRead}
		}
	}

	result, err := ing.Pipeline.Extract(ctx, data)
	if err != nil {
		// A too-few-keypoints rejection is not a skip at ingest time
		// (spec §4.3: "else record the image with zero descriptors --
		// still dedupes future ingests"); every other input rejection
		// (decode failure, size/aspect-ratio filter) never reached a
		// decoded image worth cataloguing, so those are genuine skips.
		if ierrors.GetCode(err) != ierrors.ErrCodeTooFewKeypoints {
			if ierrors.GetCategory(err) == ierrors.CategoryInput {
				return outcome{kind: outcomeSkipped, err: err, bytesRead: bytesRead}
			}
			return outcome{kind: outcomeFailed, err: err, bytesRead: bytesRead}
		}
	}

	descriptors := splitDescriptors(result.Descriptors)
	if _, inserted, err := ing.Catalog.UpsertImage(ctx, hash, storedPath, descriptors, ing.Overwrite); err != nil {
		return outcome{kind: outcomeFailed, err: err, bytesRead: bytesRead}
	} else if !inserted && !ing.Overwrite {
		return outcome{kind: outcomeSkipped, err: ierrors.New(ierrors.ErrCodeDuplicateHash, "already catalogued", nil), bytesRead: bytesRead}
	}

	ing.Log.Debug("ingested image", slog.String("path", storedPath), slog.Int("descriptors", len(descriptors)))
	return outcome{kind: outcomeAdded, bytesRead: bytesRead, descriptors: int64(len(descriptors))}
}

func splitDescriptors(blob []byte) [][]byte {
	n := len(blob) / extract.DescriptorSize
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = blob[i*extract.DescriptorSize : (i+1)*extract.DescriptorSize]
	}
	return out
}
