// Package build implements segmented index construction (spec §2 C4,
// §4.4): bucket unindexed descriptors from the catalog into fixed-size
// segments, build one IVF segment per chunk, and merge segments into
// the master index according to the configured merge mode.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/lolishinshi/imsearch-go/internal/annindex"
	"github.com/lolishinshi/imsearch-go/internal/catalog"
	"github.com/lolishinshi/imsearch-go/internal/config"
	"github.com/lolishinshi/imsearch-go/internal/ierrors"
)

// MergeMode selects how segments are folded into the master index
// (spec §4.4, Open Question decisions in SPEC_FULL.md).
type MergeMode string

const (
	MergeInMemory MergeMode = "in-memory"
	MergeOnDisk   MergeMode = "on-disk"
	MergeNone     MergeMode = "no-merge"
)

// Options configures one build run.
type Options struct {
	SegmentSize int
	NList       int
	ANNLibrary  string
	OnDiskPath  string
	Mode        MergeMode
}

// Builder orchestrates segment construction and merge. Only one build
// may be in flight process-wide (spec §5); Run acquires a cross-process
// flock on the config directory's build lock to enforce that even
// across separate processes, mirroring the teacher's
// internal/embed/lock.go single-writer discipline.
type Builder struct {
	Catalog *catalog.Store
	Layout  config.Layout
	Log     *slog.Logger

	// OnSegment, if set, is called after each segment is built and
	// marked indexed, letting a caller (internal/engine) drive a
	// progress tracker without Run itself depending on one.
	OnSegment func(segmentsBuilt int, vectorsAdded int64)
	// OnMerge, if set, is called once, just before the newly built
	// segments are merged into the master index.
	OnMerge func()
}

// New constructs a Builder.
func New(store *catalog.Store, layout config.Layout, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{Catalog: store, Layout: layout, Log: log}
}

// Result summarizes one build run.
type Result struct {
	SegmentsBuilt []int
	VectorsAdded  int64
}

// Run builds all segments needed to cover every unindexed descriptor,
// resuming from the highest existing segment number plus one (spec
// I4): a build restarted after a crash only produces the segments
// that are still missing.
func (b *Builder) Run(ctx context.Context, opts Options) (Result, error) {
	if err := b.Layout.EnsureDir(); err != nil {
		return Result{}, ierrors.Wrap(ierrors.ErrCodeCatalogIO, err)
	}

	lockPath := filepath.Join(b.Layout.Root, ".build.lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil || !locked {
		return Result{}, ierrors.New(ierrors.ErrCodeBuildInFlight, "a build is already in progress", err)
	}
	defer func() { _ = fl.Unlock() }()

	if opts.ANNLibrary != "" {
		if _, statErr := os.Stat(b.Layout.Quantizer); statErr != nil {
			return Result{}, ierrors.New(ierrors.ErrCodeQuantizerMissing, "quantizer.bin not found; run train first", statErr)
		}
	}

	highest, err := highestSegment(b.Layout)
	if err != nil {
		return Result{}, err
	}
	nextSegment := highest + 1

	var result Result
	for {
		descriptors, err := b.Catalog.UnindexedDescriptors(ctx, opts.SegmentSize)
		if err != nil {
			return result, err
		}
		if len(descriptors) == 0 {
			break
		}

		segPath := b.Layout.SegmentPath(nextSegment)
		n, imageIDs, err := b.buildSegment(ctx, segPath, descriptors, opts)
		if err != nil {
			return result, ierrors.Wrap(ierrors.ErrCodeSegmentWrite, fmt.Errorf("segment %d: %w", nextSegment, err))
		}

		if err := b.Catalog.MarkIndexed(ctx, imageIDs); err != nil {
			return result, err
		}

		result.SegmentsBuilt = append(result.SegmentsBuilt, nextSegment)
		result.VectorsAdded += int64(n)
		nextSegment++

		if b.OnSegment != nil {
			b.OnSegment(len(result.SegmentsBuilt), result.VectorsAdded)
		}
	}

	if opts.Mode != MergeNone && len(result.SegmentsBuilt) > 0 {
		if b.OnMerge != nil {
			b.OnMerge()
		}
		if err := b.merge(ctx, result.SegmentsBuilt, opts); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (b *Builder) buildSegment(ctx context.Context, path string, descriptors []catalog.Descriptor, opts Options) (int, []int64, error) {
	idx, err := annindex.New(opts.ANNLibrary, opts.NList, "")
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = idx.Close() }()

	var vectors [][]byte
	var ids []int64
	seenImages := make(map[int64]struct{})
	var imageIDs []int64
	for _, d := range descriptors {
		n := len(d.Blob) / annindex.VectorDim
		for k := 0; k < n; k++ {
			vectors = append(vectors, d.Blob[k*annindex.VectorDim:(k+1)*annindex.VectorDim])
			ids = append(ids, d.ImageID)
		}
		if _, ok := seenImages[d.ImageID]; !ok {
			seenImages[d.ImageID] = struct{}{}
			imageIDs = append(imageIDs, d.ImageID)
		}
	}

	if opts.ANNLibrary != "" {
		if err := idx.LoadQuantizer(ctx, b.Layout.Quantizer); err != nil {
			return 0, nil, err
		}
	}
	if err := idx.AddWithIDs(ctx, vectors, ids); err != nil {
		return 0, nil, err
	}
	if err := idx.Write(path); err != nil {
		return 0, nil, err
	}

	b.Log.Info("segment built", slog.String("path", path), slog.Int("vectors", len(vectors)))
	return len(vectors), imageIDs, nil
}

// merge folds newly built segments into the master index sequentially
// via Index.Merge. The master index is opened fresh (or created, on
// the first build) at the layout's master path, reusing any prior
// on-disk vector store in on-disk mode; no-merge leaves segments
// standalone and relies on search fanning out across them in parallel
// (see annindex.MultiIndex). The merged index is written to a temp file
// and renamed into place so a crash mid-write never leaves a
// half-written master index behind. A prior master index, if any, is
// folded in first so repeated builds accumulate rather than replace.
func (b *Builder) merge(ctx context.Context, segments []int, opts Options) error {
	master, err := annindex.New(opts.ANNLibrary, opts.NList, masterDataPath(opts, b.Layout))
	if err != nil {
		return err
	}
	defer func() { _ = master.Close() }()

	if _, statErr := os.Stat(b.Layout.MasterIndex); statErr == nil {
		if err := master.Merge(ctx, b.Layout.MasterIndex); err != nil {
			return ierrors.Wrap(ierrors.ErrCodeMergeFailed, fmt.Errorf("merge existing master: %w", err))
		}
	}

	for _, seg := range segments {
		segPath := b.Layout.SegmentPath(seg)
		if err := master.Merge(ctx, segPath); err != nil {
			return ierrors.Wrap(ierrors.ErrCodeMergeFailed, fmt.Errorf("merge segment %d: %w", seg, err))
		}
	}

	tmpPath := b.Layout.MasterIndex + ".tmp"
	if err := master.Write(tmpPath); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, b.Layout.MasterIndex); err != nil {
		return ierrors.Wrap(ierrors.ErrCodeSegmentWrite, fmt.Errorf("rename master index: %w", err))
	}

	// Segments are unlinked only now that the rename has succeeded
	// (spec §4.4 "Old segments are unlinked only after the rename
	// succeeds"; §3 "Index segment: ... deleted after successful merge
	// into master"). A failure here is logged, not returned: the merge
	// itself already committed, and a leftover segment file is merely
	// inert disk usage, not a correctness problem.
	for _, seg := range segments {
		segPath := b.Layout.SegmentPath(seg)
		if err := os.Remove(segPath); err != nil && !os.IsNotExist(err) {
			b.Log.Warn("failed to remove merged segment", slog.String("path", segPath), slog.Any("error", err))
		}
	}
	return nil
}

func masterDataPath(opts Options, layout config.Layout) string {
	if opts.Mode == MergeOnDisk {
		return layout.OnDiskVecs
	}
	return ""
}
