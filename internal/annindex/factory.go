package annindex

import (
	"context"
	"os"
)

// New constructs the process's ANN Index. If libPath is set, the
// native engine is dlopened; IMSEARCH_ANN overrides it to "flat" for
// tests and environments without the native library.
func New(libPath string, nlist int, onDiskPath string) (Index, error) {
	if os.Getenv("IMSEARCH_ANN") == "flat" || libPath == "" {
		return NewFlat(nlist), nil
	}
	return OpenNative(libPath, nlist, onDiskPath)
}

// OpenSegments opens each segment file in paths read-only and wraps
// them in a MultiIndex (spec §4.4 "No merge" mode). Each segment is
// loaded into a fresh empty index via Merge, the same entry point the
// builder's merge step uses to fold one segment into another.
func OpenSegments(ctx context.Context, libPath string, nlist int, paths []string) (Index, error) {
	segments := make([]Index, 0, len(paths))
	for _, path := range paths {
		seg, err := New(libPath, nlist, "")
		if err != nil {
			for _, opened := range segments {
				_ = opened.Close()
			}
			return nil, err
		}
		if err := seg.Merge(ctx, path); err != nil {
			_ = seg.Close()
			for _, opened := range segments {
				_ = opened.Close()
			}
			return nil, err
		}
		segments = append(segments, seg)
	}
	return NewMulti(segments), nil
}
