// Package extract adapts the external ORB-style keypoint extractor
// (spec §1, §4.1) into a Go interface: decode → grayscale → width-
// normalized resize → detect_and_compute → 256-bit descriptor matrix.
// The extractor library itself is out of scope; this package treats it
// as a capability the way the teacher's embed.Embedder treats neural
// embedding backends.
package extract

import "context"

// DescriptorSize is the fixed binary descriptor width in bytes (256 bits).
const DescriptorSize = 32

// Keypoint is a detected feature location, scale, and orientation.
type Keypoint struct {
	X, Y  float32
	Size  float32
	Angle float32
}

// Options configures a single extraction call (spec §4.1).
type Options struct {
	MaxFeatures    int     // cap keypoints; 0 = extractor default
	MinKeypoints   int     // reject image if fewer keypoints found
	MaxSize        int     // px; skip if either dimension exceeds
	MaxAspectRatio float64 // skip if max(w,h)/min(w,h) exceeds
	TargetWidth    int     // width-normalized resize target
	PyramidScale   float64
	PyramidLevels  int
	FastThreshold  int
}

// Result holds the keypoints and packed n×32 descriptor matrix
// produced by one extraction call. Descriptors is n*32 bytes long.
// An empty Result (n=0) is a valid, non-error outcome (spec §4.1).
type Result struct {
	Keypoints   []Keypoint
	Descriptors []byte
}

// NumDescriptors returns how many 32-byte rows Descriptors holds.
func (r Result) NumDescriptors() int {
	return len(r.Descriptors) / DescriptorSize
}

// Library is the capability set the extractor adapter consumes:
// detect_and_compute(image, mask) -> (keypoints, descriptors), plus
// lifecycle. Callers share one Library instance across every ingest
// worker and search request; the native binding in orb.go guards each
// call with a mutex, so calls into it run one at a time.
type Library interface {
	DetectAndCompute(ctx context.Context, gray []byte, width, height int, opts Options) (Result, error)
	Close() error
}
