package extract

import (
	"context"
)

// stubLibrary is a deterministic, pure-Go Library backing unit tests
// and offline development, mirroring the teacher's StaticEmbedder768:
// it is test/offline infrastructure, not a second production
// extractor. Keypoints and descriptors are derived from pixel
// intensities on a fixed grid so the same image always yields the
// same descriptors, without any dependency on the real ORB library.
type stubLibrary struct {
	grid int
}

// NewStub returns a deterministic Library suitable for tests and
// environments where the native extractor is unavailable.
func NewStub() Library {
	return &stubLibrary{grid: 8}
}

func (s *stubLibrary) DetectAndCompute(ctx context.Context, gray []byte, width, height int, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if width == 0 || height == 0 || len(gray) == 0 {
		return Result{}, nil
	}

	stepX := max(1, width/s.grid)
	stepY := max(1, height/s.grid)

	var result Result
	for y := stepY / 2; y < height; y += stepY {
		for x := stepX / 2; x < width; x += stepX {
			if opts.MaxFeatures > 0 && len(result.Keypoints) >= opts.MaxFeatures {
				break
			}
			result.Keypoints = append(result.Keypoints, Keypoint{
				X: float32(x), Y: float32(y), Size: float32(stepX), Angle: 0,
			})
			result.Descriptors = append(result.Descriptors, descriptorAt(gray, width, height, x, y)...)
		}
	}

	if len(result.Keypoints) < opts.MinKeypoints {
		return Result{}, nil
	}
	return result, nil
}

func (s *stubLibrary) Close() error { return nil }

// descriptorAt derives a 32-byte pseudo-descriptor from the 8x8
// neighborhood around (x, y): each bit compares a sampled pixel
// against the center, the same brightness-comparison shape real BRIEF/
// ORB descriptors use, so stub descriptors retain locality (nearby
// patches produce nearby Hamming distances).
func descriptorAt(gray []byte, width, height, cx, cy int) []byte {
	desc := make([]byte, DescriptorSize)
	center := grayAt(gray, width, cx, cy)

	bit := 0
	for i := 0; i < DescriptorSize; i++ {
		var b byte
		for j := 0; j < 8; j++ {
			dx := (bit*7 + j*13) % 11 - 5
			dy := (bit*11 + j*17) % 11 - 5
			sample := grayAt(gray, width, clamp(cx+dx, 0, width-1), clamp(cy+dy, 0, height-1))
			if sample > center {
				b |= 1 << uint(j)
			}
			bit++
		}
		desc[i] = b
	}
	return desc
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
