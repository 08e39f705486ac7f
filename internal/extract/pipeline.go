package extract

import (
	"bytes"
	"context"
	"strconv"

	"github.com/lolishinshi/imsearch-go/internal/ierrors"
)

// Pipeline wraps a Library with the decode/filter/extract sequence
// from spec §4.1: decode to grayscale, resize to TargetWidth, reject
// images outside MaxSize/MaxAspectRatio, extract, then reject results
// with fewer than MinKeypoints. A filtered-out image is reported as a
// typed, non-fatal error so callers (ingest, spec §4.3) can skip it
// without aborting a batch.
type Pipeline struct {
	Lib  Library
	Opts Options
}

// NewPipeline builds a Pipeline around lib using opts for every call.
func NewPipeline(lib Library, opts Options) *Pipeline {
	return &Pipeline{Lib: lib, Opts: opts}
}

// Extract runs the full pipeline against raw image bytes.
func (p *Pipeline) Extract(ctx context.Context, raw []byte) (Result, error) {
	gray, width, height, err := DecodeGray(bytes.NewReader(raw), p.Opts.TargetWidth)
	if err != nil {
		return Result{}, ierrors.Wrap(ierrors.ErrCodeDecodeFailed, err)
	}

	if p.Opts.MaxSize > 0 && (width > p.Opts.MaxSize || height > p.Opts.MaxSize) {
		return Result{}, ierrors.New(ierrors.ErrCodeFilteredBySize,
			"image exceeds max size", nil).
			WithDetail("width", strconv.Itoa(width)).WithDetail("height", strconv.Itoa(height))
	}
	if p.Opts.MaxAspectRatio > 0 && AspectRatio(width, height) > p.Opts.MaxAspectRatio {
		return Result{}, ierrors.New(ierrors.ErrCodeFilteredBySize,
			"image aspect ratio exceeds maximum", nil)
	}

	result, err := p.Lib.DetectAndCompute(ctx, gray, width, height, p.Opts)
	if err != nil {
		return Result{}, err
	}

	if len(result.Keypoints) < p.Opts.MinKeypoints {
		return Result{}, ierrors.New(ierrors.ErrCodeTooFewKeypoints,
			"too few keypoints detected", nil).
			WithDetail("found", strconv.Itoa(len(result.Keypoints)))
	}
	return result, nil
}
