package cmd

import (
	"github.com/lolishinshi/imsearch-go/internal/config"
	"github.com/lolishinshi/imsearch-go/internal/extract"
)

// newPipeline constructs the extraction pipeline (spec §4.1) from the
// loaded config's Extract section, the same options every entry point
// (ingest, search, HTTP) extracts descriptors with.
func newPipeline(cfg config.Config) (*extract.Pipeline, error) {
	lib, err := extract.New(cfg.Extract.LibraryPath)
	if err != nil {
		return nil, err
	}
	opts := extract.Options{
		MaxFeatures:    cfg.Extract.MaxFeatures,
		MinKeypoints:   cfg.Extract.MinKeypoints,
		MaxSize:        cfg.Extract.MaxSize,
		MaxAspectRatio: cfg.Extract.MaxAspectRatio,
		TargetWidth:    cfg.Extract.TargetWidth,
		PyramidScale:   cfg.Extract.PyramidScale,
		PyramidLevels:  cfg.Extract.PyramidLevels,
		FastThreshold:  cfg.Extract.FastThreshold,
	}
	return extract.NewPipeline(lib, opts), nil
}
