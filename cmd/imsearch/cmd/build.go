package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lolishinshi/imsearch-go/internal/build"
	"github.com/lolishinshi/imsearch-go/internal/output"
)

type buildOptions struct {
	onDisk    bool
	noMerge   bool
	mmap      bool
	batchSize int
}

// newBuildCmd implements `imsearch build` (spec §4.4, §6).
func newBuildCmd() *cobra.Command {
	var opts buildOptions

	c := &cobra.Command{
		Use:   "build",
		Short: "Build index segments from unindexed images and merge them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, opts)
		},
	}

	c.Flags().BoolVar(&opts.onDisk, "on-disk", false, "merge into an on-disk inverted-list container")
	c.Flags().BoolVar(&opts.noMerge, "no-merge", false, "leave segments unmerged")
	c.Flags().BoolVar(&opts.mmap, "mmap", false, "accepted but unused: the merged master index is written and loaded the same way with or without it")
	c.Flags().IntVar(&opts.batchSize, "batch-size", 0, "images per segment (0 = use config default)")

	return c
}

func runBuild(cmd *cobra.Command, opts buildOptions) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	store, err := e.openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	segmentSize := e.Config.Build.SegmentSize
	if opts.batchSize > 0 {
		segmentSize = opts.batchSize
	}

	mode := build.MergeInMemory
	switch {
	case opts.noMerge:
		mode = build.MergeNone
	case opts.onDisk:
		mode = build.MergeOnDisk
	}

	builder := build.New(store, e.Layout, e.Log)
	out := output.New(cmd.OutOrStdout())
	builder.OnSegment = func(segmentsBuilt int, vectorsAdded int64) {
		out.Statusf("📦", "segment %d built (%d vectors so far)", segmentsBuilt, vectorsAdded)
	}
	builder.OnMerge = func() {
		out.Status("🔀", "merging segments into master index")
	}

	buildOpts := build.Options{
		SegmentSize: segmentSize,
		NList:       bucketCountFor(e),
		ANNLibrary:  e.Config.Build.ANNLibrary,
		Mode:        mode,
	}

	result, err := builder.Run(cmd.Context(), buildOpts)
	if err != nil {
		return err
	}

	if len(result.SegmentsBuilt) == 0 {
		out.Status("", "nothing to build: no unindexed images")
		return nil
	}
	out.Successf("built %d segment(s), %d vectors added", len(result.SegmentsBuilt), result.VectorsAdded)
	return nil
}

// bucketCountFor returns the coarse-quantizer bucket count configured
// for this config directory (build.nlist, 65536 by default); the
// flat/offline index path ignores it.
func bucketCountFor(e *env) int {
	return e.Config.Build.NList
}
