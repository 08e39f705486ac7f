package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lolishinshi/imsearch-go/internal/ierrors"
	"github.com/lolishinshi/imsearch-go/internal/ingest"
	"github.com/lolishinshi/imsearch-go/internal/output"
)

type addOptions struct {
	extensions     []string
	minKeypoints   int
	maxFeatures    int
	maxSize        int
	maxAspectRatio float64
	replace        string
	overwrite      bool
}

// newAddCmd implements `imsearch add DIR|TAR` (spec §6).
func newAddCmd() *cobra.Command {
	var opts addOptions

	c := &cobra.Command{
		Use:   "add DIR|TAR",
		Short: "Ingest images from a directory or tar archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, args[0], opts)
		},
	}

	c.Flags().StringSliceVarP(&opts.extensions, "suffix", "s", nil, "file extensions to ingest (default from config.toml)")
	c.Flags().IntVar(&opts.minKeypoints, "min-keypoints", -1, "reject images with fewer keypoints (-1 = use config default)")
	c.Flags().IntVar(&opts.maxFeatures, "max-features", -1, "cap extracted keypoints (-1 = use config default)")
	c.Flags().IntVar(&opts.maxSize, "max-size", -1, "skip images larger than this in either dimension (-1 = use config default)")
	c.Flags().Float64Var(&opts.maxAspectRatio, "max-aspect-ratio", -1, "skip images whose aspect ratio exceeds this (-1 = use config default)")
	c.Flags().StringVar(&opts.replace, "replace", "", "path normalization rule 'RE=TMPL'")
	c.Flags().BoolVar(&opts.overwrite, "overwrite", false, "replace descriptors for images whose hash already exists")

	return c
}

func runAdd(cmd *cobra.Command, source string, opts addOptions) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if opts.minKeypoints >= 0 {
		e.Config.Extract.MinKeypoints = opts.minKeypoints
	}
	if opts.maxFeatures >= 0 {
		e.Config.Extract.MaxFeatures = opts.maxFeatures
	}
	if opts.maxSize >= 0 {
		e.Config.Extract.MaxSize = opts.maxSize
	}
	if opts.maxAspectRatio >= 0 {
		e.Config.Extract.MaxAspectRatio = opts.maxAspectRatio
	}

	store, err := e.openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	pipeline, err := newPipeline(e.Config)
	if err != nil {
		return err
	}
	defer pipeline.Lib.Close()

	ing := ingest.New(store, pipeline, runtime.NumCPU(), e.Log)
	ing.Overwrite = opts.overwrite
	ing.HashAlgorithm = e.Config.Catalog.HashAlgorithm

	if opts.replace != "" {
		rule, err := ingest.ParseReplaceRule(opts.replace)
		if err != nil {
			return ierrors.New(ierrors.ErrCodeBadRequest, "invalid --replace rule", err)
		}
		ing.Replace = rule
	}

	extensions := opts.extensions
	if len(extensions) == 0 {
		extensions = e.Config.Catalog.Extensions
	}

	out := output.New(cmd.OutOrStdout())
	ctx := cmd.Context()

	var stats ingest.Stats
	if strings.HasSuffix(source, ".tar") {
		f, err := os.Open(source)
		if err != nil {
			return ierrors.Wrap(ierrors.ErrCodeDecodeFailed, err)
		}
		defer f.Close()
		stats, err = ing.RunArchive(ctx, f, extensions)
		if err != nil {
			return err
		}
	} else {
		stats, err = ing.Run(ctx, source, extensions)
		if err != nil {
			return err
		}
	}

	out.Successf("ingested %d images (%d added, %d skipped, %d failed)",
		stats.Scanned, stats.Added, stats.Skipped, stats.Failed)
	for _, fe := range stats.Errors {
		out.Warningf("%s: %s", fe.Path, fe.Err)
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%d images failed to ingest", stats.Failed)
	}
	return nil
}
