package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/lolishinshi/imsearch-go/internal/annindex"
	"github.com/lolishinshi/imsearch-go/internal/build"
	"github.com/lolishinshi/imsearch-go/internal/config"
	"github.com/lolishinshi/imsearch-go/internal/ierrors"
	"github.com/lolishinshi/imsearch-go/internal/output"
	"github.com/lolishinshi/imsearch-go/internal/search"
)

type searchOptions struct {
	k              int
	knn            int
	nprobe         int
	efSearch       int
	distance       int32
	phashThreshold int
	scoreByCount   bool
	json           bool
}

// newSearchCmd implements `imsearch search FILE` (spec §4.5, §6).
func newSearchCmd() *cobra.Command {
	var opts searchOptions

	c := &cobra.Command{
		Use:   "search FILE",
		Short: "Search the index for images similar to FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args[0], opts)
		},
	}

	c.Flags().IntVarP(&opts.k, "top", "k", -1, "results to return (-1 = use config default)")
	c.Flags().IntVar(&opts.knn, "knn", -1, "per-descriptor neighbors fetched from the index (-1 = use config default)")
	c.Flags().IntVar(&opts.nprobe, "nprobe", -1, "inverted lists visited per query (-1 = use config default)")
	c.Flags().IntVar(&opts.efSearch, "ef-search", -1, "HNSW coarse quantizer ef_search (-1 = use config default)")
	c.Flags().Int32Var(&opts.distance, "distance", -1, "discard hits at or above this Hamming distance (-1 = use config default)")
	c.Flags().IntVar(&opts.phashThreshold, "phash-threshold", -1, "drop candidates whose perceptual-hash distance exceeds this (-1 = use config default, 0 disables)")
	c.Flags().BoolVar(&opts.scoreByCount, "score-by-count", false, "rank by match count instead of summed weight")
	c.Flags().BoolVar(&opts.json, "json", false, "print results as JSON")

	return c
}

func runSearch(cmd *cobra.Command, path string, opts searchOptions) error {
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

	pipeline, err := newPipeline(e.Config)
	if err != nil {
		return err
	}
	defer pipeline.Lib.Close()

	phashCache, err := search.NewPhashCache(e.Config.Search.PhashCacheSize)
	if err != nil {
		return err
	}
	if err := phashCache.Load(e.Layout.PhashCache); err != nil {
		e.Log.Warn("failed to load phash cache", "error", err)
	}
	defer func() {
		if err := phashCache.Save(e.Layout.PhashCache); err != nil {
			e.Log.Warn("failed to save phash cache", "error", err)
		}
	}()

	idx, err := openSearchIndex(cmd.Context(), e)
	if err != nil {
		return err
	}
	defer idx.Close()

	eng := search.New(idx, store, pipeline, phashCache, nil, e.Log)

	raw, err := os.ReadFile(path)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeDecodeFailed, "cannot read query image", err)
	}

	matches, err := eng.Search(cmd.Context(), raw, mergeSearchOptions(e.Config.Search, opts))
	if err != nil {
		return err
	}

	if opts.json {
		return printSearchJSON(cmd, matches)
	}
	printSearchText(cmd, matches)
	return nil
}

// openSearchIndex opens whatever index representation this config
// directory has on disk: unmerged segments, an on-disk master, or a
// fully in-memory one. Used by the `search` subcommand, which has no
// long-lived engine.State to consult.
func openSearchIndex(ctx context.Context, e *env) (annindex.Index, error) {
	if e.Config.Build.NoMerge {
		paths, err := build.ListSegmentPaths(e.Layout)
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			return nil, ierrors.New(ierrors.ErrCodeQuantizerMissing, "no built segments to search; run `imsearch build` first", nil)
		}
		return annindex.OpenSegments(ctx, e.Config.Build.ANNLibrary, e.Config.Build.NList, paths)
	}

	if _, statErr := os.Stat(e.Layout.MasterIndex); statErr != nil {
		return nil, ierrors.New(ierrors.ErrCodeQuantizerMissing, "no master index to search; run `imsearch build` first", nil)
	}

	onDiskPath := ""
	if e.Config.Build.OnDisk {
		onDiskPath = e.Layout.OnDiskVecs
	}
	idx, err := annindex.New(e.Config.Build.ANNLibrary, e.Config.Build.NList, onDiskPath)
	if err != nil {
		return nil, err
	}
	if err := idx.Merge(ctx, e.Layout.MasterIndex); err != nil {
		_ = idx.Close()
		return nil, ierrors.Wrap(ierrors.ErrCodeCorruptIndex, err)
	}
	return idx, nil
}

// mergeSearchOptions layers CLI flag overrides (-1 sentinel = unset)
// over the config directory's search defaults, the same override
// pattern `add` uses for its extract-config flags.
func mergeSearchOptions(cfg config.SearchConfig, opts searchOptions) search.Options {
	so := search.Options{
		K:              cfg.K,
		KNN:            cfg.KNN,
		NProbe:         cfg.NProbe,
		Distance:       int32(cfg.Distance),
		EFSearch:       cfg.EFSearch,
		ScoreByCount:   cfg.ScoreByCount,
		PhashThreshold: cfg.PhashThreshold,
	}
	if opts.k >= 0 {
		so.K = opts.k
	}
	if opts.knn >= 0 {
		so.KNN = opts.knn
	}
	if opts.nprobe >= 0 {
		so.NProbe = opts.nprobe
	}
	if opts.efSearch >= 0 {
		so.EFSearch = opts.efSearch
	}
	if opts.distance >= 0 {
		so.Distance = opts.distance
	}
	if opts.phashThreshold >= 0 {
		so.PhashThreshold = opts.phashThreshold
	}
	if opts.scoreByCount {
		so.ScoreByCount = true
	}
	return so
}

func printSearchJSON(cmd *cobra.Command, matches []search.Match) error {
	type record struct {
		ImageID int64    `json:"image_id"`
		Score   float64  `json:"score"`
		Matches int      `json:"matches"`
		Paths   []string `json:"paths"`
	}
	out := make([]record, 0, len(matches))
	for _, m := range matches {
		out = append(out, record{ImageID: m.ImageID, Score: m.Score, Matches: m.Count, Paths: m.Paths})
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printSearchText(cmd *cobra.Command, matches []search.Match) {
	out := output.New(cmd.OutOrStdout())
	if len(matches) == 0 {
		out.Status("", "no matches")
		return
	}
	for _, m := range matches {
		path := m.Path
		if len(m.Paths) > 0 {
			path = m.Paths[0]
		}
		out.Statusf("🔎", "image %d  score=%.4f  matches=%d  %s", m.ImageID, m.Score, m.Count, path)
	}
}
