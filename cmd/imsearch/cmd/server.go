package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lolishinshi/imsearch-go/internal/annindex"
	"github.com/lolishinshi/imsearch-go/internal/build"
	"github.com/lolishinshi/imsearch-go/internal/config"
	"github.com/lolishinshi/imsearch-go/internal/engine"
	"github.com/lolishinshi/imsearch-go/internal/httpapi"
	"github.com/lolishinshi/imsearch-go/internal/ierrors"
	"github.com/lolishinshi/imsearch-go/internal/metrics"
	"github.com/lolishinshi/imsearch-go/internal/search"
)

type serverOptions struct {
	listen string
	noMMap bool
	hnsw   bool
	token  string
}

// newServerCmd implements `imsearch server` (spec §4.6, §6).
func newServerCmd() *cobra.Command {
	var opts serverOptions

	c := &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP search service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, opts)
		},
	}

	c.Flags().StringVar(&opts.listen, "listen", "", "listen address (default from config.toml)")
	c.Flags().BoolVar(&opts.noMMap, "no-mmap", false, "accepted but unused: the master index is opened the same way with or without it")
	c.Flags().BoolVar(&opts.hnsw, "hnsw", false, "accepted but unused: the index keeps the coarse quantizer it was built with")
	c.Flags().StringVar(&opts.token, "token", "", "require this bearer token on every request except /docs")

	return c
}

func runServer(cmd *cobra.Command, opts serverOptions) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if opts.listen != "" {
		e.Config.Server.Listen = opts.listen
	}
	if opts.token != "" {
		e.Config.Server.Token = opts.token
	}
	e.Config.Build.MMap = !opts.noMMap
	e.Config.Build.HNSW = opts.hnsw

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

	buildOpts := build.Options{
		SegmentSize: e.Config.Build.SegmentSize,
		NList:       e.Config.Build.NList,
		ANNLibrary:  e.Config.Build.ANNLibrary,
		Mode:        mergeModeFromConfig(e.Config.Build),
	}

	idx, err := openStartupIndex(cmd.Context(), e, buildOpts)
	if err != nil {
		return err
	}

	m := metrics.New(e.Config.Metrics.Namespace)
	builder := build.New(store, e.Layout, e.Log)

	eng := engine.New(idx, store, pipeline, phashCache, builder, buildOpts, m, e.Log)
	eng.SetHashAlgorithm(e.Config.Catalog.HashAlgorithm)

	srv := httpapi.New(eng, e.Config.Server, e.Log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{Addr: e.Config.Server.Listen, Handler: srv}

	if e.Config.Metrics.PushGatewayURL != "" {
		interval, _ := time.ParseDuration(e.Config.Metrics.PushInterval)
		if interval > 0 {
			pusher := metrics.NewPusher(m, e.Config.Metrics.PushGatewayURL, interval)
			go pusher.Run(ctx)
		}
	}

	go runPhashCacheSaver(ctx, phashCache, e.Layout.PhashCache, e.Log)

	errCh := make(chan error, 1)
	go func() {
		e.Log.Info("server listening", "addr", e.Config.Server.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if err := phashCache.Save(e.Layout.PhashCache); err != nil {
			e.Log.Warn("failed to save phash cache", "error", err)
		}
		return shutdownErr
	case err := <-errCh:
		if saveErr := phashCache.Save(e.Layout.PhashCache); saveErr != nil {
			e.Log.Warn("failed to save phash cache", "error", saveErr)
		}
		return err
	}
}

// runPhashCacheSaver periodically persists the phash LRU to disk so a
// crash (as opposed to a clean shutdown, already handled in runServer)
// loses at most one tick's worth of cache warmth, the same tradeoff
// the metrics pusher makes for its periodic push.
func runPhashCacheSaver(ctx context.Context, cache *search.PhashCache, path string, log *slog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cache.Save(path); err != nil {
				log.Warn("failed to save phash cache", "error", err)
			}
		}
	}
}

func mergeModeFromConfig(cfg config.BuildConfig) build.MergeMode {
	switch {
	case cfg.NoMerge:
		return build.MergeNone
	case cfg.OnDisk:
		return build.MergeOnDisk
	default:
		return build.MergeInMemory
	}
}

// openStartupIndex loads whatever master index representation this
// config directory already has (in-memory master, on-disk master, or
// unmerged segments), or falls back to an empty index when none exists
// yet — the server can still serve /add and /build before a first
// build.
func openStartupIndex(ctx context.Context, e *env, opts build.Options) (annindex.Index, error) {
	if opts.Mode == build.MergeNone {
		paths, err := build.ListSegmentPaths(e.Layout)
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			return annindex.New(opts.ANNLibrary, opts.NList, "")
		}
		return annindex.OpenSegments(ctx, opts.ANNLibrary, opts.NList, paths)
	}

	if _, statErr := os.Stat(e.Layout.MasterIndex); statErr != nil {
		return annindex.New(opts.ANNLibrary, opts.NList, "")
	}

	onDiskPath := ""
	if opts.Mode == build.MergeOnDisk {
		onDiskPath = e.Layout.OnDiskVecs
	}
	idx, err := annindex.New(opts.ANNLibrary, opts.NList, onDiskPath)
	if err != nil {
		return nil, err
	}
	if err := idx.Merge(ctx, e.Layout.MasterIndex); err != nil {
		_ = idx.Close()
		return nil, ierrors.Wrap(ierrors.ErrCodeCorruptIndex, err)
	}
	return idx, nil
}
