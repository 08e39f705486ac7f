// Package config defines the imsearch configuration schema and the
// config-directory layout described in spec §6/§8: config.toml,
// imsearch.db, quantizer.bin, index.bin, index.{n}, phash.cache.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config is the complete imsearch configuration, loaded from
// <dir>/config.toml; no environment variable overrides its fields.
type Config struct {
	Version   int             `toml:"version"`
	Extract   ExtractConfig   `toml:"extract"`
	Build     BuildConfig     `toml:"build"`
	Search    SearchConfig    `toml:"search"`
	Server    ServerConfig    `toml:"server"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Catalog   CatalogConfig   `toml:"catalog"`
}

// ExtractConfig configures the descriptor extractor adapter (C1).
type ExtractConfig struct {
	MaxFeatures     int     `toml:"max_features"`
	MinKeypoints    int     `toml:"min_keypoints"`
	MaxSize         int     `toml:"max_size"`
	MaxAspectRatio  float64 `toml:"max_aspect_ratio"`
	TargetWidth     int     `toml:"target_width"`
	PyramidScale    float64 `toml:"pyramid_scale_factor"`
	PyramidLevels   int     `toml:"pyramid_levels"`
	FastThreshold   int     `toml:"fast_threshold"`
	LibraryPath     string  `toml:"library_path"`
}

// BuildConfig configures the segmented index builder (C4).
type BuildConfig struct {
	SegmentSize int    `toml:"segment_size"`
	OnDisk      bool   `toml:"on_disk"`
	NoMerge     bool   `toml:"no_merge"`
	MMap        bool   `toml:"mmap"`
	HNSW        bool   `toml:"hnsw"`
	ANNLibrary  string `toml:"ann_library_path"`
	// NList is the coarse quantizer's bucket count K (spec §3
	// "K ∈ {65536, 262144, 1048576} typical").
	NList int `toml:"nlist"`
}

// SearchConfig configures default search engine parameters (C5).
type SearchConfig struct {
	K              int     `toml:"k"`
	Distance       int     `toml:"distance"`
	KNN            int     `toml:"knn"`
	NProbe         int     `toml:"nprobe"`
	EFSearch       int     `toml:"ef_search"`
	PhashThreshold int     `toml:"phash_threshold"`
	ScoreByCount   bool    `toml:"score_by_count"`
	PhashCacheSize int     `toml:"phash_cache_size"`
}

// ServerConfig configures the HTTP service (C6).
type ServerConfig struct {
	Listen         string `toml:"listen"`
	Token          string `toml:"token"`
	RequestTimeout string `toml:"request_timeout"`
	CPUPoolSize    int    `toml:"cpu_pool_size"`
}

// MetricsConfig configures Prometheus exposition and push (C7).
type MetricsConfig struct {
	PushGatewayURL string `toml:"push_gateway_url"`
	PushInterval   string `toml:"push_interval"`
	Namespace      string `toml:"namespace"`
}

// CatalogConfig configures the catalog store (C2).
type CatalogConfig struct {
	HashAlgorithm string `toml:"hash_algorithm"` // "blake3" (default) or "sha256"
	Extensions    []string `toml:"extensions"`
	ReplaceRule   string   `toml:"replace_rule"` // "RE=TMPL"
}

// Default returns the built-in defaults, used when config.toml is
// absent and as the base layer that config.toml overrides.
func Default() Config {
	return Config{
		Version: 1,
		Extract: ExtractConfig{
			MinKeypoints:   0,
			MaxSize:        8192,
			MaxAspectRatio: 8.0,
			TargetWidth:    640,
			PyramidScale:   1.2,
			PyramidLevels:  8,
			FastThreshold:  20,
		},
		Build: BuildConfig{
			SegmentSize: 50_000,
			NList:       65536,
		},
		Search: SearchConfig{
			K:              10,
			Distance:       64,
			KNN:            10,
			NProbe:         8,
			EFSearch:       40,
			PhashCacheSize: 100_000,
		},
		Server: ServerConfig{
			Listen:         "127.0.0.1:8080",
			RequestTimeout: "30s",
		},
		Metrics: MetricsConfig{
			Namespace:    "imsearch",
			PushInterval: "15s",
		},
		Catalog: CatalogConfig{
			HashAlgorithm: "blake3",
			Extensions:    []string{"jpg", "jpeg", "png"},
		},
	}
}

// Load reads <dir>/config.toml over the defaults. A missing file is not
// an error; Load then returns Default() unchanged.
func Load(dir string) (Config, error) {
	cfg := Default()

	path := filepath.Join(dir, "config.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config.toml: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config.toml: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to <dir>/config.toml.
func Save(dir string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.toml"), data, 0o644)
}
